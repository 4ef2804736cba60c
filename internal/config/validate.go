package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate reports configuration problems that would make the gateway unsafe
// or unable to start. All problems are joined into one error.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Access.AllowedGroups()) == 0 {
		errs = append(errs, errors.New("access: at least one allowed group ID is required (GROUP_ID or ALLOWED_GROUP_IDS)"))
	}
	if c.Access.SoulinkEnabled && strings.TrimSpace(c.Access.SoulinkAdminID) == "" {
		errs = append(errs, errors.New("access: SOULINK_ENABLED requires SOULINK_ADMIN_ID"))
	}
	if c.Access.DirectoryTimeout <= 0 {
		errs = append(errs, errors.New("access: directory timeout must be positive"))
	}
	if len(c.Commands) == 0 {
		errs = append(errs, errors.New("commands: at least one command prefix is required"))
	}

	tg, sl, wa := c.Channels.Telegram, c.Channels.Slack, c.Channels.WhatsApp
	if !tg.Enabled && !sl.Enabled && !wa.Enabled {
		errs = append(errs, errors.New("channels: no channel enabled"))
	}
	if tg.Enabled && strings.TrimSpace(tg.Token) == "" {
		errs = append(errs, errors.New("channels.telegram: BOT_TOKEN is required"))
	}
	if sl.Enabled && (strings.TrimSpace(sl.BotToken) == "" || strings.TrimSpace(sl.AppToken) == "") {
		errs = append(errs, errors.New("channels.slack: SLACK_BOT_TOKEN and SLACK_APP_TOKEN are required"))
	}

	switch c.Model.Provider {
	case "anthropic":
		if c.Providers.Anthropic.APIKey == "" {
			errs = append(errs, errors.New("providers.anthropic: API key is required"))
		}
	case "openai":
		if c.Providers.OpenAI.APIKey == "" {
			errs = append(errs, errors.New("providers.openai: API key is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("model: unknown provider %q", c.Model.Provider))
	}

	if c.Ingest.Enabled {
		if strings.TrimSpace(c.Ingest.KafkaBrokers) == "" || strings.TrimSpace(c.Ingest.Topic) == "" {
			errs = append(errs, errors.New("ingest: KAFKA_BROKERS and KAFKA_EPISODE_TOPIC are required"))
		}
		switch strings.ToUpper(strings.TrimSpace(c.Ingest.SASLMechanism)) {
		case "", "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512":
		default:
			errs = append(errs, fmt.Errorf("ingest: unsupported SASL mechanism %q", c.Ingest.SASLMechanism))
		}
	}
	if c.OAuth.Enabled() && !strings.HasPrefix(strings.TrimSpace(c.Gateway.WebhookURL), "https://") {
		errs = append(errs, errors.New("oauth: login redirect needs an https WEBHOOK_URL"))
	}
	if c.Dispatch.Workers <= 0 {
		errs = append(errs, errors.New("dispatch: workers must be positive"))
	}
	return errors.Join(errs...)
}
