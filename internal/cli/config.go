package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/frontiertower/towerbot/internal/command"
	"github.com/frontiertower/towerbot/internal/config"
	"github.com/frontiertower/towerbot/internal/tools"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect TowerBot configuration",
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the effective configuration",
	RunE:  runConfigCheck,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		out, _ := json.MarshalIndent(maskSecrets(*cfg), "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configCheckCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

type checkResult struct {
	name string
	err  error
}

func runConfigCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var checks []checkResult
	checks = append(checks, checkResult{"settings", cfg.Validate()})
	_, err = command.NewPrefixes(cfg.Commands)
	checks = append(checks, checkResult{"commands", err})
	prompts, err := tools.LoadPrompts(cfg.Prompts.File)
	if err == nil {
		err = tools.NewCatalog(prompts).Validate(nil)
	}
	checks = append(checks, checkResult{"capabilities", err})

	failures := 0
	w := cmd.OutOrStdout()
	for _, c := range checks {
		if c.err == nil {
			fmt.Fprintf(w, "[%s] %s\n", color.GreenString("PASS"), c.name)
			continue
		}
		failures++
		fmt.Fprintf(w, "[%s] %s\n", color.RedString("FAIL"), c.name)
		for _, line := range strings.Split(c.err.Error(), "\n") {
			fmt.Fprintf(w, "       %s\n", line)
		}
	}
	fmt.Fprintf(w, "Allowed groups: %s\n", strings.Join(cfg.Access.AllowedGroups(), ", "))
	if failures > 0 {
		return fmt.Errorf("config check found %d failing check(s)", failures)
	}
	return nil
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + "****" + s[len(s)-2:]
}

func maskSecrets(cfg config.Config) config.Config {
	cfg.Gateway.WebhookSecret = mask(cfg.Gateway.WebhookSecret)
	cfg.Channels.Telegram.Token = mask(cfg.Channels.Telegram.Token)
	cfg.Channels.Slack.BotToken = mask(cfg.Channels.Slack.BotToken)
	cfg.Channels.Slack.AppToken = mask(cfg.Channels.Slack.AppToken)
	cfg.Community.APIKey = mask(cfg.Community.APIKey)
	cfg.Community.Password = mask(cfg.Community.Password)
	cfg.Providers.Anthropic.APIKey = mask(cfg.Providers.Anthropic.APIKey)
	cfg.Providers.OpenAI.APIKey = mask(cfg.Providers.OpenAI.APIKey)
	cfg.Ingest.SASLPassword = mask(cfg.Ingest.SASLPassword)
	keys := make([]string, len(cfg.Gateway.APIKeys))
	for i, k := range cfg.Gateway.APIKeys {
		keys[i] = mask(k)
	}
	cfg.Gateway.APIKeys = keys
	return cfg
}
