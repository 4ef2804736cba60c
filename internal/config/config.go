// Package config provides configuration types and loading for towerbot.
package config

import (
	"strings"
	"time"
)

// Config is the root configuration struct.
// Top-level groups: App, Gateway, OAuth, Access, Session, Commands, Dispatch,
// Channels, Community, Model, Providers, Prompts, Ingest, Timeline, Tools.
type Config struct {
	App       AppConfig         `json:"app"`
	Gateway   GatewayConfig     `json:"gateway"`
	OAuth     OAuthConfig       `json:"oauth"`
	Access    AccessConfig      `json:"access"`
	Session   SessionConfig     `json:"session"`
	Commands  map[string]string `json:"commands"`
	Dispatch  DispatchConfig    `json:"dispatch"`
	Channels  ChannelsConfig    `json:"channels"`
	Community CommunityConfig   `json:"community"`
	Model     ModelConfig       `json:"model"`
	Providers ProvidersConfig   `json:"providers"`
	Prompts   PromptsConfig     `json:"prompts"`
	Ingest    IngestConfig      `json:"ingest"`
	Timeline  TimelineConfig    `json:"timeline"`
	Tools     ToolsConfig       `json:"tools"`
}

// ---------------------------------------------------------------------------
// App – process environment
// ---------------------------------------------------------------------------

const (
	EnvDev  = "dev"
	EnvProd = "prod"
)

// AppConfig holds process-wide settings.
type AppConfig struct {
	Env       string `json:"env" envconfig:"APP_ENV"`
	LogLevel  string `json:"logLevel" envconfig:"LOG_LEVEL"`
	LogFormat string `json:"logFormat" envconfig:"LOG_FORMAT"` // "text" or "json"
}

// IsProd reports whether user identifiers and message bodies must be redacted in logs.
func (a AppConfig) IsProd() bool { return a.Env == EnvProd }

// ---------------------------------------------------------------------------
// Gateway – HTTP server networking
// ---------------------------------------------------------------------------

// GatewayConfig contains webhook server settings.
type GatewayConfig struct {
	Host          string `json:"host" envconfig:"HOST"`
	Port          int    `json:"port" envconfig:"PORT"`
	WebhookURL    string `json:"webhookUrl" envconfig:"WEBHOOK_URL"`
	WebhookSecret string `json:"webhookSecret" envconfig:"WEBHOOK_SECRET"`
	// APIKeys are the Bearer tokens accepted by the graph REST endpoints.
	// The endpoints are not mounted when empty.
	APIKeys []string `json:"apiKeys" envconfig:"GRAPH_API_KEYS"`
}

// OAuthConfig enables the /login command. Both fields are required.
type OAuthConfig struct {
	BaseURL  string `json:"baseUrl" envconfig:"OAUTH_BASE_URL"`
	ClientID string `json:"clientId" envconfig:"OAUTH_CLIENT_ID"`
}

// Enabled reports whether /login can issue links.
func (o OAuthConfig) Enabled() bool {
	return strings.TrimSpace(o.BaseURL) != "" && strings.TrimSpace(o.ClientID) != ""
}

// ---------------------------------------------------------------------------
// Access – authorization policy
// ---------------------------------------------------------------------------

// AccessConfig configures the three-tier authorization policy.
type AccessConfig struct {
	// GroupID is the legacy single community group; merged into AllowedGroupIDs.
	GroupID          string        `json:"groupId" envconfig:"GROUP_ID"`
	AllowedGroupIDs  []string      `json:"allowedGroupIds" envconfig:"ALLOWED_GROUP_IDS"`
	SoulinkEnabled   bool          `json:"soulinkEnabled" envconfig:"SOULINK_ENABLED"`
	SoulinkAdminID   string        `json:"soulinkAdminId" envconfig:"SOULINK_ADMIN_ID"`
	// SoulinkGroupIDs are extra groups probed when computing the admin's memberships.
	SoulinkGroupIDs  []string      `json:"soulinkGroupIds" envconfig:"SOULINK_GROUP_IDS"`
	DirectoryTimeout time.Duration `json:"directoryTimeout" envconfig:"DIRECTORY_TIMEOUT"`
}

// ---------------------------------------------------------------------------
// Session – conversation continuity
// ---------------------------------------------------------------------------

// SessionConfig controls session maintenance. The TTL itself is fixed.
type SessionConfig struct {
	SweepInterval time.Duration `json:"sweepInterval" envconfig:"SWEEP_INTERVAL"`
}

// ---------------------------------------------------------------------------
// Dispatch – request pipeline
// ---------------------------------------------------------------------------

// DispatchConfig controls the dispatcher worker pool and collaborator deadlines.
type DispatchConfig struct {
	Workers       int           `json:"workers" envconfig:"WORKERS"`
	QueueSize     int           `json:"queueSize" envconfig:"QUEUE_SIZE"`
	InvokeTimeout time.Duration `json:"invokeTimeout" envconfig:"INVOKE_TIMEOUT"`
	IngestTimeout time.Duration `json:"ingestTimeout" envconfig:"INGEST_TIMEOUT"`
	// DrainTimeout bounds how long queued messages keep processing after shutdown starts.
	DrainTimeout time.Duration `json:"drainTimeout" envconfig:"DRAIN_TIMEOUT"`
}

// ---------------------------------------------------------------------------
// Channels – messaging integrations
// ---------------------------------------------------------------------------

// ChannelsConfig contains all channel configurations.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Slack    SlackConfig    `json:"slack"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
}

// TelegramConfig configures the Telegram channel.
type TelegramConfig struct {
	Enabled     bool   `json:"enabled" envconfig:"TELEGRAM_ENABLED"`
	Token       string `json:"token" envconfig:"BOT_TOKEN"`
	BotUsername string `json:"botUsername" envconfig:"BOT_USERNAME"`
	APIBase     string `json:"apiBase" envconfig:"TELEGRAM_API_BASE"`
}

// SlackConfig configures the Slack channel (socket mode).
type SlackConfig struct {
	Enabled   bool   `json:"enabled" envconfig:"SLACK_ENABLED"`
	BotToken  string `json:"botToken" envconfig:"SLACK_BOT_TOKEN"`
	AppToken  string `json:"appToken" envconfig:"SLACK_APP_TOKEN"`
	BotUserID string `json:"botUserId" envconfig:"SLACK_BOT_USER_ID"`
	APIBase   string `json:"apiBase" envconfig:"SLACK_API_BASE"`
}

// WhatsAppConfig configures the WhatsApp channel.
type WhatsAppConfig struct {
	Enabled   bool   `json:"enabled" envconfig:"WHATSAPP_ENABLED"`
	StorePath string `json:"storePath" envconfig:"WHATSAPP_STORE_PATH"`
	QRPath    string `json:"qrPath" envconfig:"WHATSAPP_QR_PATH"`
}

// ---------------------------------------------------------------------------
// Community – external membership validation
// ---------------------------------------------------------------------------

// CommunityConfig points at the community membership service.
type CommunityConfig struct {
	BaseURL  string `json:"baseUrl" envconfig:"BERLINHOUSE_BASE_URL"`
	APIKey   string `json:"apiKey" envconfig:"BERLINHOUSE_API_KEY"`
	Email    string `json:"email" envconfig:"BERLINHOUSE_EMAIL"`
	Password string `json:"password" envconfig:"BERLINHOUSE_PASSWORD"`
	JoinURL  string `json:"joinUrl" envconfig:"COMMUNITY_JOIN_URL"`
}

// ---------------------------------------------------------------------------
// Model / Providers – agent invocation
// ---------------------------------------------------------------------------

// ModelConfig groups LLM model and agent-loop settings.
type ModelConfig struct {
	Provider          string  `json:"provider" envconfig:"PROVIDER"` // "anthropic" or "openai"
	Name              string  `json:"name" envconfig:"MODEL"`
	MaxTokens         int     `json:"maxTokens" envconfig:"MAX_TOKENS"`
	Temperature       float64 `json:"temperature" envconfig:"TEMPERATURE"`
	MaxToolIterations int     `json:"maxToolIterations" envconfig:"MAX_TOOL_ITERATIONS"`
	HistoryTurns      int     `json:"historyTurns" envconfig:"HISTORY_TURNS"`
}

// ProvidersConfig contains LLM provider configurations.
type ProvidersConfig struct {
	Anthropic ProviderConfig `json:"anthropic"`
	OpenAI    ProviderConfig `json:"openai"`
}

// ProviderConfig contains settings for a single LLM provider.
type ProviderConfig struct {
	APIKey  string `json:"apiKey" envconfig:"API_KEY"`
	APIBase string `json:"apiBase,omitempty" envconfig:"API_BASE"`
}

// PromptsConfig locates the optional YAML file overriding per-category system prompts.
type PromptsConfig struct {
	File string `json:"file" envconfig:"PROMPTS_FILE"`
}

// ---------------------------------------------------------------------------
// Ingest – knowledge graph episodes via Kafka
// ---------------------------------------------------------------------------

// IngestConfig configures the Kafka episode writer.
type IngestConfig struct {
	Enabled       bool   `json:"enabled" envconfig:"INGEST_ENABLED"`
	KafkaBrokers  string `json:"kafkaBrokers" envconfig:"KAFKA_BROKERS"`
	Topic         string `json:"topic" envconfig:"KAFKA_EPISODE_TOPIC"`
	SASLMechanism string `json:"saslMechanism" envconfig:"KAFKA_SASL_MECHANISM"` // PLAIN|SCRAM-SHA-256|SCRAM-SHA-512
	SASLUsername  string `json:"saslUsername" envconfig:"KAFKA_SASL_USERNAME"`
	SASLPassword  string `json:"saslPassword" envconfig:"KAFKA_SASL_PASSWORD"`
	TLS           bool   `json:"tls" envconfig:"KAFKA_TLS"`
	SearchURL     string `json:"searchUrl" envconfig:"GRAPH_SEARCH_URL"`
}

// ---------------------------------------------------------------------------
// Timeline – sqlite audit log and memories
// ---------------------------------------------------------------------------

// TimelineConfig locates the sqlite audit database.
type TimelineConfig struct {
	Path string `json:"path" envconfig:"TIMELINE_PATH"`
}

// ---------------------------------------------------------------------------
// Tools – agent capability backends
// ---------------------------------------------------------------------------

// ToolsConfig contains tool-specific settings.
type ToolsConfig struct {
	TowerInfoPath  string        `json:"towerInfoPath" envconfig:"TOWER_INFO_PATH"`
	CalendarURL    string        `json:"calendarUrl" envconfig:"CALENDAR_URL"`
	CommunitiesURL string        `json:"communitiesUrl" envconfig:"COMMUNITIES_URL"`
	HTTPTimeout    time.Duration `json:"httpTimeout" envconfig:"TOOLS_HTTP_TIMEOUT"`
}

// DefaultCommands maps command prefixes (without the slash) to command categories.
func DefaultCommands() map[string]string {
	return map[string]string{
		"ask":     "informational-query",
		"connect": "connection-search",
		"request": "resource-request",
	}
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:       EnvDev,
			LogLevel:  "info",
			LogFormat: "text",
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 3000,
		},
		Access: AccessConfig{
			DirectoryTimeout: 5 * time.Second,
		},
		Session: SessionConfig{
			SweepInterval: 10 * time.Minute,
		},
		Commands: DefaultCommands(),
		Dispatch: DispatchConfig{
			Workers:       8,
			QueueSize:     100,
			InvokeTimeout: 2 * time.Minute,
			IngestTimeout: 30 * time.Second,
			DrainTimeout:  30 * time.Second,
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled: true,
				APIBase: "https://api.telegram.org",
			},
			Slack: SlackConfig{
				APIBase: "https://slack.com/api",
			},
			WhatsApp: WhatsAppConfig{
				StorePath: "~/.towerbot/whatsapp.db",
				QRPath:    "~/.towerbot/whatsapp-qr.png",
			},
		},
		Community: CommunityConfig{
			BaseURL: "https://api.berlinhouse.com",
			JoinURL: "https://frontiertower.io",
		},
		Model: ModelConfig{
			Provider:          "anthropic",
			Name:              "claude-sonnet-4-5",
			MaxTokens:         4096,
			Temperature:       0.3,
			MaxToolIterations: 8,
			HistoryTurns:      20,
		},
		Ingest: IngestConfig{
			KafkaBrokers: "localhost:9092",
			Topic:        "towerbot.episodes",
		},
		Timeline: TimelineConfig{
			Path: "~/.towerbot/timeline.db",
		},
		Tools: ToolsConfig{
			TowerInfoPath:  "static/json/tower.json",
			CalendarURL:    "https://api.lu.ma/calendar/get-items?calendar_api_id=cal-Sl7q1nHTRXQzjP2&period=future",
			CommunitiesURL: "https://api.berlinhouse.com/communities/",
			HTTPTimeout:    15 * time.Second,
		},
	}
}
