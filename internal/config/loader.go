package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".towerbot"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "TOWERBOT"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("TOWERBOT_CONFIG")); explicit != "" {
		if strings.HasPrefix(explicit, "~") {
			home, err := resolveHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(home, explicit[1:]), nil
		}
		return explicit, nil
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("TOWERBOT_HOME")); h != "" {
		if strings.HasPrefix(h, "~") {
			base, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(base, h[1:]), nil
		}
		return h, nil
	}
	return os.UserHomeDir()
}

// Load loads the configuration from file and environment variables.
// Priority: environment > file > defaults.
// Each group is processed with a TOWERBOT_<GROUP> prefix; the tag names also
// resolve un-prefixed (BOT_TOKEN, GROUP_ID, ALLOWED_GROUP_IDS, ...), which keeps
// existing deployment env files working.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	LoadEnvFileCandidates()

	path, err := ConfigPath()
	if err != nil {
		return cfg, nil // Use defaults if we can't find config path
	}

	data, err := loadResolvedConfig(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if err := processEnv(cfg); err != nil {
		return nil, err
	}

	normalize(cfg)
	return cfg, nil
}

func processEnv(cfg *Config) error {
	groups := []struct {
		prefix string
		target any
	}{
		{"APP", &cfg.App},
		{"GATEWAY", &cfg.Gateway},
		{"OAUTH", &cfg.OAuth},
		{"ACCESS", &cfg.Access},
		{"SESSION", &cfg.Session},
		{"DISPATCH", &cfg.Dispatch},
		{"CHANNELS_TELEGRAM", &cfg.Channels.Telegram},
		{"CHANNELS_SLACK", &cfg.Channels.Slack},
		{"CHANNELS_WHATSAPP", &cfg.Channels.WhatsApp},
		{"COMMUNITY", &cfg.Community},
		{"MODEL", &cfg.Model},
		{"ANTHROPIC", &cfg.Providers.Anthropic},
		{"OPENAI", &cfg.Providers.OpenAI},
		{"PROMPTS", &cfg.Prompts},
		{"INGEST", &cfg.Ingest},
		{"TIMELINE", &cfg.Timeline},
		{"TOOLS", &cfg.Tools},
	}
	for _, g := range groups {
		if err := envconfig.Process(EnvPrefix+"_"+g.prefix, g.target); err != nil {
			return fmt.Errorf("env %s_%s: %w", EnvPrefix, g.prefix, err)
		}
	}

	var cmds struct {
		Commands map[string]string `envconfig:"COMMANDS"`
	}
	if err := envconfig.Process(EnvPrefix, &cmds); err != nil {
		return fmt.Errorf("env %s_COMMANDS: %w", EnvPrefix, err)
	}
	if len(cmds.Commands) > 0 {
		cfg.Commands = cmds.Commands
	}

	// Fallbacks for provider keys
	if cfg.Providers.Anthropic.APIKey == "" {
		cfg.Providers.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.Providers.OpenAI.APIKey == "" {
		cfg.Providers.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return nil
}

func normalize(cfg *Config) {
	expandHome := func(p *string) {
		if strings.HasPrefix(*p, "~") {
			if home, err := os.UserHomeDir(); err == nil {
				*p = filepath.Join(home, (*p)[1:])
			}
		}
	}
	expandHome(&cfg.Timeline.Path)
	expandHome(&cfg.Channels.WhatsApp.StorePath)
	expandHome(&cfg.Channels.WhatsApp.QRPath)
	expandHome(&cfg.Prompts.File)

	cfg.App.Env = strings.ToLower(strings.TrimSpace(cfg.App.Env))
	if cfg.App.Env != EnvProd {
		cfg.App.Env = EnvDev
	}
	cfg.Model.Provider = strings.ToLower(strings.TrimSpace(cfg.Model.Provider))

	normalized := make(map[string]string, len(cfg.Commands))
	for prefix, category := range cfg.Commands {
		p := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(prefix), "/"))
		if p == "" {
			continue
		}
		normalized[p] = strings.TrimSpace(category)
	}
	cfg.Commands = normalized

	if cfg.Access.DirectoryTimeout <= 0 {
		cfg.Access.DirectoryTimeout = 5 * time.Second
	}
	if cfg.Dispatch.Workers <= 0 {
		cfg.Dispatch.Workers = 8
	}
	if cfg.Dispatch.QueueSize <= 0 {
		cfg.Dispatch.QueueSize = 100
	}
	if cfg.Session.SweepInterval <= 0 {
		cfg.Session.SweepInterval = 10 * time.Minute
	}
}

// AllowedGroups returns the merged allow-list: the legacy GroupID plus
// AllowedGroupIDs. Entries that are not integral chat IDs are logged and
// skipped; Slack and WhatsApp IDs are accepted verbatim when not numeric-looking.
func (a AccessConfig) AllowedGroups() []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(raw string) {
		for _, part := range strings.Split(raw, ",") {
			id := normalizeGroupID(part)
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	add(a.GroupID)
	for _, g := range a.AllowedGroupIDs {
		add(g)
	}
	return out
}

func normalizeGroupID(raw string) string {
	id := strings.TrimSpace(raw)
	if id == "" {
		return ""
	}
	if strings.HasPrefix(id, "-") || (id[0] >= '0' && id[0] <= '9') {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			slog.Error("Config: invalid group ID", "group_id", id)
			return ""
		}
		return strconv.FormatInt(n, 10)
	}
	return id
}

// Save writes the configuration to the config file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// EnsureDir ensures a directory exists with proper permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func loadResolvedConfig(path string) ([]byte, error) {
	obj, err := loadConfigObject(path, map[string]struct{}{})
	if err != nil {
		return nil, err
	}
	return json.Marshal(obj)
}

func loadConfigObject(path string, visited map[string]struct{}) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if _, seen := visited[absPath]; seen {
		return nil, fmt.Errorf("config include cycle detected at %s", absPath)
	}
	visited[absPath] = struct{}{}
	defer delete(visited, absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}

	merged := map[string]any{}
	if includeRaw, ok := raw["$include"]; ok {
		includeFiles, err := parseIncludes(includeRaw)
		if err != nil {
			return nil, err
		}
		baseDir := filepath.Dir(absPath)
		for _, includePath := range includeFiles {
			resolvedPath := includePath
			if !filepath.IsAbs(includePath) {
				resolvedPath = filepath.Join(baseDir, includePath)
			}
			child, err := loadConfigObject(resolvedPath, visited)
			if err != nil {
				// Wrapped so a missing include is not mistaken for a missing config.
				return nil, fmt.Errorf("include %s: %w", includePath, err)
			}
			deepMerge(merged, child)
		}
	}
	delete(raw, "$include")
	substituteEnvValues(raw)
	deepMerge(merged, raw)
	return merged, nil
}

func parseIncludes(v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, nil
		}
		return []string{t}, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("$include entries must be strings")
			}
			if strings.TrimSpace(s) == "" {
				continue
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("$include must be a string or array of strings")
	}
}

func deepMerge(dst, src map[string]any) {
	for key, val := range src {
		srcMap, srcIsMap := val.(map[string]any)
		if !srcIsMap {
			dst[key] = val
			continue
		}
		dstMap, ok := dst[key].(map[string]any)
		if !ok {
			dstMap = map[string]any{}
			dst[key] = dstMap
		}
		deepMerge(dstMap, srcMap)
	}
}

func substituteEnvValues(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = substituteEnvValues(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = substituteEnvValues(item)
		}
		return t
	case string:
		return envPattern.ReplaceAllStringFunc(t, func(match string) string {
			parts := envPattern.FindStringSubmatch(match)
			if len(parts) != 2 {
				return match
			}
			if value, ok := os.LookupEnv(parts[1]); ok {
				return value
			}
			return match
		})
	default:
		return v
	}
}
