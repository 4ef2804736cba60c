package provider

import (
	"fmt"
	"strings"

	"github.com/frontiertower/towerbot/internal/config"
)

// providerAliases maps common aliases to canonical provider IDs.
var providerAliases = map[string]string{
	"claude": "anthropic",
	"gpt":    "openai",
}

// NormalizeProviderID resolves aliases and normalizes the provider ID.
func NormalizeProviderID(id string) string {
	lower := strings.ToLower(strings.TrimSpace(id))
	if canonical, ok := providerAliases[lower]; ok {
		return canonical
	}
	return lower
}

// ParseModelString splits a "provider/model" string into provider ID and model name.
func ParseModelString(s string) (providerID, modelName string) {
	s = strings.TrimSpace(s)
	parts := strings.SplitN(s, "/", 2)
	if len(parts) < 2 {
		return "", s
	}
	return strings.ToLower(parts[0]), parts[1]
}

// Resolve creates the LLMProvider selected by cfg.Model. A "provider/model"
// model name overrides cfg.Model.Provider.
func Resolve(cfg *config.Config) (LLMProvider, error) {
	provID, model := ParseModelString(cfg.Model.Name)
	if provID == "" {
		provID = cfg.Model.Provider
	}
	switch NormalizeProviderID(provID) {
	case "anthropic":
		pc := cfg.Providers.Anthropic
		if pc.APIKey == "" {
			return nil, fmt.Errorf("anthropic: no API key configured")
		}
		return NewAnthropicProvider(pc.APIKey, pc.APIBase, model), nil
	case "openai":
		pc := cfg.Providers.OpenAI
		if pc.APIKey == "" {
			return nil, fmt.Errorf("openai: no API key configured")
		}
		return NewOpenAIProvider(pc.APIKey, pc.APIBase, model), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", provID)
	}
}
