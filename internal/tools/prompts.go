package tools

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/frontiertower/towerbot/internal/command"
)

const basePrompt = "You are TowerBot, the AI resource for Frontier Tower citizens. " +
	"Be concise, friendly and accurate. Only state facts you obtained from your tools or the conversation. " +
	"If you do not know, say so."

// DefaultPrompts returns the built-in system prompt of every category.
func DefaultPrompts() map[command.Category]string {
	return map[command.Category]string{
		command.InformationalQuery: basePrompt + " Answer questions about the building, its amenities, " +
			"events and communities. Use get_tower_info for building facts and get_calendar_events for events.",
		command.ConnectionSearch: basePrompt + " Help the user find people and communities in the tower " +
			"who match their interest. Use get_connections and cite who was mentioned in which context.",
		command.ResourceRequest: basePrompt + " The user is reporting a need or proposing something for the " +
			"building. Acknowledge it, point to the relevant floor, amenity or community, and suggest who to contact.",
		command.Conversation: basePrompt + " You are in a private conversation. You can use every tool. " +
			"Use manage_memory to remember what the user asks you to keep and search_memory to recall it.",
	}
}

type promptFile struct {
	Prompts map[string]string `yaml:"prompts"`
}

// LoadPrompts returns the default prompts overridden by the YAML file at path.
// An empty path returns the defaults.
//
//	prompts:
//	  informational-query: |
//	    You are ...
func LoadPrompts(path string) (map[command.Category]string, error) {
	prompts := DefaultPrompts()
	if path == "" {
		return prompts, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts: %w", err)
	}
	var pf promptFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return nil, fmt.Errorf("parse prompts %s: %w", path, err)
	}
	for name, text := range pf.Prompts {
		c, err := command.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("prompts %s: %w", path, err)
		}
		if text == "" {
			return nil, fmt.Errorf("prompts %s: empty prompt for %s", path, c)
		}
		prompts[c] = text
	}
	return prompts, nil
}
