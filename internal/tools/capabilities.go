package tools

import (
	"errors"
	"fmt"

	"github.com/frontiertower/towerbot/internal/command"
)

// Tool names.
const (
	ToolTowerInfo      = "get_tower_info"
	ToolCalendarEvents = "get_calendar_events"
	ToolCommunities    = "get_tower_communities"
	ToolConnections    = "get_connections"
	ToolManageMemory   = "manage_memory"
	ToolSearchMemory   = "search_memory"
)

// commandTools is the static capability table of the command categories.
// The conversation set is derived from it.
var commandTools = map[command.Category][]string{
	command.InformationalQuery: {ToolTowerInfo, ToolCalendarEvents, ToolCommunities},
	command.ConnectionSearch:   {ToolConnections},
	command.ResourceRequest:    {ToolTowerInfo, ToolCommunities},
}

var memoryTools = []string{ToolManageMemory, ToolSearchMemory}

// ErrUnknownCategory is returned by Resolve for a category without an entry.
var ErrUnknownCategory = errors.New("unknown command category")

// CapabilitySet is the tools and system prompt an agent gets for a category.
type CapabilitySet struct {
	Category     command.Category
	ToolNames    []string
	SystemPrompt string
}

// Has reports whether the set includes the named tool.
func (c CapabilitySet) Has(name string) bool {
	for _, n := range c.ToolNames {
		if n == name {
			return true
		}
	}
	return false
}

func (c CapabilitySet) clone() CapabilitySet {
	c.ToolNames = append([]string(nil), c.ToolNames...)
	return c
}

// Catalog maps every category to its capability set. It is built once and
// never changes afterwards.
type Catalog struct {
	sets map[command.Category]CapabilitySet
}

// NewCatalog builds the standard catalog with the given prompts. The
// conversation set carries the union of the command sets plus memory tools.
func NewCatalog(prompts map[command.Category]string) *Catalog {
	var sets []CapabilitySet
	var union []string
	seen := map[string]bool{}
	for _, cat := range command.All() {
		names, ok := commandTools[cat]
		if !ok {
			continue
		}
		sets = append(sets, CapabilitySet{Category: cat, ToolNames: names, SystemPrompt: prompts[cat]})
		for _, n := range names {
			if !seen[n] {
				seen[n] = true
				union = append(union, n)
			}
		}
	}
	union = append(union, memoryTools...)
	sets = append(sets, CapabilitySet{Category: command.Conversation, ToolNames: union, SystemPrompt: prompts[command.Conversation]})
	return NewCatalogFromSets(sets...)
}

// NewCatalogFromSets builds a catalog from explicit entries. Later entries
// for the same category replace earlier ones; Validate reports the result.
func NewCatalogFromSets(sets ...CapabilitySet) *Catalog {
	c := &Catalog{sets: make(map[command.Category]CapabilitySet, len(sets))}
	for _, s := range sets {
		c.sets[s.Category] = s.clone()
	}
	return c
}

// Resolve returns the capability set of cat.
func (c *Catalog) Resolve(cat command.Category) (CapabilitySet, error) {
	s, ok := c.sets[cat]
	if !ok {
		return CapabilitySet{}, fmt.Errorf("%w: %q", ErrUnknownCategory, cat)
	}
	return s.clone(), nil
}

// Validate checks the catalog against the category enumeration and the tool
// registry. The gateway refuses to start when it fails.
func (c *Catalog) Validate(reg *Registry) error {
	var errs []error
	for cat := range c.sets {
		if !cat.Valid() {
			errs = append(errs, fmt.Errorf("catalog: entry for unknown category %q", cat))
		}
	}
	for _, cat := range command.All() {
		s, ok := c.sets[cat]
		if !ok {
			errs = append(errs, fmt.Errorf("catalog: no entry for %s", cat))
			continue
		}
		if s.SystemPrompt == "" {
			errs = append(errs, fmt.Errorf("catalog: %s has no system prompt", cat))
		}
		dup := map[string]bool{}
		for _, n := range s.ToolNames {
			if dup[n] {
				errs = append(errs, fmt.Errorf("catalog: %s lists %s twice", cat, n))
			}
			dup[n] = true
			if reg != nil {
				if _, ok := reg.Get(n); !ok {
					errs = append(errs, fmt.Errorf("catalog: %s uses unregistered tool %s", cat, n))
				}
			}
		}
	}

	conv, ok := c.sets[command.Conversation]
	if ok {
		for _, cat := range command.All() {
			if cat == command.Conversation {
				continue
			}
			for _, n := range c.sets[cat].ToolNames {
				if !conv.Has(n) {
					errs = append(errs, fmt.Errorf("catalog: %s tool %s missing from %s", cat, n, command.Conversation))
				}
			}
		}
	}
	return errors.Join(errs...)
}
