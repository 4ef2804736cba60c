// Package command defines the closed set of request categories and the
// slash-command prefix table that maps onto them.
package command

import (
	"fmt"
	"sort"
	"strings"
)

// Category selects the capability set a request is routed to.
type Category string

const (
	InformationalQuery Category = "informational-query"
	ConnectionSearch   Category = "connection-search"
	ResourceRequest    Category = "resource-request"
	Conversation       Category = "freeform-conversation"

	// Unclassified messages are dropped before authorization.
	Unclassified Category = "unclassified"
)

// All returns every routable category. Unclassified is not part of the set.
func All() []Category {
	return []Category{InformationalQuery, ConnectionSearch, ResourceRequest, Conversation}
}

// Valid reports whether c is one of All().
func (c Category) Valid() bool {
	for _, known := range All() {
		if c == known {
			return true
		}
	}
	return false
}

// IsCommand reports whether c is reached through a slash command.
func (c Category) IsCommand() bool {
	return c.Valid() && c != Conversation
}

func (c Category) String() string { return string(c) }

// Parse converts a configured category name.
func Parse(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return Unclassified, fmt.Errorf("unknown command category %q", s)
	}
	return c, nil
}

// Built-in control commands handled by the dispatcher itself.
const (
	Start = "start"
	Help  = "help"
	Reset = "reset"
	Login = "login"
)

// IsBuiltin reports whether name is a control command.
func IsBuiltin(name string) bool {
	switch name {
	case Start, Help, Reset, Login:
		return true
	}
	return false
}

// Prefixes maps lowercase command names (without the slash) to categories.
type Prefixes map[string]Category

// NewPrefixes validates a configured prefix table. Every target must be a
// command category and no name may shadow a built-in.
func NewPrefixes(raw map[string]string) (Prefixes, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("no command prefixes configured")
	}
	out := make(Prefixes, len(raw))
	for name, target := range raw {
		n := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "/"))
		if n == "" || strings.ContainsAny(n, " @") {
			return nil, fmt.Errorf("invalid command name %q", name)
		}
		if IsBuiltin(n) {
			return nil, fmt.Errorf("command /%s is reserved", n)
		}
		c, err := Parse(target)
		if err != nil {
			return nil, fmt.Errorf("command /%s: %w", n, err)
		}
		if !c.IsCommand() {
			return nil, fmt.Errorf("command /%s: %s cannot be reached by a command", n, c)
		}
		out[n] = c
	}
	return out, nil
}

// Lookup returns the category for a command name.
func (p Prefixes) Lookup(name string) (Category, bool) {
	c, ok := p[strings.ToLower(name)]
	return c, ok
}

// Names returns the configured command names, sorted.
func (p Prefixes) Names() []string {
	names := make([]string, 0, len(p))
	for n := range p {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var examples = map[string]string{
	"ask":     "what's the wifi password?",
	"connect": "who can help me learn more about biotech?",
	"request": "we need more toilet paper on the 9th floor",
	"report":  "we need more toilet paper on the 9th floor",
	"propose": "let's organize a community bbq on the rooftop",
}

// Example returns a sample argument for the usage hint of a command.
func Example(name string) string {
	if ex, ok := examples[name]; ok {
		return ex
	}
	return "what's the wifi password?"
}
