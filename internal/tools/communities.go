package tools

import (
	"context"
	"encoding/json"
)

// CommunityLister returns the tower's community listing.
type CommunityLister interface {
	Communities(ctx context.Context) (json.RawMessage, error)
}

// CommunitiesTool lists the tower communities.
type CommunitiesTool struct {
	src CommunityLister
}

func NewCommunitiesTool(src CommunityLister) *CommunitiesTool {
	return &CommunitiesTool{src: src}
}

func (t *CommunitiesTool) Name() string { return ToolCommunities }
func (t *CommunitiesTool) Description() string {
	return "Fetch all communities of the tower with their descriptions and contacts."
}

func (t *CommunitiesTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *CommunitiesTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	raw, err := t.src.Communities(ctx)
	if err != nil {
		return "", err
	}
	return truncate(string(raw), 16000), nil
}
