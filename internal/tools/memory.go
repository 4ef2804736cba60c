package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/frontiertower/towerbot/internal/timeline"
)

// MemoryStore keeps per-user memories.
type MemoryStore interface {
	AddMemory(ctx context.Context, userID, content string) (string, error)
	UpdateMemory(ctx context.Context, userID, id, content string) error
	DeleteMemory(ctx context.Context, userID, id string) error
	SearchMemories(ctx context.Context, userID, query string, limit int) ([]timeline.MemoryRecord, error)
}

// ManageMemoryTool creates, updates and deletes the caller's memories.
type ManageMemoryTool struct {
	store MemoryStore
}

func NewManageMemoryTool(store MemoryStore) *ManageMemoryTool {
	return &ManageMemoryTool{store: store}
}

func (t *ManageMemoryTool) Name() string { return ToolManageMemory }
func (t *ManageMemoryTool) Description() string {
	return "Create, update or delete a long-term memory about the user. Use it when the user shares preferences or asks you to remember something."
}

func (t *ManageMemoryTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type":        "string",
				"enum":        []string{"create", "update", "delete"},
				"description": "What to do (default: create)",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "The information to remember (create, update)",
			},
			"id": map[string]any{
				"type":        "string",
				"description": "Memory id (update, delete)",
			},
		},
	}
}

func (t *ManageMemoryTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	userID := UserIDFromContext(ctx)
	if userID == "" {
		return "Error: memories are only available in a user conversation", nil
	}
	action := GetString(params, "action", "create")
	content := strings.TrimSpace(GetString(params, "content", ""))
	id := GetString(params, "id", "")

	switch action {
	case "create":
		if content == "" {
			return "Error: content is required", nil
		}
		newID, err := t.store.AddMemory(ctx, userID, content)
		if err != nil {
			return "", fmt.Errorf("store memory: %w", err)
		}
		return fmt.Sprintf("Remembered: %q (id: %s)", truncate(content, 80), newID), nil
	case "update":
		if id == "" || content == "" {
			return "Error: id and content are required", nil
		}
		if err := t.store.UpdateMemory(ctx, userID, id, content); err != nil {
			return fmt.Sprintf("Error updating memory: %v", err), nil
		}
		return fmt.Sprintf("Updated memory %s", id), nil
	case "delete":
		if id == "" {
			return "Error: id is required", nil
		}
		if err := t.store.DeleteMemory(ctx, userID, id); err != nil {
			return fmt.Sprintf("Error deleting memory: %v", err), nil
		}
		return fmt.Sprintf("Deleted memory %s", id), nil
	default:
		return fmt.Sprintf("Error: unknown action %q", action), nil
	}
}

// SearchMemoryTool searches the caller's memories.
type SearchMemoryTool struct {
	store MemoryStore
}

func NewSearchMemoryTool(store MemoryStore) *SearchMemoryTool {
	return &SearchMemoryTool{store: store}
}

func (t *SearchMemoryTool) Name() string { return ToolSearchMemory }
func (t *SearchMemoryTool) Description() string {
	return "Search long-term memories about the user for information relevant to a query."
}

func (t *SearchMemoryTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query to find relevant memories",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of results (default: 5)",
			},
		},
		"required": []string{"query"},
	}
}

func (t *SearchMemoryTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	userID := UserIDFromContext(ctx)
	if userID == "" {
		return "Error: memories are only available in a user conversation", nil
	}
	query := GetString(params, "query", "")
	limit := GetInt(params, "limit", 5)

	mems, err := t.store.SearchMemories(ctx, userID, query, limit)
	if err != nil {
		return fmt.Sprintf("Error searching memory: %v", err), nil
	}
	if len(mems) == 0 {
		return "No relevant memories found.", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d relevant memories:\n\n", len(mems)))
	for i, m := range mems {
		sb.WriteString(fmt.Sprintf("%d. [id=%s, %s] %s\n", i+1, m.ID, m.UpdatedAt.Format("2006-01-02"), m.Content))
	}
	return sb.String(), nil
}
