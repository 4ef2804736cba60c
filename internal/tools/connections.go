package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// GraphSearcher searches the knowledge graph built from group conversations.
type GraphSearcher interface {
	Search(ctx context.Context, query string, limit int, nodeLabels, edgeTypes []string) (json.RawMessage, error)
}

// ConnectionsTool finds people and topics related to a query.
type ConnectionsTool struct {
	graph GraphSearcher
}

func NewConnectionsTool(graph GraphSearcher) *ConnectionsTool {
	return &ConnectionsTool{graph: graph}
}

func (t *ConnectionsTool) Name() string { return ToolConnections }
func (t *ConnectionsTool) Description() string {
	return "Search the community knowledge graph for connection opportunities: people, groups and topics related to a query, with the messages they came from."
}

func (t *ConnectionsTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "What the user is looking for, e.g. 'biotech founders'",
			},
			"node_labels": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Optional node labels to restrict the search to, e.g. Person, Community",
			},
			"edge_types": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Optional relationship types to restrict the search to",
			},
		},
		"required": []string{"query"},
	}
}

func (t *ConnectionsTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	query := GetString(params, "query", "")
	if query == "" {
		return "Error: query is required", nil
	}
	res, err := t.graph.Search(ctx, query, 10, GetStrings(params, "node_labels"), GetStrings(params, "edge_types"))
	if err != nil {
		return "", fmt.Errorf("graph search: %w", err)
	}
	if len(res) == 0 || string(res) == "null" || string(res) == "[]" {
		return "No connections found.", nil
	}
	return truncate(string(res), 16000), nil
}
