package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// TowerInfoTool returns the static building information document.
type TowerInfoTool struct {
	path string
}

func NewTowerInfoTool(path string) *TowerInfoTool {
	return &TowerInfoTool{path: path}
}

func (t *TowerInfoTool) Name() string { return ToolTowerInfo }
func (t *TowerInfoTool) Description() string {
	return "Retrieve detailed information about the Frontier Tower building: amenities, facilities, floors and other details."
}

func (t *TowerInfoTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *TowerInfoTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	raw, err := os.ReadFile(t.path)
	if err != nil {
		return "", fmt.Errorf("read tower info: %w", err)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", fmt.Errorf("tower info %s: invalid JSON: %w", t.path, err)
	}
	return buf.String(), nil
}
