package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	aoption "github.com/anthropics/anthropic-sdk-go/option"
	ooption "github.com/openai/openai-go/option"

	"github.com/frontiertower/towerbot/internal/config"
)

func TestAnthropicProviderToolUse(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
			"content": [
				{"type": "text", "text": "Let me check."},
				{"type": "tool_use", "id": "toolu_1", "name": "get_tower_info", "input": {"floor": 4}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 12, "output_tokens": 7}
		}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("test-key", srv.URL, "claude-test", aoption.WithMaxRetries(0))
	resp, err := p.Chat(context.Background(), &ChatRequest{
		System:   "You are TowerBot.",
		Messages: []Message{{Role: RoleUser, Content: "what is on floor 4?"}},
		Tools: []ToolDefinition{{
			Name:        "get_tower_info",
			Description: "building info",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		}},
		MaxTokens: 256,
	})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if resp.Content != "Let me check." {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.FinishReason != FinishToolCalls || len(resp.ToolCalls) != 1 {
		t.Fatalf("expected one tool call, got %+v", resp)
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "toolu_1" || tc.Name != "get_tower_info" || tc.Arguments["floor"] != float64(4) {
		t.Errorf("tool call = %+v", tc)
	}
	if resp.Usage.TotalTokens != 19 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if body["model"] != "claude-test" {
		t.Errorf("request model = %v", body["model"])
	}
	if sys, _ := body["system"].([]any); len(sys) != 1 {
		t.Errorf("system prompt not sent: %v", body["system"])
	}
}

func TestBuildAnthropicMessagesFoldsToolResults(t *testing.T) {
	msgs := buildAnthropicMessages([]Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "a", Name: "x"}, {ID: "b", Name: "y"}}},
		{Role: RoleTool, ToolCallID: "a", Content: "1"},
		{Role: RoleTool, ToolCallID: "b", Content: "2"},
		{Role: RoleAssistant, Content: "done"},
	})
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages (user, assistant, tool results, assistant), got %d", len(msgs))
	}
	if len(msgs[2].Content) != 2 {
		t.Errorf("tool results not folded into one user turn: %d blocks", len(msgs[2].Content))
	}
}

func TestOpenAIProviderToolCalls(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-test",
			"choices": [{
				"index": 0, "finish_reason": "tool_calls",
				"message": {"role": "assistant", "content": null, "tool_calls": [
					{"id": "call_1", "type": "function", "function": {"name": "get_connections", "arguments": "{\"query\":\"robotics\"}"}}
				]}
			}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("test-key", srv.URL+"/v1/", "gpt-test", ooption.WithMaxRetries(0))
	resp, err := p.Chat(context.Background(), &ChatRequest{
		System: "sys",
		Messages: []Message{
			{Role: RoleUser, Content: "find robotics people"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_0", Name: "get_connections", Arguments: map[string]any{"query": "x"}}}},
			{Role: RoleTool, ToolCallID: "call_0", Content: "[]"},
		},
		Tools:       []ToolDefinition{{Name: "get_connections", Parameters: map[string]any{"type": "object"}}},
		MaxTokens:   100,
		Temperature: 0.3,
	})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Arguments["query"] != "robotics" {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 4 {
		t.Fatalf("expected system + 3 messages, got %d", len(msgs))
	}
	if first, _ := msgs[0].(map[string]any); first["role"] != "system" {
		t.Errorf("first message = %v", first)
	}
}

func TestOpenAIProviderAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("bad", srv.URL+"/v1/", "gpt-test", ooption.WithMaxRetries(0))
	if _, err := p.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}}); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseModelString(t *testing.T) {
	tests := []struct {
		in, prov, model string
	}{
		{"anthropic/claude-sonnet-4-5", "anthropic", "claude-sonnet-4-5"},
		{"OpenAI/gpt-4o", "openai", "gpt-4o"},
		{"claude-sonnet-4-5", "", "claude-sonnet-4-5"},
	}
	for _, tt := range tests {
		p, m := ParseModelString(tt.in)
		if p != tt.prov || m != tt.model {
			t.Errorf("ParseModelString(%q) = %q, %q", tt.in, p, m)
		}
	}
}

func TestResolve(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Providers.Anthropic.APIKey = "a"
	p, err := Resolve(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(*AnthropicProvider); !ok || p.DefaultModel() != cfg.Model.Name {
		t.Fatalf("expected anthropic provider with %s, got %T %s", cfg.Model.Name, p, p.DefaultModel())
	}

	cfg.Model.Name = "gpt/gpt-4o-mini"
	if _, err := Resolve(cfg); err == nil {
		t.Fatal("expected error without openai key")
	}
	cfg.Providers.OpenAI.APIKey = "o"
	p, err = Resolve(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(*OpenAIProvider); !ok || p.DefaultModel() != "gpt-4o-mini" {
		t.Fatalf("expected openai provider, got %T %s", p, p.DefaultModel())
	}

	cfg.Model.Name = "mistral/large"
	if _, err := Resolve(cfg); err == nil {
		t.Fatal("expected unknown provider error")
	}
}
