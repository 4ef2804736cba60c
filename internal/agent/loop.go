// Package agent runs capability-scoped LLM tool loops on behalf of the
// dispatcher.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/frontiertower/towerbot/internal/provider"
	"github.com/frontiertower/towerbot/internal/session"
	"github.com/frontiertower/towerbot/internal/tools"
)

// ErrEmptyReply is returned when the model ends its turn without text.
var ErrEmptyReply = errors.New("agent returned an empty reply")

const maxIterationsReply = "Max iterations reached. Please try a simpler request."

// LoopOptions configures a Loop.
type LoopOptions struct {
	Provider      provider.LLMProvider
	Registry      *tools.Registry
	Model         string
	MaxTokens     int
	Temperature   float64
	MaxIterations int
	// HistoryTurns caps how many prior user/assistant exchanges are replayed.
	HistoryTurns int
	Now          func() time.Time
}

// Loop invokes the model with the tools of one capability set and executes
// the tool calls it makes until the model answers.
type Loop struct {
	provider      provider.LLMProvider
	registry      *tools.Registry
	model         string
	maxTokens     int
	temperature   float64
	maxIterations int
	historyTurns  int
	now           func() time.Time
}

func NewLoop(opts LoopOptions) *Loop {
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = 8
	}
	history := opts.HistoryTurns
	if history <= 0 {
		history = 20
	}
	model := opts.Model
	if model == "" && opts.Provider != nil {
		model = opts.Provider.DefaultModel()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Loop{
		provider:      opts.Provider,
		registry:      opts.Registry,
		model:         model,
		maxTokens:     opts.MaxTokens,
		temperature:   opts.Temperature,
		maxIterations: maxIter,
		historyTurns:  history,
		now:           now,
	}
}

// Invoke answers text with the tools and prompt of set, continuing the
// conversation in state. The returned state carries the new exchange; tool
// traffic is not persisted.
func (l *Loop) Invoke(ctx context.Context, set tools.CapabilitySet, state session.State, text string) (string, session.State, error) {
	selected, err := l.registry.Select(set.ToolNames)
	if err != nil {
		return "", state, fmt.Errorf("capability set %s: %w", set.Category, err)
	}
	toolDefs := make([]provider.ToolDefinition, 0, len(selected))
	for _, t := range selected {
		toolDefs = append(toolDefs, provider.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}

	messages := l.history(state)
	messages = append(messages, provider.Message{Role: provider.RoleUser, Content: text})

	reply, err := l.runAgentLoop(ctx, set, toolDefs, messages)
	if err != nil {
		return "", state, err
	}

	now := l.now()
	next := session.State{SessionID: state.SessionID}
	next.Messages = append(next.Messages, state.Messages...)
	next.Messages = append(next.Messages,
		session.Message{Role: provider.RoleUser, Content: text, Timestamp: now},
		session.Message{Role: provider.RoleAssistant, Content: reply, Timestamp: now},
	)
	return reply, next, nil
}

func (l *Loop) history(state session.State) []provider.Message {
	msgs := state.Messages
	if limit := l.historyTurns * 2; len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]provider.Message, 0, len(msgs)+1)
	for _, m := range msgs {
		if m.Role != provider.RoleUser && m.Role != provider.RoleAssistant {
			continue
		}
		out = append(out, provider.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

func (l *Loop) runAgentLoop(ctx context.Context, set tools.CapabilitySet, toolDefs []provider.ToolDefinition, messages []provider.Message) (string, error) {
	for i := 0; i < l.maxIterations; i++ {
		llmStart := time.Now()
		resp, err := l.provider.Chat(ctx, &provider.ChatRequest{
			System:      set.SystemPrompt,
			Messages:    messages,
			Tools:       toolDefs,
			Model:       l.model,
			MaxTokens:   l.maxTokens,
			Temperature: l.temperature,
		})
		if err != nil {
			return "", fmt.Errorf("LLM call failed: %w", err)
		}
		slog.Debug("Agent: LLM call",
			"category", set.Category,
			"iteration", i,
			"tokens", resp.Usage.TotalTokens,
			"tool_calls", len(resp.ToolCalls),
			"duration_ms", time.Since(llmStart).Milliseconds())

		if len(resp.ToolCalls) == 0 {
			reply := strings.TrimSpace(resp.Content)
			if reply == "" {
				return "", ErrEmptyReply
			}
			return reply, nil
		}

		messages = append(messages, provider.Message{
			Role:      provider.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, tc := range resp.ToolCalls {
			var result string
			if !set.Has(tc.Name) {
				// The model only sees the set's tools; anything else is refused.
				slog.Warn("Agent: tool outside capability set", "tool", tc.Name, "category", set.Category)
				result = fmt.Sprintf("Error: tool %s is not available", tc.Name)
			} else {
				toolStart := time.Now()
				out, err := l.registry.Execute(ctx, tc.Name, tc.Arguments)
				if err != nil {
					slog.Warn("Agent: tool failed", "tool", tc.Name, "error", err)
					out = fmt.Sprintf("Error: %v", err)
				}
				result = out
				slog.Debug("Agent: tool executed", "tool", tc.Name, "result_length", len(result),
					"duration_ms", time.Since(toolStart).Milliseconds())
			}
			messages = append(messages, provider.Message{
				Role:       provider.RoleTool,
				Content:    result,
				ToolCallID: tc.ID,
			})
		}
	}

	return maxIterationsReply, nil
}
