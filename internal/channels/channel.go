// Package channels connects chat platforms to the message bus.
package channels

import (
	"context"
	"log/slog"
	"time"

	"github.com/frontiertower/towerbot/internal/bus"
)

// deliveryTimeout bounds one outbound platform call.
const deliveryTimeout = 30 * time.Second

// Channel defines the interface for chat platforms (Telegram, Slack, WhatsApp).
type Channel interface {
	// Name returns the channel name (e.g. "telegram").
	Name() string
	// Start starts the channel listener.
	Start(ctx context.Context) error
	// Stop stops the channel listener.
	Stop() error
	// Send sends a message to a specific chat.
	Send(ctx context.Context, msg *bus.OutboundMessage) error
	// Leave removes the bot from a group chat.
	Leave(ctx context.Context, chatID string) error
}

// BaseChannel provides common functionality for channels.
type BaseChannel struct {
	Bus *bus.MessageBus
}

// subscribe routes the bus's outbound actions for ch to Send or Leave.
func (b BaseChannel) subscribe(ctx context.Context, ch Channel) {
	b.Bus.Subscribe(ch.Name(), func(msg *bus.OutboundMessage) {
		deliver(ctx, ch, msg)
	})
}

func deliver(ctx context.Context, ch Channel, msg *bus.OutboundMessage) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
	defer cancel()

	var err error
	switch msg.Action {
	case bus.ActionLeave:
		err = ch.Leave(ctx, msg.ChatID)
		if err == nil {
			slog.Info("Channel: left group", "channel", ch.Name(), "chat_id", msg.ChatID)
		}
	default:
		err = ch.Send(ctx, msg)
	}
	if err != nil {
		slog.Error("Channel: delivery failed",
			"channel", ch.Name(), "action", msg.Action, "chat_id", msg.ChatID,
			"trace_id", msg.TraceID, "error", err)
	}
}

// splitText cuts text into chunks of at most limit runes, preferring line breaks.
func splitText(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var out []string
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		out = append(out, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}
