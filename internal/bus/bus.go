// Package bus provides the async message bus between channels and the dispatcher.
package bus

import (
	"context"
	"sync"
	"time"
)

// Chat kinds.
const (
	ChatPrivate = "private"
	ChatGroup   = "group"
)

// Membership events delivered instead of a text message.
const (
	EventBotAdded   = "bot_added"
	EventBotRemoved = "bot_removed"
)

// Outbound actions.
const (
	ActionSend  = "send"
	ActionLeave = "leave"
)

// InboundMessage represents a message from a channel to the dispatcher.
type InboundMessage struct {
	Channel  string `json:"channel"`
	SenderID string `json:"sender_id"`
	ChatID   string `json:"chat_id"`
	ChatKind string `json:"chat_kind"`
	// MessageID is the transport's message identifier; empty when the
	// transport has none. Used for redelivery dedup.
	MessageID string `json:"message_id,omitempty"`
	// BotUsername is the receiving bot's handle, for /cmd@bot addressing.
	BotUsername string         `json:"bot_username,omitempty"`
	Event       string         `json:"event,omitempty"`
	TraceID     string         `json:"trace_id"`
	Content     string         `json:"content"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// IsGroup reports whether the message originates from a group chat.
func (m *InboundMessage) IsGroup() bool { return m.ChatKind == ChatGroup }

// OutboundMessage represents an action the dispatcher asks a channel to perform.
type OutboundMessage struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chat_id"`
	TraceID string `json:"trace_id"`
	Action  string `json:"action"`
	Content string `json:"content,omitempty"`
	// ReplyTo is the message ID the reply threads under, when supported.
	ReplyTo string `json:"reply_to,omitempty"`
}

// MessageBus decouples channels from the dispatcher.
type MessageBus struct {
	inbound  chan *InboundMessage
	outbound chan *OutboundMessage
	subs     map[string][]func(*OutboundMessage)
	mu       sync.RWMutex
}

// NewMessageBus creates a new message bus with queues of the given size.
func NewMessageBus(queueSize int) *MessageBus {
	if queueSize <= 0 {
		queueSize = 100
	}
	return &MessageBus{
		inbound:  make(chan *InboundMessage, queueSize),
		outbound: make(chan *OutboundMessage, queueSize),
		subs:     make(map[string][]func(*OutboundMessage)),
	}
}

// PublishInbound sends a message from a channel to the dispatcher. It blocks
// while the queue is full, until ctx is done.
func (b *MessageBus) PublishInbound(ctx context.Context, msg *InboundMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	select {
	case b.inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConsumeInbound blocks until a message is available or context is cancelled.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (*InboundMessage, error) {
	select {
	case msg := <-b.inbound:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PublishOutbound queues an outbound action.
func (b *MessageBus) PublishOutbound(ctx context.Context, msg *OutboundMessage) error {
	if msg.Action == "" {
		msg.Action = ActionSend
	}
	select {
	case b.outbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendMessage queues a reply for delivery by the message's channel.
func (b *MessageBus) SendMessage(ctx context.Context, msg *OutboundMessage) error {
	msg.Action = ActionSend
	return b.PublishOutbound(ctx, msg)
}

// LeaveGroup asks channel to leave chatID.
func (b *MessageBus) LeaveGroup(ctx context.Context, channel, chatID string) error {
	return b.PublishOutbound(ctx, &OutboundMessage{Channel: channel, ChatID: chatID, Action: ActionLeave})
}

// Subscribe registers a callback for outbound messages to a specific channel.
func (b *MessageBus) Subscribe(channel string, callback func(*OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs[channel] = append(b.subs[channel], callback)
}

// DispatchOutbound runs the outbound message dispatcher.
// This should be run as a goroutine.
func (b *MessageBus) DispatchOutbound(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-b.outbound:
			b.mu.RLock()
			callbacks := b.subs[msg.Channel]
			b.mu.RUnlock()

			for _, cb := range callbacks {
				cb(msg)
			}
		}
	}
}

// InboundSize returns the number of pending inbound messages.
func (b *MessageBus) InboundSize() int {
	return len(b.inbound)
}

// OutboundSize returns the number of pending outbound messages.
func (b *MessageBus) OutboundSize() int {
	return len(b.outbound)
}
