package channels

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/frontiertower/towerbot/internal/bus"
	"github.com/frontiertower/towerbot/internal/config"
	"github.com/frontiertower/towerbot/internal/directory"
	"github.com/frontiertower/towerbot/internal/telegram"
)

// telegramTextLimit is the Bot API maximum message length.
const telegramTextLimit = 4096

// SecretHeader carries the webhook secret registered with setWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// TelegramAPI is the subset of the Bot API client the channel uses.
type TelegramAPI interface {
	SendMessage(ctx context.Context, p telegram.SendMessageParams) (*telegram.Message, error)
	LeaveChat(ctx context.Context, chatID string) error
}

// TelegramChannel receives webhook updates and delivers replies.
type TelegramChannel struct {
	BaseChannel
	api    TelegramAPI
	config config.TelegramConfig
	secret string
	known  *directory.KnownGroups

	ctx context.Context
}

// NewTelegramChannel creates the Telegram channel. known collects the group
// IDs the bot observes, which the chat-member directory probes.
func NewTelegramChannel(cfg config.TelegramConfig, secret string, api TelegramAPI, known *directory.KnownGroups, messageBus *bus.MessageBus) *TelegramChannel {
	return &TelegramChannel{
		BaseChannel: BaseChannel{Bus: messageBus},
		api:         api,
		config:      cfg,
		secret:      secret,
		known:       known,
		ctx:         context.Background(),
	}
}

func (c *TelegramChannel) Name() string { return "telegram" }

func (c *TelegramChannel) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}
	c.ctx = ctx
	c.subscribe(ctx, c)
	return nil
}

func (c *TelegramChannel) Stop() error { return nil }

// ServeHTTP is the webhook endpoint. Every well-formed update is queued on the
// bus and acknowledged; agent work happens later in the dispatcher.
func (c *TelegramChannel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if c.secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(SecretHeader)), []byte(c.secret)) != 1 {
		slog.Warn("Telegram: webhook secret mismatch", "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	var upd telegram.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&upd); err != nil {
		http.Error(w, "invalid update", http.StatusBadRequest)
		return
	}
	// Publishing before acknowledging keeps one chat's updates in arrival
	// order; a full inbound queue holds the webhook back.
	if err := c.handleUpdate(c.ctx, &upd); err != nil {
		slog.Warn("Telegram: update dropped", "update_id", upd.UpdateID, "error", err)
	}
	w.WriteHeader(http.StatusOK)
}

func (c *TelegramChannel) handleUpdate(ctx context.Context, upd *telegram.Update) error {
	if upd.MyChatMember != nil {
		return c.handleMembership(ctx, upd.MyChatMember)
	}
	m := upd.Message
	if m == nil || m.From == nil || m.From.IsBot {
		return nil
	}

	kind := bus.ChatPrivate
	switch {
	case m.Chat == nil:
		return nil
	case telegram.IsGroupChat(m.Chat):
		kind = bus.ChatGroup
		c.known.Observe(telegram.FormatID(m.Chat.ID))
	case m.Chat.Type != telegram.ChatPrivate:
		return nil
	}

	return c.Bus.PublishInbound(ctx, &bus.InboundMessage{
		Channel:     c.Name(),
		SenderID:    telegram.FormatID(m.From.ID),
		ChatID:      telegram.FormatID(m.Chat.ID),
		ChatKind:    kind,
		MessageID:   telegram.FormatID(int64(m.MessageID)),
		BotUsername: c.config.BotUsername,
		Content:     m.Text,
		Timestamp:   time.Unix(int64(m.Date), 0).UTC(),
		Metadata: map[string]any{
			"update_id": upd.UpdateID,
			"username":  m.From.UserName,
		},
	})
}

func (c *TelegramChannel) handleMembership(ctx context.Context, u *telegram.ChatMemberUpdated) error {
	if !telegram.IsGroupChat(&u.Chat) {
		return nil
	}
	chatID := telegram.FormatID(u.Chat.ID)
	event := bus.EventBotRemoved
	if telegram.MemberActive(u.NewChatMember) {
		event = bus.EventBotAdded
		c.known.Observe(chatID)
	} else {
		c.known.Forget(chatID)
	}
	return c.Bus.PublishInbound(ctx, &bus.InboundMessage{
		Channel:   c.Name(),
		SenderID:  telegram.FormatID(u.From.ID),
		ChatID:    chatID,
		ChatKind:  bus.ChatGroup,
		Event:     event,
		Timestamp: time.Unix(int64(u.Date), 0).UTC(),
	})
}

// Send posts msg, splitting it when it exceeds the Bot API limit. Only the
// first chunk threads under the original message.
func (c *TelegramChannel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	var replyTo int64
	if msg.ReplyTo != "" {
		id, err := strconv.ParseInt(msg.ReplyTo, 10, 64)
		if err != nil {
			return fmt.Errorf("telegram: invalid reply message id %q: %w", msg.ReplyTo, err)
		}
		replyTo = id
	}
	for i, chunk := range splitText(msg.Content, telegramTextLimit) {
		p := telegram.SendMessageParams{ChatID: msg.ChatID, Text: chunk}
		if i == 0 {
			p.ReplyToMessageID = replyTo
		}
		if _, err := c.api.SendMessage(ctx, p); err != nil {
			return fmt.Errorf("telegram sendMessage: %w", err)
		}
	}
	return nil
}

// Leave leaves a group and stops probing it for memberships.
func (c *TelegramChannel) Leave(ctx context.Context, chatID string) error {
	if err := c.api.LeaveChat(ctx, chatID); err != nil {
		return fmt.Errorf("telegram leaveChat: %w", err)
	}
	c.known.Forget(chatID)
	return nil
}
