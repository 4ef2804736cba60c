package channels

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/frontiertower/towerbot/internal/bus"
	"github.com/frontiertower/towerbot/internal/config"
)

// SlackChannel is a socket-mode Slack transport. Slash commands and messages
// both arrive over the socket; replies go through the Web API.
type SlackChannel struct {
	BaseChannel
	config config.SlackConfig
	api    *slack.Client
	socket *socketmode.Client
}

// NewSlackChannel builds the Web API and socket-mode clients.
func NewSlackChannel(cfg config.SlackConfig, httpClient *http.Client, messageBus *bus.MessageBus) *SlackChannel {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	base := strings.TrimSpace(cfg.APIBase)
	if base == "" {
		base = "https://slack.com/api"
	}
	api := slack.New(
		strings.TrimSpace(cfg.BotToken),
		slack.OptionHTTPClient(httpClient),
		slack.OptionAPIURL(strings.TrimRight(base, "/")+"/"),
		slack.OptionAppLevelToken(strings.TrimSpace(cfg.AppToken)),
	)
	return &SlackChannel{
		BaseChannel: BaseChannel{Bus: messageBus},
		config:      cfg,
		api:         api,
		socket:      socketmode.New(api),
	}
}

func (c *SlackChannel) Name() string { return "slack" }

// API exposes the Web API client for the conversation directory.
func (c *SlackChannel) API() *slack.Client { return c.api }

func (c *SlackChannel) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}
	c.subscribe(ctx, c)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-c.socket.Events:
				if !ok {
					return
				}
				c.handleSocketEvent(ctx, evt)
			}
		}
	}()
	go func() {
		if err := c.socket.RunContext(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Slack: socket mode stopped", "error", err)
		}
	}()
	slog.Info("Slack: socket mode started")
	return nil
}

func (c *SlackChannel) Stop() error { return nil }

func (c *SlackChannel) handleSocketEvent(ctx context.Context, evt socketmode.Event) {
	var msg *bus.InboundMessage
	switch evt.Type {
	case socketmode.EventTypeConnected:
		slog.Info("Slack: connected")
		return
	case socketmode.EventTypeEventsAPI:
		if evt.Request != nil {
			c.socket.Ack(*evt.Request)
		}
		ev, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok || ev.Type != slackevents.CallbackEvent {
			return
		}
		msg = c.fromCallback(ev.InnerEvent.Data)
	case socketmode.EventTypeSlashCommand:
		if evt.Request != nil {
			c.socket.Ack(*evt.Request)
		}
		cmd, ok := evt.Data.(slack.SlashCommand)
		if ok {
			msg = c.fromSlashCommand(cmd)
		}
	}
	if msg == nil {
		return
	}
	if err := c.Bus.PublishInbound(ctx, msg); err != nil {
		slog.Warn("Slack: inbound dropped", "error", err)
	}
}

// fromCallback converts an Events API callback. Bot messages, edits and
// other subtypes are ignored.
func (c *SlackChannel) fromCallback(data any) *bus.InboundMessage {
	switch in := data.(type) {
	case *slackevents.MessageEvent:
		if in == nil || in.BotID != "" || in.SubType != "" || in.User == "" {
			return nil
		}
		kind := bus.ChatGroup
		if in.ChannelType == "im" {
			kind = bus.ChatPrivate
		}
		return c.inbound(in.User, in.Channel, kind, in.TimeStamp, c.stripMention(in.Text))
	case *slackevents.MemberJoinedChannelEvent:
		if in == nil || c.config.BotUserID == "" || in.User != c.config.BotUserID {
			return nil
		}
		msg := c.inbound(in.Inviter, in.Channel, bus.ChatGroup, "", "")
		msg.Event = bus.EventBotAdded
		return msg
	}
	return nil
}

func (c *SlackChannel) fromSlashCommand(cmd slack.SlashCommand) *bus.InboundMessage {
	kind := bus.ChatGroup
	if strings.HasPrefix(cmd.ChannelID, "D") {
		kind = bus.ChatPrivate
	}
	text := strings.TrimSpace(cmd.Command + " " + cmd.Text)
	return c.inbound(cmd.UserID, cmd.ChannelID, kind, cmd.TriggerID, text)
}

func (c *SlackChannel) inbound(userID, channelID, kind, messageID, text string) *bus.InboundMessage {
	return &bus.InboundMessage{
		Channel:   c.Name(),
		SenderID:  strings.TrimSpace(userID),
		ChatID:    strings.TrimSpace(channelID),
		ChatKind:  kind,
		MessageID: strings.TrimSpace(messageID),
		Content:   text,
		Timestamp: time.Now(),
	}
}

// stripMention removes a leading "<@BOT>" so "@towerbot /ask x" classifies
// like "/ask x".
func (c *SlackChannel) stripMention(text string) string {
	text = strings.TrimSpace(text)
	if c.config.BotUserID == "" {
		return text
	}
	return strings.TrimSpace(strings.TrimPrefix(text, "<@"+c.config.BotUserID+">"))
}

// Send posts msg, threading under ReplyTo when set.
func (c *SlackChannel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	opts := []slack.MsgOption{slack.MsgOptionText(msg.Content, false)}
	if ts := strings.TrimSpace(msg.ReplyTo); ts != "" && strings.Contains(ts, ".") {
		opts = append(opts, slack.MsgOptionTS(ts))
	}
	if _, _, err := c.api.PostMessageContext(ctx, msg.ChatID, opts...); err != nil {
		return fmt.Errorf("slack chat.postMessage: %w", err)
	}
	return nil
}

// Leave leaves a conversation.
func (c *SlackChannel) Leave(ctx context.Context, chatID string) error {
	if _, err := c.api.LeaveConversationContext(ctx, chatID); err != nil {
		return fmt.Errorf("slack conversations.leave: %w", err)
	}
	return nil
}
