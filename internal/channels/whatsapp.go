package channels

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "modernc.org/sqlite"

	"github.com/frontiertower/towerbot/internal/bus"
	"github.com/frontiertower/towerbot/internal/config"
)

// WhatsAppChannel implements a native WhatsApp client on a linked device.
type WhatsAppChannel struct {
	BaseChannel
	client    *whatsmeow.Client
	config    config.WhatsAppConfig
	container *sqlstore.Container

	ctx     context.Context
	sendFn  func(ctx context.Context, jid types.JID, text string) error
	leaveFn func(ctx context.Context, jid types.JID) error
}

// NewWhatsAppChannel creates a new WhatsApp channel.
func NewWhatsAppChannel(cfg config.WhatsAppConfig, messageBus *bus.MessageBus) *WhatsAppChannel {
	return &WhatsAppChannel{
		BaseChannel: BaseChannel{Bus: messageBus},
		config:      cfg,
		ctx:         context.Background(),
	}
}

func (c *WhatsAppChannel) Name() string { return "whatsapp" }

// Start opens the device store and connects. An unpaired device writes the
// login QR code to the configured path and waits for the scan in the background.
func (c *WhatsAppChannel) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}
	c.ctx = ctx

	if err := os.MkdirAll(filepath.Dir(c.config.StorePath), 0700); err != nil {
		return fmt.Errorf("whatsapp store dir: %w", err)
	}
	dsn := "file:" + c.config.StorePath + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	container, err := sqlstore.New(ctx, "sqlite", dsn, waLog.Stdout("Database", "WARN", true))
	if err != nil {
		return fmt.Errorf("failed to init whatsapp db: %w", err)
	}
	c.container = container

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("failed to get device: %w", err)
	}
	c.client = whatsmeow.NewClient(device, waLog.Stdout("Client", "WARN", true))
	c.client.AddEventHandler(c.eventHandler)

	if c.client.Store.ID == nil {
		qrChan, err := c.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("whatsapp qr channel: %w", err)
		}
		if err := c.client.Connect(); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		go c.awaitPairing(qrChan)
	} else if err := c.client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.subscribe(ctx, c)
	slog.Info("WhatsApp: started", "paired", c.client.Store.ID != nil)
	return nil
}

func (c *WhatsAppChannel) awaitPairing(qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		if evt.Event != whatsmeow.QRChannelEventCode {
			slog.Info("WhatsApp: login event", "event", evt.Event)
			continue
		}
		if err := qrcode.WriteFile(evt.Code, qrcode.Medium, 512, c.config.QRPath); err != nil {
			slog.Error("WhatsApp: write login QR", "path", c.config.QRPath, "error", err)
			continue
		}
		slog.Info("WhatsApp: scan the login QR code", "path", c.config.QRPath)
	}
}

func (c *WhatsAppChannel) Stop() error {
	if c.client != nil {
		c.client.Disconnect()
	}
	if c.container != nil {
		return c.container.Close()
	}
	return nil
}

// GetJoinedGroups lists the groups of the linked device, for the group directory.
func (c *WhatsAppChannel) GetJoinedGroups(ctx context.Context) ([]*types.GroupInfo, error) {
	if c.client == nil {
		return nil, fmt.Errorf("whatsapp client not initialized")
	}
	return c.client.GetJoinedGroups(ctx)
}

func (c *WhatsAppChannel) eventHandler(evt any) {
	var msg *bus.InboundMessage
	switch v := evt.(type) {
	case *events.Message:
		msg = c.fromMessage(v)
	case *events.JoinedGroup:
		msg = &bus.InboundMessage{
			Channel:   c.Name(),
			ChatID:    v.JID.String(),
			ChatKind:  bus.ChatGroup,
			Event:     bus.EventBotAdded,
			Timestamp: v.GroupCreated,
		}
		if v.Sender != nil {
			msg.SenderID = v.Sender.User
		}
	}
	if msg == nil {
		return
	}
	if err := c.Bus.PublishInbound(c.ctx, msg); err != nil {
		slog.Warn("WhatsApp: inbound dropped", "error", err)
	}
}

// fromMessage converts a text message. Own messages and media are ignored.
func (c *WhatsAppChannel) fromMessage(v *events.Message) *bus.InboundMessage {
	if v == nil || v.Info.IsFromMe || v.Message == nil {
		return nil
	}
	text := v.Message.GetConversation()
	if text == "" {
		text = v.Message.GetExtendedTextMessage().GetText()
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	kind := bus.ChatPrivate
	if v.Info.IsGroup {
		kind = bus.ChatGroup
	}
	return &bus.InboundMessage{
		Channel:   c.Name(),
		SenderID:  v.Info.Sender.User,
		ChatID:    v.Info.Chat.String(),
		ChatKind:  kind,
		MessageID: v.Info.ID,
		Content:   text,
		Timestamp: v.Info.Timestamp,
		Metadata:  map[string]any{"push_name": v.Info.PushName},
	}
}

func (c *WhatsAppChannel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	jid, err := types.ParseJID(msg.ChatID)
	if err != nil {
		return fmt.Errorf("invalid JID: %w", err)
	}
	if c.sendFn != nil {
		return c.sendFn(ctx, jid, msg.Content)
	}
	if c.client == nil {
		return fmt.Errorf("client not initialized")
	}
	_, err = c.client.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(msg.Content)})
	return err
}

func (c *WhatsAppChannel) Leave(ctx context.Context, chatID string) error {
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return fmt.Errorf("invalid JID: %w", err)
	}
	if c.leaveFn != nil {
		return c.leaveFn(ctx, jid)
	}
	if c.client == nil {
		return fmt.Errorf("client not initialized")
	}
	return c.client.LeaveGroup(ctx, jid)
}
