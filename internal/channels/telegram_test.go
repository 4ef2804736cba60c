package channels

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/frontiertower/towerbot/internal/bus"
	"github.com/frontiertower/towerbot/internal/config"
	"github.com/frontiertower/towerbot/internal/directory"
	"github.com/frontiertower/towerbot/internal/telegram"
)

type fakeTelegramAPI struct {
	mu     sync.Mutex
	sent   []telegram.SendMessageParams
	left   []string
	sendFn func(p telegram.SendMessageParams) error
}

func (f *fakeTelegramAPI) SendMessage(ctx context.Context, p telegram.SendMessageParams) (*telegram.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendFn != nil {
		if err := f.sendFn(p); err != nil {
			return nil, err
		}
	}
	f.sent = append(f.sent, p)
	return &telegram.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeTelegramAPI) LeaveChat(ctx context.Context, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, chatID)
	return nil
}

func newTestTelegram(secret string) (*TelegramChannel, *fakeTelegramAPI, *bus.MessageBus, *directory.KnownGroups) {
	api := &fakeTelegramAPI{}
	mb := bus.NewMessageBus(10)
	known := directory.NewKnownGroups("-100")
	cfg := config.TelegramConfig{Enabled: true, BotUsername: "towerbot"}
	return NewTelegramChannel(cfg, secret, api, known, mb), api, mb, known
}

func consume(t *testing.T, mb *bus.MessageBus) *bus.InboundMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := mb.ConsumeInbound(ctx)
	if err != nil {
		t.Fatalf("no inbound message: %v", err)
	}
	return msg
}

func TestTelegramWebhookPublishesGroupMessage(t *testing.T) {
	ch, _, mb, known := newTestTelegram("s3cret")
	body := `{"update_id":1,"message":{"message_id":77,"date":1700000000,
		"from":{"id":42,"is_bot":false,"username":"ada"},
		"chat":{"id":-200,"type":"supergroup"},"text":"/ask wifi"}}`
	req := httptest.NewRequest(http.MethodPost, "/telegram", strings.NewReader(body))
	req.Header.Set(SecretHeader, "s3cret")
	rec := httptest.NewRecorder()

	ch.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if mb.InboundSize() != 1 {
		t.Fatalf("update must be queued before the webhook returns, queue = %d", mb.InboundSize())
	}

	msg := consume(t, mb)
	if msg.SenderID != "42" || msg.ChatID != "-200" || msg.ChatKind != bus.ChatGroup {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.MessageID != "77" || msg.BotUsername != "towerbot" || msg.Content != "/ask wifi" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if got := known.List(); len(got) != 2 {
		t.Fatalf("expected observed group, got %v", got)
	}
}

func TestTelegramWebhookKeepsArrivalOrder(t *testing.T) {
	ch, _, mb, _ := newTestTelegram("")
	for i, text := range []string{"first", "second", "third"} {
		body := fmt.Sprintf(`{"update_id":%d,"message":{"message_id":%d,"date":1700000000,
			"from":{"id":42},"chat":{"id":42,"type":"private"},"text":%q}}`, i+1, i+1, text)
		rec := httptest.NewRecorder()
		ch.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/telegram", strings.NewReader(body)))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	}
	for _, want := range []string{"first", "second", "third"} {
		if got := consume(t, mb).Content; got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}
}

func TestTelegramWebhookRejectsBadSecret(t *testing.T) {
	ch, _, mb, _ := newTestTelegram("s3cret")
	req := httptest.NewRequest(http.MethodPost, "/telegram", strings.NewReader(`{"update_id":1}`))
	req.Header.Set(SecretHeader, "wrong")
	rec := httptest.NewRecorder()

	ch.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
	if mb.InboundSize() != 0 {
		t.Fatal("nothing must be published")
	}
}

func TestTelegramWebhookRejectsMalformedBody(t *testing.T) {
	ch, _, _, _ := newTestTelegram("")
	rec := httptest.NewRecorder()
	ch.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/telegram", strings.NewReader("{")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	ch.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/telegram", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestTelegramIgnoresBotsAndChannels(t *testing.T) {
	ch, _, mb, _ := newTestTelegram("")
	ctx := context.Background()

	bot := &telegram.Update{Message: &telegram.Message{
		From: &telegram.User{ID: 1, IsBot: true}, Chat: &telegram.Chat{ID: 1, Type: telegram.ChatPrivate}, Text: "hi",
	}}
	post := &telegram.Update{Message: &telegram.Message{
		From: &telegram.User{ID: 2}, Chat: &telegram.Chat{ID: -5, Type: telegram.ChatChannel}, Text: "news",
	}}
	for _, u := range []*telegram.Update{bot, post, {}} {
		if err := ch.handleUpdate(ctx, u); err != nil {
			t.Fatalf("handleUpdate: %v", err)
		}
	}
	if mb.InboundSize() != 0 {
		t.Fatalf("expected nothing published, got %d", mb.InboundSize())
	}
}

func TestTelegramMembershipEvents(t *testing.T) {
	ch, _, mb, known := newTestTelegram("")
	ctx := context.Background()

	added := &telegram.Update{MyChatMember: &telegram.ChatMemberUpdated{
		Chat:          telegram.Chat{ID: -300, Type: telegram.ChatGroup},
		From:          telegram.User{ID: 9},
		NewChatMember: telegram.ChatMember{Status: telegram.StatusMember},
	}}
	if err := ch.handleUpdate(ctx, added); err != nil {
		t.Fatalf("handleUpdate: %v", err)
	}
	msg := consume(t, mb)
	if msg.Event != bus.EventBotAdded || msg.ChatID != "-300" || msg.SenderID != "9" {
		t.Fatalf("unexpected event %+v", msg)
	}

	removed := &telegram.Update{MyChatMember: &telegram.ChatMemberUpdated{
		Chat:          telegram.Chat{ID: -300, Type: telegram.ChatGroup},
		NewChatMember: telegram.ChatMember{Status: telegram.StatusKicked},
	}}
	if err := ch.handleUpdate(ctx, removed); err != nil {
		t.Fatalf("handleUpdate: %v", err)
	}
	if msg := consume(t, mb); msg.Event != bus.EventBotRemoved {
		t.Fatalf("unexpected event %+v", msg)
	}
	for _, id := range known.List() {
		if id == "-300" {
			t.Fatal("removed group still known")
		}
	}
}

func TestTelegramSendSplitsLongReplies(t *testing.T) {
	ch, api, _, _ := newTestTelegram("")
	long := strings.Repeat("a", telegramTextLimit+10)

	err := ch.Send(context.Background(), &bus.OutboundMessage{ChatID: "-100", Content: long, ReplyTo: "5"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(api.sent) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(api.sent))
	}
	if api.sent[0].ReplyToMessageID != 5 || api.sent[1].ReplyToMessageID != 0 {
		t.Fatalf("only the first chunk replies: %+v", api.sent)
	}

	if err := ch.Send(context.Background(), &bus.OutboundMessage{ChatID: "-100", Content: "x", ReplyTo: "abc"}); err == nil {
		t.Fatal("expected error for non-numeric reply ID")
	}
}

func TestTelegramOutboundRouting(t *testing.T) {
	ch, api, mb, known := newTestTelegram("")
	known.Observe("-666")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := ch.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	go func() { _ = mb.DispatchOutbound(ctx) }()

	if err := mb.SendMessage(ctx, &bus.OutboundMessage{Channel: "telegram", ChatID: "-100", Content: "hi"}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if err := mb.LeaveGroup(ctx, "telegram", "-666"); err != nil {
		t.Fatalf("LeaveGroup: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		api.mu.Lock()
		done := len(api.sent) == 1 && len(api.left) == 1
		api.mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.sent) != 1 || len(api.left) != 1 || api.left[0] != "-666" {
		t.Fatalf("sent=%v left=%v", api.sent, api.left)
	}
}

func TestSplitTextPrefersLineBreaks(t *testing.T) {
	text := strings.Repeat("x", 8) + "\n" + strings.Repeat("y", 8)
	got := splitText(text, 12)
	if len(got) != 2 || got[0] != strings.Repeat("x", 8)+"\n" {
		t.Fatalf("splitText = %q", got)
	}
	if got := splitText("short", 12); len(got) != 1 {
		t.Fatalf("splitText = %q", got)
	}
}
