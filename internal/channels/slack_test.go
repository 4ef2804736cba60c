package channels

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/frontiertower/towerbot/internal/bus"
	"github.com/frontiertower/towerbot/internal/config"
)

func newTestSlack(t *testing.T, handler http.HandlerFunc) *SlackChannel {
	t.Helper()
	base := ""
	if handler != nil {
		srv := httptest.NewServer(handler)
		t.Cleanup(srv.Close)
		base = srv.URL
	}
	cfg := config.SlackConfig{Enabled: true, BotToken: "xoxb-test", AppToken: "xapp-test", BotUserID: "UBOT", APIBase: base}
	return NewSlackChannel(cfg, nil, bus.NewMessageBus(10))
}

func TestSlackMessageEventConversion(t *testing.T) {
	c := newTestSlack(t, nil)

	msg := c.fromCallback(&slackevents.MessageEvent{
		User: "U1", Channel: "C1", ChannelType: "channel", TimeStamp: "1700000000.000100",
		Text: "<@UBOT> /ask wifi",
	})
	if msg == nil || msg.ChatKind != bus.ChatGroup || msg.Content != "/ask wifi" || msg.MessageID != "1700000000.000100" {
		t.Fatalf("unexpected message %+v", msg)
	}

	dm := c.fromCallback(&slackevents.MessageEvent{User: "U1", Channel: "D1", ChannelType: "im", Text: "hello"})
	if dm == nil || dm.ChatKind != bus.ChatPrivate {
		t.Fatalf("unexpected DM %+v", dm)
	}

	for _, ev := range []*slackevents.MessageEvent{
		{BotID: "B1", User: "U2", Channel: "C1", Text: "beep"},
		{SubType: "message_changed", User: "U1", Channel: "C1", Text: "edit"},
		{Channel: "C1", Text: "no user"},
	} {
		if got := c.fromCallback(ev); got != nil {
			t.Fatalf("expected %+v to be ignored, got %+v", ev, got)
		}
	}
}

func TestSlackBotJoinedChannel(t *testing.T) {
	c := newTestSlack(t, nil)
	msg := c.fromCallback(&slackevents.MemberJoinedChannelEvent{User: "UBOT", Channel: "C9", Inviter: "U5"})
	if msg == nil || msg.Event != bus.EventBotAdded || msg.ChatID != "C9" || msg.SenderID != "U5" {
		t.Fatalf("unexpected event %+v", msg)
	}
	if other := c.fromCallback(&slackevents.MemberJoinedChannelEvent{User: "U7", Channel: "C9"}); other != nil {
		t.Fatalf("other members joining must be ignored, got %+v", other)
	}
}

func TestSlackSlashCommandConversion(t *testing.T) {
	c := newTestSlack(t, nil)
	msg := c.fromSlashCommand(slack.SlashCommand{Command: "/connect", Text: "designers", UserID: "U1", ChannelID: "C1", TriggerID: "T1"})
	if msg.Content != "/connect designers" || msg.ChatKind != bus.ChatGroup || msg.MessageID != "T1" {
		t.Fatalf("unexpected message %+v", msg)
	}
	dm := c.fromSlashCommand(slack.SlashCommand{Command: "/ask", UserID: "U1", ChannelID: "D1"})
	if dm.Content != "/ask" || dm.ChatKind != bus.ChatPrivate {
		t.Fatalf("unexpected message %+v", dm)
	}
}

func TestSlackSendPostsMessage(t *testing.T) {
	var form map[string]string
	c := newTestSlack(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat.postMessage" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = r.ParseForm()
		form = map[string]string{"channel": r.FormValue("channel"), "text": r.FormValue("text"), "thread_ts": r.FormValue("thread_ts")}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "channel": "C1", "ts": "2.0"})
	})

	err := c.Send(context.Background(), &bus.OutboundMessage{ChatID: "C1", Content: "hello", ReplyTo: "1.5"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if form["channel"] != "C1" || form["text"] != "hello" || form["thread_ts"] != "1.5" {
		t.Fatalf("unexpected form %v", form)
	}
}

func TestSlackLeave(t *testing.T) {
	var path string
	c := newTestSlack(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})
	if err := c.Leave(context.Background(), "C1"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if path != "/conversations.leave" {
		t.Fatalf("path = %s", path)
	}
}

func TestSlackSendReportsAPIError(t *testing.T) {
	c := newTestSlack(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "channel_not_found"})
	})
	if err := c.Send(context.Background(), &bus.OutboundMessage{ChatID: "C404", Content: "x"}); err == nil {
		t.Fatal("expected error")
	}
}
