package cli

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
)

func TestWebhookEndpoint(t *testing.T) {
	got, err := webhookEndpoint(" https://bot.example.com/ ")
	if err != nil || got != "https://bot.example.com/telegram" {
		t.Fatalf("got %q, %v", got, err)
	}
	if _, err := webhookEndpoint(""); err == nil {
		t.Fatal("expected error for empty URL")
	}
	if _, err := webhookEndpoint("http://bot.example.com"); err == nil {
		t.Fatal("expected error for plain http")
	}
}

func TestWebhookSetAndDelete(t *testing.T) {
	isolateConfig(t)
	t.Setenv("WEBHOOK_SECRET", "s3cret")

	var mu sync.Mutex
	calls := map[string]url.Values{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		mu.Lock()
		calls[r.URL.Path] = r.PostForm
		mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	}))
	defer srv.Close()
	t.Setenv("TELEGRAM_API_BASE", srv.URL)

	out, err := runRootCommand(t, "webhook", "set", "--url", "https://bot.example.com")
	if err != nil {
		t.Fatalf("webhook set: %v\n%s", err, out)
	}
	if !strings.Contains(out, "https://bot.example.com/telegram") {
		t.Fatalf("unexpected output %q", out)
	}
	set := calls["/bot123:abc/setWebhook"]
	if set == nil {
		t.Fatalf("setWebhook not called: %v", calls)
	}
	if set.Get("url") != "https://bot.example.com/telegram" || set.Get("secret_token") != "s3cret" {
		t.Fatalf("unexpected setWebhook body %v", set)
	}

	if _, err := runRootCommand(t, "webhook", "delete"); err != nil {
		t.Fatalf("webhook delete: %v", err)
	}
	if _, ok := calls["/bot123:abc/deleteWebhook"]; !ok {
		t.Fatalf("deleteWebhook not called: %v", calls)
	}
}

func TestWebhookSetRequiresToken(t *testing.T) {
	isolateConfig(t)
	t.Setenv("BOT_TOKEN", "")

	if _, err := runRootCommand(t, "webhook", "delete"); err == nil || !strings.Contains(err.Error(), "BOT_TOKEN") {
		t.Fatalf("expected missing token error, got %v", err)
	}
}
