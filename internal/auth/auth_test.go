package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/frontiertower/towerbot/internal/timeline"
)

func newStates(t *testing.T) *timeline.TimelineService {
	t.Helper()
	tl, err := timeline.NewTimelineService(filepath.Join(t.TempDir(), "timeline.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = tl.Close() })
	return tl
}

func TestNewLinkerNeedsBaseURLAndClient(t *testing.T) {
	if NewLinker("", "client", "https://bot.example.org", nil) != nil {
		t.Fatal("linker without base URL")
	}
	if NewLinker("https://auth.example.org", "", "https://bot.example.org", nil) != nil {
		t.Fatal("linker without client ID")
	}
}

func TestLoginURL(t *testing.T) {
	states := newStates(t)
	l := NewLinker("https://auth.example.org/", "tower-client", "https://bot.example.org/", states)

	before := time.Now()
	raw, expires, err := l.LoginURL(context.Background(), "42")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(raw, "https://auth.example.org/o/authorize/?") {
		t.Fatalf("url = %s", raw)
	}
	if d := expires.Sub(before); d < 29*time.Minute || d > 31*time.Minute {
		t.Fatalf("link expires in %v", d)
	}

	u, _ := url.Parse(raw)
	q := u.Query()
	if q.Get("response_type") != "code" || q.Get("client_id") != "tower-client" || q.Get("scope") != "read" {
		t.Fatalf("query = %v", q)
	}
	if q.Get("redirect_uri") != "https://bot.example.org/oauth/callback" {
		t.Fatalf("redirect_uri = %s", q.Get("redirect_uri"))
	}
	user, err := states.OAuthStateUser(context.Background(), q.Get("state"))
	if err != nil || user != "42" {
		t.Fatalf("state belongs to %q: %v", user, err)
	}
}

func TestCallbackHandler(t *testing.T) {
	states := newStates(t)
	state, _, err := states.CreateOAuthState(context.Background(), "42", LoginTTL)
	if err != nil {
		t.Fatal(err)
	}
	h := CallbackHandler(states)

	cases := []struct {
		name  string
		query string
		code  int
	}{
		{"valid", "?code=abc&state=" + state, http.StatusOK},
		{"unknown state", "?code=abc&state=nope", http.StatusBadRequest},
		{"missing code", "?state=" + state, http.StatusBadRequest},
		{"declined", "?error=access_denied&state=" + state, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, CallbackPath+tc.query, nil))
			if rec.Code != tc.code {
				t.Fatalf("status = %d, want %d", rec.Code, tc.code)
			}
		})
	}
}

func TestRequireAPIKey(t *testing.T) {
	h := RequireAPIKey([]string{" key-one ", "", "key-two"}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name   string
		header string
		code   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic key-one", http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"unknown", "Bearer key-three", http.StatusForbidden},
		{"first", "Bearer key-one", http.StatusNoContent},
		{"second lowercase scheme", "bearer key-two", http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/graph/query", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.code {
				t.Fatalf("status = %d, want %d", rec.Code, tc.code)
			}
			if tc.code == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") != "Bearer" {
				t.Fatal("missing WWW-Authenticate")
			}
		})
	}
}

func TestRequireAPIKeyWithoutKeysDeniesAll(t *testing.T) {
	h := RequireAPIKey(nil, http.NotFoundHandler())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/graph/query", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
}
