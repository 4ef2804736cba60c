// Package auth holds the OAuth login link flow and the API key guard of the
// graph REST endpoints.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/frontiertower/towerbot/internal/timeline"
)

// LoginTTL is how long a /login link stays valid.
const LoginTTL = 30 * time.Minute

// CallbackPath is where the OAuth provider redirects after authorization.
const CallbackPath = "/oauth/callback"

// StateStore persists login state tokens. OAuthStateUser returns
// timeline.ErrNotFound for unknown or expired states.
type StateStore interface {
	CreateOAuthState(ctx context.Context, userID string, ttl time.Duration) (string, time.Time, error)
	OAuthStateUser(ctx context.Context, state string) (string, error)
}

// Linker builds OAuth authorization links for authorized users.
type Linker struct {
	baseURL     string
	clientID    string
	redirectURI string
	states      StateStore
}

// NewLinker returns nil when baseURL or clientID is empty, meaning login is
// not configured.
func NewLinker(baseURL, clientID, publicURL string, states StateStore) *Linker {
	if baseURL == "" || clientID == "" {
		return nil
	}
	return &Linker{
		baseURL:     strings.TrimRight(baseURL, "/"),
		clientID:    clientID,
		redirectURI: strings.TrimRight(publicURL, "/") + CallbackPath,
		states:      states,
	}
}

// LoginURL issues a state token for userID and returns the authorize URL and
// the time the link expires.
func (l *Linker) LoginURL(ctx context.Context, userID string) (string, time.Time, error) {
	state, expires, err := l.states.CreateOAuthState(ctx, userID, LoginTTL)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("login state: %w", err)
	}
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", l.clientID)
	q.Set("redirect_uri", l.redirectURI)
	q.Set("scope", "read")
	q.Set("state", state)
	return l.baseURL + "/o/authorize/?" + q.Encode(), expires, nil
}

// CallbackHandler accepts the provider redirect. The state must have been
// issued by LoginURL and not have expired.
func CallbackHandler(states StateStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		q := r.URL.Query()
		if e := q.Get("error"); e != "" {
			slog.Info("OAuth: authorization declined", "error", e)
			http.Error(w, "Authorization was declined.", http.StatusBadRequest)
			return
		}
		state, code := q.Get("state"), q.Get("code")
		if state == "" || code == "" {
			http.Error(w, "missing state or code", http.StatusBadRequest)
			return
		}
		userID, err := states.OAuthStateUser(r.Context(), state)
		if errors.Is(err, timeline.ErrNotFound) {
			http.Error(w, "This login link has expired. Send /login again.", http.StatusBadRequest)
			return
		}
		if err != nil {
			slog.Error("OAuth: state lookup failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		slog.Info("OAuth: authorization received", "user", userID)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Authorization complete. You can return to Telegram."))
	})
}
