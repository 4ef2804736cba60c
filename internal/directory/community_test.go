package directory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/frontiertower/towerbot/internal/config"
)

func TestCommunityMembershipResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Api-Key k1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/members/active/":
			_, _ = w.Write([]byte(`{"user_id":"active","is_active":true}`))
		case "/members/lapsed/":
			_, _ = w.Write([]byte(`{"user_id":"lapsed","is_active":false}`))
		case "/members/ambiguous/":
			_, _ = w.Write([]byte(`{"user_id":"ambiguous"}`))
		case "/members/broken/":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/members/teapot/":
			w.WriteHeader(http.StatusTeapot)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewCommunityClient(config.CommunityConfig{BaseURL: srv.URL + "/", APIKey: "k1"}, srv.Client())
	ctx := context.Background()

	if ok, err := c.IsActiveCommunityMember(ctx, "active"); err != nil || !ok {
		t.Fatalf("active: got %v %v", ok, err)
	}
	if ok, err := c.IsActiveCommunityMember(ctx, "lapsed"); err != nil || ok {
		t.Fatalf("lapsed: got %v %v", ok, err)
	}
	if ok, err := c.IsActiveCommunityMember(ctx, "stranger"); err != nil || ok {
		t.Fatalf("unknown user should be a plain false, got %v %v", ok, err)
	}
	if ok, err := c.IsActiveCommunityMember(ctx, "ambiguous"); err == nil || ok {
		t.Fatalf("ambiguous response must be an error, got %v %v", ok, err)
	}
	if _, err := c.IsActiveCommunityMember(ctx, "broken"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("5xx must be ErrUnavailable, got %v", err)
	}
	if _, err := c.IsActiveCommunityMember(ctx, "teapot"); err == nil || errors.Is(err, ErrUnavailable) {
		t.Fatalf("4xx must be a plain error, got %v", err)
	}
}

func TestCommunityLoginCachesToken(t *testing.T) {
	var logins atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login/":
			logins.Add(1)
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["email"] != "bot@tower" || body["password"] != "pw" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"access":"jwt-1"}`))
		case "/communities/":
			if r.Header.Get("Authorization") != "Bearer jwt-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`[{"name":"Biotech"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewCommunityClient(config.CommunityConfig{BaseURL: srv.URL, Email: "bot@tower", Password: "pw"}, srv.Client())
	for i := 0; i < 2; i++ {
		raw, err := c.Communities(context.Background())
		if err != nil {
			t.Fatalf("communities: %v", err)
		}
		if string(raw) != `[{"name":"Biotech"}]` {
			t.Fatalf("unexpected body %s", raw)
		}
	}
	if logins.Load() != 1 {
		t.Fatalf("expected one login, got %d", logins.Load())
	}
}

func TestCommunityTimeoutIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewCommunityClient(config.CommunityConfig{BaseURL: srv.URL, APIKey: "k"}, srv.Client())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.IsActiveCommunityMember(ctx, "u"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on timeout, got %v", err)
	}
}
