package directory

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/frontiertower/towerbot/internal/telegram"
)

type fakeMembers struct {
	status map[string]string // chat -> status for the probed user
	errs   map[string]error
	calls  int
}

func (f *fakeMembers) GetChatMember(_ context.Context, chatID, userID string) (*telegram.ChatMember, error) {
	f.calls++
	if err := f.errs[chatID]; err != nil {
		return nil, err
	}
	return &telegram.ChatMember{Status: f.status[chatID]}, nil
}

func TestTelegramGroupsProbesKnownGroups(t *testing.T) {
	api := &fakeMembers{
		status: map[string]string{"-1": telegram.StatusMember, "-2": telegram.StatusLeft, "-3": telegram.StatusAdministrator},
	}
	d := NewTelegramGroups(api, NewKnownGroups("-1", "-2", "-3"))

	got, err := d.ListUserGroups(context.Background(), "42")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !got.Has("-1") || got.Has("-2") || !got.Has("-3") {
		t.Fatalf("unexpected groups %v", got.Sorted())
	}
	if api.calls != 3 {
		t.Fatalf("expected 3 probes, got %d", api.calls)
	}
}

func TestTelegramGroupsSkipsUnreadableGroups(t *testing.T) {
	api := &fakeMembers{
		status: map[string]string{"-1": telegram.StatusMember},
		errs: map[string]error{
			"-2": &telegram.APIError{Method: "getChatMember", Code: 403, Description: "Forbidden: bot was kicked"},
		},
	}
	d := NewTelegramGroups(api, NewKnownGroups("-1", "-2"))

	got, err := d.ListUserGroups(context.Background(), "42")
	if err != nil {
		t.Fatalf("expected permanent errors to be skipped, got %v", err)
	}
	if !got.Has("-1") || len(got) != 1 {
		t.Fatalf("unexpected groups %v", got.Sorted())
	}
}

func TestTelegramGroupsTransientFailureIsUnavailable(t *testing.T) {
	cases := map[string]error{
		"server error": &telegram.APIError{Method: "getChatMember", Code: 502},
		"rate limited": &telegram.APIError{Method: "getChatMember", Code: 429},
		"network":      &net.OpError{Op: "dial", Err: errors.New("connection refused")},
	}
	for name, failure := range cases {
		api := &fakeMembers{
			status: map[string]string{"-1": telegram.StatusMember},
			errs:   map[string]error{"-2": failure},
		}
		d := NewTelegramGroups(api, NewKnownGroups("-1", "-2"))
		if _, err := d.ListUserGroups(context.Background(), "42"); !errors.Is(err, ErrUnavailable) {
			t.Errorf("%s: expected ErrUnavailable, got %v", name, err)
		}
	}
}

func TestTelegramGroupsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	api := &fakeMembers{errs: map[string]error{"-1": context.Canceled}}
	d := NewTelegramGroups(api, NewKnownGroups("-1"))
	if _, err := d.ListUserGroups(ctx, "42"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
