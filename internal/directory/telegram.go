package directory

import (
	"context"
	"errors"
	"log/slog"

	"github.com/frontiertower/towerbot/internal/telegram"
)

// ChatMemberGetter is the Bot API call used to probe membership.
type ChatMemberGetter interface {
	GetChatMember(ctx context.Context, chatID, userID string) (*telegram.ChatMember, error)
}

// TelegramGroups lists a user's groups by probing every known group with
// getChatMember; the Bot API has no call that enumerates them.
type TelegramGroups struct {
	api   ChatMemberGetter
	known *KnownGroups
}

// NewTelegramGroups creates the Telegram group lister.
func NewTelegramGroups(api ChatMemberGetter, known *KnownGroups) *TelegramGroups {
	return &TelegramGroups{api: api, known: known}
}

// ListUserGroups returns the known groups userID is an active member of.
// A group the bot cannot query (kicked, unknown chat, unknown user) counts as
// not a member. Any transient failure makes the whole answer unavailable.
func (d *TelegramGroups) ListUserGroups(ctx context.Context, userID string) (GroupSet, error) {
	out := GroupSet{}
	for _, gid := range d.known.List() {
		m, err := d.api.GetChatMember(ctx, gid, userID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, Unavailable("telegram getChatMember", ctx.Err())
			}
			var apiErr *telegram.APIError
			if !errors.As(err, &apiErr) || apiErr.Temporary() {
				return nil, Unavailable("telegram getChatMember", err)
			}
			slog.Debug("TelegramDirectory: membership not readable", "group_id", gid, "error", err)
			continue
		}
		if telegram.MemberActive(*m) {
			out.Add(gid)
		}
	}
	return out, nil
}
