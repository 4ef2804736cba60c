package directory

import (
	"context"

	"go.mau.fi/whatsmeow/types"
)

// WhatsAppGroupSource returns the groups the linked device participates in.
type WhatsAppGroupSource interface {
	GetJoinedGroups(ctx context.Context) ([]*types.GroupInfo, error)
}

// WhatsAppGroups lists a user's groups among those the bot has joined.
type WhatsAppGroups struct {
	src WhatsAppGroupSource
}

// NewWhatsAppGroups creates the WhatsApp group lister.
func NewWhatsAppGroups(src WhatsAppGroupSource) *WhatsAppGroups {
	return &WhatsAppGroups{src: src}
}

// ListUserGroups matches userID (the phone-number user part of a JID) against
// the participants of every joined group.
func (d *WhatsAppGroups) ListUserGroups(ctx context.Context, userID string) (GroupSet, error) {
	groups, err := d.src.GetJoinedGroups(ctx)
	if err != nil {
		return nil, Unavailable("whatsapp joined groups", err)
	}
	out := GroupSet{}
	for _, g := range groups {
		if g == nil {
			continue
		}
		for _, p := range g.Participants {
			if p.JID.User == userID {
				out.Add(g.JID.String())
				break
			}
		}
	}
	return out, nil
}
