package directory

import (
	"context"
	"errors"
	"net/http"

	"github.com/slack-go/slack"
)

// SlackConversationLister is the users.conversations call of slack-go.
type SlackConversationLister interface {
	GetConversationsForUserContext(ctx context.Context, params *slack.GetConversationsForUserParameters) ([]slack.Channel, string, error)
}

// SlackGroups lists the Slack conversations a user is in.
type SlackGroups struct {
	api SlackConversationLister
}

// NewSlackGroups creates the Slack group lister.
func NewSlackGroups(api SlackConversationLister) *SlackGroups {
	return &SlackGroups{api: api}
}

// ListUserGroups pages through users.conversations for userID.
func (d *SlackGroups) ListUserGroups(ctx context.Context, userID string) (GroupSet, error) {
	out := GroupSet{}
	cursor := ""
	for {
		channels, next, err := d.api.GetConversationsForUserContext(ctx, &slack.GetConversationsForUserParameters{
			UserID:          userID,
			Cursor:          cursor,
			Types:           []string{"public_channel", "private_channel", "mpim"},
			Limit:           200,
			ExcludeArchived: true,
		})
		if err != nil {
			if isSlackNotFound(err) {
				return GroupSet{}, nil
			}
			return nil, classifySlackError(ctx, err)
		}
		for _, ch := range channels {
			out.Add(ch.ID)
		}
		if next == "" {
			return out, nil
		}
		cursor = next
	}
}

func isSlackNotFound(err error) bool {
	var resp slack.SlackErrorResponse
	if errors.As(err, &resp) {
		return resp.Err == "user_not_found" || resp.Err == "user_not_visible"
	}
	return err.Error() == "user_not_found"
}

func classifySlackError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return Unavailable("slack users.conversations", ctx.Err())
	}
	var rl *slack.RateLimitedError
	if errors.As(err, &rl) {
		return Unavailable("slack users.conversations", err)
	}
	var sc slack.StatusCodeError
	if errors.As(err, &sc) && sc.Code < http.StatusInternalServerError {
		return err
	}
	var resp slack.SlackErrorResponse
	if errors.As(err, &resp) {
		return err
	}
	return Unavailable("slack users.conversations", err)
}
