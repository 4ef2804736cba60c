package telegram

import (
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Bot API types used by the gateway.
type (
	Update            = tgbotapi.Update
	User              = tgbotapi.User
	Chat              = tgbotapi.Chat
	Message           = tgbotapi.Message
	ChatMember        = tgbotapi.ChatMember
	ChatMemberUpdated = tgbotapi.ChatMemberUpdated
)

// Chat types.
const (
	ChatPrivate    = "private"
	ChatGroup      = "group"
	ChatSupergroup = "supergroup"
	ChatChannel    = "channel"
)

// IsGroupChat reports whether c is a group or supergroup.
func IsGroupChat(c *Chat) bool {
	return c != nil && (c.Type == ChatGroup || c.Type == ChatSupergroup)
}

// Member statuses.
const (
	StatusCreator       = "creator"
	StatusAdministrator = "administrator"
	StatusMember        = "member"
	StatusRestricted    = "restricted"
	StatusLeft          = "left"
	StatusKicked        = "kicked"
)

// MemberActive reports whether m currently belongs to the chat.
func MemberActive(m ChatMember) bool {
	switch m.Status {
	case StatusCreator, StatusAdministrator, StatusMember:
		return true
	case StatusRestricted:
		return m.IsMember
	}
	return false
}

// FormatID renders a numeric Telegram ID the way the rest of the system keys it.
func FormatID(id int64) string { return strconv.FormatInt(id, 10) }
