// Package telegram adapts the Bot API library to what the gateway uses:
// membership lookups, replies, leaving chats and webhook registration.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// DefaultAPIBase is the public Bot API endpoint.
const DefaultAPIBase = "https://api.telegram.org"

// APIError is a non-ok Bot API response.
type APIError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

// Temporary reports whether the failure is on Telegram's side or a rate limit.
func (e *APIError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// Client calls the Bot API for one bot token. Every call is bound to the
// caller's context.
type Client struct {
	bot  *tgbotapi.BotAPI
	http *http.Client
}

// NewClient creates a client without contacting Telegram. An empty apiBase
// uses DefaultAPIBase.
func NewClient(token, apiBase string, httpClient *http.Client) *Client {
	if strings.TrimSpace(apiBase) == "" {
		apiBase = DefaultAPIBase
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	bot := &tgbotapi.BotAPI{Token: token, Client: httpClient, Buffer: 100}
	bot.SetAPIEndpoint(strings.TrimRight(apiBase, "/") + "/bot%s/%s")
	return &Client{bot: bot, http: httpClient}
}

// ctxDoer attaches ctx to the library's requests.
type ctxDoer struct {
	ctx  context.Context
	base *http.Client
}

func (d ctxDoer) Do(req *http.Request) (*http.Response, error) {
	return d.base.Do(req.WithContext(d.ctx))
}

func (c *Client) with(ctx context.Context) *tgbotapi.BotAPI {
	b := *c.bot
	b.Client = ctxDoer{ctx: ctx, base: c.http}
	return &b
}

// wrap converts library errors into APIError and keeps the token, which the
// request URL embeds, out of transport errors.
func wrap(method string, err error) error {
	if err == nil {
		return nil
	}
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		return &APIError{Method: method, Code: tgErr.Code, Description: tgErr.Message, RetryAfter: tgErr.RetryAfter}
	}
	var uerr *url.Error
	if errors.As(err, &uerr) {
		err = uerr.Err
	}
	return fmt.Errorf("telegram %s: %w", method, err)
}

// GetMe returns the bot's own user.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	u, err := c.with(ctx).GetMe()
	if err != nil {
		return nil, wrap("getMe", err)
	}
	return &u, nil
}

// GetChatMember returns userID's membership of chatID.
func (c *Client) GetChatMember(ctx context.Context, chatID, userID string) (*ChatMember, error) {
	uid, err := strconv.ParseInt(strings.TrimSpace(userID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram getChatMember: invalid user id %q", userID)
	}
	cid, username := chatRef(chatID)
	m, err := c.with(ctx).GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: cid, SuperGroupUsername: username, UserID: uid},
	})
	if err != nil {
		return nil, wrap("getChatMember", err)
	}
	return &m, nil
}

// SendMessageParams are the sendMessage options the gateway uses.
type SendMessageParams struct {
	ChatID           string
	Text             string
	ReplyToMessageID int64
	ParseMode        string
}

// SendMessage posts a text message. A reply to a deleted message is still sent.
func (c *Client) SendMessage(ctx context.Context, p SendMessageParams) (*Message, error) {
	cid, username := chatRef(p.ChatID)
	msg := tgbotapi.MessageConfig{
		BaseChat: tgbotapi.BaseChat{
			ChatID:                   cid,
			ChannelUsername:          username,
			ReplyToMessageID:         int(p.ReplyToMessageID),
			AllowSendingWithoutReply: p.ReplyToMessageID > 0,
		},
		Text:      p.Text,
		ParseMode: p.ParseMode,
	}
	sent, err := c.with(ctx).Send(msg)
	if err != nil {
		return nil, wrap("sendMessage", err)
	}
	return &sent, nil
}

// LeaveChat removes the bot from a group.
func (c *Client) LeaveChat(ctx context.Context, chatID string) error {
	cid, username := chatRef(chatID)
	_, err := c.with(ctx).Request(tgbotapi.LeaveChatConfig{ChatID: cid, ChannelUsername: username})
	return wrap("leaveChat", err)
}

// SetWebhook registers webhookURL for update delivery. secret, if set, is echoed by
// Telegram in the X-Telegram-Bot-Api-Secret-Token header.
func (c *Client) SetWebhook(ctx context.Context, webhookURL, secret string) error {
	params := tgbotapi.Params{"url": webhookURL}
	params.AddNonEmpty("secret_token", secret)
	if err := params.AddInterface("allowed_updates", []string{"message", "my_chat_member"}); err != nil {
		return fmt.Errorf("telegram setWebhook: %w", err)
	}
	_, err := c.with(ctx).MakeRequest("setWebhook", params)
	return wrap("setWebhook", err)
}

// DeleteWebhook stops webhook delivery.
func (c *Client) DeleteWebhook(ctx context.Context) error {
	_, err := c.with(ctx).Request(tgbotapi.DeleteWebhookConfig{})
	return wrap("deleteWebhook", err)
}

// chatRef splits a chat ID into the numeric form or an @username.
func chatRef(id string) (int64, string) {
	id = strings.TrimSpace(id)
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n, ""
	}
	return 0, id
}
