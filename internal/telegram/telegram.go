// Package telegram implements messaging.Service over the Telegram Bot API.
//
// Updates are fetched with getUpdates long polling; replies are sent with
// sendMessage behind an outbound rate limiter.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/BTreeMap/GoalBot/internal/messaging"
	"github.com/BTreeMap/GoalBot/internal/models"
)

const (
	// DefaultPollTimeout is the getUpdates long-poll timeout in seconds.
	DefaultPollTimeout = 60
	// DefaultSendRate is the outbound message budget per second.
	DefaultSendRate = 25
)

// Opts holds configuration options for the Telegram client.
type Opts struct {
	Token       string
	APIEndpoint string // format string with two %s verbs: token and method
	PollTimeout int    // seconds
	SendRate    int    // messages per second
	Debug       bool
}

// Option defines a configuration option for the Telegram client.
type Option func(*Opts)

// WithToken sets the bot token.
func WithToken(token string) Option {
	return func(o *Opts) {
		o.Token = token
	}
}

// WithAPIEndpoint overrides the Bot API endpoint, e.g. "http://localhost:8081/bot%s/%s".
func WithAPIEndpoint(endpoint string) Option {
	return func(o *Opts) {
		o.APIEndpoint = endpoint
	}
}

// WithPollTimeout sets the long-poll timeout in seconds.
func WithPollTimeout(seconds int) Option {
	return func(o *Opts) {
		o.PollTimeout = seconds
	}
}

// WithSendRate sets the maximum number of outbound messages per second.
func WithSendRate(perSecond int) Option {
	return func(o *Opts) {
		o.SendRate = perSecond
	}
}

// WithDebug enables tgbotapi request logging.
func WithDebug(debug bool) Option {
	return func(o *Opts) {
		o.Debug = debug
	}
}

// Client is a Telegram Bot API transport.
type Client struct {
	bot         *tgbotapi.BotAPI
	pollTimeout int
	limiter     *rate.Limiter
	stopped     atomic.Bool
}

var _ messaging.Service = (*Client)(nil)

// NewClient connects to the Bot API and verifies the token with getMe.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{PollTimeout: DefaultPollTimeout, SendRate: DefaultSendRate}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Telegram NewClient options set", "token_set", cfg.Token != "", "api_endpoint_set", cfg.APIEndpoint != "",
		"poll_timeout", cfg.PollTimeout, "send_rate", cfg.SendRate)

	if cfg.Token == "" {
		return nil, errors.New("telegram bot token is required")
	}
	if cfg.PollTimeout < 0 {
		cfg.PollTimeout = 0
	}
	if cfg.SendRate <= 0 {
		cfg.SendRate = DefaultSendRate
	}

	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.Token, endpoint)
	if err != nil {
		slog.Error("Failed to connect to Telegram Bot API", "error", err)
		return nil, fmt.Errorf("failed to connect to telegram bot api: %w", err)
	}
	bot.Debug = cfg.Debug
	slog.Info("Telegram client connected", "bot_username", bot.Self.UserName)

	return &Client{
		bot:         bot,
		pollTimeout: cfg.PollTimeout,
		limiter:     rate.NewLimiter(rate.Limit(cfg.SendRate), cfg.SendRate),
	}, nil
}

// Username returns the bot's own username as reported by getMe.
func (c *Client) Username() string {
	return c.bot.Self.UserName
}

type fetchResult struct {
	updates []tgbotapi.Update
	err     error
}

// FetchUpdates long-polls getUpdates. The underlying request cannot be
// interrupted, so on cancellation its result is abandoned; the unconfirmed
// updates are redelivered by the server on the next poll.
func (c *Client) FetchUpdates(ctx context.Context, offset int) ([]models.Update, error) {
	if c.stopped.Load() {
		return nil, messaging.ErrServiceStopped
	}

	cfg := tgbotapi.NewUpdate(offset)
	cfg.Timeout = c.pollTimeout

	done := make(chan fetchResult, 1)
	go func() {
		updates, err := c.bot.GetUpdates(cfg)
		done <- fetchResult{updates: updates, err: err}
	}()

	var res fetchResult
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-done:
	}
	if res.err != nil {
		return nil, fmt.Errorf("telegram getUpdates failed: %w", res.err)
	}

	out := make([]models.Update, 0, len(res.updates))
	for _, u := range res.updates {
		out = append(out, convertUpdate(u))
	}
	slog.Debug("Telegram FetchUpdates succeeded", "offset", offset, "count", len(out))
	return out, nil
}

// convertUpdate maps a Bot API update to the transport-neutral model. Only
// new messages with a sender are kept; everything else becomes an empty update.
func convertUpdate(u tgbotapi.Update) models.Update {
	out := models.Update{ID: u.UpdateID}
	m := u.Message
	if m == nil || m.From == nil || m.Chat == nil {
		return out
	}
	out.Message = &models.Message{
		SenderID:     m.From.ID,
		SenderHandle: m.From.UserName,
		ChatID:       m.Chat.ID,
		Text:         m.Text,
		Timestamp:    time.Unix(int64(m.Date), 0).UTC(),
	}
	return out
}

// SendMessage sends text to chatID, waiting for the rate limiter first.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, format models.TextFormat) error {
	if c.stopped.Load() {
		return messaging.ErrServiceStopped
	}
	if text == "" {
		return errors.New("message text cannot be empty")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram send rate limiter: %w", err)
	}

	msg := tgbotapi.NewMessage(chatID, text)
	if format == models.FormatMarkdown {
		msg.ParseMode = tgbotapi.ModeMarkdown
	}
	if _, err := c.bot.Send(msg); err != nil {
		slog.Error("Failed to send Telegram message", "error", err, "chatID", chatID)
		return fmt.Errorf("failed to send message to chat %d: %w", chatID, err)
	}
	slog.Debug("Telegram message sent", "chatID", chatID, "text_length", len(text), "format", string(format))
	return nil
}

// Stop marks the client as stopped.
func (c *Client) Stop() error {
	if c.stopped.Swap(true) {
		return nil
	}
	slog.Info("Telegram client stopped")
	return nil
}
