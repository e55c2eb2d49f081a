// Package bot runs the long-poll loop that feeds chat updates to the
// conversation state machine.
//
// Updates are handled strictly one at a time in the order the transport
// returns them. Each update is consumed exactly once from the loop's point of
// view: the offset advances past it whether or not handling succeeded.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/GoalBot/internal/messaging"
	"github.com/BTreeMap/GoalBot/internal/models"
)

const (
	// DefaultBotName keys the persisted offset.
	DefaultBotName = "telegram"
	// DefaultHandleTimeout bounds the handling of one update.
	DefaultHandleTimeout = 30 * time.Second
)

// Handler handles one inbound chat message.
type Handler interface {
	Handle(ctx context.Context, msg *models.Message) error
}

// OffsetStore persists the next update offset across restarts.
type OffsetStore interface {
	GetBotOffset(ctx context.Context, botName string) (int, error)
	SaveBotOffset(ctx context.Context, botName string, offset int) error
}

// Opts holds configuration options for the poll loop.
type Opts struct {
	OffsetStore   OffsetStore
	BotName       string
	Backoff       BackoffConfig
	HandleTimeout time.Duration
}

// Option defines a configuration option for the poll loop.
type Option func(*Opts)

// WithOffsetStore persists the offset in st. Without it the offset lives in
// memory only and a restart resumes from the server's oldest retained update.
func WithOffsetStore(st OffsetStore) Option {
	return func(o *Opts) {
		o.OffsetStore = st
	}
}

// WithBotName sets the key the offset is persisted under.
func WithBotName(name string) Option {
	return func(o *Opts) {
		o.BotName = name
	}
}

// WithBackoff overrides the fetch retry backoff.
func WithBackoff(cfg BackoffConfig) Option {
	return func(o *Opts) {
		o.Backoff = cfg
	}
}

// WithHandleTimeout bounds how long one update may be handled.
func WithHandleTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.HandleTimeout = d
	}
}

// Bot is the poll loop.
type Bot struct {
	msg     messaging.Service
	handler Handler
	opts    Opts
	offset  int
}

// New creates a poll loop reading from msg and dispatching to handler.
func New(msg messaging.Service, handler Handler, opts ...Option) *Bot {
	cfg := Opts{
		BotName:       DefaultBotName,
		Backoff:       DefaultBackoffConfig(),
		HandleTimeout: DefaultHandleTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Bot New options set", "bot_name", cfg.BotName, "persist_offset", cfg.OffsetStore != nil,
		"handle_timeout", cfg.HandleTimeout)
	return &Bot{msg: msg, handler: handler, opts: cfg}
}

// Offset returns the next update id the loop will ask for.
func (b *Bot) Offset() int {
	return b.offset
}

// Run polls until ctx is cancelled, returning nil in that case. Fetch errors
// are retried with backoff; a stopped transport ends the loop with
// messaging.ErrServiceStopped.
func (b *Bot) Run(ctx context.Context) error {
	if b.opts.OffsetStore != nil {
		offset, err := b.opts.OffsetStore.GetBotOffset(ctx, b.opts.BotName)
		if err != nil {
			return fmt.Errorf("load bot offset: %w", err)
		}
		b.offset = offset
	}
	slog.Info("Bot poll loop started", "bot_name", b.opts.BotName, "offset", b.offset)

	failures := 0
	for {
		if ctx.Err() != nil {
			slog.Info("Bot poll loop stopped", "offset", b.offset)
			return nil
		}

		updates, err := b.msg.FetchUpdates(ctx, b.offset)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			if errors.Is(err, messaging.ErrServiceStopped) {
				return err
			}
			delay := b.opts.Backoff.Delay(failures)
			failures++
			slog.Warn("Bot fetch updates failed, backing off", "error", err, "attempt", failures, "delay", delay)
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
			continue
		}
		failures = 0

		for _, u := range updates {
			if ctx.Err() != nil {
				break
			}
			if u.ID < b.offset {
				slog.Warn("Bot skipping stale update", "updateID", u.ID, "offset", b.offset)
				continue
			}
			b.process(ctx, u)
			b.advance(ctx, u.ID+1)
		}
	}
}

// process handles one update. In-flight handling is not cut short by
// cancellation of ctx; it is bounded by the handle timeout instead.
func (b *Bot) process(ctx context.Context, u models.Update) {
	if u.Message == nil {
		slog.Debug("Bot skipping update without message", "updateID", u.ID)
		return
	}

	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.opts.HandleTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Bot handler panicked", "updateID", u.ID, "participantID", u.Message.SenderID, "panic", r)
		}
	}()

	if err := b.handler.Handle(hctx, u.Message); err != nil {
		slog.Error("Bot failed to handle update, dropping it", "updateID", u.ID, "participantID", u.Message.SenderID, "error", err)
		return
	}
	slog.Debug("Bot handled update", "updateID", u.ID, "participantID", u.Message.SenderID)
}

func (b *Bot) advance(ctx context.Context, next int) {
	b.offset = next
	if b.opts.OffsetStore == nil {
		return
	}
	if err := b.opts.OffsetStore.SaveBotOffset(context.WithoutCancel(ctx), b.opts.BotName, next); err != nil {
		slog.Error("Bot failed to persist offset", "offset", next, "error", err)
	}
}
