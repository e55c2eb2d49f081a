package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/BTreeMap/GoalBot/internal/bot"
	"github.com/BTreeMap/GoalBot/internal/flow"
	"github.com/BTreeMap/GoalBot/internal/messaging"
	"github.com/BTreeMap/GoalBot/internal/store"
	"github.com/BTreeMap/GoalBot/internal/telegram"
)

// DefaultShutdownTimeout bounds graceful HTTP shutdown.
const DefaultShutdownTimeout = 10 * time.Second

// Opts holds configuration for the server and Run.
type Opts struct {
	Addr            string
	JWTSecret       string
	SiteURL         string
	PersistOffset   bool
	ShutdownTimeout time.Duration
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithJWTSecret sets the HS256 secret used to authenticate application users.
func WithJWTSecret(secret string) Option {
	return func(o *Opts) {
		o.JWTSecret = secret
	}
}

// WithSiteURL sets the web front-end base URL used in goal links.
func WithSiteURL(url string) Option {
	return func(o *Opts) {
		o.SiteURL = url
	}
}

// WithPersistOffset toggles storing the poll offset in the database.
func WithPersistOffset(persist bool) Option {
	return func(o *Opts) {
		o.PersistOffset = persist
	}
}

// WithShutdownTimeout bounds graceful HTTP shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.ShutdownTimeout = d
	}
}

func newOpts(opts ...Option) Opts {
	cfg := Opts{
		Addr:            DefaultAddr,
		SiteURL:         flow.DefaultSiteURL,
		PersistOffset:   true,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Run opens the store and the Telegram client and serves until ctx is
// cancelled or a component fails.
func Run(ctx context.Context, tgOpts []telegram.Option, storeOpts []store.Option, botOpts []bot.Option, apiOpts []Option) error {
	st, err := store.New(storeOpts...)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Failed to close store", "error", err)
		}
	}()

	tg, err := telegram.NewClient(tgOpts...)
	if err != nil {
		return fmt.Errorf("failed to create telegram client: %w", err)
	}
	defer tg.Stop()
	slog.Info("Telegram client connected", "bot", tg.Username())

	return serve(ctx, st, tg, botOpts, apiOpts)
}

// serve runs the poll loop and the HTTP server over the given dependencies.
func serve(ctx context.Context, st store.Store, msg messaging.Service, botOpts []bot.Option, apiOpts []Option) error {
	cfg := newOpts(apiOpts...)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	machine := flow.NewMachine(st, msg, flow.NewInMemoryStateManager(), nil, flow.WithSiteURL(cfg.SiteURL))
	if cfg.PersistOffset {
		botOpts = append(botOpts, bot.WithOffsetStore(st))
	}
	poller := bot.New(msg, machine, botOpts...)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewServer(st, msg, apiOpts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Addr, err)
	}
	slog.Info("GoalBot API listening", "addr", ln.Addr().String())

	httpErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
		close(httpErr)
	}()
	botErr := make(chan error, 1)
	go func() {
		botErr <- poller.Run(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("Shutdown requested")
	case err := <-httpErr:
		if err != nil {
			runErr = fmt.Errorf("http server failed: %w", err)
		}
	case err := <-botErr:
		botErr = nil
		if err != nil {
			runErr = fmt.Errorf("poll loop failed: %w", err)
		}
	}
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}
	if botErr != nil {
		if err := <-botErr; err != nil && runErr == nil {
			runErr = fmt.Errorf("poll loop failed: %w", err)
		}
	}
	slog.Info("GoalBot stopped", "offset", poller.Offset())
	return runErr
}
