// Package api exposes GoalBot's HTTP endpoints and runs the whole service.
//
// The only write path into a linked account's user reference from outside
// the bot lives here: PATCH /bot/verify. Run wires the store, the Telegram
// transport, the conversation state machine, the poll loop and this server.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BTreeMap/GoalBot/internal/messaging"
	"github.com/BTreeMap/GoalBot/internal/store"
)

// DefaultAddr is the HTTP listen address.
const DefaultAddr = ":8080"

// Server serves the verification and health endpoints.
type Server struct {
	store      store.Store
	msgService messaging.Service
	jwtSecret  []byte
	router     chi.Router
}

// NewServer builds the router. Without a JWT secret the verification
// endpoint is not mounted.
func NewServer(st store.Store, msgService messaging.Service, opts ...Option) *Server {
	cfg := newOpts(opts...)
	s := &Server{store: st, msgService: msgService, jwtSecret: []byte(cfg.JWTSecret)}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Get("/healthz", s.healthHandler)
	if cfg.JWTSecret != "" {
		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Patch("/bot/verify", s.verifyHandler)
		})
	} else {
		slog.Warn("No JWT secret configured; /bot/verify is disabled")
	}

	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// requestLogger logs each request through slog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
