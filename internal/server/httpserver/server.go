// Package httpserver exposes the vault services over HTTP.
package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmitrijs2005/legacyvault/internal/logging"
	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/atomic"
)

type Config struct {
	ListenAddr               string
	ReadTimeout              time.Duration
	WriteTimeout             time.Duration
	GracefulShutdownDuration time.Duration
}

type Server struct {
	cfg     *Config
	isReady atomic.Bool
	log     *slog.Logger
	logger  logging.Logger
	handler *Handler
	srv     *http.Server
}

// New builds the server. log receives access logs, logger everything else.
func New(cfg *Config, handler *Handler, log *slog.Logger, logger logging.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		log:     log,
		logger:  logger.With("module", "http_server"),
		handler: handler,
	}
	s.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) Router() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Use(s.httpLogger)

	mux.Get("/livez", s.handleLivenessCheck)
	mux.Get("/readyz", s.handleReadinessCheck)

	h := s.handler
	mux.Route("/api", func(r chi.Router) {
		// Public endpoints carry their own one-time tokens.
		r.Post("/trusted-contacts/verify", h.VerifyContact)
		r.Post("/recipients/access", h.RecipientAccess)
		r.Get("/vault/items/{itemID}/key", h.GetItemKey)

		r.Group(func(r chi.Router) {
			r.Use(h.requireContact)
			r.Post("/trusted-contacts/{id}/share", h.SubmitShare)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.requireOwner)

			r.Put("/checkin/config", h.ConfigureCheckIn)
			r.Get("/checkin/status", h.CheckInStatus)
			r.Post("/checkin/perform", h.PerformCheckIn)

			r.Get("/unlock-requests", h.ListUnlockRequests)
			r.Post("/unlock-requests/{id}/cancel", h.CancelUnlockRequest)

			r.Post("/vault/setup", h.SetupVault)
			r.Post("/vault/session", h.OpenSession)
			r.Delete("/vault/session", h.CloseSession)
			r.Post("/vault/rotate", h.RotateVMK)
			r.Post("/vault/items/{itemID}/key", h.CreateItemKey)

			r.Get("/trusted-contacts", h.ListContacts)
			r.Post("/trusted-contacts", h.AddContact)
			r.Delete("/trusted-contacts/{id}", h.RemoveContact)
			r.Post("/trusted-contacts/shares", h.IssueShares)

			r.Get("/recipients", h.ListRecipients)
			r.Post("/recipients", h.AddRecipient)
		})
	})
	return mux
}

func (s *Server) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(s.log, next)
}

func (s *Server) handleLivenessCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if !s.isReady.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	if err := s.handler.ping(r.Context()); err != nil {
		s.logger.Warn(r.Context(), "readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Run serves until ctx is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.isReady.Store(false)
		s.logger.Info(ctx, "Stopping HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GracefulShutdownDuration)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "graceful HTTP shutdown failed", "error", err)
		}
	}()

	s.isReady.Store(true)
	s.logger.Info(ctx, "Starting HTTP server", "address", s.cfg.ListenAddr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
