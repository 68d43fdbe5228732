// Package server implements the LedgerSync HTTP API server.
package server

import (
	"context"
	"expvar"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gco-platform/ledgersync/internal/server/handlers"
	"github.com/gco-platform/ledgersync/pkg/types"
)

const defaultMaxBodyBytes = 1 << 20

// Server is the LedgerSync HTTP API server.
type Server struct {
	handlers *handlers.Handlers
	router   chi.Router
	addr     string
	logger   *slog.Logger
	srv      *http.Server
}

// New creates a new HTTP server around the given handlers.
func New(cfg types.ServerConfig, h *handlers.Handlers, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	apiKey := cfg.APIKey
	if apiKey == "" && cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}

	s := &Server{
		handlers: h,
		addr:     addr,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(withRequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(limitBody(maxBody))
	r.Use(requireAPIKey(apiKey))
	r.Use(middleware.SetHeader("Content-Type", "application/json"))

	s.router = r
	s.registerRoutes(r)
	return s
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.logger.Info("http server listening", "addr", s.addr)
	return s.srv.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) registerRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handlers.Health)
		r.Get("/records", s.handlers.Records)
		r.Get("/inventory", s.handlers.Inventory)
		r.Get("/reconciliation", s.handlers.Reconciliation)
	})
	r.Method(http.MethodGet, "/debug/vars", expvar.Handler())
}
