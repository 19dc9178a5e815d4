// Package api exposes the HTTP surface of the risk engine.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/veritas-id/kestrel/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// ServerOptions bundles the handler dependencies and cross-cutting knobs.
type ServerOptions struct {
	Handler         *Handler
	SignatureSecret string
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, opts ServerOptions) *Server {
	handler := opts.Handler
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	if handler.metrics != nil {
		router.Use(MetricsMiddleware(handler.metrics))
	}
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Health and scrape endpoints, unsigned.
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if handler.metrics != nil {
		router.Method(http.MethodGet, "/metrics", handler.metrics.Handler())
	}

	router.Route("/", func(r chi.Router) {
		r.Use(SignatureMiddleware(opts.SignatureSecret))

		// Risk evaluation. /evaluate is a compatibility alias for /verify.
		r.Post("/verify", handler.Verify)
		r.Post("/evaluate", handler.Verify)

		// Evaluation retrieval
		r.Get("/evaluations/{id}", handler.GetEvaluation)
		r.Get("/sessions/{id}/evaluations", handler.ListSessionEvaluations)

		// Rule management
		r.Get("/rules", handler.ListRules)
		r.Get("/rules/stats", handler.RuleStats)
		r.Get("/rules/reloads", handler.ListReloadRecords)
		r.Get("/rules/{id}", handler.GetRule)
		r.Post("/rules/reload", handler.ReloadRules)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
