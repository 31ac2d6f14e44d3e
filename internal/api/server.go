// Package api is the HTTP surface the campaign console polls. All reads
// serve snapshot copies; all writes go through the engine's state
// machine.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mtelegin/herald/internal/config"
	"github.com/mtelegin/herald/internal/engine"
	"github.com/mtelegin/herald/internal/metrics"
	"github.com/mtelegin/herald/internal/profiles"
	"github.com/mtelegin/herald/internal/template"
)

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	engine     *engine.Engine
	registry   profiles.Registry
	templates  *template.Storage
	renderer   *template.Engine
	config     *config.ServerConfig
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server
func NewServer(e *engine.Engine, reg profiles.Registry, tmpl *template.Storage, cfg *config.ServerConfig, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		engine:    e,
		registry:  reg,
		templates: tmpl,
		renderer:  template.NewEngine(),
		config:    cfg,
		logger:    logger.With("component", "api"),
		startTime: time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(metrics.HTTPMiddleware)
	s.router.Use(middleware.Recoverer)

	// Health check (no auth required)
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/campaigns", s.handleListCampaigns)
		r.Post("/campaigns", s.handleCreateCampaign)
		r.Get("/campaigns/{id}", s.handleGetCampaign)
		r.Delete("/campaigns/{id}", s.handleDeleteCampaign)
		r.Get("/campaigns/{id}/progress", s.handleProgress)
		r.Post("/campaigns/{id}/schedule", s.handleSchedule)
		r.Post("/campaigns/{id}/start", s.handleStart)
		r.Post("/campaigns/{id}/pause", s.handlePause)
		r.Post("/campaigns/{id}/resume", s.handleResume)
		r.Post("/campaigns/{id}/cancel", s.handleCancel)

		r.Get("/profiles", s.handleListProfiles)

		r.Get("/templates", s.handleListTemplates)
		r.Post("/templates", s.handleCreateTemplate)
		r.Get("/templates/{id}", s.handleGetTemplate)
		r.Put("/templates/{id}", s.handleUpdateTemplate)
		r.Delete("/templates/{id}", s.handleDeleteTemplate)
		r.Post("/templates/{id}/preview", s.handlePreviewTemplate)
	})
}

// Handler returns the router, used by tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
