// Package server exposes the pipeline over HTTP for the web app.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"cogni/internal/config"
	"cogni/internal/llm"
	"cogni/internal/logger"
	"cogni/internal/pipeline"
	"cogni/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Server represents the HTTP server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	pipeline   *pipeline.Pipeline
	store      store.Store
	client     llm.Client
	config     config.Server
	log        *slog.Logger
}

// New creates a new HTTP server instance
func New(p *pipeline.Pipeline, st store.Store, client llm.Client, cfg config.Server) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		pipeline: p,
		store:    st,
		client:   client,
		config:   cfg,
		log:      logger.Get(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// setupMiddleware configures middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	// Generation runs can spend minutes across provider calls; the timeout
	// bounds the HTTP response, not the run itself.
	s.router.Use(middleware.Timeout(5 * time.Minute))

	if s.config.CORS.Enabled {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.config.CORS.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
}

// setupRoutes configures routes for the server
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Post("/generate-study-guide", s.handleGenerateStudyGuide)
	s.router.Post("/generate-insights", s.handleGenerateInsights)

	s.router.Get("/study-guide/{classroomID}", s.handleGetStudyGuide)
	s.router.Get("/insights/{classroomID}", s.handleGetInsights)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info("Starting HTTP server",
		"addr", s.httpServer.Addr,
		"provider", s.client.Provider(),
		"model", s.client.ModelName(),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed to start: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down HTTP server gracefully...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.log.Info("HTTP server stopped")
	return nil
}

// Router returns the chi router instance (useful for testing)
func (s *Server) Router() *chi.Mux {
	return s.router
}
