// Package server provides the HTTP API for hubagent.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/hubagent/internal/config"
	"github.com/hyperjump/hubagent/internal/models"
	"github.com/hyperjump/hubagent/internal/retrieval"
	"github.com/hyperjump/hubagent/pkg/utils"
	"go.uber.org/zap"
)

// Asker answers free-text questions.
type Asker interface {
	Handle(ctx context.Context, text string) models.AgentAnswer
}

// IndexManager exposes the document index lifecycle.
type IndexManager interface {
	Rebuild(ctx context.Context) error
	Status() retrieval.Status
}

// Server is the HTTP server for the hubagent API.
type Server struct {
	asker  Asker
	index  IndexManager
	config *config.ServerConfig
	logger *zap.Logger
	server *http.Server
}

// NewServer creates a server with the given dependencies. index may be nil when
// document retrieval is disabled.
func NewServer(asker Asker, index IndexManager, cfg *config.ServerConfig, logger *zap.Logger) *Server {
	return &Server{
		asker:  asker,
		index:  index,
		config: cfg,
		logger: utils.OrNop(logger),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/ask", s.handleAsk)
	r.Post("/api/v1/index/rebuild", s.handleRebuild)
	r.Get("/api/v1/index/status", s.handleStatus)
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
