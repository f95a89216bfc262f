// Package server provides the HTTP API for Kioku.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/kioku/internal/backend"
	"github.com/hyperjump/kioku/internal/cache"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/ingest"
	"github.com/hyperjump/kioku/internal/retrieval"
	"github.com/hyperjump/kioku/internal/vectorstore"
	"go.uber.org/zap"
)

// Server is the HTTP server for the Kioku API.
type Server struct {
	ingester  *ingest.Service
	retriever *retrieval.Service
	store     *vectorstore.Store
	backend   backend.Backend
	limiter   *cache.RateLimiter // optional; nil disables throttling
	config    *config.Config
	logger    *zap.Logger
	server    *http.Server
}

// NewServer creates a server with the given dependencies. A nil limiter
// disables rate limiting.
func NewServer(
	ingester *ingest.Service,
	retriever *retrieval.Service,
	store *vectorstore.Store,
	b backend.Backend,
	limiter *cache.RateLimiter,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		ingester:  ingester,
		retriever: retriever,
		store:     store,
		backend:   b,
		limiter:   limiter,
		config:    cfg,
		logger:    logger,
	}
}

// Router builds the HTTP routes. Exposed for handler tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/query", s.handleQuery)
	r.Post("/api/v1/retrieve", s.handleRetrieve)
	r.Post("/api/v1/ingest", s.handleIngest)
	r.Get("/api/v1/collections", s.handleListCollections)
	r.Delete("/api/v1/collections/{name}", s.handleDeleteCollection)
	r.Get("/api/v1/sources", s.handleListSources)
	r.Delete("/api/v1/sources/{source}", s.handleDeleteSource)
	r.Get("/api/v1/stats", s.handleStats)
	r.Post("/api/v1/cache/clear", s.handleClearCache)
	r.Get("/health", s.handleHealth)

	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
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
