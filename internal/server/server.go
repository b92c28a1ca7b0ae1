// Package server provides the HTTP API for FeedSpace.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/onetwothreethreetwoone/FeedSpace/internal/config"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/graph"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/ingest"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/storage"
)

// WatchService lists the directories the drop watcher observes.
type WatchService interface {
	Directories() []string
}

// Server is the HTTP server for the FeedSpace API.
type Server struct {
	store    *graph.Store
	service  *ingest.Service
	scorer   ingest.Scorer
	storage  storage.Storage
	config   *config.Config
	watch    WatchService
	metrics  http.Handler
	stream   *Broadcaster
	validate *validator.Validate
	logger   *zap.Logger
	server   *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithStorage reports the persistence backend's row counts in the status endpoint.
func WithStorage(st storage.Storage) Option {
	return func(s *Server) { s.storage = st }
}

// WithWatch exposes the watched drop directories.
func WithWatch(w WatchService) Option {
	return func(s *Server) { s.watch = w }
}

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates a server and subscribes its event stream to store.
// scorer serves stateless scoring requests; svc handles everything that touches the cache.
func NewServer(cfg *config.Config, store *graph.Store, svc *ingest.Service, scorer ingest.Scorer, opts ...Option) *Server {
	s := &Server{
		store:    store,
		service:  svc,
		scorer:   scorer,
		config:   cfg,
		validate: validator.New(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.stream = NewBroadcaster(store.Snapshot, s.logger)
	store.Subscribe(s.stream)
	return s
}

// Router builds the chi router with every route mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	// The event stream stays open, so it is mounted outside the timeout and compression group.
	r.Get("/api/v1/graph/stream", s.stream.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(middleware.Compress(5))

		r.Get("/health", s.handleHealth)
		if s.metrics != nil {
			r.Handle("/metrics", s.metrics)
		}
		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/graph", s.handleGraph)
			r.Post("/graph", s.handleAddBoth)
			r.Post("/graph/clear", s.handleClear)
			r.Post("/embeddings", s.handleIngest)
			r.Post("/nodes", s.handleAddNodes)
			r.Delete("/nodes", s.handleRemoveNodes)
			r.Get("/nodes/search", s.handleSearch)
			r.Get("/nodes/{id}/similar", s.handleSimilar)
			r.Post("/links", s.handleAddLinks)
			r.Post("/links/redraw", s.handleRedrawLinks)
			r.Put("/threshold", s.handleThreshold)
			r.Put("/link-colors", s.handleLinkColors)
			r.Post("/score", s.handleScore)
			r.Get("/status", s.handleStatus)
			r.Get("/watch/directories", s.handleWatchDirectories)
		})
	})
	return r
}

func (s *Server) allowedOrigins() []string {
	if s.config == nil || len(s.config.Server.AllowedOrigins) == 0 {
		return []string{"*"}
	}
	return s.config.Server.AllowedOrigins
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop closes open event streams and gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.stream.Close()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
