// Package server exposes the book generation engine over HTTP: job
// submission, approval, cancellation, progress streaming, and metrics.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Davinchi1352/bukoai-sub001/internal/jobs"
)

// Server is the main bukoai HTTP server.
type Server struct {
	httpServer *http.Server
	store      jobs.Store
	scheduler  *jobs.Scheduler
	hub        *jobs.Hub
	logger     *slog.Logger

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Addr is the listen address (default: :8080)
	Addr string
	// Store reads job state for the query endpoints
	Store jobs.Store
	// Scheduler accepts submissions, approvals, and cancellations
	Scheduler *jobs.Scheduler
	// Hub fans progress events out to SSE subscribers
	Hub *jobs.Hub
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		store:     cfg.Store,
		scheduler: cfg.Scheduler,
		hub:       cfg.Hub,
		logger:    cfg.Logger,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:        cfg.Addr,
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: the SSE progress stream holds its response
		// open for the lifetime of a job.
		IdleTimeout: 120 * time.Second,
	}

	return s
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /v1/books", s.handleCreateBook)
	mux.HandleFunc("GET /v1/books/{id}", s.handleGetBook)
	mux.HandleFunc("POST /v1/books/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /v1/books/{id}/regenerate", s.handleRegenerate)
	mux.HandleFunc("POST /v1/books/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /v1/books/{id}/events", s.handleEvents)
	mux.Handle("GET /metrics", promhttp.Handler())
}

// Start runs the HTTP server until the context is cancelled, then shuts
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()
	defer s.setNotRunning()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the route mux, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
