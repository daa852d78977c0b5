// Package server exposes the OpenAI-compatible HTTP surface and the admin
// and metrics endpoints, wiring requests into the orchestrator, the
// streaming processor, and the video task manager.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/Mouseww/grok2api-pro/pkg/account"
	"github.com/Mouseww/grok2api-pro/pkg/calllog"
	"github.com/Mouseww/grok2api-pro/pkg/config"
	"github.com/Mouseww/grok2api-pro/pkg/media"
	"github.com/Mouseww/grok2api-pro/pkg/orchestrator"
	"github.com/Mouseww/grok2api-pro/pkg/proxypool"
	"github.com/Mouseww/grok2api-pro/pkg/stream"
	"github.com/Mouseww/grok2api-pro/pkg/telemetry/metrics"
	"github.com/Mouseww/grok2api-pro/pkg/upstream"
	"github.com/Mouseww/grok2api-pro/pkg/video"
)

// Deps carries the wired components the server serves.
type Deps struct {
	Accounts     *account.Pool
	Proxies      *proxypool.Pool
	Orchestrator *orchestrator.Orchestrator
	Upstream     *upstream.Client
	Processor    *stream.Processor
	Fetcher      *media.Fetcher
	Videos       *video.Manager
	CallLog      *calllog.Recorder
	Metrics      *metrics.Collector
}

// Server is the gateway HTTP server.
type Server struct {
	cfg    config.ServerConfig
	deps   Deps
	logger *slog.Logger

	httpServer   *http.Server
	shutdownOnce sync.Once

	mu        sync.RWMutex
	isRunning bool
}

// NewServer creates the gateway server.
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	return &Server{
		cfg:    cfg,
		deps:   deps,
		logger: slog.Default().With("component", "server"),
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	s.httpServer = &http.Server{
		Addr:         s.cfg.ListenAddress,
		Handler:      s.setupRoutes(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting gateway server", "address", s.cfg.ListenAddress)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		running := s.isRunning
		s.isRunning = false
		s.mu.Unlock()
		if !running || s.httpServer == nil {
			return
		}

		s.logger.Info("initiating graceful shutdown", "timeout", s.cfg.ShutdownTimeout.String())
		shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error during server shutdown", "error", err)
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}
	})
	return shutdownErr
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Handler exposes the route tree, used by tests.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat/completions", s.requireAPIKey(s.handleChatCompletions))
	mux.HandleFunc("POST /v1/images/generations", s.requireAPIKey(s.handleImageGenerations))
	mux.HandleFunc("GET /v1/models", s.requireAPIKey(s.handleListModels))

	mux.HandleFunc("POST /v1/videos", s.requireAPIKey(s.handleCreateVideo))
	mux.HandleFunc("POST /v1/videos/generations", s.requireAPIKey(s.handleCreateVideo))
	mux.HandleFunc("GET /v1/videos", s.requireAPIKey(s.handleListVideos))
	mux.HandleFunc("GET /v1/videos/{id}", s.requireAPIKey(s.handleGetVideo))
	mux.HandleFunc("DELETE /v1/videos/{id}", s.requireAPIKey(s.handleDeleteVideo))
	mux.HandleFunc("POST /v1/videos/{id}/remix", s.requireAPIKey(s.handleRemixVideo))
	mux.HandleFunc("GET /v1/videos/{id}/content", s.requireAPIKey(s.handleVideoContent))

	mux.HandleFunc("GET /media/{key}", s.handleMedia)
	mux.HandleFunc("GET /health", s.handleHealth)

	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}

	s.registerAdminRoutes(mux)

	var handler http.Handler = mux
	handler = s.loggingMiddleware(handler)
	handler = s.recoveryMiddleware(handler)
	return handler
}
