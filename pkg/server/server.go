// Package server provides the management HTTP surface: current prices,
// force-refresh, health, metrics and version. It is the only way the rest of
// the application reads this subsystem, and its read path never blocks on
// network or lock activity.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/pricefeed/pricefeed/pkg/observability/logger"
)

// Config holds configuration for the management HTTP server.
type Config struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server wraps http.Server with graceful lifecycle management.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	log        logger.Logger
	config     Config
}

// New creates a management server around the given router.
func New(cfg Config, router *mux.Router, log logger.Logger) *Server {
	return &Server{
		router: router,
		log:    log,
		config: cfg,
	}
}

// Start runs the server until ctx is cancelled, then shuts down gracefully.
// Returns an error if the listener fails to start or shutdown fails.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	s.log.Info("starting management server", "port", s.config.Port)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("management server failed to start: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown stops accepting connections and waits for in-flight requests,
// bounded by a 30-second timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down management server", "port", s.config.Port)

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("management server shutdown failed: %w", err)
	}
	return nil
}
