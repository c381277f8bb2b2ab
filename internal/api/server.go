package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"modelreg/internal/logging"
	"modelreg/internal/metrics"
	"modelreg/internal/registry"
)

// Server represents the HTTP API server
type Server struct {
	router   *http.ServeMux
	server   *http.Server
	addr     string
	logger   *logging.Logger
	registry *registry.Registry
	metrics  *metrics.Metrics
	started  time.Time

	// queryTimeout bounds each /query request; zero means none
	queryTimeout time.Duration
}

// NewServer creates a new HTTP server instance. m may be nil, in which case
// /metrics is not served.
func NewServer(addr string, reg *registry.Registry, m *metrics.Metrics, logger *logging.Logger, queryTimeout time.Duration) *Server {
	s := &Server{
		addr:         addr,
		logger:       logger,
		registry:     reg,
		metrics:      m,
		router:       http.NewServeMux(),
		started:      time.Now(),
		queryTimeout: queryTimeout,
	}

	s.registerRoutes()

	handler := s.applyMiddleware(s.router)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: queryTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", map[string]interface{}{
		"addr": s.addr,
	})

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server", nil)

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("Server shut down successfully", nil)
	return nil
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.server.Handler.ServeHTTP(w, r)
}

// applyMiddleware wraps the handler with middleware in the correct order
func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	// Apply middleware in reverse order (last one wraps first)
	handler = RecoveryMiddleware(s.logger)(handler)
	handler = LoggingMiddleware(s.logger)(handler)
	handler = RequestIDMiddleware()(handler)
	return handler
}
