// Package server exposes the assessment API over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/marketguard/internal/metrics"
	"github.com/alanyoungcy/marketguard/internal/server/handler"
	"github.com/alanyoungcy/marketguard/internal/server/middleware"
	"github.com/alanyoungcy/marketguard/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string  // if empty, authentication is disabled
	RateLimit   float64 // requests per second per client; 0 disables
	RateBurst   int
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health      *handler.HealthHandler
	Assessments *handler.AssessmentHandler
	Detection   *handler.DetectionHandler
	Audit       *handler.AuditHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on the ServeMux and
// the middleware chain applied. wsHub and m may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, m *metrics.Metrics, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check and metrics (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}

	mux.HandleFunc("GET /api/assessments", handlers.Assessments.ListLatest)
	mux.HandleFunc("GET /api/assessments/{symbol}", handlers.Assessments.GetLatest)
	mux.HandleFunc("GET /api/assessments/{symbol}/history", handlers.Assessments.History)

	if handlers.Detection != nil {
		mux.HandleFunc("GET /api/detection", handlers.Detection.GetConfig)
		mux.HandleFunc("PUT /api/detection", handlers.Detection.UpdateConfig)
	}

	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/audit", handlers.Audit.List)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var limiter *middleware.IPLimiter
	if cfg.RateLimit > 0 {
		limiter = middleware.NewIPLimiter(cfg.RateLimit, cfg.RateBurst)
	}

	// Outermost first: CORS, logging, rate limit, auth.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	h = middleware.RateLimit(limiter)(h)
	h = middleware.Logging(logger, m)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Handler returns the fully wrapped handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Serve is like Start but accepts connections on l.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("server: starting", slog.String("addr", l.Addr().String()))
	if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// Run serves until ctx is cancelled, then shuts down with a grace period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
