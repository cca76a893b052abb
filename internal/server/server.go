// Package server is the HTTP and WebSocket API for inspecting and steering
// the bandit.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/chainbandit/internal/domain"
	"github.com/alanyoungcy/chainbandit/internal/server/handler"
	"github.com/alanyoungcy/chainbandit/internal/server/middleware"
	"github.com/alanyoungcy/chainbandit/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication
	// RateLimit caps state-changing requests per client per minute; 0
	// disables it.
	RateLimit int
}

// Handlers aggregates the HTTP handlers the server registers. Audit, WS and
// Metrics are optional.
type Handlers struct {
	Health  *handler.HealthHandler
	Bandit  *handler.BanditHandler
	Audit   *handler.AuditHandler
	WS      *ws.Hub
	Metrics prometheus.Gatherer
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers routes and wraps them in CORS, logging, auth and
// rate limiting, outermost first.
func NewServer(cfg Config, h Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewHandler(cfg, h, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger.With(slog.String("component", "server"))}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, h Handlers, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)

	mux.HandleFunc("GET /api/bandit/state", h.Bandit.State)
	mux.HandleFunc("GET /api/bandit/best", h.Bandit.Best)
	mux.HandleFunc("GET /api/bandit/decisions", h.Bandit.Decisions)
	mux.HandleFunc("POST /api/bandit/choose", h.Bandit.Choose)
	mux.HandleFunc("POST /api/bandit/update", h.Bandit.Update)
	mux.HandleFunc("POST /api/bandit/reset", h.Bandit.Reset)
	mux.HandleFunc("POST /api/bandit/decay", h.Bandit.Decay)

	if h.Audit != nil {
		mux.HandleFunc("GET /api/audit", h.Audit.List)
	}
	if h.WS != nil {
		mux.HandleFunc("GET /ws", h.WS.HandleWS)
	}
	if h.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(h.Metrics, promhttp.HandlerOpts{}))
	}

	var out http.Handler = mux
	out = middleware.RateLimit(limiter, cfg.RateLimit, time.Minute)(out)
	out = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(out)
	out = middleware.Logging(logger)(out)
	out = middleware.CORS(cfg.CORSOrigins)(out)
	return out
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
