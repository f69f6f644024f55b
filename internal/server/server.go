// Package server exposes the read-only HTTP status API of a running bot.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/gridbot/internal/domain"
	"github.com/alanyoungcy/gridbot/internal/server/handler"
	"github.com/alanyoungcy/gridbot/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey protects every route except the health check. Empty disables
	// authentication.
	APIKey string
	// RequestsPerMinute budgets each client IP when Limiter is set.
	RequestsPerMinute int
	Limiter           domain.RateLimiter
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health   *handler.HealthHandler
	Status   *handler.StatusHandler
	Sessions *handler.SessionHandler
	Orders   *handler.OrderHandler
	Trades   *handler.TradeHandler
}

// Server is the status API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

const healthPath = "/api/health"

// NewServer registers every route and wraps the mux in the middleware
// chain: CORS, logging, rate limit, auth.
func NewServer(cfg Config, handlers Handlers, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           newHandler(cfg, handlers, logger),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

func newHandler(cfg Config, handlers Handlers, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+healthPath, handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	mux.HandleFunc("GET /api/session", handlers.Sessions.GetSession)
	mux.HandleFunc("GET /api/sessions", handlers.Sessions.ListSessions)
	mux.HandleFunc("GET /api/orders", handlers.Orders.ListOrders)
	mux.HandleFunc("GET /api/trades", handlers.Trades.ListTrades)

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, healthPath)(h)
	if cfg.Limiter != nil && cfg.RequestsPerMinute > 0 {
		h = middleware.RateLimit(cfg.Limiter, cfg.RequestsPerMinute, time.Minute)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.httpServer.Addr, err)
	}
	s.logger.InfoContext(ctx, "server: starting", slog.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.Serve(ln) }()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown waits for in-flight requests within the ctx deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.InfoContext(ctx, "server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
