// Package server exposes the trading engine over HTTP and WebSocket.
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

	"github.com/alanyoungcy/papertrade/internal/domain"
	"github.com/alanyoungcy/papertrade/internal/server/handler"
	"github.com/alanyoungcy/papertrade/internal/server/middleware"
	"github.com/alanyoungcy/papertrade/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Addr        string
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit, when positive and a Limiter is supplied, caps requests per
	// client IP per RateWindow.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers. Prices is
// optional and only set when the simulated feed is active.
type Handlers struct {
	Health       *handler.HealthHandler
	Status       *handler.StatusHandler
	Trading      *handler.TradingHandler
	RiskSettings *handler.RiskSettingsHandler
	Prices       *handler.PriceHandler
}

// Options are optional collaborators.
type Options struct {
	Hub      *ws.Hub
	Limiter  domain.RateLimiter
	Gatherer prometheus.Gatherer
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware chain
// (CORS, logging, auth, rate limit).
func NewServer(cfg Config, handlers Handlers, opts Options, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      NewHandler(cfg, handlers, opts, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// NewHandler builds the routed, middleware-wrapped http.Handler.
func NewHandler(cfg Config, handlers Handlers, opts Options, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	mux.HandleFunc("POST /api/monitor/start", handlers.Status.StartMonitor)
	mux.HandleFunc("POST /api/monitor/stop", handlers.Status.StopMonitor)

	mux.HandleFunc("GET /api/users/{userID}/account", handlers.Trading.GetAccount)
	mux.HandleFunc("POST /api/users/{userID}/trades", handlers.Trading.ExecuteTrade)
	mux.HandleFunc("GET /api/users/{userID}/trades", handlers.Trading.ListTrades)
	mux.HandleFunc("GET /api/users/{userID}/positions", handlers.Trading.ListPositions)
	mux.HandleFunc("POST /api/users/{userID}/positions/{id}/close", handlers.Trading.ClosePosition)

	mux.HandleFunc("GET /api/risk-profiles", handlers.RiskSettings.ListProfiles)
	mux.HandleFunc("GET /api/users/{userID}/risk-settings", handlers.RiskSettings.GetSettings)
	mux.HandleFunc("PATCH /api/users/{userID}/risk-settings", handlers.RiskSettings.UpdateSettings)
	mux.HandleFunc("POST /api/users/{userID}/risk-settings/profile", handlers.RiskSettings.ApplyProfile)

	if handlers.Prices != nil {
		mux.HandleFunc("POST /api/prices/{symbol}", handlers.Prices.SetPrice)
	}
	if opts.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	if opts.Hub != nil {
		mux.HandleFunc("GET /ws", opts.Hub.HandleWS)
	}

	var h http.Handler = mux
	if opts.Limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(opts.Limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
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
	return s.Shutdown(shutdownCtx)
}

// Shutdown waits for in-flight requests within the ctx deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
