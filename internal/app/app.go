// Package app provides the top-level application lifecycle management for the
// paper trading engine. It wires together all dependencies (stores, caches,
// price feed, services, archive and notifications) and starts the goroutines
// of the configured run mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/alanyoungcy/papertrade/internal/config"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	// instanceID tags bus messages this process publishes so it can ignore
	// its own echoes.
	instanceID string
	closers    []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "app")),
		instanceID: uuid.NewString(),
	}
}

// Run wires all dependencies, starts the configured mode and blocks until
// the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
		slog.String("instance_id", a.instanceID),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case config.ModePaper:
		return a.PaperMode(ctx, deps)
	case config.ModeLive:
		return a.LiveMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
