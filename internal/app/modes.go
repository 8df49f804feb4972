package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/papertrade/internal/config"
	"github.com/alanyoungcy/papertrade/internal/domain"
	"github.com/alanyoungcy/papertrade/internal/feed"
	"github.com/alanyoungcy/papertrade/internal/metrics"
	"github.com/alanyoungcy/papertrade/internal/notify"
	"github.com/alanyoungcy/papertrade/internal/server"
	"github.com/alanyoungcy/papertrade/internal/server/handler"
	"github.com/alanyoungcy/papertrade/internal/server/ws"
	"github.com/alanyoungcy/papertrade/internal/service"
)

// engine is the running trading core of one process.
type engine struct {
	registry *prometheus.Registry
	metrics  *metrics.Collectors

	feed    domain.PriceFeed
	sim     *feed.SimulatedFeed // nil unless the simulated source is active
	runFeed func(ctx context.Context) error

	settings *service.RiskSettingsService
	bridges  *service.BridgeRegistry
	monitor  *service.RiskManager
	hub      *ws.Hub
	alerts   *notify.Alerts
}

// PaperMode runs against in-memory stores. Nothing outside the process is
// required.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")
	return a.run(ctx, deps)
}

// LiveMode runs against Postgres and Redis, with the archive enabled when
// configured.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting live mode")
	return a.run(ctx, deps)
}

func (a *App) run(ctx context.Context, deps *Dependencies) error {
	e, err := a.buildEngine(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	detach := a.fanOut(ctx, e, deps)
	defer detach()

	g.Go(func() error { return e.hub.Run(ctx) })
	g.Go(func() error { return e.alerts.Run(ctx) })
	g.Go(func() error { return e.runFeed(ctx) })

	if deps.SignalBus != nil {
		g.Go(func() error { return a.followSettings(ctx, e, deps.SignalBus) })
	}

	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.Run(ctx, a.cfg.Archive.Interval.Duration, a.cfg.Archive.Retention.Duration)
		})
	}

	if a.cfg.Monitor.AutoStart {
		if err := e.monitor.StartMonitoring(ctx, a.cfg.Monitor.Interval.Duration); err != nil {
			return fmt.Errorf("app: start monitor: %w", err)
		}
	}
	g.Go(func() error {
		<-ctx.Done()
		e.monitor.StopMonitoring()
		return nil
	})

	if a.cfg.Server.Enabled {
		srv := a.newServer(e, deps)
		g.Go(func() error { return srv.Run(ctx) })
	}

	return g.Wait()
}

// buildEngine constructs the feed, services and delivery components.
func (a *App) buildEngine(deps *Dependencies) (*engine, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	e := &engine{registry: reg, metrics: metrics.New(reg)}

	sinkOpts := []feed.Option{feed.WithMetrics(e.metrics)}
	if deps.PriceCache != nil {
		sinkOpts = append(sinkOpts, feed.WithPriceCache(deps.PriceCache))
	}
	if deps.SignalBus != nil {
		sinkOpts = append(sinkOpts, feed.WithSignalBus(deps.SignalBus))
	}

	switch strings.ToLower(a.cfg.Feed.Source) {
	case config.FeedBinance:
		bf := feed.NewBinanceFeed(a.cfg.Feed.BinanceURL, a.cfg.Feed.Symbols, a.logger, sinkOpts...)
		e.feed, e.runFeed = bf, bf.Run
	case config.FeedSimulated:
		sim := feed.NewSimulatedFeed(a.cfg.Feed.InitialPrices, a.logger, sinkOpts...)
		e.feed, e.sim = sim, sim
		e.runFeed = func(ctx context.Context) error {
			if !a.cfg.Feed.RandomWalk {
				<-ctx.Done()
				return nil
			}
			return sim.RunRandomWalk(ctx, a.cfg.Feed.WalkInterval.Duration, a.cfg.Feed.WalkVolatility)
		}
	default:
		return nil, fmt.Errorf("app: unknown feed source %q", a.cfg.Feed.Source)
	}

	e.settings = service.NewRiskSettingsService(deps.RiskSettings, a.logger)

	bridgeDeps := service.BridgeDeps{
		Accounts:        deps.Accounts,
		Positions:       deps.Positions,
		Trades:          deps.Trades,
		Feed:            e.feed,
		Settings:        e.settings,
		Locks:           deps.LockManager,
		Audit:           deps.Audit,
		Metrics:         e.metrics,
		StartingBalance: a.cfg.Trading.StartingBalance,
		Logger:          a.logger,
	}
	if a.cfg.Trading.EnforceDailyLimit {
		bridgeDeps.Limiter = deps.RateLimiter
	}
	e.bridges = service.NewBridgeRegistry(bridgeDeps)
	e.monitor = service.NewRiskManager(deps.Accounts, e.bridges, e.feed, e.metrics, a.cfg.Monitor.MaxConcurrency, a.logger)

	e.hub = ws.NewHub(deps.SignalBus, func() any {
		return map[string]any{"mode": a.cfg.Mode, "monitor": e.monitor.Stats()}
	}, a.logger)
	e.alerts = notify.NewAlerts(deps.Notifier, a.logger)
	return e, nil
}

func (a *App) newServer(e *engine, deps *Dependencies) *server.Server {
	handlers := server.Handlers{
		Health:       handler.NewHealthHandler(deps.Pingers, a.logger),
		Status:       handler.NewStatusHandler(a.cfg.Mode, e.monitor, a.cfg.Monitor.Interval.Duration),
		Trading:      handler.NewTradingHandler(e.bridges, a.logger),
		RiskSettings: handler.NewRiskSettingsHandler(e.settings, a.logger),
	}
	if e.sim != nil {
		handlers.Prices = handler.NewPriceHandler(e.sim, a.logger)
	}
	return server.NewServer(server.Config{
		Addr:        fmt.Sprintf(":%d", a.cfg.Server.Port),
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, server.Options{
		Hub:      e.hub,
		Limiter:  deps.RateLimiter,
		Gatherer: e.registry,
	}, a.logger)
}

// logDrop records a best-effort delivery failure.
func (a *App) logDrop(ctx context.Context, what string, err error) {
	a.logger.WarnContext(ctx, "event delivery failed",
		slog.String("target", what),
		slog.String("error", err.Error()),
	)
}
