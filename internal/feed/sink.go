// Package feed provides domain.PriceFeed implementations: a deterministic
// simulated feed for paper mode and tests, and a Binance futures mark-price
// feed for live mode.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/papertrade/internal/domain"
	"github.com/alanyoungcy/papertrade/internal/metrics"
)

// Option configures the side outputs shared by every feed.
type Option func(*sink)

// WithPriceCache mirrors every observed price into c, and serves lookups
// from it when the feed has no local price yet.
func WithPriceCache(c domain.PriceCache) Option {
	return func(s *sink) { s.cache = c }
}

// WithSignalBus publishes every tick on domain.ChannelPrices.
func WithSignalBus(b domain.SignalBus) Option {
	return func(s *sink) { s.bus = b }
}

// WithMetrics counts ticks per symbol.
func WithMetrics(m *metrics.Collectors) Option {
	return func(s *sink) { s.metrics = m }
}

// sink forwards ticks to the optional cache, bus and metrics. Failures are
// logged; they never block the tick itself.
type sink struct {
	cache   domain.PriceCache
	bus     domain.SignalBus
	metrics *metrics.Collectors
	logger  *slog.Logger
}

func (s *sink) record(ctx context.Context, tick domain.PriceTick) {
	s.metrics.ObserveTick(tick.Symbol)

	if s.cache != nil {
		if err := s.cache.SetPrice(ctx, tick.Symbol, tick.NewPrice, tick.Timestamp); err != nil {
			s.logger.DebugContext(ctx, "price cache write failed",
				slog.String("symbol", tick.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.bus != nil {
		payload, err := json.Marshal(tick)
		if err != nil {
			return
		}
		if err := s.bus.Publish(ctx, domain.ChannelPrices, payload); err != nil {
			s.logger.DebugContext(ctx, "price publish failed",
				slog.String("symbol", tick.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *sink) cached(ctx context.Context, symbol string) (float64, bool) {
	if s.cache == nil {
		return 0, false
	}
	p, _, err := s.cache.GetPrice(ctx, symbol)
	if err != nil || p <= 0 {
		return 0, false
	}
	return p, true
}
