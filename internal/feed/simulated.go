package feed

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/papertrade/internal/domain"
	"github.com/alanyoungcy/papertrade/internal/events"
)

// SimulatedFeed holds prices in memory and emits a tick whenever
// SimulatePriceChange is called. It is fully deterministic unless
// RunRandomWalk is running.
type SimulatedFeed struct {
	sink
	ticks events.Emitter[domain.PriceTick]
	now   func() time.Time

	mu     sync.RWMutex
	prices map[string]float64
}

var _ domain.PriceFeed = (*SimulatedFeed)(nil)

// NewSimulatedFeed creates a feed seeded with initial prices.
func NewSimulatedFeed(initial map[string]float64, logger *slog.Logger, opts ...Option) *SimulatedFeed {
	f := &SimulatedFeed{
		prices: make(map[string]float64, len(initial)),
		now:    func() time.Time { return time.Now().UTC() },
	}
	f.logger = logger.With(slog.String("component", "simulated_feed"))
	for _, o := range opts {
		o(&f.sink)
	}
	for sym, p := range initial {
		f.prices[normalizeSymbol(sym)] = p
	}
	return f
}

// GetCurrentPrice returns the latest simulated price for symbol.
func (f *SimulatedFeed) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	symbol = normalizeSymbol(symbol)
	f.mu.RLock()
	p, ok := f.prices[symbol]
	f.mu.RUnlock()
	if ok {
		return p, nil
	}
	if p, ok := f.cached(ctx, symbol); ok {
		return p, nil
	}
	return 0, fmt.Errorf("feed: no price for %s: %w", symbol, domain.ErrPriceFeed)
}

// SubscribePriceChanges registers fn for every subsequent tick.
func (f *SimulatedFeed) SubscribePriceChanges(fn func(domain.PriceTick)) (unsubscribe func()) {
	return f.ticks.Subscribe(fn)
}

// SetPrice sets a price without notifying subscribers.
func (f *SimulatedFeed) SetPrice(symbol string, price float64) {
	f.mu.Lock()
	f.prices[normalizeSymbol(symbol)] = price
	f.mu.Unlock()
}

// SimulatePriceChange sets a new price and synchronously notifies every
// subscriber before returning.
func (f *SimulatedFeed) SimulatePriceChange(ctx context.Context, symbol string, price float64) (domain.PriceTick, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return domain.PriceTick{}, fmt.Errorf("feed: %w: symbol is required", domain.ErrInvalidParameters)
	}
	if !(price > 0) || math.IsInf(price, 0) {
		return domain.PriceTick{}, fmt.Errorf("feed: %w: price must be a positive number", domain.ErrInvalidParameters)
	}

	f.mu.Lock()
	old := f.prices[symbol]
	f.prices[symbol] = price
	f.mu.Unlock()

	tick := domain.NewPriceTick(symbol, old, price, f.now())
	f.record(ctx, tick)
	f.ticks.Emit(tick)
	return tick, nil
}

// Symbols lists every symbol with a price, sorted.
func (f *SimulatedFeed) Symbols() []string {
	f.mu.RLock()
	out := make([]string, 0, len(f.prices))
	for s := range f.prices {
		out = append(out, s)
	}
	f.mu.RUnlock()
	sort.Strings(out)
	return out
}

// RunRandomWalk moves every known price by a normally distributed step of
// the given relative volatility each interval, until ctx is done.
func (f *SimulatedFeed) RunRandomWalk(ctx context.Context, interval time.Duration, volatility float64) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, sym := range f.Symbols() {
				cur, err := f.GetCurrentPrice(ctx, sym)
				if err != nil {
					continue
				}
				next := cur * (1 + rand.NormFloat64()*volatility)
				if next <= 0 {
					continue
				}
				if _, err := f.SimulatePriceChange(ctx, sym, next); err != nil {
					f.logger.WarnContext(ctx, "random walk step failed",
						slog.String("symbol", sym),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
