package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/papertrade/internal/domain"
	"github.com/alanyoungcy/papertrade/internal/events"
	"github.com/alanyoungcy/papertrade/internal/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeFeed serves fixed prices and lets tests push ticks. A symbol listed in
// gates blocks GetCurrentPrice until the gate channel is closed.
type fakeFeed struct {
	mu      sync.Mutex
	prices  map[string]float64
	fail    map[string]error
	gates   map[string]chan struct{}
	waiting chan string
	ticks   events.Emitter[domain.PriceTick]
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		prices:  make(map[string]float64),
		fail:    make(map[string]error),
		gates:   make(map[string]chan struct{}),
		waiting: make(chan string, 16),
	}
}

func (f *fakeFeed) set(symbol string, price float64) {
	f.mu.Lock()
	f.prices[symbol] = price
	f.mu.Unlock()
}

func (f *fakeFeed) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	gate := f.gates[symbol]
	f.mu.Unlock()
	if gate != nil {
		f.waiting <- symbol
		select {
		case <-gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[symbol]; err != nil {
		return 0, err
	}
	p, ok := f.prices[symbol]
	if !ok {
		return 0, domain.ErrPriceFeed
	}
	return p, nil
}

func (f *fakeFeed) SubscribePriceChanges(fn func(domain.PriceTick)) func() {
	return f.ticks.Subscribe(fn)
}

func (f *fakeFeed) simulate(symbol string, price float64) {
	f.mu.Lock()
	old := f.prices[symbol]
	f.prices[symbol] = price
	f.mu.Unlock()
	f.ticks.Emit(domain.NewPriceTick(symbol, old, price, time.Now()))
}

// flakySettingsStore wraps a real store and fails on demand.
type flakySettingsStore struct {
	domain.RiskSettingsStore
	mu         sync.Mutex
	failGet    bool
	failUpdate bool
	gets       int
}

var errDown = errors.New("database unavailable")

func (s *flakySettingsStore) GetByUserID(ctx context.Context, userID string) (domain.RiskSettings, error) {
	s.mu.Lock()
	s.gets++
	fail := s.failGet
	s.mu.Unlock()
	if fail {
		return domain.RiskSettings{}, errDown
	}
	return s.RiskSettingsStore.GetByUserID(ctx, userID)
}

func (s *flakySettingsStore) Update(ctx context.Context, rs domain.RiskSettings) (domain.RiskSettings, error) {
	s.mu.Lock()
	fail := s.failUpdate
	s.mu.Unlock()
	if fail {
		return domain.RiskSettings{}, errDown
	}
	return s.RiskSettingsStore.Update(ctx, rs)
}

type harness struct {
	store    *memory.Store
	feed     *fakeFeed
	settings *RiskSettingsService
	registry *BridgeRegistry
	monitor  *RiskManager
}

func newHarness() *harness {
	st := memory.New()
	feed := newFakeFeed()
	logger := discardLogger()
	deps := BridgeDeps{
		Accounts:  st.Accounts(),
		Positions: st.Positions(),
		Trades:    st.Trades(),
		Feed:      feed,
		Audit:     st.Audit(),
		Logger:    logger,
	}
	registry := NewBridgeRegistry(deps)
	return &harness{
		store:    st,
		feed:     feed,
		settings: NewRiskSettingsService(st.RiskSettings(), logger),
		registry: registry,
		monitor:  NewRiskManager(st.Accounts(), registry, feed, nil, 8, logger),
	}
}

func (h *harness) bridge(userID string) *TradingBridge {
	b, err := h.registry.ForUser(context.Background(), userID)
	if err != nil {
		panic(err)
	}
	return b
}

// recorder collects emitted events.
type recorder[T any] struct {
	mu  sync.Mutex
	got []T
}

func (r *recorder[T]) add(v T) {
	r.mu.Lock()
	r.got = append(r.got, v)
	r.mu.Unlock()
}

func (r *recorder[T]) all() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.got...)
}
