package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alanyoungcy/papertrade/internal/config"
	"github.com/alanyoungcy/papertrade/internal/domain"
	"github.com/alanyoungcy/papertrade/internal/notify"
	"github.com/alanyoungcy/papertrade/internal/store/memory"
)

type published struct {
	channel string
	payload []byte
}

type recordingBus struct {
	mu      sync.Mutex
	pubs    []published
	streams []published
}

func (b *recordingBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pubs = append(b.pubs, published{channel, payload})
	return nil
}

func (b *recordingBus) Subscribe(ctx context.Context, _ string) (<-chan []byte, error) {
	ch := make(chan []byte)
	go func() { <-ctx.Done(); close(ch) }()
	return ch, nil
}

func (b *recordingBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams = append(b.streams, published{stream, payload})
	return nil
}

func (b *recordingBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *recordingBus) on(channel string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out [][]byte
	for _, p := range b.pubs {
		if p.channel == channel {
			out = append(out, p.payload)
		}
	}
	return out
}

type countingSettings struct {
	domain.RiskSettingsStore
	gets atomic.Int32
}

func (c *countingSettings) GetByUserID(ctx context.Context, userID string) (domain.RiskSettings, error) {
	c.gets.Add(1)
	return c.RiskSettingsStore.GetByUserID(ctx, userID)
}

func newTestApp(t *testing.T) (*App, *engine, *recordingBus, *countingSettings) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Defaults()
	cfg.Feed.InitialPrices = map[string]float64{"BTCUSDT": 100}

	st := memory.New()
	bus := &recordingBus{}
	settings := &countingSettings{RiskSettingsStore: st.RiskSettings()}
	deps := &Dependencies{
		Accounts:     st.Accounts(),
		Positions:    st.Positions(),
		Trades:       st.Trades(),
		RiskSettings: settings,
		Audit:        st.Audit(),
		SignalBus:    bus,
		Notifier:     notify.NewNotifier(nil, nil, logger),
	}

	a := New(&cfg, logger)
	e, err := a.buildEngine(deps)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	detach := a.fanOut(ctx, e, deps)
	t.Cleanup(func() {
		detach()
		e.monitor.StopMonitoring()
		cancel()
	})
	return a, e, bus, settings
}

func TestFanOutPublishesAutoClose(t *testing.T) {
	_, e, bus, _ := newTestApp(t)
	ctx := context.Background()

	if err := e.monitor.StartMonitoring(ctx, 0); err != nil {
		t.Fatal(err)
	}
	b, err := e.bridges.ForUser(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	res, err := b.ExecuteTrade(ctx, domain.TradeSignal{
		Symbol: "BTCUSDT", Direction: domain.DirectionLong, EntryPrice: 100, Quantity: 1,
		Risk: domain.RiskParameters{TakeProfitPercent: domain.Percent(5)},
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := e.sim.SimulatePriceChange(ctx, "BTCUSDT", 106); err != nil {
		t.Fatal(err)
	}

	closed := bus.on(domain.ChannelPositionClosed)
	if len(closed) != 1 {
		t.Fatalf("position events = %d", len(closed))
	}
	var ev domain.PositionClosedEvent
	if err := json.Unmarshal(closed[0], &ev); err != nil {
		t.Fatal(err)
	}
	if ev.PositionID != res.PositionID || ev.Reason != domain.CloseReasonTakeProfit || ev.ClosePrice != 106 {
		t.Fatalf("event = %+v", ev)
	}
	if len(bus.streams) != 1 || bus.streams[0].channel != domain.StreamClosedTrades {
		t.Fatalf("streams = %+v", bus.streams)
	}
	if len(bus.on(domain.ChannelPrices)) != 1 {
		t.Fatalf("price publishes = %d", len(bus.on(domain.ChannelPrices)))
	}
}

func TestSettingsMessagesInvalidateCache(t *testing.T) {
	a, e, bus, store := newTestApp(t)
	ctx := context.Background()

	if _, err := e.settings.ApplyRiskProfile(ctx, "u1", "conservative"); err != nil {
		t.Fatal(err)
	}
	msgs := bus.on(domain.ChannelRiskSettings)
	if len(msgs) != 1 {
		t.Fatalf("settings publishes = %d", len(msgs))
	}

	// Our own echo leaves the cache alone.
	a.applySettingsMessage(ctx, e, msgs[0])
	before := store.gets.Load()
	e.settings.GetUserRiskSettings(ctx, "u1")
	if store.gets.Load() != before {
		t.Fatal("own message invalidated the cache")
	}

	foreign, _ := json.Marshal(settingsMessage{
		Origin:               "other-instance",
		SettingsUpdatedEvent: domain.SettingsUpdatedEvent{UserID: "u1"},
	})
	a.applySettingsMessage(ctx, e, foreign)
	e.settings.GetUserRiskSettings(ctx, "u1")
	if store.gets.Load() != before+1 {
		t.Fatalf("foreign message should force a reload, gets %d -> %d", before, store.gets.Load())
	}

	a.applySettingsMessage(ctx, e, []byte("not json"))
}

func TestRunPaperModeStopsOnCancel(t *testing.T) {
	cfg := config.Defaults()
	cfg.Server.Enabled = false
	a := New(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v", err)
	}
}
