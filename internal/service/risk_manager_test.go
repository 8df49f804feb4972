package service

import (
	"context"
	"testing"
	"time"

	"github.com/alanyoungcy/papertrade/internal/domain"
)

func openWithRisk(t *testing.T, b *TradingBridge, dir domain.Direction, entry float64, sl, tp *float64) domain.Position {
	t.Helper()
	ctx := context.Background()
	res, err := b.ExecuteTrade(ctx, domain.TradeSignal{
		Symbol:     "BTCUSDT",
		Direction:  dir,
		EntryPrice: entry,
		Quantity:   1,
		Risk:       domain.RiskParameters{StopLossPercent: sl, TakeProfitPercent: tp},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	pos, err := b.deps.Positions.Get(ctx, res.PositionID)
	if err != nil {
		t.Fatal(err)
	}
	return pos
}

func isOpen(t *testing.T, h *harness, id string) bool {
	t.Helper()
	pos, err := h.store.Positions().Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return pos.Status == domain.PositionOpen
}

func TestEvaluatePositionThresholds(t *testing.T) {
	cases := []struct {
		name       string
		dir        domain.Direction
		entry      float64
		sl, tp     *float64
		price      float64
		wantClosed bool
		wantReason string
	}{
		{"long stop loss", domain.DirectionLong, 70000, domain.Percent(5), nil, 65800, true, domain.CloseReasonStopLoss},
		{"long within stop", domain.DirectionLong, 70000, domain.Percent(5), nil, 68000, false, ""},
		{"long take profit", domain.DirectionLong, 100, nil, domain.Percent(10), 111, true, domain.CloseReasonTakeProfit},
		{"long below target", domain.DirectionLong, 100, nil, domain.Percent(10), 105, false, ""},
		{"short stop loss", domain.DirectionShort, 70000, domain.Percent(5), nil, 74200, true, domain.CloseReasonStopLoss},
		{"no thresholds", domain.DirectionLong, 100, nil, nil, 1, false, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness()
			var closed recorder[domain.PositionClosedEvent]
			h.monitor.OnPositionClosed(closed.add)

			pos := openWithRisk(t, h.bridge("u1"), tc.dir, tc.entry, tc.sl, tc.tp)
			got, err := h.monitor.EvaluatePosition(context.Background(), pos, tc.price)
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.wantClosed {
				t.Fatalf("closed = %v, want %v", got, tc.wantClosed)
			}
			if isOpen(t, h, pos.ID) == tc.wantClosed {
				t.Fatalf("position open state mismatch")
			}

			evs := closed.all()
			if !tc.wantClosed {
				if len(evs) != 0 {
					t.Fatalf("unexpected events: %+v", evs)
				}
				return
			}
			if len(evs) != 1 {
				t.Fatalf("events = %d, want 1", len(evs))
			}
			if evs[0].Reason != tc.wantReason || evs[0].ClosePrice != tc.price || evs[0].PositionID != pos.ID {
				t.Fatalf("event = %+v", evs[0])
			}
		})
	}
}

func TestSweepClosesBreachedPositions(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.feed.set("BTCUSDT", 111)
	h.feed.set("ETHUSDT", 100)

	a := openWithRisk(t, h.bridge("u1"), domain.DirectionLong, 100, nil, domain.Percent(10))
	b := openWithRisk(t, h.bridge("u2"), domain.DirectionLong, 100, nil, domain.Percent(20))

	if err := h.monitor.Sweep(ctx); err != nil {
		t.Fatal(err)
	}
	if isOpen(t, h, a.ID) {
		t.Fatal("breached position still open")
	}
	if !isOpen(t, h, b.ID) {
		t.Fatal("position within threshold was closed")
	}
	pos, _ := h.store.Positions().Get(ctx, b.ID)
	if pos.LastPrice == nil || *pos.LastPrice != 111 {
		t.Fatalf("last price = %v, want 111", pos.LastPrice)
	}
	if st := h.monitor.Stats(); st.Sweeps != 1 || st.AutoCloses != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestSweepIsolatesPositionFailures(t *testing.T) {
	h := newHarness()
	h.feed.set("BTCUSDT", 111)
	h.feed.fail["ETHUSDT"] = domain.ErrPriceFeed

	b := h.bridge("u1")
	ctx := context.Background()
	bad, err := b.ExecuteTrade(ctx, domain.TradeSignal{
		Symbol: "ETHUSDT", EntryPrice: 100, Quantity: 1,
		Risk: domain.RiskParameters{TakeProfitPercent: domain.Percent(1)},
	})
	if err != nil {
		t.Fatal(err)
	}
	good := openWithRisk(t, b, domain.DirectionLong, 100, nil, domain.Percent(10))

	if err := h.monitor.Sweep(ctx); err != nil {
		t.Fatal(err)
	}
	if isOpen(t, h, good.ID) {
		t.Fatal("healthy position not evaluated")
	}
	if !isOpen(t, h, bad.PositionID) {
		t.Fatal("position with failing feed was closed")
	}
	if h.monitor.Stats().Errors != 1 {
		t.Fatalf("errors = %d, want 1", h.monitor.Stats().Errors)
	}
}

func TestTickDuringSweepClosesOnce(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	var closed recorder[domain.PositionClosedEvent]
	h.monitor.OnPositionClosed(closed.add)

	pos := openWithRisk(t, h.bridge("u1"), domain.DirectionLong, 100, nil, domain.Percent(10))
	h.feed.set("BTCUSDT", 111)

	if err := h.monitor.StartMonitoring(ctx, time.Hour); err != nil {
		t.Fatal(err)
	}
	defer h.monitor.StopMonitoring()
	// The initial sweep already closed it; reopen a fresh one for the race.
	closed.mu.Lock()
	closed.got = nil
	closed.mu.Unlock()
	if isOpen(t, h, pos.ID) {
		t.Fatal("initial sweep did not close breached position")
	}

	pos = openWithRisk(t, h.bridge("u1"), domain.DirectionLong, 100, nil, domain.Percent(10))
	gate := make(chan struct{})
	h.feed.mu.Lock()
	h.feed.gates["BTCUSDT"] = gate
	h.feed.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- h.monitor.Sweep(ctx) }()
	<-h.feed.waiting

	// Sweep is parked on the price fetch; a tick breaches take-profit.
	h.feed.simulate("BTCUSDT", 112)
	if isOpen(t, h, pos.ID) {
		t.Fatal("tick did not close position")
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	evs := closed.all()
	if len(evs) != 1 {
		t.Fatalf("positionClosed emissions = %d, want 1", len(evs))
	}
	if evs[0].PositionID != pos.ID || evs[0].Reason != domain.CloseReasonTakeProfit {
		t.Fatalf("event = %+v", evs[0])
	}
	acct, _ := h.bridge("u1").Account(ctx)
	if acct.TotalTrades != 2 {
		t.Fatalf("total trades = %d, want 2", acct.TotalTrades)
	}
}

func TestStopMonitoringDetachesListener(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	var closed recorder[domain.PositionClosedEvent]
	h.monitor.OnPositionClosed(closed.add)

	h.feed.set("BTCUSDT", 100)
	pos := openWithRisk(t, h.bridge("u1"), domain.DirectionLong, 100, nil, domain.Percent(10))

	if err := h.monitor.StartMonitoring(ctx, time.Hour); err != nil {
		t.Fatal(err)
	}
	if h.monitor.State() != StateMonitoring {
		t.Fatalf("state = %s", h.monitor.State())
	}
	h.monitor.StopMonitoring()
	if h.monitor.State() != StateStopped {
		t.Fatalf("state = %s", h.monitor.State())
	}

	before := h.monitor.Stats().Evaluations
	h.feed.simulate("BTCUSDT", 150)

	if got := h.monitor.Stats().Evaluations; got != before {
		t.Fatalf("evaluations after stop = %d, want %d", got, before)
	}
	if len(closed.all()) != 0 {
		t.Fatal("positionClosed emitted after stop")
	}
	if !isOpen(t, h, pos.ID) {
		t.Fatal("position closed after stop")
	}
}

func TestStartMonitoringIsIdempotent(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	if err := h.monitor.StartMonitoring(ctx, time.Hour); err != nil {
		t.Fatal(err)
	}
	defer h.monitor.StopMonitoring()
	if err := h.monitor.StartMonitoring(ctx, time.Hour); err != nil {
		t.Fatal(err)
	}
	if h.feed.ticks.Len() != 1 {
		t.Fatalf("listeners = %d, want 1", h.feed.ticks.Len())
	}
	if h.monitor.Stats().Sweeps != 1 {
		t.Fatalf("sweeps = %d, want 1", h.monitor.Stats().Sweeps)
	}
}

func TestTickEvaluatesOnlyMatchingSymbol(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.feed.set("BTCUSDT", 100)
	h.feed.set("ETHUSDT", 100)

	b := h.bridge("u1")
	btc := openWithRisk(t, b, domain.DirectionLong, 100, domain.Percent(5), nil)
	eth, err := b.ExecuteTrade(ctx, domain.TradeSignal{
		Symbol: "ETHUSDT", EntryPrice: 100, Quantity: 1,
		Risk: domain.RiskParameters{StopLossPercent: domain.Percent(5)},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := h.monitor.StartMonitoring(ctx, time.Hour); err != nil {
		t.Fatal(err)
	}
	defer h.monitor.StopMonitoring()

	h.feed.simulate("ETHUSDT", 90)
	if !isOpen(t, h, btc.ID) {
		t.Fatal("BTC position closed by ETH tick")
	}
	if isOpen(t, h, eth.PositionID) {
		t.Fatal("ETH position not stopped out")
	}
}
