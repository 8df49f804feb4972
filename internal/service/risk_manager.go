package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/papertrade/internal/domain"
	"github.com/alanyoungcy/papertrade/internal/events"
	"github.com/alanyoungcy/papertrade/internal/metrics"
)

// MonitorState is the lifecycle state of the RiskManager.
type MonitorState string

const (
	StateStopped    MonitorState = "STOPPED"
	StateStarting   MonitorState = "STARTING"
	StateMonitoring MonitorState = "MONITORING"
)

const (
	DefaultMonitorInterval    = 5 * time.Second
	defaultMonitorConcurrency = 32
)

// MonitorStats is a point-in-time snapshot of monitor activity.
type MonitorStats struct {
	State       MonitorState `json:"state"`
	Interval    string       `json:"interval"`
	Evaluations int64        `json:"evaluations"`
	AutoCloses  int64        `json:"auto_closes"`
	Errors      int64        `json:"errors"`
	Sweeps      int64        `json:"sweeps"`
	LastSweepAt *time.Time   `json:"last_sweep_at,omitempty"`
}

// RiskManager watches every open position and force-closes those that breach
// their stop-loss or take-profit. Positions are evaluated on price ticks and
// on a periodic sweep; both paths may race on a position and rely on the
// bridge's atomic close for at-most-once semantics.
type RiskManager struct {
	accounts       domain.AccountStore
	bridges        *BridgeRegistry
	feed           domain.PriceFeed
	metrics        *metrics.Collectors
	logger         *slog.Logger
	maxConcurrency int
	closed         *events.Emitter[domain.PositionClosedEvent]

	mu          sync.Mutex
	state       MonitorState
	gen         uint64
	interval    time.Duration
	cancel      context.CancelFunc
	unsubscribe func()

	evaluations atomic.Int64
	autoCloses  atomic.Int64
	errs        atomic.Int64
	sweeps      atomic.Int64
	lastSweep   atomic.Int64
}

// NewRiskManager creates a stopped RiskManager. maxConcurrency bounds how many
// positions a sweep evaluates at once; values <= 0 select a default.
func NewRiskManager(
	accounts domain.AccountStore,
	bridges *BridgeRegistry,
	feed domain.PriceFeed,
	m *metrics.Collectors,
	maxConcurrency int,
	logger *slog.Logger,
) *RiskManager {
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMonitorConcurrency
	}
	return &RiskManager{
		accounts:       accounts,
		bridges:        bridges,
		feed:           feed,
		metrics:        m,
		maxConcurrency: maxConcurrency,
		closed:         events.NewEmitter[domain.PositionClosedEvent](),
		state:          StateStopped,
		logger:         logger.With(slog.String("component", "risk_manager")),
	}
}

// OnPositionClosed registers fn for positionClosed events.
func (m *RiskManager) OnPositionClosed(fn func(domain.PositionClosedEvent)) (unsubscribe func()) {
	return m.closed.Subscribe(fn)
}

// State returns the current lifecycle state.
func (m *RiskManager) State() MonitorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns counters accumulated since construction.
func (m *RiskManager) Stats() MonitorStats {
	m.mu.Lock()
	st := MonitorStats{State: m.state}
	if m.interval > 0 {
		st.Interval = m.interval.String()
	}
	m.mu.Unlock()

	st.Evaluations = m.evaluations.Load()
	st.AutoCloses = m.autoCloses.Load()
	st.Errors = m.errs.Load()
	st.Sweeps = m.sweeps.Load()
	if ns := m.lastSweep.Load(); ns != 0 {
		t := time.Unix(0, ns).UTC()
		st.LastSweepAt = &t
	}
	return st
}

// StartMonitoring subscribes to price changes, schedules a sweep every
// interval and runs one sweep before returning. It is a no-op unless the
// monitor is stopped. ctx only bounds the initial sweep; the background loop
// lives until StopMonitoring.
func (m *RiskManager) StartMonitoring(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}

	m.mu.Lock()
	if m.state != StateStopped {
		m.mu.Unlock()
		return nil
	}
	m.state = StateStarting
	m.gen++
	gen := m.gen
	m.interval = interval

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	// Evaluations outlive StopMonitoring; only the loop is cancelled.
	workCtx := context.WithoutCancel(loopCtx)
	m.cancel = cancel
	m.unsubscribe = m.feed.SubscribePriceChanges(func(tick domain.PriceTick) {
		m.onPriceTick(workCtx, gen, tick)
	})
	go m.run(loopCtx, workCtx, interval)
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "risk monitoring started", slog.Duration("interval", interval))

	err := m.Sweep(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "initial sweep failed", slog.String("error", err.Error()))
	}

	m.mu.Lock()
	if m.gen == gen && m.state == StateStarting {
		m.state = StateMonitoring
	}
	m.mu.Unlock()
	return nil
}

// StopMonitoring detaches the price listener and cancels the sweep timer
// before returning. Evaluations already in flight run to completion.
func (m *RiskManager) StopMonitoring() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateStopped {
		return
	}
	m.state = StateStopped
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.logger.Info("risk monitoring stopped")
}

// Run starts monitoring and blocks until ctx is done.
func (m *RiskManager) Run(ctx context.Context, interval time.Duration) error {
	if err := m.StartMonitoring(ctx, interval); err != nil {
		return err
	}
	<-ctx.Done()
	m.StopMonitoring()
	return ctx.Err()
}

func (m *RiskManager) run(loopCtx, workCtx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-loopCtx.Done():
			return
		case <-ticker.C:
			if err := m.Sweep(workCtx); err != nil {
				m.logger.ErrorContext(workCtx, "risk sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (m *RiskManager) active(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen == gen && m.state != StateStopped
}

type watchedPosition struct {
	bridge *TradingBridge
	pos    domain.Position
}

// onPriceTick evaluates every open position on the tick's symbol at the new
// price and waits for them, so evaluation completes before emission returns.
func (m *RiskManager) onPriceTick(ctx context.Context, gen uint64, tick domain.PriceTick) {
	if !m.active(gen) {
		return
	}

	watched, err := m.openPositions(ctx, tick.Symbol)
	if err != nil {
		m.logger.WarnContext(ctx, "price tick: list positions failed",
			slog.String("symbol", tick.Symbol),
			slog.String("error", err.Error()),
		)
		return
	}

	var g errgroup.Group
	g.SetLimit(m.maxConcurrency)
	for _, w := range watched {
		g.Go(func() error {
			m.evaluateIsolated(ctx, w, func(context.Context) (float64, error) { return tick.NewPrice, nil })
			return nil
		})
	}
	_ = g.Wait()
}

// Sweep re-evaluates every open position across every account at its current
// feed price. Per-position failures are logged and counted; they never abort
// the sweep.
func (m *RiskManager) Sweep(ctx context.Context) error {
	start := time.Now()

	watched, err := m.openPositions(ctx, "")
	if err != nil {
		return fmt.Errorf("risk_manager: sweep: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(m.maxConcurrency)
	for _, w := range watched {
		g.Go(func() error {
			m.evaluateIsolated(ctx, w, func(ctx context.Context) (float64, error) {
				return m.feed.GetCurrentPrice(ctx, w.pos.Symbol)
			})
			return nil
		})
	}
	_ = g.Wait()

	m.sweeps.Add(1)
	m.lastSweep.Store(time.Now().UnixNano())
	m.metrics.ObserveSweep(time.Since(start))
	m.logger.DebugContext(ctx, "risk sweep complete",
		slog.Int("positions", len(watched)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// EvaluatePosition checks pos against its thresholds at currentPrice and
// closes it on a breach. It reports whether this call closed the position;
// losing a race to another close is not an error.
func (m *RiskManager) EvaluatePosition(ctx context.Context, pos domain.Position, currentPrice float64) (bool, error) {
	b, err := m.bridges.ForAccountID(ctx, pos.AccountID)
	if err != nil {
		return false, err
	}
	return m.evaluate(ctx, b, pos, currentPrice)
}

func (m *RiskManager) evaluateIsolated(ctx context.Context, w watchedPosition, price func(context.Context) (float64, error)) {
	defer func() {
		if r := recover(); r != nil {
			m.errs.Add(1)
			m.metrics.ObserveEvaluationError()
			m.logger.ErrorContext(ctx, "position evaluation panicked",
				slog.String("position_id", w.pos.ID),
				slog.Any("panic", r),
			)
		}
	}()

	p, err := price(ctx)
	if err != nil {
		m.errs.Add(1)
		m.metrics.ObserveEvaluationError()
		m.logger.WarnContext(ctx, "price unavailable, skipping position this cycle",
			slog.String("position_id", w.pos.ID),
			slog.String("symbol", w.pos.Symbol),
			slog.String("error", err.Error()),
		)
		return
	}
	if _, err := m.evaluate(ctx, w.bridge, w.pos, p); err != nil {
		m.logger.WarnContext(ctx, "auto-close failed",
			slog.String("position_id", w.pos.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (m *RiskManager) evaluate(ctx context.Context, b *TradingBridge, pos domain.Position, price float64) (bool, error) {
	m.evaluations.Add(1)
	m.metrics.ObserveEvaluation()

	breach, ok := CheckThresholds(pos, price)
	if !ok {
		if !pos.Risk.Empty() {
			b.RecordPrice(ctx, pos.ID, price)
		}
		return false, nil
	}

	trade, err := b.ClosePosition(ctx, pos.ID, CloseOptions{
		ExitPrice:         &price,
		Reason:            breach.Reason,
		ThresholdPercent:  breach.ThresholdPercent,
		CurrentPnLPercent: breach.PnLPercent,
		AutoClose:         true,
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyClosed) || errors.Is(err, domain.ErrNotFound) {
			m.logger.DebugContext(ctx, "position already closed by a concurrent trigger",
				slog.String("position_id", pos.ID),
			)
			return false, nil
		}
		m.errs.Add(1)
		m.metrics.ObserveEvaluationError()
		return false, fmt.Errorf("risk_manager: auto-close %s: %w", pos.ID, err)
	}

	m.autoCloses.Add(1)
	m.metrics.ObserveAutoClose(breach.Reason)
	m.logger.InfoContext(ctx, "position auto-closed",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.String("reason", breach.Reason),
		slog.Float64("pnl_percent", breach.PnLPercent),
		slog.Float64("threshold_percent", breach.ThresholdPercent),
		slog.Float64("close_price", price),
	)

	closedAt := time.Now().UTC()
	if trade.ClosedAt != nil {
		closedAt = *trade.ClosedAt
	}
	m.closed.Emit(domain.PositionClosedEvent{
		PositionID: pos.ID,
		AccountID:  pos.AccountID,
		Symbol:     pos.Symbol,
		Reason:     breach.Reason,
		PnLPercent: breach.PnLPercent,
		ClosePrice: price,
		ClosedAt:   closedAt,
	})
	return true, nil
}

// openPositions collects open positions across all accounts, optionally
// filtered to symbol. A failing account is logged and skipped.
func (m *RiskManager) openPositions(ctx context.Context, symbol string) ([]watchedPosition, error) {
	accounts, err := m.accounts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	var out []watchedPosition
	for _, acct := range accounts {
		b, err := m.bridges.ForUser(ctx, acct.UserID)
		if err != nil {
			m.logger.WarnContext(ctx, "bridge unavailable", slog.String("account_id", acct.ID), slog.String("error", err.Error()))
			continue
		}
		positions, err := b.GetOpenPositions(ctx)
		if err != nil {
			m.logger.WarnContext(ctx, "list open positions failed", slog.String("account_id", acct.ID), slog.String("error", err.Error()))
			continue
		}
		for _, p := range positions {
			if symbol != "" && !strings.EqualFold(p.Symbol, symbol) {
				continue
			}
			out = append(out, watchedPosition{bridge: b, pos: p})
		}
	}
	return out, nil
}
