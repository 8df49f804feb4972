package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/papertrade/internal/domain"
	"github.com/alanyoungcy/papertrade/internal/metrics"
)

const (
	initLockTTL      = 10 * time.Second
	dailyTradeWindow = 24 * time.Hour
)

// BridgeDeps are the collaborators shared by every TradingBridge. Accounts,
// Positions and Feed are required; the rest are optional.
type BridgeDeps struct {
	Accounts  domain.AccountStore
	Positions domain.PositionStore
	Trades    domain.TradeStore
	Feed      domain.PriceFeed

	Settings *RiskSettingsService
	Limiter  domain.RateLimiter
	Locks    domain.LockManager
	Audit    domain.AuditStore
	Metrics  *metrics.Collectors

	StartingBalance float64
	Logger          *slog.Logger
}

// CloseOptions carries the optional inputs of a close. ExitPrice, when set,
// takes precedence over the price feed.
type CloseOptions struct {
	ExitPrice         *float64
	Reason            string
	ThresholdPercent  float64
	CurrentPnLPercent float64
	AutoClose         bool
}

// TradingBridge opens and closes paper positions for one user's account.
type TradingBridge struct {
	userID string
	deps   BridgeDeps
	logger *slog.Logger
	now    func() time.Time

	initMu    sync.Mutex
	accountID string
}

// NewTradingBridge creates a bridge for userID. Call Initialize before use;
// every operation also initializes lazily.
func NewTradingBridge(userID string, deps BridgeDeps) *TradingBridge {
	if deps.StartingBalance <= 0 {
		deps.StartingBalance = domain.DefaultStartingBalance
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TradingBridge{
		userID: userID,
		deps:   deps,
		logger: logger.With(slog.String("component", "trading_bridge"), slog.String("user_id", userID)),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// UserID returns the owner of the bridge.
func (b *TradingBridge) UserID() string { return b.userID }

// AccountID returns the bridge's account id, or "" before Initialize.
func (b *TradingBridge) AccountID() string {
	b.initMu.Lock()
	defer b.initMu.Unlock()
	return b.accountID
}

// Initialize ensures the user has an account, creating one with the starting
// balance if needed. It is idempotent and safe for concurrent use; across
// processes a distributed lock and the store's uniqueness on user id prevent
// duplicate accounts.
func (b *TradingBridge) Initialize(ctx context.Context) error {
	b.initMu.Lock()
	defer b.initMu.Unlock()

	if b.accountID != "" {
		return nil
	}

	if b.deps.Locks != nil {
		unlock, err := b.deps.Locks.Acquire(ctx, "account:init:"+b.userID, initLockTTL)
		switch {
		case err == nil:
			defer unlock()
		case errors.Is(err, domain.ErrLockHeld):
			b.logger.DebugContext(ctx, "account init lock held elsewhere, relying on store uniqueness")
		default:
			b.logger.WarnContext(ctx, "account init lock unavailable", slog.String("error", err.Error()))
		}
	}

	acct, err := b.deps.Accounts.GetByUserID(ctx, b.userID)
	if errors.Is(err, domain.ErrNotFound) {
		now := b.now()
		acct, err = b.deps.Accounts.Create(ctx, domain.Account{
			ID:             uuid.NewString(),
			UserID:         b.userID,
			Balance:        b.deps.StartingBalance,
			InitialBalance: b.deps.StartingBalance,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
		if errors.Is(err, domain.ErrAlreadyExists) {
			acct, err = b.deps.Accounts.GetByUserID(ctx, b.userID)
		} else if err == nil {
			b.logger.InfoContext(ctx, "paper trading account created",
				slog.String("account_id", acct.ID),
				slog.Float64("balance", acct.Balance),
			)
		}
	}
	if err != nil {
		return fmt.Errorf("trading_bridge: initialize %s: %w: %w", b.userID, domain.ErrStorage, err)
	}

	b.accountID = acct.ID
	return nil
}

// Account returns the current account snapshot.
func (b *TradingBridge) Account(ctx context.Context) (domain.Account, error) {
	if err := b.Initialize(ctx); err != nil {
		return domain.Account{}, err
	}
	acct, err := b.deps.Accounts.Get(ctx, b.AccountID())
	if err != nil {
		return domain.Account{}, fmt.Errorf("trading_bridge: get account: %w", err)
	}
	return acct, nil
}

// ExecuteTrade opens a position and its OPEN trade as a single unit.
func (b *TradingBridge) ExecuteTrade(ctx context.Context, sig domain.TradeSignal) (domain.ExecutionResult, error) {
	sig, err := normalizeSignal(sig)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("trading_bridge: execute: %w", err)
	}
	if err := b.Initialize(ctx); err != nil {
		return domain.ExecutionResult{}, err
	}

	risk := sig.Risk
	if b.deps.Settings != nil {
		rs := b.deps.Settings.GetUserRiskSettings(ctx, b.userID)
		risk = withSettingsDefaults(risk, rs)
		if err := b.admitTrade(ctx, rs); err != nil {
			return domain.ExecutionResult{}, err
		}
	}

	now := b.now()
	accountID := b.AccountID()
	pos := domain.Position{
		ID:           uuid.NewString(),
		AccountID:    accountID,
		Symbol:       sig.Symbol,
		Direction:    sig.Direction,
		EntryPrice:   sig.EntryPrice,
		Quantity:     sig.Quantity,
		Risk:         risk,
		Status:       domain.PositionOpen,
		Reason:       sig.Reason,
		Confidence:   sig.Confidence,
		SignalSource: sig.SignalSource,
		Metadata:     sig.Metadata,
		OpenedAt:     now,
	}
	trade := domain.Trade{
		ID:         uuid.NewString(),
		AccountID:  accountID,
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Direction:  pos.Direction,
		EntryPrice: pos.EntryPrice,
		Quantity:   pos.Quantity,
		Status:     domain.TradeOpen,
		OpenedAt:   now,
	}

	if err := b.deps.Positions.Open(ctx, pos, trade); err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("trading_bridge: open %s: %w: %w", sig.Symbol, domain.ErrStorage, err)
	}

	b.logger.InfoContext(ctx, "position opened",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.String("direction", string(pos.Direction)),
		slog.Float64("entry_price", pos.EntryPrice),
		slog.Float64("quantity", pos.Quantity),
	)
	b.deps.Metrics.ObserveOpen(pos.Symbol, string(pos.Direction))
	b.audit(ctx, "position.opened", map[string]any{
		"position_id":   pos.ID,
		"trade_id":      trade.ID,
		"account_id":    accountID,
		"symbol":        pos.Symbol,
		"direction":     string(pos.Direction),
		"entry_price":   pos.EntryPrice,
		"quantity":      pos.Quantity,
		"signal_source": pos.SignalSource,
	})

	return domain.ExecutionResult{Success: true, PositionID: pos.ID, TradeID: trade.ID}, nil
}

// ClosePositionAt closes a position at an explicit exit price.
func (b *TradingBridge) ClosePositionAt(ctx context.Context, positionID string, exitPrice float64) (domain.Trade, error) {
	return b.ClosePosition(ctx, positionID, CloseOptions{ExitPrice: &exitPrice})
}

// ClosePosition closes an open position owned by this account. The exit
// price is opts.ExitPrice when set, otherwise the feed's current price, and
// the entry price when the feed fails. The status transition is a single
// compare-and-swap in the store, so concurrent closes of one position yield
// exactly one success; the others see ErrAlreadyClosed or ErrNotFound.
func (b *TradingBridge) ClosePosition(ctx context.Context, positionID string, opts CloseOptions) (domain.Trade, error) {
	if err := b.Initialize(ctx); err != nil {
		return domain.Trade{}, err
	}
	accountID := b.AccountID()

	pos, err := b.deps.Positions.Get(ctx, positionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Trade{}, fmt.Errorf("trading_bridge: close %s: %w", positionID, domain.ErrNotFound)
		}
		return domain.Trade{}, fmt.Errorf("trading_bridge: close %s: %w: %w", positionID, domain.ErrStorage, err)
	}
	if pos.AccountID != accountID {
		return domain.Trade{}, fmt.Errorf("trading_bridge: close %s: %w", positionID, domain.ErrNotFound)
	}
	if pos.Status != domain.PositionOpen {
		return domain.Trade{}, fmt.Errorf("trading_bridge: close %s: %w", positionID, domain.ErrAlreadyClosed)
	}

	exitPrice, err := b.resolveExitPrice(ctx, pos, opts)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("trading_bridge: close %s: %w", positionID, err)
	}

	reason := opts.Reason
	if reason == "" {
		reason = domain.CloseReasonManual
	}
	pnl := pos.PnL(exitPrice)

	trade, err := b.deps.Positions.Close(ctx, domain.CloseRequest{
		PositionID:  pos.ID,
		AccountID:   accountID,
		ExitPrice:   exitPrice,
		RealizedPnL: pnl,
		Reason:      reason,
		ClosedAt:    b.now(),
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyClosed) || errors.Is(err, domain.ErrNotFound) {
			return domain.Trade{}, fmt.Errorf("trading_bridge: close %s: %w", positionID, err)
		}
		return domain.Trade{}, fmt.Errorf("trading_bridge: close %s: %w: %w", positionID, domain.ErrStorage, err)
	}

	b.logger.InfoContext(ctx, "position closed",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.String("reason", reason),
		slog.Float64("exit_price", exitPrice),
		slog.Float64("realized_pnl", pnl),
		slog.Bool("auto_close", opts.AutoClose),
	)
	b.deps.Metrics.ObserveClose(reason, pnl)

	detail := map[string]any{
		"position_id":  pos.ID,
		"trade_id":     trade.ID,
		"account_id":   accountID,
		"symbol":       pos.Symbol,
		"exit_price":   exitPrice,
		"realized_pnl": pnl,
		"reason":       reason,
		"auto_close":   opts.AutoClose,
	}
	if opts.AutoClose {
		detail["threshold_percent"] = opts.ThresholdPercent
		detail["pnl_percent"] = opts.CurrentPnLPercent
	}
	b.audit(ctx, "position.closed", detail)

	return trade, nil
}

// GetOpenPositions returns the account's open positions, newest first.
func (b *TradingBridge) GetOpenPositions(ctx context.Context) ([]domain.Position, error) {
	if err := b.Initialize(ctx); err != nil {
		return nil, err
	}
	positions, err := b.deps.Positions.ListOpen(ctx, b.AccountID())
	if err != nil {
		return nil, fmt.Errorf("trading_bridge: list open positions: %w: %w", domain.ErrStorage, err)
	}
	return positions, nil
}

// TradeHistory lists the account's trades, newest first.
func (b *TradingBridge) TradeHistory(ctx context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	if b.deps.Trades == nil {
		return nil, fmt.Errorf("trading_bridge: trade history: %w", domain.ErrNotFound)
	}
	if err := b.Initialize(ctx); err != nil {
		return nil, err
	}
	trades, err := b.deps.Trades.ListByAccount(ctx, b.AccountID(), opts)
	if err != nil {
		return nil, fmt.Errorf("trading_bridge: trade history: %w: %w", domain.ErrStorage, err)
	}
	return trades, nil
}

// RecordPrice refreshes the position's last-seen price. Failures are logged
// and otherwise ignored.
func (b *TradingBridge) RecordPrice(ctx context.Context, positionID string, price float64) {
	now := b.now()
	if err := b.deps.Positions.Update(ctx, positionID, domain.PositionPatch{
		LastPrice:   &price,
		LastPriceAt: &now,
	}); err != nil {
		b.logger.DebugContext(ctx, "record last price failed",
			slog.String("position_id", positionID),
			slog.String("error", err.Error()),
		)
	}
}

func (b *TradingBridge) resolveExitPrice(ctx context.Context, pos domain.Position, opts CloseOptions) (float64, error) {
	if opts.ExitPrice != nil {
		if !validPrice(*opts.ExitPrice) {
			return 0, fmt.Errorf("%w: exit price must be a positive number", domain.ErrInvalidParameters)
		}
		return *opts.ExitPrice, nil
	}

	price, err := b.deps.Feed.GetCurrentPrice(ctx, pos.Symbol)
	if err == nil && validPrice(price) {
		return price, nil
	}
	if err == nil {
		err = fmt.Errorf("%w: invalid price %v", domain.ErrPriceFeed, price)
	}
	b.logger.WarnContext(ctx, "price feed failed on close, using entry price",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.String("error", err.Error()),
	)
	return pos.EntryPrice, nil
}

// admitTrade enforces the user's daily trade cap when a limiter is wired.
// Limiter failures admit the trade.
func (b *TradingBridge) admitTrade(ctx context.Context, rs domain.RiskSettings) error {
	if b.deps.Limiter == nil || rs.MaxTradesPerDay <= 0 {
		return nil
	}
	ok, err := b.deps.Limiter.Allow(ctx, "trades:daily:"+b.userID, rs.MaxTradesPerDay, dailyTradeWindow)
	if err != nil {
		b.logger.WarnContext(ctx, "daily trade limiter unavailable", slog.String("error", err.Error()))
		return nil
	}
	if !ok {
		return fmt.Errorf("trading_bridge: max %d trades per day reached: %w", rs.MaxTradesPerDay, domain.ErrRateLimited)
	}
	return nil
}

func (b *TradingBridge) audit(ctx context.Context, event string, detail map[string]any) {
	if b.deps.Audit == nil {
		return
	}
	if err := b.deps.Audit.Log(ctx, event, detail); err != nil {
		b.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func normalizeSignal(sig domain.TradeSignal) (domain.TradeSignal, error) {
	sig.Symbol = strings.ToUpper(strings.TrimSpace(sig.Symbol))
	if sig.Symbol == "" {
		return sig, fmt.Errorf("%w: symbol is required", domain.ErrInvalidParameters)
	}
	if !validPrice(sig.EntryPrice) {
		return sig, fmt.Errorf("%w: entry_price must be a positive number", domain.ErrInvalidParameters)
	}
	if !validPrice(sig.Quantity) {
		return sig, fmt.Errorf("%w: quantity must be a positive number", domain.ErrInvalidParameters)
	}
	if sig.Direction == "" {
		sig.Direction = domain.DirectionLong
	}
	dir, err := domain.ParseDirection(string(sig.Direction))
	if err != nil {
		return sig, err
	}
	sig.Direction = dir
	if err := sig.Risk.Validate(); err != nil {
		return sig, err
	}
	return sig, nil
}

// withSettingsDefaults fills missing thresholds from enabled user settings.
func withSettingsDefaults(r domain.RiskParameters, rs domain.RiskSettings) domain.RiskParameters {
	if r.StopLossPercent == nil && rs.StopLossEnabled && rs.StopLossPercent > 0 {
		r.StopLossPercent = domain.Percent(rs.StopLossPercent)
	}
	if r.TakeProfitPercent == nil && rs.TakeProfitEnabled && rs.TakeProfitPercent > 0 {
		r.TakeProfitPercent = domain.Percent(rs.TakeProfitPercent)
	}
	return r
}

func validPrice(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
