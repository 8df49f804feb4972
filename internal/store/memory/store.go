// Package memory implements the domain store interfaces in process memory.
// It backs paper mode and tests; all views share one mutex so multi-entity
// operations (open, close) are atomic.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/papertrade/internal/domain"
)

// Store holds every entity. Use the view accessors to obtain the typed
// store implementations.
type Store struct {
	mu sync.Mutex

	accounts     map[string]domain.Account
	accountByUID map[string]string
	positions    map[string]domain.Position
	trades       map[string]domain.Trade
	tradeByPos   map[string]string
	settings     map[string]domain.RiskSettings
	settingsSeq  int64
	audit        []domain.AuditEntry
	now          func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		accounts:     make(map[string]domain.Account),
		accountByUID: make(map[string]string),
		positions:    make(map[string]domain.Position),
		trades:       make(map[string]domain.Trade),
		tradeByPos:   make(map[string]string),
		settings:     make(map[string]domain.RiskSettings),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Accounts returns the AccountStore view.
func (s *Store) Accounts() *AccountStore { return &AccountStore{s: s} }

// Positions returns the PositionStore view.
func (s *Store) Positions() *PositionStore { return &PositionStore{s: s} }

// Trades returns the TradeStore view.
func (s *Store) Trades() *TradeStore { return &TradeStore{s: s} }

// RiskSettings returns the RiskSettingsStore view.
func (s *Store) RiskSettings() *RiskSettingsStore { return &RiskSettingsStore{s: s} }

// Audit returns the AuditStore view.
func (s *Store) Audit() *AuditStore { return &AuditStore{s: s} }

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

// AccountStore implements domain.AccountStore.
type AccountStore struct{ s *Store }

func (v *AccountStore) Create(_ context.Context, a domain.Account) (domain.Account, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	if _, ok := v.s.accountByUID[a.UserID]; ok {
		return domain.Account{}, fmt.Errorf("memory: create account for %s: %w", a.UserID, domain.ErrAlreadyExists)
	}
	if _, ok := v.s.accounts[a.ID]; ok {
		return domain.Account{}, fmt.Errorf("memory: create account %s: %w", a.ID, domain.ErrAlreadyExists)
	}
	now := v.s.now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	v.s.accounts[a.ID] = a
	v.s.accountByUID[a.UserID] = a.ID
	return a, nil
}

func (v *AccountStore) Get(_ context.Context, id string) (domain.Account, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	a, ok := v.s.accounts[id]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return a, nil
}

func (v *AccountStore) GetByUserID(_ context.Context, userID string) (domain.Account, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	id, ok := v.s.accountByUID[userID]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return v.s.accounts[id], nil
}

func (v *AccountStore) List(_ context.Context) ([]domain.Account, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	out := make([]domain.Account, 0, len(v.s.accounts))
	for _, a := range v.s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ---------------------------------------------------------------------------
// Positions
// ---------------------------------------------------------------------------

// PositionStore implements domain.PositionStore.
type PositionStore struct{ s *Store }

func (v *PositionStore) Open(_ context.Context, p domain.Position, t domain.Trade) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	if _, ok := v.s.accounts[p.AccountID]; !ok {
		return fmt.Errorf("memory: open position: account %s: %w", p.AccountID, domain.ErrNotFound)
	}
	if _, ok := v.s.positions[p.ID]; ok {
		return fmt.Errorf("memory: open position %s: %w", p.ID, domain.ErrAlreadyExists)
	}
	if _, ok := v.s.trades[t.ID]; ok {
		return fmt.Errorf("memory: open trade %s: %w", t.ID, domain.ErrAlreadyExists)
	}
	p.Metadata = maps.Clone(p.Metadata)
	v.s.positions[p.ID] = p
	v.s.trades[t.ID] = t
	v.s.tradeByPos[p.ID] = t.ID
	return nil
}

func (v *PositionStore) Get(_ context.Context, id string) (domain.Position, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	p, ok := v.s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	p.Metadata = maps.Clone(p.Metadata)
	return p, nil
}

func (v *PositionStore) ListOpen(_ context.Context, accountID string) ([]domain.Position, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	var out []domain.Position
	for _, p := range v.s.positions {
		if p.AccountID == accountID && p.Status == domain.PositionOpen {
			p.Metadata = maps.Clone(p.Metadata)
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.After(out[j].OpenedAt) })
	return out, nil
}

func (v *PositionStore) Update(_ context.Context, id string, patch domain.PositionPatch) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	p, ok := v.s.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if patch.LastPrice != nil {
		price := *patch.LastPrice
		p.LastPrice = &price
	}
	if patch.LastPriceAt != nil {
		at := *patch.LastPriceAt
		p.LastPriceAt = &at
	}
	v.s.positions[id] = p
	return nil
}

func (v *PositionStore) Close(_ context.Context, req domain.CloseRequest) (domain.Trade, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	p, ok := v.s.positions[req.PositionID]
	if !ok || (req.AccountID != "" && p.AccountID != req.AccountID) {
		return domain.Trade{}, domain.ErrNotFound
	}
	if p.Status != domain.PositionOpen {
		return domain.Trade{}, domain.ErrAlreadyClosed
	}
	tradeID, ok := v.s.tradeByPos[p.ID]
	if !ok {
		return domain.Trade{}, fmt.Errorf("memory: close position %s: trade: %w", p.ID, domain.ErrNotFound)
	}
	t := v.s.trades[tradeID]
	if t.Status != domain.TradeOpen {
		return domain.Trade{}, domain.ErrAlreadyClosed
	}
	acct, ok := v.s.accounts[p.AccountID]
	if !ok {
		return domain.Trade{}, fmt.Errorf("memory: close position %s: account: %w", p.ID, domain.ErrNotFound)
	}

	closedAt := req.ClosedAt
	exit := req.ExitPrice
	pnl := req.RealizedPnL

	p.Status = domain.PositionClosed
	p.ClosedAt = &closedAt

	t.Status = domain.TradeClosed
	t.ExitPrice = &exit
	t.RealizedPnL = &pnl
	t.CloseReason = req.Reason
	t.ClosedAt = &closedAt

	acct.ApplyClose(pnl)
	acct.UpdatedAt = closedAt

	v.s.positions[p.ID] = p
	v.s.trades[t.ID] = t
	v.s.accounts[acct.ID] = acct
	return t, nil
}

// ---------------------------------------------------------------------------
// Trades
// ---------------------------------------------------------------------------

// TradeStore implements domain.TradeStore.
type TradeStore struct{ s *Store }

func (v *TradeStore) Get(_ context.Context, id string) (domain.Trade, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	t, ok := v.s.trades[id]
	if !ok {
		return domain.Trade{}, domain.ErrNotFound
	}
	return t, nil
}

func (v *TradeStore) ListByAccount(_ context.Context, accountID string, opts domain.ListOpts) ([]domain.Trade, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	var out []domain.Trade
	for _, t := range v.s.trades {
		if t.AccountID != accountID {
			continue
		}
		if opts.Since != nil && t.OpenedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && t.OpenedAt.After(*opts.Until) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.After(out[j].OpenedAt) })
	return paginate(out, opts), nil
}

func (v *TradeStore) ListClosedBefore(_ context.Context, before time.Time) ([]domain.Trade, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	var out []domain.Trade
	for _, t := range v.s.trades {
		if t.Status == domain.TradeClosed && t.ClosedAt != nil && t.ClosedAt.Before(before) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClosedAt.Before(*out[j].ClosedAt) })
	return out, nil
}

// ---------------------------------------------------------------------------
// Risk settings
// ---------------------------------------------------------------------------

// RiskSettingsStore implements domain.RiskSettingsStore.
type RiskSettingsStore struct{ s *Store }

func (v *RiskSettingsStore) GetByUserID(_ context.Context, userID string) (domain.RiskSettings, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	rs, ok := v.s.settings[userID]
	if !ok {
		return domain.RiskSettings{}, domain.ErrNotFound
	}
	return rs, nil
}

func (v *RiskSettingsStore) Create(_ context.Context, rs domain.RiskSettings) (domain.RiskSettings, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	if _, ok := v.s.settings[rs.UserID]; ok {
		return domain.RiskSettings{}, fmt.Errorf("memory: create risk settings for %s: %w", rs.UserID, domain.ErrAlreadyExists)
	}
	v.s.settingsSeq++
	now := v.s.now()
	rs.ID = v.s.settingsSeq
	rs.CreatedAt = now
	rs.UpdatedAt = now
	v.s.settings[rs.UserID] = rs
	return rs, nil
}

func (v *RiskSettingsStore) Update(_ context.Context, rs domain.RiskSettings) (domain.RiskSettings, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	cur, ok := v.s.settings[rs.UserID]
	if !ok || cur.ID != rs.ID {
		return domain.RiskSettings{}, domain.ErrNotFound
	}
	rs.CreatedAt = cur.CreatedAt
	rs.UpdatedAt = v.s.now()
	v.s.settings[rs.UserID] = rs
	return rs, nil
}

// ---------------------------------------------------------------------------
// Audit
// ---------------------------------------------------------------------------

// AuditStore implements domain.AuditStore.
type AuditStore struct{ s *Store }

func (v *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	v.s.audit = append(v.s.audit, domain.AuditEntry{
		ID:        int64(len(v.s.audit) + 1),
		Event:     event,
		Detail:    maps.Clone(detail),
		CreatedAt: v.s.now(),
	})
	return nil
}

func (v *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	out := make([]domain.AuditEntry, 0, len(v.s.audit))
	for i := len(v.s.audit) - 1; i >= 0; i-- {
		e := v.s.audit[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	return paginate(out, opts), nil
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

// Compile-time interface checks.
var (
	_ domain.AccountStore      = (*AccountStore)(nil)
	_ domain.PositionStore     = (*PositionStore)(nil)
	_ domain.TradeStore        = (*TradeStore)(nil)
	_ domain.RiskSettingsStore = (*RiskSettingsStore)(nil)
	_ domain.AuditStore        = (*AuditStore)(nil)
)
