package domain

import (
	"context"
	"time"
)

// ListOpts controls pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AccountStore persists paper trading accounts. Create returns
// ErrAlreadyExists when the user already owns an account.
type AccountStore interface {
	Create(ctx context.Context, a Account) (Account, error)
	Get(ctx context.Context, id string) (Account, error)
	GetByUserID(ctx context.Context, userID string) (Account, error)
	List(ctx context.Context) ([]Account, error)
}

// PositionStore persists positions together with their paired trades.
type PositionStore interface {
	// Open inserts the position and its OPEN trade as one unit: either both
	// become visible or neither does.
	Open(ctx context.Context, p Position, t Trade) error
	Get(ctx context.Context, id string) (Position, error)
	ListOpen(ctx context.Context, accountID string) ([]Position, error)
	Update(ctx context.Context, id string, patch PositionPatch) error
	// Close atomically transitions the position and its trade from OPEN to
	// CLOSED and folds the PnL into the owning account. It returns
	// ErrAlreadyClosed when the position is no longer open and ErrNotFound when
	// it does not exist or belongs to another account.
	Close(ctx context.Context, req CloseRequest) (Trade, error)
}

// TradeStore provides read access to the trade ledger.
type TradeStore interface {
	Get(ctx context.Context, id string) (Trade, error)
	ListByAccount(ctx context.Context, accountID string, opts ListOpts) ([]Trade, error)
	ListClosedBefore(ctx context.Context, before time.Time) ([]Trade, error)
}

// RiskSettingsStore persists per-user risk settings.
type RiskSettingsStore interface {
	GetByUserID(ctx context.Context, userID string) (RiskSettings, error)
	Create(ctx context.Context, s RiskSettings) (RiskSettings, error)
	Update(ctx context.Context, s RiskSettings) (RiskSettings, error)
}

// AuditEntry represents a single entry in the audit log.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore is an append-only log of significant events.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
