package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/alanyoungcy/papertrade/internal/domain"
)

// BridgeRegistry hands out one TradingBridge per user, sharing deps.
type BridgeRegistry struct {
	deps BridgeDeps

	mu      sync.Mutex
	bridges map[string]*TradingBridge
}

// NewBridgeRegistry creates an empty registry.
func NewBridgeRegistry(deps BridgeDeps) *BridgeRegistry {
	return &BridgeRegistry{
		deps:    deps,
		bridges: make(map[string]*TradingBridge),
	}
}

// ForUser returns the initialized bridge for userID, creating it on first use.
func (r *BridgeRegistry) ForUser(ctx context.Context, userID string) (*TradingBridge, error) {
	if userID == "" {
		return nil, fmt.Errorf("bridge_registry: %w: empty user id", domain.ErrInvalidParameters)
	}

	r.mu.Lock()
	b, ok := r.bridges[userID]
	if !ok {
		b = NewTradingBridge(userID, r.deps)
		r.bridges[userID] = b
	}
	r.mu.Unlock()

	if err := b.Initialize(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// ForAccountID resolves the account owner and returns their bridge.
func (r *BridgeRegistry) ForAccountID(ctx context.Context, accountID string) (*TradingBridge, error) {
	acct, err := r.deps.Accounts.Get(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("bridge_registry: account %s: %w", accountID, err)
	}
	return r.ForUser(ctx, acct.UserID)
}

// Len reports how many bridges have been created.
func (r *BridgeRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bridges)
}
