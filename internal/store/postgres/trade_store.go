package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/papertrade/internal/domain"
)

// TradeStore implements domain.TradeStore on paper_trades.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeCols = `id, account_id, position_id, symbol, direction, entry_price,
	exit_price, quantity, status, realized_pnl, close_reason, opened_at, closed_at`

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var t domain.Trade
	var direction, status string
	err := row.Scan(
		&t.ID, &t.AccountID, &t.PositionID, &t.Symbol, &direction, &t.EntryPrice,
		&t.ExitPrice, &t.Quantity, &status, &t.RealizedPnL, &t.CloseReason, &t.OpenedAt, &t.ClosedAt,
	)
	if err != nil {
		return domain.Trade{}, err
	}
	t.Direction = domain.Direction(direction)
	t.Status = domain.TradeStatus(status)
	return t, nil
}

func collectTrades(rows pgx.Rows) ([]domain.Trade, error) {
	defer rows.Close()
	var out []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Get returns the trade with id.
func (s *TradeStore) Get(ctx context.Context, id string) (domain.Trade, error) {
	t, err := scanTrade(s.pool.QueryRow(ctx, `SELECT `+tradeCols+` FROM paper_trades WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trade{}, domain.ErrNotFound
		}
		return domain.Trade{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	return t, nil
}

// ListByAccount returns the account's trades, newest first.
func (s *TradeStore) ListByAccount(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query, args := listClause(`SELECT `+tradeCols+` FROM paper_trades WHERE account_id = $1`,
		[]any{accountID}, "opened_at", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades %s: %w", accountID, err)
	}
	trades, err := collectTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades %s: %w", accountID, err)
	}
	return trades, nil
}

// ListClosedBefore returns trades closed strictly before the cutoff, oldest
// first. Used by the archiver.
func (s *TradeStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeCols+` FROM paper_trades
		 WHERE status = 'CLOSED' AND closed_at < $1
		 ORDER BY closed_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed trades: %w", err)
	}
	trades, err := collectTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed trades: %w", err)
	}
	return trades, nil
}

var _ domain.TradeStore = (*TradeStore)(nil)
