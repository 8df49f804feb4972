package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/papertrade/internal/domain"
)

// PositionStore implements domain.PositionStore on paper_positions, keeping
// paper_trades and paper_accounts consistent in the same transaction.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionCols = `id, account_id, symbol, direction, entry_price, quantity,
	stop_loss_percent, take_profit_percent, status, reason, confidence,
	signal_source, metadata, last_price, last_price_at, opened_at, closed_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var direction, status string
	var meta []byte
	err := row.Scan(
		&p.ID, &p.AccountID, &p.Symbol, &direction, &p.EntryPrice, &p.Quantity,
		&p.Risk.StopLossPercent, &p.Risk.TakeProfitPercent, &status, &p.Reason, &p.Confidence,
		&p.SignalSource, &meta, &p.LastPrice, &p.LastPriceAt, &p.OpenedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Direction = domain.Direction(direction)
	p.Status = domain.PositionStatus(status)
	if len(meta) > 0 && string(meta) != "{}" {
		if err := json.Unmarshal(meta, &p.Metadata); err != nil {
			return domain.Position{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return p, nil
}

// Open inserts the position and its trade in one transaction.
func (s *PositionStore) Open(ctx context.Context, p domain.Position, t domain.Trade) error {
	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: encode metadata for %s: %w", p.ID, err)
	}
	if p.Metadata == nil {
		meta = []byte("{}")
	}

	err = withTx(ctx, s.pool, func(tx pgx.Tx) error {
		const insertPosition = `
			INSERT INTO paper_positions (
				id, account_id, symbol, direction, entry_price, quantity,
				stop_loss_percent, take_profit_percent, status, reason, confidence,
				signal_source, metadata, opened_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
		if _, err := tx.Exec(ctx, insertPosition,
			p.ID, p.AccountID, p.Symbol, string(p.Direction), p.EntryPrice, p.Quantity,
			p.Risk.StopLossPercent, p.Risk.TakeProfitPercent, string(p.Status), p.Reason, p.Confidence,
			p.SignalSource, meta, p.OpenedAt,
		); err != nil {
			return fmt.Errorf("insert position: %w", err)
		}

		const insertTrade = `
			INSERT INTO paper_trades (
				id, account_id, position_id, symbol, direction, entry_price, quantity, status, opened_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
		if _, err := tx.Exec(ctx, insertTrade,
			t.ID, t.AccountID, t.PositionID, t.Symbol, string(t.Direction), t.EntryPrice, t.Quantity,
			string(t.Status), t.OpenedAt,
		); err != nil {
			return fmt.Errorf("insert trade: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("postgres: open position %s: %w", p.ID, err)
	}
	return nil
}

// Get returns the position with id.
func (s *PositionStore) Get(ctx context.Context, id string) (domain.Position, error) {
	p, err := scanPosition(s.pool.QueryRow(ctx, `SELECT `+positionCols+` FROM paper_positions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListOpen returns the account's open positions, newest first.
func (s *PositionStore) ListOpen(ctx context.Context, accountID string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionCols+` FROM paper_positions
		 WHERE account_id = $1 AND status = 'OPEN'
		 ORDER BY opened_at DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions %s: %w", accountID, err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Update applies patch; nil fields keep their value.
func (s *PositionStore) Update(ctx context.Context, id string, patch domain.PositionPatch) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE paper_positions SET
			last_price    = COALESCE($2, last_price),
			last_price_at = COALESCE($3, last_price_at)
		WHERE id = $1`,
		id, patch.LastPrice, patch.LastPriceAt)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Close transitions position and trade from OPEN to CLOSED and folds the
// PnL into the account, all in one transaction. The position update is
// conditional on status = 'OPEN', so of several concurrent closes exactly
// one affects a row.
func (s *PositionStore) Close(ctx context.Context, req domain.CloseRequest) (domain.Trade, error) {
	var out domain.Trade
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE paper_positions SET status = 'CLOSED', closed_at = $3, last_price = $4, last_price_at = $3
			WHERE id = $1 AND account_id = $2 AND status = 'OPEN'`,
			req.PositionID, req.AccountID, req.ClosedAt, req.ExitPrice)
		if err != nil {
			return fmt.Errorf("close position: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return closeMiss(ctx, tx, req)
		}

		out, err = scanTrade(tx.QueryRow(ctx, `
			UPDATE paper_trades SET
				status = 'CLOSED', exit_price = $2, realized_pnl = $3, close_reason = $4, closed_at = $5
			WHERE position_id = $1 AND status = 'OPEN'
			RETURNING `+tradeCols,
			req.PositionID, req.ExitPrice, req.RealizedPnL, req.Reason, req.ClosedAt))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrAlreadyClosed
			}
			return fmt.Errorf("close trade: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE paper_accounts SET
				total_trades   = total_trades + 1,
				winning_trades = winning_trades + CASE WHEN $2::float8 > 0 THEN 1 ELSE 0 END,
				losing_trades  = losing_trades + CASE WHEN $2::float8 > 0 THEN 0 ELSE 1 END,
				total_profit_loss = total_profit_loss + $2::float8,
				balance           = balance + $2::float8,
				total_profit_loss_percent = CASE
					WHEN initial_balance > 0 THEN (total_profit_loss + $2::float8) / initial_balance * 100
					ELSE 0 END,
				updated_at = $3
			WHERE id = $1`,
			req.AccountID, req.RealizedPnL, req.ClosedAt); err != nil {
			return fmt.Errorf("update account: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrAlreadyClosed) {
			return domain.Trade{}, err
		}
		return domain.Trade{}, fmt.Errorf("postgres: close position %s: %w", req.PositionID, err)
	}
	return out, nil
}

// closeMiss explains why the conditional close matched no row.
func closeMiss(ctx context.Context, tx pgx.Tx, req domain.CloseRequest) error {
	var accountID, status string
	err := tx.QueryRow(ctx, `SELECT account_id, status FROM paper_positions WHERE id = $1`, req.PositionID).
		Scan(&accountID, &status)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && accountID != req.AccountID) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("inspect position: %w", err)
	}
	return domain.ErrAlreadyClosed
}

var _ domain.PositionStore = (*PositionStore)(nil)
