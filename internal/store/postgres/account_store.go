package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/papertrade/internal/domain"
)

// AccountStore implements domain.AccountStore on paper_accounts.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates an AccountStore.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

const accountCols = `id, user_id, balance, initial_balance, total_trades,
	winning_trades, losing_trades, total_profit_loss, total_profit_loss_percent,
	created_at, updated_at`

func scanAccount(row pgx.Row) (domain.Account, error) {
	var a domain.Account
	err := row.Scan(
		&a.ID, &a.UserID, &a.Balance, &a.InitialBalance, &a.TotalTrades,
		&a.WinningTrades, &a.LosingTrades, &a.TotalProfitLoss, &a.TotalProfitLossPercent,
		&a.CreatedAt, &a.UpdatedAt,
	)
	return a, err
}

// Create inserts a; a second account for the same user fails with
// domain.ErrAlreadyExists.
func (s *AccountStore) Create(ctx context.Context, a domain.Account) (domain.Account, error) {
	const query = `
		INSERT INTO paper_accounts (id, user_id, balance, initial_balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + accountCols

	out, err := scanAccount(s.pool.QueryRow(ctx, query,
		a.ID, a.UserID, a.Balance, a.InitialBalance, a.CreatedAt, a.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Account{}, fmt.Errorf("postgres: create account for %s: %w", a.UserID, domain.ErrAlreadyExists)
		}
		return domain.Account{}, fmt.Errorf("postgres: create account for %s: %w", a.UserID, err)
	}
	return out, nil
}

// Get returns the account with id.
func (s *AccountStore) Get(ctx context.Context, id string) (domain.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx, `SELECT `+accountCols+` FROM paper_accounts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, fmt.Errorf("postgres: get account %s: %w", id, err)
	}
	return a, nil
}

// GetByUserID returns the user's account.
func (s *AccountStore) GetByUserID(ctx context.Context, userID string) (domain.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx, `SELECT `+accountCols+` FROM paper_accounts WHERE user_id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, fmt.Errorf("postgres: get account for user %s: %w", userID, err)
	}
	return a, nil
}

// List returns every account.
func (s *AccountStore) List(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+accountCols+` FROM paper_accounts ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list accounts: %w", err)
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

var _ domain.AccountStore = (*AccountStore)(nil)
