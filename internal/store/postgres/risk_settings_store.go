package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/papertrade/internal/domain"
)

// RiskSettingsStore implements domain.RiskSettingsStore on risk_settings.
type RiskSettingsStore struct {
	pool *pgxpool.Pool
}

// NewRiskSettingsStore creates a RiskSettingsStore.
func NewRiskSettingsStore(pool *pgxpool.Pool) *RiskSettingsStore {
	return &RiskSettingsStore{pool: pool}
}

const riskSettingsCols = `id, user_id, stop_loss_percent, take_profit_percent,
	max_position_size, max_portfolio_risk, max_trades_per_day,
	stop_loss_enabled, take_profit_enabled, strategy_mode, created_at, updated_at`

func scanRiskSettings(row pgx.Row) (domain.RiskSettings, error) {
	var rs domain.RiskSettings
	err := row.Scan(
		&rs.ID, &rs.UserID, &rs.StopLossPercent, &rs.TakeProfitPercent,
		&rs.MaxPositionSize, &rs.MaxPortfolioRisk, &rs.MaxTradesPerDay,
		&rs.StopLossEnabled, &rs.TakeProfitEnabled, &rs.StrategyMode, &rs.CreatedAt, &rs.UpdatedAt,
	)
	return rs, err
}

// GetByUserID returns the user's settings.
func (s *RiskSettingsStore) GetByUserID(ctx context.Context, userID string) (domain.RiskSettings, error) {
	rs, err := scanRiskSettings(s.pool.QueryRow(ctx,
		`SELECT `+riskSettingsCols+` FROM risk_settings WHERE user_id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RiskSettings{}, domain.ErrNotFound
		}
		return domain.RiskSettings{}, fmt.Errorf("postgres: get risk settings %s: %w", userID, err)
	}
	return rs, nil
}

// Create inserts settings for a user who has none.
func (s *RiskSettingsStore) Create(ctx context.Context, in domain.RiskSettings) (domain.RiskSettings, error) {
	rs, err := scanRiskSettings(s.pool.QueryRow(ctx, `
		INSERT INTO risk_settings (
			user_id, stop_loss_percent, take_profit_percent, max_position_size,
			max_portfolio_risk, max_trades_per_day, stop_loss_enabled,
			take_profit_enabled, strategy_mode
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+riskSettingsCols,
		in.UserID, in.StopLossPercent, in.TakeProfitPercent, in.MaxPositionSize,
		in.MaxPortfolioRisk, in.MaxTradesPerDay, in.StopLossEnabled,
		in.TakeProfitEnabled, in.StrategyMode))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.RiskSettings{}, fmt.Errorf("postgres: create risk settings %s: %w", in.UserID, domain.ErrAlreadyExists)
		}
		return domain.RiskSettings{}, fmt.Errorf("postgres: create risk settings %s: %w", in.UserID, err)
	}
	return rs, nil
}

// Update overwrites every mutable field of the row matching in.ID.
func (s *RiskSettingsStore) Update(ctx context.Context, in domain.RiskSettings) (domain.RiskSettings, error) {
	rs, err := scanRiskSettings(s.pool.QueryRow(ctx, `
		UPDATE risk_settings SET
			stop_loss_percent   = $3,
			take_profit_percent = $4,
			max_position_size   = $5,
			max_portfolio_risk  = $6,
			max_trades_per_day  = $7,
			stop_loss_enabled   = $8,
			take_profit_enabled = $9,
			strategy_mode       = $10,
			updated_at          = NOW()
		WHERE id = $1 AND user_id = $2
		RETURNING `+riskSettingsCols,
		in.ID, in.UserID, in.StopLossPercent, in.TakeProfitPercent, in.MaxPositionSize,
		in.MaxPortfolioRisk, in.MaxTradesPerDay, in.StopLossEnabled,
		in.TakeProfitEnabled, in.StrategyMode))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RiskSettings{}, domain.ErrNotFound
		}
		return domain.RiskSettings{}, fmt.Errorf("postgres: update risk settings %s: %w", in.UserID, err)
	}
	return rs, nil
}

var _ domain.RiskSettingsStore = (*RiskSettingsStore)(nil)
