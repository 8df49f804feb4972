package domain

import "time"

// RiskSettings are the per-user risk thresholds. ID is zero for settings that
// were never persisted.
type RiskSettings struct {
	ID                int64     `json:"id"`
	UserID            string    `json:"user_id"`
	StopLossPercent   float64   `json:"stop_loss_percent"`
	TakeProfitPercent float64   `json:"take_profit_percent"`
	MaxPositionSize   float64   `json:"max_position_size"`
	MaxPortfolioRisk  float64   `json:"max_portfolio_risk"`
	MaxTradesPerDay   int       `json:"max_trades_per_day"`
	StopLossEnabled   bool      `json:"stop_loss_enabled"`
	TakeProfitEnabled bool      `json:"take_profit_enabled"`
	StrategyMode      string    `json:"strategy_mode"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// DefaultRiskSettings returns the thresholds a user starts with.
func DefaultRiskSettings(userID string) RiskSettings {
	return RiskSettings{
		UserID:            userID,
		StopLossPercent:   2.0,
		TakeProfitPercent: 4.0,
		MaxPositionSize:   10.0,
		MaxPortfolioRisk:  20.0,
		MaxTradesPerDay:   10,
		StrategyMode:      "balanced",
	}
}

// RiskSettingsPatch is a partial update; nil fields are left unchanged.
type RiskSettingsPatch struct {
	StopLossPercent   *float64 `json:"stop_loss_percent,omitempty"`
	TakeProfitPercent *float64 `json:"take_profit_percent,omitempty"`
	MaxPositionSize   *float64 `json:"max_position_size,omitempty"`
	MaxPortfolioRisk  *float64 `json:"max_portfolio_risk,omitempty"`
	MaxTradesPerDay   *int     `json:"max_trades_per_day,omitempty"`
	StopLossEnabled   *bool    `json:"stop_loss_enabled,omitempty"`
	TakeProfitEnabled *bool    `json:"take_profit_enabled,omitempty"`
	StrategyMode      *string  `json:"strategy_mode,omitempty"`
}

// Apply merges the patch onto s.
func (p RiskSettingsPatch) Apply(s RiskSettings) RiskSettings {
	if p.StopLossPercent != nil {
		s.StopLossPercent = *p.StopLossPercent
	}
	if p.TakeProfitPercent != nil {
		s.TakeProfitPercent = *p.TakeProfitPercent
	}
	if p.MaxPositionSize != nil {
		s.MaxPositionSize = *p.MaxPositionSize
	}
	if p.MaxPortfolioRisk != nil {
		s.MaxPortfolioRisk = *p.MaxPortfolioRisk
	}
	if p.MaxTradesPerDay != nil {
		s.MaxTradesPerDay = *p.MaxTradesPerDay
	}
	if p.StopLossEnabled != nil {
		s.StopLossEnabled = *p.StopLossEnabled
	}
	if p.TakeProfitEnabled != nil {
		s.TakeProfitEnabled = *p.TakeProfitEnabled
	}
	if p.StrategyMode != nil {
		s.StrategyMode = *p.StrategyMode
	}
	return s
}

// RiskProfile is a named preset of thresholds.
type RiskProfile struct {
	Name              string  `json:"name"`
	StopLossPercent   float64 `json:"stop_loss_percent"`
	TakeProfitPercent float64 `json:"take_profit_percent"`
	MaxPositionSize   float64 `json:"max_position_size"`
	MaxPortfolioRisk  float64 `json:"max_portfolio_risk"`
}
