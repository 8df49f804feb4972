package domain

import "time"

// DefaultStartingBalance is credited to every new paper trading account.
const DefaultStartingBalance = 100_000.0

// Account is a user's paper trading account. Its aggregates change only as a
// side effect of a trade transitioning to CLOSED.
type Account struct {
	ID                     string    `json:"id"`
	UserID                 string    `json:"user_id"`
	Balance                float64   `json:"balance"`
	InitialBalance         float64   `json:"initial_balance"`
	TotalTrades            int       `json:"total_trades"`
	WinningTrades          int       `json:"winning_trades"`
	LosingTrades           int       `json:"losing_trades"`
	TotalProfitLoss        float64   `json:"total_profit_loss"`
	TotalProfitLossPercent float64   `json:"total_profit_loss_percent"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// ApplyClose folds a realized PnL into the account aggregates.
func (a *Account) ApplyClose(realizedPnL float64) {
	a.TotalTrades++
	if realizedPnL > 0 {
		a.WinningTrades++
	} else {
		a.LosingTrades++
	}
	a.TotalProfitLoss += realizedPnL
	a.Balance += realizedPnL
	if a.InitialBalance != 0 {
		a.TotalProfitLossPercent = a.TotalProfitLoss / a.InitialBalance * 100
	}
}
