package domain

import "time"

// PriceTick is a single observed price change for a symbol. It is never
// persisted.
type PriceTick struct {
	Symbol        string    `json:"symbol"`
	OldPrice      float64   `json:"old_price"`
	NewPrice      float64   `json:"new_price"`
	ChangePercent float64   `json:"change_percent"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewPriceTick fills ChangePercent from the two prices.
func NewPriceTick(symbol string, oldPrice, newPrice float64, ts time.Time) PriceTick {
	var change float64
	if oldPrice != 0 {
		change = (newPrice - oldPrice) / oldPrice * 100
	}
	return PriceTick{
		Symbol:        symbol,
		OldPrice:      oldPrice,
		NewPrice:      newPrice,
		ChangePercent: change,
		Timestamp:     ts,
	}
}

// PositionClosedEvent is emitted after the monitor force-closes a position.
type PositionClosedEvent struct {
	PositionID string    `json:"position_id"`
	AccountID  string    `json:"account_id"`
	Symbol     string    `json:"symbol"`
	Reason     string    `json:"reason"`
	PnLPercent float64   `json:"pnl_percent"`
	ClosePrice float64   `json:"close_price"`
	ClosedAt   time.Time `json:"closed_at"`
}

// SettingsUpdatedEvent is emitted after a user's risk settings are persisted.
type SettingsUpdatedEvent struct {
	UserID   string       `json:"user_id"`
	Settings RiskSettings `json:"settings"`
}

// Bus channels used to fan events out across processes.
const (
	ChannelPrices         = "prices"
	ChannelPositionClosed = "positions"
	ChannelRiskSettings   = "risk_settings"
	StreamClosedTrades    = "stream:trades:closed"
)
