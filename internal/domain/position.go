package domain

import (
	"fmt"
	"strings"
	"time"
)

// Direction is the side of a directional bet.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// ParseDirection normalizes user input ("long", "buy", "SHORT", ...).
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LONG", "BUY":
		return DirectionLong, nil
	case "SHORT", "SELL":
		return DirectionShort, nil
	default:
		return "", fmt.Errorf("%w: direction %q", ErrInvalidParameters, s)
	}
}

// PositionStatus tracks whether a position still counts toward exposure.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// RiskParameters holds the optional per-position exit thresholds, expressed in
// percent of entry price. A nil field means the trigger is disabled.
type RiskParameters struct {
	StopLossPercent   *float64 `json:"stop_loss_percent,omitempty"`
	TakeProfitPercent *float64 `json:"take_profit_percent,omitempty"`
}

// Empty reports whether neither trigger is set.
func (r RiskParameters) Empty() bool {
	return r.StopLossPercent == nil && r.TakeProfitPercent == nil
}

// Validate rejects non-positive thresholds.
func (r RiskParameters) Validate() error {
	if r.StopLossPercent != nil && *r.StopLossPercent <= 0 {
		return fmt.Errorf("%w: stop_loss_percent must be > 0", ErrInvalidParameters)
	}
	if r.TakeProfitPercent != nil && *r.TakeProfitPercent <= 0 {
		return fmt.Errorf("%w: take_profit_percent must be > 0", ErrInvalidParameters)
	}
	return nil
}

// Percent is a helper for building RiskParameters literals.
func Percent(v float64) *float64 { return &v }

// Position is a paper position held by an account. Exactly one OPEN trade
// references it while it is open.
type Position struct {
	ID           string            `json:"id"`
	AccountID    string            `json:"account_id"`
	Symbol       string            `json:"symbol"`
	Direction    Direction         `json:"direction"`
	EntryPrice   float64           `json:"entry_price"`
	Quantity     float64           `json:"quantity"`
	Risk         RiskParameters    `json:"risk"`
	Status       PositionStatus    `json:"status"`
	Reason       string            `json:"reason,omitempty"`
	Confidence   float64           `json:"confidence,omitempty"`
	SignalSource string            `json:"signal_source,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastPrice    *float64          `json:"last_price,omitempty"`
	LastPriceAt  *time.Time        `json:"last_price_at,omitempty"`
	OpenedAt     time.Time         `json:"opened_at"`
	ClosedAt     *time.Time        `json:"closed_at,omitempty"`
}

// PositionPatch carries the mutable, derived fields of a position.
type PositionPatch struct {
	LastPrice   *float64
	LastPriceAt *time.Time
}

// PnL returns the direction-aware profit for exiting at price.
func (p Position) PnL(price float64) float64 {
	if p.Direction == DirectionShort {
		return (p.EntryPrice - price) * p.Quantity
	}
	return (price - p.EntryPrice) * p.Quantity
}

// PnLPercent returns the direction-aware move from entry to price as a
// percentage of the entry price.
func (p Position) PnLPercent(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	move := (price - p.EntryPrice) / p.EntryPrice * 100
	if p.Direction == DirectionShort {
		return -move
	}
	return move
}
