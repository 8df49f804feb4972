package domain

import "time"

// TradeStatus is monotonic: OPEN becomes CLOSED exactly once.
type TradeStatus string

const (
	TradeOpen   TradeStatus = "OPEN"
	TradeClosed TradeStatus = "CLOSED"
)

// Close reasons recorded on trades and events.
const (
	CloseReasonManual     = "manual"
	CloseReasonStopLoss   = "stop_loss_triggered"
	CloseReasonTakeProfit = "take_profit_triggered"
)

// Trade is the ledger entry paired with a position.
type Trade struct {
	ID          string      `json:"id"`
	AccountID   string      `json:"account_id"`
	PositionID  string      `json:"position_id"`
	Symbol      string      `json:"symbol"`
	Direction   Direction   `json:"direction"`
	EntryPrice  float64     `json:"entry_price"`
	ExitPrice   *float64    `json:"exit_price,omitempty"`
	Quantity    float64     `json:"quantity"`
	Status      TradeStatus `json:"status"`
	RealizedPnL *float64    `json:"realized_pnl,omitempty"`
	CloseReason string      `json:"close_reason,omitempty"`
	OpenedAt    time.Time   `json:"opened_at"`
	ClosedAt    *time.Time  `json:"closed_at,omitempty"`
}

// CloseRequest describes a compare-and-swap close at the storage boundary.
type CloseRequest struct {
	PositionID  string
	AccountID   string
	ExitPrice   float64
	RealizedPnL float64
	Reason      string
	ClosedAt    time.Time
}

// TradeSignal is the input to opening a position.
type TradeSignal struct {
	Symbol       string            `json:"symbol"`
	Direction    Direction         `json:"direction"`
	EntryPrice   float64           `json:"entry_price"`
	Quantity     float64           `json:"quantity"`
	Reason       string            `json:"reason,omitempty"`
	Confidence   float64           `json:"confidence,omitempty"`
	SignalSource string            `json:"signal_source,omitempty"`
	Risk         RiskParameters    `json:"risk"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// ExecutionResult is returned by a successful open.
type ExecutionResult struct {
	Success    bool   `json:"success"`
	PositionID string `json:"position_id"`
	TradeID    string `json:"trade_id"`
}
