package service

import "github.com/alanyoungcy/papertrade/internal/domain"

// Breach describes a threshold crossed by a position at a given price.
type Breach struct {
	Reason           string
	ThresholdPercent float64
	PnLPercent       float64
}

// CheckThresholds evaluates a position against its own risk parameters.
// Stop-loss is checked first; when it fires, take-profit is not considered
// for the same price. ok is false when no threshold is breached or the
// position carries no thresholds.
func CheckThresholds(p domain.Position, price float64) (Breach, bool) {
	if p.Risk.Empty() {
		return Breach{}, false
	}
	pnlPct := p.PnLPercent(price)

	if sl := p.Risk.StopLossPercent; sl != nil && pnlPct <= -*sl {
		return Breach{
			Reason:           domain.CloseReasonStopLoss,
			ThresholdPercent: *sl,
			PnLPercent:       pnlPct,
		}, true
	}
	if tp := p.Risk.TakeProfitPercent; tp != nil && pnlPct >= *tp {
		return Breach{
			Reason:           domain.CloseReasonTakeProfit,
			ThresholdPercent: *tp,
			PnLPercent:       pnlPct,
		}, true
	}
	return Breach{PnLPercent: pnlPct}, false
}
