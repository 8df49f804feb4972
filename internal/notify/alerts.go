package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/papertrade/internal/domain"
)

// Event types accepted by the allow-list.
const (
	EventPositionClosed  = "position_closed"
	EventSettingsUpdated = "risk_settings_updated"
)

const alertQueueSize = 256

type alert struct {
	event, title, message string
}

// Alerts turns domain events into notifications and delivers them from a
// background goroutine, so emitters never wait on chat APIs. When the queue
// is full new alerts are dropped.
type Alerts struct {
	notifier *Notifier
	queue    chan alert
	logger   *slog.Logger
}

// NewAlerts creates an Alerts queue in front of n.
func NewAlerts(n *Notifier, logger *slog.Logger) *Alerts {
	return &Alerts{
		notifier: n,
		queue:    make(chan alert, alertQueueSize),
		logger:   logger.With(slog.String("component", "alerts")),
	}
}

// PositionClosed queues an auto-close alert.
func (a *Alerts) PositionClosed(ev domain.PositionClosedEvent) {
	a.enqueue(alert{
		event: EventPositionClosed,
		title: fmt.Sprintf("%s %s", ev.Symbol, humanReason(ev.Reason)),
		message: fmt.Sprintf("Position %s closed at %.8g (%+.2f%%)",
			ev.PositionID, ev.ClosePrice, ev.PnLPercent),
	})
}

// SettingsUpdated queues a settings-change alert.
func (a *Alerts) SettingsUpdated(ev domain.SettingsUpdatedEvent) {
	s := ev.Settings
	a.enqueue(alert{
		event: EventSettingsUpdated,
		title: "Risk settings updated",
		message: fmt.Sprintf("User %s: mode=%s SL=%.2f%% TP=%.2f%% max/day=%d",
			ev.UserID, s.StrategyMode, s.StopLossPercent, s.TakeProfitPercent, s.MaxTradesPerDay),
	})
}

func (a *Alerts) enqueue(al alert) {
	if !a.notifier.Enabled() || !a.notifier.Allows(al.event) {
		return
	}
	select {
	case a.queue <- al:
	default:
		a.logger.Warn("alert queue full, dropping", slog.String("event", al.event))
	}
}

// Run delivers queued alerts until ctx is done.
func (a *Alerts) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case al := <-a.queue:
			if err := a.notifier.Notify(ctx, al.event, al.title, al.message); err != nil {
				a.logger.WarnContext(ctx, "alert delivery failed",
					slog.String("event", al.event),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func humanReason(reason string) string {
	switch reason {
	case domain.CloseReasonStopLoss:
		return "stop-loss hit"
	case domain.CloseReasonTakeProfit:
		return "take-profit hit"
	}
	return strings.ReplaceAll(reason, "_", " ")
}
