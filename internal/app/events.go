package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/papertrade/internal/domain"
)

// settingsMessage is the bus payload for settings updates. Origin lets each
// process skip its own messages.
type settingsMessage struct {
	Origin string `json:"origin"`
	domain.SettingsUpdatedEvent
}

// fanOut forwards engine events to the bus (or straight to the WebSocket
// hub when there is no bus) and to the alert queue. The returned function
// detaches every listener.
func (a *App) fanOut(ctx context.Context, e *engine, deps *Dependencies) (detach func()) {
	bus := deps.SignalBus
	publish := func(channel string, v any) {
		payload, err := json.Marshal(v)
		if err != nil {
			a.logDrop(ctx, channel, err)
			return
		}
		if bus == nil {
			e.hub.Broadcast(channel, payload)
			return
		}
		if err := bus.Publish(ctx, channel, payload); err != nil {
			a.logDrop(ctx, channel, err)
		}
	}

	offClosed := e.monitor.OnPositionClosed(func(ev domain.PositionClosedEvent) {
		publish(domain.ChannelPositionClosed, ev)
		if bus != nil {
			payload, _ := json.Marshal(ev)
			if err := bus.StreamAppend(ctx, domain.StreamClosedTrades, payload); err != nil {
				a.logDrop(ctx, domain.StreamClosedTrades, err)
			}
		}
		e.alerts.PositionClosed(ev)
	})

	offSettings := e.settings.OnSettingsUpdated(func(ev domain.SettingsUpdatedEvent) {
		publish(domain.ChannelRiskSettings, settingsMessage{Origin: a.instanceID, SettingsUpdatedEvent: ev})
		e.alerts.SettingsUpdated(ev)
	})

	// With a bus the feed sink publishes prices itself and the hub relays them.
	offPrices := func() {}
	if bus == nil {
		offPrices = e.feed.SubscribePriceChanges(func(tick domain.PriceTick) {
			publish(domain.ChannelPrices, tick)
		})
	}

	return func() {
		offClosed()
		offSettings()
		offPrices()
	}
}

// followSettings drops the local cache entry whenever another process
// updates a user's settings.
func (a *App) followSettings(ctx context.Context, e *engine, bus domain.SignalBus) error {
	msgs, err := bus.Subscribe(ctx, domain.ChannelRiskSettings)
	if err != nil {
		return fmt.Errorf("app: subscribe %s: %w", domain.ChannelRiskSettings, err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-msgs:
			if !ok {
				return nil
			}
			a.applySettingsMessage(ctx, e, data)
		}
	}
}

func (a *App) applySettingsMessage(ctx context.Context, e *engine, data []byte) {
	var msg settingsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		a.logger.WarnContext(ctx, "malformed risk settings message", slog.String("error", err.Error()))
		return
	}
	if msg.Origin == a.instanceID || msg.UserID == "" {
		return
	}
	e.settings.ClearCache(msg.UserID)
	a.logger.DebugContext(ctx, "risk settings cache invalidated", slog.String("user_id", msg.UserID))
}
