package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/papertrade/internal/domain"
	"github.com/alanyoungcy/papertrade/internal/events"
)

const (
	// DefaultBinanceURL is the Binance USD-M futures stream endpoint.
	DefaultBinanceURL = "wss://fstream.binance.com"

	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	writeWait         = 10 * time.Second
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// combinedFrame is the envelope of a /stream?streams=... message.
type combinedFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// markPriceEvent is a markPriceUpdate payload. Prices arrive as strings.
type markPriceEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	MarkPrice string `json:"p"`
}

// BinanceFeed streams mark prices for a fixed symbol set from Binance
// futures and turns each change into a tick. It reconnects with exponential
// backoff until ctx is cancelled.
type BinanceFeed struct {
	sink
	baseURL string
	symbols []string
	dialer  websocket.Dialer
	ticks   events.Emitter[domain.PriceTick]

	mu     sync.RWMutex
	prices map[string]float64
}

var _ domain.PriceFeed = (*BinanceFeed)(nil)

// NewBinanceFeed creates a feed for symbols. An empty baseURL selects
// DefaultBinanceURL.
func NewBinanceFeed(baseURL string, symbols []string, logger *slog.Logger, opts ...Option) *BinanceFeed {
	if baseURL == "" {
		baseURL = DefaultBinanceURL
	}
	f := &BinanceFeed{
		baseURL: strings.TrimRight(baseURL, "/"),
		dialer:  websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		prices:  make(map[string]float64),
	}
	f.logger = logger.With(slog.String("component", "binance_feed"))
	for _, o := range opts {
		o(&f.sink)
	}
	for _, s := range symbols {
		if s = normalizeSymbol(s); s != "" {
			f.symbols = append(f.symbols, s)
		}
	}
	return f
}

// StreamURL is the combined-stream URL for the configured symbols.
func (f *BinanceFeed) StreamURL() string {
	streams := make([]string, len(f.symbols))
	for i, s := range f.symbols {
		streams[i] = strings.ToLower(s) + "@markPrice@1s"
	}
	return f.baseURL + "/stream?streams=" + strings.Join(streams, "/")
}

// GetCurrentPrice returns the last streamed price, falling back to the
// shared price cache.
func (f *BinanceFeed) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	symbol = normalizeSymbol(symbol)
	f.mu.RLock()
	p, ok := f.prices[symbol]
	f.mu.RUnlock()
	if ok {
		return p, nil
	}
	if p, ok := f.cached(ctx, symbol); ok {
		return p, nil
	}
	return 0, fmt.Errorf("feed/binance: no price for %s: %w", symbol, domain.ErrPriceFeed)
}

// SubscribePriceChanges registers fn for every price change.
func (f *BinanceFeed) SubscribePriceChanges(fn func(domain.PriceTick)) (unsubscribe func()) {
	return f.ticks.Subscribe(fn)
}

// Run connects and streams until ctx is cancelled.
func (f *BinanceFeed) Run(ctx context.Context) error {
	if len(f.symbols) == 0 {
		f.logger.InfoContext(ctx, "no symbols configured, binance feed idle")
		<-ctx.Done()
		return ctx.Err()
	}

	delay := reconnectDelay
	for {
		connected, err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			delay = reconnectDelay
		}
		f.logger.WarnContext(ctx, "binance stream disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

// runConnection dials once and reads until the connection fails. It reports
// whether the dial succeeded so Run can reset its backoff.
func (f *BinanceFeed) runConnection(ctx context.Context) (bool, error) {
	conn, _, err := f.dialer.DialContext(ctx, f.StreamURL(), nil)
	if err != nil {
		return false, fmt.Errorf("feed/binance: dial: %w", err)
	}
	defer conn.Close()

	f.logger.InfoContext(ctx, "binance stream connected", slog.Int("symbols", len(f.symbols)))

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-connCtx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("feed/binance: read: %w: %w", domain.ErrWSDisconnect, err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if err := f.handleMessage(ctx, data); err != nil {
			f.logger.DebugContext(ctx, "binance frame skipped", slog.String("error", err.Error()))
		}
	}
}

func (f *BinanceFeed) handleMessage(ctx context.Context, data []byte) error {
	var frame combinedFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	payload := frame.Data
	if len(payload) == 0 {
		payload = data
	}

	var ev markPriceEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decode mark price: %w", err)
	}
	if ev.EventType != "markPriceUpdate" || ev.Symbol == "" {
		return nil
	}
	price, err := strconv.ParseFloat(ev.MarkPrice, 64)
	if err != nil || price <= 0 {
		return fmt.Errorf("bad mark price %q for %s", ev.MarkPrice, ev.Symbol)
	}

	ts := time.Now().UTC()
	if ev.EventTime > 0 {
		ts = time.UnixMilli(ev.EventTime).UTC()
	}
	f.update(ctx, normalizeSymbol(ev.Symbol), price, ts)
	return nil
}

// update stores price and emits a tick when it differs from the last one.
func (f *BinanceFeed) update(ctx context.Context, symbol string, price float64, ts time.Time) {
	f.mu.Lock()
	old, seen := f.prices[symbol]
	f.prices[symbol] = price
	f.mu.Unlock()

	if seen && old == price {
		return
	}
	tick := domain.NewPriceTick(symbol, old, price, ts)
	f.record(ctx, tick)
	f.ticks.Emit(tick)
}
