package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/papertrade/internal/domain"
)

func TestBinanceStreamURL(t *testing.T) {
	f := NewBinanceFeed("wss://example.test/", []string{"BTCUSDT", "ethusdt"}, discardLogger())
	want := "wss://example.test/stream?streams=btcusdt@markPrice@1s/ethusdt@markPrice@1s"
	if got := f.StreamURL(); got != want {
		t.Fatalf("url = %s, want %s", got, want)
	}
}

func TestBinanceHandleMessage(t *testing.T) {
	f := NewBinanceFeed("", []string{"BTCUSDT"}, discardLogger())
	ctx := context.Background()

	var ticks []domain.PriceTick
	f.SubscribePriceChanges(func(t domain.PriceTick) { ticks = append(ticks, t) })

	frames := []string{
		`{"stream":"btcusdt@markPrice@1s","data":{"e":"markPriceUpdate","E":1700000000000,"s":"BTCUSDT","p":"65000.10"}}`,
		`{"stream":"btcusdt@markPrice@1s","data":{"e":"markPriceUpdate","E":1700000001000,"s":"BTCUSDT","p":"65000.10"}}`,
		`{"stream":"btcusdt@markPrice@1s","data":{"e":"markPriceUpdate","E":1700000002000,"s":"BTCUSDT","p":"65100.00"}}`,
		`{"result":null,"id":1}`,
	}
	for _, fr := range frames {
		if err := f.handleMessage(ctx, []byte(fr)); err != nil {
			t.Fatalf("frame %s: %v", fr, err)
		}
	}

	if len(ticks) != 2 {
		t.Fatalf("ticks = %d, want 2 (unchanged price suppressed)", len(ticks))
	}
	if ticks[1].OldPrice != 65000.10 || ticks[1].NewPrice != 65100 {
		t.Fatalf("tick = %+v", ticks[1])
	}
	p, err := f.GetCurrentPrice(ctx, "btcusdt")
	if err != nil || p != 65100 {
		t.Fatalf("price = %v, %v", p, err)
	}

	if err := f.handleMessage(ctx, []byte(`{"data":{"e":"markPriceUpdate","s":"BTCUSDT","p":"abc"}}`)); err == nil {
		t.Fatal("expected error for malformed price")
	}
	if err := f.handleMessage(ctx, []byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed frame")
	}
}

func TestBinanceRunStreamsFromServer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stream" || !strings.Contains(r.URL.RawQuery, "btcusdt@markPrice@1s") {
			http.Error(w, "bad stream", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		msg := `{"stream":"btcusdt@markPrice@1s","data":{"e":"markPriceUpdate","E":1700000000000,"s":"BTCUSDT","p":"70000"}}`
		_ = conn.WriteMessage(websocket.TextMessage, []byte(msg))
		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	f := NewBinanceFeed(wsURL, []string{"BTCUSDT"}, discardLogger())

	got := make(chan domain.PriceTick, 1)
	f.SubscribePriceChanges(func(t domain.PriceTick) {
		select {
		case got <- t:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	select {
	case tick := <-got:
		if tick.Symbol != "BTCUSDT" || tick.NewPrice != 70000 {
			t.Fatalf("tick = %+v", tick)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no tick received")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("run err = %v", err)
	}
}
