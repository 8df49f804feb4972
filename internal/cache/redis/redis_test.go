package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/papertrade/internal/domain"
)

// testClient connects to PAPERTRADE_TEST_REDIS_ADDR under a throwaway key
// prefix, or skips.
func testClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("PAPERTRADE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PAPERTRADE_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := New(ctx, ClientConfig{Addr: addr, KeyPrefix: "papertrade-test-" + uuid.NewString()[:8]})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestKeyNamespace(t *testing.T) {
	c := Wrap(nil, "")
	if got := c.key("price", "BTCUSDT"); got != "papertrade:price:BTCUSDT" {
		t.Fatalf("key = %s", got)
	}
	c = Wrap(nil, "staging:")
	if got := c.key("lock", "account:init:u1"); got != "staging:lock:account:init:u1" {
		t.Fatalf("key = %s", got)
	}
}

func TestParsePrice(t *testing.T) {
	p, ts, err := parsePrice(map[string]string{"price": "65000.5", "ts": "1700000000000000000"})
	if err != nil || p != 65000.5 || ts.Unix() != 1700000000 {
		t.Fatalf("parse = %v %v %v", p, ts, err)
	}
	if _, _, err := parsePrice(map[string]string{}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
	if _, _, err := parsePrice(map[string]string{"price": "x"}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestPriceCacheRoundTrip(t *testing.T) {
	c := testClient(t)
	pc := NewPriceCache(c, time.Minute)
	ctx := context.Background()

	if _, _, err := pc.GetPrice(ctx, "BTCUSDT"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
	if err := pc.SetPrice(ctx, "BTCUSDT", 65000, time.Now()); err != nil {
		t.Fatal(err)
	}
	p, _, err := pc.GetPrice(ctx, "BTCUSDT")
	if err != nil || p != 65000 {
		t.Fatalf("price = %v, %v", p, err)
	}
	got, err := pc.GetPrices(ctx, []string{"BTCUSDT", "ETHUSDT"})
	if err != nil || len(got) != 1 || got["BTCUSDT"] != 65000 {
		t.Fatalf("prices = %v, %v", got, err)
	}
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(testClient(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "trades:daily:u1", 3, time.Hour)
		if err != nil || !ok {
			t.Fatalf("request %d: ok=%v err=%v", i, ok, err)
		}
	}
	ok, err := rl.Allow(ctx, "trades:daily:u1", 3, time.Hour)
	if err != nil || ok {
		t.Fatalf("fourth request: ok=%v err=%v, want rejected", ok, err)
	}
}

func TestLockManagerExclusive(t *testing.T) {
	lm := NewLockManager(testClient(t))
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "account:init:u1", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := lm.Acquire(ctx, "account:init:u1", time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("err = %v, want lock held", err)
	}
	unlock()
	unlock()
	again, err := lm.Acquire(ctx, "account:init:u1", time.Minute)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	again()
}

func TestSignalBusStream(t *testing.T) {
	sb := NewSignalBus(testClient(t), 100)
	ctx := context.Background()

	if msgs, err := sb.StreamRead(ctx, domain.StreamClosedTrades, "0", 10); err != nil || len(msgs) != 0 {
		t.Fatalf("empty read = %v, %v", msgs, err)
	}
	if err := sb.StreamAppend(ctx, domain.StreamClosedTrades, []byte(`{"id":"t1"}`)); err != nil {
		t.Fatal(err)
	}
	msgs, err := sb.StreamRead(ctx, domain.StreamClosedTrades, "0", 10)
	if err != nil || len(msgs) != 1 || string(msgs[0].Payload) != `{"id":"t1"}` {
		t.Fatalf("read = %v, %v", msgs, err)
	}
}
