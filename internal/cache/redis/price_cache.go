package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/papertrade/internal/domain"
)

// PriceCache implements domain.PriceCache. Each symbol is a hash with fields
// "price" and "ts" (unix nanoseconds) that expires after ttl without updates,
// so a dead feed cannot serve stale prices forever.
type PriceCache struct {
	c   *Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. ttl <= 0 disables expiry.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{c: c, ttl: ttl}
}

// SetPrice stores the latest price for symbol.
func (pc *PriceCache) SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error {
	k := pc.c.key("price", symbol)
	pipe := pc.c.rdb.TxPipeline()
	pipe.HSet(ctx, k,
		"price", strconv.FormatFloat(price, 'f', -1, 64),
		"ts", strconv.FormatInt(ts.UnixNano(), 10),
	)
	if pc.ttl > 0 {
		pipe.Expire(ctx, k, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", symbol, err)
	}
	return nil
}

// GetPrice returns the cached price for symbol, or domain.ErrNotFound.
func (pc *PriceCache) GetPrice(ctx context.Context, symbol string) (float64, time.Time, error) {
	vals, err := pc.c.rdb.HGetAll(ctx, pc.c.key("price", symbol)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", symbol, err)
	}
	price, ts, err := parsePrice(vals)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", symbol, err)
	}
	return price, ts, nil
}

// GetPrices fetches several symbols in one round trip. Missing or malformed
// entries are omitted.
func (pc *PriceCache) GetPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	out := make(map[string]float64, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}

	pipe := pc.c.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(symbols))
	for _, s := range symbols {
		cmds[s] = pipe.HGetAll(ctx, pc.c.key("price", s))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices: %w", err)
	}

	for s, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		if price, _, err := parsePrice(vals); err == nil {
			out[s] = price
		}
	}
	return out, nil
}

func parsePrice(vals map[string]string) (float64, time.Time, error) {
	ps, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(ps, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse price %q: %w", ps, err)
	}
	var ts time.Time
	if raw, ok := vals["ts"]; ok {
		ns, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, time.Time{}, fmt.Errorf("parse ts %q: %w", raw, err)
		}
		ts = time.Unix(0, ns).UTC()
	}
	return price, ts, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
