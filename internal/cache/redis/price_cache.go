package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/gridbot/internal/domain"
	"github.com/redis/go-redis/v9"
)

// PriceCache implements domain.PriceCache with one hash per symbol at
// "price:{symbol}" holding "price" and "capturedAt" (unix seconds). Keys
// expire after ttl so a dead feed cannot serve stale prices forever.
type PriceCache struct {
	c   *Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. ttl <= 0 disables expiry.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{c: c, ttl: ttl}
}

// SetPrice stores the latest price for a symbol.
func (pc *PriceCache) SetPrice(ctx context.Context, symbol string, price float64, capturedAt time.Time) error {
	key := pc.c.key("price", symbol)
	_, err := pc.c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key,
			"price", strconv.FormatFloat(price, 'f', -1, 64),
			"capturedAt", strconv.FormatInt(capturedAt.Unix(), 10),
		)
		if pc.ttl > 0 {
			p.Expire(ctx, key, pc.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: set price %s: %w", symbol, err)
	}
	return nil
}

// GetPrice returns the cached price. It returns domain.ErrNotFound when
// nothing is cached.
func (pc *PriceCache) GetPrice(ctx context.Context, symbol string) (float64, time.Time, error) {
	vals, err := pc.c.rdb.HGetAll(ctx, pc.c.key("price", symbol)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", symbol, err)
	}
	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse price %s: %w", symbol, err)
	}
	sec, err := strconv.ParseInt(vals["capturedAt"], 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse capturedAt %s: %w", symbol, err)
	}
	return price, time.Unix(sec, 0), nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
