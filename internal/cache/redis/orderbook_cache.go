package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/gridbot/internal/domain"
	"github.com/redis/go-redis/v9"
)

// OrderbookCache implements domain.OrderbookCache. Each symbol's book lives
// in a hash at "book:{symbol}" with JSON "asks"/"bids" arrays plus
// "lastTradePrice" and "lastUpdateMs". Writes replace every field in one
// transaction.
type OrderbookCache struct {
	c   *Client
	ttl time.Duration
}

// NewOrderbookCache creates an OrderbookCache. ttl <= 0 disables expiry.
func NewOrderbookCache(c *Client, ttl time.Duration) *OrderbookCache {
	return &OrderbookCache{c: c, ttl: ttl}
}

// SetSnapshot stores a full book.
func (oc *OrderbookCache) SetSnapshot(ctx context.Context, snap domain.OrderBookSnapshot) error {
	asks, err := json.Marshal(snap.Asks)
	if err != nil {
		return fmt.Errorf("redis: encode asks %s: %w", snap.Symbol, err)
	}
	bids, err := json.Marshal(snap.Bids)
	if err != nil {
		return fmt.Errorf("redis: encode bids %s: %w", snap.Symbol, err)
	}

	key := oc.c.key("book", snap.Symbol)
	_, err = oc.c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key,
			"asks", string(asks),
			"bids", string(bids),
			"lastTradePrice", strconv.FormatFloat(snap.LastTradePrice, 'f', -1, 64),
			"lastUpdateMs", strconv.FormatInt(snap.CapturedAt.UnixMilli(), 10),
		)
		if oc.ttl > 0 {
			p.Expire(ctx, key, oc.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: set book %s: %w", snap.Symbol, err)
	}
	return nil
}

// GetSnapshot returns the cached book with Source set to cache. It returns
// domain.ErrNotFound when nothing is cached.
func (oc *OrderbookCache) GetSnapshot(ctx context.Context, symbol string) (domain.OrderBookSnapshot, error) {
	vals, err := oc.c.rdb.HGetAll(ctx, oc.c.key("book", symbol)).Result()
	if err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("redis: get book %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return domain.OrderBookSnapshot{}, domain.ErrNotFound
	}

	snap := domain.OrderBookSnapshot{Symbol: symbol, Source: domain.SourceCache}
	if err := json.Unmarshal([]byte(vals["asks"]), &snap.Asks); err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("redis: decode asks %s: %w", symbol, err)
	}
	if err := json.Unmarshal([]byte(vals["bids"]), &snap.Bids); err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("redis: decode bids %s: %w", symbol, err)
	}
	if v, err := strconv.ParseFloat(vals["lastTradePrice"], 64); err == nil {
		snap.LastTradePrice = v
	}
	if ms, err := strconv.ParseInt(vals["lastUpdateMs"], 10, 64); err == nil {
		snap.CapturedAt = time.UnixMilli(ms)
	}
	return snap, nil
}

// Compile-time interface check.
var _ domain.OrderbookCache = (*OrderbookCache)(nil)
