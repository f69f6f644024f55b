package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest price per symbol.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price float64, capturedAt time.Time) error
	GetPrice(ctx context.Context, symbol string) (price float64, capturedAt time.Time, err error)
}

// OrderbookCache stores the latest full book per symbol. Puts replace
// the previous value wholesale.
type OrderbookCache interface {
	SetSnapshot(ctx context.Context, snap OrderBookSnapshot) error
	GetSnapshot(ctx context.Context, symbol string) (OrderBookSnapshot, error)
}

// RateLimiter provides per-key request budgets.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Lease is a time-boxed lock that must be renewed to stay held.
type Lease interface {
	Key() string
	// Renew extends the lease by its TTL. It returns ErrLeaseLost once
	// another holder owns the key or the lease expired.
	Renew(ctx context.Context) error
	Release(ctx context.Context) error
}

// LockManager hands out leases.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}
