// Package memory provides single-process implementations of the cache,
// lease and rate limiter interfaces for deployments without Redis and for
// tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/gridbot/internal/domain"
	"github.com/google/uuid"
)

// Clock returns the current time. Tests substitute a fake.
type Clock func() time.Time

type priceEntry struct {
	price      float64
	capturedAt time.Time
	expires    time.Time
}

// PriceCache is an in-process domain.PriceCache with optional TTL.
type PriceCache struct {
	mu      sync.RWMutex
	entries map[string]priceEntry
	ttl     time.Duration
	now     Clock
}

// NewPriceCache creates a PriceCache. ttl <= 0 disables expiry.
func NewPriceCache(ttl time.Duration) *PriceCache {
	return &PriceCache{entries: make(map[string]priceEntry), ttl: ttl, now: time.Now}
}

func (c *PriceCache) SetPrice(_ context.Context, symbol string, price float64, capturedAt time.Time) error {
	e := priceEntry{price: price, capturedAt: capturedAt}
	if c.ttl > 0 {
		e.expires = c.now().Add(c.ttl)
	}
	c.mu.Lock()
	c.entries[symbol] = e
	c.mu.Unlock()
	return nil
}

func (c *PriceCache) GetPrice(_ context.Context, symbol string) (float64, time.Time, error) {
	c.mu.RLock()
	e, ok := c.entries[symbol]
	c.mu.RUnlock()
	if !ok || (!e.expires.IsZero() && c.now().After(e.expires)) {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return e.price, e.capturedAt, nil
}

type bookEntry struct {
	snap    domain.OrderBookSnapshot
	expires time.Time
}

// OrderbookCache is an in-process domain.OrderbookCache with optional TTL.
type OrderbookCache struct {
	mu      sync.RWMutex
	entries map[string]bookEntry
	ttl     time.Duration
	now     Clock
}

// NewOrderbookCache creates an OrderbookCache. ttl <= 0 disables expiry.
func NewOrderbookCache(ttl time.Duration) *OrderbookCache {
	return &OrderbookCache{entries: make(map[string]bookEntry), ttl: ttl, now: time.Now}
}

func (c *OrderbookCache) SetSnapshot(_ context.Context, snap domain.OrderBookSnapshot) error {
	e := bookEntry{snap: snap}
	if c.ttl > 0 {
		e.expires = c.now().Add(c.ttl)
	}
	c.mu.Lock()
	c.entries[snap.Symbol] = e
	c.mu.Unlock()
	return nil
}

func (c *OrderbookCache) GetSnapshot(_ context.Context, symbol string) (domain.OrderBookSnapshot, error) {
	c.mu.RLock()
	e, ok := c.entries[symbol]
	c.mu.RUnlock()
	if !ok || (!e.expires.IsZero() && c.now().After(e.expires)) {
		return domain.OrderBookSnapshot{}, domain.ErrNotFound
	}
	snap := e.snap
	snap.Source = domain.SourceCache
	return snap, nil
}

type lockEntry struct {
	token   string
	expires time.Time
}

// LockManager hands out process-local leases.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]lockEntry
	now   Clock
}

// NewLockManager creates an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]lockEntry), now: time.Now}
}

// WithClock replaces the time source.
func (m *LockManager) WithClock(now Clock) *LockManager {
	m.now = now
	return m
}

func (m *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (domain.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if e, ok := m.locks[key]; ok && now.Before(e.expires) {
		return nil, fmt.Errorf("memory: acquire lease %s: %w", key, domain.ErrLockHeld)
	}
	token := uuid.NewString()
	m.locks[key] = lockEntry{token: token, expires: now.Add(ttl)}
	return &lease{m: m, key: key, token: token, ttl: ttl}, nil
}

type lease struct {
	m     *LockManager
	key   string
	token string
	ttl   time.Duration
}

func (l *lease) Key() string { return l.key }

func (l *lease) Renew(_ context.Context) error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	now := l.m.now()
	e, ok := l.m.locks[l.key]
	if !ok || e.token != l.token || !now.Before(e.expires) {
		return fmt.Errorf("memory: renew lease %s: %w", l.key, domain.ErrLeaseLost)
	}
	e.expires = now.Add(l.ttl)
	l.m.locks[l.key] = e
	return nil
}

func (l *lease) Release(_ context.Context) error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	if e, ok := l.m.locks[l.key]; ok && e.token == l.token {
		delete(l.m.locks, l.key)
	}
	return nil
}

type bucket struct {
	tokens float64
	last   time.Time
}

// RateLimiter is an in-process token bucket per key.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     Clock
}

// NewRateLimiter creates an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{buckets: make(map[string]*bucket), now: time.Now}
}

// WithClock replaces the time source.
func (r *RateLimiter) WithClock(now Clock) *RateLimiter {
	r.now = now
	return r
}

func (r *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return true, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	b, ok := r.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(limit), last: now}
		r.buckets[key] = b
	}
	elapsed := now.Sub(b.last)
	if elapsed > 0 {
		b.tokens += float64(limit) * float64(elapsed) / float64(window)
		if b.tokens > float64(limit) {
			b.tokens = float64(limit)
		}
		b.last = now
	}
	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// Compile-time interface checks.
var (
	_ domain.PriceCache     = (*PriceCache)(nil)
	_ domain.OrderbookCache = (*OrderbookCache)(nil)
	_ domain.LockManager    = (*LockManager)(nil)
	_ domain.RateLimiter    = (*RateLimiter)(nil)
)
