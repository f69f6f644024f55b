package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/gridbot/internal/domain"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func TestLeaseExclusiveAndRenewable(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	m := NewLockManager().WithClock(clk.now)

	l, err := m.Acquire(ctx, "feed", 10*time.Second)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if _, err := m.Acquire(ctx, "feed", 10*time.Second); !errors.Is(err, domain.ErrLockHeld) {
		t.Errorf("second Acquire() err = %v, want ErrLockHeld", err)
	}

	clk.advance(8 * time.Second)
	if err := l.Renew(ctx); err != nil {
		t.Fatalf("Renew() error = %v", err)
	}
	clk.advance(8 * time.Second)
	if err := l.Renew(ctx); err != nil {
		t.Fatalf("Renew() after extension error = %v", err)
	}

	if err := l.Release(ctx); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := m.Acquire(ctx, "feed", time.Second); err != nil {
		t.Errorf("Acquire() after release error = %v", err)
	}
}

func TestLeaseLostAfterExpiry(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	m := NewLockManager().WithClock(clk.now)

	l, err := m.Acquire(ctx, "feed", 5*time.Second)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	clk.advance(6 * time.Second)

	other, err := m.Acquire(ctx, "feed", 5*time.Second)
	if err != nil {
		t.Fatalf("takeover Acquire() error = %v", err)
	}
	if err := l.Renew(ctx); !errors.Is(err, domain.ErrLeaseLost) {
		t.Errorf("Renew() err = %v, want ErrLeaseLost", err)
	}
	// The stale holder must not release the new holder's lease.
	_ = l.Release(ctx)
	if err := other.Renew(ctx); err != nil {
		t.Errorf("new holder Renew() error = %v", err)
	}
}

func TestRateLimiterRefills(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	r := NewRateLimiter().WithClock(clk.now)

	for i := 0; i < 3; i++ {
		ok, _ := r.Allow(ctx, "nobitex:order_add", 3, time.Minute)
		if !ok {
			t.Fatalf("call %d denied within budget", i)
		}
	}
	if ok, _ := r.Allow(ctx, "nobitex:order_add", 3, time.Minute); ok {
		t.Error("fourth call allowed, want denied")
	}
	clk.advance(20 * time.Second)
	if ok, _ := r.Allow(ctx, "nobitex:order_add", 3, time.Minute); !ok {
		t.Error("call after refill denied")
	}
	if ok, _ := r.Allow(ctx, "other", 3, time.Minute); !ok {
		t.Error("independent route denied")
	}
}

func TestCachesExpire(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{t: time.Unix(1700000000, 0)}

	pc := NewPriceCache(time.Minute)
	pc.now = clk.now
	if err := pc.SetPrice(ctx, "BTCIRT", 6e9, clk.t); err != nil {
		t.Fatal(err)
	}
	if p, at, err := pc.GetPrice(ctx, "BTCIRT"); err != nil || p != 6e9 || !at.Equal(clk.t) {
		t.Errorf("GetPrice() = %v, %v, %v", p, at, err)
	}

	bc := NewOrderbookCache(time.Minute)
	bc.now = clk.now
	_ = bc.SetSnapshot(ctx, domain.OrderBookSnapshot{Symbol: "BTCIRT", Source: domain.SourceWS,
		Bids: []domain.PriceLevel{{Price: 1, Quantity: 1}}})
	snap, err := bc.GetSnapshot(ctx, "BTCIRT")
	if err != nil || snap.Source != domain.SourceCache {
		t.Errorf("GetSnapshot() = %+v, %v", snap, err)
	}

	clk.advance(2 * time.Minute)
	if _, _, err := pc.GetPrice(ctx, "BTCIRT"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expired price err = %v, want ErrNotFound", err)
	}
	if _, err := bc.GetSnapshot(ctx, "BTCIRT"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expired book err = %v, want ErrNotFound", err)
	}
}
