// Package feed runs the streaming market data consumer.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/alanyoungcy/gridbot/internal/domain"
	"github.com/alanyoungcy/gridbot/internal/platform/nobitex"
)

// Publisher receives every decoded book snapshot.
type Publisher interface {
	Publish(ctx context.Context, snap domain.OrderBookSnapshot) error
}

// TokenFunc issues a connect token. Nil means connect anonymously.
type TokenFunc func(ctx context.Context) (string, error)

// Config tunes the consumer.
type Config struct {
	URL            string
	Symbols        []string
	LeaseKey       string
	LeaseTTL       time.Duration
	ReadTimeout    time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	// Jitter is the largest random fraction of the backoff added to each
	// reconnect wait.
	Jitter float64
}

func (c *Config) applyDefaults() {
	if c.LeaseKey == "" {
		c.LeaseKey = "feed:orderbook"
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 30 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Minute
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = 2
	}
	if c.Jitter <= 0 {
		c.Jitter = 0.5
	}
}

// OrderbookFeed subscribes to the public order book channel of each
// configured symbol and publishes every snapshot. Only the holder of the
// feed lease runs. The lease is renewed on a fixed schedule for as long as
// it is held, and losing it stops the consumer.
type OrderbookFeed struct {
	cfg     Config
	locks   domain.LockManager
	pub     Publisher
	token   TokenFunc
	symbols map[string]struct{}
	logger  *slog.Logger
	now     func() time.Time
}

// NewOrderbookFeed creates the consumer.
func NewOrderbookFeed(cfg Config, locks domain.LockManager, pub Publisher, token TokenFunc, logger *slog.Logger) *OrderbookFeed {
	cfg.applyDefaults()
	symbols := make(map[string]struct{}, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		symbols[strings.ToUpper(s)] = struct{}{}
	}
	return &OrderbookFeed{
		cfg:     cfg,
		locks:   locks,
		pub:     pub,
		token:   token,
		symbols: symbols,
		logger:  logger.With(slog.String("component", "orderbook_feed")),
		now:     time.Now,
	}
}

// Run acquires the lease and keeps a subscription alive until ctx is
// cancelled or the lease is lost. Any connection failure restarts the whole
// session after a capped, jittered backoff; the backoff resets once a
// session has delivered data.
func (f *OrderbookFeed) Run(ctx context.Context) error {
	if len(f.symbols) == 0 {
		f.logger.InfoContext(ctx, "no symbols to subscribe, exiting")
		return nil
	}

	lease, err := f.locks.Acquire(ctx, f.cfg.LeaseKey, f.cfg.LeaseTTL)
	if err != nil {
		return fmt.Errorf("feed: acquire lease: %w", err)
	}
	defer func() {
		relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lease.Release(relCtx); err != nil {
			f.logger.Warn("lease release failed", slog.String("error", err.Error()))
		}
	}()
	f.logger.InfoContext(ctx, "feed lease acquired", slog.String("key", lease.Key()))

	// Renewal is independent of traffic: a quiet socket or a long reconnect
	// wait must not let the lease lapse while this process still consumes.
	leaseCtx, lost := context.WithCancelCause(ctx)
	renewDone := make(chan struct{})
	go func() {
		defer close(renewDone)
		f.keepLease(leaseCtx, lease, lost)
	}()
	defer func() {
		lost(nil)
		<-renewDone
	}()

	backoff := f.cfg.InitialBackoff
	for attempt := 1; ; attempt++ {
		if leaseCtx.Err() != nil {
			return stopCause(ctx, leaseCtx)
		}

		healthy, err := f.session(leaseCtx)
		if leaseCtx.Err() != nil {
			return stopCause(ctx, leaseCtx)
		}
		if healthy {
			backoff = f.cfg.InitialBackoff
			attempt = 1
		}

		wait := f.jitter(backoff)
		f.logger.WarnContext(ctx, "orderbook feed disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", wait),
		)
		select {
		case <-leaseCtx.Done():
			return stopCause(ctx, leaseCtx)
		case <-time.After(wait):
		}
		backoff = time.Duration(float64(backoff) * f.cfg.BackoffFactor)
		if backoff > f.cfg.MaxBackoff {
			backoff = f.cfg.MaxBackoff
		}
	}
}

// keepLease renews the lease every third of its TTL until ctx ends. A
// failed renewal cancels the consumer with the renewal error as cause.
func (f *OrderbookFeed) keepLease(ctx context.Context, lease domain.Lease, lost context.CancelCauseFunc) {
	t := time.NewTicker(max(f.cfg.LeaseTTL/3, time.Millisecond))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := lease.Renew(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				f.logger.ErrorContext(ctx, "feed lease lost, stopping consumer", slog.String("error", err.Error()))
				lost(err)
				return
			}
		}
	}
}

// stopCause reports why the consumer stopped: the caller's cancellation
// or the lease failure recorded on leaseCtx.
func stopCause(ctx, leaseCtx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("feed: %w", context.Cause(leaseCtx))
}

// session runs one connection. healthy reports whether at least one book
// was published before it ended.
func (f *OrderbookFeed) session(ctx context.Context) (healthy bool, err error) {
	conn, err := nobitex.DialWS(ctx, f.cfg.URL)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	// Unblock the read loop on shutdown.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	var token string
	if f.token != nil {
		if token, err = f.token(ctx); err != nil {
			return false, fmt.Errorf("feed: ws token: %w", err)
		}
	}
	if err := conn.Connect(token); err != nil {
		return false, err
	}
	for symbol := range f.symbols {
		if err := conn.Subscribe(nobitex.BookChannel(symbol)); err != nil {
			return false, err
		}
	}
	f.logger.InfoContext(ctx, "orderbook feed subscribed", slog.Int("symbols", len(f.symbols)))

	for {
		_ = conn.SetReadDeadline(f.now().Add(f.cfg.ReadTimeout))
		frame, err := conn.ReadFrame()
		if err != nil {
			if errors.Is(err, nobitex.ErrProtocol) {
				f.logger.WarnContext(ctx, "dropping malformed frame", slog.String("error", err.Error()))
				continue
			}
			return healthy, err
		}

		switch frame.Kind {
		case nobitex.FrameHeartbeat:
			if err := conn.Heartbeat(); err != nil {
				return healthy, err
			}
		case nobitex.FrameError:
			f.logger.WarnContext(ctx, "server reported error", slog.Int64("id", frame.ID), slog.String("error", frame.Err))
		case nobitex.FramePush:
			if f.handlePush(ctx, frame) {
				healthy = true
			}
		}
	}
}

func (f *OrderbookFeed) handlePush(ctx context.Context, frame nobitex.Frame) bool {
	symbol, ok := nobitex.SymbolFromChannel(frame.Channel)
	if _, subscribed := f.symbols[symbol]; !ok || !subscribed {
		f.logger.DebugContext(ctx, "ignoring push on unexpected channel", slog.String("channel", frame.Channel))
		return false
	}
	if len(frame.Data) == 0 {
		return false
	}
	snap, err := nobitex.ParseBookPublication(symbol, frame.Data, f.now())
	if err != nil {
		f.logger.WarnContext(ctx, "dropping book publication",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return false
	}
	if err := f.pub.Publish(ctx, snap); err != nil {
		f.logger.WarnContext(ctx, "publish snapshot failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}
	return true
}

// jitter adds up to Jitter×d of random delay on top of d.
func (f *OrderbookFeed) jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(rand.Int64N(int64(float64(d)*f.cfg.Jitter)+1))
}

func errString(err error) string {
	if err == nil {
		return "session ended"
	}
	return err.Error()
}
