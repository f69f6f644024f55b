package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/gridbot/internal/domain"
)

// BookFetcher fetches a book straight from the exchange.
type BookFetcher interface {
	OrderBook(ctx context.Context, symbol string) (domain.OrderBookSnapshot, error)
}

// MarketDataConfig bounds how stale a cached or pushed book may be.
type MarketDataConfig struct {
	Symbols    []string
	BookMaxAge time.Duration
}

// MarketData is the single read path for prices and books. Reads go
// cache → WebSocket snapshot → REST, and REST results are written back to
// the cache. It owns the cache entries; the feed populates them through
// Publish.
type MarketData struct {
	prices  domain.PriceCache
	books   domain.OrderbookCache
	rest    BookFetcher
	allowed map[string]struct{}
	cfg     MarketDataConfig
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.RWMutex
	snapshots map[string]domain.OrderBookSnapshot
}

// NewMarketData creates the market data layer.
func NewMarketData(
	prices domain.PriceCache,
	books domain.OrderbookCache,
	rest BookFetcher,
	cfg MarketDataConfig,
	logger *slog.Logger,
) *MarketData {
	allowed := make(map[string]struct{}, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		allowed[strings.ToUpper(s)] = struct{}{}
	}
	if cfg.BookMaxAge <= 0 {
		cfg.BookMaxAge = 10 * time.Second
	}
	return &MarketData{
		prices:    prices,
		books:     books,
		rest:      rest,
		allowed:   allowed,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "market_data")),
		now:       time.Now,
		snapshots: make(map[string]domain.OrderBookSnapshot),
	}
}

// Symbols returns the allow-list in sorted order.
func (m *MarketData) Symbols() []string {
	out := make([]string, 0, len(m.allowed))
	for s := range m.allowed {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (m *MarketData) check(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if _, ok := m.allowed[s]; !ok {
		return "", fmt.Errorf("market_data: %w: %q", domain.ErrSymbolNotAllowed, symbol)
	}
	return s, nil
}

// LastPrice returns a price no older than maxAge, and where it came from.
// When only the book is known the bid/ask midpoint is used.
func (m *MarketData) LastPrice(ctx context.Context, symbol string, maxAge time.Duration) (float64, domain.BookSource, error) {
	symbol, err := m.check(symbol)
	if err != nil {
		return 0, "", err
	}
	now := m.now()

	price, at, err := m.prices.GetPrice(ctx, symbol)
	switch {
	case err == nil && price > 0 && now.Sub(at) <= maxAge:
		return price, domain.SourceCache, nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		m.logger.WarnContext(ctx, "price cache read failed", slog.String("symbol", symbol), slog.String("error", err.Error()))
	}

	if snap, ok := m.snapshot(symbol); ok && now.Sub(snap.CapturedAt) <= maxAge && snap.Price() > 0 {
		return snap.Price(), domain.SourceWS, nil
	}

	snap, err := m.fetch(ctx, symbol)
	if err != nil {
		return 0, "", err
	}
	if snap.Price() <= 0 {
		return 0, "", fmt.Errorf("market_data: %s: %w", symbol, domain.ErrNoMarketData)
	}
	return snap.Price(), domain.SourceREST, nil
}

// OrderBook returns a book no older than the configured BookMaxAge.
func (m *MarketData) OrderBook(ctx context.Context, symbol string) (domain.OrderBookSnapshot, error) {
	symbol, err := m.check(symbol)
	if err != nil {
		return domain.OrderBookSnapshot{}, err
	}
	now := m.now()

	snap, err := m.books.GetSnapshot(ctx, symbol)
	switch {
	case err == nil && !snap.Empty() && now.Sub(snap.CapturedAt) <= m.cfg.BookMaxAge:
		return snap, nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		m.logger.WarnContext(ctx, "book cache read failed", slog.String("symbol", symbol), slog.String("error", err.Error()))
	}

	if ws, ok := m.snapshot(symbol); ok && now.Sub(ws.CapturedAt) <= m.cfg.BookMaxAge {
		return ws, nil
	}

	return m.fetch(ctx, symbol)
}

// BestBid returns the highest bid of the resolved book.
func (m *MarketData) BestBid(ctx context.Context, symbol string) (float64, error) {
	snap, err := m.OrderBook(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return snap.BestBid(), nil
}

// BestAsk returns the lowest ask of the resolved book.
func (m *MarketData) BestAsk(ctx context.Context, symbol string) (float64, error) {
	snap, err := m.OrderBook(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return snap.BestAsk(), nil
}

// Spread returns the absolute and percent spread of the resolved book.
func (m *MarketData) Spread(ctx context.Context, symbol string) (abs, pct float64, err error) {
	snap, err := m.OrderBook(ctx, symbol)
	if err != nil {
		return 0, 0, err
	}
	return snap.Spread(), snap.SpreadPercent(), nil
}

// Publish records a pushed snapshot in the in-process table and writes it
// through to the cache. The table entry is replaced even if the cache write
// fails.
func (m *MarketData) Publish(ctx context.Context, snap domain.OrderBookSnapshot) error {
	symbol, err := m.check(snap.Symbol)
	if err != nil {
		return err
	}
	snap.Symbol = symbol

	m.mu.Lock()
	m.snapshots[symbol] = snap
	m.mu.Unlock()

	return m.writeBack(ctx, snap)
}

func (m *MarketData) snapshot(symbol string) (domain.OrderBookSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snapshots[symbol]
	return snap, ok
}

func (m *MarketData) fetch(ctx context.Context, symbol string) (domain.OrderBookSnapshot, error) {
	snap, err := m.rest.OrderBook(ctx, symbol)
	if err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("market_data: fetch %s: %w", symbol, err)
	}
	if err := m.writeBack(ctx, snap); err != nil {
		m.logger.WarnContext(ctx, "cache write-back failed", slog.String("symbol", symbol), slog.String("error", err.Error()))
	}
	return snap, nil
}

func (m *MarketData) writeBack(ctx context.Context, snap domain.OrderBookSnapshot) error {
	var errs []error
	if err := m.books.SetSnapshot(ctx, snap); err != nil {
		errs = append(errs, err)
	}
	if price := snap.Price(); price > 0 {
		if err := m.prices.SetPrice(ctx, snap.Symbol, price, snap.CapturedAt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
