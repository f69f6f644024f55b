package nobitex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/gridbot/internal/domain"
)

// OrderBook fetches a symbol's book, degrading from the versioned bulk
// endpoint to the legacy per-symbol one and finally to a single-level book
// synthesised from market stats.
func (c *Client) OrderBook(ctx context.Context, symbol string) (domain.OrderBookSnapshot, error) {
	symbol = strings.ToUpper(symbol)
	src, dst, err := domain.SplitSymbol(symbol)
	if err != nil {
		return domain.OrderBookSnapshot{}, err
	}

	var errs []error
	books, err := c.OrderBooks(ctx)
	if err == nil {
		if snap, ok := books[symbol]; ok && !snap.Empty() {
			return snap, nil
		}
		err = fmt.Errorf("orderbook: %s missing from bulk response", symbol)
	}
	if ctx.Err() != nil {
		return domain.OrderBookSnapshot{}, ctx.Err()
	}
	c.degraded(ctx, symbol, "orderbook", err)
	errs = append(errs, err)

	var resp orderBookResponse
	err = c.request(ctx, call{route: "orderbook_legacy", method: http.MethodGet, path: "/v2/orderbook/" + symbol}, &resp)
	if err == nil {
		snap := resp.ToSnapshot(symbol, domain.SourceREST, time.Now())
		if !snap.Empty() {
			return snap, nil
		}
		err = errors.New("orderbook_legacy: empty book")
	}
	if ctx.Err() != nil {
		return domain.OrderBookSnapshot{}, ctx.Err()
	}
	c.degraded(ctx, symbol, "orderbook_legacy", err)
	errs = append(errs, err)

	stat, err := c.marketStat(ctx, src, dst)
	if err != nil {
		errs = append(errs, err)
		return domain.OrderBookSnapshot{}, fmt.Errorf("nobitex: order book %s: %w", symbol, errors.Join(errs...))
	}
	snap := stat.ToSnapshot(symbol, time.Now())
	if snap.Empty() {
		errs = append(errs, domain.ErrNoMarketData)
		return domain.OrderBookSnapshot{}, fmt.Errorf("nobitex: order book %s: %w", symbol, errors.Join(errs...))
	}
	return snap, nil
}

func (c *Client) degraded(ctx context.Context, symbol, route string, err error) {
	c.logger.InfoContext(ctx, "order book endpoint degraded",
		slog.String("symbol", symbol),
		slog.String("route", route),
		slog.String("error", err.Error()),
	)
}

// OrderBooks fetches every symbol's book from the versioned bulk endpoint,
// keyed by upper-case symbol.
func (c *Client) OrderBooks(ctx context.Context) (map[string]domain.OrderBookSnapshot, error) {
	var resp map[string]json.RawMessage
	if err := c.request(ctx, call{route: "orderbook", method: http.MethodGet, path: "/v3/orderbook/all"}, &resp); err != nil {
		return nil, fmt.Errorf("nobitex: bulk order books: %w", err)
	}
	now := time.Now()
	out := make(map[string]domain.OrderBookSnapshot, len(resp))
	for symbol, raw := range resp {
		if symbol == "status" || symbol == "code" || symbol == "message" {
			continue
		}
		var dto OrderBookDTO
		if err := json.Unmarshal(raw, &dto); err != nil {
			c.logger.DebugContext(ctx, "skipping undecodable book", slog.String("symbol", symbol), slog.String("error", err.Error()))
			continue
		}
		symbol = strings.ToUpper(symbol)
		out[symbol] = dto.ToSnapshot(symbol, domain.SourceREST, now)
	}
	return out, nil
}

func (c *Client) marketStat(ctx context.Context, src, dst string) (MarketStat, error) {
	var resp marketStatsResponse
	body := map[string]string{"srcCurrency": src, "dstCurrency": dst}
	if err := c.request(ctx, call{route: "market_stats", method: http.MethodPost, path: "/market/stats", body: body}, &resp); err != nil {
		return MarketStat{}, fmt.Errorf("nobitex: market stats %s-%s: %w", src, dst, err)
	}
	stat, ok := resp.Stats[src+"-"+dst]
	if !ok {
		return MarketStat{}, fmt.Errorf("nobitex: market stats %s-%s: %w", src, dst, domain.ErrNotFound)
	}
	if stat.IsClosed {
		return MarketStat{}, fmt.Errorf("nobitex: market stats %s-%s: %w", src, dst, domain.ErrMarketClosed)
	}
	return stat, nil
}

// Options returns exchange-wide settings and trading rules.
func (c *Client) Options(ctx context.Context) (Options, error) {
	var resp optionsResponse
	if err := c.request(ctx, call{route: "options", method: http.MethodGet, path: "/v2/options"}, &resp); err != nil {
		return Options{}, fmt.Errorf("nobitex: options: %w", err)
	}
	return resp.Options, nil
}
