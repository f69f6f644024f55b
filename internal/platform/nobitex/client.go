// Package nobitex is the exchange adapter: a REST client with retry and
// soft rate limiting, and the WebSocket protocol used by the market feed.
package nobitex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"github.com/alanyoungcy/gridbot/internal/domain"
)

// Config holds REST client settings.
type Config struct {
	BaseURL     string
	Token       string
	Timeout     time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// RouteLimits is requests per minute keyed by route name. Routes that
	// are absent use DefaultRPM; a non-positive limit disables throttling.
	RouteLimits map[string]int
	DefaultRPM  int
	// LimitSleep is how long to pause when a route's budget is exhausted.
	LimitSleep time.Duration
	UserAgent  string
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 8 * time.Second
	}
	if c.LimitSleep <= 0 {
		c.LimitSleep = 250 * time.Millisecond
	}
	if c.UserAgent == "" {
		c.UserAgent = "TraderBot/gridbot"
	}
}

// Client is the REST client for the exchange API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    domain.RateLimiter
	logger     *slog.Logger
}

// NewClient creates a REST client. limiter may be nil to disable throttling.
func NewClient(cfg Config, limiter domain.RateLimiter, logger *slog.Logger) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
		logger:     logger.With(slog.String("component", "nobitex_rest")),
	}
}

// Authenticated reports whether the client carries an API token.
func (c *Client) Authenticated() bool { return c.cfg.Token != "" }

// call describes one logical API request.
type call struct {
	route  string
	method string
	path   string
	query  url.Values
	body   any
	auth   bool
}

// request sends c with retry and decodes a successful payload into out.
// Failed envelopes become *domain.ExchangeError and are never retried.
func (c *Client) request(ctx context.Context, cl call, out any) error {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		c.throttle(ctx, cl.route)

		raw, err := c.once(ctx, cl)
		if err == nil {
			if err = decodeEnvelope(raw, out); err == nil {
				return nil
			}
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !domain.IsRetriable(err) || attempt == c.cfg.MaxAttempts {
			c.logger.WarnContext(ctx, "request failed",
				slog.String("route", cl.route),
				slog.String("method", cl.method),
				slog.String("path", cl.path),
				slog.String("query", redactQuery(cl.query)),
				slog.String("body", redactBody(cl.body)),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			return err
		}

		delay := c.backoff(attempt)
		c.logger.DebugContext(ctx, "retrying request",
			slog.String("route", cl.route),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

// once performs a single HTTP round trip and returns the raw body of a
// response that carries an envelope, or a transport error.
func (c *Client) once(ctx context.Context, cl call) ([]byte, error) {
	var bodyReader io.Reader
	if cl.body != nil {
		b, err := json.Marshal(cl.body)
		if err != nil {
			return nil, fmt.Errorf("nobitex: marshal %s body: %w", cl.route, err)
		}
		bodyReader = bytes.NewReader(b)
	}

	u := c.cfg.BaseURL + cl.path
	if len(cl.query) > 0 {
		u += "?" + cl.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("nobitex: create %s request: %w", cl.route, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if cl.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cl.auth {
		if c.cfg.Token == "" {
			return nil, fmt.Errorf("nobitex: %s: %w: no api token", cl.route, domain.ErrUnauthorized)
		}
		req.Header.Set("Authorization", "Token "+c.cfg.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.TransportError{Op: cl.route, Err: err, Retriable: ctx.Err() == nil}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.TransportError{Op: cl.route, StatusCode: resp.StatusCode, Err: err, Retriable: true}
	}
	if err := checkHTTPStatus(cl.route, resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// throttle applies the per-route soft limit: when the budget is spent it
// pauses briefly and lets the call through.
func (c *Client) throttle(ctx context.Context, route string) {
	if c.limiter == nil {
		return
	}
	limit, ok := c.cfg.RouteLimits[route]
	if !ok {
		limit = c.cfg.DefaultRPM
	}
	if limit <= 0 {
		return
	}
	allowed, err := c.limiter.Allow(ctx, "nobitex:"+route, limit, time.Minute)
	if err != nil {
		c.logger.DebugContext(ctx, "rate limiter unavailable", slog.String("route", route), slog.String("error", err.Error()))
		return
	}
	if !allowed {
		c.logger.DebugContext(ctx, "route budget exhausted, pausing", slog.String("route", route), slog.Int("rpm", limit))
		_ = sleepCtx(ctx, c.cfg.LimitSleep)
	}
}

// backoff returns base × 2^(attempt−1) capped at MaxBackoff, plus up to
// 50% random jitter.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.cfg.BaseBackoff << (attempt - 1)
	if d <= 0 || d > c.cfg.MaxBackoff {
		d = c.cfg.MaxBackoff
	}
	return d + time.Duration(rand.Int64N(int64(d)/2+1))
}

// checkHTTPStatus maps non-2xx status codes to domain errors. 4xx bodies
// that carry a failed envelope are passed through so the exchange code
// can be mapped.
func checkHTTPStatus(route string, statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	snippet := string(body)
	if len(snippet) > 256 {
		snippet = snippet[:256]
	}
	switch {
	case statusCode == http.StatusTooManyRequests:
		return &domain.TransportError{Op: route, StatusCode: statusCode,
			Err: fmt.Errorf("%w: %s", domain.ErrRateLimited, snippet), Retriable: true}
	case statusCode >= 500:
		return &domain.TransportError{Op: route, StatusCode: statusCode,
			Err: errors.New(snippet), Retriable: true}
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &domain.TransportError{Op: route, StatusCode: statusCode,
			Err: fmt.Errorf("%w: %s", domain.ErrUnauthorized, snippet)}
	}

	var env envelope
	if json.Unmarshal(body, &env) == nil && env.failed() {
		return env.asError()
	}
	if statusCode == http.StatusNotFound {
		return &domain.TransportError{Op: route, StatusCode: statusCode,
			Err: fmt.Errorf("%w: %s", domain.ErrNotFound, snippet)}
	}
	return &domain.TransportError{Op: route, StatusCode: statusCode, Err: errors.New(snippet)}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
