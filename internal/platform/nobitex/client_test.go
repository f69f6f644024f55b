package nobitex

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alanyoungcy/gridbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:     srv.URL,
		Token:       "secret-token",
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}, nil, testLogger())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestSmallOrderIsTypedAndNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusOK, map[string]string{"status": "failed", "code": "SmallOrder", "message": "Order value is too small"})
	}))

	_, err := c.CreateOrder(context.Background(), domain.OrderRequest{
		Symbol: "BTCIRT", Side: domain.OrderSideBuy, Price: 5_880_000_000, Quantity: 0.0000001,
	})
	if !errors.Is(err, domain.ErrBelowMinimum) {
		t.Fatalf("err = %v, want ErrBelowMinimum", err)
	}
	var ee *domain.ExchangeError
	if !errors.As(err, &ee) || ee.Code != "SmallOrder" {
		t.Errorf("err = %v, want *ExchangeError with code SmallOrder", err)
	}
	if domain.IsRetriable(err) {
		t.Error("business error reported as retriable")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server saw %d calls, want 1", n)
	}
}

func TestFailedEnvelopeOnHTTP400(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "failed", "code": "InsufficientBalance"})
	}))

	_, err := c.CreateOrder(context.Background(), domain.OrderRequest{
		Symbol: "BTCIRT", Side: domain.OrderSideSell, Price: 6_120_000_000, Quantity: 0.001,
	})
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server saw %d calls, want 1", n)
	}
}

func TestUnknownCodeMapsToRejected(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "failed", "code": "SomethingNew"})
	}))
	err := c.CancelOrder(context.Background(), "42")
	if !errors.Is(err, domain.ErrExchangeRejected) {
		t.Errorf("err = %v, want ErrExchangeRejected", err)
	}
}

func TestTransientFailuresAreRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "order": map[string]any{"id": 987654}})
		}
	}))

	id, err := c.CreateOrder(context.Background(), domain.OrderRequest{
		Symbol: "BTCIRT", Side: domain.OrderSideBuy, Price: 5_880_000_000, Quantity: 0.001,
	})
	if err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}
	if id != "987654" {
		t.Errorf("id = %q, want %q", id, "987654")
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("server saw %d calls, want 3", n)
	}
}

func TestRetriesGiveUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	err := c.CancelOrder(context.Background(), "1")
	if !domain.IsRetriable(err) {
		t.Errorf("err = %v, want retriable transport error", err)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("server saw %d calls, want 3", n)
	}
}

func TestUnauthorizedNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	_, err := c.Profile(context.Background())
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server saw %d calls, want 1", n)
	}
}

func TestAuthHeader(t *testing.T) {
	var got string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "profile": map[string]any{"username": "grid"}})
	}))
	p, err := c.Profile(context.Background())
	if err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if got != "Token secret-token" {
		t.Errorf("Authorization = %q, want %q", got, "Token secret-token")
	}
	if p.Username != "grid" {
		t.Errorf("Username = %q, want %q", p.Username, "grid")
	}
}

func TestOrderBookPrefersVersionedEndpoint(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/orderbook/all" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"BTCIRT": map[string]any{
				"lastUpdate":     1700000000000,
				"lastTradePrice": "6000000000",
				"asks":           [][]string{{"6010000000", "0.2"}, {"6005000000", "0.1"}},
				"bids":           [][]string{{"5990000000", "0.3"}, {"5995000000", "0.4"}},
			},
			"ETHIRT": map[string]any{
				"asks": [][]string{{"210000000", "1"}},
				"bids": [][]string{{"200000000", "1"}},
			},
		})
	}))

	snap, err := c.OrderBook(context.Background(), "btcirt")
	if err != nil {
		t.Fatalf("OrderBook() error = %v", err)
	}
	if snap.BestAsk() != 6_005_000_000 || snap.BestBid() != 5_995_000_000 {
		t.Errorf("best ask/bid = %v/%v, want sorted levels", snap.BestAsk(), snap.BestBid())
	}
	if snap.LastTradePrice != 6_000_000_000 {
		t.Errorf("LastTradePrice = %v", snap.LastTradePrice)
	}
	if snap.Source != domain.SourceREST {
		t.Errorf("Source = %q, want rest", snap.Source)
	}
	if snap.CapturedAt.IsZero() {
		t.Error("CapturedAt not stamped")
	}
}

func TestOrderBookDegradesToMarketStats(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		switch r.URL.Path {
		case "/v3/orderbook/all":
			writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "ETHIRT": map[string]any{"asks": [][]string{{"1", "1"}}}})
		case "/v2/orderbook/BTCIRT":
			writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "asks": []any{}, "bids": []any{}})
		case "/market/stats":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["srcCurrency"] != "btc" || body["dstCurrency"] != "rls" {
				t.Errorf("stats body = %v", body)
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"status": "ok",
				"stats": map[string]any{
					"btc-rls": map[string]any{"bestSell": "6010000000", "bestBuy": "5990000000", "isClosed": false},
				},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	snap, err := c.OrderBook(context.Background(), "BTCIRT")
	if err != nil {
		t.Fatalf("OrderBook() error = %v", err)
	}
	if len(snap.Asks) != 1 || len(snap.Bids) != 1 {
		t.Fatalf("synthetic book has %d asks / %d bids, want 1 / 1", len(snap.Asks), len(snap.Bids))
	}
	if snap.LastTradePrice != 6_000_000_000 {
		t.Errorf("LastTradePrice = %v, want mid 6000000000", snap.LastTradePrice)
	}
	want := []string{"/v3/orderbook/all", "/v2/orderbook/BTCIRT", "/market/stats"}
	if strings.Join(paths, ",") != strings.Join(want, ",") {
		t.Errorf("paths = %v, want %v", paths, want)
	}
}

func TestInvalidSymbolRejectedBeforeNetwork(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	if _, err := c.OrderBook(context.Background(), "BTC/EUR"); !errors.Is(err, domain.ErrInvalidSymbol) {
		t.Errorf("err = %v, want ErrInvalidSymbol", err)
	}
	if calls.Load() != 0 {
		t.Error("invalid symbol reached the network")
	}
}

func TestOrdersStatusMapping(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"orders": []map[string]any{
				{"id": 1, "status": "Active", "matchedAmount": "0"},
				{"id": 2, "status": "Active", "matchedAmount": "0.0004"},
				{"id": 3, "status": "Done", "matchedAmount": "0.001", "averagePrice": "5880000000"},
				{"id": "4", "status": "Canceled"},
			},
		})
	}))
	updates, err := c.OrdersStatus(context.Background(), []string{"1", "2", "3", "4"})
	if err != nil {
		t.Fatalf("OrdersStatus() error = %v", err)
	}
	want := []domain.OrderStatus{
		domain.OrderStatusPlaced,
		domain.OrderStatusPartiallyFilled,
		domain.OrderStatusFilled,
		domain.OrderStatusCancelled,
	}
	if len(updates) != len(want) {
		t.Fatalf("got %d updates, want %d", len(updates), len(want))
	}
	for i, u := range updates {
		if u.Status != want[i] {
			t.Errorf("update[%d].Status = %q, want %q", i, u.Status, want[i])
		}
	}
	if updates[2].AvgFillPrice != 5_880_000_000 || updates[2].ExchangeOrderID != "3" {
		t.Errorf("update[2] = %+v", updates[2])
	}
}

type denyLimiter struct{ calls atomic.Int32 }

func (d *denyLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	d.calls.Add(1)
	return false, nil
}

func TestRateLimitIsSoft(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "balance": "1.5"})
	}))
	defer srv.Close()

	lim := &denyLimiter{}
	c := NewClient(Config{
		BaseURL:     srv.URL,
		Token:       "t",
		DefaultRPM:  60,
		LimitSleep:  time.Millisecond,
		BaseBackoff: time.Millisecond,
	}, lim, testLogger())

	bal, err := c.Balance(context.Background(), "btc")
	if err != nil {
		t.Fatalf("Balance() error = %v", err)
	}
	if bal != 1.5 {
		t.Errorf("balance = %v, want 1.5", bal)
	}
	if lim.calls.Load() != 1 {
		t.Errorf("limiter consulted %d times, want 1", lim.calls.Load())
	}
}

func TestRedaction(t *testing.T) {
	body := map[string]any{
		"withdraw": "77",
		"otp":      "123456",
		"nested":   map[string]any{"Token": "abc", "keep": "yes"},
	}
	got := redactBody(body)
	for _, secret := range []string{"123456", "abc"} {
		if strings.Contains(got, secret) {
			t.Errorf("redactBody leaked %q: %s", secret, got)
		}
	}
	if !strings.Contains(got, "yes") || !strings.Contains(got, "77") {
		t.Errorf("redactBody dropped non-sensitive fields: %s", got)
	}

	q := redactQuery(map[string][]string{"otp": {"999"}, "symbol": {"BTCIRT"}})
	if strings.Contains(q, "999") || !strings.Contains(q, "BTCIRT") {
		t.Errorf("redactQuery = %s", q)
	}
}

func TestOptionsMarketRules(t *testing.T) {
	raw := `{"status":"ok","nobitex":{"pricePrecisions":{"BTCIRT":"10"},"amountPrecisions":{"BTCIRT":"0.000001"},"minOrders":{"rls":"3000000"}}}`
	var resp optionsResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	m, ok := resp.MarketRules("BTCIRT")
	if !ok {
		t.Fatal("MarketRules() not found")
	}
	if m.Tick != 10 || m.QuantityPrecision != 6 || m.MinNotional != 3_000_000 {
		t.Errorf("MarketRules() = %+v", m)
	}
}

type recordingLimiter struct {
	mu     sync.Mutex
	keys   []string
	limits []int
}

func (r *recordingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
	r.limits = append(r.limits, limit)
	return true, nil
}

func TestRouteLimitsUseConfiguredNames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "order": map[string]any{"id": 1}})
	}))
	defer srv.Close()

	lim := &recordingLimiter{}
	c := NewClient(Config{
		BaseURL:     srv.URL,
		Token:       "t",
		DefaultRPM:  60,
		RouteLimits: map[string]int{"order_add": 100, "order_cancel": 90},
	}, lim, testLogger())

	ctx := context.Background()
	if _, err := c.CreateOrder(ctx, domain.OrderRequest{Symbol: "BTCIRT", Side: domain.OrderSideBuy, Price: 1, Quantity: 1}); err != nil {
		t.Fatal(err)
	}
	if err := c.CancelOrder(ctx, "1"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.OrdersStatus(ctx, []string{"1"}); err != nil {
		t.Fatal(err)
	}

	wantKeys := []string{"nobitex:order_add", "nobitex:order_cancel", "nobitex:orders_status"}
	wantLimits := []int{100, 90, 60}
	if strings.Join(lim.keys, ",") != strings.Join(wantKeys, ",") {
		t.Errorf("keys = %v, want %v", lim.keys, wantKeys)
	}
	for i, want := range wantLimits {
		if i < len(lim.limits) && lim.limits[i] != want {
			t.Errorf("limit[%d] = %d, want %d", i, lim.limits[i], want)
		}
	}
}
