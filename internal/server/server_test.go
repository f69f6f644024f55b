package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alanyoungcy/gridbot/internal/domain"
	"github.com/alanyoungcy/gridbot/internal/server/handler"
)

type stubView struct {
	session domain.BotSession
	orders  []domain.TradingOrder
	summary *domain.SessionSummary
}

func (v *stubView) Session() domain.BotSession { return v.session }

func (v *stubView) Summary() (domain.SessionSummary, bool) {
	if v.summary == nil {
		return domain.SessionSummary{}, false
	}
	return *v.summary, true
}

func (v *stubView) Orders() []domain.TradingOrder { return v.orders }

type stubHistory struct {
	trades    []domain.CompletedTrade
	sessionID string
}

func (h *stubHistory) RecentSessions(context.Context, int) ([]domain.BotSession, error) {
	return []domain.BotSession{{ID: "old"}}, nil
}

func (h *stubHistory) ListTrades(_ context.Context, id string, _ domain.ListOpts) ([]domain.CompletedTrade, error) {
	h.sessionID = id
	return h.trades, nil
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string, int, time.Duration) (bool, error) { return false, nil }

func newTestHandler(cfg Config, checks map[string]handler.Check) (http.Handler, *stubView, *stubHistory) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	view := &stubView{
		session: domain.BotSession{ID: "s1", Symbol: "BTCIRT", Status: domain.SessionRunning},
		orders: []domain.TradingOrder{
			{ID: "b1", Side: domain.OrderSideBuy, Price: 98, Status: domain.OrderStatusPlaced},
			{ID: "b2", Side: domain.OrderSideBuy, Price: 99, Status: domain.OrderStatusPlaced},
			{ID: "s1", Side: domain.OrderSideSell, Price: 101, Status: domain.OrderStatusFilled},
		},
	}
	hist := &stubHistory{trades: []domain.CompletedTrade{{ID: "t1", NetProfit: 5}, {ID: "t2", NetProfit: -2}}}
	h := newHandler(cfg, Handlers{
		Health:   handler.NewHealthHandler(checks, logger),
		Status:   handler.NewStatusHandler("dryrun", "BTCIRT", time.Now()),
		Sessions: handler.NewSessionHandler(view, hist, logger),
		Orders:   handler.NewOrderHandler(view, logger),
		Trades:   handler.NewTradeHandler(view, hist, logger),
	}, logger)
	return h, view, hist
}

func get(t *testing.T, h http.Handler, path string, header http.Header) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec, body
}

func TestHealthReportsFailingDependency(t *testing.T) {
	h, _, _ := newTestHandler(Config{}, map[string]handler.Check{
		"redis":    func(context.Context) error { return nil },
		"postgres": func(context.Context) error { return errors.New("down") },
	})
	rec, body := get(t, h, "/api/health", nil)
	if rec.Code != http.StatusServiceUnavailable || body["status"] != "degraded" {
		t.Errorf("code = %d body = %v", rec.Code, body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing request id")
	}
}

func TestAuthGuardsAllButHealth(t *testing.T) {
	h, _, _ := newTestHandler(Config{APIKey: "k"}, nil)

	if rec, _ := get(t, h, "/api/health", nil); rec.Code != http.StatusOK {
		t.Errorf("health code = %d", rec.Code)
	}
	if rec, _ := get(t, h, "/api/session", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated code = %d", rec.Code)
	}
	rec, _ := get(t, h, "/api/session", http.Header{"Authorization": {"Bearer k"}})
	if rec.Code != http.StatusOK {
		t.Errorf("bearer code = %d", rec.Code)
	}
	rec, _ = get(t, h, "/api/session", http.Header{"X-Api-Key": {"wrong"}})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong key code = %d", rec.Code)
	}
}

func TestSessionCountsOrders(t *testing.T) {
	h, view, _ := newTestHandler(Config{}, nil)
	view.summary = &domain.SessionSummary{SessionID: "s1", NetProfit: 3}

	rec, body := get(t, h, "/api/session", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	counts := body["order_counts"].(map[string]any)
	if counts["placed"] != 2.0 || counts["filled"] != 1.0 {
		t.Errorf("counts = %v", counts)
	}
	if body["summary"] == nil {
		t.Error("summary missing")
	}

	view.session = domain.BotSession{}
	if rec, _ := get(t, h, "/api/session", nil); rec.Code != http.StatusNotFound {
		t.Errorf("no session code = %d", rec.Code)
	}
}

func TestOrdersFilterAndSort(t *testing.T) {
	h, _, _ := newTestHandler(Config{}, nil)
	_, body := get(t, h, "/api/orders?status=placed&side=buy", nil)
	orders := body["orders"].([]any)
	if len(orders) != 2 {
		t.Fatalf("orders = %v", orders)
	}
	if first := orders[0].(map[string]any); first["id"] != "b2" {
		t.Errorf("best buy first, got %v", first["id"])
	}
}

func TestTradesDefaultToCurrentSession(t *testing.T) {
	h, _, hist := newTestHandler(Config{}, nil)
	_, body := get(t, h, "/api/trades", nil)
	if hist.sessionID != "s1" {
		t.Errorf("session = %q", hist.sessionID)
	}
	if body["net_profit"] != 3.0 || len(body["trades"].([]any)) != 2 {
		t.Errorf("body = %v", body)
	}
}

func TestRateLimitAndCORS(t *testing.T) {
	h, _, _ := newTestHandler(Config{Limiter: denyAll{}, RequestsPerMinute: 1, CORSOrigins: []string{"https://ops.example"}}, nil)
	rec, _ := get(t, h, "/api/status", http.Header{"Origin": {"https://ops.example"}})
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("code = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://ops.example" {
		t.Errorf("cors header = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}
