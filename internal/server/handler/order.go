package handler

import (
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/alanyoungcy/gridbot/internal/domain"
)

// OrderHandler serves the orders of the current session.
type OrderHandler struct {
	view   SessionView
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(view SessionView, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{view: view, logger: logger}
}

// ListOrders returns the session's orders, best price first per side. The
// optional status and side parameters filter the list; status accepts a
// comma-separated set.
// GET /api/orders?status=placed,partially_filled&side=buy
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	statuses := make(map[domain.OrderStatus]bool)
	for _, s := range strings.Split(q.Get("status"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			statuses[domain.OrderStatus(s)] = true
		}
	}
	side := domain.OrderSide(strings.ToLower(q.Get("side")))

	orders := h.view.Orders()
	out := make([]orderDTO, 0, len(orders))
	for _, o := range orders {
		if len(statuses) > 0 && !statuses[o.Status] {
			continue
		}
		if side != "" && o.Side != side {
			continue
		}
		out = append(out, toOrderDTO(o))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Side != out[j].Side {
			return out[i].Side < out[j].Side
		}
		if out[i].Side == string(domain.OrderSideBuy) {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	writeJSON(w, http.StatusOK, map[string]any{"orders": out})
}
