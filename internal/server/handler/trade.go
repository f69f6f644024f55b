package handler

import (
	"log/slog"
	"net/http"
)

// TradeHandler serves completed round trips.
type TradeHandler struct {
	view    SessionView
	history History
	logger  *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(view SessionView, history History, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{view: view, history: history, logger: logger}
}

// ListTrades returns the trades of a session, the current one by default.
// GET /api/trades?session_id=...&limit=50&offset=0&since=2025-01-01T00:00:00Z
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = h.view.Session().ID
	}
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id query parameter required")
		return
	}

	trades, err := h.history.ListTrades(r.Context(), sessionID, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	out := make([]tradeDTO, 0, len(trades))
	var net float64
	for _, t := range trades {
		out = append(out, toTradeDTO(t))
		net += t.NetProfit
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"trades":     out,
		"net_profit": net,
	})
}
