package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/gridbot/internal/domain"
)

// SessionView is the live state of the running engine.
type SessionView interface {
	Session() domain.BotSession
	Summary() (domain.SessionSummary, bool)
	Orders() []domain.TradingOrder
}

// History reads persisted sessions and trades. Implementations return
// empty results when no store is configured.
type History interface {
	RecentSessions(ctx context.Context, limit int) ([]domain.BotSession, error)
	ListTrades(ctx context.Context, sessionID string, opts domain.ListOpts) ([]domain.CompletedTrade, error)
}

// SessionHandler serves the current and past sessions.
type SessionHandler struct {
	view    SessionView
	history History
	logger  *slog.Logger
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(view SessionView, history History, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{view: view, history: history, logger: logger}
}

type sessionResponse struct {
	Session sessionDTO             `json:"session"`
	Counts  map[string]int         `json:"order_counts"`
	Summary *domain.SessionSummary `json:"summary,omitempty"`
}

// GetSession returns the current session with order counts by status and,
// once stopped, its summary.
// GET /api/session
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	s := h.view.Session()
	if s.ID == "" {
		writeError(w, http.StatusNotFound, "no session started")
		return
	}
	counts := make(map[string]int)
	for _, o := range h.view.Orders() {
		counts[string(o.Status)]++
	}
	resp := sessionResponse{Session: toSessionDTO(s), Counts: counts}
	if sum, ok := h.view.Summary(); ok {
		resp.Summary = &sum
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListSessions returns recently started sessions from the store.
// GET /api/sessions?limit=20
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	sessions, err := h.history.RecentSessions(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list sessions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	out := make([]sessionDTO, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toSessionDTO(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}
