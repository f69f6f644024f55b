package handler

import (
	"net/http"
	"time"
)

// StatusHandler reports how the process was started.
type StatusHandler struct {
	Mode      string
	Symbol    string
	StartedAt time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode, symbol string, startedAt time.Time) *StatusHandler {
	return &StatusHandler{Mode: mode, Symbol: symbol, StartedAt: startedAt}
}

// GetStatus responds with the run mode, symbol and uptime.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":       h.Mode,
		"symbol":     h.Symbol,
		"started_at": h.StartedAt.UTC().Format(time.RFC3339),
		"uptime":     time.Since(h.StartedAt).Round(time.Second).String(),
	})
}
