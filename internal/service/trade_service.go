package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/gridbot/internal/domain"
)

// Notification events.
const (
	EventSessionStarted = "session_started"
	EventSessionStopped = "session_stopped"
	EventEmergencyStop  = "emergency_stop"
	EventRebalance      = "rebalance"
	EventTradeCompleted = "trade_completed"
)

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// TradeService records orders, completed trades and session state, writes
// the audit log and raises operator alerts. Every store is optional; a nil
// store turns the matching write into a no-op so dry runs need no database.
type TradeService struct {
	orders   domain.OrderStore
	trades   domain.TradeStore
	sessions domain.SessionStore
	audit    domain.AuditStore
	notifier Notifier
	logger   *slog.Logger
}

// NewTradeService creates a TradeService.
func NewTradeService(
	orders domain.OrderStore,
	trades domain.TradeStore,
	sessions domain.SessionStore,
	audit domain.AuditStore,
	notifier Notifier,
	logger *slog.Logger,
) *TradeService {
	return &TradeService{
		orders:   orders,
		trades:   trades,
		sessions: sessions,
		audit:    audit,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "trade_service")),
	}
}

// SessionStarted persists a new session.
func (s *TradeService) SessionStarted(ctx context.Context, sess domain.BotSession) error {
	if s.sessions != nil {
		if err := s.sessions.Create(ctx, sess); err != nil {
			return fmt.Errorf("trade_service: create session: %w", err)
		}
	}
	s.auditLog(ctx, "session_created", map[string]any{
		"session_id": sess.ID,
		"symbol":     sess.Symbol,
		"capital":    sess.Capital,
		"simulated":  sess.Simulated,
	})
	return nil
}

// SessionChanged persists the session and, when event is non-empty, writes
// an audit entry for it.
func (s *TradeService) SessionChanged(ctx context.Context, sess domain.BotSession, event string) error {
	if s.sessions != nil {
		if err := s.sessions.Update(ctx, sess); err != nil {
			return fmt.Errorf("trade_service: update session %s: %w", sess.ID, err)
		}
	}
	if event != "" {
		s.auditLog(ctx, event, map[string]any{
			"session_id": sess.ID,
			"status":     string(sess.Status),
			"center":     sess.CenterPrice,
			"reason":     sess.StopReason,
		})
	}
	return nil
}

// OrderChanged persists the latest state of an order.
func (s *TradeService) OrderChanged(ctx context.Context, o domain.TradingOrder) error {
	if s.orders == nil {
		return nil
	}
	if err := s.orders.Upsert(ctx, o); err != nil {
		return fmt.Errorf("trade_service: upsert order %s: %w", o.ID, err)
	}
	return nil
}

// TradeCompleted persists a round trip and alerts the operator.
func (s *TradeService) TradeCompleted(ctx context.Context, t domain.CompletedTrade) error {
	if s.trades != nil {
		if err := s.trades.Insert(ctx, t); err != nil {
			return fmt.Errorf("trade_service: insert trade %s: %w", t.ID, err)
		}
	}
	s.auditLog(ctx, "trade_completed", map[string]any{
		"trade_id":   t.ID,
		"session_id": t.SessionID,
		"amount":     t.Amount,
		"net":        t.NetProfit,
	})
	s.Notify(ctx, EventTradeCompleted, "Trade completed",
		fmt.Sprintf("%s %.8g @ %.0f → %.0f, net %.0f", t.Symbol, t.Amount, t.BuyPrice, t.SellPrice, t.NetProfit))
	return nil
}

// RestingOrders returns orders on symbol the store last saw on the book.
func (s *TradeService) RestingOrders(ctx context.Context, symbol string) ([]domain.TradingOrder, error) {
	if s.orders == nil {
		return nil, nil
	}
	out, err := s.orders.ListResting(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("trade_service: list resting %s: %w", symbol, err)
	}
	return out, nil
}

// ListTrades returns the trades of a session.
func (s *TradeService) ListTrades(ctx context.Context, sessionID string, opts domain.ListOpts) ([]domain.CompletedTrade, error) {
	if s.trades == nil {
		return nil, nil
	}
	out, err := s.trades.ListBySession(ctx, sessionID, opts)
	if err != nil {
		return nil, fmt.Errorf("trade_service: list trades %s: %w", sessionID, err)
	}
	return out, nil
}

// RecentSessions returns the most recently started sessions.
func (s *TradeService) RecentSessions(ctx context.Context, limit int) ([]domain.BotSession, error) {
	if s.sessions == nil {
		return nil, nil
	}
	out, err := s.sessions.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("trade_service: recent sessions: %w", err)
	}
	return out, nil
}

// Notify forwards an alert; failures are logged, never returned.
func (s *TradeService) Notify(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "trade_service: notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *TradeService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "trade_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
