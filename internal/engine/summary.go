package engine

import (
	"time"

	"github.com/alanyoungcy/gridbot/internal/domain"
	"github.com/alanyoungcy/gridbot/internal/executor"
)

// Summarize builds the end-of-session report.
func Summarize(s domain.BotSession, orders []domain.TradingOrder, cancelled executor.Summary, stoppedAt time.Time) domain.SessionSummary {
	sum := domain.SessionSummary{
		SessionID:      s.ID,
		Symbol:         s.Symbol,
		Status:         s.Status,
		Reason:         s.StopReason,
		Simulated:      s.Simulated,
		StartedAt:      s.StartedAt,
		StoppedAt:      stoppedAt,
		Duration:       stoppedAt.Sub(s.StartedAt).Round(time.Second).String(),
		Trades:         s.TradeCount,
		GrossProfit:    s.GrossProfit,
		Fees:           s.TotalFees,
		NetProfit:      s.RealizedProfit,
		CancelledOnEnd: cancelled.Cancelled,
		CancelErrors:   cancelled.Errors,
	}
	for _, o := range orders {
		if o.Status == domain.OrderStatusFilled {
			sum.FilledOrders++
		}
	}
	if s.Capital > 0 {
		sum.ReturnPercent = s.RealizedProfit / s.Capital * 100
	}
	return sum
}

// simulateFills fills every resting simulated order the price has crossed:
// buys at or above price, sells at or below it. Fills happen at the limit.
func simulateFills(resting []domain.TradingOrder, price float64, now time.Time) []domain.OrderUpdate {
	var out []domain.OrderUpdate
	for _, o := range resting {
		crossed := (o.Side == domain.OrderSideBuy && price <= o.Price) ||
			(o.Side == domain.OrderSideSell && price >= o.Price)
		if !crossed {
			continue
		}
		out = append(out, domain.OrderUpdate{
			ExchangeOrderID: o.ExchangeOrderID,
			Status:          domain.OrderStatusFilled,
			FilledQuantity:  o.Quantity,
			AvgFillPrice:    o.Price,
			UpdatedAt:       now,
		})
	}
	return out
}
