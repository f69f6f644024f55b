package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/alanyoungcy/gridbot/internal/domain"
)

// RiskConfig holds the thresholds checked after every cycle.
type RiskConfig struct {
	DrawdownWarnPercent float64 // log a warning above this drawdown
	DrawdownStopPercent float64 // emergency stop above this drawdown
	RebalancePercent    float64 // rebalance when price drifts this far from center
	MaxDeviationPercent float64 // emergency stop when price drifts this far from center; 0 disables
}

// RiskVerdict is the outcome of one evaluation.
type RiskVerdict struct {
	Equity           float64
	PeakEquity       float64
	DrawdownPercent  float64
	DeviationPercent float64
	Warn             bool
	Emergency        bool
	Rebalance        bool
	Reason           string
}

// RiskService evaluates drawdown and drift from the grid center.
type RiskService struct {
	cfg    RiskConfig
	logger *slog.Logger
}

// NewRiskService creates a RiskService.
func NewRiskService(cfg RiskConfig, logger *slog.Logger) *RiskService {
	return &RiskService{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "risk_service")),
	}
}

// Config returns the thresholds in use.
func (s *RiskService) Config() RiskConfig { return s.cfg }

// Evaluate checks the session against the thresholds.
//
// Checks performed:
//  1. Drawdown from peak equity (warn, then emergency)
//  2. Price deviation from the grid center (rebalance, then emergency)
func (s *RiskService) Evaluate(ctx context.Context, session domain.BotSession, price, equity float64) RiskVerdict {
	v := RiskVerdict{Equity: equity, PeakEquity: math.Max(session.PeakEquity, equity)}

	// Check 1: drawdown.
	if v.PeakEquity > 0 {
		v.DrawdownPercent = (v.PeakEquity - equity) / v.PeakEquity * 100
	}
	if s.cfg.DrawdownStopPercent > 0 && v.DrawdownPercent >= s.cfg.DrawdownStopPercent {
		v.Emergency = true
		v.Reason = fmt.Sprintf("drawdown %.2f%% reached ceiling %.2f%%", v.DrawdownPercent, s.cfg.DrawdownStopPercent)
		s.logger.ErrorContext(ctx, "risk_service: drawdown ceiling reached",
			slog.String("symbol", session.Symbol),
			slog.Float64("drawdown_pct", v.DrawdownPercent),
			slog.Float64("max", s.cfg.DrawdownStopPercent),
		)
		return v
	}
	if s.cfg.DrawdownWarnPercent > 0 && v.DrawdownPercent >= s.cfg.DrawdownWarnPercent {
		v.Warn = true
		s.logger.WarnContext(ctx, "risk_service: drawdown above warning level",
			slog.String("symbol", session.Symbol),
			slog.Float64("drawdown_pct", v.DrawdownPercent),
			slog.Float64("warn", s.cfg.DrawdownWarnPercent),
		)
	}

	// Check 2: drift from center.
	if session.CenterPrice > 0 && price > 0 {
		v.DeviationPercent = math.Abs(price-session.CenterPrice) / session.CenterPrice * 100
	}
	if s.cfg.MaxDeviationPercent > 0 && v.DeviationPercent >= s.cfg.MaxDeviationPercent {
		v.Emergency = true
		v.Reason = fmt.Sprintf("price deviation %.2f%% reached ceiling %.2f%%", v.DeviationPercent, s.cfg.MaxDeviationPercent)
		s.logger.ErrorContext(ctx, "risk_service: deviation ceiling reached",
			slog.String("symbol", session.Symbol),
			slog.Float64("deviation_pct", v.DeviationPercent),
		)
		return v
	}
	if s.cfg.RebalancePercent > 0 && v.DeviationPercent >= s.cfg.RebalancePercent {
		v.Rebalance = true
		v.Reason = fmt.Sprintf("price deviation %.2f%% above rebalance threshold %.2f%%", v.DeviationPercent, s.cfg.RebalancePercent)
	}
	return v
}

// Equity values the session's cash and inventory at price. Cash starts at
// capital and moves with every filled order; fees are charged on both
// sides at feeBps.
func Equity(capital float64, orders []domain.TradingOrder, price, feeBps float64) float64 {
	cash, inventory := capital, 0.0
	for _, o := range orders {
		if o.FilledQuantity <= 0 {
			continue
		}
		notional := o.FillPrice() * o.FilledQuantity
		fee := notional * feeBps / 10_000
		switch o.Side {
		case domain.OrderSideBuy:
			cash -= notional + fee
			inventory += o.FilledQuantity
		case domain.OrderSideSell:
			cash += notional - fee
			inventory -= o.FilledQuantity
		}
	}
	return cash + inventory*price
}
