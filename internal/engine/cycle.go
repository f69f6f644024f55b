package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/gridbot/internal/domain"
	"github.com/alanyoungcy/gridbot/internal/executor"
	"github.com/alanyoungcy/gridbot/internal/service"
)

// CycleReport describes one RunCycle.
type CycleReport struct {
	Price        float64
	Source       domain.BookSource
	Updates      int
	Fills        int
	Trades       []domain.CompletedTrade
	Replacements int
	Rebalanced   bool
	Risk         service.RiskVerdict
	Stopped      bool
	SoftErrors   []error
}

// RunCycle performs one pass: health check, status poll, fill pairing and
// replacement, risk checks, rebalance and persistence. Soft failures are
// collected in the report; critical ones stop the session and are returned
// wrapping domain.ErrCritical.
func (e *Engine) RunCycle(ctx context.Context) (CycleReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var report CycleReport
	sess := e.Session()
	if e.halted.Load() || sess.Status != domain.SessionRunning {
		return report, fmt.Errorf("engine: cycle: %w: session is %q", domain.ErrInvalidTransition, sess.Status)
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cycleMu.Lock()
	e.cancelCycle = cancel
	e.cycleMu.Unlock()
	defer func() {
		e.cycleMu.Lock()
		e.cancelCycle = nil
		e.cycleMu.Unlock()
		cancel()
	}()

	// 1. Health.
	price, src, err := e.md.LastPrice(ctx, e.market.Symbol, e.cfg.PriceMaxAge)
	if err != nil {
		report.SoftErrors = append(report.SoftErrors, err)
		return report, e.healthFailure(ctx, &report, fmt.Errorf("price unavailable: %w", err))
	}
	report.Price, report.Source = price, src

	// 2. Poll order status.
	fills, err := e.poll(ctx, price, &report)
	if err != nil {
		report.SoftErrors = append(report.SoftErrors, err)
		if errors.Is(err, domain.ErrCritical) {
			return report, e.critical(ctx, &report, err)
		}
		return report, e.healthFailure(ctx, &report, err)
	}
	e.healthFailures = 0
	e.exec.Cleanup()

	// 3. Pair fills and replace them.
	for _, f := range fills {
		if e.halted.Load() {
			break
		}
		e.handleFill(ctx, f, &report)
	}
	if e.halted.Load() {
		return report, ctx.Err()
	}

	// 4. Risk.
	equity := service.Equity(e.cfg.Capital, e.exec.Registry().All(), price, e.cfg.FeeBps)
	verdict := e.risk.Evaluate(ctx, e.Session(), price, equity)
	report.Risk = verdict
	e.stateMu.Lock()
	e.session.PeakEquity = verdict.PeakEquity
	e.stateMu.Unlock()
	if verdict.Emergency {
		if _, err := e.stopLocked(ctx, domain.StopEmergency, verdict.Reason); err != nil {
			return report, err
		}
		report.Stopped = true
		return report, nil
	}

	// 5. Rebalance.
	if verdict.Rebalance {
		since := e.now().Sub(e.Session().LastRebalanceAt)
		if since >= e.cfg.RebalanceCooldown {
			if err := e.rebalance(ctx, price, verdict.Reason); err != nil {
				return report, e.critical(ctx, &report, err)
			}
			report.Rebalanced = true
		} else {
			e.logger.InfoContext(ctx, "rebalance deferred by cooldown",
				slog.Duration("since_last", since),
				slog.Float64("deviation_pct", verdict.DeviationPercent),
			)
		}
	}

	// 6. Persist.
	e.stateMu.Lock()
	e.session.LastCheckAt = e.now()
	sess = e.session
	e.stateMu.Unlock()
	if err := e.ledger.SessionChanged(ctx, sess, ""); err != nil {
		report.SoftErrors = append(report.SoftErrors, err)
	}

	e.logger.DebugContext(ctx, "cycle complete",
		slog.Float64("price", price),
		slog.Int("updates", report.Updates),
		slog.Int("fills", report.Fills),
		slog.Int("trades", len(report.Trades)),
		slog.Int("soft_errors", len(report.SoftErrors)),
	)
	return report, nil
}

// healthFailure counts a failed health check and stops the session once
// MaxHealthFailures consecutive checks have failed.
func (e *Engine) healthFailure(ctx context.Context, report *CycleReport, cause error) error {
	e.healthFailures++
	e.logger.WarnContext(ctx, "health check failed",
		slog.Int("consecutive", e.healthFailures),
		slog.String("error", cause.Error()),
	)
	if e.healthFailures < e.cfg.MaxHealthFailures {
		return nil
	}
	return e.critical(ctx, report, fmt.Errorf("%w: %d consecutive health failures: %w",
		domain.ErrCritical, e.healthFailures, cause))
}

// critical ends the session as failed.
func (e *Engine) critical(ctx context.Context, report *CycleReport, cause error) error {
	if !errors.Is(cause, domain.ErrCritical) {
		cause = fmt.Errorf("%w: %w", domain.ErrCritical, cause)
	}
	e.logger.ErrorContext(ctx, "critical failure, stopping session", slog.String("error", cause.Error()))
	if _, err := e.stopLocked(ctx, domain.StopFailure, cause.Error()); err != nil {
		e.logger.WarnContext(ctx, "safe stop failed", slog.String("error", err.Error()))
	}
	report.Stopped = true
	return fmt.Errorf("engine: cycle: %w", cause)
}

// poll refreshes every resting order and returns those that became filled.
func (e *Engine) poll(ctx context.Context, price float64, report *CycleReport) ([]domain.TradingOrder, error) {
	resting := e.exec.Registry().Resting()
	if len(resting) == 0 {
		return nil, nil
	}

	var updates []domain.OrderUpdate
	if e.exec.Simulated() {
		updates = simulateFills(resting, price, e.now())
	} else {
		ids := make([]string, len(resting))
		for i, o := range resting {
			ids[i] = o.ExchangeOrderID
		}
		var err error
		if updates, err = e.exchange.OrdersStatus(ctx, ids); err != nil {
			return nil, fmt.Errorf("poll order status: %w", err)
		}
		if err := e.trackMissing(resting, updates); err != nil {
			return nil, err
		}
	}

	var fills []domain.TradingOrder
	for _, u := range updates {
		order, changed, err := e.exec.RecordUpdate(u)
		if err != nil {
			report.SoftErrors = append(report.SoftErrors, err)
			e.logger.WarnContext(ctx, "order update rejected",
				slog.String("order_id", u.ExchangeOrderID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !changed {
			continue
		}
		report.Updates++
		e.persistOrder(ctx, order)
		if order.Status == domain.OrderStatusFilled {
			report.Fills++
			fills = append(fills, order)
			e.logger.InfoContext(ctx, "order filled",
				slog.String("order_id", order.ExchangeOrderID),
				slog.String("side", string(order.Side)),
				slog.Float64("price", order.FillPrice()),
				slog.Float64("quantity", order.FilledQuantity),
			)
		}
	}
	return fills, nil
}

// trackMissing flags orders the exchange has stopped reporting on.
func (e *Engine) trackMissing(resting []domain.TradingOrder, updates []domain.OrderUpdate) error {
	seen := make(map[string]bool, len(updates))
	for _, u := range updates {
		seen[u.ExchangeOrderID] = true
	}
	next := make(map[string]int, len(resting))
	for _, o := range resting {
		if seen[o.ExchangeOrderID] {
			continue
		}
		n := e.missing[o.ExchangeOrderID] + 1
		if n >= e.cfg.StaleCycles {
			return fmt.Errorf("%w: order %s missing from %d status reports", domain.ErrCritical, o.ExchangeOrderID, n)
		}
		next[o.ExchangeOrderID] = n
	}
	e.missing = next
	return nil
}

// handleFill pairs a filled order into a trade and places its replacement.
func (e *Engine) handleFill(ctx context.Context, filled domain.TradingOrder, report *CycleReport) {
	// An earlier fill in this cycle may already have paired it.
	if cur, ok := e.exec.Registry().Get(filled.ID); ok {
		filled = cur
	}

	if trade, ok := Pair(filled, e.exec.Registry().Filled(), e.cfg.FeeBps, e.now()); ok {
		e.recordTrade(ctx, trade, report)
	}

	var book *domain.OrderBookSnapshot
	if e.cfg.RepriceOnCross {
		b, err := e.md.OrderBook(ctx, e.market.Symbol)
		if err != nil {
			report.SoftErrors = append(report.SoftErrors, err)
		} else {
			book = &b
		}
	}
	level := ReplacementLevel(filled, e.cfg.StepPercent, e.market.Tick, book)
	order, err := e.exec.Place(ctx, level, "replace "+filled.ExchangeOrderID)
	if err != nil {
		if !errors.Is(err, domain.ErrBelowMinimum) && !errors.Is(err, executor.ErrSuppressed) {
			report.SoftErrors = append(report.SoftErrors, err)
		}
		return
	}
	report.Replacements++
	e.persistOrder(ctx, order)
}

func (e *Engine) recordTrade(ctx context.Context, trade domain.CompletedTrade, report *CycleReport) {
	if err := e.exec.MarkPaired(trade.BuyOrderID, trade.SellOrderID); err != nil {
		report.SoftErrors = append(report.SoftErrors, err)
		return
	}
	for _, id := range []string{trade.BuyOrderID, trade.SellOrderID} {
		if o, ok := e.exec.Registry().Get(id); ok {
			e.persistOrder(ctx, o)
		}
	}

	e.stateMu.Lock()
	e.session.GrossProfit += trade.GrossProfit
	e.session.TotalFees += trade.Fees
	e.session.RealizedProfit += trade.NetProfit
	e.session.TradeCount++
	e.stateMu.Unlock()

	report.Trades = append(report.Trades, trade)
	e.logger.InfoContext(ctx, "trade completed",
		slog.String("trade_id", trade.ID),
		slog.Float64("buy", trade.BuyPrice),
		slog.Float64("sell", trade.SellPrice),
		slog.Float64("amount", trade.Amount),
		slog.Float64("net_profit", trade.NetProfit),
	)
	if err := e.ledger.TradeCompleted(ctx, trade); err != nil {
		report.SoftErrors = append(report.SoftErrors, err)
	}
}

// rebalance cancels the ladder and redeploys it around price.
func (e *Engine) rebalance(ctx context.Context, price float64, reason string) error {
	if err := e.setStatus(ctx, domain.SessionRebalancing, "rebalance_started"); err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "rebalancing", slog.Float64("price", price), slog.String("reason", reason))

	resting := e.exec.Registry().Resting()
	cancelled := e.exec.CancelAll(ctx, "rebalance")
	for _, o := range resting {
		if cur, ok := e.exec.Registry().Get(o.ID); ok {
			e.persistOrder(ctx, cur)
		}
	}
	if cancelled.Errors > 0 {
		e.logger.WarnContext(ctx, "some cancels failed during rebalance", slog.Int("errors", cancelled.Errors))
	}

	sum, err := e.deploy(ctx, price)
	if err != nil {
		return err
	}

	old := e.Session().CenterPrice
	e.stateMu.Lock()
	e.session.CenterPrice = price
	e.session.LastRebalanceAt = e.now()
	e.stateMu.Unlock()
	if err := e.setStatus(ctx, domain.SessionRunning, "rebalanced"); err != nil {
		return err
	}
	e.ledger.Notify(ctx, service.EventRebalance, "Grid rebalanced",
		fmt.Sprintf("%s center %.0f → %.0f, %d orders placed", e.market.Symbol, old, price, sum.Placed))
	return nil
}
