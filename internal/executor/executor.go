// Package executor applies reconciler output to the exchange and keeps the
// local order registry.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/gridbot/internal/domain"
	"github.com/alanyoungcy/gridbot/internal/grid"
)

// Exchange is the order surface the executor drives. OrderByClientID
// resolves an order the exchange already accepted under a client id.
type Exchange interface {
	CreateOrder(ctx context.Context, req domain.OrderRequest) (string, error)
	CancelOrder(ctx context.Context, exchangeOrderID string) error
	OrderByClientID(ctx context.Context, clientOrderID string) (domain.OrderUpdate, error)
}

// ErrSuppressed is returned by Place when the same ladder slot was
// submitted within the dedup window. No exchange call was made.
var ErrSuppressed = errors.New("placement suppressed by dedup window")

// Config tunes execution.
type Config struct {
	Market    domain.Market
	Pacing    time.Duration // delay between consecutive exchange calls
	Simulated bool
	DedupTTL  time.Duration
}

// Summary counts the outcome of one batch.
type Summary struct {
	Placed    int
	Cancelled int
	Skipped   int
	Errors    int
	Orders    []domain.TradingOrder // orders placed in this batch
	Failures  []error
	FailedIDs []string // exchange ids whose cancel failed
}

func (s *Summary) fail(err error) {
	s.Errors++
	s.Failures = append(s.Failures, err)
}

// Merge adds other's counts into s.
func (s *Summary) Merge(other Summary) {
	s.Placed += other.Placed
	s.Cancelled += other.Cancelled
	s.Skipped += other.Skipped
	s.Errors += other.Errors
	s.Orders = append(s.Orders, other.Orders...)
	s.Failures = append(s.Failures, other.Failures...)
	s.FailedIDs = append(s.FailedIDs, other.FailedIDs...)
}

// Executor applies diffs against the exchange. It is the only writer of
// its Registry. In simulation mode every validation and log line happens
// as usual but no exchange call is made and synthetic ids are recorded.
type Executor struct {
	exchange  Exchange
	registry  *Registry
	dedup     *Dedup
	cfg       Config
	sessionID string
	logger    *slog.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an Executor with an empty registry.
func NewExecutor(exchange Exchange, cfg Config, logger *slog.Logger) *Executor {
	return &Executor{
		exchange: exchange,
		registry: NewRegistry(),
		dedup:    NewDedup(cfg.DedupTTL),
		cfg:      cfg,
		logger: logger.With(
			slog.String("component", "executor"),
			slog.String("symbol", cfg.Market.Symbol),
			slog.Bool("simulated", cfg.Simulated),
		),
		now:   time.Now,
		sleep: sleepCtx,
	}
}

// Registry exposes the order registry for reading.
func (e *Executor) Registry() *Registry { return e.registry }

// Simulated reports whether the executor issues real exchange calls.
func (e *Executor) Simulated() bool { return e.cfg.Simulated }

// Market returns the market the executor trades.
func (e *Executor) Market() domain.Market { return e.cfg.Market }

// BindSession tags subsequently placed orders with sessionID.
func (e *Executor) BindSession(sessionID string) {
	e.sessionID = sessionID
}

// Reset forgets every tracked order. Used when a new session starts.
func (e *Executor) Reset() {
	e.registry.clear()
	e.dedup = NewDedup(e.cfg.DedupTTL)
}

// Apply runs cancellations first, then placements. Per-item failures are
// logged and counted; the batch always runs to the end unless ctx is done.
func (e *Executor) Apply(ctx context.Context, diff domain.DiffResult) Summary {
	var sum Summary
	sum.Skipped = diff.SkippedBelowMin

	for _, c := range diff.ToCancel {
		if err := ctx.Err(); err != nil {
			sum.fail(err)
			return sum
		}
		if err := e.cancel(ctx, c.Order.ExchangeOrderID, c.Reason); err != nil {
			sum.fail(err)
			sum.FailedIDs = append(sum.FailedIDs, c.Order.ExchangeOrderID)
		} else {
			sum.Cancelled++
		}
		e.pace(ctx)
	}

	for _, p := range diff.ToPlace {
		if err := ctx.Err(); err != nil {
			sum.fail(err)
			return sum
		}
		order, err := e.Place(ctx, p.Level, p.Reason)
		switch {
		case err == nil:
			sum.Placed++
			sum.Orders = append(sum.Orders, order)
		case errors.Is(err, domain.ErrBelowMinimum), errors.Is(err, ErrSuppressed):
			sum.Skipped++
		default:
			sum.fail(err)
		}
		e.pace(ctx)
	}

	e.logger.InfoContext(ctx, "diff applied",
		slog.Int("placed", sum.Placed),
		slog.Int("cancelled", sum.Cancelled),
		slog.Int("skipped", sum.Skipped),
		slog.Int("errors", sum.Errors),
	)
	return sum
}

// Place validates level, re-rounds it to the market's tick and precision
// and submits it. The returned order is already in the registry.
func (e *Executor) Place(ctx context.Context, level domain.GridLevel, reason string) (domain.TradingOrder, error) {
	req, err := e.prepare(level)
	log := e.logger.With(
		slog.String("side", string(level.Side)),
		slog.Float64("price", req.Price),
		slog.Float64("quantity", req.Quantity),
	)
	if err != nil {
		log.WarnContext(ctx, "placement rejected", slog.String("error", err.Error()))
		return domain.TradingOrder{}, err
	}

	key := slotKey(req.Side, req.Price)
	if e.dedup.Seen(key) {
		log.WarnContext(ctx, "duplicate placement suppressed")
		return domain.TradingOrder{}, fmt.Errorf("executor: place %s: %w", key, ErrSuppressed)
	}

	now := e.now()
	order := domain.TradingOrder{
		ID:        uuid.NewString(),
		SessionID: e.sessionID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Price:     req.Price,
		Quantity:  req.Quantity,
		Status:    domain.OrderStatusPending,
		Simulated: e.cfg.Simulated,
		CreatedAt: now,
	}
	req.ClientOrderID = order.ID

	var adopted *domain.OrderUpdate
	if e.cfg.Simulated {
		order.ExchangeOrderID = "sim-" + uuid.NewString()
	} else {
		id, err := e.exchange.CreateOrder(ctx, req)
		switch {
		case err == nil:
			order.ExchangeOrderID = id
		case errors.Is(err, domain.ErrDuplicateOrder):
			// A retried submission can land after the first attempt was
			// accepted. The order lives on the exchange under our client id.
			u, lookupErr := e.exchange.OrderByClientID(ctx, req.ClientOrderID)
			if lookupErr != nil || u.ExchangeOrderID == "" {
				log.ErrorContext(ctx, "duplicate order could not be resolved",
					slog.String("client_order_id", req.ClientOrderID),
					slog.String("error", errString(lookupErr)),
				)
				return domain.TradingOrder{}, fmt.Errorf("executor: place %s: unresolved duplicate %s: %w", key, req.ClientOrderID, err)
			}
			order.ExchangeOrderID = u.ExchangeOrderID
			adopted = &u
		default:
			log.WarnContext(ctx, "create order failed", slog.String("error", err.Error()))
			return domain.TradingOrder{}, fmt.Errorf("executor: place %s: %w", key, err)
		}
	}
	if err := order.Transition(domain.OrderStatusPlaced, now); err != nil {
		return domain.TradingOrder{}, err
	}

	e.registry.put(order)
	e.dedup.Mark(key)
	if adopted != nil {
		log.WarnContext(ctx, "adopted order accepted by an earlier attempt",
			slog.String("order_id", order.ExchangeOrderID),
			slog.String("client_order_id", order.ID),
		)
		if adopted.Status != domain.OrderStatusPlaced && adopted.Status != "" {
			if o, _, err := e.RecordUpdate(*adopted); err == nil {
				order = o
			} else {
				log.WarnContext(ctx, "adopted order status not applied", slog.String("error", err.Error()))
			}
		}
	}
	log.InfoContext(ctx, "order placed",
		slog.String("order_id", order.ExchangeOrderID),
		slog.String("reason", reason),
	)
	return order, nil
}

// prepare re-validates a level and builds the exchange request.
func (e *Executor) prepare(level domain.GridLevel) (domain.OrderRequest, error) {
	m := e.cfg.Market
	if !level.Side.Valid() {
		return domain.OrderRequest{}, fmt.Errorf("executor: %w: side %q", domain.ErrInvalidOrder, level.Side)
	}
	if level.Price <= 0 {
		return domain.OrderRequest{}, fmt.Errorf("executor: %w: price %v", domain.ErrInvalidPrice, level.Price)
	}
	if level.Quantity <= 0 {
		return domain.OrderRequest{}, fmt.Errorf("executor: %w: quantity %v", domain.ErrInvalidAmount, level.Quantity)
	}

	req := domain.OrderRequest{
		Symbol:   m.Symbol,
		Side:     level.Side,
		Price:    level.Price,
		Quantity: grid.RoundQuantity(level.Quantity, m.QuantityPrecision),
	}
	if m.Tick > 0 && !grid.IsTickMultiple(req.Price, m.Tick) {
		req.Price = grid.RoundForSide(req.Price, m.Tick, level.Side == domain.OrderSideBuy)
	}
	if req.Price <= 0 {
		return req, fmt.Errorf("executor: %w: price %v rounds to zero", domain.ErrInvalidPrice, level.Price)
	}
	if req.Quantity <= 0 {
		return req, fmt.Errorf("executor: %w: quantity %v rounds to zero", domain.ErrInvalidAmount, level.Quantity)
	}
	if notional := grid.Notional(req.Price, req.Quantity); notional < m.MinNotional {
		return req, fmt.Errorf("executor: %w: notional %.0f < %.0f", domain.ErrBelowMinimum, notional, m.MinNotional)
	}
	return req, nil
}

// Cancel cancels one tracked order by exchange id.
func (e *Executor) Cancel(ctx context.Context, exchangeOrderID, reason string) error {
	return e.cancel(ctx, exchangeOrderID, reason)
}

func (e *Executor) cancel(ctx context.Context, exchangeOrderID, reason string) error {
	log := e.logger.With(slog.String("order_id", exchangeOrderID))
	if !e.cfg.Simulated {
		if err := e.exchange.CancelOrder(ctx, exchangeOrderID); err != nil {
			log.WarnContext(ctx, "cancel order failed", slog.String("error", err.Error()))
			return fmt.Errorf("executor: cancel %s: %w", exchangeOrderID, err)
		}
	}

	if tracked, ok := e.registry.ByExchangeID(exchangeOrderID); ok {
		_, err := e.registry.update(tracked.ID, func(o *domain.TradingOrder) error {
			return o.Transition(domain.OrderStatusCancelled, e.now())
		})
		if err != nil {
			log.WarnContext(ctx, "registry cancel transition refused", slog.String("error", err.Error()))
		}
		e.dedup.Forget(slotKey(tracked.Side, tracked.Price))
	}
	log.InfoContext(ctx, "order cancelled", slog.String("reason", reason))
	return nil
}

// CancelAll cancels every resting order in the registry.
func (e *Executor) CancelAll(ctx context.Context, reason string) Summary {
	var sum Summary
	for _, o := range e.registry.Resting() {
		if err := e.cancel(ctx, o.ExchangeOrderID, reason); err != nil {
			sum.fail(err)
			sum.FailedIDs = append(sum.FailedIDs, o.ExchangeOrderID)
		} else {
			sum.Cancelled++
		}
		e.pace(ctx)
	}
	return sum
}

// CancelStale cancels orders left on the book by an earlier run. They are
// not in the registry, so only the exchange is called.
func (e *Executor) CancelStale(ctx context.Context, exchangeOrderIDs []string) Summary {
	var sum Summary
	for _, id := range exchangeOrderIDs {
		if err := e.cancel(ctx, id, "stale"); err != nil && !errors.Is(err, domain.ErrNotFound) {
			sum.fail(err)
			sum.FailedIDs = append(sum.FailedIDs, id)
		} else {
			sum.Cancelled++
		}
		e.pace(ctx)
	}
	return sum
}

// RecordUpdate folds an exchange status report into the tracked order.
// changed is false when the report carries nothing new.
func (e *Executor) RecordUpdate(u domain.OrderUpdate) (order domain.TradingOrder, changed bool, err error) {
	tracked, ok := e.registry.ByExchangeID(u.ExchangeOrderID)
	if !ok {
		return domain.TradingOrder{}, false, fmt.Errorf("executor: order %s: %w", u.ExchangeOrderID, domain.ErrNotFound)
	}
	if tracked.Status == u.Status && tracked.FilledQuantity == u.FilledQuantity {
		return tracked, false, nil
	}

	at := u.UpdatedAt
	if at.IsZero() {
		at = e.now()
	}
	order, err = e.registry.update(tracked.ID, func(o *domain.TradingOrder) error {
		if u.Status != o.Status || u.Status == domain.OrderStatusPartiallyFilled {
			if err := o.Transition(u.Status, at); err != nil {
				return err
			}
		}
		if u.FilledQuantity > o.FilledQuantity {
			o.FilledQuantity = u.FilledQuantity
		}
		if u.AvgFillPrice > 0 {
			o.AvgFillPrice = u.AvgFillPrice
		}
		if o.Status == domain.OrderStatusFilled && o.FilledQuantity == 0 {
			o.FilledQuantity = o.Quantity
		}
		return nil
	})
	if err != nil {
		return order, false, fmt.Errorf("executor: record %s: %w", u.ExchangeOrderID, err)
	}
	if order.Status.Terminal() {
		e.dedup.Forget(slotKey(order.Side, order.Price))
	}
	return order, true, nil
}

// MarkPaired links two filled orders that formed a completed trade.
func (e *Executor) MarkPaired(buyID, sellID string) error {
	if _, err := e.registry.update(buyID, func(o *domain.TradingOrder) error {
		o.PairedOrderID = sellID
		return nil
	}); err != nil {
		return fmt.Errorf("executor: pair %s: %w", buyID, err)
	}
	if _, err := e.registry.update(sellID, func(o *domain.TradingOrder) error {
		o.PairedOrderID = buyID
		return nil
	}); err != nil {
		return fmt.Errorf("executor: pair %s: %w", sellID, err)
	}
	return nil
}

// Cleanup expires old dedup entries.
func (e *Executor) Cleanup() {
	e.dedup.Cleanup()
}

func (e *Executor) pace(ctx context.Context) {
	if e.cfg.Pacing > 0 {
		_ = e.sleep(ctx, e.cfg.Pacing)
	}
}

func slotKey(side domain.OrderSide, price float64) string {
	return string(side) + ":" + strconv.FormatFloat(price, 'f', -1, 64)
}

func errString(err error) string {
	if err == nil {
		return "exchange returned no order id"
	}
	return err.Error()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
