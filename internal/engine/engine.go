// Package engine runs one grid trading session: it deploys the ladder,
// polls fills, pairs them into trades, replaces filled levels, rebalances
// on drift and stops safely.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/gridbot/internal/domain"
	"github.com/alanyoungcy/gridbot/internal/executor"
	"github.com/alanyoungcy/gridbot/internal/grid"
	"github.com/alanyoungcy/gridbot/internal/service"
)

// Exchange is the account surface the engine needs beyond order placement.
type Exchange interface {
	Ping(ctx context.Context) error
	OrdersStatus(ctx context.Context, exchangeOrderIDs []string) ([]domain.OrderUpdate, error)
}

// MarketData resolves prices and books.
type MarketData interface {
	LastPrice(ctx context.Context, symbol string, maxAge time.Duration) (float64, domain.BookSource, error)
	OrderBook(ctx context.Context, symbol string) (domain.OrderBookSnapshot, error)
}

// Ledger persists session state and raises alerts.
type Ledger interface {
	SessionStarted(ctx context.Context, s domain.BotSession) error
	SessionChanged(ctx context.Context, s domain.BotSession, event string) error
	OrderChanged(ctx context.Context, o domain.TradingOrder) error
	TradeCompleted(ctx context.Context, t domain.CompletedTrade) error
	RestingOrders(ctx context.Context, symbol string) ([]domain.TradingOrder, error)
	Notify(ctx context.Context, event, title, message string)
}

// Archiver stores the final summary of a session.
type Archiver interface {
	ArchiveSummary(ctx context.Context, summary domain.SessionSummary) error
}

// Config holds the session parameters.
type Config struct {
	Capital               float64
	ActiveCapitalPct      float64
	StepPercent           float64
	Levels                int
	Mode                  domain.GridMode
	FeeBps                float64
	PriceMaxAge           time.Duration
	ToleranceTicks        int
	QtyTolerancePercent   float64
	PriceTolerancePercent float64
	MaxSpreadPercent      float64 // suitability ceiling; 0 disables
	Force                 bool    // skip the suitability check
	RebalanceCooldown     time.Duration
	RepriceOnCross        bool
	MaxHealthFailures     int // consecutive failed health checks before a safe stop
	StaleCycles           int // cycles a resting order may be missing from status reports
	StopTimeout           time.Duration
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = domain.GridModeBoth
	}
	if c.ActiveCapitalPct <= 0 {
		c.ActiveCapitalPct = 100
	}
	if c.PriceMaxAge <= 0 {
		c.PriceMaxAge = 30 * time.Second
	}
	if c.ToleranceTicks <= 0 {
		c.ToleranceTicks = 1
	}
	if c.MaxHealthFailures <= 0 {
		c.MaxHealthFailures = 3
	}
	if c.StaleCycles <= 0 {
		c.StaleCycles = 5
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 30 * time.Second
	}
}

// Engine orchestrates one session at a time. It is the only writer of the
// session status. Initialize, RunCycle and Stop are serialised;
// EmergencyStop interrupts a running cycle before taking over.
type Engine struct {
	cfg      Config
	market   domain.Market
	exchange Exchange
	md       MarketData
	exec     *executor.Executor
	sizer    service.OrderSizer
	risk     *service.RiskService
	ledger   Ledger
	archiver Archiver
	logger   *slog.Logger
	now      func() time.Time

	mu             sync.Mutex
	healthFailures int
	missing        map[string]int

	stateMu sync.RWMutex
	session domain.BotSession
	summary *domain.SessionSummary

	halted      atomic.Bool
	cycleMu     sync.Mutex
	cancelCycle context.CancelFunc
}

// New creates an Engine. archiver may be nil.
func New(
	cfg Config,
	exchange Exchange,
	md MarketData,
	exec *executor.Executor,
	sizer service.OrderSizer,
	risk *service.RiskService,
	ledger Ledger,
	archiver Archiver,
	logger *slog.Logger,
) *Engine {
	cfg.applyDefaults()
	m := exec.Market()
	return &Engine{
		cfg:      cfg,
		market:   m,
		exchange: exchange,
		md:       md,
		exec:     exec,
		sizer:    sizer,
		risk:     risk,
		ledger:   ledger,
		archiver: archiver,
		logger: logger.With(
			slog.String("component", "engine"),
			slog.String("symbol", m.Symbol),
			slog.Bool("simulated", exec.Simulated()),
		),
		now:     time.Now,
		missing: make(map[string]int),
	}
}

// Session returns a copy of the current session.
func (e *Engine) Session() domain.BotSession {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.session
}

// Summary returns the summary of the last stopped session, if any.
func (e *Engine) Summary() (domain.SessionSummary, bool) {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	if e.summary == nil {
		return domain.SessionSummary{}, false
	}
	return *e.summary, true
}

// Orders returns every order of the current session.
func (e *Engine) Orders() []domain.TradingOrder {
	return e.exec.Registry().All()
}

// Initialize starts a new session: preflight, suitability, center price,
// ladder, sizing, stale-order cleanup and placement. On success the
// session is running. Any failure ends the session as failed.
func (e *Engine) Initialize(ctx context.Context) (domain.BotSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cur := e.Session(); cur.ID != "" && !cur.Status.Terminal() {
		return cur, fmt.Errorf("engine: initialize: session %s is %s", cur.ID, cur.Status)
	}
	e.halted.Store(false)
	e.healthFailures = 0
	e.missing = make(map[string]int)

	now := e.now()
	sess := domain.BotSession{
		ID:               uuid.NewString(),
		Symbol:           e.market.Symbol,
		Capital:          e.cfg.Capital,
		ActiveCapitalPct: e.cfg.ActiveCapitalPct,
		StepPercent:      e.cfg.StepPercent,
		Levels:           e.cfg.Levels,
		Status:           domain.SessionInitializing,
		Simulated:        e.exec.Simulated(),
		PeakEquity:       e.cfg.Capital,
		StartedAt:        now,
		LastCheckAt:      now,
	}
	e.exec.Reset()
	e.exec.BindSession(sess.ID)
	e.stateMu.Lock()
	e.session = sess
	e.summary = nil
	e.stateMu.Unlock()

	log := e.logger.With(slog.String("session_id", sess.ID))
	if err := e.ledger.SessionStarted(ctx, sess); err != nil {
		log.WarnContext(ctx, "persist new session failed", slog.String("error", err.Error()))
	}
	log.InfoContext(ctx, "session initializing",
		slog.Float64("capital", e.cfg.Capital),
		slog.Float64("step_pct", e.cfg.StepPercent),
		slog.Int("levels", e.cfg.Levels),
	)

	center, err := e.prepare(ctx)
	if err != nil {
		return e.abort(ctx, err)
	}

	e.cancelStale(ctx)

	sum, err := e.deploy(ctx, center)
	if err != nil {
		return e.abort(ctx, err)
	}

	e.stateMu.Lock()
	e.session.CenterPrice = center
	e.session.LastRebalanceAt = now
	e.stateMu.Unlock()
	if err := e.setStatus(ctx, domain.SessionRunning, "session_running"); err != nil {
		return e.Session(), err
	}

	log.InfoContext(ctx, "session running",
		slog.Float64("center", center),
		slog.Int("placed", sum.Placed),
		slog.Int("skipped", sum.Skipped),
		slog.Int("errors", sum.Errors),
	)
	e.ledger.Notify(ctx, service.EventSessionStarted, "Grid started",
		fmt.Sprintf("%s center %.0f, %d orders placed", e.market.Symbol, center, sum.Placed))
	return e.Session(), nil
}

// prepare runs the preflight and suitability checks and returns the
// center price.
func (e *Engine) prepare(ctx context.Context) (float64, error) {
	if !e.exec.Simulated() {
		if err := e.exchange.Ping(ctx); err != nil {
			return 0, fmt.Errorf("engine: preflight: %w: %w", domain.ErrCritical, err)
		}
	}

	book, err := e.md.OrderBook(ctx, e.market.Symbol)
	if err != nil {
		return 0, fmt.Errorf("engine: suitability: %w", err)
	}
	if err := e.suitable(book); err != nil {
		if !e.cfg.Force {
			return 0, err
		}
		e.logger.WarnContext(ctx, "market unsuitable, continuing because force is set",
			slog.String("error", err.Error()))
	}

	center, src, err := e.md.LastPrice(ctx, e.market.Symbol, e.cfg.PriceMaxAge)
	if err != nil {
		return 0, fmt.Errorf("engine: center price: %w", err)
	}
	e.logger.InfoContext(ctx, "center price resolved",
		slog.Float64("center", center),
		slog.String("source", string(src)),
	)
	return center, nil
}

func (e *Engine) suitable(book domain.OrderBookSnapshot) error {
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return fmt.Errorf("engine: %w: one-sided book", domain.ErrMarketUnsuitable)
	}
	if e.cfg.MaxSpreadPercent > 0 && book.SpreadPercent() > e.cfg.MaxSpreadPercent {
		return fmt.Errorf("engine: %w: spread %.3f%% above %.3f%%",
			domain.ErrMarketUnsuitable, book.SpreadPercent(), e.cfg.MaxSpreadPercent)
	}
	return nil
}

// cancelStale cancels orders an earlier run left on the book.
func (e *Engine) cancelStale(ctx context.Context) {
	if e.exec.Simulated() {
		return
	}
	sessionID := e.Session().ID
	stale, err := e.ledger.RestingOrders(ctx, e.market.Symbol)
	if err != nil {
		e.logger.WarnContext(ctx, "list stale orders failed", slog.String("error", err.Error()))
		return
	}
	var ids []string
	var orders []domain.TradingOrder
	for _, o := range stale {
		if o.Simulated || o.ExchangeOrderID == "" || o.SessionID == sessionID {
			continue
		}
		ids = append(ids, o.ExchangeOrderID)
		orders = append(orders, o)
	}
	if len(ids) == 0 {
		return
	}
	sum := e.exec.CancelStale(ctx, ids)
	e.logger.InfoContext(ctx, "stale orders cancelled",
		slog.Int("cancelled", sum.Cancelled),
		slog.Int("errors", sum.Errors),
	)
	failed := make(map[string]bool, len(sum.FailedIDs))
	for _, id := range sum.FailedIDs {
		failed[id] = true
	}
	for _, o := range orders {
		if failed[o.ExchangeOrderID] {
			continue
		}
		if err := o.Transition(domain.OrderStatusCancelled, e.now()); err == nil {
			e.persistOrder(ctx, o)
		}
	}
}

// deploy plans and sizes a ladder around center and converges the book to it.
func (e *Engine) deploy(ctx context.Context, center float64) (executor.Summary, error) {
	budget := e.cfg.Capital * e.cfg.ActiveCapitalPct / 100
	plan, err := grid.Plan(grid.Params{
		Market:         e.market,
		ReferencePrice: center,
		StepPercent:    e.cfg.StepPercent,
		Levels:         e.cfg.Levels,
		Mode:           e.cfg.Mode,
		Budget:         budget,
	})
	if err != nil {
		return executor.Summary{}, fmt.Errorf("engine: plan: %w", err)
	}
	if plan.Collapsed > 0 {
		e.logger.WarnContext(ctx, "levels collapsed onto the same tick", slog.Int("collapsed", plan.Collapsed))
	}
	plan, err = e.sizer.Size(ctx, plan, budget, e.market)
	if err != nil {
		return executor.Summary{}, fmt.Errorf("engine: size: %w", err)
	}

	diff := grid.Diff(plan.Levels, e.exec.Registry().Existing(), e.diffOptions())
	sum := e.exec.Apply(ctx, diff)
	for _, c := range diff.ToCancel {
		if o, ok := e.exec.Registry().ByExchangeID(c.Order.ExchangeOrderID); ok {
			e.persistOrder(ctx, o)
		}
	}
	for _, o := range sum.Orders {
		e.persistOrder(ctx, o)
	}
	if len(diff.ToPlace) > 0 && sum.Placed == 0 && sum.Errors > 0 {
		return sum, fmt.Errorf("engine: deploy: every placement failed: %w", errors.Join(sum.Failures...))
	}
	return sum, nil
}

func (e *Engine) diffOptions() grid.DiffOptions {
	return grid.DiffOptions{
		Tick:                  e.market.Tick,
		ToleranceTicks:        e.cfg.ToleranceTicks,
		QtyTolerancePercent:   e.cfg.QtyTolerancePercent,
		PriceTolerancePercent: e.cfg.PriceTolerancePercent,
		MinNotional:           e.market.MinNotional,
	}
}

// abort ends a session that failed to initialize.
func (e *Engine) abort(ctx context.Context, cause error) (domain.BotSession, error) {
	e.logger.ErrorContext(ctx, "session initialization failed", slog.String("error", cause.Error()))
	if _, err := e.stopLocked(ctx, domain.StopFailure, cause.Error()); err != nil {
		e.logger.WarnContext(ctx, "stop after failed initialization", slog.String("error", err.Error()))
	}
	return e.Session(), cause
}

// Stop cancels every resting order, ends the session with the status
// implied by cause and returns its summary.
func (e *Engine) Stop(ctx context.Context, cause domain.StopCause, reason string) (domain.SessionSummary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopLocked(ctx, cause, reason)
}

// EmergencyStop interrupts any cycle in progress and stops the session.
func (e *Engine) EmergencyStop(ctx context.Context, reason string) (domain.SessionSummary, error) {
	e.halted.Store(true)
	e.cycleMu.Lock()
	if e.cancelCycle != nil {
		e.cancelCycle()
	}
	e.cycleMu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopLocked(ctx, domain.StopEmergency, reason)
}

func (e *Engine) stopLocked(ctx context.Context, cause domain.StopCause, reason string) (domain.SessionSummary, error) {
	sess := e.Session()
	if sess.ID == "" {
		return domain.SessionSummary{}, fmt.Errorf("engine: stop: no session: %w", domain.ErrNotFound)
	}
	if sess.Status.Terminal() {
		sum, _ := e.Summary()
		return sum, fmt.Errorf("engine: stop session %s: %w", sess.ID, domain.ErrTerminalStatus)
	}

	// Cancels must go out even when the caller's context is already done.
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.StopTimeout)
	defer cancel()

	resting := e.exec.Registry().Resting()
	cancelled := e.exec.CancelAll(stopCtx, "stop: "+string(cause))
	for _, o := range resting {
		if cur, ok := e.exec.Registry().Get(o.ID); ok {
			e.persistOrder(stopCtx, cur)
		}
	}

	now := e.now()
	e.stateMu.Lock()
	e.session.StoppedAt = &now
	e.session.StopReason = reason
	e.stateMu.Unlock()

	to := cause.TerminalStatus()
	if err := e.setStatus(stopCtx, to, "session_"+string(to)); err != nil {
		return domain.SessionSummary{}, err
	}

	summary := Summarize(e.Session(), e.exec.Registry().All(), cancelled, now)
	e.stateMu.Lock()
	e.summary = &summary
	e.stateMu.Unlock()

	e.logger.InfoContext(stopCtx, "session stopped",
		slog.String("session_id", summary.SessionID),
		slog.String("status", string(summary.Status)),
		slog.String("reason", reason),
		slog.Int("trades", summary.Trades),
		slog.Float64("net_profit", summary.NetProfit),
		slog.Int("cancelled", summary.CancelledOnEnd),
		slog.Int("cancel_errors", summary.CancelErrors),
	)

	if e.archiver != nil {
		if err := e.archiver.ArchiveSummary(stopCtx, summary); err != nil {
			e.logger.WarnContext(stopCtx, "archive summary failed", slog.String("error", err.Error()))
		}
	}

	event, title := service.EventSessionStopped, "Grid stopped"
	if cause == domain.StopEmergency {
		event, title = service.EventEmergencyStop, "EMERGENCY STOP"
	}
	e.ledger.Notify(stopCtx, event, title,
		fmt.Sprintf("%s %s: %s (trades %d, net %.0f)", summary.Symbol, summary.Status, reason, summary.Trades, summary.NetProfit))
	return summary, nil
}

// setStatus is the only place the session status changes.
func (e *Engine) setStatus(ctx context.Context, to domain.SessionStatus, event string) error {
	e.stateMu.Lock()
	from := e.session.Status
	err := e.session.Transition(to)
	sess := e.session
	e.stateMu.Unlock()
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	e.logger.InfoContext(ctx, "session status changed",
		slog.String("session_id", sess.ID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
	if err := e.ledger.SessionChanged(ctx, sess, event); err != nil {
		e.logger.WarnContext(ctx, "persist session failed", slog.String("error", err.Error()))
	}
	return nil
}

func (e *Engine) persistOrder(ctx context.Context, o domain.TradingOrder) {
	if err := e.ledger.OrderChanged(ctx, o); err != nil {
		e.logger.WarnContext(ctx, "persist order failed",
			slog.String("order_id", o.ExchangeOrderID),
			slog.String("error", err.Error()),
		)
	}
}
