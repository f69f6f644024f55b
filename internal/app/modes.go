package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/gridbot/internal/config"
	"github.com/alanyoungcy/gridbot/internal/domain"
	"github.com/alanyoungcy/gridbot/internal/engine"
	"github.com/alanyoungcy/gridbot/internal/executor"
	"github.com/alanyoungcy/gridbot/internal/feed"
	"github.com/alanyoungcy/gridbot/internal/platform/nobitex"
	"github.com/alanyoungcy/gridbot/internal/server"
	"github.com/alanyoungcy/gridbot/internal/server/handler"
	"github.com/alanyoungcy/gridbot/internal/service"
)

// RulesSource supplies exchange-wide trading rules.
type RulesSource interface {
	MarketRules(ctx context.Context, symbol string) (domain.Market, bool, error)
}

// TradeMode runs one grid session, live or simulated, alongside the feed
// consumer and the status API. It returns when the session ends or ctx is
// cancelled; on cancellation the session is stopped safely first.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	simulated := a.cfg.Mode == "dryrun"
	a.logger.InfoContext(ctx, "starting trade mode", slog.Bool("simulated", simulated))

	market, err := resolveMarket(ctx, exchangeRules{deps.Exchange}, a.cfg.Grid)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "market rules",
		slog.String("symbol", market.Symbol),
		slog.Float64("tick", market.Tick),
		slog.Int("quantity_precision", int(market.QuantityPrecision)),
		slog.Float64("min_notional", market.MinNotional),
	)

	md := service.NewMarketData(deps.PriceCache, deps.BookCache, deps.Exchange, service.MarketDataConfig{
		Symbols:    a.cfg.Exchange.Symbols,
		BookMaxAge: a.cfg.Grid.BookMaxAge.Duration,
	}, a.logger)
	exec := executor.NewExecutor(deps.Exchange, executor.Config{
		Market:    market,
		Pacing:    a.cfg.Grid.OrderPacing.Duration,
		Simulated: simulated,
		DedupTTL:  a.cfg.Grid.DedupTTL.Duration,
	}, a.logger)
	risk := service.NewRiskService(service.RiskConfig{
		DrawdownWarnPercent: a.cfg.Risk.DrawdownWarnPercent,
		DrawdownStopPercent: a.cfg.Risk.DrawdownStopPercent,
		RebalancePercent:    a.cfg.Risk.RebalancePercent,
		MaxDeviationPercent: a.cfg.Risk.MaxDeviationPercent,
	}, a.logger)
	ledger := service.NewTradeService(deps.OrderStore, deps.TradeStore, deps.SessionStore, deps.AuditStore, deps.Notifier, a.logger)

	eng := engine.New(engineConfig(a.cfg), deps.Exchange, md, exec, service.EqualNotionalSizer{}, risk, ledger, deps.Archiver, a.logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Feed.Enabled {
		f := a.newFeed(deps, md)
		g.Go(func() error { return a.runFeed(ctx, f) })
	}
	if a.cfg.Server.Enabled {
		srv := a.newServer(deps, eng, ledger)
		g.Go(func() error { return srv.Run(ctx) })
	}
	g.Go(func() error {
		// The other goroutines follow the session out.
		defer cancel()
		return a.runSession(ctx, eng)
	})

	return g.Wait()
}

// FeedMode runs only the streaming consumer, filling the shared cache for
// trading processes.
func (a *App) FeedMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting feed mode", slog.Any("symbols", a.cfg.Exchange.Symbols))

	md := service.NewMarketData(deps.PriceCache, deps.BookCache, deps.Exchange, service.MarketDataConfig{
		Symbols:    a.cfg.Exchange.Symbols,
		BookMaxAge: a.cfg.Grid.BookMaxAge.Duration,
	}, a.logger)
	f := a.newFeed(deps, md)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := f.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
	if a.cfg.Server.Enabled {
		srv := a.newServer(deps, idleView{}, service.NewTradeService(nil, deps.TradeStore, deps.SessionStore, nil, nil, a.logger))
		g.Go(func() error { return srv.Run(ctx) })
	}
	return g.Wait()
}

// runSession initializes the session and drives one cycle per interval.
func (a *App) runSession(ctx context.Context, eng *engine.Engine) error {
	sess, err := eng.Initialize(ctx)
	if err != nil {
		return fmt.Errorf("app: initialize session: %w", err)
	}
	a.logger.InfoContext(ctx, "session running",
		slog.String("session_id", sess.ID),
		slog.Float64("center", sess.CenterPrice),
	)

	interval := a.cfg.Grid.CycleInterval.Duration
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			stopCtx := context.WithoutCancel(ctx)
			sum, err := eng.Stop(stopCtx, domain.StopUser, "shutdown requested")
			if err != nil {
				return fmt.Errorf("app: stop session: %w", err)
			}
			a.logSummary(stopCtx, sum)
			return nil
		case <-ticker.C:
		}

		report, err := eng.RunCycle(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrCritical) {
				if sum, ok := eng.Summary(); ok {
					a.logSummary(ctx, sum)
				}
				return err
			}
			if ctx.Err() == nil {
				a.logger.WarnContext(ctx, "cycle failed", slog.String("error", err.Error()))
			}
			continue
		}
		a.logCycle(ctx, report)
		if report.Stopped {
			if sum, ok := eng.Summary(); ok {
				a.logSummary(ctx, sum)
			}
			return nil
		}
	}
}

// runFeed keeps the consumer alive. Another process holding the lease is
// not an error: this process then reads the shared cache or REST.
func (a *App) runFeed(ctx context.Context, f *feed.OrderbookFeed) error {
	err := f.Run(ctx)
	switch {
	case ctx.Err() != nil:
		return nil
	case errors.Is(err, domain.ErrLockHeld):
		a.logger.InfoContext(ctx, "feed lease held elsewhere, relying on shared cache")
		return nil
	case errors.Is(err, domain.ErrLeaseLost):
		a.logger.WarnContext(ctx, "feed lease lost", slog.String("error", err.Error()))
		return nil
	}
	return err
}

func (a *App) logCycle(ctx context.Context, r engine.CycleReport) {
	attrs := []slog.Attr{
		slog.Float64("price", r.Price),
		slog.String("source", string(r.Source)),
		slog.Int("updates", r.Updates),
		slog.Int("fills", r.Fills),
		slog.Int("trades", len(r.Trades)),
		slog.Int("replacements", r.Replacements),
		slog.Bool("rebalanced", r.Rebalanced),
		slog.Float64("drawdown_pct", r.Risk.DrawdownPercent),
	}
	level := slog.LevelInfo
	if len(r.SoftErrors) > 0 {
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("errors", errors.Join(r.SoftErrors...).Error()))
	}
	a.logger.LogAttrs(ctx, level, "cycle complete", attrs...)
}

func (a *App) logSummary(ctx context.Context, s domain.SessionSummary) {
	a.logger.InfoContext(ctx, "session summary",
		slog.String("session_id", s.SessionID),
		slog.String("status", string(s.Status)),
		slog.String("reason", s.Reason),
		slog.String("duration", s.Duration),
		slog.Int("trades", s.Trades),
		slog.Float64("gross_profit", s.GrossProfit),
		slog.Float64("fees", s.Fees),
		slog.Float64("net_profit", s.NetProfit),
		slog.Float64("return_pct", s.ReturnPercent),
		slog.Int("cancelled_on_end", s.CancelledOnEnd),
		slog.Int("cancel_errors", s.CancelErrors),
	)
}

func (a *App) feedConfig() feed.Config {
	return feed.Config{
		URL:            a.cfg.Exchange.WSURL,
		Symbols:        a.cfg.Exchange.Symbols,
		LeaseKey:       a.cfg.Feed.LeaseKey,
		LeaseTTL:       a.cfg.Feed.LeaseTTL.Duration,
		ReadTimeout:    a.cfg.Feed.ReadTimeout.Duration,
		InitialBackoff: a.cfg.Feed.InitialBackoff.Duration,
		MaxBackoff:     a.cfg.Feed.MaxBackoff.Duration,
		BackoffFactor:  a.cfg.Feed.BackoffFactor,
		Jitter:         a.cfg.Feed.Jitter,
	}
}

// newFeed builds the consumer. With credentials configured it connects with
// a WebSocket token issued by the REST API.
func (a *App) newFeed(deps *Dependencies, pub feed.Publisher) *feed.OrderbookFeed {
	var token feed.TokenFunc
	if deps.Exchange.Authenticated() {
		token = deps.Exchange.WSToken
	}
	return feed.NewOrderbookFeed(a.feedConfig(), deps.LockManager, pub, token, a.logger)
}

func (a *App) newServer(deps *Dependencies, view handler.SessionView, history handler.History) *server.Server {
	return server.NewServer(server.Config{
		Port:              a.cfg.Server.Port,
		CORSOrigins:       a.cfg.Server.CORSOrigins,
		APIKey:            a.cfg.Server.APIKey,
		RequestsPerMinute: a.cfg.Server.RequestsPerMinute,
		Limiter:           deps.RateLimiter,
	}, server.Handlers{
		Health:   handler.NewHealthHandler(deps.Checks, a.logger),
		Status:   handler.NewStatusHandler(a.cfg.Mode, a.cfg.Grid.Symbol, a.startedAt),
		Sessions: handler.NewSessionHandler(view, history, a.logger),
		Orders:   handler.NewOrderHandler(view, a.logger),
		Trades:   handler.NewTradeHandler(view, history, a.logger),
	}, a.logger)
}

func engineConfig(cfg *config.Config) engine.Config {
	g, r := cfg.Grid, cfg.Risk
	return engine.Config{
		Capital:               g.Capital,
		ActiveCapitalPct:      g.ActiveCapitalPct,
		StepPercent:           g.StepPercent,
		Levels:                g.Levels,
		Mode:                  domain.GridMode(g.GridMode),
		FeeBps:                g.FeeBps,
		PriceMaxAge:           g.PriceMaxAge.Duration,
		ToleranceTicks:        g.ToleranceTicks,
		QtyTolerancePercent:   g.QtyTolerancePercent,
		PriceTolerancePercent: g.PriceTolerancePercent,
		MaxSpreadPercent:      g.MaxSpreadPercent,
		Force:                 g.Force,
		RebalanceCooldown:     r.RebalanceCooldown.Duration,
		RepriceOnCross:        g.RepriceOnCross,
		MaxHealthFailures:     r.MaxHealthFailures,
		StaleCycles:           r.StaleCycles,
		StopTimeout:           r.StopTimeout.Duration,
	}
}

// resolveMarket reads the symbol's tick, precision and minimum notional
// from the exchange. Positive values in cfg override what the exchange
// reports; a symbol the exchange does not list needs all three set.
func resolveMarket(ctx context.Context, src RulesSource, cfg config.GridConfig) (domain.Market, error) {
	symbol := strings.ToUpper(cfg.Symbol)
	m, ok, err := src.MarketRules(ctx, symbol)
	if err != nil {
		if cfg.Tick <= 0 || cfg.QuantityPrecision <= 0 {
			return domain.Market{}, fmt.Errorf("app: market rules %s: %w", symbol, err)
		}
		ok = false
	}
	if !ok {
		m = domain.Market{}
	}
	m.Symbol = symbol
	if cfg.Tick > 0 {
		m.Tick = cfg.Tick
	}
	if cfg.QuantityPrecision > 0 {
		m.QuantityPrecision = int32(cfg.QuantityPrecision)
	}
	if cfg.MinNotional > 0 {
		m.MinNotional = cfg.MinNotional
	}
	if m.Tick <= 0 {
		return domain.Market{}, fmt.Errorf("app: market rules %s: %w: no tick size", symbol, domain.ErrInvalidSymbol)
	}
	return m, nil
}

// exchangeRules reads market rules from the exchange options endpoint.
type exchangeRules struct {
	client *nobitex.Client
}

func (r exchangeRules) MarketRules(ctx context.Context, symbol string) (domain.Market, bool, error) {
	opts, err := r.client.Options(ctx)
	if err != nil {
		return domain.Market{}, false, err
	}
	m, ok := opts.MarketRules(symbol)
	return m, ok, nil
}

// idleView backs the status API in feed mode, where no session runs.
type idleView struct{}

func (idleView) Session() domain.BotSession             { return domain.BotSession{} }
func (idleView) Summary() (domain.SessionSummary, bool) { return domain.SessionSummary{}, false }
func (idleView) Orders() []domain.TradingOrder          { return nil }
