package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/gridbot/internal/blob/s3"
	"github.com/alanyoungcy/gridbot/internal/cache/memory"
	"github.com/alanyoungcy/gridbot/internal/cache/redis"
	"github.com/alanyoungcy/gridbot/internal/config"
	"github.com/alanyoungcy/gridbot/internal/crypto"
	"github.com/alanyoungcy/gridbot/internal/domain"
	"github.com/alanyoungcy/gridbot/internal/engine"
	"github.com/alanyoungcy/gridbot/internal/notify"
	"github.com/alanyoungcy/gridbot/internal/platform/nobitex"
	"github.com/alanyoungcy/gridbot/internal/server/handler"
	"github.com/alanyoungcy/gridbot/internal/store/postgres"
)

// Dependencies bundles everything the modes need. Stores and the archiver
// are nil when their backend is disabled.
type Dependencies struct {
	Exchange *nobitex.Client

	PriceCache  domain.PriceCache
	BookCache   domain.OrderbookCache
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter

	OrderStore   domain.OrderStore
	TradeStore   domain.TradeStore
	SessionStore domain.SessionStore
	AuditStore   domain.AuditStore

	Archiver engine.Archiver
	Notifier *notify.Notifier

	// Checks are the dependency probes behind /api/health.
	Checks map[string]handler.Check
}

// Wire constructs every backend from cfg and returns a cleanup function
// releasing them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- Caches, lease and rate limiter ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  "gridbot",
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })

		deps.PriceCache = redis.NewPriceCache(rc, cfg.Cache.PriceTTL.Duration)
		deps.BookCache = redis.NewOrderbookCache(rc, cfg.Cache.BookTTL.Duration)
		deps.LockManager = redis.NewLockManager(rc)
		deps.RateLimiter = redis.NewRateLimiter(rc)
		deps.Checks["redis"] = rc.Ping
	} else {
		deps.PriceCache = memory.NewPriceCache(cfg.Cache.PriceTTL.Duration)
		deps.BookCache = memory.NewOrderbookCache(cfg.Cache.BookTTL.Duration)
		deps.LockManager = memory.NewLockManager()
		deps.RateLimiter = memory.NewRateLimiter()
	}

	// --- Exchange ---
	token, err := crypto.LoadToken(crypto.TokenSource{
		Raw:      cfg.Exchange.Token,
		Path:     cfg.Exchange.TokenFile,
		Password: cfg.Exchange.TokenPassword,
	})
	if err != nil && !errors.Is(err, crypto.ErrNoToken) {
		return fail(fmt.Errorf("wire: exchange token: %w", err))
	}
	if token == "" && cfg.Mode == "trade" {
		return fail(fmt.Errorf("wire: %w", crypto.ErrNoToken))
	}
	deps.Exchange = nobitex.NewClient(nobitex.Config{
		BaseURL:     cfg.Exchange.BaseURL,
		Token:       token,
		Timeout:     cfg.Exchange.Timeout.Duration,
		MaxAttempts: cfg.Exchange.MaxAttempts,
		BaseBackoff: cfg.Exchange.BaseBackoff.Duration,
		MaxBackoff:  cfg.Exchange.MaxBackoff.Duration,
		RouteLimits: cfg.Exchange.RouteLimits,
		DefaultRPM:  cfg.Exchange.DefaultRPM,
	}, deps.RateLimiter, logger)

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:        cfg.Postgres.DSN,
			Host:       cfg.Postgres.Host,
			Port:       cfg.Postgres.Port,
			Database:   cfg.Postgres.Database,
			User:       cfg.Postgres.User,
			Password:   cfg.Postgres.Password,
			SSLMode:    cfg.Postgres.SSLMode,
			MaxConns:   cfg.Postgres.PoolMaxConns,
			MinConns:   cfg.Postgres.PoolMinConns,
			PreferIPv4: cfg.Postgres.PreferIPv4,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		stores := pg.Stores()
		deps.OrderStore = stores.Orders
		deps.TradeStore = stores.Trades
		deps.SessionStore = stores.Sessions
		deps.AuditStore = stores.Audit
		deps.Checks["postgres"] = pg.Pool().Ping
	}

	// --- S3 summary archive ---
	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		var trades s3blob.TradeLister
		if deps.TradeStore != nil {
			trades = deps.TradeStore
		}
		deps.Archiver = s3blob.NewSummaryArchiver(s3blob.NewWriter(sc, 0), cfg.S3.Prefix, trades, deps.AuditStore)
		deps.Checks["s3"] = sc.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhook != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhook))
	}
	prefix := ""
	if cfg.Mode == "dryrun" {
		prefix = "[dryrun]"
	}
	deps.Notifier = notify.NewNotifier(senders, notify.Options{
		Events: cfg.Notify.Events,
		Prefix: prefix,
		Quiet:  time.Minute,
	}, logger)

	return deps, cleanup, nil
}
