package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies GRIDBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned
// Config has NOT been validated; the caller should invoke Config.Validate()
// after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	cfg.Grid.Symbol = strings.ToUpper(cfg.Grid.Symbol)
	for i, s := range cfg.Exchange.Symbols {
		cfg.Exchange.Symbols[i] = strings.ToUpper(s)
	}

	return &cfg, nil
}

// applyEnvOverrides reads well-known GRIDBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.BaseURL, "GRIDBOT_EXCHANGE_BASE_URL")
	setStr(&cfg.Exchange.WSURL, "GRIDBOT_EXCHANGE_WS_URL")
	setStr(&cfg.Exchange.Token, "GRIDBOT_EXCHANGE_TOKEN")
	setStr(&cfg.Exchange.TokenFile, "GRIDBOT_EXCHANGE_TOKEN_FILE")
	setStr(&cfg.Exchange.TokenPassword, "GRIDBOT_EXCHANGE_TOKEN_PASSWORD")
	setDuration(&cfg.Exchange.Timeout, "GRIDBOT_EXCHANGE_TIMEOUT")
	setInt(&cfg.Exchange.MaxAttempts, "GRIDBOT_EXCHANGE_MAX_ATTEMPTS")
	setDuration(&cfg.Exchange.BaseBackoff, "GRIDBOT_EXCHANGE_BASE_BACKOFF")
	setDuration(&cfg.Exchange.MaxBackoff, "GRIDBOT_EXCHANGE_MAX_BACKOFF")
	setInt(&cfg.Exchange.DefaultRPM, "GRIDBOT_EXCHANGE_DEFAULT_RPM")
	setStringSlice(&cfg.Exchange.Symbols, "GRIDBOT_EXCHANGE_SYMBOLS")

	// ── Grid ──
	setStr(&cfg.Grid.Symbol, "GRIDBOT_GRID_SYMBOL")
	setFloat64(&cfg.Grid.Capital, "GRIDBOT_GRID_CAPITAL")
	setFloat64(&cfg.Grid.ActiveCapitalPct, "GRIDBOT_GRID_ACTIVE_CAPITAL_PCT")
	setFloat64(&cfg.Grid.StepPercent, "GRIDBOT_GRID_STEP_PERCENT")
	setInt(&cfg.Grid.Levels, "GRIDBOT_GRID_LEVELS")
	setStr(&cfg.Grid.GridMode, "GRIDBOT_GRID_MODE")
	setFloat64(&cfg.Grid.FeeBps, "GRIDBOT_GRID_FEE_BPS")
	setFloat64(&cfg.Grid.MaxSpreadPercent, "GRIDBOT_GRID_MAX_SPREAD_PERCENT")
	setBool(&cfg.Grid.Force, "GRIDBOT_GRID_FORCE")
	setDuration(&cfg.Grid.CycleInterval, "GRIDBOT_GRID_CYCLE_INTERVAL")

	// ── Risk ──
	setFloat64(&cfg.Risk.DrawdownWarnPercent, "GRIDBOT_RISK_DRAWDOWN_WARN_PERCENT")
	setFloat64(&cfg.Risk.DrawdownStopPercent, "GRIDBOT_RISK_DRAWDOWN_STOP_PERCENT")
	setFloat64(&cfg.Risk.RebalancePercent, "GRIDBOT_RISK_REBALANCE_PERCENT")
	setFloat64(&cfg.Risk.MaxDeviationPercent, "GRIDBOT_RISK_MAX_DEVIATION_PERCENT")
	setDuration(&cfg.Risk.RebalanceCooldown, "GRIDBOT_RISK_REBALANCE_COOLDOWN")

	// ── Feed ──
	setBool(&cfg.Feed.Enabled, "GRIDBOT_FEED_ENABLED")
	setStr(&cfg.Feed.LeaseKey, "GRIDBOT_FEED_LEASE_KEY")
	setDuration(&cfg.Feed.LeaseTTL, "GRIDBOT_FEED_LEASE_TTL")
	setDuration(&cfg.Feed.ReadTimeout, "GRIDBOT_FEED_READ_TIMEOUT")
	setDuration(&cfg.Feed.InitialBackoff, "GRIDBOT_FEED_INITIAL_BACKOFF")
	setDuration(&cfg.Feed.MaxBackoff, "GRIDBOT_FEED_MAX_BACKOFF")
	setFloat64(&cfg.Feed.BackoffFactor, "GRIDBOT_FEED_BACKOFF_FACTOR")
	setFloat64(&cfg.Feed.Jitter, "GRIDBOT_FEED_JITTER")

	// ── Cache ──
	setDuration(&cfg.Cache.PriceTTL, "GRIDBOT_CACHE_PRICE_TTL")
	setDuration(&cfg.Cache.BookTTL, "GRIDBOT_CACHE_BOOK_TTL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "GRIDBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL")
	setStr(&cfg.Postgres.DSN, "GRIDBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "GRIDBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "GRIDBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "GRIDBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "GRIDBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "GRIDBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "GRIDBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "GRIDBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "GRIDBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "GRIDBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "GRIDBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "GRIDBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "GRIDBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "GRIDBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "GRIDBOT_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "GRIDBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "GRIDBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "GRIDBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "GRIDBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "GRIDBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "GRIDBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "GRIDBOT_S3_SECRET_KEY")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "GRIDBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "GRIDBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "GRIDBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "GRIDBOT_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RequestsPerMinute, "GRIDBOT_SERVER_REQUESTS_PER_MINUTE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "GRIDBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "GRIDBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhook, "GRIDBOT_NOTIFY_DISCORD_WEBHOOK")
	setStringSlice(&cfg.Notify.Events, "GRIDBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "GRIDBOT_MODE")
	setStr(&cfg.Log.Level, "GRIDBOT_LOG_LEVEL")
	setStr(&cfg.Log.File, "GRIDBOT_LOG_FILE")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
