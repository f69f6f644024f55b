// Package config defines the top-level configuration for the grid bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by GRIDBOT_* environment variables.
type Config struct {
	Exchange ExchangeConfig `toml:"exchange"`
	Grid     GridConfig     `toml:"grid"`
	Risk     RiskConfig     `toml:"risk"`
	Feed     FeedConfig     `toml:"feed"`
	Cache    CacheConfig    `toml:"cache"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Log      LogConfig      `toml:"log"`
	Mode     string         `toml:"mode"`
}

// ExchangeConfig holds API endpoints and credentials.
type ExchangeConfig struct {
	BaseURL string `toml:"base_url"`
	WSURL   string `toml:"ws_url"`
	Token   string `toml:"token"`
	// TokenFile points at a token sealed with crypto.SealToken; it is used
	// when Token is empty.
	TokenFile     string         `toml:"token_file"`
	TokenPassword string         `toml:"token_password"`
	Timeout       duration       `toml:"timeout"`
	MaxAttempts   int            `toml:"max_attempts"`
	BaseBackoff   duration       `toml:"base_backoff"`
	MaxBackoff    duration       `toml:"max_backoff"`
	DefaultRPM    int            `toml:"default_rpm"`
	RouteLimits   map[string]int `toml:"route_limits"`
	// Symbols is the allow-list of markets the bot may touch.
	Symbols []string `toml:"symbols"`
}

// GridConfig holds the ladder and session parameters.
type GridConfig struct {
	Symbol                string   `toml:"symbol"`
	Capital               float64  `toml:"capital"`
	ActiveCapitalPct      float64  `toml:"active_capital_pct"`
	StepPercent           float64  `toml:"step_percent"`
	Levels                int      `toml:"levels"`
	GridMode              string   `toml:"grid_mode"`
	FeeBps                float64  `toml:"fee_bps"`
	Tick                  float64  `toml:"tick"`
	QuantityPrecision     int      `toml:"quantity_precision"`
	MinNotional           float64  `toml:"min_notional"`
	ToleranceTicks        int      `toml:"tolerance_ticks"`
	QtyTolerancePercent   float64  `toml:"qty_tolerance_percent"`
	PriceTolerancePercent float64  `toml:"price_tolerance_percent"`
	MaxSpreadPercent      float64  `toml:"max_spread_percent"`
	Force                 bool     `toml:"force"`
	RepriceOnCross        bool     `toml:"reprice_on_cross"`
	CycleInterval         duration `toml:"cycle_interval"`
	PriceMaxAge           duration `toml:"price_max_age"`
	BookMaxAge            duration `toml:"book_max_age"`
	OrderPacing           duration `toml:"order_pacing"`
	DedupTTL              duration `toml:"dedup_ttl"`
}

// RiskConfig holds the stop and rebalance thresholds.
type RiskConfig struct {
	DrawdownWarnPercent float64  `toml:"drawdown_warn_percent"`
	DrawdownStopPercent float64  `toml:"drawdown_stop_percent"`
	RebalancePercent    float64  `toml:"rebalance_percent"`
	MaxDeviationPercent float64  `toml:"max_deviation_percent"`
	RebalanceCooldown   duration `toml:"rebalance_cooldown"`
	MaxHealthFailures   int      `toml:"max_health_failures"`
	StaleCycles         int      `toml:"stale_cycles"`
	StopTimeout         duration `toml:"stop_timeout"`
}

// FeedConfig holds the streaming consumer parameters.
type FeedConfig struct {
	Enabled        bool     `toml:"enabled"`
	LeaseKey       string   `toml:"lease_key"`
	LeaseTTL       duration `toml:"lease_ttl"`
	ReadTimeout    duration `toml:"read_timeout"`
	InitialBackoff duration `toml:"initial_backoff"`
	MaxBackoff     duration `toml:"max_backoff"`
	BackoffFactor  float64  `toml:"backoff_factor"`
	// Jitter is the largest random fraction of the backoff added to a
	// reconnect wait.
	Jitter float64 `toml:"jitter"`
}

// CacheConfig sets how long cached prices and books live in the shared
// store. Readers apply their own freshness bounds on top.
type CacheConfig struct {
	PriceTTL duration `toml:"price_ttl"`
	BookTTL  duration `toml:"book_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	PreferIPv4    bool   `toml:"prefer_ipv4"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When disabled the bot uses
// in-process caches and locks.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for summary archives.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP status API parameters.
type ServerConfig struct {
	Enabled           bool     `toml:"enabled"`
	Port              int      `toml:"port"`
	APIKey            string   `toml:"api_key"`
	CORSOrigins       []string `toml:"cors_origins"`
	RequestsPerMinute int      `toml:"requests_per_minute"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken  string   `toml:"telegram_token"`
	TelegramChatID string   `toml:"telegram_chat_id"`
	DiscordWebhook string   `toml:"discord_webhook"`
	Events         []string `toml:"events"`
}

// LogConfig controls the slog handler and optional rotated file output.
type LogConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			BaseURL:     "https://api.nobitex.ir",
			WSURL:       "wss://wss.nobitex.ir/connection/websocket",
			Timeout:     duration{10 * time.Second},
			MaxAttempts: 3,
			BaseBackoff: duration{500 * time.Millisecond},
			MaxBackoff:  duration{8 * time.Second},
			DefaultRPM:  60,
			RouteLimits: map[string]int{
				"orderbook":     300,
				"order_add":     100,
				"order_cancel":  100,
				"orders_status": 60,
			},
			Symbols: []string{"BTCIRT", "ETHIRT", "USDTIRT"},
		},
		Grid: GridConfig{
			Symbol:              "BTCIRT",
			ActiveCapitalPct:    100,
			StepPercent:         1,
			Levels:              10,
			GridMode:            "both",
			FeeBps:              35,
			ToleranceTicks:      1,
			QtyTolerancePercent: 5,
			MaxSpreadPercent:    1,
			RepriceOnCross:      true,
			CycleInterval:       duration{15 * time.Second},
			PriceMaxAge:         duration{30 * time.Second},
			BookMaxAge:          duration{10 * time.Second},
			OrderPacing:         duration{200 * time.Millisecond},
			DedupTTL:            duration{2 * time.Minute},
		},
		Risk: RiskConfig{
			DrawdownWarnPercent: 5,
			DrawdownStopPercent: 15,
			RebalancePercent:    5,
			MaxDeviationPercent: 20,
			RebalanceCooldown:   duration{10 * time.Minute},
			MaxHealthFailures:   3,
			StaleCycles:         5,
			StopTimeout:         duration{30 * time.Second},
		},
		Feed: FeedConfig{
			Enabled:        true,
			LeaseKey:       "feed:orderbook",
			LeaseTTL:       duration{30 * time.Second},
			ReadTimeout:    duration{60 * time.Second},
			InitialBackoff: duration{time.Second},
			MaxBackoff:     duration{time.Minute},
			BackoffFactor:  2,
			Jitter:         0.5,
		},
		Cache: CacheConfig{
			PriceTTL: duration{5 * time.Minute},
			BookTTL:  duration{2 * time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "gridbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "gridbot",
			Prefix:         "sessions",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:           true,
			Port:              8000,
			RequestsPerMinute: 120,
		},
		Notify: NotifyConfig{
			Events: []string{"session_started", "session_stopped", "emergency_stop", "rebalance"},
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Mode: "dryrun",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":  true,
	"dryrun": true,
	"feed":   true,
}

// validLogLevels enumerates the accepted values for LogConfig.Level.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validGridModes = map[string]bool{
	"both":      true,
	"buy_only":  true,
	"sell_only": true,
}

// Trading reports whether the mode runs a grid session.
func (c *Config) Trading() bool {
	return c.Mode == "trade" || c.Mode == "dryrun"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: trade, dryrun, feed)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		add("unknown log level %q (valid: debug, info, warn, error)", c.Log.Level)
	}

	// Exchange
	if c.Exchange.BaseURL == "" {
		add("exchange: base_url must not be empty")
	}
	if len(c.Exchange.Symbols) == 0 {
		add("exchange: symbols allow-list must not be empty")
	}
	if c.Exchange.BaseBackoff.Duration > 0 && c.Exchange.MaxBackoff.Duration > 0 &&
		c.Exchange.BaseBackoff.Duration > c.Exchange.MaxBackoff.Duration {
		add("exchange: base_backoff must not exceed max_backoff")
	}
	if c.Cache.PriceTTL.Duration < 0 || c.Cache.BookTTL.Duration < 0 {
		add("cache: price_ttl and book_ttl must not be negative")
	}
	if c.Mode == "trade" {
		if c.Exchange.Token == "" && c.Exchange.TokenFile == "" {
			add("exchange: token or token_file is required for mode trade")
		}
		if c.Exchange.TokenFile != "" && c.Exchange.Token == "" && c.Exchange.TokenPassword == "" {
			add("exchange: token_password is required when token_file is set")
		}
	}
	if c.Feed.Enabled || c.Mode == "feed" {
		if c.Exchange.WSURL == "" {
			add("exchange: ws_url must not be empty when the feed runs")
		}
		if c.Feed.LeaseTTL.Duration <= 0 {
			add("feed: lease_ttl must be positive")
		}
		if c.Feed.BackoffFactor != 0 && c.Feed.BackoffFactor < 1 {
			add("feed: backoff_factor must be >= 1, got %v", c.Feed.BackoffFactor)
		}
		if c.Feed.Jitter < 0 || c.Feed.Jitter > 1 {
			add("feed: jitter must be in [0, 1], got %v", c.Feed.Jitter)
		}
	}

	if c.Trading() {
		c.validateGrid(add)
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled && c.S3.Bucket == "" {
		add("s3: bucket must not be empty")
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		add("server: port must be 1-65535, got %d", c.Server.Port)
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) validateGrid(add func(string, ...any)) {
	g := c.Grid
	if g.Symbol == "" {
		add("grid: symbol must not be empty")
	} else if !contains(c.Exchange.Symbols, strings.ToUpper(g.Symbol)) {
		add("grid: symbol %s is not in exchange.symbols", g.Symbol)
	}
	if g.Capital <= 0 {
		add("grid: capital must be > 0")
	}
	if g.ActiveCapitalPct <= 0 || g.ActiveCapitalPct > 100 {
		add("grid: active_capital_pct must be in (0, 100], got %v", g.ActiveCapitalPct)
	}
	if g.StepPercent <= 0 || g.StepPercent >= 100 {
		add("grid: step_percent must be in (0, 100), got %v", g.StepPercent)
	}
	if g.Levels < 2 {
		add("grid: levels must be >= 2, got %d", g.Levels)
	}
	if !validGridModes[g.GridMode] {
		add("grid: unknown grid_mode %q (valid: both, buy_only, sell_only)", g.GridMode)
	}
	if g.FeeBps < 0 {
		add("grid: fee_bps must not be negative")
	}
	if g.Tick < 0 || g.MinNotional < 0 || g.QuantityPrecision < 0 {
		add("grid: tick, quantity_precision and min_notional must not be negative")
	}
	if g.CycleInterval.Duration <= 0 {
		add("grid: cycle_interval must be positive")
	}

	r := c.Risk
	if r.DrawdownStopPercent < 0 || r.DrawdownWarnPercent < 0 {
		add("risk: drawdown thresholds must not be negative")
	}
	if r.DrawdownStopPercent > 0 && r.DrawdownWarnPercent > r.DrawdownStopPercent {
		add("risk: drawdown_warn_percent must not exceed drawdown_stop_percent")
	}
	if r.MaxDeviationPercent > 0 && r.RebalancePercent > r.MaxDeviationPercent {
		add("risk: rebalance_percent must not exceed max_deviation_percent")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
