// Package config defines the top-level configuration for the paper trading
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PAPERTRADE_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Feed     FeedConfig     `toml:"feed"`
	Trading  TradingConfig  `toml:"trading"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// Run modes.
const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// Feed sources.
const (
	FeedSimulated = "simulated"
	FeedBinance   = "binance"
)

// PostgresConfig holds PostgreSQL connection parameters. Used in live mode.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Used in live mode.
type RedisConfig struct {
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	KeyPrefix    string   `toml:"key_prefix"`
	PriceTTL     duration `toml:"price_ttl"`
	StreamMaxLen int64    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters for the archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// FeedConfig selects and tunes the price source.
type FeedConfig struct {
	// Source is "simulated" or "binance".
	Source        string             `toml:"source"`
	Symbols       []string           `toml:"symbols"`
	InitialPrices map[string]float64 `toml:"initial_prices"`
	BinanceURL    string             `toml:"binance_url"`

	// RandomWalk moves simulated prices every WalkInterval by a normal
	// step with WalkVolatility standard deviation (fraction of price).
	RandomWalk     bool     `toml:"random_walk"`
	WalkInterval   duration `toml:"walk_interval"`
	WalkVolatility float64  `toml:"walk_volatility"`
}

// TradingConfig holds account and admission parameters.
type TradingConfig struct {
	StartingBalance   float64 `toml:"starting_balance"`
	EnforceDailyLimit bool    `toml:"enforce_daily_limit"`
}

// MonitorConfig controls the risk monitor.
type MonitorConfig struct {
	AutoStart      bool     `toml:"auto_start"`
	Interval       duration `toml:"interval"`
	MaxConcurrency int      `toml:"max_concurrency"`
}

// ArchiveConfig controls the closed-trade archiver. Requires S3.
type ArchiveConfig struct {
	Enabled   bool     `toml:"enabled"`
	Interval  duration `toml:"interval"`
	Retention duration `toml:"retention"`
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit is requests per RateWindow per client IP; 0 disables it.
	// Only enforced in live mode.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramAPIURL    string   `toml:"telegram_api_url"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "papertrade",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			KeyPrefix:    "papertrade",
			PriceTTL:     duration{10 * time.Minute},
			StreamMaxLen: 10_000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "papertrade-archive",
			ForcePathStyle: true,
		},
		Feed: FeedConfig{
			Source:  FeedSimulated,
			Symbols: []string{"BTCUSDT", "ETHUSDT"},
			InitialPrices: map[string]float64{
				"BTCUSDT": 60_000,
				"ETHUSDT": 3_000,
			},
			BinanceURL:     "wss://fstream.binance.com",
			WalkInterval:   duration{2 * time.Second},
			WalkVolatility: 0.002,
		},
		Trading: TradingConfig{
			StartingBalance: 100_000,
		},
		Monitor: MonitorConfig{
			AutoStart:      true,
			Interval:       duration{5 * time.Second},
			MaxConcurrency: 32,
		},
		Archive: ArchiveConfig{
			Interval:  duration{24 * time.Hour},
			Retention: duration{30 * 24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			TelegramAPIURL: "https://api.telegram.org",
			Events:         []string{"position_closed", "risk_settings_updated"},
		},
		Mode:     ModePaper,
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	ModePaper: true,
	ModeLive:  true,
}

var validFeeds = map[string]bool{
	FeedSimulated: true,
	FeedBinance:   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: paper, live)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	live := strings.EqualFold(c.Mode, ModeLive)

	// Postgres and Redis back live mode only.
	if live {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Feed
	if !validFeeds[strings.ToLower(c.Feed.Source)] {
		errs = append(errs, fmt.Sprintf("feed: unknown source %q (valid: simulated, binance)", c.Feed.Source))
	}
	if strings.EqualFold(c.Feed.Source, FeedBinance) {
		if len(c.Feed.Symbols) == 0 {
			errs = append(errs, "feed: symbols must not be empty for the binance source")
		}
		if c.Feed.BinanceURL == "" {
			errs = append(errs, "feed: binance_url must not be empty")
		}
	}
	for sym, p := range c.Feed.InitialPrices {
		if p <= 0 {
			errs = append(errs, fmt.Sprintf("feed: initial price for %s must be > 0", sym))
		}
	}
	if c.Feed.RandomWalk {
		if c.Feed.WalkInterval.Duration <= 0 {
			errs = append(errs, "feed: walk_interval must be > 0 when random_walk is set")
		}
		if c.Feed.WalkVolatility <= 0 || c.Feed.WalkVolatility >= 1 {
			errs = append(errs, "feed: walk_volatility must be in (0, 1)")
		}
	}

	// Trading
	if c.Trading.StartingBalance <= 0 {
		errs = append(errs, "trading: starting_balance must be > 0")
	}

	// Monitor
	if c.Monitor.Interval.Duration <= 0 {
		errs = append(errs, "monitor: interval must be > 0")
	}
	if c.Monitor.MaxConcurrency < 1 {
		errs = append(errs, "monitor: max_concurrency must be >= 1")
	}

	// Archive
	if c.Archive.Enabled {
		if !live {
			errs = append(errs, "archive: requires mode live")
		}
		if c.S3.Bucket == "" || c.S3.Region == "" {
			errs = append(errs, "archive: s3.bucket and s3.region must be set")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
		if c.Archive.Retention.Duration < 0 {
			errs = append(errs, "archive: retention must be >= 0")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Notify: a token without a chat id (or vice versa) is a typo, not a choice.
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
