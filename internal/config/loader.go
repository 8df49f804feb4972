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
// built-in defaults, applies PAPERTRADE_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
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

	return &cfg, nil
}

// applyEnvOverrides reads well-known PAPERTRADE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PAPERTRADE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PAPERTRADE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PAPERTRADE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PAPERTRADE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PAPERTRADE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PAPERTRADE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PAPERTRADE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PAPERTRADE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PAPERTRADE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PAPERTRADE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PAPERTRADE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PAPERTRADE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PAPERTRADE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PAPERTRADE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PAPERTRADE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PAPERTRADE_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "PAPERTRADE_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.PriceTTL, "PAPERTRADE_REDIS_PRICE_TTL")
	setInt64(&cfg.Redis.StreamMaxLen, "PAPERTRADE_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "PAPERTRADE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PAPERTRADE_S3_REGION")
	setStr(&cfg.S3.Bucket, "PAPERTRADE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PAPERTRADE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PAPERTRADE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PAPERTRADE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PAPERTRADE_S3_FORCE_PATH_STYLE")

	// ── Feed ──
	setStr(&cfg.Feed.Source, "PAPERTRADE_FEED_SOURCE")
	setStringSlice(&cfg.Feed.Symbols, "PAPERTRADE_FEED_SYMBOLS")
	setStr(&cfg.Feed.BinanceURL, "PAPERTRADE_FEED_BINANCE_URL")
	setBool(&cfg.Feed.RandomWalk, "PAPERTRADE_FEED_RANDOM_WALK")
	setDuration(&cfg.Feed.WalkInterval, "PAPERTRADE_FEED_WALK_INTERVAL")
	setFloat64(&cfg.Feed.WalkVolatility, "PAPERTRADE_FEED_WALK_VOLATILITY")

	// ── Trading ──
	setFloat64(&cfg.Trading.StartingBalance, "PAPERTRADE_TRADING_STARTING_BALANCE")
	setBool(&cfg.Trading.EnforceDailyLimit, "PAPERTRADE_TRADING_ENFORCE_DAILY_LIMIT")

	// ── Monitor ──
	setBool(&cfg.Monitor.AutoStart, "PAPERTRADE_MONITOR_AUTO_START")
	setDuration(&cfg.Monitor.Interval, "PAPERTRADE_MONITOR_INTERVAL")
	setInt(&cfg.Monitor.MaxConcurrency, "PAPERTRADE_MONITOR_MAX_CONCURRENCY")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "PAPERTRADE_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "PAPERTRADE_ARCHIVE_INTERVAL")
	setDuration(&cfg.Archive.Retention, "PAPERTRADE_ARCHIVE_RETENTION")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PAPERTRADE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PAPERTRADE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PAPERTRADE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PAPERTRADE_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "PAPERTRADE_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "PAPERTRADE_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramAPIURL, "PAPERTRADE_NOTIFY_TELEGRAM_API_URL")
	setStr(&cfg.Notify.TelegramToken, "PAPERTRADE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PAPERTRADE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PAPERTRADE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PAPERTRADE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PAPERTRADE_MODE")
	setStr(&cfg.LogLevel, "PAPERTRADE_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and parses.

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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
