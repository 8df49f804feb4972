package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/papertrade/internal/blob/s3"
	"github.com/alanyoungcy/papertrade/internal/cache/redis"
	"github.com/alanyoungcy/papertrade/internal/config"
	"github.com/alanyoungcy/papertrade/internal/domain"
	"github.com/alanyoungcy/papertrade/internal/notify"
	"github.com/alanyoungcy/papertrade/internal/server/handler"
	"github.com/alanyoungcy/papertrade/internal/store/memory"
	"github.com/alanyoungcy/papertrade/internal/store/postgres"
)

// Dependencies bundles the storage, cache and delivery components the run
// modes build on. It is constructed by Wire and torn down by the returned
// cleanup function. Fields backed by external services are nil in paper mode.
type Dependencies struct {
	// Stores
	Accounts     domain.AccountStore
	Positions    domain.PositionStore
	Trades       domain.TradeStore
	RiskSettings domain.RiskSettingsStore
	Audit        domain.AuditStore

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	Archiver *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier

	// Health checks reported by /api/health.
	Pingers map[string]handler.Pinger
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Pingers: map[string]handler.Pinger{}}

	if strings.EqualFold(cfg.Mode, config.ModeLive) {
		// --- PostgreSQL ---
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Accounts = postgres.NewAccountStore(pool)
		deps.Positions = postgres.NewPositionStore(pool)
		deps.Trades = postgres.NewTradeStore(pool)
		deps.RiskSettings = postgres.NewRiskSettingsStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Pingers["postgres"] = pgClient

		// --- Redis ---
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.Pingers["redis"] = redisClient
	} else {
		st := memory.New()
		deps.Accounts = st.Accounts()
		deps.Positions = st.Positions()
		deps.Trades = st.Trades()
		deps.RiskSettings = st.RiskSettings()
		deps.Audit = st.Audit()
	}

	// --- S3 archive ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		if err := s3Client.Health(ctx); err != nil {
			logger.WarnContext(ctx, "s3 bucket not reachable, archive runs will retry",
				slog.String("bucket", s3Client.Bucket()),
				slog.String("error", err.Error()),
			)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.Trades, deps.Audit, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramAPIURL,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
