package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/polymon/internal/blob/s3"
	"github.com/alanyoungcy/polymon/internal/cache/redis"
	"github.com/alanyoungcy/polymon/internal/config"
	"github.com/alanyoungcy/polymon/internal/domain"
	"github.com/alanyoungcy/polymon/internal/notify"
	"github.com/alanyoungcy/polymon/internal/platform/polymarket"
	"github.com/alanyoungcy/polymon/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	EventStore  domain.EventStore
	MarketStore domain.MarketStore
	OrderStore  domain.OrderStore
	Subscribers domain.SubscriberStore
	Watches     domain.LiquiditySubscriptionStore

	// Caches and coordination
	MarketCache domain.MarketCache
	Sessions    domain.SessionStore
	Liquidity   domain.LiquidityCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage (nil unless the archiver is enabled)
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader

	// Remote API clients. Clob is unauthenticated here; modes that place
	// orders build their own signed client.
	Gamma *polymarket.GammaClient
	Clob  *polymarket.ClobClient

	// Operator notifications
	Notifier *notify.Notifier

	// Raw clients kept for connectivity probes in the /status report.
	Postgres *postgres.Client
	Redis    *redis.Client
	S3       *s3blob.Client
}

// needsS3 returns true for modes that archive snapshots.
func needsS3(mode string) bool {
	switch mode {
	case "sync", "monitor", "full":
		return true
	default:
		return false
	}
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

	deps := &Dependencies{}

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
	deps.Postgres = pgClient
	deps.EventStore = postgres.NewEventStore(pool)
	deps.MarketStore = postgres.NewMarketStore(pool)
	deps.OrderStore = postgres.NewOrderStore(pool)
	deps.Subscribers = postgres.NewSubscriberStore(pool)
	deps.Watches = postgres.NewLiquiditySubscriptionStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Redis = redisClient
	deps.MarketCache = redis.NewMarketCache(redisClient)
	deps.Sessions = redis.NewSessionStore(redisClient)
	deps.Liquidity = redis.NewLiquidityCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Bot.SendLimit, cfg.Bot.SendWindow.Duration)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage (only for modes that archive snapshots) ---
	if cfg.Archiver.Enabled && needsS3(cfg.Mode) {
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
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.S3 = s3Client
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
	}

	// --- Remote API clients ---
	deps.Gamma = polymarket.NewGammaClient(cfg.Polymarket.GammaHost)
	deps.Clob = polymarket.NewClobClient(cfg.Polymarket.ClobHost, nil, nil)

	// --- Operator notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
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
