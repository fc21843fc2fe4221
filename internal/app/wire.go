package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/solwatch/solwatch/internal/blob/s3"
	"github.com/solwatch/solwatch/internal/cache/redis"
	"github.com/solwatch/solwatch/internal/config"
	"github.com/solwatch/solwatch/internal/crypto"
	"github.com/solwatch/solwatch/internal/domain"
	"github.com/solwatch/solwatch/internal/notify"
	"github.com/solwatch/solwatch/internal/platform/birdeye"
	"github.com/solwatch/solwatch/internal/platform/jupiter"
	"github.com/solwatch/solwatch/internal/store/postgres"
)

// Dependencies bundles every concrete dependency the application modes need.
// It is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	PositionStore *postgres.PositionStore
	TradeStore    *postgres.TradeStore
	TokenStore    *postgres.TokenStore

	// Redis
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	Bus         domain.EventBus

	// Market data and execution
	Birdeye   *birdeye.Client
	PriceFeed domain.PriceFeed
	Venue     domain.ExecutionVenue
	Wallet    *crypto.Wallet

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// tradesEnabled reports whether the mode places orders.
func tradesEnabled(mode string) bool {
	return mode == "trade" || mode == "full"
}

// needsS3 reports whether the mode requires object storage.
func needsS3(mode string, archiveEnabled bool) bool {
	return mode == "archive" || (mode == "full" && archiveEnabled)
}

// Wire constructs every concrete implementation from the configuration and
// returns it with a cleanup function to call on shutdown.
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
	deps.PositionStore = postgres.NewPositionStore(pool)
	deps.TradeStore = postgres.NewTradeStore(pool)
	deps.TokenStore = postgres.NewTokenStore(pool)

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

	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.Bus = redis.NewEventBus(redisClient)

	// --- Market data ---
	deps.Birdeye = birdeye.NewClient(
		cfg.Birdeye.BaseURL,
		cfg.Birdeye.ApiKey,
		cfg.Birdeye.HistoryWindow.Duration,
		cfg.Birdeye.RequestsPerSec,
		deps.RateLimiter,
	)
	deps.PriceFeed = deps.Birdeye

	// --- Signing identity and execution venue ---
	if tradesEnabled(cfg.Mode) {
		keypair, err := crypto.LoadKeypair(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: wallet: %w", err)
		}
		wallet, err := crypto.NewWallet(keypair)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: wallet: %w", err)
		}
		deps.Wallet = wallet
		deps.Venue = jupiter.NewClient(
			cfg.Jupiter.BaseURL,
			cfg.Jupiter.RPCEndpoint,
			wallet,
			cfg.Jupiter.MaxSlippageBps,
			cfg.Jupiter.PriorityFeeSOL,
		)
	}

	// --- S3 blob storage ---
	if needsS3(cfg.Mode, cfg.Archive.Enabled) {
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

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.BlobReader, deps.TradeStore, deps.PositionStore, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
