package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	s3blob "github.com/fanforge/marketd/internal/blob/s3"
	"github.com/fanforge/marketd/internal/cache/redis"
	"github.com/fanforge/marketd/internal/config"
	"github.com/fanforge/marketd/internal/domain"
	"github.com/fanforge/marketd/internal/ingest"
	"github.com/fanforge/marketd/internal/notify"
	"github.com/fanforge/marketd/internal/platform/chain"
	"github.com/fanforge/marketd/internal/platform/metadata"
	"github.com/fanforge/marketd/internal/reconcile"
	"github.com/fanforge/marketd/internal/service"
	"github.com/fanforge/marketd/internal/staking"
	"github.com/fanforge/marketd/internal/store/postgres"
)

// Dependencies bundles every component the application modes need to operate.
// It is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	EventStore         domain.EventStore
	CheckpointStore    domain.CheckpointStore
	StakePositionStore domain.StakePositionStore
	PoolStore          domain.PoolStore
	AuditStore         domain.AuditStore

	// Caches
	MetadataCache domain.MetadataCache
	RateLimiter   domain.RateLimiter
	SignalBus     domain.SignalBus

	// Blob storage (nil unless s3.enabled)
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader

	// Chain access (nil when chain.rpc_url is unset)
	Chain *chain.Client

	// Core components
	State    *reconcile.StateMachine
	Ingestor *ingest.Ingestor
	Ledger   *staking.Ledger
	Listings *service.ListingService
	Tokens   *service.TokenService

	// Notifications
	Notifier *notify.Notifier
	Watcher  *notify.Watcher
}

// needsChain returns true for modes that cannot run without ledger RPC.
func needsChain(mode string) bool {
	switch mode {
	case "ingest", "full":
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
	deps.EventStore = postgres.NewEventStore(pool)
	deps.CheckpointStore = postgres.NewCheckpointStore(pool)
	deps.StakePositionStore = postgres.NewStakePositionStore(pool)
	deps.PoolStore = postgres.NewPoolStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

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

	deps.MetadataCache = redis.NewMetadataCache(redisClient, cfg.Metadata.CacheTTL.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
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

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
	}

	// --- Chain client ---
	if cfg.Chain.RPCURL != "" {
		chainClient, err := chain.New(ctx, chain.Config{
			RPCURL:             cfg.Chain.RPCURL,
			MarketplaceAddress: cfg.Chain.MarketplaceAddress,
			TokenFactoryAddr:   cfg.Chain.TokenFactoryAddress,
			RequestTimeout:     cfg.Chain.RequestTimeout.Duration,
			RetryAttempts:      cfg.Chain.RetryAttempts,
		}, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: chain: %w", err)
		}
		closers = append(closers, chainClient.Close)
		deps.Chain = chainClient
	} else if needsChain(cfg.Mode) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: mode %q requires chain.rpc_url", cfg.Mode)
	}

	// --- Listing read model and ingestion ---
	// The ingestor is built even without a chain client so serve mode can
	// replay the durable event log; only Run needs a live source.
	deps.State = reconcile.New(logger)
	var source ingest.EventSource
	if deps.Chain != nil {
		source = deps.Chain
	}
	deps.Ingestor = ingest.NewIngestor(
		source,
		deps.EventStore,
		deps.CheckpointStore,
		deps.State,
		deps.BlobWriter,
		deps.SignalBus,
		ingest.Config{
			StartBlock:     cfg.Ingest.StartBlock,
			BlockBatchSize: cfg.Ingest.BlockBatchSize,
			Confirmations:  cfg.Chain.Confirmations,
			ArchiveBatches: cfg.Ingest.ArchiveBatches,
		},
		logger,
	).WithLockManager(redis.NewLockManager(redisClient))

	// --- Staking ledger ---
	stakingCfg, err := parseStakingConfig(cfg.Staking)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: staking: %w", err)
	}
	deps.Ledger = staking.NewLedger(stakingCfg, deps.StakePositionStore, deps.PoolStore, deps.AuditStore, logger)
	if err := deps.Ledger.InitPool(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: staking pool init: %w", err)
	}

	// --- Query services ---
	// A typed-nil chain client must not leak into the service interfaces.
	var collection service.CollectionReader
	var tokens service.TokenReader
	if deps.Chain != nil {
		collection = deps.Chain
		tokens = deps.Chain
	}
	metadataClient := metadata.NewClient(cfg.Metadata.FetchTimeout.Duration, cfg.Metadata.RetryAttempts)
	deps.Listings = service.NewListingService(deps.State, collection, metadataClient, deps.MetadataCache, logger)
	if tokens != nil {
		deps.Tokens = service.NewTokenService(tokens, cfg.Explorer.Blacklist, logger)
	}

	// --- Notifications ---
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
	if len(senders) > 0 {
		deps.Watcher = notify.NewWatcher(deps.SignalBus, deps.Notifier, logger)
	}

	return deps, cleanup, nil
}

// parseStakingConfig converts the decimal-string pool parameters into ledger
// config, rejecting unparseable values early instead of at first stake.
func parseStakingConfig(cfg config.StakingConfig) (staking.Config, error) {
	apy, err := decimal.NewFromString(cfg.APYRate)
	if err != nil {
		return staking.Config{}, fmt.Errorf("apy_rate %q: %w", cfg.APYRate, err)
	}
	min, err := decimal.NewFromString(cfg.MinimumStake)
	if err != nil {
		return staking.Config{}, fmt.Errorf("minimum_stake %q: %w", cfg.MinimumStake, err)
	}
	reserve, err := decimal.NewFromString(cfg.RewardsReserve)
	if err != nil {
		return staking.Config{}, fmt.Errorf("rewards_reserve %q: %w", cfg.RewardsReserve, err)
	}
	return staking.Config{
		TokenAddress:   cfg.TokenAddress,
		APYRate:        apy,
		MinimumStake:   min,
		RewardsReserve: reserve,
	}, nil
}
