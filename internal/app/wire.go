package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/marketguard/internal/blob/s3"
	"github.com/alanyoungcy/marketguard/internal/cache/redis"
	"github.com/alanyoungcy/marketguard/internal/config"
	"github.com/alanyoungcy/marketguard/internal/domain"
	"github.com/alanyoungcy/marketguard/internal/feed"
	"github.com/alanyoungcy/marketguard/internal/server/handler"
	"github.com/alanyoungcy/marketguard/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. Fields stay nil when the backing service is disabled. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	AssessmentStore domain.AssessmentStore
	AuditStore      domain.AuditStore

	// Caches
	AssessmentCache domain.AssessmentCache
	LockManager     domain.LockManager
	SignalBus       domain.SignalBus
	Streams         feed.GroupStream

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Health lists a pinger per connected backend.
	Health map[string]handler.Pinger
}

// needsRedis returns true for modes that exchange data over Redis.
func needsRedis(cfg *config.Config) bool {
	return cfg.Redis.Enabled && cfg.Mode == "serve"
}

// needsPostgres returns true for modes that persist assessments.
func needsPostgres(cfg *config.Config) bool {
	return cfg.Postgres.Enabled && cfg.Mode == "serve"
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

	deps := &Dependencies{Health: make(map[string]handler.Pinger)}

	// --- PostgreSQL ---
	if needsPostgres(cfg) {
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
		deps.AssessmentStore = postgres.NewAssessmentStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Health["postgres"] = pgClient
		logger.Info("postgres connected", slog.String("database", cfg.Postgres.Database))
	}

	// --- Redis ---
	if needsRedis(cfg) {
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

		bus := redis.NewSignalBusWithMaxLen(redisClient, cfg.Emitter.StreamMaxLen)
		deps.SignalBus = bus
		deps.Streams = bus
		deps.AssessmentCache = redis.NewAssessmentCache(redisClient, cfg.Redis.CacheTTL.Duration)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.Health["redis"] = redisClient
		logger.Info("redis connected", slog.String("addr", cfg.Redis.Addr))
	}

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

		writer := s3blob.NewWriter(s3Client)
		deps.BlobWriter = writer
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Health["s3"] = handler.PingFunc(s3Client.Health)

		// The archiver moves rows out of Postgres, so it needs both stores.
		if pgStore, ok := deps.AssessmentStore.(*postgres.AssessmentStore); ok && deps.AuditStore != nil {
			deps.Archiver = s3blob.NewAssessmentArchiver(writer, pgStore, deps.AuditStore, cfg.Archive.BatchLimit)
		}
		logger.Info("s3 configured", slog.String("bucket", cfg.S3.Bucket))
	}

	return deps, cleanup, nil
}
