package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/venuelabs/microroute/internal/blob/s3"
	"github.com/venuelabs/microroute/internal/cache/redis"
	"github.com/venuelabs/microroute/internal/config"
	"github.com/venuelabs/microroute/internal/domain"
	"github.com/venuelabs/microroute/internal/store/postgres"
)

// Dependencies bundles every infrastructure dependency the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores (nil when Postgres is disabled).
	PlanStore      domain.PlanStore
	VenueStatStore domain.VenueStatStore
	AuditStore     domain.AuditStore

	// Caches.
	BookCache  domain.BookCache
	RateBudget domain.RateBudget
	SignalBus  domain.SignalBus

	// Blob storage (nil when S3 is disabled).
	BlobWriter domain.BlobWriter
	Archiver   *s3blob.Archiver

	// Raw clients, kept for health checks.
	Redis    *redis.Client
	Postgres *postgres.Client
	S3       *s3blob.Client
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Redis: always required (book cache, rate budget, signal bus) ---
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
	deps.BookCache = redis.NewBookCache(redisClient)
	deps.RateBudget = redis.NewRateBudget(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- PostgreSQL (plan history, venue samples, audit log) ---
	if cfg.Postgres.Enabled {
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
		deps.PlanStore = postgres.NewPlanStore(pool)
		deps.VenueStatStore = postgres.NewVenueStatStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
	}

	// --- S3 blob storage (cold archive) ---
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

		deps.S3 = s3Client
		deps.BlobWriter = s3blob.NewWriter(s3Client)

		// Archiver: only when Postgres provides the aged rows to drain.
		if deps.PlanStore != nil && deps.VenueStatStore != nil {
			deps.Archiver = s3blob.NewArchiver(
				deps.BlobWriter,
				deps.PlanStore,
				deps.VenueStatStore,
				deps.AuditStore,
			)
		}
	}

	logger.InfoContext(ctx, "dependencies wired",
		slog.Bool("postgres", deps.Postgres != nil),
		slog.Bool("s3", deps.S3 != nil),
	)

	return deps, cleanup, nil
}
