package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"maps-workers/internal/common/aws"
	"maps-workers/internal/common/config"
	"maps-workers/internal/common/database"
	"maps-workers/internal/common/logger"
	"maps-workers/internal/maps/cache"
	"maps-workers/internal/maps/export"
	"maps-workers/internal/maps/store"
)

// backends holds the connections the map service runs on. Optional parts are
// nil when disabled.
type backends struct {
	repo     store.Repository
	cache    cache.Cache
	sink     *export.S3Sink
	notifier *aws.SNSClient

	es    *database.ElasticsearchClient
	pg    *database.PostgresClient
	redis *database.RedisClient

	stopFollow context.CancelFunc
}

func connectBackends(ctx context.Context, cfg *config.Config, log *zap.Logger) (*backends, error) {
	b := &backends{}

	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		err := retryWithBackoff(func() error {
			var err error
			b.pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			if err := b.pg.Ping(ctx); err != nil {
				b.pg.Close()
				return err
			}
			return nil
		}, 15, 2*time.Second, log, "PostgreSQL connection")
		if err != nil {
			return nil, err
		}

		pgStore := store.NewPostgresStore(b.pg.DB, cfg.Storage.Table, cfg.Storage.ListingLimit)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			b.Close()
			return nil, fmt.Errorf("ensure table %s: %w", cfg.Storage.Table, err)
		}
		b.repo = pgStore
		log.Info("PostgreSQL connected successfully", zap.String("table", cfg.Storage.Table))

	default:
		err := retryWithBackoff(func() error {
			var err error
			b.es, err = database.NewElasticsearch(cfg.Database.Elasticsearch, nil)
			if err != nil {
				return err
			}
			return b.es.Ping(ctx)
		}, 15, 2*time.Second, log, "Elasticsearch connection")
		if err != nil {
			return nil, err
		}

		esStore := store.NewElasticsearchStore(b.es.Client, cfg.Storage.Index, cfg.Storage.ListingLimit)
		if err := esStore.EnsureIndex(ctx); err != nil {
			return nil, fmt.Errorf("ensure index %s: %w", cfg.Storage.Index, err)
		}
		b.repo = esStore
		log.Info("Elasticsearch connected successfully", zap.String("index", cfg.Storage.Index))
	}

	if cfg.Cache.Enabled {
		if err := b.connectCache(ctx, cfg, log); err != nil {
			b.Close()
			return nil, err
		}
	}

	if cfg.Export.Enabled {
		sink, err := export.NewS3Sink(cfg.Export)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.sink = sink
		log.Info("Export sink configured", zap.String("bucket", cfg.Export.Bucket))
	}

	if cfg.Notifications.SNS.Enabled {
		notifier, err := aws.NewSNSClient(ctx, cfg.Notifications.SNS.Region, cfg.Notifications.SNS.TopicARN)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.notifier = notifier
		log.Info("SNS integrity alerts enabled", zap.String("topic", cfg.Notifications.SNS.TopicARN))
	}

	return b, nil
}

func (b *backends) connectCache(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	err := retryWithBackoff(func() error {
		b.redis = database.NewRedis(cfg.Database.Redis)
		if err := b.redis.Ping(ctx); err != nil {
			b.redis.Close()
			return err
		}
		return nil
	}, 10, 2*time.Second, log, "Redis connection")
	if err != nil {
		b.redis = nil
		return err
	}

	ttl := config.GetDuration(cfg.Cache.TTL)
	localTTL := config.GetDuration(cfg.Cache.LocalTTL)
	local, err := cache.NewLocalCache(cfg.Cache.LocalSize, localTTL)
	if err != nil {
		return err
	}
	tiered := cache.NewTiered(local, cache.NewRedisCache(b.redis.Client, cfg.Cache.KeyPrefix, ttl), logger.NewZapAdapter(log))

	followCtx, stop := context.WithCancel(context.Background())
	if err := tiered.Follow(followCtx); err != nil {
		stop()
		return fmt.Errorf("subscribe to cache invalidations: %w", err)
	}
	b.stopFollow = stop
	b.cache = tiered
	log.Info("Redis connected successfully", zap.Duration("ttl", ttl), zap.Duration("localTTL", localTTL))
	return nil
}

// readinessChecks returns one probe per connected backend.
func (b *backends) readinessChecks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{}
	if b.es != nil {
		checks["elasticsearch"] = b.es.Ping
	}
	if b.pg != nil {
		checks["postgres"] = b.pg.Ping
	}
	if b.redis != nil {
		checks["redis"] = b.redis.Ping
	}
	return checks
}

func (b *backends) Close() {
	if b.stopFollow != nil {
		b.stopFollow()
	}
	if b.pg != nil {
		b.pg.Close()
	}
	if b.redis != nil {
		b.redis.Close()
	}
}
