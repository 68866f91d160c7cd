package runtime

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/realism/config"
	"github.com/mohammad-safakhou/realism/internal/queue/streams"
	"github.com/mohammad-safakhou/realism/internal/store"
	"github.com/redis/go-redis/v9"
)

// OpenRedis connects to the configured Redis and verifies it answers.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (redis.UniversalClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  -1,
		WriteTimeout: cfg.Timeout,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr(), err)
	}
	return rdb, nil
}

// InitStore opens the Redis-backed store and the queue schema registry.
func InitStore(ctx context.Context, cfg *config.Config) (*store.Redis, *streams.SchemaRegistry, error) {
	rdb, err := OpenRedis(ctx, cfg.Storage.Redis)
	if err != nil {
		return nil, nil, err
	}
	reg, err := streams.NewDefaultRegistry()
	if err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	return store.NewRedis(rdb), reg, nil
}
