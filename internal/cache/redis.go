package cache

import (
	"context"

	"billbook-backend/internal/config"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// NewClient connects to Redis and pings it. The failed client is closed so
// callers can degrade gracefully.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "redis ping %s", cfg.Addr)
	}
	return client, nil
}
