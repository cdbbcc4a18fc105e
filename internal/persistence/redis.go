package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/integration-service/internal/config"
)

const redisConnectTimeout = 3 * time.Second

// Redis holds the client backing the shared idempotency cache.
type Redis struct {
	Client *redis.Client
}

// NewRedis builds the dedup cache client. An unreachable server is logged
// and not fatal: go-redis reconnects on use and failed cache lookups fall
// through to the partner call.
func NewRedis(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisConnectTimeout)
	defer cancel()
	fields := []zap.Field{zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB)}
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("dedup cache redis unreachable", append(fields, zap.Error(err))...)
	} else {
		logger.Info("dedup cache connected to redis", fields...)
	}

	return &Redis{Client: client}
}

// Close closes the client.
func (r *Redis) Close() {
	if r != nil && r.Client != nil {
		_ = r.Client.Close()
	}
}

// Ping reports whether the dedup cache is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return errors.New("dedup cache redis not configured")
	}
	return r.Client.Ping(ctx).Err()
}
