package joblock

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/lifecycle/internal/clock"
	"github.com/smallbiznis/lifecycle/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("joblock",
	fx.Provide(NewFromConfig),
)

// NewFromConfig returns a redis-backed locker when REDIS_ADDR is set and an
// in-process locker otherwise.
func NewFromConfig(lc fx.Lifecycle, cfg config.Config, c clock.Clock, log *zap.Logger) Locker {
	if !cfg.Redis.Enabled() {
		log.Info("redis not configured, using in-process job lock")
		return NewLocalLocker(c)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				log.Warn("redis ping failed", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return NewRedisLocker(client)
}
