package lock

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/stockledger/internal/config"
	"github.com/smallbiznis/stockledger/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("lock",
	fx.Provide(NewLocker),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Log       *zap.Logger
	Metrics   *metrics.PostingMetrics `optional:"true"`
}

// NewLocker builds the configured lock backend.
func NewLocker(p Params) Locker {
	log := p.Log.Named("lock")
	if p.Config.LockBackend != config.LockBackendRedis {
		return newLocker(newLocalBackend(), p.Metrics)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     p.Config.RedisAddr,
		Password: p.Config.RedisPassword,
		DB:       p.Config.RedisDB,
	})
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	log.Info("using redis lock backend", zap.String("addr", p.Config.RedisAddr))

	ttl := time.Duration(p.Config.LockTTLSecond) * time.Second
	return newLocker(newRedisBackend(client, ttl, log), p.Metrics)
}
