package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/stockledger/internal/apperror"
	"go.uber.org/zap"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const redisKeyPrefix = "stockledger:lock:"

// redisBackend fails fast with ErrLockConflict when a key is taken; retrying
// is left to the caller.
type redisBackend struct {
	client *redis.Client
	script *redis.Script
	ttl    time.Duration
	log    *zap.Logger
}

func newRedisBackend(client *redis.Client, ttl time.Duration, log *zap.Logger) *redisBackend {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &redisBackend{
		client: client,
		script: redis.NewScript(lockReleaseScript),
		ttl:    ttl,
		log:    log,
	}
}

func (b *redisBackend) lock(ctx context.Context, key string) (string, error) {
	if b.client == nil {
		return "", errors.New("lock client not configured")
	}
	token := uuid.NewString()
	ok, err := b.client.SetNX(ctx, redisKeyPrefix+key, token, b.ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperror.ErrLockConflict.With("%s is held by another writer", key)
	}
	return token, nil
}

func (b *redisBackend) unlock(ctx context.Context, key, token string) {
	if b.client == nil || token == "" {
		return
	}
	if err := b.script.Run(ctx, b.client, []string{redisKeyPrefix + key}, token).Err(); err != nil && b.log != nil {
		b.log.Warn("release lock failed", zap.String("key", key), zap.Error(err))
	}
}
