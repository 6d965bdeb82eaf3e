package generator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisLocker serializes generation runs with SET NX PX. The release
// script only deletes the key when it still holds this run's token, so
// a run that outlives its TTL cannot release a successor's lock.
type RedisLocker struct {
	rdb    *redis.Client
	logger *slog.Logger
}

func NewRedisLocker(rdb *redis.Client, logger *slog.Logger) *RedisLocker {
	return &RedisLocker{rdb: rdb, logger: logger}
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context), bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func(ctx context.Context) {
		if err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Err(); err != nil && err != redis.Nil {
			l.logger.Warn("release generation lock failed", "key", key, "err", err)
		}
	}
	return release, true, nil
}
