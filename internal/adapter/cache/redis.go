package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ConnectRedis returns a client for addr after checking it answers PING.
func ConnectRedis(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("unable to connect to redis at %s: %w", addr, err)
	}
	slog.Info("✅ Connected to Redis", "addr", addr)
	return rdb, nil
}

// RedisAttemptLimiter counts failed credential checks in Redis so every API
// replica sees the same lockout state.
type RedisAttemptLimiter struct {
	rdb    *redis.Client
	max    int64
	window time.Duration
	prefix string
}

func NewRedisAttemptLimiter(rdb *redis.Client, maxAttempts int, window time.Duration) *RedisAttemptLimiter {
	return &RedisAttemptLimiter{rdb: rdb, max: int64(maxAttempts), window: window, prefix: "cardpay:pin_failures:"}
}

func (l *RedisAttemptLimiter) key(instrumentID string) string {
	return l.prefix + instrumentID
}

func (l *RedisAttemptLimiter) Locked(ctx context.Context, instrumentID string) (bool, error) {
	n, err := l.rdb.Get(ctx, l.key(instrumentID)).Int64()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n >= l.max, nil
}

// Fail increments the counter. The window starts at the first failure.
func (l *RedisAttemptLimiter) Fail(ctx context.Context, instrumentID string) error {
	key := l.key(instrumentID)
	pipe := l.rdb.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, l.window)
	_, err := pipe.Exec(ctx)
	return err
}

func (l *RedisAttemptLimiter) Reset(ctx context.Context, instrumentID string) error {
	return l.rdb.Del(ctx, l.key(instrumentID)).Err()
}
