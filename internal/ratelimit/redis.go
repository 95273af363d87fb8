package ratelimit

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisLimiter implements the same sliding-window semantics as MemoryLimiter
// but shares state across replicas using a Redis sorted set per key, scored
// by request timestamp.
type RedisLimiter struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisLimiter creates a Redis-backed sliding-window limiter.
func NewRedisLimiter(rdb *redis.Client, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "mcpcore:ratelimit:"
	}
	return &RedisLimiter{rdb: rdb, prefix: prefix}
}

func (l *RedisLimiter) key(k string) string { return l.prefix + k }

func (l *RedisLimiter) Allow(ctx context.Context, key string, cfg Config) (Result, error) {
	if cfg.MaxRequests <= 0 {
		return Result{Allowed: true}, nil
	}
	now := time.Now()
	cutoff := now.Add(-cfg.WindowDuration)
	redisKey := l.key(key)

	pipe := l.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", fmt.Sprintf("%d", cutoff.UnixNano()))
	card := pipe.ZCard(ctx, redisKey)
	oldest := pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, err
	}

	if int(card.Val()) >= cfg.MaxRequests {
		retryAfter := cfg.WindowDuration
		if scores := oldest.Val(); len(scores) == 1 {
			oldestAt := time.Unix(0, int64(scores[0].Score))
			retryAfter = oldestAt.Add(cfg.WindowDuration).Sub(now)
		}
		return Result{Allowed: false, RetryAfter: retryAfter}, nil
	}

	member := fmt.Sprintf("%d-%d", now.UnixNano(), now.Nanosecond())
	addPipe := l.rdb.TxPipeline()
	addPipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	addPipe.Expire(ctx, redisKey, cfg.WindowDuration)
	if _, err := addPipe.Exec(ctx); err != nil {
		return Result{}, err
	}
	return Result{Allowed: true}, nil
}

func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	return l.rdb.Del(ctx, l.key(key)).Err()
}

var _ Limiter = (*RedisLimiter)(nil)
