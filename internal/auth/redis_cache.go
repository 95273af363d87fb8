package auth

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisCache is a Cache backed by Redis, suitable for sharing introspection
// results across multiple server instances.
type RedisCache struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisCache creates a Redis-backed introspection Cache.
func NewRedisCache(rdb *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "mcpcore:introspect:"
	}
	return &RedisCache{rdb: rdb, prefix: prefix}
}

func (c *RedisCache) key(tokenHash string) string { return c.prefix + tokenHash }

func (c *RedisCache) Get(ctx context.Context, tokenHash string) (*Introspection, error) {
	raw, err := c.rdb.Get(ctx, c.key(tokenHash)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}
	g := &Introspection{}
	if err := json.Unmarshal(raw, g); err != nil {
		return nil, err
	}
	if g.expired(time.Now()) {
		_ = c.Revoke(ctx, tokenHash)
		return nil, ErrNotFound
	}
	return g, nil
}

func (c *RedisCache) Put(ctx context.Context, result *Introspection, ttl time.Duration) error {
	now := time.Now()
	dup := *result
	dup.CreatedAt = now
	if ttl > 0 {
		dup.ExpiresAt = now.Add(ttl)
	}
	data, err := json.Marshal(&dup)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key(dup.TokenHash), data, ttl).Err()
}

func (c *RedisCache) Revoke(ctx context.Context, tokenHash string) error {
	return c.rdb.Del(ctx, c.key(tokenHash)).Err()
}
