package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a small string cache. Get returns "" without error on a miss.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

type redisCache struct {
	client *redis.Client
}

func NewRedis(addr string) Cache {
	return &redisCache{client: redis.NewClient(&redis.Options{Addr: addr})}
}

func (r *redisCache) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (r *redisCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *redisCache) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

type noopCache struct{}

// NewNoop returns a cache that stores nothing. Used when no Redis address
// is configured; correctness never depends on the cache.
func NewNoop() Cache {
	return noopCache{}
}

func (noopCache) Get(ctx context.Context, key string) (string, error) { return "", nil }

func (noopCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return nil
}

func (noopCache) Del(ctx context.Context, key string) error { return nil }
