// Package cache keeps scope listings in Redis so repeated list calls skip the
// database.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"linkdeck/internal/collection"
)

// RedisCache stores the ordered items of a scope as one JSON value.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisCacheWithClient(client, ttl), nil
}

func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{client: client, prefix: "linkdeck:scope:", ttl: ttl}
}

func (c *RedisCache) key(scope collection.Scope) string {
	return c.prefix + scope.Kind + ":" + scope.Key
}

// Get returns the cached listing of scope. A miss is (nil, false, nil).
func (c *RedisCache) Get(ctx context.Context, scope collection.Scope) ([]collection.Item, bool, error) {
	raw, err := c.client.Get(ctx, c.key(scope)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cached scope: %w", err)
	}
	var items []collection.Item
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false, fmt.Errorf("decode cached scope: %w", err)
	}
	return items, true, nil
}

func (c *RedisCache) Set(ctx context.Context, scope collection.Scope, items []collection.Item) error {
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode scope: %w", err)
	}
	if err := c.client.Set(ctx, c.key(scope), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache scope: %w", err)
	}
	return nil
}

// Invalidate drops the listings of the given scopes.
func (c *RedisCache) Invalidate(ctx context.Context, scopes ...collection.Scope) error {
	if len(scopes) == 0 {
		return nil
	}
	keys := make([]string, len(scopes))
	for i, scope := range scopes {
		keys[i] = c.key(scope)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate scope: %w", err)
	}
	return nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
