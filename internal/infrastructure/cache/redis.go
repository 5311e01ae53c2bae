// Package cache provides valuation caches: a Redis-backed one shared between
// processes and an in-process TTL map for single-node deployments and tests.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"costledger/internal/core/id"
	"costledger/internal/domain/valuation"
)

const keyPrefix = "costledger:valuation:"

// Compile-time check that RedisCache implements valuation.Cache.
var _ valuation.Cache = (*RedisCache)(nil)

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: ping: %w", err)
	}

	return client, nil
}

// RedisCache keeps one hash per product; each field is one (method, asOf) valuation.
// The hash expires ttl after its last write, and invalidation deletes it whole.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache instantiates the cache.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func productKey(productID id.ID) string {
	return keyPrefix + productID.String()
}

// Get implements valuation.Cache.
func (c *RedisCache) Get(ctx context.Context, key valuation.CacheKey) (valuation.Valuation, bool, error) {
	payload, err := c.client.HGet(ctx, productKey(key.ProductID), key.Field()).Bytes()
	if errors.Is(err, redis.Nil) {
		return valuation.Valuation{}, false, nil
	}
	if err != nil {
		return valuation.Valuation{}, false, fmt.Errorf("cache: get: %w", err)
	}

	var v valuation.Valuation
	if err := json.Unmarshal(payload, &v); err != nil {
		return valuation.Valuation{}, false, fmt.Errorf("cache: decode: %w", err)
	}
	return v, true, nil
}

// Set implements valuation.Cache.
func (c *RedisCache) Set(ctx context.Context, key valuation.CacheKey, v valuation.Valuation) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: encode: %w", err)
	}

	k := productKey(key.ProductID)
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, k, key.Field(), raw)
	pipe.Expire(ctx, k, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache: set: %w", err)
	}
	return nil
}

// InvalidateProduct implements valuation.Cache.
func (c *RedisCache) InvalidateProduct(ctx context.Context, productID id.ID) error {
	if err := c.client.Del(ctx, productKey(productID)).Err(); err != nil {
		return fmt.Errorf("cache: invalidate: %w", err)
	}
	return nil
}
