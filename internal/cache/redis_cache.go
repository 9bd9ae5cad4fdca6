// Package cache keeps computed query results in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisCache stores JSON encoded values under a shared key prefix
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisClient creates a Redis client and checks the connection
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return client, nil
}

// NewRedisCache creates a cache over an existing client
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
	}
}

func (c *RedisCache) key(k string) string {
	return c.prefix + ":" + k
}

// Get decodes the cached value for key into dst. It reports false on a miss.
func (c *RedisCache) Get(ctx context.Context, key string, dst interface{}) (bool, error) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		c.logger.Error("Failed to read cache", zap.Error(err), zap.String("cache_key", c.key(key)))
		return false, err
	}

	if err := json.Unmarshal(data, dst); err != nil {
		c.logger.Warn("Discarding undecodable cache entry", zap.Error(err), zap.String("cache_key", c.key(key)))
		return false, nil
	}

	c.logger.Debug("Cache hit", zap.String("cache_key", c.key(key)))
	return true, nil
}

// Set stores value under key with the cache TTL
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	if err := c.client.Set(ctx, c.key(key), data, c.ttl).Err(); err != nil {
		c.logger.Error("Failed to set cache", zap.Error(err), zap.String("cache_key", c.key(key)))
		return err
	}

	return nil
}

// Invalidate removes every key under the cache prefix
func (c *RedisCache) Invalidate(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+":*", 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.Error("Failed to scan cache keys", zap.Error(err))
		return err
	}

	if len(keys) == 0 {
		return nil
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Error("Failed to flush cache", zap.Error(err))
		return err
	}

	c.logger.Debug("Cache flushed", zap.Int("keys", len(keys)))
	return nil
}

// Nop is a cache that never stores anything
type Nop struct{}

func (Nop) Get(context.Context, string, interface{}) (bool, error) { return false, nil }
func (Nop) Set(context.Context, string, interface{}) error         { return nil }
func (Nop) Invalidate(context.Context) error                       { return nil }
