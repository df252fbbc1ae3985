package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"mindlink/pkg/types"
)

// Cache is the hot layer in front of the session_metrics table.
type Cache interface {
	Get(ctx context.Context, sessionID string) (*types.SessionMetrics, error)
	Set(ctx context.Context, metrics *types.SessionMetrics) error
	Close() error
}

// NoopCache always misses. Used when Redis is not configured.
type NoopCache struct{}

func (NoopCache) Get(ctx context.Context, sessionID string) (*types.SessionMetrics, error) {
	return nil, ErrCacheMiss
}

func (NoopCache) Set(ctx context.Context, metrics *types.SessionMetrics) error { return nil }

func (NoopCache) Close() error { return nil }

// RedisCache stores metrics as JSON under mindlink:metrics:<session>.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache stores aggregates for ttl; zero ttl keeps them until overwritten.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func metricsKey(sessionID string) string {
	return "mindlink:metrics:" + sessionID
}

func (c *RedisCache) Get(ctx context.Context, sessionID string) (*types.SessionMetrics, error) {
	value, err := c.client.Get(ctx, metricsKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var metrics types.SessionMetrics
	if err := json.Unmarshal(value, &metrics); err != nil {
		return nil, fmt.Errorf("decode cached metrics: %w", err)
	}
	return &metrics, nil
}

func (c *RedisCache) Set(ctx context.Context, metrics *types.SessionMetrics) error {
	data, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	return c.client.Set(ctx, metricsKey(metrics.SessionID), data, c.ttl).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
