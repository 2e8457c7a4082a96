package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// SessionCache stores resolved identities by credential hash. A cache
// that cannot answer reports a miss.
type SessionCache interface {
	Get(ctx context.Context, key string) (*Identity, bool)
	Set(ctx context.Context, key string, id *Identity)
}

// RedisCache is a SessionCache backed by Redis. Errors are logged and
// otherwise ignored so an unavailable cache only costs a Gateway call.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisCache connects to the Redis server at url (redis://host:port/db).
func NewRedisCache(url string, ttl time.Duration, logger zerolog.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	return NewRedisCacheWithClient(redis.NewClient(opts), ttl, logger), nil
}

func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, logger: logger.With().Str("component", "session_cache").Logger()}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*Identity, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("session cache read failed")
		return nil, false
	}
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil || id.UserID == "" {
		c.logger.Warn().Err(err).Msg("discarding malformed session cache entry")
		return nil, false
	}
	return &id, true
}

func (c *RedisCache) Set(ctx context.Context, key string, id *Identity) {
	data, err := json.Marshal(id)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("session cache write failed")
	}
}

// Ping checks the connection at start-up.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
