// Package cache provides a Redis read-through cache for the profile lookups the
// relay makes on every delivered message.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cory-johannsen/chatrelay/internal/chat"
	"github.com/cory-johannsen/chatrelay/internal/config"
	"github.com/cory-johannsen/chatrelay/internal/relay"
)

const keyPrefix = "relay:"

// NewClient creates a Redis client from cfg and verifies it is reachable.
//
// Precondition: cfg.Addr must be non-empty.
// Postcondition: Returns a connected client or a non-nil error.
func NewClient(ctx context.Context, cfg config.CacheConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// ProfileCache decorates a relay.Gateway, caching GetUser and GetStoreItemByID
// as JSON with a fixed TTL. Block checks and writes always reach the upstream.
// Redis failures degrade to upstream reads.
type ProfileCache struct {
	relay.Gateway
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewProfileCache wraps upstream.
//
// Precondition: upstream, rdb, and logger must be non-nil; ttl must be positive.
func NewProfileCache(upstream relay.Gateway, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *ProfileCache {
	return &ProfileCache{Gateway: upstream, rdb: rdb, ttl: ttl, logger: logger}
}

func keyUser(id string) string { return keyPrefix + "user:" + strings.TrimSpace(id) }
func keyItem(id string) string { return keyPrefix + "item:" + strings.TrimSpace(id) }

// GetUser implements relay.Gateway.
func (c *ProfileCache) GetUser(ctx context.Context, id string) (chat.User, error) {
	return readThrough(ctx, c, keyUser(id), func(ctx context.Context) (chat.User, error) {
		return c.Gateway.GetUser(ctx, id)
	})
}

// GetStoreItemByID implements relay.Gateway.
func (c *ProfileCache) GetStoreItemByID(ctx context.Context, id string) (chat.StoreItem, error) {
	return readThrough(ctx, c, keyItem(id), func(ctx context.Context) (chat.StoreItem, error) {
		return c.Gateway.GetStoreItemByID(ctx, id)
	})
}

// InvalidateUser drops the cached user so the next lookup reaches the upstream.
func (c *ProfileCache) InvalidateUser(ctx context.Context, id string) error {
	if err := c.rdb.Del(ctx, keyUser(id)).Err(); err != nil {
		return fmt.Errorf("invalidating user %s: %w", id, err)
	}
	return nil
}

// InvalidateStoreItem drops the cached store item.
func (c *ProfileCache) InvalidateStoreItem(ctx context.Context, id string) error {
	if err := c.rdb.Del(ctx, keyItem(id)).Err(); err != nil {
		return fmt.Errorf("invalidating store item %s: %w", id, err)
	}
	return nil
}

func readThrough[T any](ctx context.Context, c *ProfileCache, key string, load func(context.Context) (T, error)) (T, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
		c.logger.Warn("discarding undecodable cache entry", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	}

	v, err := load(ctx)
	if err != nil {
		return v, err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return v, nil
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
	return v, nil
}
