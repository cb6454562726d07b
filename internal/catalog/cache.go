package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	cacheKeyEntry = "vantage:capability:"
	cacheKeyList  = "vantage:capabilities:all"
)

// CachedStore layers a Redis read-through cache over another Store. The
// catalog changes rarely, so a short TTL keeps deprecation flags fresh while
// absorbing the resolve-path read load. Cache trouble degrades to the inner
// store.
type CachedStore struct {
	inner  Store
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewCachedStore instantiates the cache layer.
func NewCachedStore(inner Store, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedStore {
	return &CachedStore{inner: inner, client: client, ttl: ttl, logger: logger}
}

// Get implements Store.
func (c *CachedStore) Get(ctx context.Context, key string) (Capability, error) {
	if c.client == nil {
		return c.inner.Get(ctx, key)
	}
	cacheKey := cacheKeyEntry + key
	raw, err := c.client.Get(ctx, cacheKey).Bytes()
	if err == nil {
		var capability Capability
		if decodeErr := json.Unmarshal(raw, &capability); decodeErr == nil {
			return capability, nil
		}
	} else if !errors.Is(err, redis.Nil) && c.logger != nil {
		c.logger.Warn("catalog cache read", slog.String("key", cacheKey), slog.Any("error", err))
	}

	capability, err := c.inner.Get(ctx, key)
	if err != nil {
		return Capability{}, err
	}
	c.store(ctx, cacheKey, capability)
	return capability, nil
}

// List implements Store. Concurrent cold-cache callers are collapsed into a
// single load of the inner store.
func (c *CachedStore) List(ctx context.Context) ([]Capability, error) {
	if c.client == nil {
		return c.inner.List(ctx)
	}
	raw, err := c.client.Get(ctx, cacheKeyList).Bytes()
	if err == nil {
		var caps []Capability
		if decodeErr := json.Unmarshal(raw, &caps); decodeErr == nil {
			return caps, nil
		}
	} else if !errors.Is(err, redis.Nil) && c.logger != nil {
		c.logger.Warn("catalog cache read", slog.String("key", cacheKeyList), slog.Any("error", err))
	}

	value, err, _ := c.group.Do(cacheKeyList, func() (interface{}, error) {
		caps, err := c.inner.List(ctx)
		if err != nil {
			return nil, err
		}
		c.store(ctx, cacheKeyList, caps)
		return caps, nil
	})
	if err != nil {
		return nil, err
	}
	return value.([]Capability), nil
}

func (c *CachedStore) store(ctx context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil && c.logger != nil {
		c.logger.Warn("catalog cache write", slog.String("key", key), slog.Any("error", err))
	}
}
