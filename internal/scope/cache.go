package scope

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "vantage:scopepath:"

// CachedResolver layers a Redis read-through cache over another Resolver.
// Cache trouble degrades to the inner resolver; it never fails a lookup.
type CachedResolver struct {
	inner  Resolver
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedResolver instantiates the cache layer.
func NewCachedResolver(inner Resolver, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedResolver {
	return &CachedResolver{inner: inner, client: client, ttl: ttl, logger: logger}
}

type cachedPath struct {
	Nodes []cachedNode `json:"nodes"`
}

type cachedNode struct {
	Level string `json:"level"`
	ID    string `json:"id,omitempty"`
}

// Ancestors implements Resolver.
func (c *CachedResolver) Ancestors(ctx context.Context, ref Ref) (Path, error) {
	if c.client == nil {
		return c.inner.Ancestors(ctx, ref)
	}
	key := cacheKeyPrefix + ref.String()
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		if path, decodeErr := decodePath(raw); decodeErr == nil {
			return path, nil
		}
		// Stale or corrupt entry; fall through and overwrite.
	} else if !errors.Is(err, redis.Nil) && c.logger != nil {
		c.logger.Warn("scope cache read", slog.String("key", key), slog.Any("error", err))
	}

	path, err := c.inner.Ancestors(ctx, ref)
	if err != nil {
		return nil, err
	}
	if raw, err := encodePath(path); err == nil {
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil && c.logger != nil {
			c.logger.Warn("scope cache write", slog.String("key", key), slog.Any("error", err))
		}
	}
	return path, nil
}

func encodePath(path Path) ([]byte, error) {
	payload := cachedPath{Nodes: make([]cachedNode, 0, len(path))}
	for _, node := range path {
		payload.Nodes = append(payload.Nodes, cachedNode{Level: string(node.Level), ID: node.ID})
	}
	return json.Marshal(payload)
}

func decodePath(raw []byte) (Path, error) {
	var payload cachedPath
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	path := make(Path, 0, len(payload.Nodes))
	for _, node := range payload.Nodes {
		level, err := ParseLevel(node.Level)
		if err != nil {
			return nil, err
		}
		path = append(path, Ref{Level: level, ID: node.ID})
	}
	if err := path.Validate(); err != nil {
		return nil, err
	}
	return path, nil
}
