// Package redis implements the embedding cache over a Redis-compatible
// server, for deployments that want the cache shared across process
// restarts or multiple engine instances.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/memento-ai/memento/internal/config"
	registrycache "github.com/memento-ai/memento/internal/registry/cache"
	goredis "github.com/redis/go-redis/v9"
)

const defaultTTL = 30 * time.Minute

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.EmbeddingCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.Cache.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: MEMENTO_CACHE_REDIS_URL is required")
	}
	ttl := cfg.Cache.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	opts, err := goredis.ParseURL(cfg.Cache.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	return &Cache{client: client, ttl: ttl}, nil
}

// Cache stores embeddings in Redis, keyed by content fingerprint.
type Cache struct {
	client *goredis.Client
	ttl    time.Duration
}

func key(fingerprint string) string {
	return "mem-embed:" + fingerprint
}

func (c *Cache) Available() bool { return true }

func (c *Cache) Get(ctx context.Context, fingerprint string) (*registrycache.CachedEmbedding, error) {
	data, err := c.client.Get(ctx, key(fingerprint)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cached registrycache.CachedEmbedding
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}
	return &cached, nil
}

func (c *Cache) Set(ctx context.Context, fingerprint string, entry registrycache.CachedEmbedding, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	return c.client.Set(ctx, key(fingerprint), data, ttl).Err()
}

func (c *Cache) Remove(ctx context.Context, fingerprint string) error {
	return c.client.Del(ctx, key(fingerprint)).Err()
}

// Sweep is a no-op: every key carries a server-side TTL set at Set time, so
// Redis itself reclaims expired entries without help from this process.
func (c *Cache) Sweep(ctx context.Context) (int, error) {
	return 0, nil
}

var _ registrycache.EmbeddingCache = (*Cache)(nil)
