// Package lru implements the default in-process embedding cache backend: a
// bounded least-recently-used map, no external dependency required.
package lru

import (
	"context"
	"time"

	"github.com/memento-ai/memento/internal/config"
	registrycache "github.com/memento-ai/memento/internal/registry/cache"
	hashlru "github.com/hashicorp/golang-lru"
)

const defaultMaxSize = 10000

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "memory",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.EmbeddingCache, error) {
	maxSize := defaultMaxSize
	if cfg := config.FromContext(ctx); cfg != nil && cfg.Cache.MaxSize > 0 {
		maxSize = cfg.Cache.MaxSize
	}
	inner, err := hashlru.New(maxSize)
	if err != nil {
		return nil, err
	}
	return &Cache{inner: inner}, nil
}

type entry struct {
	value     registrycache.CachedEmbedding
	expiresAt time.Time
}

// Cache wraps hashicorp/golang-lru with a per-entry TTL check.
type Cache struct {
	inner *hashlru.Cache
}

func (c *Cache) Available() bool { return true }

func (c *Cache) Get(_ context.Context, fingerprint string) (*registrycache.CachedEmbedding, error) {
	v, ok := c.inner.Get(fingerprint)
	if !ok {
		return nil, nil
	}
	e := v.(entry)
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		c.inner.Remove(fingerprint)
		return nil, nil
	}
	return &e.value, nil
}

func (c *Cache) Set(_ context.Context, fingerprint string, value registrycache.CachedEmbedding, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	c.inner.Add(fingerprint, entry{value: value, expiresAt: expiresAt})
	return nil
}

func (c *Cache) Remove(_ context.Context, fingerprint string) error {
	c.inner.Remove(fingerprint)
	return nil
}

// Sweep walks every key and re-applies Get's lazy expiry check, so entries
// nobody has looked up since they expired don't sit on a cache slot until
// evicted by LRU pressure.
func (c *Cache) Sweep(ctx context.Context) (int, error) {
	purged := 0
	for _, k := range c.inner.Keys() {
		fingerprint, ok := k.(string)
		if !ok {
			continue
		}
		before := c.inner.Contains(fingerprint)
		if _, err := c.Get(ctx, fingerprint); err != nil {
			return purged, err
		}
		if before && !c.inner.Contains(fingerprint) {
			purged++
		}
	}
	return purged, nil
}

var _ registrycache.EmbeddingCache = (*Cache)(nil)
