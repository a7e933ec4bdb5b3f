// Package cache defines the embedding-cache backend plugin contract and
// registry. Entries are keyed by content fingerprint so identical text never
// pays the embedding-provider cost twice.
package cache

import (
	"context"
	"fmt"
	"time"
)

type embeddingCacheKey struct{}

// WithContext returns a new context carrying the given EmbeddingCache.
func WithContext(ctx context.Context, c EmbeddingCache) context.Context {
	return context.WithValue(ctx, embeddingCacheKey{}, c)
}

// FromContext retrieves the EmbeddingCache from the context, or nil if unset.
func FromContext(ctx context.Context) EmbeddingCache {
	c, _ := ctx.Value(embeddingCacheKey{}).(EmbeddingCache)
	return c
}

// CachedEmbedding holds one cached vector and the model that produced it.
type CachedEmbedding struct {
	Vector []float32
	Model  string
}

// EmbeddingCache caches embeddings by content fingerprint.
type EmbeddingCache interface {
	Available() bool
	Get(ctx context.Context, fingerprint string) (*CachedEmbedding, error)
	Set(ctx context.Context, fingerprint string, entry CachedEmbedding, ttl time.Duration) error
	Remove(ctx context.Context, fingerprint string) error

	// Sweep proactively evicts expired entries and reports how many were
	// removed. Backends with server-side TTL expiry (redis) have nothing to
	// do here; backends with lazy-on-read expiry (the in-process lru) use it
	// to reclaim map slots occupied by entries nobody has read since they
	// expired.
	Sweep(ctx context.Context) (int, error)
}

// Loader creates a cache from config.
type Loader func(ctx context.Context) (EmbeddingCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
