// Package embedding wires the embedding-provider registry into a single
// Service: preprocessing, provider fallback (hosted-primary →
// hosted-secondary → local), and a cache lookup keyed by content
// fingerprint, per spec.md §4.2/§4.3.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/memento-ai/memento/internal/config"
	"github.com/memento-ai/memento/internal/metrics"
	registrycache "github.com/memento-ai/memento/internal/registry/cache"
	registryembed "github.com/memento-ai/memento/internal/registry/embed"
)

const maxInputChars = 32000 // ≈8000 tokens at 4 chars/token, a generous ceiling

// Service is the embedding engine's single entry point: Normalize feeds
// EmbedText, which tries providers in fallback order and caches the result.
type Service struct {
	order    []string
	embedder map[string]registryembed.Embedder
	cache    registrycache.EmbeddingCache
	cacheTTL time.Duration
}

// New loads the configured provider chain (primary, secondary, local — local
// is always appended last since it's always available) and wraps the given
// cache, which may be nil to disable caching.
func New(ctx context.Context, cfg *config.Config, cache registrycache.EmbeddingCache) (*Service, error) {
	order := providerOrder(cfg.Embedding.Provider)
	embedders := make(map[string]registryembed.Embedder, len(order))
	for _, name := range order {
		loader, err := registryembed.Select(name)
		if err != nil {
			log.Error("embedding: provider not registered", "provider", name, "err", err)
			continue
		}
		e, err := loader(ctx)
		if err != nil {
			log.Error("embedding: provider failed to load", "provider", name, "err", err)
			continue
		}
		embedders[name] = e
	}
	return &Service{
		order:    order,
		embedder: embedders,
		cache:    cache,
		cacheTTL: cfg.Cache.TTL,
	}, nil
}

// providerOrder puts the configured provider first, falls through the
// other hosted provider, and always ends on "local" since it is the one
// provider that can never be unavailable.
func providerOrder(configured string) []string {
	if configured == "local" {
		return []string{"local"}
	}
	all := []string{"hosted_primary", "hosted_secondary", "local"}
	order := make([]string, 0, len(all))
	seen := map[string]bool{}
	if configured != "" {
		order = append(order, configured)
		seen[configured] = true
	}
	for _, name := range all {
		if !seen[name] {
			order = append(order, name)
			seen[name] = true
		}
	}
	return order
}

// Normalize trims, collapses internal whitespace, and truncates to an
// approximate token budget (≈4 chars/token), per spec.md §4.2.
func Normalize(text string) string {
	fields := strings.Fields(text)
	joined := strings.Join(fields, " ")
	if r := []rune(joined); len(r) > maxInputChars {
		joined = string(r[:maxInputChars])
	}
	return joined
}

// Fingerprint returns the cache key for a piece of normalized text.
func Fingerprint(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Result carries the embedding vector along with which model produced it.
type Result struct {
	Vector []float32
	Model  string
}

// EmbedText embeds a single string, consulting the cache first and walking
// the provider fallback chain on a miss or provider failure.
func (s *Service) EmbedText(ctx context.Context, text string) (Result, error) {
	results, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return Result{}, err
	}
	return results[0], nil
}

// EmbedBatch embeds many texts in one round-trip per provider attempt.
// Texts are normalized before fingerprinting and embedding.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([]Result, error) {
	normalized := make([]string, len(texts))
	fingerprints := make([]string, len(texts))
	results := make([]Result, len(texts))
	pending := make([]int, 0, len(texts))

	for i, t := range texts {
		normalized[i] = Normalize(t)
		fingerprints[i] = Fingerprint(normalized[i])
		if s.cache != nil && s.cache.Available() {
			if cached, err := s.cache.Get(ctx, fingerprints[i]); err == nil && cached != nil {
				if metrics.EmbeddingCacheHitsTotal != nil {
					metrics.EmbeddingCacheHitsTotal.Inc()
				}
				results[i] = Result{Vector: cached.Vector, Model: cached.Model}
				continue
			}
			if metrics.EmbeddingCacheMissesTotal != nil {
				metrics.EmbeddingCacheMissesTotal.Inc()
			}
		}
		pending = append(pending, i)
	}

	if len(pending) == 0 {
		return results, nil
	}

	pendingTexts := make([]string, len(pending))
	for j, i := range pending {
		pendingTexts[j] = normalized[i]
	}

	vectors, model, err := s.embedWithFallback(ctx, pendingTexts)
	if err != nil {
		return nil, err
	}

	for j, i := range pending {
		results[i] = Result{Vector: vectors[j], Model: model}
		if s.cache != nil && s.cache.Available() {
			_ = s.cache.Set(ctx, fingerprints[i], registrycache.CachedEmbedding{
				Vector: vectors[j],
				Model:  model,
			}, s.cacheTTL)
		}
	}
	return results, nil
}

func (s *Service) embedWithFallback(ctx context.Context, texts []string) ([][]float32, string, error) {
	var lastErr error
	for _, name := range s.order {
		e, ok := s.embedder[name]
		if !ok {
			continue
		}
		vectors, err := e.EmbedTexts(ctx, texts)
		if err == nil {
			return vectors, e.ModelName(), nil
		}
		log.Error("embedding: provider failed, falling back", "provider", name, "err", err)
		lastErr = err
	}
	return nil, "", lastErr
}
