// Package config carries Memento's runtime configuration: ranking weights,
// forgetting thresholds, scheduler intervals, and the backend selections for
// storage, embedding, and caching.
package config

import (
	"context"
	"time"
)

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context, or nil if none is set.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

// RankingWeights are the five feature weights combined by the Ranking Core.
type RankingWeights struct {
	Relevance   float64
	Recency     float64
	Importance  float64
	Usage       float64
	Duplication float64
}

// ForgetThresholds gate the soft- and hard-delete decisions.
type ForgetThresholds struct {
	Soft float64
	Hard float64
}

// ForgetTTL holds the minimum-age-before-eligible durations for one gate,
// keyed by memory type.
type ForgetTTL struct {
	Working    time.Duration
	Episodic   time.Duration
	Semantic   time.Duration
	Procedural time.Duration
}

// ForgetWeights are the feature weights combined by the forget-score formula.
type ForgetWeights struct {
	Recency     float64
	Disuse      float64
	Duplication float64
	Importance  float64
}

// SchedulerIntervals control how often each background job runs.
type SchedulerIntervals struct {
	Forget  time.Duration
	Metrics time.Duration
	Cache   time.Duration
}

// EmbeddingConfig configures the active embedding provider and its fallback.
type EmbeddingConfig struct {
	Provider   string // "hosted_primary", "hosted_secondary", or "local"
	TimeoutMS  int
	Primary    HostedProviderConfig
	Secondary  HostedProviderConfig
	LocalDim   int
}

// HostedProviderConfig configures one HTTP-based embedding provider.
type HostedProviderConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
}

// CacheConfig configures the embedding cache.
type CacheConfig struct {
	Backend string // "memory" or "redis"
	MaxSize int
	TTL     time.Duration
	RedisURL string
}

// StoreConfig configures the Persistence Gateway backend.
type StoreConfig struct {
	Backend          string // "sqlite" or "postgres"
	DSN              string
	VectorBackend    string // "embedded", "pgvector", or "qdrant"
	MaxOpenConns     int
	MaxIdleConns     int
	QdrantHost       string
	QdrantPort       int
	QdrantCollection string
	Contention       ContentionConfig
	Checkpoint       CheckpointConfig
}

// ContentionConfig tunes the backoff-and-retry policy used when a write
// loses a race against a concurrent writer.
type ContentionConfig struct {
	MaxRetries      int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
}

// CheckpointConfig controls the optional S3 archival hook on checkpoint().
type CheckpointConfig struct {
	S3Bucket string
	S3Prefix string
}

// SearchConfig tunes Hybrid Retrieval.
type SearchConfig struct {
	TimeoutMS    int
	VectorWeight float64
	TextWeight   float64
}

// ReviewMultiplier tunes the spaced-review interval multiplier formula.
type ReviewMultiplier struct {
	HelpfulGain    float64
	UnhelpfulLoss  float64
	ImportanceGain float64
	Min            float64
	Max            float64
}

// Config holds all configuration for the memory engine.
type Config struct {
	Embedding EmbeddingConfig
	Ranking   RankingWeights
	Forget    struct {
		Thresholds ForgetThresholds
		TTLSoft    ForgetTTL
		TTLHard    ForgetTTL
		Weights    ForgetWeights
		Review     ReviewMultiplier
	}
	Scheduler SchedulerIntervals
	Search    SearchConfig
	Cache     CacheConfig
	Store     StoreConfig

	// InjectionBudgetTokens bounds the total size of a context-injection
	// response; InjectionPerMemoryTokens bounds any single memory within it.
	InjectionBudgetTokens    int
	InjectionPerMemoryTokens int
}

// DefaultConfig returns a Config with sensible defaults, matching the
// thresholds and TTLs spelled out in the forgetting and ranking design.
func DefaultConfig() Config {
	cfg := Config{
		Embedding: EmbeddingConfig{
			Provider:  "local",
			TimeoutMS: 5000,
			LocalDim:  512,
			Primary: HostedProviderConfig{
				BaseURL:    "https://api.openai.com/v1",
				Model:      "text-embedding-3-small",
				Dimensions: 1536,
			},
			Secondary: HostedProviderConfig{
				BaseURL:    "https://api.voyageai.com/v1",
				Model:      "voyage-3-lite",
				Dimensions: 512,
			},
		},
		Ranking: RankingWeights{
			Relevance:   0.5,
			Recency:     0.2,
			Importance:  0.2,
			Usage:       0.1,
			Duplication: 0.15,
		},
		Scheduler: SchedulerIntervals{
			Forget:  1 * time.Hour,
			Metrics: 30 * time.Second,
			Cache:   10 * time.Minute,
		},
		Search: SearchConfig{
			TimeoutMS:    2000,
			VectorWeight: 0.6,
			TextWeight:   0.4,
		},
		Cache: CacheConfig{
			Backend: "memory",
			MaxSize: 10000,
			TTL:     30 * time.Minute,
		},
		Store: StoreConfig{
			Backend:          "sqlite",
			DSN:              "memento.db",
			VectorBackend:    "embedded",
			MaxOpenConns:     10,
			MaxIdleConns:     5,
			QdrantHost:       "localhost",
			QdrantPort:       6334,
			QdrantCollection: "memento",
			Contention: ContentionConfig{
				MaxRetries:     8,
				InitialBackoff: 50 * time.Millisecond,
				MaxBackoff:     1 * time.Second,
			},
		},
		InjectionBudgetTokens:    2000,
		InjectionPerMemoryTokens: 300,
	}
	cfg.Forget.Thresholds = ForgetThresholds{Soft: 0.35, Hard: 0.7}
	cfg.Forget.TTLSoft = ForgetTTL{
		Working:    2 * 24 * time.Hour,
		Episodic:   30 * 24 * time.Hour,
		Semantic:   180 * 24 * time.Hour,
		Procedural: 90 * 24 * time.Hour,
	}
	cfg.Forget.TTLHard = ForgetTTL{
		Working:    7 * 24 * time.Hour,
		Episodic:   180 * 24 * time.Hour,
		Semantic:   365 * 24 * time.Hour,
		Procedural: 180 * 24 * time.Hour,
	}
	cfg.Forget.Weights = ForgetWeights{
		Recency:     0.4,
		Disuse:      0.3,
		Duplication: 0.2,
		Importance:  0.1,
	}
	cfg.Forget.Review = ReviewMultiplier{
		HelpfulGain:    0.3,
		UnhelpfulLoss:  0.5,
		ImportanceGain: 0.2,
		Min:            0.5,
		Max:            2.0,
	}
	return cfg
}
