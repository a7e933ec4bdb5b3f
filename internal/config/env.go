package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyFromEnv overlays environment variables onto cfg, following the
// MEMENTO_<SECTION>_<NAME> naming convention. Unset variables leave the
// existing value untouched.
func (c *Config) ApplyFromEnv() error {
	if c == nil {
		return nil
	}

	applyStringEnv("MEMENTO_EMBEDDING_PROVIDER", &c.Embedding.Provider)
	if err := applyIntEnv("MEMENTO_EMBEDDING_TIMEOUT_MS", &c.Embedding.TimeoutMS); err != nil {
		return err
	}
	if err := applyIntEnv("MEMENTO_EMBEDDING_LOCAL_DIM", &c.Embedding.LocalDim); err != nil {
		return err
	}
	applyStringEnv("MEMENTO_EMBEDDING_PRIMARY_API_KEY", &c.Embedding.Primary.APIKey)
	applyStringEnv("MEMENTO_EMBEDDING_PRIMARY_BASE_URL", &c.Embedding.Primary.BaseURL)
	applyStringEnv("MEMENTO_EMBEDDING_PRIMARY_MODEL", &c.Embedding.Primary.Model)
	if err := applyIntEnv("MEMENTO_EMBEDDING_PRIMARY_DIMENSIONS", &c.Embedding.Primary.Dimensions); err != nil {
		return err
	}
	applyStringEnv("MEMENTO_EMBEDDING_SECONDARY_API_KEY", &c.Embedding.Secondary.APIKey)
	applyStringEnv("MEMENTO_EMBEDDING_SECONDARY_BASE_URL", &c.Embedding.Secondary.BaseURL)
	applyStringEnv("MEMENTO_EMBEDDING_SECONDARY_MODEL", &c.Embedding.Secondary.Model)
	if err := applyIntEnv("MEMENTO_EMBEDDING_SECONDARY_DIMENSIONS", &c.Embedding.Secondary.Dimensions); err != nil {
		return err
	}

	if err := applyFloatEnv("MEMENTO_RANKING_WEIGHTS_RELEVANCE", &c.Ranking.Relevance); err != nil {
		return err
	}
	if err := applyFloatEnv("MEMENTO_RANKING_WEIGHTS_RECENCY", &c.Ranking.Recency); err != nil {
		return err
	}
	if err := applyFloatEnv("MEMENTO_RANKING_WEIGHTS_IMPORTANCE", &c.Ranking.Importance); err != nil {
		return err
	}
	if err := applyFloatEnv("MEMENTO_RANKING_WEIGHTS_USAGE", &c.Ranking.Usage); err != nil {
		return err
	}
	if err := applyFloatEnv("MEMENTO_RANKING_WEIGHTS_DUPLICATION", &c.Ranking.Duplication); err != nil {
		return err
	}

	if err := applyFloatEnv("MEMENTO_FORGET_THRESHOLDS_SOFT", &c.Forget.Thresholds.Soft); err != nil {
		return err
	}
	if err := applyFloatEnv("MEMENTO_FORGET_THRESHOLDS_HARD", &c.Forget.Thresholds.Hard); err != nil {
		return err
	}
	if err := applyDurationEnv("MEMENTO_FORGET_TTL_SOFT_WORKING", &c.Forget.TTLSoft.Working); err != nil {
		return err
	}
	if err := applyDurationEnv("MEMENTO_FORGET_TTL_SOFT_EPISODIC", &c.Forget.TTLSoft.Episodic); err != nil {
		return err
	}
	if err := applyDurationEnv("MEMENTO_FORGET_TTL_SOFT_SEMANTIC", &c.Forget.TTLSoft.Semantic); err != nil {
		return err
	}
	if err := applyDurationEnv("MEMENTO_FORGET_TTL_SOFT_PROCEDURAL", &c.Forget.TTLSoft.Procedural); err != nil {
		return err
	}
	if err := applyDurationEnv("MEMENTO_FORGET_TTL_HARD_WORKING", &c.Forget.TTLHard.Working); err != nil {
		return err
	}
	if err := applyDurationEnv("MEMENTO_FORGET_TTL_HARD_EPISODIC", &c.Forget.TTLHard.Episodic); err != nil {
		return err
	}
	if err := applyDurationEnv("MEMENTO_FORGET_TTL_HARD_SEMANTIC", &c.Forget.TTLHard.Semantic); err != nil {
		return err
	}
	if err := applyDurationEnv("MEMENTO_FORGET_TTL_HARD_PROCEDURAL", &c.Forget.TTLHard.Procedural); err != nil {
		return err
	}
	if err := applyFloatEnv("MEMENTO_FORGET_WEIGHTS_RECENCY", &c.Forget.Weights.Recency); err != nil {
		return err
	}
	if err := applyFloatEnv("MEMENTO_FORGET_WEIGHTS_DISUSE", &c.Forget.Weights.Disuse); err != nil {
		return err
	}
	if err := applyFloatEnv("MEMENTO_FORGET_WEIGHTS_DUPLICATION", &c.Forget.Weights.Duplication); err != nil {
		return err
	}
	if err := applyFloatEnv("MEMENTO_FORGET_WEIGHTS_IMPORTANCE", &c.Forget.Weights.Importance); err != nil {
		return err
	}

	if err := applyDurationEnv("MEMENTO_SCHEDULER_INTERVALS_FORGET", &c.Scheduler.Forget); err != nil {
		return err
	}
	if err := applyDurationEnv("MEMENTO_SCHEDULER_INTERVALS_METRICS", &c.Scheduler.Metrics); err != nil {
		return err
	}
	if err := applyDurationEnv("MEMENTO_SCHEDULER_INTERVALS_CACHE", &c.Scheduler.Cache); err != nil {
		return err
	}

	if err := applyIntEnv("MEMENTO_SEARCH_TIMEOUT_MS", &c.Search.TimeoutMS); err != nil {
		return err
	}
	if err := applyFloatEnv("MEMENTO_SEARCH_VECTOR_WEIGHT", &c.Search.VectorWeight); err != nil {
		return err
	}
	if err := applyFloatEnv("MEMENTO_SEARCH_TEXT_WEIGHT", &c.Search.TextWeight); err != nil {
		return err
	}

	applyStringEnv("MEMENTO_CACHE_BACKEND", &c.Cache.Backend)
	if err := applyIntEnv("MEMENTO_CACHE_MAX_SIZE", &c.Cache.MaxSize); err != nil {
		return err
	}
	if err := applyDurationEnv("MEMENTO_CACHE_TTL_MS", &c.Cache.TTL); err != nil {
		return err
	}
	applyStringEnv("MEMENTO_CACHE_REDIS_URL", &c.Cache.RedisURL)

	applyStringEnv("MEMENTO_STORE_BACKEND", &c.Store.Backend)
	applyStringEnv("MEMENTO_STORE_DSN", &c.Store.DSN)
	applyStringEnv("MEMENTO_STORE_VECTOR_BACKEND", &c.Store.VectorBackend)
	if err := applyIntEnv("MEMENTO_STORE_MAX_OPEN_CONNS", &c.Store.MaxOpenConns); err != nil {
		return err
	}
	if err := applyIntEnv("MEMENTO_STORE_MAX_IDLE_CONNS", &c.Store.MaxIdleConns); err != nil {
		return err
	}
	applyStringEnv("MEMENTO_STORE_QDRANT_HOST", &c.Store.QdrantHost)
	if err := applyIntEnv("MEMENTO_STORE_QDRANT_PORT", &c.Store.QdrantPort); err != nil {
		return err
	}
	applyStringEnv("MEMENTO_STORE_QDRANT_COLLECTION", &c.Store.QdrantCollection)
	if err := applyIntEnv("MEMENTO_STORE_CONTENTION_MAX_RETRIES", &c.Store.Contention.MaxRetries); err != nil {
		return err
	}
	if err := applyDurationEnv("MEMENTO_STORE_CONTENTION_INITIAL_BACKOFF_MS", &c.Store.Contention.InitialBackoff); err != nil {
		return err
	}
	if err := applyDurationEnv("MEMENTO_STORE_CONTENTION_MAX_BACKOFF_MS", &c.Store.Contention.MaxBackoff); err != nil {
		return err
	}
	applyStringEnv("MEMENTO_STORE_CHECKPOINT_S3_BUCKET", &c.Store.Checkpoint.S3Bucket)
	applyStringEnv("MEMENTO_STORE_CHECKPOINT_S3_PREFIX", &c.Store.Checkpoint.S3Prefix)

	if err := applyIntEnv("MEMENTO_INJECTION_BUDGET_TOKENS", &c.InjectionBudgetTokens); err != nil {
		return err
	}
	if err := applyIntEnv("MEMENTO_INJECTION_PER_MEMORY_TOKENS", &c.InjectionPerMemoryTokens); err != nil {
		return err
	}

	return nil
}

func applyStringEnv(key string, dest *string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	*dest = raw
}

func applyIntEnv(key string, dest *int) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = v
	return nil
}

func applyFloatEnv(key string, dest *float64) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = v
	return nil
}

// applyDurationEnv accepts either a Go duration string (e.g. "30s") or a bare
// integer, which is interpreted as milliseconds to match the *_MS naming
// of the cache-TTL and contention-backoff duration keys.
func applyDurationEnv(key string, dest *time.Duration) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		*dest = d
		return nil
	}
	ms, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = time.Duration(ms) * time.Millisecond
	return nil
}
