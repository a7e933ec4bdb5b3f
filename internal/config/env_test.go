package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestApplyFromEnv_OverridesDefaults(t *testing.T) {
	t.Setenv("MEMENTO_EMBEDDING_PROVIDER", "hosted_primary")
	t.Setenv("MEMENTO_RANKING_WEIGHTS_RELEVANCE", "0.5")
	t.Setenv("MEMENTO_FORGET_THRESHOLDS_SOFT", "0.4")
	t.Setenv("MEMENTO_SCHEDULER_INTERVALS_FORGET", "30m")
	t.Setenv("MEMENTO_STORE_BACKEND", "postgres")
	t.Setenv("MEMENTO_STORE_CONTENTION_INITIAL_BACKOFF_MS", "100")

	cfg := DefaultConfig()
	err := cfg.ApplyFromEnv()
	require.NoError(t, err)

	require.Equal(t, "hosted_primary", cfg.Embedding.Provider)
	require.Equal(t, 0.5, cfg.Ranking.Relevance)
	require.Equal(t, 0.4, cfg.Forget.Thresholds.Soft)
	require.Equal(t, 30*time.Minute, cfg.Scheduler.Forget)
	require.Equal(t, "postgres", cfg.Store.Backend)
	require.Equal(t, 100*time.Millisecond, cfg.Store.Contention.InitialBackoff)
}

func TestApplyFromEnv_InvalidIntReturnsError(t *testing.T) {
	t.Setenv("MEMENTO_CACHE_MAX_SIZE", "not-a-number")
	cfg := DefaultConfig()
	err := cfg.ApplyFromEnv()
	require.Error(t, err)
}

func TestApplyFromEnv_NilReceiverIsNoop(t *testing.T) {
	var cfg *Config
	require.NoError(t, cfg.ApplyFromEnv())
}
