package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Sane(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "local", cfg.Embedding.Provider)
	require.Equal(t, 512, cfg.Embedding.LocalDim)
	require.Equal(t, "sqlite", cfg.Store.Backend)
	require.InDelta(t, 1.0, cfg.Ranking.Relevance+cfg.Ranking.Recency+cfg.Ranking.Importance+cfg.Ranking.Usage, 1e-9)
	require.Less(t, cfg.Forget.Thresholds.Soft, cfg.Forget.Thresholds.Hard)
	require.Less(t, cfg.Forget.TTLSoft.Working, cfg.Forget.TTLHard.Working)
}

func TestWithContextFromContext(t *testing.T) {
	cfg := DefaultConfig()
	ctx := WithContext(context.Background(), &cfg)
	got := FromContext(ctx)
	require.NotNil(t, got)
	require.Equal(t, cfg.Store.Backend, got.Store.Backend)
}

func TestFromContext_Unset(t *testing.T) {
	require.Nil(t, FromContext(context.Background()))
}
