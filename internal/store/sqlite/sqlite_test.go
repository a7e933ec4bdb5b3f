package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/memento-ai/memento/internal/config"
	"github.com/memento-ai/memento/internal/model"
	registrystore "github.com/memento-ai/memento/internal/registry/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memento.db")
	s, err := Open(path, config.ContentionConfig{}, config.CheckpointConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newMemory(content string) *model.Memory {
	return &model.Memory{
		ID:           uuid.New(),
		Type:         model.TypeEpisodic,
		Content:      content,
		Importance:   0.5,
		PrivacyScope: model.PrivacyPrivate,
		CreatedAt:    time.Now(),
		Tags:         []string{"t1"},
	}
}

func TestCreateAndGetMemory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := newMemory("remember the release date")

	require.NoError(t, s.CreateMemory(ctx, m))

	got, err := s.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, m.Content, got.Content)
	require.Equal(t, m.Type, got.Type)
	require.Equal(t, []string{"t1"}, got.Tags)
}

func TestGetMemoryNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetMemory(context.Background(), uuid.New())
	require.Error(t, err)
}

func TestSetPinned(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := newMemory("pin me")
	require.NoError(t, s.CreateMemory(ctx, m))

	require.NoError(t, s.SetPinned(ctx, m.ID, true))
	got, err := s.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	require.True(t, got.Pinned)
}

func TestSoftDeleteResetsUsageAndUnpins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := newMemory("aging memory")
	require.NoError(t, s.CreateMemory(ctx, m))
	require.NoError(t, s.SetPinned(ctx, m.ID, true))
	require.NoError(t, s.IncrementCounter(ctx, m.ID, "view_count", 5))

	require.NoError(t, s.SoftDelete(ctx, m.ID))

	got, err := s.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	require.False(t, got.Pinned)
	require.Equal(t, int64(0), got.ViewCount)
}

func TestHardDeleteRemovesRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := newMemory("forget me entirely")
	require.NoError(t, s.CreateMemory(ctx, m))

	require.NoError(t, s.HardDelete(ctx, m.ID))

	_, err := s.GetMemory(ctx, m.ID)
	require.Error(t, err)
}

func TestLexicalSearchFindsMatchingContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateMemory(ctx, newMemory("the quarterly roadmap review")))
	require.NoError(t, s.CreateMemory(ctx, newMemory("unrelated grocery list")))

	results, err := s.LexicalSearch(ctx, "roadmap", registrystore.Filter{}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Contains(t, results[0].Memory.Content, "roadmap")
}

func TestStatsCountsByTypeAndPinned(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m1 := newMemory("a")
	m2 := newMemory("b")
	m2.Type = model.TypeSemantic
	require.NoError(t, s.CreateMemory(ctx, m1))
	require.NoError(t, s.CreateMemory(ctx, m2))
	require.NoError(t, s.SetPinned(ctx, m1.ID, true))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.TotalByType[model.TypeEpisodic])
	require.Equal(t, int64(1), stats.TotalByType[model.TypeSemantic])
	require.Equal(t, int64(1), stats.Pinned)
}

func TestCheckpointWithoutArchiverIsLocalOnly(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Checkpoint(context.Background()))
}
