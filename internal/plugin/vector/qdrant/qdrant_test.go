package qdrant

import (
	"context"
	"testing"

	registryvector "github.com/memento-ai/memento/internal/registry/vector"
	"github.com/memento-ai/memento/internal/testutil/testqdrant"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	addr := testqdrant.StartQdrant(t)
	s, err := dial(addr, "memento-test")
	require.NoError(t, err)
	return s
}

func TestUpsertAndSearchReturnsNearestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	idA, idB := uuid.New(), uuid.New()
	require.NoError(t, s.Upsert(ctx, []registryvector.UpsertRequest{
		{MemoryID: idA, Embedding: []float32{1, 0, 0}, ModelName: "test"},
		{MemoryID: idB, Embedding: []float32{0, 1, 0}, ModelName: "test"},
	}))

	results, err := s.Search(ctx, []float32{1, 0, 0}, nil, 2)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, idA, results[0].MemoryID)
}

func TestSearchHonorsMemoryIDFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	idA, idB := uuid.New(), uuid.New()
	require.NoError(t, s.Upsert(ctx, []registryvector.UpsertRequest{
		{MemoryID: idA, Embedding: []float32{1, 0, 0}, ModelName: "test"},
		{MemoryID: idB, Embedding: []float32{0, 1, 0}, ModelName: "test"},
	}))

	results, err := s.Search(ctx, []float32{1, 0, 0}, []uuid.UUID{idB}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, idB, results[0].MemoryID)
}

func TestDeleteRemovesPoint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := uuid.New()
	require.NoError(t, s.Upsert(ctx, []registryvector.UpsertRequest{{MemoryID: id, Embedding: []float32{1, 2, 3}, ModelName: "test"}}))
	require.NoError(t, s.Delete(ctx, []uuid.UUID{id}))

	results, err := s.Search(ctx, []float32{1, 2, 3}, nil, 10)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestDisabledStoreIsNoop(t *testing.T) {
	s := &Store{enabled: false}
	require.NoError(t, s.Upsert(context.Background(), []registryvector.UpsertRequest{{MemoryID: uuid.New(), Embedding: []float32{1}}}))
	results, err := s.Search(context.Background(), []float32{1}, nil, 10)
	require.NoError(t, err)
	require.Nil(t, results)
}
