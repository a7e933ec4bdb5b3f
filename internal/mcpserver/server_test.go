package mcpserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/memento-ai/memento/internal/inject"
	"github.com/memento-ai/memento/internal/model"
	"github.com/memento-ai/memento/internal/ranking"
	registrystore "github.com/memento-ai/memento/internal/registry/store"
	"github.com/memento-ai/memento/internal/retrieval"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"
)

// fakeStore implements registrystore.Store by embedding the (nil) interface
// and overriding only what the tool handlers exercise, the same pattern
// internal/forget's fakeStore uses.
type fakeStore struct {
	registrystore.Store

	created  []model.Memory
	byID     map[uuid.UUID]*model.Memory
	pinned   map[uuid.UUID]bool
	softDel  []uuid.UUID
	hardDel  []uuid.UUID
	counters map[uuid.UUID]int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byID:     make(map[uuid.UUID]*model.Memory),
		pinned:   make(map[uuid.UUID]bool),
		counters: make(map[uuid.UUID]int64),
	}
}

func (f *fakeStore) CreateMemory(ctx context.Context, m *model.Memory) error {
	f.created = append(f.created, *m)
	cp := *m
	f.byID[m.ID] = &cp
	return nil
}

func (f *fakeStore) GetMemory(ctx context.Context, id uuid.UUID) (*model.Memory, error) {
	m, ok := f.byID[id]
	if !ok {
		return nil, &notFoundError{id: id}
	}
	cp := *m
	cp.Pinned = f.pinned[id]
	return &cp, nil
}

func (f *fakeStore) SetPinned(ctx context.Context, id uuid.UUID, pinned bool) error {
	f.pinned[id] = pinned
	if m, ok := f.byID[id]; ok {
		m.Pinned = pinned
	}
	return nil
}

func (f *fakeStore) SoftDelete(ctx context.Context, id uuid.UUID) error {
	f.softDel = append(f.softDel, id)
	return nil
}

func (f *fakeStore) HardDelete(ctx context.Context, id uuid.UUID) error {
	f.hardDel = append(f.hardDel, id)
	return nil
}

func (f *fakeStore) IncrementCounter(ctx context.Context, id uuid.UUID, field string, delta int64) error {
	f.counters[id] += delta
	return nil
}

type notFoundError struct{ id uuid.UUID }

func (e *notFoundError) Error() string { return "memory not found: " + e.id.String() }

type fakeRetriever struct {
	hits []retrieval.Hit
}

func (f *fakeRetriever) Query(ctx context.Context, queryText string, filter registrystore.Filter, limit int) ([]retrieval.Hit, error) {
	if limit < len(f.hits) {
		return f.hits[:limit], nil
	}
	return f.hits, nil
}

type fakeInjector struct {
	result inject.Result
}

func (f *fakeInjector) Inject(ctx context.Context, req inject.Request) (inject.Result, error) {
	return f.result, nil
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return tc.Text
}

func TestHandleStoreRejectsEmptyContent(t *testing.T) {
	s := &Server{store: newFakeStore()}
	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]any{}

	res, err := s.handleStore(context.Background(), req)
	require.NoError(t, err)
	require.True(t, res.IsError)
}

func TestHandleStoreRejectsInvalidType(t *testing.T) {
	s := &Server{store: newFakeStore()}
	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]any{"content": "hello", "type": "bogus"}

	res, err := s.handleStore(context.Background(), req)
	require.NoError(t, err)
	require.True(t, res.IsError)
}

func TestHandleStoreCreatesMemoryWithDefaults(t *testing.T) {
	store := newFakeStore()
	s := &Server{store: store}
	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]any{"content": "remember this"}

	res, err := s.handleStore(context.Background(), req)
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.Len(t, store.created, 1)
	require.Equal(t, model.TypeEpisodic, store.created[0].Type)
	require.Equal(t, model.PrivacyPrivate, store.created[0].PrivacyScope)
	require.Equal(t, 0.5, store.created[0].Importance)

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(textOf(t, res)), &body))
	require.Contains(t, body, "memory_id")
}

func TestHandleSearchReturnsItems(t *testing.T) {
	id := uuid.New()
	hit := retrieval.Hit{
		Memory:   model.Memory{ID: id, Type: model.TypeSemantic, Content: "a fact"},
		Score:    0.8,
		Features: ranking.Features{Relevance: 0.9, Recency: 0.1, Importance: 0.2, Usage: 0.1},
	}
	s := &Server{store: newFakeStore(), retrieval: &fakeRetriever{hits: []retrieval.Hit{hit}}}
	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]any{"query": "fact"}

	res, err := s.handleSearch(context.Background(), req)
	require.NoError(t, err)
	require.False(t, res.IsError)

	var body struct {
		Items      []map[string]any `json:"items"`
		TotalCount int               `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal([]byte(textOf(t, res)), &body))
	require.Equal(t, 1, body.TotalCount)
	require.Equal(t, "a fact", body.Items[0]["content"])
}

func TestHandlePinIsIdempotent(t *testing.T) {
	id := uuid.New()
	store := newFakeStore()
	store.byID[id] = &model.Memory{ID: id}
	s := &Server{store: store}
	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]any{"id": id.String()}

	res, err := s.handlePin(context.Background(), req)
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.True(t, store.pinned[id])

	res, err = s.handlePin(context.Background(), req)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(textOf(t, res)), &body))
	require.Equal(t, true, body["already_pinned"])
}

func TestHandleForgetDispatchesSoftByDefault(t *testing.T) {
	id := uuid.New()
	store := newFakeStore()
	s := &Server{store: store}
	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]any{"id": id.String()}

	res, err := s.handleForget(context.Background(), req)
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.Contains(t, store.softDel, id)
	require.Empty(t, store.hardDel)
}

func TestHandleForgetDispatchesHardWhenRequested(t *testing.T) {
	id := uuid.New()
	store := newFakeStore()
	s := &Server{store: store}
	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]any{"id": id.String(), "hard": true}

	res, err := s.handleForget(context.Background(), req)
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.Contains(t, store.hardDel, id)
	require.Empty(t, store.softDel)
}

func TestHandleInjectPromptRequiresQuery(t *testing.T) {
	s := &Server{injector: &fakeInjector{}}
	req := mcp.GetPromptRequest{}
	req.Params.Arguments = map[string]string{}

	_, err := s.handleInjectPrompt(context.Background(), req)
	require.Error(t, err)
}

func TestHandleInjectPromptFormatsResult(t *testing.T) {
	s := &Server{injector: &fakeInjector{result: inject.Result{
		Text: "## Memory Context\n\nsomething", MemoriesUsed: 1, TokenEstimate: 42,
	}}}
	req := mcp.GetPromptRequest{}
	req.Params.Arguments = map[string]string{"query": "q"}

	res, err := s.handleInjectPrompt(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	tc, ok := res.Messages[0].Content.(mcp.TextContent)
	require.True(t, ok)
	require.Contains(t, tc.Text, "something")
}

func TestFilterHitsAppliesImportanceAndTags(t *testing.T) {
	low := retrieval.Hit{Memory: model.Memory{Importance: 0.1, Tags: []string{"x"}}}
	high := retrieval.Hit{Memory: model.Memory{Importance: 0.9, Tags: []string{"y"}}}

	out := filterHits([]retrieval.Hit{low, high}, []string{"y"}, 0.5)
	require.Len(t, out, 1)
	require.Equal(t, 0.9, out[0].Memory.Importance)
}

func TestRecallReasonNamesTopFeature(t *testing.T) {
	h := retrieval.Hit{Features: ranking.Features{Relevance: 0.1, Recency: 0.9, Importance: 0.2, Usage: 0.1}}
	require.Equal(t, "recency", recallReason(h))
}
