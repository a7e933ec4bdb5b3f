package inject

import (
	"context"
	"strings"
	"testing"

	"github.com/memento-ai/memento/internal/model"
	"github.com/memento-ai/memento/internal/ranking"
	registrystore "github.com/memento-ai/memento/internal/registry/store"
	"github.com/memento-ai/memento/internal/retrieval"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeRetriever struct {
	hits []retrieval.Hit
	err  error
}

func (f *fakeRetriever) Query(ctx context.Context, queryText string, filter registrystore.Filter, limit int) ([]retrieval.Hit, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.hits) {
		return f.hits[:limit], nil
	}
	return f.hits, nil
}

func memoryHit(content string, relevance, importance float64) retrieval.Hit {
	return retrieval.Hit{
		Memory: model.Memory{
			ID:         uuid.New(),
			Type:       model.TypeSemantic,
			Content:    content,
			Importance: importance,
		},
		Features: ranking.Features{Relevance: relevance, Importance: importance},
	}
}

func TestInjectEmptyResultYieldsMarker(t *testing.T) {
	inj := &Injector{retrieval: &fakeRetriever{}}
	res, err := inj.Inject(context.Background(), Request{Query: "anything"})
	require.NoError(t, err)
	require.Equal(t, noRelatedMemories, res.Text)
	require.Equal(t, 0, res.MemoriesUsed)
	require.Equal(t, 0, res.TokenEstimate)
}

func TestInjectSortsByRelevancePlusImportance(t *testing.T) {
	low := memoryHit("This is a low priority note. It has nothing special in it.", 0.1, 0.1)
	high := memoryHit("This is a high priority note. It matters a lot right now.", 0.6, 0.6)
	inj := &Injector{retrieval: &fakeRetriever{hits: []retrieval.Hit{low, high}}}

	res, err := inj.Inject(context.Background(), Request{Query: "priority", TokenBudget: 1000, MaxMemories: 5})
	require.NoError(t, err)
	require.Equal(t, 2, res.MemoriesUsed)

	highIdx := strings.Index(res.Text, "high priority")
	lowIdx := strings.Index(res.Text, "low priority")
	require.NotEqual(t, -1, highIdx)
	require.NotEqual(t, -1, lowIdx)
	require.Less(t, highIdx, lowIdx, "higher relevance+importance memory must appear first")
}

func TestInjectRespectsTokenBudget(t *testing.T) {
	var hits []retrieval.Hit
	for i := 0; i < 5; i++ {
		hits = append(hits, memoryHit(strings.Repeat("word ", 200), 0.5, 0.5))
	}
	inj := &Injector{retrieval: &fakeRetriever{hits: hits}}

	res, err := inj.Inject(context.Background(), Request{Query: "q", TokenBudget: 300, MaxMemories: 5})
	require.NoError(t, err)
	require.GreaterOrEqual(t, res.MemoriesUsed, 1)
	require.LessOrEqual(t, res.TokenEstimate, 330)
	require.Contains(t, res.Text, "semantic")
}

func TestInjectAppliesImportanceFloor(t *testing.T) {
	weak := memoryHit("Weak memory below the floor.", 0.5, 0.1)
	strong := memoryHit("Strong memory above the floor.", 0.5, 0.9)
	inj := &Injector{retrieval: &fakeRetriever{hits: []retrieval.Hit{weak, strong}}}

	res, err := inj.Inject(context.Background(), Request{Query: "q", ImportanceMin: 0.5})
	require.NoError(t, err)
	require.Equal(t, 1, res.MemoriesUsed)
	require.Contains(t, res.Text, "Strong memory")
	require.NotContains(t, res.Text, "Weak memory")
}

func TestCompressKeepsFirstAndLastSentence(t *testing.T) {
	content := "First sentence here. Middle sentence with keywords. Last sentence wraps up."
	got := compress(content, 1000)
	require.True(t, strings.HasPrefix(got, "First sentence here."))
	require.True(t, strings.HasSuffix(got, "Last sentence wraps up."))
}

func TestCompressTruncatesToCharBudget(t *testing.T) {
	content := strings.Repeat("word ", 100) + "."
	got := compress(content, 20)
	require.LessOrEqual(t, len([]rune(got)), 20)
}

func TestStarsRounding(t *testing.T) {
	require.Equal(t, "★★★☆☆", stars(0.5))
	require.Equal(t, "☆☆☆☆☆", stars(0))
	require.Equal(t, "★★★★★", stars(1))
}

func TestTokenCountCeilsChars(t *testing.T) {
	require.Equal(t, 1, tokenCount("abc"))
	require.Equal(t, 1, tokenCount("abcd"))
	require.Equal(t, 2, tokenCount("abcde"))
}
