package ranking

import (
	"testing"
	"time"

	"github.com/memento-ai/memento/internal/config"
	"github.com/memento-ai/memento/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRecencyDecaysByHalflife(t *testing.T) {
	now := time.Now()
	halflife := model.TypeEpisodic.Halflife()
	created := now.Add(-time.Duration(halflife*24) * time.Hour)

	r := Recency(created, now, model.TypeEpisodic)
	require.InDelta(t, 0.5, r, 0.01)
}

func TestRecencyNeverNegativeAge(t *testing.T) {
	now := time.Now()
	created := now.Add(time.Hour) // clock skew: "created" slightly in the future
	r := Recency(created, now, model.TypeWorking)
	require.InDelta(t, 1.0, r, 1e-9)
}

func TestImportanceClampsAtOne(t *testing.T) {
	v := Importance(0.95, true, model.TypeSemantic)
	require.Equal(t, 1.0, v)
}

func TestImportanceAppliesPinBonus(t *testing.T) {
	unpinned := Importance(0.5, false, model.TypeEpisodic)
	pinned := Importance(0.5, true, model.TypeEpisodic)
	require.InDelta(t, unpinned+0.2, pinned, 1e-9)
}

func TestRelevanceFallsBackToCosineAlone(t *testing.T) {
	in := RelevanceInputs{Cosine: 0.8, HasCosine: true}
	r := Relevance(in)
	require.Greater(t, r, 0.0)
	require.Less(t, r, 1.0)
}

func TestRelevanceFallsBackToBM25Alone(t *testing.T) {
	in := RelevanceInputs{BM25: 10.0, HasBM25: true}
	r := Relevance(in)
	require.Greater(t, r, 0.0)
}

func TestRelevanceZeroWhenNoSignals(t *testing.T) {
	r := Relevance(RelevanceInputs{})
	require.Equal(t, 0.0, r)
}

func TestJaccardNoOverlap(t *testing.T) {
	require.Equal(t, 0.0, Jaccard([]string{"a", "b"}, []string{"c", "d"}))
}

func TestJaccardIdentical(t *testing.T) {
	require.Equal(t, 1.0, Jaccard([]string{"a", "b"}, []string{"b", "a"}))
}

func TestBatchNormalizeUsageHandlesFlatInput(t *testing.T) {
	out := BatchNormalizeUsage([]float64{0.3, 0.3, 0.3})
	for _, v := range out {
		require.InDelta(t, 0.3, v, 1e-9)
	}
}

func TestBatchNormalizeUsageScalesToUnitRange(t *testing.T) {
	out := BatchNormalizeUsage([]float64{1, 2, 3})
	require.Equal(t, 0.0, out[0])
	require.Equal(t, 1.0, out[2])
	require.InDelta(t, 0.5, out[1], 1e-9)
}

func TestSelectPenalizesDuplicatesViaMMR(t *testing.T) {
	w := config.RankingWeights{Relevance: 0.5, Recency: 0.2, Importance: 0.2, Usage: 0.1, Duplication: 0.15}
	now := time.Now()

	a := Candidate{MemoryID: uuid.New(), CreatedAt: now, Type: model.TypeEpisodic, Relevance: 0.9, ContentTokens: []string{"go", "channel", "select"}}
	// b duplicates a's content almost entirely; c is distinct but slightly less relevant.
	b := Candidate{MemoryID: uuid.New(), CreatedAt: now, Type: model.TypeEpisodic, Relevance: 0.88, ContentTokens: []string{"go", "channel", "select"}}
	c := Candidate{MemoryID: uuid.New(), CreatedAt: now, Type: model.TypeEpisodic, Relevance: 0.7, ContentTokens: []string{"postgres", "index", "vacuum"}}

	results := Select([]Candidate{a, b, c}, w, 3, now)
	require.Len(t, results, 3)
	require.Equal(t, a.MemoryID, results[0].MemoryID)
	// c should outrank b once b's duplication penalty against the already-picked a applies.
	require.Equal(t, c.MemoryID, results[1].MemoryID)
}

func TestSelectTieBreaksByImportanceThenRecencyThenID(t *testing.T) {
	w := config.RankingWeights{Relevance: 1.0}
	now := time.Now()

	idLow := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	idHigh := uuid.MustParse("00000000-0000-0000-0000-000000000002")

	a := Candidate{MemoryID: idHigh, CreatedAt: now, Relevance: 0.5}
	b := Candidate{MemoryID: idLow, CreatedAt: now, Relevance: 0.5}

	results := Select([]Candidate{a, b}, w, 1, now)
	require.Len(t, results, 1)
	require.Equal(t, idLow, results[0].MemoryID)
}

func TestSelectRespectsK(t *testing.T) {
	w := config.RankingWeights{Relevance: 1.0}
	now := time.Now()
	var candidates []Candidate
	for i := 0; i < 5; i++ {
		candidates = append(candidates, Candidate{MemoryID: uuid.New(), CreatedAt: now, Relevance: float64(i)})
	}
	results := Select(candidates, w, 2, now)
	require.Len(t, results, 2)
}
