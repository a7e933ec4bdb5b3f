// Package ranking implements the Ranking Core: a pure, total scoring
// function over a five-feature vector (relevance, recency, importance,
// usage, duplication) plus MMR-based top-k selection. Grounded on
// go-ports/echovault's internal/search.go composite-score-then-select shape,
// adapted to Memento's five named features instead of echovault's single
// blended score.
package ranking

import (
	"math"
	"strings"
	"time"

	"github.com/memento-ai/memento/internal/config"
	"github.com/memento-ai/memento/internal/model"

	"github.com/google/uuid"
)

const bm25NormK = 2.0

// Features is the scoring input for one candidate. Every field defaults to
// its zero value when a source signal is unavailable — ranking never
// produces NaN.
type Features struct {
	Relevance   float64
	Recency     float64
	Importance  float64
	Usage       float64
	Duplication float64
}

// Score computes the weighted sum S = w·f for one feature vector.
func Score(f Features, w config.RankingWeights) float64 {
	return w.Relevance*f.Relevance +
		w.Recency*f.Recency +
		w.Importance*f.Importance +
		w.Usage*f.Usage -
		w.Duplication*f.Duplication
}

// NormalizeBM25 squashes an unbounded bm25/rank statistic into [0,1).
func NormalizeBM25(s float64) float64 {
	if s <= 0 {
		return 0
	}
	return s / (s + bm25NormK)
}

// Jaccard returns |a∩b| / |a∪b| over two token sets.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := toSet(a)
	setB := toSet(b)
	inter := 0
	for t := range setA {
		if setB[t] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func toSet(tokens []string) map[string]bool {
	s := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		s[t] = true
	}
	return s
}

// Tokenize splits text into lowercase alphanumeric tokens, used for jaccard
// and duplication comparisons (a simpler pass than the embedding tokenizer:
// ranking only needs set overlap, not IDF weighting).
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}

// RelevanceInputs carries the signals §4.6 blends into the relevance feature.
type RelevanceInputs struct {
	Cosine       float64 // 0 if no embedding exists yet
	HasCosine    bool
	BM25         float64
	HasBM25      bool
	QueryTokens  []string
	Tags         []string
	TitleHit     bool
}

// Relevance blends cosine similarity, normalized BM25, tag jaccard, and a
// title-hit bonus. When only one of cosine/BM25 is available the other
// term's weight is redistributed onto the rest, rather than the feature
// simply losing 60% or 30% of its ceiling because of a missing channel.
func Relevance(in RelevanceInputs) float64 {
	jaccard := 0.05 * Jaccard(in.QueryTokens, in.Tags)
	title := 0.0
	if in.TitleHit {
		title = 0.05
	}

	switch {
	case in.HasCosine && in.HasBM25:
		return 0.60*in.Cosine + 0.30*NormalizeBM25(in.BM25) + jaccard + title
	case in.HasCosine:
		return 0.90*in.Cosine + jaccard + title
	case in.HasBM25:
		return 0.90*NormalizeBM25(in.BM25) + jaccard + title
	default:
		return jaccard + title
	}
}

// Recency computes exp(-ln2 * age_days / halflife(type)).
func Recency(createdAt time.Time, now time.Time, t model.Type) float64 {
	ageDays := now.Sub(createdAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	halflife := t.Halflife()
	if halflife <= 0 {
		return 0
	}
	return math.Exp(-math.Ln2 * ageDays / halflife)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Importance combines the user-assigned importance, a pin bonus, and the
// per-type boost, clamped to [0,1].
func Importance(userImportance float64, pinned bool, t model.Type) float64 {
	v := userImportance + t.ImportanceBoost()
	if pinned {
		v += 0.2
	}
	return clamp01(v)
}

// RawUsage is the unnormalized log-usage statistic; callers batch-normalize
// it across a candidate set with BatchNormalizeUsage before scoring, per
// §4.6's "batch-normalized over the candidate set" note.
func RawUsage(views, citations, edits int64) float64 {
	return (math.Log1p(float64(views)) + 2*math.Log1p(float64(citations)) + 0.5*math.Log1p(float64(edits))) / 10
}

// BatchNormalizeUsage min-max scales raw usage values to [0,1] across one
// candidate set, so usage stays comparable within a single ranking call
// without depending on a global maximum that drifts as the store grows.
func BatchNormalizeUsage(raw []float64) []float64 {
	out := make([]float64, len(raw))
	if len(raw) == 0 {
		return out
	}
	min, max := raw[0], raw[0]
	for _, v := range raw {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if max == min {
		for i := range raw {
			out[i] = clamp01(raw[i])
		}
		return out
	}
	for i, v := range raw {
		out[i] = clamp01((v - min) / (max - min))
	}
	return out
}

// Candidate is one row entering the Ranking Core, already carrying whatever
// relevance/recency/importance/usage inputs the caller could assemble.
type Candidate struct {
	MemoryID      uuid.UUID
	CreatedAt     time.Time
	Type          model.Type
	Pinned        bool
	Relevance     float64
	Recency       float64
	Importance    float64
	Usage         float64
	ContentTokens []string
}

// Result is one ranked, selected candidate with its component features and
// final score, for callers that want to explain a ranking decision.
type Result struct {
	MemoryID uuid.UUID
	Features Features
	Score    float64
}

// Select scores every candidate, then greedily picks up to k results with
// maximal-marginal-relevance duplication penalties recomputed after each
// pick, per §4.6. Ties break by higher importance, then more recent
// created_at, then lexicographic id.
func Select(candidates []Candidate, weights config.RankingWeights, k int, now time.Time) []Result {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}

	remaining := make([]Candidate, len(candidates))
	copy(remaining, candidates)

	var selected []Result
	var selectedTokens [][]string

	for len(selected) < k && len(remaining) > 0 {
		bestIdx := -1
		var bestScore float64
		var bestFeatures Features

		for i, c := range remaining {
			dup := maxJaccardAgainst(c.ContentTokens, selectedTokens)
			f := Features{
				Relevance:   c.Relevance,
				Recency:     c.Recency,
				Importance:  c.Importance,
				Usage:       c.Usage,
				Duplication: dup,
			}
			s := Score(f, weights)

			if bestIdx == -1 || better(s, f, c, remaining[bestIdx], bestScore, bestFeatures) {
				bestIdx = i
				bestScore = s
				bestFeatures = f
			}
		}

		c := remaining[bestIdx]
		selected = append(selected, Result{MemoryID: c.MemoryID, Features: bestFeatures, Score: bestScore})
		selectedTokens = append(selectedTokens, c.ContentTokens)
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return selected
}

func maxJaccardAgainst(tokens []string, against [][]string) float64 {
	max := 0.0
	for _, other := range against {
		if j := Jaccard(tokens, other); j > max {
			max = j
		}
	}
	return max
}

// better reports whether candidate b (score sb) should be preferred over
// the current best a (score sa), applying §4.6's tiebreak chain when scores
// are equal.
func better(sb float64, fb Features, b Candidate, a Candidate, sa float64, fa Features) bool {
	if sb != sa {
		return sb > sa
	}
	if fb.Importance != fa.Importance {
		return fb.Importance > fa.Importance
	}
	if !b.CreatedAt.Equal(a.CreatedAt) {
		return b.CreatedAt.After(a.CreatedAt)
	}
	return b.MemoryID.String() < a.MemoryID.String()
}
