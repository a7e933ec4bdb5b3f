// Package retrieval implements Hybrid Retrieval: fan out to lexical and
// vector search in parallel, union the candidates, compute per-candidate
// ranking features, and delegate final selection to the Ranking Core.
// Grounded on go-ports/echovault's internal/search.MergeResults for the
// union-by-id shape, with the fan-out itself modeled on the
// errgroup.WithContext concurrency pattern used elsewhere in the example
// pack for bounded parallel work.
package retrieval

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/memento-ai/memento/internal/config"
	"github.com/memento-ai/memento/internal/embedding"
	"github.com/memento-ai/memento/internal/memerr"
	"github.com/memento-ai/memento/internal/metrics"
	"github.com/memento-ai/memento/internal/model"
	"github.com/memento-ai/memento/internal/ranking"
	registrystore "github.com/memento-ai/memento/internal/registry/store"
	registryvector "github.com/memento-ai/memento/internal/registry/vector"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Hit is one ranked result returned to a caller (MCP tool surface, Context
// Injector).
type Hit struct {
	Memory   model.Memory
	Score    float64
	Features ranking.Features
}

// Orchestrator runs Hybrid Retrieval over a Persistence Gateway, a vector
// store, and an embedding service.
type Orchestrator struct {
	store   registrystore.Store
	vector  registryvector.VectorStore
	embed   *embedding.Service
	weights config.RankingWeights
	search  config.SearchConfig
}

// New builds an Orchestrator from the loaded plugins and ranking config.
func New(store registrystore.Store, vector registryvector.VectorStore, embed *embedding.Service, cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		store:   store,
		vector:  vector,
		embed:   embed,
		weights: cfg.Ranking,
		search:  cfg.Search,
	}
}

// Query runs the full §4.7 algorithm and returns up to limit ranked hits.
func (o *Orchestrator) Query(ctx context.Context, queryText string, filter registrystore.Filter, limit int) ([]Hit, error) {
	if limit <= 0 {
		return nil, nil
	}
	defer metrics.ObserveRetrieval(time.Now())
	normalized := embedding.Normalize(queryText)
	fetchLimit := limit * 2

	var lexical []registrystore.LexicalResult
	var vectorHits []registryvector.SearchResult
	var queryEmbedding []float32

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		res, err := o.store.LexicalSearch(gctx, normalized, filter, fetchLimit)
		if err != nil {
			return err
		}
		lexical = res
		return nil
	})

	g.Go(func() error {
		if o.vector == nil || !o.vector.IsEnabled() {
			return nil
		}
		result, err := o.embed.EmbedText(gctx, normalized)
		if err != nil {
			// Vector search degrades gracefully: relevance falls back to
			// the lexical/BM25 channel alone rather than failing the query.
			return nil
		}
		queryEmbedding = result.Vector

		candidateIDs, err := o.candidateIDsForFilter(gctx, filter)
		if err != nil {
			return err
		}
		hits, err := o.vector.Search(gctx, queryEmbedding, candidateIDs, fetchLimit)
		if err != nil {
			return err
		}
		vectorHits = hits
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	type unionEntry struct {
		memory  *model.Memory
		bm25    float64
		hasBM25 bool
		cosine  float64
		hasCos  bool
	}
	union := make(map[uuid.UUID]*unionEntry)

	for _, r := range lexical {
		m := r.Memory
		union[m.ID] = &unionEntry{memory: &m, bm25: r.Score, hasBM25: true}
	}
	for _, v := range vectorHits {
		if e, ok := union[v.MemoryID]; ok {
			e.cosine = v.Score
			e.hasCos = true
			continue
		}
		m, err := o.store.GetMemory(ctx, v.MemoryID)
		if err != nil {
			var nf *memerr.NotFoundError
			if errors.As(err, &nf) {
				continue
			}
			return nil, err
		}
		union[v.MemoryID] = &unionEntry{memory: m, cosine: v.Score, hasCos: true}
	}

	if len(union) == 0 {
		return nil, nil
	}

	queryTokens := ranking.Tokenize(normalized)
	now := time.Now()
	rawUsage := make([]float64, 0, len(union))
	ids := make([]uuid.UUID, 0, len(union))
	for id := range union {
		ids = append(ids, id)
	}

	candidates := make([]ranking.Candidate, 0, len(union))
	for _, id := range ids {
		e := union[id]
		m := e.memory

		rel := ranking.Relevance(ranking.RelevanceInputs{
			Cosine:      o.search.VectorWeight * e.cosine,
			HasCosine:   e.hasCos,
			BM25:        o.search.TextWeight * e.bm25,
			HasBM25:     e.hasBM25,
			QueryTokens: queryTokens,
			Tags:        m.Tags,
			TitleHit:    containsAny(strings.ToLower(m.TitleHint()), queryTokens),
		})

		raw := ranking.RawUsage(m.ViewCount, m.CiteCount, m.EditCount)
		rawUsage = append(rawUsage, raw)

		importance := ranking.Importance(m.Importance, m.Pinned, m.Type)
		importance = o.applyDerivedFromNudge(ctx, m.ID, importance)

		candidates = append(candidates, ranking.Candidate{
			MemoryID:      id,
			CreatedAt:     m.CreatedAt,
			Type:          m.Type,
			Pinned:        m.Pinned,
			Relevance:     rel,
			Recency:       ranking.Recency(m.CreatedAt, now, m.Type),
			Importance:    importance,
			ContentTokens: ranking.Tokenize(m.Content),
		})
	}

	normalizedUsage := ranking.BatchNormalizeUsage(rawUsage)
	for i := range candidates {
		candidates[i].Usage = normalizedUsage[i]
	}

	selected := ranking.Select(candidates, o.weights, limit, now)

	hits := make([]Hit, 0, len(selected))
	for _, r := range selected {
		e := union[r.MemoryID]
		hits = append(hits, Hit{Memory: *e.memory, Score: r.Score, Features: r.Features})
	}
	return hits, nil
}

// candidateIDsForFilter narrows vector search to the rows a filter would
// admit, when a filter is non-trivial. An empty return means "search
// unrestricted" — the caller treats a nil/empty slice as no restriction.
func (o *Orchestrator) candidateIDsForFilter(ctx context.Context, filter registrystore.Filter) ([]uuid.UUID, error) {
	if isEmptyFilter(filter) {
		return nil, nil
	}
	rows, err := o.store.ListCandidates(ctx, filter, 10000, 0)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, len(rows))
	for i, m := range rows {
		ids[i] = m.ID
	}
	return ids, nil
}

// citedSourceThreshold and derivedFromBonus implement §C's one-hop
// derived_from importance nudge: a memory that is the target of a
// derived_from edge from a frequently-cited source gets a small bump,
// without recursing further up the chain.
const (
	citedSourceThreshold = 3
	derivedFromBonus     = 0.03
)

func (o *Orchestrator) applyDerivedFromNudge(ctx context.Context, memoryID uuid.UUID, importance float64) float64 {
	links, err := o.store.LinksTo(ctx, memoryID, model.RelationDerivedFrom)
	if err != nil || len(links) == 0 {
		return importance
	}
	for _, l := range links {
		source, err := o.store.GetMemory(ctx, l.SourceID)
		if err != nil {
			continue
		}
		if source.CiteCount >= citedSourceThreshold {
			importance += derivedFromBonus
			break
		}
	}
	if importance > 1 {
		importance = 1
	}
	return importance
}

func isEmptyFilter(f registrystore.Filter) bool {
	return len(f.Types) == 0 && len(f.PrivacyScope) == 0 && f.Project == "" &&
		f.User == "" && f.Agent == "" && !f.PinnedOnly
}

func containsAny(haystack string, tokens []string) bool {
	for _, t := range tokens {
		if t != "" && strings.Contains(haystack, t) {
			return true
		}
	}
	return false
}
