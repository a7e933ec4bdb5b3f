package embedding

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/memento-ai/memento/internal/model"
	registrystore "github.com/memento-ai/memento/internal/registry/store"
	registryvector "github.com/memento-ai/memento/internal/registry/vector"
)

// Indexer polls the Persistence Gateway for memories with no embedding row,
// embeds them in batches, and upserts both the embedding row and the vector
// index entry.
type Indexer struct {
	store    registrystore.Store
	service  *Service
	vector   registryvector.VectorStore
	interval time.Duration
	batch    int
}

// NewIndexer creates a background indexer over the given store/service/vector triple.
func NewIndexer(store registrystore.Store, service *Service, vector registryvector.VectorStore, batchSize int) *Indexer {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Indexer{
		store:    store,
		service:  service,
		vector:   vector,
		interval: 10 * time.Second,
		batch:    batchSize,
	}
}

// Start runs the indexing loop until ctx is cancelled.
func (idx *Indexer) Start(ctx context.Context) {
	if idx.vector == nil || !idx.vector.IsEnabled() {
		log.Info("embedding indexer: disabled, no vector store configured")
		return
	}

	ticker := time.NewTicker(idx.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			idx.indexBatch(ctx)
		}
	}
}

func (idx *Indexer) indexBatch(ctx context.Context) {
	pending, err := idx.store.FindPendingEmbeddings(ctx, idx.batch)
	if err != nil {
		log.Error("embedding indexer: list pending failed", "err", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	texts := make([]string, len(pending))
	for i, p := range pending {
		texts[i] = p.Content
	}

	results, err := idx.service.EmbedBatch(ctx, texts)
	if err != nil {
		log.Error("embedding indexer: batch embed failed", "err", err)
		return
	}

	upserts := make([]registryvector.UpsertRequest, len(pending))
	now := time.Now()
	count := 0
	for i, p := range pending {
		upserts[i] = registryvector.UpsertRequest{
			MemoryID:  p.MemoryID,
			Embedding: results[i].Vector,
			ModelName: results[i].Model,
		}
		if err := idx.store.UpsertEmbedding(ctx, &model.Embedding{
			MemoryID:  p.MemoryID,
			Vector:    results[i].Vector,
			Dim:       len(results[i].Vector),
			Model:     results[i].Model,
			CreatedAt: now,
		}); err != nil {
			log.Error("embedding indexer: upsert embedding row failed", "memoryId", p.MemoryID, "err", err)
			continue
		}
		count++
	}

	if err := idx.vector.Upsert(ctx, upserts); err != nil {
		log.Error("embedding indexer: vector upsert failed", "err", err)
		return
	}

	if count > 0 {
		log.Info("embedding indexer: indexed memories", "count", count)
	}
}
