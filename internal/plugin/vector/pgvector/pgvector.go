// Package pgvector implements a vector-search backend for deployments that
// already run Postgres: embeddings live in a memory_item_vector table using
// the pgvector extension's `<=>` cosine-distance operator for nearest
// neighbor search. Grounded on the teacher's plugin/vector/pgvector (raw
// gorm.Raw queries against entry_embeddings with pgvector-go's Vector type),
// generalized from the teacher's entry/conversation-group shape to Memento's
// memory_id keyed embeddings.
package pgvector

import (
	"context"
	"fmt"

	"github.com/memento-ai/memento/internal/config"
	registryvector "github.com/memento-ai/memento/internal/registry/vector"

	"github.com/google/uuid"
	pgvec "github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

func init() {
	registryvector.Register(registryvector.Plugin{
		Name:   "pgvector",
		Loader: load,
	})
}

func load(ctx context.Context) (registryvector.VectorStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("pgvector: no config in context")
	}
	if cfg.Store.VectorBackend != "pgvector" {
		return &Store{enabled: false}, nil
	}
	db, err := openGormDB(cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgvector: %w", err)
	}
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS vector`).Error; err != nil {
		return nil, fmt.Errorf("pgvector: create extension: %w", err)
	}
	return &Store{db: db, enabled: true}, nil
}

// Store implements VectorStore over a postgres database with the pgvector
// extension installed.
type Store struct {
	db      *gorm.DB
	enabled bool
	dim     int
}

func (s *Store) Name() string    { return "pgvector" }
func (s *Store) IsEnabled() bool { return s.enabled }

// ensureTable creates memory_item_vector on first use. Once the dimension
// has been fixed it cannot silently change; Memento does not support
// switching embedding providers without a reindex.
func (s *Store) ensureTable(dim int) error {
	if s.dim == dim {
		return nil
	}
	var count int64
	err := s.db.Raw(`SELECT COUNT(*) FROM information_schema.tables WHERE table_name = 'memory_item_vector'`).Row().Scan(&count)
	if err != nil {
		return err
	}
	if count == 0 {
		if err := s.db.Exec(fmt.Sprintf(`
			CREATE TABLE memory_item_vector (
				memory_id TEXT PRIMARY KEY,
				embedding vector(%d)
			)`, dim)).Error; err != nil {
			return fmt.Errorf("pgvector: create table: %w", err)
		}
		if err := s.db.Exec(`
			CREATE INDEX IF NOT EXISTS idx_memory_item_vector_embedding
			ON memory_item_vector USING ivfflat (embedding vector_cosine_ops)`).Error; err != nil {
			return fmt.Errorf("pgvector: create index: %w", err)
		}
	}
	s.dim = dim
	return nil
}

func (s *Store) Upsert(ctx context.Context, entries []registryvector.UpsertRequest) error {
	if !s.enabled || len(entries) == 0 {
		return nil
	}
	if err := s.ensureTable(len(entries[0].Embedding)); err != nil {
		return err
	}
	for _, e := range entries {
		vec := pgvec.NewVector(e.Embedding)
		if err := s.db.WithContext(ctx).Exec(`
			INSERT INTO memory_item_vector (memory_id, embedding)
			VALUES (?, ?)
			ON CONFLICT (memory_id) DO UPDATE SET embedding = excluded.embedding`,
			e.MemoryID.String(), vec,
		).Error; err != nil {
			return fmt.Errorf("pgvector: upsert: %w", err)
		}
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, memoryIDs []uuid.UUID) error {
	if !s.enabled || len(memoryIDs) == 0 {
		return nil
	}
	ids := make([]string, len(memoryIDs))
	for i, id := range memoryIDs {
		ids[i] = id.String()
	}
	return s.db.WithContext(ctx).Exec(`DELETE FROM memory_item_vector WHERE memory_id = ANY(?)`, ids).Error
}

func (s *Store) Search(ctx context.Context, embedding []float32, memoryIDs []uuid.UUID, limit int) ([]registryvector.SearchResult, error) {
	if !s.enabled {
		return nil, nil
	}
	if err := s.ensureTable(len(embedding)); err != nil {
		return nil, err
	}

	vec := pgvec.NewVector(embedding)
	q := `
		SELECT memory_id, 1 - (embedding <=> ?) AS score
		FROM memory_item_vector`
	args := []any{vec}
	if len(memoryIDs) > 0 {
		ids := make([]string, len(memoryIDs))
		for i, id := range memoryIDs {
			ids[i] = id.String()
		}
		q += ` WHERE memory_id = ANY(?)`
		args = append(args, ids)
	}
	q += ` ORDER BY embedding <=> ? LIMIT ?`
	args = append(args, vec, limit)

	rows, err := s.db.WithContext(ctx).Raw(q, args...).Rows()
	if err != nil {
		return nil, fmt.Errorf("pgvector: search: %w", err)
	}
	defer rows.Close()

	var out []registryvector.SearchResult
	for rows.Next() {
		var idStr string
		var score float64
		if err := rows.Scan(&idStr, &score); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, err
		}
		out = append(out, registryvector.SearchResult{MemoryID: id, Score: score})
	}
	return out, rows.Err()
}

var _ registryvector.VectorStore = (*Store)(nil)
