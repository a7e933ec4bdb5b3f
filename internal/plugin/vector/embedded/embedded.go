// Package embedded implements the default vector store backend: sqlite-vec's
// vec0 virtual table living in the same sqlite file as the Persistence
// Gateway's row store. Grounded on go-ports/echovault's internal/db vector
// methods (InsertVector, VectorSearch, float32sToBytes), generalized from a
// single-process "memories" table to Memento's memory_item/memory_vec split.
package embedded

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/memento-ai/memento/internal/config"
	registryvector "github.com/memento-ai/memento/internal/registry/vector"

	"github.com/google/uuid"
	_ "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	registryvector.Register(registryvector.Plugin{
		Name:   "embedded",
		Loader: load,
	})
}

func load(ctx context.Context) (registryvector.VectorStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("embedded vector store: no config in context")
	}
	if cfg.Store.VectorBackend != "" && cfg.Store.VectorBackend != "embedded" {
		return &Store{enabled: false}, nil
	}
	db, err := sql.Open("sqlite3", cfg.Store.DSN+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("embedded vector store: open: %w", err)
	}
	return &Store{db: db, enabled: true}, nil
}

// Store is a sqlite-vec backed VectorStore. It opens its own connection onto
// the same database file the Persistence Gateway uses; WAL mode allows both
// to read and write concurrently.
type Store struct {
	db      *sql.DB
	enabled bool
	dim     int
}

func (s *Store) Name() string   { return "embedded" }
func (s *Store) IsEnabled() bool { return s.enabled }

func (s *Store) ensureTable(dim int) error {
	if s.dim == dim {
		return nil
	}
	var raw string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'embedding_dim'`).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.Exec(
			`INSERT INTO meta(key, value) VALUES ('embedding_dim', ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, strconv.Itoa(dim)); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		stored, convErr := strconv.Atoi(raw)
		if convErr != nil {
			return convErr
		}
		if stored != dim {
			return fmt.Errorf("embedded vector store: dimension mismatch: have %d, got %d; reindex required", stored, dim)
		}
	}
	if _, err := s.db.Exec(fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS memory_vec USING vec0(
			rowid INTEGER PRIMARY KEY,
			embedding float[%d]
		)`, dim)); err != nil {
		return err
	}
	s.dim = dim
	return nil
}

func (s *Store) Upsert(ctx context.Context, reqs []registryvector.UpsertRequest) error {
	if !s.enabled || len(reqs) == 0 {
		return nil
	}
	if err := s.ensureTable(len(reqs[0].Embedding)); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, r := range reqs {
		rowid, err := rowidForMemory(ctx, tx, r.MemoryID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO memory_vec(rowid, embedding) VALUES (?, ?)
			 ON CONFLICT(rowid) DO UPDATE SET embedding = excluded.embedding`,
			rowid, float32sToBytes(r.Embedding),
		); err != nil {
			return fmt.Errorf("embedded vector store: upsert: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) Delete(ctx context.Context, memoryIDs []uuid.UUID) error {
	if !s.enabled || len(memoryIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, id := range memoryIDs {
		rowid, err := rowidForMemory(ctx, tx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM memory_vec WHERE rowid = ?`, rowid); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) Search(ctx context.Context, embedding []float32, memoryIDs []uuid.UUID, limit int) ([]registryvector.SearchResult, error) {
	if !s.enabled {
		return nil, nil
	}
	if err := s.ensureTable(len(embedding)); err != nil {
		return nil, err
	}

	vecBytes := float32sToBytes(embedding)
	k := limit
	if len(memoryIDs) > 0 {
		// over-fetch so the post-filter below still has k survivors
		k = limit * 4
		if k < limit {
			k = limit
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, v.distance
		FROM memory_vec v
		JOIN memory_item m ON m.rowid = v.rowid
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance`, vecBytes, k)
	if err != nil {
		return nil, fmt.Errorf("embedded vector store: search: %w", err)
	}
	defer rows.Close()

	allowed := make(map[uuid.UUID]bool, len(memoryIDs))
	for _, id := range memoryIDs {
		allowed[id] = true
	}

	var out []registryvector.SearchResult
	for rows.Next() {
		var idStr string
		var dist float64
		if err := rows.Scan(&idStr, &dist); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, err
		}
		if len(allowed) > 0 && !allowed[id] {
			continue
		}
		out = append(out, registryvector.SearchResult{MemoryID: id, Score: 1.0 - dist})
		if len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

func rowidForMemory(ctx context.Context, tx *sql.Tx, id uuid.UUID) (int64, error) {
	var rowid int64
	err := tx.QueryRowContext(ctx, `SELECT rowid FROM memory_item WHERE id = ?`, id.String()).Scan(&rowid)
	return rowid, err
}

func float32sToBytes(floats []float32) []byte {
	b := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

var _ registryvector.VectorStore = (*Store)(nil)
