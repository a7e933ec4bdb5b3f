// Package sqlite implements the Persistence Gateway's default backend: a
// single SQLite file combining row storage, FTS5 lexical search, and
// (optionally, via the sibling "embedded" vector plugin) sqlite-vec nearest
// neighbor search. Grounded on go-ports/echovault's internal/db package,
// generalized from its memory-notes schema to Memento's Memory/Link/Feedback
// model.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/memento-ai/memento/internal/config"
	"github.com/memento-ai/memento/internal/memerr"
	"github.com/memento-ai/memento/internal/model"
	registrystore "github.com/memento-ai/memento/internal/registry/store"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name:   "sqlite",
		Loader: load,
	})
}

func load(ctx context.Context) (registrystore.Store, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("sqlite store: no config in context")
	}
	return Open(cfg.Store.DSN, cfg.Store.Contention, cfg.Store.Checkpoint)
}

// Store is the sqlite-backed Persistence Gateway.
type Store struct {
	db         *sql.DB
	path       string
	contention config.ContentionConfig
	archiver   *s3Archiver // nil unless checkpoint.s3_bucket is configured
}

// Open opens (or creates) the database at path and ensures the schema exists.
func Open(path string, contention config.ContentionConfig, checkpoint config.CheckpointConfig) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	if contention.MaxRetries <= 0 {
		contention = config.ContentionConfig{MaxRetries: 8, InitialBackoff: 50 * time.Millisecond, MaxBackoff: time.Second}
	}
	s := &Store{db: db, path: path, contention: contention}
	if checkpoint.S3Bucket != "" {
		archiver, err := newS3Archiver(context.Background(), checkpoint.S3Bucket, checkpoint.S3Prefix)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite store: checkpoint archiver: %w", err)
		}
		s.archiver = archiver
	}
	if err := s.createSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying connection. The sibling "embedded" vector
// plugin does not use it: it opens its own connection onto the same file.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Name() string { return "sqlite" }

func (s *Store) Close() error { return s.db.Close() }

// withRetry runs fn, retrying on SQLITE_BUSY-style contention with
// exponential backoff and jitter, per spec.md §5.
func (s *Store) withRetry(ctx context.Context, resource string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.contention.InitialBackoff
	b.MaxInterval = s.contention.MaxBackoff
	b.MaxElapsedTime = 0
	bctx := backoff.WithContext(b, ctx)

	attempts := 0
	operation := func() error {
		attempts++
		err := fn()
		if err == nil {
			return nil
		}
		if !isBusyErr(err) {
			return backoff.Permanent(err)
		}
		if attempts >= s.contention.MaxRetries {
			return backoff.Permanent(&memerr.ContentionError{Resource: resource, Attempts: attempts})
		}
		return err
	}
	return backoff.Retry(operation, bctx)
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// --- Memory CRUD ---

func (s *Store) CreateMemory(ctx context.Context, m *model.Memory) error {
	tagsJSON, err := marshalTags(m.Tags)
	if err != nil {
		return err
	}
	return s.withRetry(ctx, "memory_item", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO memory_item (
				id, type, content, importance, privacy_scope, created_at,
				last_accessed, pinned, tags_json, source, view_count,
				cite_count, edit_count, project, user, agent, last_review,
				review_due
			) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			m.ID.String(), string(m.Type), m.Content, m.Importance, string(m.PrivacyScope),
			m.CreatedAt.UTC().Format(time.RFC3339Nano), nullableTime(m.LastAccessed),
			boolToInt(m.Pinned), tagsJSON, nullString(m.Source), m.ViewCount, m.CiteCount,
			m.EditCount, nullString(m.Project), nullString(m.User), nullString(m.Agent),
			nullableTime(m.LastReview), nullableTime(m.ReviewDue),
		)
		return err
	})
}

func (s *Store) GetMemory(ctx context.Context, id uuid.UUID) (*model.Memory, error) {
	row := s.db.QueryRowContext(ctx, memorySelectCols+` FROM memory_item WHERE id = ?`, id.String())
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, &memerr.NotFoundError{Resource: "memory", ID: id.String()}
	}
	return m, err
}

func (s *Store) UpdateMemory(ctx context.Context, m *model.Memory) error {
	tagsJSON, err := marshalTags(m.Tags)
	if err != nil {
		return err
	}
	return s.withRetry(ctx, "memory_item", func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE memory_item SET
				content = ?, importance = ?, privacy_scope = ?, tags_json = ?,
				source = ?, edit_count = edit_count + 1
			WHERE id = ?`,
			m.Content, m.Importance, string(m.PrivacyScope), tagsJSON, nullString(m.Source), m.ID.String(),
		)
		if err != nil {
			return err
		}
		return requireAffected(res, m.ID)
	})
}

func (s *Store) SetPinned(ctx context.Context, id uuid.UUID, pinned bool) error {
	return s.withRetry(ctx, "memory_item", func() error {
		res, err := s.db.ExecContext(ctx, `UPDATE memory_item SET pinned = ? WHERE id = ?`, boolToInt(pinned), id.String())
		if err != nil {
			return err
		}
		return requireAffected(res, id)
	})
}

func (s *Store) TouchAccess(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.withRetry(ctx, "memory_item", func() error {
		res, err := s.db.ExecContext(ctx, `UPDATE memory_item SET last_accessed = ? WHERE id = ?`, at.UTC().Format(time.RFC3339Nano), id.String())
		if err != nil {
			return err
		}
		return requireAffected(res, id)
	})
}

func (s *Store) IncrementCounter(ctx context.Context, id uuid.UUID, field string, delta int64) error {
	col, ok := counterColumn(field)
	if !ok {
		return &memerr.InvalidArgumentError{Field: "field", Message: "unknown counter " + field}
	}
	return s.withRetry(ctx, "memory_item", func() error {
		res, err := s.db.ExecContext(ctx, fmt.Sprintf(`UPDATE memory_item SET %s = %s + ? WHERE id = ?`, col, col), delta, id.String())
		if err != nil {
			return err
		}
		return requireAffected(res, id)
	})
}

func counterColumn(field string) (string, bool) {
	switch field {
	case "view_count", "cite_count", "edit_count":
		return field, true
	default:
		return "", false
	}
}

// SoftDelete implements the gateway's demotion contract (§4.1/§4.8): unpin,
// reset usage counters, and touch last_accessed. The row stays fully
// readable — only HardDelete removes it.
func (s *Store) SoftDelete(ctx context.Context, id uuid.UUID) error {
	return s.withRetry(ctx, "memory_item", func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE memory_item SET
				pinned = 0, view_count = 0, cite_count = 0, edit_count = 0, last_accessed = ?
			WHERE id = ?`, time.Now().UTC().Format(time.RFC3339Nano), id.String())
		if err != nil {
			return err
		}
		return requireAffected(res, id)
	})
}

func (s *Store) ScheduleReview(ctx context.Context, id uuid.UUID, at time.Time, nextInterval time.Duration) error {
	return s.withRetry(ctx, "memory_item", func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE memory_item SET last_review = ?, review_due = ? WHERE id = ?`,
			at.UTC().Format(time.RFC3339Nano), at.Add(nextInterval).UTC().Format(time.RFC3339Nano), id.String(),
		)
		if err != nil {
			return err
		}
		return requireAffected(res, id)
	})
}

func (s *Store) HardDelete(ctx context.Context, id uuid.UUID) error {
	return s.withRetry(ctx, "memory_item", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if _, err := tx.ExecContext(ctx, `DELETE FROM memory_item WHERE id = ?`, id.String()); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM memory_embedding WHERE memory_id = ?`, id.String()); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM memory_link WHERE source_id = ? OR target_id = ?`, id.String(), id.String()); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM memory_feedback WHERE memory_id = ?`, id.String()); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// AdminGetMemoryByID is identical to GetMemory today — the gateway never
// hides rows from ordinary reads — kept as a distinct method per §C's
// admin-escape-hatch convention so future restrictions on GetMemory (e.g. a
// privacy-scope check) don't accidentally block admin/diagnostic access.
func (s *Store) AdminGetMemoryByID(ctx context.Context, id uuid.UUID) (*model.Memory, error) {
	return s.GetMemory(ctx, id)
}

func (s *Store) AdminForceDeleteMemory(ctx context.Context, id uuid.UUID) error {
	return s.HardDelete(ctx, id)
}

func (s *Store) Stats(ctx context.Context) (registrystore.Stats, error) {
	stats := registrystore.Stats{TotalByType: make(map[model.Type]int64)}

	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM memory_item GROUP BY type`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var t string
		var n int64
		if err := rows.Scan(&t, &n); err != nil {
			return stats, err
		}
		stats.TotalByType[model.Type(t)] = n
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_item WHERE pinned = 1`).Scan(&stats.Pinned); err != nil {
		return stats, err
	}
	return stats, nil
}

// Checkpoint flushes the WAL into the main database file and, when an S3
// checkpoint bucket is configured, archives a snapshot of the resulting
// file. The WAL flush always runs locally first; S3 archival is a
// best-effort addition, not a requirement for Checkpoint to succeed.
func (s *Store) Checkpoint(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return err
	}
	if s.archiver == nil {
		return nil
	}
	return s.archiver.archive(ctx, s.path)
}

func requireAffected(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &memerr.NotFoundError{Resource: "memory", ID: id.String()}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
