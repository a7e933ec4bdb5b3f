package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

func (s *Store) createSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memory_item (
			rowid          INTEGER PRIMARY KEY AUTOINCREMENT,
			id             TEXT UNIQUE NOT NULL,
			type           TEXT NOT NULL,
			content        TEXT NOT NULL,
			importance     REAL NOT NULL DEFAULT 0.5,
			privacy_scope  TEXT NOT NULL DEFAULT 'private',
			created_at     TEXT NOT NULL,
			last_accessed  TEXT,
			pinned         INTEGER NOT NULL DEFAULT 0,
			tags_json      TEXT NOT NULL DEFAULT '[]',
			source         TEXT,
			view_count     INTEGER NOT NULL DEFAULT 0,
			cite_count     INTEGER NOT NULL DEFAULT 0,
			edit_count     INTEGER NOT NULL DEFAULT 0,
			project        TEXT,
			user           TEXT,
			agent          TEXT,
			last_review    TEXT,
			review_due     TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS memory_embedding (
			memory_id  TEXT PRIMARY KEY REFERENCES memory_item(id),
			dim        INTEGER NOT NULL,
			model      TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS memory_link (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			source_id  TEXT NOT NULL,
			target_id  TEXT NOT NULL,
			relation   TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_link_source ON memory_link(source_id, relation)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_link_target ON memory_link(target_id, relation)`,
		`CREATE TABLE IF NOT EXISTS memory_feedback (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			memory_id  TEXT NOT NULL,
			event_type TEXT NOT NULL,
			score      REAL NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_feedback_memory ON memory_feedback(memory_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS memory_item_fts USING fts5(
			content,
			tags,
			content=memory_item,
			content_rowid=rowid,
			tokenize='porter unicode61'
		)`,
		`CREATE TRIGGER IF NOT EXISTS memory_item_ai AFTER INSERT ON memory_item BEGIN
			INSERT INTO memory_item_fts(rowid, content, tags)
			VALUES (new.rowid, new.content, new.tags_json);
		END`,
		`CREATE TRIGGER IF NOT EXISTS memory_item_au AFTER UPDATE ON memory_item BEGIN
			INSERT INTO memory_item_fts(memory_item_fts, rowid, content, tags)
			VALUES ('delete', old.rowid, old.content, old.tags_json);
			INSERT INTO memory_item_fts(rowid, content, tags)
			VALUES (new.rowid, new.content, new.tags_json);
		END`,
		`CREATE TRIGGER IF NOT EXISTS memory_item_ad AFTER DELETE ON memory_item BEGIN
			INSERT INTO memory_item_fts(memory_item_fts, rowid, content, tags)
			VALUES ('delete', old.rowid, old.content, old.tags_json);
		END`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlite store: create schema: %w\nSQL: %s", err, stmt)
		}
	}

	if dim, ok, err := s.getEmbeddingDim(); err == nil && ok {
		if err := s.createVecTable(dim); err != nil {
			return fmt.Errorf("sqlite store: recreate vec table: %w", err)
		}
	}

	return nil
}

func (s *Store) createVecTable(dim int) error {
	_, err := s.db.Exec(fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS memory_vec USING vec0(
			rowid INTEGER PRIMARY KEY,
			embedding float[%d]
		)`, dim))
	return err
}

func (s *Store) hasVecTable() (bool, error) {
	var name string
	err := s.db.QueryRow(
		`SELECT name FROM sqlite_master WHERE type='table' AND name='memory_vec'`,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) getEmbeddingDim() (int, bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'embedding_dim'`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	dim, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, err
	}
	return dim, true, nil
}

func (s *Store) setEmbeddingDim(dim int) error {
	_, err := s.db.Exec(
		`INSERT INTO meta(key, value) VALUES ('embedding_dim', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		strconv.Itoa(dim))
	return err
}

// ensureVecTable creates the vec0 table on first use and is a no-op once the
// dimension has stabilized. Memento does not support changing the active
// embedding dimension without a reindex (see spec.md §4.2); a mismatch here
// means the caller switched providers without clearing memory_vec first.
func (s *Store) ensureVecTable(dim int) error {
	stored, ok, err := s.getEmbeddingDim()
	if err != nil {
		return err
	}
	if !ok {
		if err := s.setEmbeddingDim(dim); err != nil {
			return err
		}
		return s.createVecTable(dim)
	}
	if stored != dim {
		return fmt.Errorf("sqlite store: embedding dimension mismatch: have %d, got %d; reindex required", stored, dim)
	}
	return nil
}
