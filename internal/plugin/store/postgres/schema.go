package postgres

import "fmt"

func (s *Store) createSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memory_item (
			id             TEXT PRIMARY KEY,
			type           TEXT NOT NULL,
			content        TEXT NOT NULL,
			importance     DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			privacy_scope  TEXT NOT NULL DEFAULT 'private',
			created_at     TIMESTAMPTZ NOT NULL,
			last_accessed  TIMESTAMPTZ,
			pinned         BOOLEAN NOT NULL DEFAULT FALSE,
			tags_json      TEXT NOT NULL DEFAULT '[]',
			source         TEXT,
			view_count     BIGINT NOT NULL DEFAULT 0,
			cite_count     BIGINT NOT NULL DEFAULT 0,
			edit_count     BIGINT NOT NULL DEFAULT 0,
			project        TEXT,
			"user"         TEXT,
			agent          TEXT,
			last_review    TIMESTAMPTZ,
			review_due     TIMESTAMPTZ,
			content_tsv    TSVECTOR GENERATED ALWAYS AS (to_tsvector('english', content)) STORED
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_item_type ON memory_item(type)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_item_pinned ON memory_item(pinned)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_item_created_at ON memory_item(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_item_content_tsv ON memory_item USING GIN(content_tsv)`,
		`CREATE TABLE IF NOT EXISTS memory_embedding (
			memory_id  TEXT PRIMARY KEY REFERENCES memory_item(id) ON DELETE CASCADE,
			dim        INTEGER NOT NULL,
			model      TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS memory_link (
			id         BIGSERIAL PRIMARY KEY,
			source_id  TEXT NOT NULL,
			target_id  TEXT NOT NULL,
			relation   TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_link_source ON memory_link(source_id, relation)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_link_target ON memory_link(target_id, relation)`,
		`CREATE TABLE IF NOT EXISTS memory_feedback (
			id         BIGSERIAL PRIMARY KEY,
			memory_id  TEXT NOT NULL,
			event_type TEXT NOT NULL,
			score      DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_feedback_memory ON memory_feedback(memory_id, created_at)`,
	}
	for _, stmt := range stmts {
		if err := s.db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("postgres store: create schema: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}
