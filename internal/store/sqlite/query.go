package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/memento-ai/memento/internal/model"
	registrystore "github.com/memento-ai/memento/internal/registry/store"

	"github.com/google/uuid"
)

const memorySelectCols = `SELECT
	id, type, content, importance, privacy_scope, created_at, last_accessed,
	pinned, tags_json, source, view_count, cite_count, edit_count, project,
	user, agent, last_review, review_due`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*model.Memory, error) {
	var m model.Memory
	var idStr, typeStr, privacyStr, createdAt string
	var lastAccessed, lastReview, reviewDue sql.NullString
	var pinned int
	var tagsJSON string
	var source, project, user, agent sql.NullString

	if err := row.Scan(
		&idStr, &typeStr, &m.Content, &m.Importance, &privacyStr, &createdAt,
		&lastAccessed, &pinned, &tagsJSON, &source, &m.ViewCount, &m.CiteCount,
		&m.EditCount, &project, &user, &agent, &lastReview, &reviewDue,
	); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: bad memory id %q: %w", idStr, err)
	}
	m.ID = id
	m.Type = model.Type(typeStr)
	m.PrivacyScope = model.PrivacyScope(privacyStr)
	m.Pinned = pinned != 0
	m.Source = source.String
	m.Project = project.String
	m.User = user.String
	m.Agent = agent.String

	if m.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, err
	}
	if m.LastAccessed, err = parseNullableTime(lastAccessed); err != nil {
		return nil, err
	}
	if m.LastReview, err = parseNullableTime(lastReview); err != nil {
		return nil, err
	}
	if m.ReviewDue, err = parseNullableTime(reviewDue); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tagsJSON), &m.Tags); err != nil {
		m.Tags = nil
	}
	return &m, nil
}

func marshalTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func buildFilterWhere(alias string, f registrystore.Filter) (string, []any) {
	var clauses []string
	var args []any

	if len(f.Types) > 0 {
		placeholders := make([]string, len(f.Types))
		for i, t := range f.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		clauses = append(clauses, fmt.Sprintf("%s.type IN (%s)", alias, strings.Join(placeholders, ",")))
	}
	if len(f.PrivacyScope) > 0 {
		placeholders := make([]string, len(f.PrivacyScope))
		for i, p := range f.PrivacyScope {
			placeholders[i] = "?"
			args = append(args, string(p))
		}
		clauses = append(clauses, fmt.Sprintf("%s.privacy_scope IN (%s)", alias, strings.Join(placeholders, ",")))
	}
	if f.Project != "" {
		clauses = append(clauses, alias+".project = ?")
		args = append(args, f.Project)
	}
	if f.User != "" {
		clauses = append(clauses, alias+".user = ?")
		args = append(args, f.User)
	}
	if f.Agent != "" {
		clauses = append(clauses, alias+".agent = ?")
		args = append(args, f.Agent)
	}
	if f.PinnedOnly {
		clauses = append(clauses, alias+".pinned = 1")
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *Store) ListCandidates(ctx context.Context, filter registrystore.Filter, limit, offset int) ([]model.Memory, error) {
	where, args := buildFilterWhere("m", filter)
	q := memorySelectColsAliased("m") + ` FROM memory_item m` + where + ` ORDER BY m.created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

var memoryColumnNames = []string{
	"id", "type", "content", "importance", "privacy_scope", "created_at",
	"last_accessed", "pinned", "tags_json", "source", "view_count",
	"cite_count", "edit_count", "project", "user", "agent", "last_review",
	"review_due",
}

// memorySelectColsAliased returns a SELECT column list with every memory_item
// column qualified by alias, needed whenever the query joins in another table
// (such as memory_item_fts, whose content/tags columns would otherwise
// collide with memory_item's own).
func memorySelectColsAliased(alias string) string {
	qualified := make([]string, len(memoryColumnNames))
	for i, c := range memoryColumnNames {
		qualified[i] = alias + "." + c
	}
	return "SELECT " + strings.Join(qualified, ", ")
}

func (s *Store) ForgetSweepCandidates(ctx context.Context, types []model.Type, minAge time.Duration, limit int) ([]registrystore.ForgetCandidate, error) {
	filter := registrystore.Filter{Types: types}
	where, args := buildFilterWhere("m", filter)
	cutoff := time.Now().Add(-minAge).UTC().Format(time.RFC3339Nano)
	ageClause := "m.created_at <= ? AND m.pinned = 0"
	if where == "" {
		where = " WHERE " + ageClause
	} else {
		where += " AND " + ageClause
	}
	args = append(args, cutoff)

	q := fmt.Sprintf(`
		SELECT %s,
			(SELECT COUNT(*) FROM memory_feedback f WHERE f.memory_id = m.id) AS feedback_count,
			(SELECT COUNT(*) FROM memory_feedback f WHERE f.memory_id = m.id AND f.event_type = 'helpful') AS helpful_count,
			(SELECT COUNT(*) FROM memory_feedback f WHERE f.memory_id = m.id AND f.event_type = 'unhelpful') AS unhelpful_count
		FROM memory_item m%s ORDER BY m.created_at ASC LIMIT ?`,
		strings.TrimPrefix(memorySelectColsAliased("m"), "SELECT "), where)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []registrystore.ForgetCandidate
	for rows.Next() {
		var c registrystore.ForgetCandidate
		m, err := scanForgetCandidateRow(rows, &c)
		if err != nil {
			return nil, err
		}
		c.Memory = *m
		out = append(out, c)
	}
	return out, rows.Err()
}

// scanForgetCandidateRow scans the 18 memory columns followed by the three
// trailing aggregate counts appended by ForgetSweepCandidates' query.
func scanForgetCandidateRow(rows *sql.Rows, c *registrystore.ForgetCandidate) (*model.Memory, error) {
	var m model.Memory
	var idStr, typeStr, privacyStr, createdAt string
	var lastAccessed, lastReview, reviewDue sql.NullString
	var pinned int
	var tagsJSON string
	var source, project, user, agent sql.NullString

	if err := rows.Scan(
		&idStr, &typeStr, &m.Content, &m.Importance, &privacyStr, &createdAt,
		&lastAccessed, &pinned, &tagsJSON, &source, &m.ViewCount, &m.CiteCount,
		&m.EditCount, &project, &user, &agent, &lastReview, &reviewDue,
		&c.FeedbackCount, &c.HelpfulCount, &c.UnhelpfulCount,
	); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	m.ID = id
	m.Type = model.Type(typeStr)
	m.PrivacyScope = model.PrivacyScope(privacyStr)
	m.Pinned = pinned != 0
	m.Source = source.String
	m.Project = project.String
	m.User = user.String
	m.Agent = agent.String
	if m.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, err
	}
	if m.LastAccessed, err = parseNullableTime(lastAccessed); err != nil {
		return nil, err
	}
	if m.LastReview, err = parseNullableTime(lastReview); err != nil {
		return nil, err
	}
	if m.ReviewDue, err = parseNullableTime(reviewDue); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(tagsJSON), &m.Tags)
	return &m, nil
}

// LexicalSearch runs an FTS5 BM25 query over memory content and tags.
func (s *Store) LexicalSearch(ctx context.Context, query string, filter registrystore.Filter, limit int) ([]registrystore.LexicalResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	terms := strings.Fields(query)
	ftsParts := make([]string, len(terms))
	for i, t := range terms {
		ftsParts[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"*`
	}
	ftsQuery := strings.Join(ftsParts, " OR ")

	where, args := buildFilterWhere("m", filter)
	where = strings.Replace(where, " WHERE ", " AND ", 1)
	args = append([]any{ftsQuery}, args...)
	args = append(args, limit)

	q := fmt.Sprintf(`
		SELECT %s, -fts.rank AS score
		FROM memory_item_fts fts
		JOIN memory_item m ON m.rowid = fts.rowid
		WHERE fts MATCH ?%s
		ORDER BY fts.rank
		LIMIT ?`, strings.TrimPrefix(memorySelectColsAliased("m"), "SELECT "), where)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []registrystore.LexicalResult
	for rows.Next() {
		var score float64
		m, err := scanMemoryWithScore(rows, &score)
		if err != nil {
			return nil, err
		}
		out = append(out, registrystore.LexicalResult{Memory: *m, Score: score})
	}
	return out, rows.Err()
}

func scanMemoryWithScore(rows *sql.Rows, score *float64) (*model.Memory, error) {
	var m model.Memory
	var idStr, typeStr, privacyStr, createdAt string
	var lastAccessed, lastReview, reviewDue sql.NullString
	var pinned int
	var tagsJSON string
	var source, project, user, agent sql.NullString

	if err := rows.Scan(
		&idStr, &typeStr, &m.Content, &m.Importance, &privacyStr, &createdAt,
		&lastAccessed, &pinned, &tagsJSON, &source, &m.ViewCount, &m.CiteCount,
		&m.EditCount, &project, &user, &agent, &lastReview, &reviewDue, score,
	); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	m.ID = id
	m.Type = model.Type(typeStr)
	m.PrivacyScope = model.PrivacyScope(privacyStr)
	m.Pinned = pinned != 0
	m.Source = source.String
	m.Project = project.String
	m.User = user.String
	m.Agent = agent.String
	if m.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, err
	}
	if m.LastAccessed, err = parseNullableTime(lastAccessed); err != nil {
		return nil, err
	}
	if m.LastReview, err = parseNullableTime(lastReview); err != nil {
		return nil, err
	}
	if m.ReviewDue, err = parseNullableTime(reviewDue); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(tagsJSON), &m.Tags)
	return &m, nil
}

// --- Embedding pipeline ---

func (s *Store) FindPendingEmbeddings(ctx context.Context, limit int) ([]registrystore.PendingEmbedding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.content FROM memory_item m
		LEFT JOIN memory_embedding e ON e.memory_id = m.id
		WHERE e.memory_id IS NULL
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []registrystore.PendingEmbedding
	for rows.Next() {
		var idStr, content string
		if err := rows.Scan(&idStr, &content); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, err
		}
		out = append(out, registrystore.PendingEmbedding{MemoryID: id, Content: content})
	}
	return out, rows.Err()
}

func (s *Store) UpsertEmbedding(ctx context.Context, e *model.Embedding) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_embedding (memory_id, dim, model, created_at)
		VALUES (?,?,?,?)
		ON CONFLICT(memory_id) DO UPDATE SET dim = excluded.dim, model = excluded.model, created_at = excluded.created_at`,
		e.MemoryID.String(), e.Dim, e.Model, e.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *Store) GetEmbedding(ctx context.Context, memoryID uuid.UUID) (*model.Embedding, error) {
	var e model.Embedding
	var idStr, createdAt string
	err := s.db.QueryRowContext(ctx, `SELECT memory_id, dim, model, created_at FROM memory_embedding WHERE memory_id = ?`, memoryID.String()).
		Scan(&idStr, &e.Dim, &e.Model, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.MemoryID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	return &e, err
}

// --- Link graph ---

func (s *Store) CreateLink(ctx context.Context, l *model.Link) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_link (source_id, target_id, relation, created_at) VALUES (?,?,?,?)`,
		l.SourceID.String(), l.TargetID.String(), string(l.Relation), l.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *Store) LinksFrom(ctx context.Context, memoryID uuid.UUID, relation model.Relation) ([]model.Link, error) {
	return s.queryLinks(ctx, `SELECT id, source_id, target_id, relation, created_at FROM memory_link WHERE source_id = ? AND relation = ?`, memoryID.String(), string(relation))
}

func (s *Store) LinksTo(ctx context.Context, memoryID uuid.UUID, relation model.Relation) ([]model.Link, error) {
	return s.queryLinks(ctx, `SELECT id, source_id, target_id, relation, created_at FROM memory_link WHERE target_id = ? AND relation = ?`, memoryID.String(), string(relation))
}

func (s *Store) queryLinks(ctx context.Context, q string, args ...any) ([]model.Link, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Link
	for rows.Next() {
		var l model.Link
		var sourceStr, targetStr, relation, createdAt string
		if err := rows.Scan(&l.ID, &sourceStr, &targetStr, &relation, &createdAt); err != nil {
			return nil, err
		}
		if l.SourceID, err = uuid.Parse(sourceStr); err != nil {
			return nil, err
		}
		if l.TargetID, err = uuid.Parse(targetStr); err != nil {
			return nil, err
		}
		l.Relation = model.Relation(relation)
		if l.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) DeleteLinksForMemory(ctx context.Context, memoryID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memory_link WHERE source_id = ? OR target_id = ?`, memoryID.String(), memoryID.String())
	return err
}

// --- Feedback ---

func (s *Store) AppendFeedback(ctx context.Context, f *model.Feedback) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_feedback (memory_id, event_type, score, created_at) VALUES (?,?,?,?)`,
		f.MemoryID.String(), string(f.EventType), f.Score, f.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *Store) RecentFeedback(ctx context.Context, memoryID uuid.UUID, limit int) ([]model.Feedback, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, memory_id, event_type, score, created_at FROM memory_feedback
		WHERE memory_id = ? ORDER BY created_at DESC LIMIT ?`, memoryID.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Feedback
	for rows.Next() {
		var f model.Feedback
		var idStr, eventType, createdAt string
		if err := rows.Scan(&f.ID, &idStr, &eventType, &f.Score, &createdAt); err != nil {
			return nil, err
		}
		if f.MemoryID, err = uuid.Parse(idStr); err != nil {
			return nil, err
		}
		f.EventType = model.EventType(eventType)
		if f.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
