package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/memento-ai/memento/internal/memerr"
	"github.com/memento-ai/memento/internal/model"
	registrystore "github.com/memento-ai/memento/internal/registry/store"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const memorySelectCols = `id, type, content, importance, privacy_scope, created_at, last_accessed,
	pinned, tags_json, source, view_count, cite_count, edit_count, project,
	"user", agent, last_review, review_due`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*model.Memory, error) {
	var m model.Memory
	var idStr, typeStr, privacyStr string
	var lastAccessed, lastReview, reviewDue sql.NullTime
	var tagsJSON string
	var source, project, user, agent sql.NullString

	if err := row.Scan(
		&idStr, &typeStr, &m.Content, &m.Importance, &privacyStr, &m.CreatedAt,
		&lastAccessed, &m.Pinned, &tagsJSON, &source, &m.ViewCount, &m.CiteCount,
		&m.EditCount, &project, &user, &agent, &lastReview, &reviewDue,
	); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("postgres store: bad memory id %q: %w", idStr, err)
	}
	m.ID = id
	m.Type = model.Type(typeStr)
	m.PrivacyScope = model.PrivacyScope(privacyStr)
	m.Source = source.String
	m.Project = project.String
	m.User = user.String
	m.Agent = agent.String
	if lastAccessed.Valid {
		m.LastAccessed = &lastAccessed.Time
	}
	if lastReview.Valid {
		m.LastReview = &lastReview.Time
	}
	if reviewDue.Valid {
		m.ReviewDue = &reviewDue.Time
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

// --- Memory CRUD ---

func (s *Store) CreateMemory(ctx context.Context, m *model.Memory) error {
	tagsJSON, err := marshalTags(m.Tags)
	if err != nil {
		return err
	}
	return s.withRetry(ctx, "memory_item", func() error {
		return s.db.WithContext(ctx).Exec(`
			INSERT INTO memory_item (
				id, type, content, importance, privacy_scope, created_at,
				last_accessed, pinned, tags_json, source, view_count,
				cite_count, edit_count, project, "user", agent, last_review,
				review_due
			) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			m.ID.String(), string(m.Type), m.Content, m.Importance, string(m.PrivacyScope),
			m.CreatedAt.UTC(), nullableTime(m.LastAccessed), m.Pinned, tagsJSON,
			nullString(m.Source), m.ViewCount, m.CiteCount, m.EditCount,
			nullString(m.Project), nullString(m.User), nullString(m.Agent),
			nullableTime(m.LastReview), nullableTime(m.ReviewDue),
		).Error
	})
}

func (s *Store) GetMemory(ctx context.Context, id uuid.UUID) (*model.Memory, error) {
	row := s.db.WithContext(ctx).Raw(`SELECT `+memorySelectCols+` FROM memory_item WHERE id = ?`, id.String()).Row()
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
		res := s.db.WithContext(ctx).Exec(`
			UPDATE memory_item SET
				content = ?, importance = ?, privacy_scope = ?, tags_json = ?,
				source = ?, edit_count = edit_count + 1
			WHERE id = ?`,
			m.Content, m.Importance, string(m.PrivacyScope), tagsJSON, nullString(m.Source), m.ID.String(),
		)
		if res.Error != nil {
			return res.Error
		}
		return requireAffected(res.RowsAffected, "memory", m.ID.String())
	})
}

func (s *Store) SetPinned(ctx context.Context, id uuid.UUID, pinned bool) error {
	return s.withRetry(ctx, "memory_item", func() error {
		res := s.db.WithContext(ctx).Exec(`UPDATE memory_item SET pinned = ? WHERE id = ?`, pinned, id.String())
		if res.Error != nil {
			return res.Error
		}
		return requireAffected(res.RowsAffected, "memory", id.String())
	})
}

func (s *Store) TouchAccess(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.withRetry(ctx, "memory_item", func() error {
		res := s.db.WithContext(ctx).Exec(`UPDATE memory_item SET last_accessed = ? WHERE id = ?`, at.UTC(), id.String())
		if res.Error != nil {
			return res.Error
		}
		return requireAffected(res.RowsAffected, "memory", id.String())
	})
}

func (s *Store) IncrementCounter(ctx context.Context, id uuid.UUID, field string, delta int64) error {
	col, ok := counterColumn(field)
	if !ok {
		return fmt.Errorf("postgres store: unknown counter %q", field)
	}
	return s.withRetry(ctx, "memory_item", func() error {
		res := s.db.WithContext(ctx).Exec(fmt.Sprintf(`UPDATE memory_item SET %s = %s + ? WHERE id = ?`, col, col), delta, id.String())
		if res.Error != nil {
			return res.Error
		}
		return requireAffected(res.RowsAffected, "memory", id.String())
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
// reset usage counters, and touch last_accessed. HardDelete alone removes
// the row.
func (s *Store) SoftDelete(ctx context.Context, id uuid.UUID) error {
	return s.withRetry(ctx, "memory_item", func() error {
		res := s.db.WithContext(ctx).Exec(`
			UPDATE memory_item SET
				pinned = FALSE, view_count = 0, cite_count = 0, edit_count = 0, last_accessed = ?
			WHERE id = ?`, time.Now().UTC(), id.String())
		if res.Error != nil {
			return res.Error
		}
		return requireAffected(res.RowsAffected, "memory", id.String())
	})
}

func (s *Store) ScheduleReview(ctx context.Context, id uuid.UUID, at time.Time, nextInterval time.Duration) error {
	return s.withRetry(ctx, "memory_item", func() error {
		res := s.db.WithContext(ctx).Exec(`
			UPDATE memory_item SET last_review = ?, review_due = ? WHERE id = ?`,
			at.UTC(), at.Add(nextInterval).UTC(), id.String(),
		)
		if res.Error != nil {
			return res.Error
		}
		return requireAffected(res.RowsAffected, "memory", id.String())
	})
}

func (s *Store) HardDelete(ctx context.Context, id uuid.UUID) error {
	return s.withRetry(ctx, "memory_item", func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec(`DELETE FROM memory_item WHERE id = ?`, id.String()).Error; err != nil {
				return err
			}
			if err := tx.Exec(`DELETE FROM memory_embedding WHERE memory_id = ?`, id.String()).Error; err != nil {
				return err
			}
			if err := tx.Exec(`DELETE FROM memory_link WHERE source_id = ? OR target_id = ?`, id.String(), id.String()).Error; err != nil {
				return err
			}
			return tx.Exec(`DELETE FROM memory_feedback WHERE memory_id = ?`, id.String()).Error
		})
	})
}

func (s *Store) AdminGetMemoryByID(ctx context.Context, id uuid.UUID) (*model.Memory, error) {
	return s.GetMemory(ctx, id)
}

func (s *Store) AdminForceDeleteMemory(ctx context.Context, id uuid.UUID) error {
	return s.HardDelete(ctx, id)
}

func (s *Store) Stats(ctx context.Context) (registrystore.Stats, error) {
	stats := registrystore.Stats{TotalByType: make(map[model.Type]int64)}

	rows, err := s.db.WithContext(ctx).Raw(`SELECT type, COUNT(*) FROM memory_item GROUP BY type`).Rows()
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

	if err := s.db.WithContext(ctx).Raw(`SELECT COUNT(*) FROM memory_item WHERE pinned`).Row().Scan(&stats.Pinned); err != nil {
		return stats, err
	}
	return stats, nil
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
		clauses = append(clauses, alias+`."user" = ?`)
		args = append(args, f.User)
	}
	if f.Agent != "" {
		clauses = append(clauses, alias+".agent = ?")
		args = append(args, f.Agent)
	}
	if f.PinnedOnly {
		clauses = append(clauses, alias+".pinned")
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *Store) ListCandidates(ctx context.Context, filter registrystore.Filter, limit, offset int) ([]model.Memory, error) {
	where, args := buildFilterWhere("m", filter)
	q := `SELECT ` + aliasedCols("m") + ` FROM memory_item m` + where + ` ORDER BY m.created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.WithContext(ctx).Raw(q, args...).Rows()
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
	"cite_count", "edit_count", "project", `"user"`, "agent", "last_review",
	"review_due",
}

func aliasedCols(alias string) string {
	qualified := make([]string, len(memoryColumnNames))
	for i, c := range memoryColumnNames {
		qualified[i] = alias + "." + c
	}
	return strings.Join(qualified, ", ")
}

func (s *Store) ForgetSweepCandidates(ctx context.Context, types []model.Type, minAge time.Duration, limit int) ([]registrystore.ForgetCandidate, error) {
	filter := registrystore.Filter{Types: types}
	where, args := buildFilterWhere("m", filter)
	cutoff := time.Now().Add(-minAge).UTC()
	ageClause := "m.created_at <= ? AND NOT m.pinned"
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
		aliasedCols("m"), where)
	args = append(args, limit)

	rows, err := s.db.WithContext(ctx).Raw(q, args...).Rows()
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

func scanForgetCandidateRow(rows *sql.Rows, c *registrystore.ForgetCandidate) (*model.Memory, error) {
	var m model.Memory
	var idStr, typeStr, privacyStr string
	var lastAccessed, lastReview, reviewDue sql.NullTime
	var tagsJSON string
	var source, project, user, agent sql.NullString

	if err := rows.Scan(
		&idStr, &typeStr, &m.Content, &m.Importance, &privacyStr, &m.CreatedAt,
		&lastAccessed, &m.Pinned, &tagsJSON, &source, &m.ViewCount, &m.CiteCount,
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
	m.Source = source.String
	m.Project = project.String
	m.User = user.String
	m.Agent = agent.String
	if lastAccessed.Valid {
		m.LastAccessed = &lastAccessed.Time
	}
	if lastReview.Valid {
		m.LastReview = &lastReview.Time
	}
	if reviewDue.Valid {
		m.ReviewDue = &reviewDue.Time
	}
	_ = json.Unmarshal([]byte(tagsJSON), &m.Tags)
	return &m, nil
}

// LexicalSearch runs a tsvector/ts_rank query over memory content, mirroring
// the teacher's SearchEntries prefix-matching approach.
func (s *Store) LexicalSearch(ctx context.Context, query string, filter registrystore.Filter, limit int) ([]registrystore.LexicalResult, error) {
	tsQuery := toPrefixTsQuery(query)
	if tsQuery == "" {
		return nil, nil
	}

	where, args := buildFilterWhere("m", filter)
	where = strings.Replace(where, " WHERE ", " AND ", 1)
	queryArgs := []any{tsQuery}
	queryArgs = append(queryArgs, args...)
	queryArgs = append(queryArgs, tsQuery, limit)

	q := fmt.Sprintf(`
		SELECT %s, ts_rank(m.content_tsv, to_tsquery('english', ?)) AS score
		FROM memory_item m
		WHERE m.content_tsv @@ to_tsquery('english', ?)%s
		ORDER BY score DESC
		LIMIT ?`, aliasedCols("m"), where)

	rows, err := s.db.WithContext(ctx).Raw(q, queryArgs...).Rows()
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

// toPrefixTsQuery turns free text into a tsquery of AND'd prefix terms,
// stripping characters with special meaning in tsquery syntax.
func toPrefixTsQuery(query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return ""
	}
	words := strings.Fields(query)
	parts := make([]string, 0, len(words))
	for _, word := range words {
		escaped := escapeTsQueryWord(word)
		if escaped != "" {
			parts = append(parts, escaped+":*")
		}
	}
	return strings.Join(parts, " & ")
}

func escapeTsQueryWord(word string) string {
	var b strings.Builder
	for _, r := range word {
		switch r {
		case '&', '|', '!', '(', ')', ':', '\'', '\\', '*':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func scanMemoryWithScore(rows *sql.Rows, score *float64) (*model.Memory, error) {
	var m model.Memory
	var idStr, typeStr, privacyStr string
	var lastAccessed, lastReview, reviewDue sql.NullTime
	var tagsJSON string
	var source, project, user, agent sql.NullString

	if err := rows.Scan(
		&idStr, &typeStr, &m.Content, &m.Importance, &privacyStr, &m.CreatedAt,
		&lastAccessed, &m.Pinned, &tagsJSON, &source, &m.ViewCount, &m.CiteCount,
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
	m.Source = source.String
	m.Project = project.String
	m.User = user.String
	m.Agent = agent.String
	if lastAccessed.Valid {
		m.LastAccessed = &lastAccessed.Time
	}
	if lastReview.Valid {
		m.LastReview = &lastReview.Time
	}
	if reviewDue.Valid {
		m.ReviewDue = &reviewDue.Time
	}
	_ = json.Unmarshal([]byte(tagsJSON), &m.Tags)
	return &m, nil
}

// --- Embedding pipeline ---

func (s *Store) FindPendingEmbeddings(ctx context.Context, limit int) ([]registrystore.PendingEmbedding, error) {
	rows, err := s.db.WithContext(ctx).Raw(`
		SELECT m.id, m.content FROM memory_item m
		LEFT JOIN memory_embedding e ON e.memory_id = m.id
		WHERE e.memory_id IS NULL
		LIMIT ?`, limit).Rows()
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
	return s.db.WithContext(ctx).Exec(`
		INSERT INTO memory_embedding (memory_id, dim, model, created_at)
		VALUES (?,?,?,?)
		ON CONFLICT (memory_id) DO UPDATE SET dim = excluded.dim, model = excluded.model, created_at = excluded.created_at`,
		e.MemoryID.String(), e.Dim, e.Model, e.CreatedAt.UTC()).Error
}

func (s *Store) GetEmbedding(ctx context.Context, memoryID uuid.UUID) (*model.Embedding, error) {
	var e model.Embedding
	var idStr string
	row := s.db.WithContext(ctx).Raw(`SELECT memory_id, dim, model, created_at FROM memory_embedding WHERE memory_id = ?`, memoryID.String()).Row()
	err := row.Scan(&idStr, &e.Dim, &e.Model, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.MemoryID, err = uuid.Parse(idStr)
	return &e, err
}

// --- Link graph ---

func (s *Store) CreateLink(ctx context.Context, l *model.Link) error {
	return s.db.WithContext(ctx).Exec(`
		INSERT INTO memory_link (source_id, target_id, relation, created_at) VALUES (?,?,?,?)`,
		l.SourceID.String(), l.TargetID.String(), string(l.Relation), l.CreatedAt.UTC()).Error
}

func (s *Store) LinksFrom(ctx context.Context, memoryID uuid.UUID, relation model.Relation) ([]model.Link, error) {
	return s.queryLinks(ctx, `SELECT id, source_id, target_id, relation, created_at FROM memory_link WHERE source_id = ? AND relation = ?`, memoryID.String(), string(relation))
}

func (s *Store) LinksTo(ctx context.Context, memoryID uuid.UUID, relation model.Relation) ([]model.Link, error) {
	return s.queryLinks(ctx, `SELECT id, source_id, target_id, relation, created_at FROM memory_link WHERE target_id = ? AND relation = ?`, memoryID.String(), string(relation))
}

func (s *Store) queryLinks(ctx context.Context, q string, args ...any) ([]model.Link, error) {
	rows, err := s.db.WithContext(ctx).Raw(q, args...).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Link
	for rows.Next() {
		var l model.Link
		var sourceStr, targetStr, relation string
		if err := rows.Scan(&l.ID, &sourceStr, &targetStr, &relation, &l.CreatedAt); err != nil {
			return nil, err
		}
		if l.SourceID, err = uuid.Parse(sourceStr); err != nil {
			return nil, err
		}
		if l.TargetID, err = uuid.Parse(targetStr); err != nil {
			return nil, err
		}
		l.Relation = model.Relation(relation)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) DeleteLinksForMemory(ctx context.Context, memoryID uuid.UUID) error {
	return s.db.WithContext(ctx).Exec(`DELETE FROM memory_link WHERE source_id = ? OR target_id = ?`, memoryID.String(), memoryID.String()).Error
}

// --- Feedback ---

func (s *Store) AppendFeedback(ctx context.Context, f *model.Feedback) error {
	return s.db.WithContext(ctx).Exec(`
		INSERT INTO memory_feedback (memory_id, event_type, score, created_at) VALUES (?,?,?,?)`,
		f.MemoryID.String(), string(f.EventType), f.Score, f.CreatedAt.UTC()).Error
}

func (s *Store) RecentFeedback(ctx context.Context, memoryID uuid.UUID, limit int) ([]model.Feedback, error) {
	rows, err := s.db.WithContext(ctx).Raw(`
		SELECT id, memory_id, event_type, score, created_at FROM memory_feedback
		WHERE memory_id = ? ORDER BY created_at DESC LIMIT ?`, memoryID.String(), limit).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Feedback
	for rows.Next() {
		var f model.Feedback
		var idStr, eventType string
		if err := rows.Scan(&f.ID, &idStr, &eventType, &f.Score, &f.CreatedAt); err != nil {
			return nil, err
		}
		if f.MemoryID, err = uuid.Parse(idStr); err != nil {
			return nil, err
		}
		f.EventType = model.EventType(eventType)
		out = append(out, f)
	}
	return out, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
