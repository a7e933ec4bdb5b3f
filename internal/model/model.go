// Package model defines the canonical entities of the memory engine: the
// Memory row itself, its embedding, the link graph between memories, and
// the append-only feedback log.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Type classifies a Memory and governs its halflife and TTL gates.
type Type string

const (
	TypeWorking    Type = "working"
	TypeEpisodic   Type = "episodic"
	TypeSemantic   Type = "semantic"
	TypeProcedural Type = "procedural"
)

// Valid reports whether t is one of the four recognized memory types.
func (t Type) Valid() bool {
	switch t {
	case TypeWorking, TypeEpisodic, TypeSemantic, TypeProcedural:
		return true
	default:
		return false
	}
}

// PrivacyScope controls who a memory is visible to. Authorization itself is
// out of scope (single-user); the scope is carried for filtering only.
type PrivacyScope string

const (
	PrivacyPrivate PrivacyScope = "private"
	PrivacyTeam    PrivacyScope = "team"
	PrivacyPublic  PrivacyScope = "public"
)

// Valid reports whether s is a recognized privacy scope.
func (s PrivacyScope) Valid() bool {
	switch s {
	case PrivacyPrivate, PrivacyTeam, PrivacyPublic:
		return true
	default:
		return false
	}
}

// Memory is the canonical stored entity. A Memory is created by store,
// mutated by pin/unpin, last-accessed refresh, and usage-counter increments,
// and eventually soft- then hard-deleted by the forgetting controller.
type Memory struct {
	ID           uuid.UUID    `json:"id" gorm:"primaryKey;type:text"`
	Type         Type         `json:"type" gorm:"not null;index"`
	Content      string       `json:"content" gorm:"not null"`
	Importance   float64      `json:"importance" gorm:"not null;default:0.5"`
	PrivacyScope PrivacyScope `json:"privacy_scope" gorm:"not null;default:private"`
	CreatedAt    time.Time    `json:"created_at" gorm:"not null;index"`
	LastAccessed *time.Time   `json:"last_accessed,omitempty"`
	Pinned       bool         `json:"pinned" gorm:"not null;default:false;index"`
	Tags         []string     `json:"tags" gorm:"-"`
	TagsJSON     string       `json:"-" gorm:"column:tags_json;not null;default:'[]'"`
	Source       string       `json:"source,omitempty"`
	ViewCount    int64        `json:"view_count" gorm:"not null;default:0"`
	CiteCount    int64        `json:"cite_count" gorm:"not null;default:0"`
	EditCount    int64        `json:"edit_count" gorm:"not null;default:0"`
	Project      string       `json:"project,omitempty"`
	User         string       `json:"user,omitempty"`
	Agent        string       `json:"agent,omitempty"`
	LastReview   *time.Time   `json:"last_review,omitempty"`
	ReviewDue    *time.Time   `json:"review_due,omitempty"`
}

// TableName implements gorm.Tabler.
func (Memory) TableName() string { return "memory_item" }

// TitleHint returns the first line of content up to 120 runes, used by the
// title-hit relevance feature per the spec's open-question resolution: the
// persisted schema carries no dedicated title column.
func (m Memory) TitleHint() string {
	line := m.Content
	for i, r := range m.Content {
		if r == '\n' {
			line = m.Content[:i]
			break
		}
	}
	runes := []rune(line)
	if len(runes) > 120 {
		runes = runes[:120]
	}
	return string(runes)
}

// Embedding is the single vector representation of a Memory's content at the
// time it was embedded. At most one Embedding exists per memory.
type Embedding struct {
	MemoryID  uuid.UUID `json:"memory_id" gorm:"primaryKey;type:text;column:memory_id"`
	Vector    []float32 `json:"-" gorm:"-"`
	Dim       int       `json:"dim" gorm:"not null"`
	Model     string    `json:"model" gorm:"not null"`
	CreatedAt time.Time `json:"created_at" gorm:"not null"`
}

// TableName implements gorm.Tabler.
func (Embedding) TableName() string { return "memory_embedding" }

// Relation classifies a directed edge between two memories.
type Relation string

const (
	RelationDerivedFrom Relation = "derived_from"
	RelationDuplicates  Relation = "duplicates"
	RelationReferences  Relation = "references"
)

// Link is a directed edge {source, target, relation}. Links are deleted
// transitively when either endpoint is hard-deleted.
type Link struct {
	ID        int64     `json:"-" gorm:"primaryKey;autoIncrement"`
	SourceID  uuid.UUID `json:"source_memory" gorm:"not null;index;type:text;column:source_id"`
	TargetID  uuid.UUID `json:"target_memory" gorm:"not null;index;type:text;column:target_id"`
	Relation  Relation  `json:"relation" gorm:"not null"`
	CreatedAt time.Time `json:"created_at" gorm:"not null"`
}

// TableName implements gorm.Tabler.
func (Link) TableName() string { return "memory_link" }

// EventType classifies a Feedback record.
type EventType string

const (
	EventHelpful   EventType = "helpful"
	EventUnhelpful EventType = "unhelpful"
	EventUsed      EventType = "used"
	EventCited     EventType = "cited"
)

// Feedback is an append-only record feeding the usage and spaced-repetition
// inputs to ranking and forgetting.
type Feedback struct {
	ID        int64     `json:"-" gorm:"primaryKey;autoIncrement"`
	MemoryID  uuid.UUID `json:"memory_id" gorm:"not null;index;type:text;column:memory_id"`
	EventType EventType `json:"event_type" gorm:"not null"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at" gorm:"not null;index"`
}

// TableName implements gorm.Tabler.
func (Feedback) TableName() string { return "memory_feedback" }

// Halflife returns the recency halflife, in days, for the memory type.
func (t Type) Halflife() float64 {
	switch t {
	case TypeWorking:
		return 2
	case TypeEpisodic:
		return 30
	case TypeSemantic:
		return 180
	case TypeProcedural:
		return 90
	default:
		return 30
	}
}

// ImportanceBoost returns the type-specific importance boost applied in the
// Ranking Core's importance feature.
func (t Type) ImportanceBoost() float64 {
	switch t {
	case TypeSemantic:
		return 0.1
	case TypeProcedural:
		return 0.05
	case TypeEpisodic:
		return 0
	case TypeWorking:
		return -0.05
	default:
		return 0
	}
}

// TTLSoftDays returns the minimum age, in days, before the soft-delete gate
// may fire for the type.
func (t Type) TTLSoftDays() float64 {
	switch t {
	case TypeWorking:
		return 2
	case TypeEpisodic:
		return 30
	case TypeSemantic:
		return 180
	case TypeProcedural:
		return 90
	default:
		return 30
	}
}

// TTLHardDays returns the minimum age, in days, before the hard-delete gate
// may fire for the type.
func (t Type) TTLHardDays() float64 {
	switch t {
	case TypeWorking:
		return 7
	case TypeEpisodic:
		return 180
	case TypeSemantic:
		return 365
	case TypeProcedural:
		return 180
	default:
		return 180
	}
}
