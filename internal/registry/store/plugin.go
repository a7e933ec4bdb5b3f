// Package store defines the Persistence Gateway's backend contract and
// registry: the interface a sqlite or postgres implementation must satisfy
// to serve as Memento's system of record for memories, links, and feedback.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/memento-ai/memento/internal/model"

	"github.com/google/uuid"
)

// Filter narrows a listing or search to a subset of memories.
type Filter struct {
	Types        []model.Type
	PrivacyScope []model.PrivacyScope
	Project      string
	User         string
	Agent        string
	PinnedOnly   bool
}

// LexicalResult is one hit from a full-text search.
type LexicalResult struct {
	Memory model.Memory
	Score  float64 // backend-native score (e.g. bm25 or ts_rank)
}

// PendingEmbedding is a memory whose content has no embedding row yet.
type PendingEmbedding struct {
	MemoryID uuid.UUID
	Content  string
}

// ForgetCandidate is a row handed to the Forgetting Controller during a sweep.
type ForgetCandidate struct {
	Memory        model.Memory
	FeedbackCount int64
	HelpfulCount  int64
	UnhelpfulCount int64
}

// Stats summarizes the store's row population for metrics collection.
type Stats struct {
	TotalByType map[model.Type]int64
	Pinned      int64
}

// Store is the Persistence Gateway's backend contract. Every write that can
// race a concurrent writer (UpdateMemory, SoftDelete, Pin/Unpin) must return
// a *memerr.ContentionError after its own internal retry budget is
// exhausted; callers use the backend directly, with no further retry loop.
type Store interface {
	// --- Memory CRUD ---

	CreateMemory(ctx context.Context, m *model.Memory) error
	GetMemory(ctx context.Context, id uuid.UUID) (*model.Memory, error)
	UpdateMemory(ctx context.Context, m *model.Memory) error
	SetPinned(ctx context.Context, id uuid.UUID, pinned bool) error
	TouchAccess(ctx context.Context, id uuid.UUID, at time.Time) error
	IncrementCounter(ctx context.Context, id uuid.UUID, field string, delta int64) error

	// SoftDelete implements §4.1/§4.8's demotion semantics: unpins the row,
	// resets its usage counters to zero, and touches last_accessed. It never
	// hides the row from reads — only HardDelete removes it.
	SoftDelete(ctx context.Context, id uuid.UUID) error
	HardDelete(ctx context.Context, id uuid.UUID) error

	// ScheduleReview records a spaced-review outcome: last_review is set to
	// at, review_due to at.Add(nextInterval).
	ScheduleReview(ctx context.Context, id uuid.UUID, at time.Time, nextInterval time.Duration) error

	ListCandidates(ctx context.Context, filter Filter, limit, offset int) ([]model.Memory, error)
	ForgetSweepCandidates(ctx context.Context, types []model.Type, minAge time.Duration, limit int) ([]ForgetCandidate, error)

	// Stats reports row counts for the Scheduler's metrics-collection job.
	Stats(ctx context.Context) (Stats, error)

	// --- Lexical search (§4.4) ---

	LexicalSearch(ctx context.Context, query string, filter Filter, limit int) ([]LexicalResult, error)

	// --- Embedding pipeline support ---

	FindPendingEmbeddings(ctx context.Context, limit int) ([]PendingEmbedding, error)
	UpsertEmbedding(ctx context.Context, e *model.Embedding) error
	GetEmbedding(ctx context.Context, memoryID uuid.UUID) (*model.Embedding, error)

	// --- Link graph ---

	CreateLink(ctx context.Context, l *model.Link) error
	LinksFrom(ctx context.Context, memoryID uuid.UUID, relation model.Relation) ([]model.Link, error)
	LinksTo(ctx context.Context, memoryID uuid.UUID, relation model.Relation) ([]model.Link, error)
	DeleteLinksForMemory(ctx context.Context, memoryID uuid.UUID) error

	// --- Feedback log ---

	AppendFeedback(ctx context.Context, f *model.Feedback) error
	RecentFeedback(ctx context.Context, memoryID uuid.UUID, limit int) ([]model.Feedback, error)

	// --- Admin ---

	AdminGetMemoryByID(ctx context.Context, id uuid.UUID) (*model.Memory, error)
	AdminForceDeleteMemory(ctx context.Context, id uuid.UUID) error

	// Checkpoint asks the backend to flush/compact; sqlite runs a WAL
	// checkpoint (plus an S3 snapshot when configured), postgres is a no-op.
	Checkpoint(ctx context.Context) error

	// Name returns the plugin name (e.g. "sqlite", "postgres").
	Name() string

	Close() error
}

// Loader creates a Store from context (config is read via config.FromContext).
type Loader func(ctx context.Context) (Store, error)

// Plugin represents a store backend plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
