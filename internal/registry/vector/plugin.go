// Package vector defines the vector-search backend plugin contract and
// registry used by Hybrid Retrieval.
package vector

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// SearchResult represents a single nearest-neighbor hit.
type SearchResult struct {
	MemoryID uuid.UUID `json:"memoryId"`
	Score    float64   `json:"score"`
}

// UpsertRequest holds the data for a single vector upsert operation.
type UpsertRequest struct {
	MemoryID  uuid.UUID
	Embedding []float32
	ModelName string
}

// VectorStore defines the interface for vector search backends.
type VectorStore interface {
	// Search performs a k-nearest-neighbor search over the embedding space.
	Search(ctx context.Context, embedding []float32, memoryIDs []uuid.UUID, limit int) ([]SearchResult, error)
	// Upsert stores or updates vector embeddings for a batch of memories.
	Upsert(ctx context.Context, entries []UpsertRequest) error
	// Delete removes the embeddings for the given memories.
	Delete(ctx context.Context, memoryIDs []uuid.UUID) error
	// IsEnabled returns true if the vector store is configured and operational.
	IsEnabled() bool
	// Name returns the plugin name (e.g. "embedded", "pgvector", "qdrant").
	Name() string
}

// Loader creates a VectorStore from config.
type Loader func(ctx context.Context) (VectorStore, error)

// Plugin represents a vector store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a vector store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered vector store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named vector store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown vector store %q; valid: %v", name, Names())
}
