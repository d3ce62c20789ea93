// Package vector abstracts the vector index backing the hybrid search.
// The index is content-addressed by memory id; every entry carries the
// owning agent_id so searches never cross tenants.
package vector

import (
	"context"
	"fmt"

	"github.com/cortexmem/cortex/pkg/config"
)

// Result is one vector search hit. Distance is cosine distance: lower
// means more similar.
type Result struct {
	ID       string
	Distance float64
}

// Provider is a vector index backend.
type Provider interface {
	// Upsert writes a vector for a memory id, replacing any existing one.
	Upsert(ctx context.Context, id string, vec []float32, metadata map[string]any) error

	// Search returns the topK nearest live vectors for the agent, ranked
	// by ascending distance.
	Search(ctx context.Context, vec []float32, topK int, agentID string) ([]Result, error)

	// Delete removes vectors by memory id. Missing ids are ignored.
	Delete(ctx context.Context, ids ...string) error

	// Name returns the backend name.
	Name() string

	// Close releases backend resources.
	Close() error
}

// NewProvider builds a vector provider from config.
func NewProvider(cfg config.VectorConfig, dimensions int) (Provider, error) {
	switch cfg.Backend {
	case config.VectorBackendChromem:
		return NewChromemProvider(cfg)
	case config.VectorBackendQdrant:
		return NewQdrantProvider(cfg, dimensions)
	case config.VectorBackendNone:
		return NewNilProvider(), nil
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Backend)
	}
}
