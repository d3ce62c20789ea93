package vector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/cortexmem/cortex/pkg/config"
)

// ChromemProvider stores vectors in-process with file persistence. The
// zero-config default: pure Go, no external service, cosine similarity,
// metadata filtering. Memory-bound and single-process.
type ChromemProvider struct {
	db          *chromem.DB
	collection  string
	persistPath string
	mu          sync.RWMutex
	col         *chromem.Collection
}

func NewChromemProvider(cfg config.VectorConfig) (*ChromemProvider, error) {
	var db *chromem.DB

	if cfg.Path != "" {
		if err := os.MkdirAll(cfg.Path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create persist directory: %w", err)
		}

		dbPath := filepath.Join(cfg.Path, "vectors.gob")
		if _, statErr := os.Stat(dbPath); statErr == nil {
			loaded, err := chromem.NewPersistentDB(dbPath, false)
			if err != nil {
				slog.Warn("failed to load existing vector database, creating new",
					"path", dbPath, "error", err)
				db = chromem.NewDB()
			} else {
				slog.Info("loaded vector database", "path", dbPath)
				db = loaded
			}
		} else {
			loaded, err := chromem.NewPersistentDB(dbPath, false)
			if err != nil {
				return nil, fmt.Errorf("failed to create vector database: %w", err)
			}
			db = loaded
		}
	} else {
		db = chromem.NewDB()
	}

	p := &ChromemProvider{
		db:          db,
		collection:  cfg.Collection,
		persistPath: cfg.Path,
	}

	// Vectors are pre-computed by the embedder layer; chromem must never
	// embed on its own.
	col, err := db.GetOrCreateCollection(cfg.Collection, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection %q: %w", cfg.Collection, err)
	}
	p.col = col

	return p, nil
}

func noEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("embedding function called but vectors are pre-computed")
}

func (p *ChromemProvider) Upsert(ctx context.Context, id string, vec []float32, metadata map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	strMetadata := make(map[string]string, len(metadata))
	for k, v := range metadata {
		strMetadata[k] = fmt.Sprint(v)
	}

	doc := chromem.Document{
		ID:        id,
		Metadata:  strMetadata,
		Embedding: vec,
	}

	if err := p.col.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to upsert vector: %w", err)
	}
	return nil
}

func (p *ChromemProvider) Search(ctx context.Context, vec []float32, topK int, agentID string) ([]Result, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	// chromem rejects queries asking for more results than stored docs.
	if count := p.col.Count(); topK > count {
		topK = count
	}
	if topK == 0 {
		return nil, nil
	}

	var where map[string]string
	if agentID != "" {
		where = map[string]string{"agent_id": agentID}
	}

	results, err := p.col.QueryEmbedding(ctx, vec, topK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	out := make([]Result, 0, len(results))
	for _, r := range results {
		out = append(out, Result{
			ID:       r.ID,
			Distance: 1 - float64(r.Similarity),
		})
	}
	return out, nil
}

func (p *ChromemProvider) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	return nil
}

func (p *ChromemProvider) Name() string { return "chromem" }

func (p *ChromemProvider) Close() error { return nil }
