// Package embedders provides the embedding providers backing the vector
// index.
package embedders

import (
	"context"
	"fmt"

	"github.com/cortexmem/cortex/pkg/config"
	"github.com/cortexmem/cortex/pkg/registry"
)

// Provider turns text into vectors.
type Provider interface {
	// Embed embeds one text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds several texts in one upstream call where the API
	// supports it.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding dimensionality.
	Dimension() int

	// ModelName returns the configured model identifier.
	ModelName() string
}

// Registry holds named embedding providers.
type Registry struct {
	*registry.BaseRegistry[Provider]
}

func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[Provider]()}
}

// NewProvider builds a provider from config.
func NewProvider(cfg config.EmbeddingConfig) (Provider, error) {
	switch cfg.Provider {
	case config.EmbeddingProviderOpenAI:
		return NewOpenAIEmbedder(cfg)
	case config.EmbeddingProviderOllama:
		return NewOllamaEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
