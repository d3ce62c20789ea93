package config

import (
	"fmt"
	"os"
)

// EmbeddingProvider identifies the embedding provider type.
type EmbeddingProvider string

const (
	EmbeddingProviderOpenAI EmbeddingProvider = "openai"
	EmbeddingProviderOllama EmbeddingProvider = "ollama"
)

// EmbeddingConfig configures the embedding provider used for the vector
// index. Dimensions are a top-level commitment: changing them invalidates
// the vector index and forces a reindex.
type EmbeddingConfig struct {
	Provider   EmbeddingProvider `yaml:"provider,omitempty"`
	Model      string            `yaml:"model,omitempty"`
	APIKey     string            `yaml:"api_key,omitempty"`
	BaseURL    string            `yaml:"base_url,omitempty"`
	Dimensions int               `yaml:"dimensions,omitempty"`
	Timeout    Duration          `yaml:"timeout,omitempty"`
}

func (c *EmbeddingConfig) SetDefaults() {
	if c.Provider == "" {
		if os.Getenv("OPENAI_API_KEY") != "" {
			c.Provider = EmbeddingProviderOpenAI
		} else {
			c.Provider = EmbeddingProviderOllama
		}
	}

	if c.Model == "" {
		switch c.Provider {
		case EmbeddingProviderOpenAI:
			c.Model = "text-embedding-3-small"
		case EmbeddingProviderOllama:
			c.Model = "nomic-embed-text"
		}
	}

	if c.APIKey == "" && c.Provider == EmbeddingProviderOpenAI {
		c.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if c.Dimensions == 0 {
		switch c.Provider {
		case EmbeddingProviderOpenAI:
			c.Dimensions = 1536
		case EmbeddingProviderOllama:
			c.Dimensions = 768
		}
	}

	if c.Timeout == 0 {
		c.Timeout = Duration(15e9)
	}
}

func (c *EmbeddingConfig) Validate() error {
	validProviders := map[EmbeddingProvider]bool{
		EmbeddingProviderOpenAI: true,
		EmbeddingProviderOllama: true,
	}

	if !validProviders[c.Provider] {
		return fmt.Errorf("invalid provider %q (valid: openai, ollama)", c.Provider)
	}

	if c.Provider == EmbeddingProviderOpenAI && c.APIKey == "" {
		return fmt.Errorf("api_key is required for provider %q", c.Provider)
	}

	if c.Dimensions <= 0 {
		return fmt.Errorf("dimensions must be positive")
	}

	return nil
}
