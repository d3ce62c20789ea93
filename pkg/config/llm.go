package config

import (
	"fmt"
	"os"
)

// LLMProvider identifies the LLM provider type.
type LLMProvider string

const (
	LLMProviderAnthropic LLMProvider = "anthropic"
	LLMProviderOpenAI    LLMProvider = "openai"
	LLMProviderOllama    LLMProvider = "ollama"
)

// LLMRoles holds the two LLM roles the service uses: extraction covers
// the deep ingest channel, writer arbitration, query expansion and
// reranking; lifecycle covers compression and profile synthesis. When the
// lifecycle role is unset it inherits the extraction settings.
type LLMRoles struct {
	Extraction LLMConfig `yaml:"extraction,omitempty"`
	Lifecycle  LLMConfig `yaml:"lifecycle,omitempty"`
}

func (r *LLMRoles) SetDefaults() {
	r.Extraction.SetDefaults()
	if r.Lifecycle.Provider == "" && r.Lifecycle.Model == "" {
		r.Lifecycle = r.Extraction
	}
	r.Lifecycle.SetDefaults()
}

func (r *LLMRoles) Validate() error {
	if err := r.Extraction.Validate(); err != nil {
		return fmt.Errorf("llm.extraction: %w", err)
	}
	if err := r.Lifecycle.Validate(); err != nil {
		return fmt.Errorf("llm.lifecycle: %w", err)
	}
	return nil
}

// LLMConfig configures one LLM provider.
type LLMConfig struct {
	// Provider type (anthropic, openai, ollama).
	Provider LLMProvider `yaml:"provider,omitempty"`

	// Model name (e.g. "claude-sonnet-4-20250514", "gpt-4o-mini").
	Model string `yaml:"model,omitempty"`

	// APIKey for authentication. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty"`

	// BaseURL overrides the default API endpoint.
	BaseURL string `yaml:"base_url,omitempty"`

	// Temperature for generation.
	Temperature *float64 `yaml:"temperature,omitempty"`

	// MaxTokens limits response length.
	MaxTokens int `yaml:"max_tokens,omitempty"`

	// Timeout bounds a single completion call.
	Timeout Duration `yaml:"timeout,omitempty"`
}

func (c *LLMConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = detectLLMProviderFromEnv()
	}

	if c.Model == "" {
		switch c.Provider {
		case LLMProviderAnthropic:
			c.Model = "claude-sonnet-4-20250514"
		case LLMProviderOpenAI:
			c.Model = "gpt-4o-mini"
		case LLMProviderOllama:
			c.Model = "llama3.2"
		}
	}

	if c.APIKey == "" {
		c.APIKey = getAPIKeyFromEnv(c.Provider)
	}

	if c.Temperature == nil {
		c.Temperature = Float64Ptr(0.1)
	}

	if c.MaxTokens == 0 {
		c.MaxTokens = 2048
	}

	if c.Timeout == 0 {
		c.Timeout = Duration(30e9)
	}
}

func (c *LLMConfig) Validate() error {
	validProviders := map[LLMProvider]bool{
		LLMProviderAnthropic: true,
		LLMProviderOpenAI:    true,
		LLMProviderOllama:    true,
	}

	if !validProviders[c.Provider] {
		return fmt.Errorf("invalid provider %q (valid: anthropic, openai, ollama)", c.Provider)
	}

	// Ollama runs locally and needs no API key.
	if c.Provider != LLMProviderOllama && c.APIKey == "" {
		return fmt.Errorf("api_key is required for provider %q", c.Provider)
	}

	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}

	return nil
}

// detectLLMProviderFromEnv picks a provider based on available API keys.
func detectLLMProviderFromEnv() LLMProvider {
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		return LLMProviderAnthropic
	}
	if os.Getenv("OPENAI_API_KEY") != "" {
		return LLMProviderOpenAI
	}
	return LLMProviderOllama
}

func getAPIKeyFromEnv(provider LLMProvider) string {
	switch provider {
	case LLMProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case LLMProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	default:
		return ""
	}
}
