package config

import "fmt"

// SearchConfig tunes the hybrid retrieval stage shared by recall and the
// /search endpoint.
type SearchConfig struct {
	// Hybrid enables fused BM25 + vector retrieval. When false (or the
	// vector backend is down) search is keyword-only.
	Hybrid *bool `yaml:"hybrid,omitempty"`

	// VectorWeight and TextWeight bias the keyword-only fallback scoring.
	// The hybrid path uses rank-based RRF and ignores them.
	VectorWeight float64 `yaml:"vector_weight,omitempty"`
	TextWeight   float64 `yaml:"text_weight,omitempty"`

	// RecencyBoostWindow is how far back the recency boost reaches.
	// Items fresher than this get up to ~1.3x; older items get 1.0.
	RecencyBoostWindow Duration `yaml:"recency_boost_window,omitempty"`

	// PoolSize is the target candidate pool per query variant.
	PoolSize int `yaml:"pool_size,omitempty"`
}

func (c *SearchConfig) SetDefaults() {
	if c.Hybrid == nil {
		c.Hybrid = BoolPtr(true)
	}
	if c.VectorWeight == 0 {
		c.VectorWeight = 0.7
	}
	if c.TextWeight == 0 {
		c.TextWeight = 0.3
	}
	if c.RecencyBoostWindow == 0 {
		c.RecencyBoostWindow = Duration(7 * 24 * 1e9 * 3600)
	}
	if c.PoolSize == 0 {
		c.PoolSize = 30
	}
}

func (c *SearchConfig) Validate() error {
	if c.VectorWeight < 0 || c.TextWeight < 0 {
		return fmt.Errorf("weights must be non-negative")
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("pool_size must be positive")
	}
	return nil
}

// RerankerConfig configures the optional LLM reranking stage.
type RerankerConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`

	// Provider is "llm" (use the extraction LLM with a rerank prompt).
	Provider string `yaml:"provider,omitempty"`

	// Weight blends rerank and original scores:
	// final = weight*rerank + (1-weight)*original.
	Weight float64 `yaml:"weight,omitempty"`
}

// GateConfig tunes the recall pipeline.
type GateConfig struct {
	// MaxInjectionTokens caps the formatted context size.
	MaxInjectionTokens int `yaml:"max_injection_tokens,omitempty"`

	// SkipSmallTalk short-circuits recall for greetings and filler.
	SkipSmallTalk *bool `yaml:"skip_small_talk,omitempty"`

	// QueryExpansion enables the LLM variant-generation call.
	QueryExpansion *bool `yaml:"query_expansion,omitempty"`

	Reranker RerankerConfig `yaml:"reranker,omitempty"`

	// Layer weights applied post-fusion.
	CoreWeight    float64 `yaml:"core_weight,omitempty"`
	WorkingWeight float64 `yaml:"working_weight,omitempty"`
	ArchiveWeight float64 `yaml:"archive_weight,omitempty"`

	// MultiHitBoost is the coefficient in 1 + c*ln(hits) applied when a
	// memory is found by several query variants. Tunable; no second
	// source behind the default.
	MultiHitBoost float64 `yaml:"multi_hit_boost,omitempty"`

	// Timeout is the soft end-to-end recall budget. On overrun recall
	// returns an empty context rather than an error.
	Timeout Duration `yaml:"timeout,omitempty"`
}

func (c *GateConfig) SetDefaults() {
	if c.MaxInjectionTokens == 0 {
		c.MaxInjectionTokens = 2000
	}
	if c.SkipSmallTalk == nil {
		c.SkipSmallTalk = BoolPtr(true)
	}
	if c.QueryExpansion == nil {
		c.QueryExpansion = BoolPtr(true)
	}
	if c.Reranker.Provider == "" {
		c.Reranker.Provider = "llm"
	}
	if c.Reranker.Weight == 0 {
		c.Reranker.Weight = 0.5
	}
	if c.CoreWeight == 0 {
		c.CoreWeight = 1.0
	}
	if c.WorkingWeight == 0 {
		c.WorkingWeight = 0.8
	}
	if c.ArchiveWeight == 0 {
		c.ArchiveWeight = 0.4
	}
	if c.MultiHitBoost == 0 {
		c.MultiHitBoost = 0.08
	}
	if c.Timeout == 0 {
		c.Timeout = Duration(3e9)
	}
}

func (c *GateConfig) Validate() error {
	if c.MaxInjectionTokens < 1 {
		return fmt.Errorf("max_injection_tokens must be positive")
	}
	if c.Reranker.Weight < 0 || c.Reranker.Weight > 1 {
		return fmt.Errorf("reranker.weight must be in [0, 1]")
	}
	return nil
}
