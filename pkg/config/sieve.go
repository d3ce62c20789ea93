package config

import "fmt"

// SieveConfig tunes the ingest pipeline and the writer's matcher.
type SieveConfig struct {
	// FastChannelEnabled runs the regex signal channel.
	FastChannelEnabled *bool `yaml:"fast_channel_enabled,omitempty"`

	// HighSignalImmediate writes fast-channel signals before the deep
	// channel starts, so the deep channel's dedup sees them.
	HighSignalImmediate *bool `yaml:"high_signal_immediate,omitempty"`

	// ParallelChannels is accepted for compatibility but the fast
	// channel always completes before the deep channel begins; its
	// writes must be visible to the deep channel's dedup search.
	ParallelChannels *bool `yaml:"parallel_channels,omitempty"`

	// ProfileInjection prepends the synthesized user profile to the deep
	// extraction prompt.
	ProfileInjection *bool `yaml:"profile_injection,omitempty"`

	// RelationExtraction upserts knowledge-graph edges from the deep
	// channel output.
	RelationExtraction *bool `yaml:"relation_extraction,omitempty"`

	// SmartUpdate enables tiers 1.5 and 2 of the matcher. When false,
	// every non-duplicate insert is a plain insert.
	SmartUpdate *bool `yaml:"smart_update,omitempty"`

	// ExactDupThreshold is the cosine distance below which a candidate
	// is an exact duplicate (tier 1 skip).
	ExactDupThreshold float64 `yaml:"exact_dup_threshold,omitempty"`

	// SimilarityThreshold is the cosine distance below which arbitration
	// runs (tier 2). Corrections get an effective threshold of
	// min(1.5x, 0.6).
	SimilarityThreshold float64 `yaml:"similarity_threshold,omitempty"`

	// ContextMessages is how many trailing turns of a multi-turn ingest
	// are kept.
	ContextMessages int `yaml:"context_messages,omitempty"`

	// MaxConversationChars is the total character budget shared
	// proportionally across kept turns, with a 200-char per-message floor.
	MaxConversationChars int `yaml:"max_conversation_chars,omitempty"`

	// MaxExtractionTokens caps the deep-channel LLM response.
	MaxExtractionTokens int `yaml:"max_extraction_tokens,omitempty"`

	// IngestTimeout bounds one ingest end to end. On partial failure
	// whatever succeeded is kept.
	IngestTimeout Duration `yaml:"ingest_timeout,omitempty"`

	// FlushTimeout bounds the bulk /flush path.
	FlushTimeout Duration `yaml:"flush_timeout,omitempty"`
}

func (c *SieveConfig) SetDefaults() {
	if c.FastChannelEnabled == nil {
		c.FastChannelEnabled = BoolPtr(true)
	}
	if c.HighSignalImmediate == nil {
		c.HighSignalImmediate = BoolPtr(true)
	}
	if c.ParallelChannels == nil {
		c.ParallelChannels = BoolPtr(false)
	}
	if c.ProfileInjection == nil {
		c.ProfileInjection = BoolPtr(true)
	}
	if c.RelationExtraction == nil {
		c.RelationExtraction = BoolPtr(true)
	}
	if c.SmartUpdate == nil {
		c.SmartUpdate = BoolPtr(true)
	}
	if c.ExactDupThreshold == 0 {
		c.ExactDupThreshold = 0.10
	}
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = 0.25
	}
	if c.ContextMessages == 0 {
		c.ContextMessages = 4
	}
	if c.MaxConversationChars == 0 {
		c.MaxConversationChars = 2000
	}
	if c.MaxExtractionTokens == 0 {
		c.MaxExtractionTokens = 1024
	}
	if c.IngestTimeout == 0 {
		c.IngestTimeout = Duration(10e9)
	}
	if c.FlushTimeout == 0 {
		c.FlushTimeout = Duration(5e9)
	}
}

func (c *SieveConfig) Validate() error {
	if c.ExactDupThreshold <= 0 || c.ExactDupThreshold >= 1 {
		return fmt.Errorf("exact_dup_threshold must be in (0, 1)")
	}
	if c.SimilarityThreshold <= c.ExactDupThreshold {
		return fmt.Errorf("similarity_threshold must exceed exact_dup_threshold")
	}
	if c.ContextMessages < 1 {
		return fmt.Errorf("context_messages must be positive")
	}
	return nil
}
