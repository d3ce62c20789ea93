package config

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// LifecycleConfig tunes the periodic reshaping engine.
type LifecycleConfig struct {
	// Enabled arms the scheduler. Manual /lifecycle/run works either way.
	Enabled *bool `yaml:"enabled,omitempty"`

	// Schedule is a cron expression (also accepts @every forms).
	Schedule string `yaml:"schedule,omitempty"`

	// PromotionThreshold: working memories with importance*confidence at
	// or above this and at least one access move to core.
	PromotionThreshold float64 `yaml:"promotion_threshold,omitempty"`

	// ArchiveThreshold: core memories decayed below this move to archive.
	ArchiveThreshold float64 `yaml:"archive_threshold,omitempty"`

	// DecayLambda is the exponent in decay = exp(-lambda * ageDays).
	DecayLambda float64 `yaml:"decay_lambda,omitempty"`

	// ArchiveMinAge is how old a core memory must be before archival.
	ArchiveMinAge Duration `yaml:"archive_min_age,omitempty"`

	// MaxBatch caps per-pass work so one tick never does a full
	// stop-the-world scan. Leftovers wait for the next tick.
	MaxBatch int `yaml:"max_batch,omitempty"`
}

func (c *LifecycleConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}
	if c.Schedule == "" {
		c.Schedule = "@every 6h"
	}
	if c.PromotionThreshold == 0 {
		c.PromotionThreshold = 0.5
	}
	if c.ArchiveThreshold == 0 {
		c.ArchiveThreshold = 0.2
	}
	if c.DecayLambda == 0 {
		c.DecayLambda = 0.03
	}
	if c.ArchiveMinAge == 0 {
		c.ArchiveMinAge = Duration(7 * 24 * 3600 * 1e9)
	}
	if c.MaxBatch == 0 {
		c.MaxBatch = 500
	}
}

func (c *LifecycleConfig) Validate() error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(c.Schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", c.Schedule, err)
	}
	if c.PromotionThreshold < 0 || c.PromotionThreshold > 1 {
		return fmt.Errorf("promotion_threshold must be in [0, 1]")
	}
	if c.ArchiveThreshold < 0 || c.ArchiveThreshold > 1 {
		return fmt.Errorf("archive_threshold must be in [0, 1]")
	}
	if c.DecayLambda <= 0 {
		return fmt.Errorf("decay_lambda must be positive")
	}
	return nil
}

// LayersConfig tunes the three memory layers.
type LayersConfig struct {
	Working WorkingLayerConfig `yaml:"working,omitempty"`
	Core    CoreLayerConfig    `yaml:"core,omitempty"`
	Archive ArchiveLayerConfig `yaml:"archive,omitempty"`
}

type WorkingLayerConfig struct {
	// TTL is how long an unpromoted working memory lives.
	TTL Duration `yaml:"ttl,omitempty"`
}

type CoreLayerConfig struct {
	// MaxEntries caps core size per agent. Zero means unlimited.
	MaxEntries int `yaml:"max_entries,omitempty"`
}

type ArchiveLayerConfig struct {
	// TTL is how long archived memories are kept before compression or
	// deletion.
	TTL Duration `yaml:"ttl,omitempty"`

	// CompressBackToCore condenses expired archive groups into a summary
	// memory written to core instead of deleting them.
	CompressBackToCore *bool `yaml:"compress_back_to_core,omitempty"`
}

func (c *LayersConfig) SetDefaults() {
	if c.Working.TTL == 0 {
		c.Working.TTL = Duration(48 * 3600 * 1e9)
	}
	if c.Archive.TTL == 0 {
		c.Archive.TTL = Duration(90 * 24 * 3600 * 1e9)
	}
	if c.Archive.CompressBackToCore == nil {
		c.Archive.CompressBackToCore = BoolPtr(true)
	}
}

func (c *LayersConfig) Validate() error {
	if c.Working.TTL < 0 || c.Archive.TTL < 0 {
		return fmt.Errorf("layer TTLs must be non-negative")
	}
	if c.Core.MaxEntries < 0 {
		return fmt.Errorf("core.max_entries must be non-negative")
	}
	return nil
}
