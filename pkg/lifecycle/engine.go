// Package lifecycle reshapes the store on a schedule: recompute decay,
// promote hot working memories to core, merge core near-duplicates,
// archive cold core memories, compress expired archive groups into
// summaries, and synthesize per-agent user profiles.
package lifecycle

import (
	"context"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/cortexmem/cortex/pkg/config"
	"github.com/cortexmem/cortex/pkg/embedders"
	"github.com/cortexmem/cortex/pkg/llms"
	"github.com/cortexmem/cortex/pkg/logger"
	"github.com/cortexmem/cortex/pkg/metrics"
	"github.com/cortexmem/cortex/pkg/model"
	"github.com/cortexmem/cortex/pkg/store"
	"github.com/cortexmem/cortex/pkg/vector"
)

// Report summarizes one engine pass. A dry run returns the same numbers
// without any writes.
type Report struct {
	DryRun          bool      `json:"dry_run"`
	Decayed         int       `json:"decayed"`
	Promoted        int       `json:"promoted"`
	Merged          int       `json:"merged"`
	Archived        int       `json:"archived"`
	ExpiredWorking  int       `json:"expired_working"`
	Compressed      int       `json:"compressed"`
	Deleted         int       `json:"deleted"`
	ProfilesUpdated int       `json:"profiles_updated"`
	Errors          int       `json:"errors"`
	StartedAt       time.Time `json:"started_at"`
	DurationMS      int64     `json:"duration_ms"`
}

// Engine runs the lifecycle passes. Config sections are atomic
// snapshots so a runtime reload never races a running pass.
type Engine struct {
	store    *store.Store
	vectors  vector.Provider
	embedder embedders.Provider
	llm      llms.Provider
	cfg      atomic.Pointer[config.LifecycleConfig]
	layers   atomic.Pointer[config.LayersConfig]
	sieve    atomic.Pointer[config.SieveConfig]
	logger   *slog.Logger
}

// New builds an engine. llm may be nil; merging then concatenates
// instead of condensing, and compression and profile synthesis are
// skipped.
func New(st *store.Store, vectors vector.Provider, embedder embedders.Provider, llm llms.Provider, cfg *config.LifecycleConfig, layers *config.LayersConfig, sieve *config.SieveConfig) *Engine {
	e := &Engine{
		store:    st,
		vectors:  vectors,
		embedder: embedder,
		llm:      llm,
		logger:   logger.GetLogger(),
	}
	e.Reload(cfg, layers, sieve)
	return e
}

// Reload swaps the tunable config sections. A pass already underway
// finishes on the snapshots it loaded.
func (e *Engine) Reload(cfg *config.LifecycleConfig, layers *config.LayersConfig, sieve *config.SieveConfig) {
	e.cfg.Store(cfg)
	e.layers.Store(layers)
	e.sieve.Store(sieve)
}

// Run performs one full pass. Each stage is capped at MaxBatch rows;
// leftovers are picked up by the next tick. Stage failures are counted
// and logged, never fatal for the pass.
func (e *Engine) Run(ctx context.Context, dryRun bool) *Report {
	start := time.Now()
	r := &Report{DryRun: dryRun, StartedAt: start.UTC()}

	decay := e.decayPass(ctx, r, dryRun)
	e.promotionPass(ctx, r, dryRun)
	e.mergePass(ctx, r, dryRun)
	e.archivalPass(ctx, r, dryRun, decay)
	e.compressionPass(ctx, r, dryRun)
	e.profilePass(ctx, r, dryRun)

	if !dryRun {
		recordTransitions(r)
	}
	r.DurationMS = time.Since(start).Milliseconds()
	e.logger.Info("lifecycle pass complete",
		"dry_run", dryRun,
		"decayed", r.Decayed,
		"promoted", r.Promoted,
		"merged", r.Merged,
		"archived", r.Archived,
		"compressed", r.Compressed,
		"errors", r.Errors,
		"duration_ms", r.DurationMS)
	return r
}

// decayPass recomputes decay_score = exp(-lambda * ageDays) from
// updated_at. Pinned memories are clamped to 1.0. The returned map
// holds the computed score for every live memory, so a dry run's
// archival pass can decide on scores that were never written.
func (e *Engine) decayPass(ctx context.Context, r *Report, dryRun bool) map[string]float64 {
	cfg := e.cfg.Load()
	now := time.Now().UTC()
	all := map[string]float64{}
	offset := 0
	for {
		mems, err := e.store.LiveMemories(ctx, cfg.MaxBatch, offset)
		if err != nil {
			e.fail(r, "decay", err)
			return all
		}
		if len(mems) == 0 {
			return all
		}

		changed := make(map[string]float64, len(mems))
		for _, m := range mems {
			score := 1.0
			if !m.IsPinned {
				ageDays := now.Sub(m.UpdatedAt).Hours() / 24
				if ageDays < 0 {
					ageDays = 0
				}
				score = math.Exp(-cfg.DecayLambda * ageDays)
			}
			all[m.ID] = score
			if score != m.DecayScore {
				changed[m.ID] = score
			}
		}

		if !dryRun && len(changed) > 0 {
			if err := e.store.SetDecayScores(ctx, changed); err != nil {
				e.fail(r, "decay", err)
				return all
			}
		}
		r.Decayed += len(changed)

		if len(mems) < cfg.MaxBatch {
			return all
		}
		offset += len(mems)
	}
}

// promotionPass moves accessed, high-signal working memories to core
// and clears their expiry.
func (e *Engine) promotionPass(ctx context.Context, r *Report, dryRun bool) {
	cfg := e.cfg.Load()
	cands, err := e.store.PromotionCandidates(ctx, cfg.PromotionThreshold, cfg.MaxBatch)
	if err != nil {
		e.fail(r, "promotion", err)
		return
	}

	for _, m := range cands {
		if !dryRun {
			if err := e.store.ChangeLayer(ctx, m.ID, model.LayerCore, nil); err != nil {
				e.fail(r, "promotion", err)
				continue
			}
		}
		r.Promoted++
	}
}

// archivalPass demotes decayed core memories past the age floor, and
// moves expired working memories to archive instead of dropping them.
// In a dry run candidacy is judged on the scores decayPass computed
// but never wrote, so the report matches what a real run would do.
func (e *Engine) archivalPass(ctx context.Context, r *Report, dryRun bool, decay map[string]float64) {
	cfg := e.cfg.Load()
	if dryRun {
		r.Archived += len(e.dryArchiveCandidates(ctx, r, decay))
	} else {
		cands, err := e.store.ArchiveCandidates(ctx, cfg.ArchiveThreshold, cfg.ArchiveMinAge.Std(), cfg.MaxBatch)
		if err != nil {
			e.fail(r, "archival", err)
		} else {
			for _, m := range cands {
				if err := e.store.ChangeLayer(ctx, m.ID, model.LayerArchive, nil); err != nil {
					e.fail(r, "archival", err)
					continue
				}
				r.Archived++
			}
		}
	}

	expired, err := e.store.ExpiredWorking(ctx, cfg.MaxBatch)
	if err != nil {
		e.fail(r, "archival", err)
		return
	}
	for _, m := range expired {
		if !dryRun {
			if err := e.store.ChangeLayer(ctx, m.ID, model.LayerArchive, nil); err != nil {
				e.fail(r, "archival", err)
				continue
			}
		}
		r.ExpiredWorking++
	}

	e.enforceCoreCap(ctx, r, dryRun)
}

func (e *Engine) dryArchiveCandidates(ctx context.Context, r *Report, decay map[string]float64) []*model.Memory {
	cfg := e.cfg.Load()
	cutoff := time.Now().UTC().Add(-cfg.ArchiveMinAge.Std())
	var cands []*model.Memory
	offset := 0
	for len(cands) < cfg.MaxBatch {
		mems, err := e.store.LiveMemories(ctx, cfg.MaxBatch, offset)
		if err != nil {
			e.fail(r, "archival", err)
			return cands
		}
		if len(mems) == 0 {
			return cands
		}
		for _, m := range mems {
			score, ok := decay[m.ID]
			if !ok {
				score = m.DecayScore
			}
			if m.Layer == model.LayerCore && !m.IsPinned && score < cfg.ArchiveThreshold && m.UpdatedAt.Before(cutoff) {
				cands = append(cands, m)
			}
		}
		if len(mems) < cfg.MaxBatch {
			return cands
		}
		offset += len(mems)
	}
	return cands
}

// enforceCoreCap demotes the weakest core memories past the per-agent
// cap. Pinned memories count toward the cap but never move.
func (e *Engine) enforceCoreCap(ctx context.Context, r *Report, dryRun bool) {
	maxEntries := e.layers.Load().Core.MaxEntries
	if maxEntries <= 0 {
		return
	}
	agents, err := e.store.ListAgents(ctx)
	if err != nil {
		e.fail(r, "archival", err)
		return
	}
	for _, a := range agents {
		overflow, err := e.store.CoreOverflow(ctx, a.ID, maxEntries)
		if err != nil {
			e.fail(r, "archival", err)
			continue
		}
		for _, m := range overflow {
			if !dryRun {
				if err := e.store.ChangeLayer(ctx, m.ID, model.LayerArchive, nil); err != nil {
					e.fail(r, "archival", err)
					continue
				}
			}
			r.Archived++
		}
	}
}

func (e *Engine) fail(r *Report, stage string, err error) {
	r.Errors++
	e.logger.Warn("lifecycle stage failed", "stage", stage, "error", err)
}

// recordTransitions counts the pass in /metrics, whether the trigger
// was the HTTP surface or a scheduled tick.
func recordTransitions(r *Report) {
	metrics.LifecycleTransitions.WithLabelValues("promoted").Add(float64(r.Promoted))
	metrics.LifecycleTransitions.WithLabelValues("merged").Add(float64(r.Merged))
	metrics.LifecycleTransitions.WithLabelValues("archived").Add(float64(r.Archived))
	metrics.LifecycleTransitions.WithLabelValues("expired_working").Add(float64(r.ExpiredWorking))
	metrics.LifecycleTransitions.WithLabelValues("compressed").Add(float64(r.Compressed))
	metrics.LifecycleTransitions.WithLabelValues("deleted").Add(float64(r.Deleted))
}
