// Package writer is the single choke point for memory writes. Every
// extraction, whichever channel produced it, goes through the four-tier
// matcher here: exact duplicates are skipped, near-exact ones replace
// the old row without an LLM, the ambiguous middle band is arbitrated by
// the LLM, and everything else is inserted.
package writer

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cortexmem/cortex/pkg/config"
	"github.com/cortexmem/cortex/pkg/embedders"
	"github.com/cortexmem/cortex/pkg/llms"
	"github.com/cortexmem/cortex/pkg/logger"
	"github.com/cortexmem/cortex/pkg/model"
	"github.com/cortexmem/cortex/pkg/store"
	"github.com/cortexmem/cortex/pkg/vector"
)

// Extraction is one candidate fact handed to the writer.
type Extraction struct {
	Category   model.Category `json:"category"`
	Content    string         `json:"content"`
	Importance float64        `json:"importance"`
	Confidence float64        `json:"confidence"`
}

// Result classifies what the matcher did with one extraction.
type Result string

const (
	ResultInserted     Result = "inserted"
	ResultSkipped      Result = "skipped"
	ResultSmartUpdated Result = "smart_updated"
	ResultFailed       Result = "failed"
)

// Outcome is the per-extraction verdict. Memory is the written row for
// inserted and smart_updated results.
type Outcome struct {
	Result       Result        `json:"result"`
	Memory       *model.Memory `json:"memory,omitempty"`
	SupersededID string        `json:"superseded_id,omitempty"`
	Err          error         `json:"-"`
}

// Writer enforces the dedup invariant for all memory writes. Config
// sections are atomic snapshots so a runtime reload never races an
// in-flight batch.
type Writer struct {
	store    *store.Store
	vectors  vector.Provider
	embedder embedders.Provider
	llm      llms.Provider
	sieve    atomic.Pointer[config.SieveConfig]
	layers   atomic.Pointer[config.LayersConfig]
	locks    *agentLocks
	logger   *slog.Logger
}

// New builds a writer. The llm may be nil; arbitration then defaults to
// replace.
func New(st *store.Store, vectors vector.Provider, embedder embedders.Provider, llm llms.Provider, sieve *config.SieveConfig, layers *config.LayersConfig) *Writer {
	w := &Writer{
		store:    st,
		vectors:  vectors,
		embedder: embedder,
		llm:      llm,
		locks:    newAgentLocks(),
		logger:   logger.GetLogger(),
	}
	w.Reload(sieve, layers)
	return w
}

// Reload swaps the tunable config sections. In-flight batches finish on
// the snapshot they started with.
func (w *Writer) Reload(sieve *config.SieveConfig, layers *config.LayersConfig) {
	w.sieve.Store(sieve)
	w.layers.Store(layers)
}

// ProcessNewMemory runs the matcher for a single extraction.
func (w *Writer) ProcessNewMemory(ctx context.Context, ex Extraction, agentID, sessionID, source string) Outcome {
	outcomes := w.ProcessNewMemoryBatch(ctx, []Extraction{ex}, agentID, sessionID, source)
	return outcomes[0]
}

// ProcessNewMemoryBatch classifies every extraction against the vector
// index, issues at most one arbitration LLM call for the whole batch,
// then executes the decisions. The per-agent lock keeps dedup reads
// consistent under burst ingest; cross-agent calls run unrestricted.
func (w *Writer) ProcessNewMemoryBatch(ctx context.Context, exs []Extraction, agentID, sessionID, source string) []Outcome {
	if len(exs) == 0 {
		return nil
	}

	unlock := w.locks.lock(agentID)
	defer unlock()

	cls := w.classifyAll(ctx, exs, agentID)
	w.arbitrate(ctx, cls)

	outcomes := make([]Outcome, len(cls))
	for i, c := range cls {
		outcomes[i] = w.execute(ctx, c, agentID, sessionID, source)
		if outcomes[i].Err != nil {
			w.logger.Warn("memory write failed",
				"agent_id", agentID,
				"category", c.ex.Category,
				"error", outcomes[i].Err)
		}
	}
	return outcomes
}

// Summarize counts outcomes the way extraction logs report them.
func Summarize(outcomes []Outcome) (written, deduplicated, smartUpdated int) {
	for _, o := range outcomes {
		switch o.Result {
		case ResultInserted:
			written++
		case ResultSkipped:
			deduplicated++
		case ResultSmartUpdated:
			written++
			smartUpdated++
		}
	}
	return
}

type tier int

const (
	tierInsert tier = iota
	tierSkip
	tierAutoReplace
	tierArbitrate
)

type classified struct {
	ex       Extraction
	vec      []float32
	closest  *model.Memory
	distance float64
	tier     tier
	decision decision
	err      error
}

func (w *Writer) classifyAll(ctx context.Context, exs []Extraction, agentID string) []*classified {
	cls := make([]*classified, len(exs))
	for i := range exs {
		cls[i] = &classified{ex: exs[i], tier: tierInsert}
	}

	w.embedAll(ctx, cls)

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range cls {
		c := c
		g.Go(func() error {
			w.classify(gctx, c, agentID)
			return nil
		})
	}
	g.Wait()

	return cls
}

// embedAll fills vecs, preferring one batched upstream call. A failed
// embedding leaves vec nil; the extraction degrades to a plain insert
// without dedup, which the next lifecycle merge pass cleans up.
func (w *Writer) embedAll(ctx context.Context, cls []*classified) {
	texts := make([]string, len(cls))
	for i, c := range cls {
		texts[i] = c.ex.Content
	}

	vecs, err := w.embedder.EmbedBatch(ctx, texts)
	if err == nil && len(vecs) == len(cls) {
		for i := range cls {
			cls[i].vec = vecs[i]
		}
		return
	}
	if err != nil {
		w.logger.Warn("batch embedding failed, retrying individually", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range cls {
		c := c
		g.Go(func() error {
			vec, err := w.embedder.Embed(gctx, c.ex.Content)
			if err != nil {
				w.logger.Warn("embedding failed, writing without vector", "error", err)
				return nil
			}
			c.vec = vec
			return nil
		})
	}
	g.Wait()
}

func (w *Writer) classify(ctx context.Context, c *classified, agentID string) {
	if c.vec == nil {
		return
	}

	topK := 3
	if c.ex.Category == model.CategoryCorrection {
		topK = 10
	}

	hits, err := w.vectors.Search(ctx, c.vec, topK, agentID)
	if err != nil {
		w.logger.Warn("dedup vector search failed, inserting without dedup", "error", err)
		return
	}
	if len(hits) == 0 {
		return
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	mems, err := w.store.GetBatch(ctx, ids)
	if err != nil {
		c.err = err
		return
	}
	byID := make(map[string]*model.Memory, len(mems))
	for _, m := range mems {
		byID[m.ID] = m
	}

	// Walk hits in ascending distance until a live, unpinned, same-family
	// candidate appears. Pinned memories are never supersede targets.
	for _, h := range hits {
		m := byID[h.ID]
		if m == nil || !m.Live() || m.IsPinned {
			continue
		}
		if !m.Category.SameFamily(c.ex.Category) {
			continue
		}
		if c.ex.Category == model.CategoryCorrection && !model.CorrectionTargets[m.Category] {
			continue
		}
		c.closest = m
		c.distance = h.Distance
		break
	}
	if c.closest == nil {
		return
	}

	sieve := w.sieve.Load()
	dupT := sieve.ExactDupThreshold
	simT := sieve.SimilarityThreshold
	if c.ex.Category == model.CategoryCorrection {
		simT = min(simT*1.5, 0.6)
	}

	switch {
	case c.distance < dupT:
		c.tier = tierSkip
	case c.distance < dupT*1.5 && w.smartUpdate():
		c.tier = tierAutoReplace
		c.decision = decision{Action: actionReplace}
	case c.distance < simT && w.smartUpdate():
		c.tier = tierArbitrate
	default:
		c.tier = tierInsert
	}
}

func (w *Writer) smartUpdate() bool {
	su := w.sieve.Load().SmartUpdate
	return su == nil || *su
}

func (w *Writer) execute(ctx context.Context, c *classified, agentID, sessionID, source string) Outcome {
	if c.err != nil {
		return Outcome{Result: ResultFailed, Err: c.err}
	}

	switch c.tier {
	case tierSkip:
		return Outcome{Result: ResultSkipped}

	case tierAutoReplace, tierArbitrate:
		if c.decision.Action == actionKeep {
			return Outcome{Result: ResultSkipped}
		}
		return w.supersede(ctx, c, agentID, sessionID, source)

	default:
		return w.insert(ctx, c, agentID, sessionID, source)
	}
}

func (w *Writer) insert(ctx context.Context, c *classified, agentID, sessionID, source string) Outcome {
	m, err := w.store.Insert(ctx, w.buildSpec(c.ex, c.ex.Content, agentID, source))
	if err != nil {
		return Outcome{Result: ResultFailed, Err: err}
	}
	w.upsertVector(ctx, m, c.vec)
	return Outcome{Result: ResultInserted, Memory: m}
}

func (w *Writer) supersede(ctx context.Context, c *classified, agentID, sessionID, source string) Outcome {
	content := c.ex.Content
	if c.decision.Action == actionMerge && c.decision.MergedContent != "" {
		content = c.decision.MergedContent
	}

	m, err := w.store.Supersede(ctx, w.buildSpec(c.ex, content, agentID, source), c.closest.ID)
	if err != nil {
		return Outcome{Result: ResultFailed, Err: err}
	}

	w.upsertVector(ctx, m, c.vec)
	if err := w.vectors.Delete(ctx, c.closest.ID); err != nil {
		w.logger.Warn("failed to delete superseded vector", "id", c.closest.ID, "error", err)
	}

	if c.ex.Category == model.CategoryCorrection {
		w.logger.Info("auto-feedback",
			"feedback", "corrected",
			"agent_id", agentID,
			"original", c.closest.Content,
			"corrected", content)
	}

	return Outcome{Result: ResultSmartUpdated, Memory: m, SupersededID: c.closest.ID}
}

// buildSpec routes the extraction by importance: high-importance facts
// go straight to core, everything else starts in working with the
// working-layer TTL.
func (w *Writer) buildSpec(ex Extraction, content, agentID, source string) model.MemorySpec {
	spec := model.MemorySpec{
		AgentID:    agentID,
		Category:   ex.Category,
		Content:    content,
		Importance: ex.Importance,
		Confidence: ex.Confidence,
		Source:     source,
	}
	if ex.Importance >= model.CoreImportanceThreshold {
		spec.Layer = model.LayerCore
	} else {
		spec.Layer = model.LayerWorking
		expires := time.Now().UTC().Add(w.layers.Load().Working.TTL.Std())
		spec.ExpiresAt = &expires
	}
	return spec
}

// upsertVector is best-effort: a missing vector degrades the memory to
// keyword-only search but never fails the write.
func (w *Writer) upsertVector(ctx context.Context, m *model.Memory, vec []float32) {
	if vec == nil {
		return
	}
	err := w.vectors.Upsert(ctx, m.ID, vec, map[string]any{
		"agent_id": m.AgentID,
		"category": string(m.Category),
		"layer":    string(m.Layer),
	})
	if err != nil {
		w.logger.Warn("vector upsert failed, memory is keyword-only",
			"id", m.ID, "error", err)
	}
}
