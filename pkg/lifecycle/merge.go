package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cortexmem/cortex/pkg/llms"
	"github.com/cortexmem/cortex/pkg/model"
	"github.com/cortexmem/cortex/pkg/store"
)

const mergeSystem = `You condense pairs of near-duplicate memory statements into one. For each numbered pair, produce a single statement preserving all unique information from both. Respond with ONLY a JSON array of strings, one per pair, same order.`

type mergePair struct {
	a, b *model.Memory
}

// mergePass finds near-duplicate live core pairs and merges each into
// one memory superseding both. Concurrent ingests can slip duplicates
// past the writer; this pass is the cleanup guarantee.
func (e *Engine) mergePass(ctx context.Context, r *Report, dryRun bool) {
	mems, err := e.store.List(ctx, store.ListFilter{
		Layer: model.LayerCore,
		Limit: e.cfg.Load().MaxBatch,
	})
	if err != nil {
		e.fail(r, "merge", err)
		return
	}
	if len(mems) < 2 {
		return
	}

	pairs := e.findDuplicatePairs(ctx, mems)
	if len(pairs) == 0 {
		return
	}
	if dryRun {
		r.Merged += len(pairs)
		return
	}

	merged := e.mergeContents(ctx, pairs)
	for i, p := range pairs {
		spec := model.MemorySpec{
			AgentID:    p.a.AgentID,
			Layer:      model.LayerCore,
			Category:   p.a.Category,
			Content:    merged[i],
			Importance: max(p.a.Importance, p.b.Importance),
			Confidence: max(p.a.Confidence, p.b.Confidence),
			Source:     "lifecycle:merge",
		}
		m, err := e.store.SupersedeMany(ctx, spec, []string{p.a.ID, p.b.ID})
		if err != nil {
			e.fail(r, "merge", err)
			continue
		}

		if vec, err := e.embedder.Embed(ctx, m.Content); err == nil {
			if err := e.vectors.Upsert(ctx, m.ID, vec, map[string]any{
				"agent_id": m.AgentID,
				"category": string(m.Category),
				"layer":    string(m.Layer),
			}); err != nil {
				e.logger.Warn("merge vector upsert failed", "id", m.ID, "error", err)
			}
		}
		if err := e.vectors.Delete(ctx, p.a.ID, p.b.ID); err != nil {
			e.logger.Warn("merge vector cleanup failed", "error", err)
		}
		r.Merged++
	}
}

// findDuplicatePairs embeds the scanned memories and pairs each with
// its nearest same-family neighbor under 1.5x the exact-dup threshold.
// Each memory joins at most one pair per pass.
func (e *Engine) findDuplicatePairs(ctx context.Context, mems []*model.Memory) []mergePair {
	byID := make(map[string]*model.Memory, len(mems))
	texts := make([]string, len(mems))
	for i, m := range mems {
		byID[m.ID] = m
		texts[i] = m.Content
	}

	vecs, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil || len(vecs) != len(mems) {
		e.logger.Warn("merge pass embedding failed, skipping", "error", err)
		return nil
	}

	threshold := e.sieve.Load().ExactDupThreshold * 1.5
	consumed := map[string]bool{}
	var pairs []mergePair

	for i, m := range mems {
		if consumed[m.ID] || m.IsPinned {
			continue
		}
		hits, err := e.vectors.Search(ctx, vecs[i], 2, m.AgentID)
		if err != nil {
			continue
		}
		for _, h := range hits {
			if h.ID == m.ID || h.Distance >= threshold || consumed[h.ID] {
				continue
			}
			other := byID[h.ID]
			if other == nil || other.IsPinned || !other.Live() || other.Layer != model.LayerCore {
				continue
			}
			if !other.Category.SameFamily(m.Category) {
				continue
			}
			consumed[m.ID] = true
			consumed[h.ID] = true
			pairs = append(pairs, mergePair{a: m, b: other})
			break
		}
	}
	return pairs
}

// mergeContents asks the LLM to condense all pairs in one call. On any
// failure the longer of the two contents wins.
func (e *Engine) mergeContents(ctx context.Context, pairs []mergePair) []string {
	out := make([]string, len(pairs))
	for i, p := range pairs {
		if len(p.b.Content) > len(p.a.Content) {
			out[i] = p.b.Content
		} else {
			out[i] = p.a.Content
		}
	}
	if e.llm == nil {
		return out
	}

	var sb strings.Builder
	for i, p := range pairs {
		fmt.Fprintf(&sb, "Pair %d:\nA: %s\nB: %s\n\n", i+1, p.a.Content, p.b.Content)
	}

	resp, err := e.llm.Complete(ctx, llms.CompletionRequest{
		System:    mergeSystem,
		Messages:  []llms.Message{{Role: llms.RoleUser, Content: sb.String()}},
		MaxTokens: 1024,
		JSONMode:  true,
	})
	if err != nil {
		e.logger.Warn("merge condensation failed, keeping longer content", "error", err)
		return out
	}

	var condensed []string
	if err := llms.DecodeJSON(resp.Text, &condensed); err != nil || len(condensed) != len(pairs) {
		e.logger.Warn("unparseable merge response, keeping longer content")
		return out
	}
	for i, c := range condensed {
		if c = strings.TrimSpace(c); utf8.RuneCountInString(c) >= model.MinContentLength {
			out[i] = c
		}
	}
	return out
}
