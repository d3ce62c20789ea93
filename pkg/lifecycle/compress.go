package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/cortexmem/cortex/pkg/llms"
	"github.com/cortexmem/cortex/pkg/model"
)

const compressSystem = `You compress a group of old memories of the same category into one dense summary paragraph. Preserve every distinct fact; drop repetition and filler. Respond with ONLY the summary text.`

// compressionPass condenses archive entries past the archive TTL. With
// compress_back_to_core a group becomes one summary-category core
// memory superseding the originals, so nothing is ever truly lost;
// otherwise expired entries are deleted.
func (e *Engine) compressionPass(ctx context.Context, r *Report, dryRun bool) {
	expired, err := e.store.ExpiredArchive(ctx, e.layers.Load().Archive.TTL.Std(), e.cfg.Load().MaxBatch)
	if err != nil {
		e.fail(r, "compression", err)
		return
	}
	if len(expired) == 0 {
		return
	}

	if !e.compressBackToCore() {
		if dryRun {
			r.Deleted += len(expired)
			return
		}
		ids := make([]string, len(expired))
		for i, m := range expired {
			ids[i] = m.ID
		}
		if err := e.store.DeleteBatch(ctx, ids); err != nil {
			e.fail(r, "compression", err)
			return
		}
		if err := e.vectors.Delete(ctx, ids...); err != nil {
			e.logger.Warn("compression vector cleanup failed", "error", err)
		}
		r.Deleted += len(expired)
		return
	}

	if e.llm == nil {
		e.logger.Warn("compression skipped, no lifecycle llm configured")
		return
	}

	for _, group := range groupByAgentCategory(expired) {
		if dryRun {
			r.Compressed += len(group)
			continue
		}
		if err := e.compressGroup(ctx, group); err != nil {
			e.fail(r, "compression", err)
			continue
		}
		r.Compressed += len(group)
	}
}

func (e *Engine) compressGroup(ctx context.Context, group []*model.Memory) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Category: %s\n\n", group[0].Category)
	for _, m := range group {
		fmt.Fprintf(&sb, "- %s\n", m.Content)
	}

	resp, err := e.llm.Complete(ctx, llms.CompletionRequest{
		System:    compressSystem,
		Messages:  []llms.Message{{Role: llms.RoleUser, Content: sb.String()}},
		MaxTokens: 1024,
	})
	if err != nil {
		return err
	}
	summary := strings.TrimSpace(resp.Text)
	if utf8.RuneCountInString(summary) < model.MinContentLength {
		return fmt.Errorf("compression produced empty summary")
	}

	ids := make([]string, len(group))
	for i, m := range group {
		ids[i] = m.ID
	}

	m, err := e.store.SupersedeMany(ctx, model.MemorySpec{
		AgentID:    group[0].AgentID,
		Layer:      model.LayerCore,
		Category:   model.CategorySummary,
		Content:    summary,
		Importance: 0.7,
		Confidence: 0.9,
		Source:     "lifecycle:compression",
		Metadata:   map[string]any{"compressed_category": string(group[0].Category), "compressed_count": len(group)},
	}, ids)
	if err != nil {
		return err
	}

	if vec, err := e.embedder.Embed(ctx, m.Content); err == nil {
		if err := e.vectors.Upsert(ctx, m.ID, vec, map[string]any{
			"agent_id": m.AgentID,
			"category": string(m.Category),
			"layer":    string(m.Layer),
		}); err != nil {
			e.logger.Warn("compression vector upsert failed", "id", m.ID, "error", err)
		}
	}
	if err := e.vectors.Delete(ctx, ids...); err != nil {
		e.logger.Warn("compression vector cleanup failed", "error", err)
	}
	return nil
}

// groupByAgentCategory buckets memories, returning groups in a stable
// order so dry runs and real runs report identically.
func groupByAgentCategory(mems []*model.Memory) [][]*model.Memory {
	buckets := map[string][]*model.Memory{}
	for _, m := range mems {
		key := m.AgentID + "|" + string(m.Category)
		buckets[key] = append(buckets[key], m)
	}

	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([][]*model.Memory, 0, len(buckets))
	for _, k := range keys {
		out = append(out, buckets[k])
	}
	return out
}

func (e *Engine) compressBackToCore() bool {
	v := e.layers.Load().Archive.CompressBackToCore
	return v == nil || *v
}
