package writer

import (
	"context"
	"fmt"
	"strings"

	"github.com/cortexmem/cortex/pkg/llms"
)

const (
	actionKeep    = "keep"
	actionReplace = "replace"
	actionMerge   = "merge"
)

// decision is the arbiter's verdict for one existing/new pair.
type decision struct {
	Action        string `json:"action"`
	MergedContent string `json:"merged_content,omitempty"`
	Reasoning     string `json:"reasoning,omitempty"`
}

const arbitrationSystem = `You maintain an AI agent's long-term memory. For each numbered pair of an EXISTING memory and a NEW candidate, decide:
- "keep": the existing memory already covers the new information; discard the new one.
- "replace": the new information supersedes the existing memory.
- "merge": both carry unique information; combine them into one statement and put it in "merged_content".

Respond with ONLY a JSON array, one object per pair, in the same order:
[{"action": "keep|replace|merge", "merged_content": "...", "reasoning": "..."}]`

// arbitrate resolves every tierArbitrate entry, issuing a single batched
// LLM call for all pairs. On batch-parse failure it falls back to
// per-pair calls; on total failure the safe default is replace.
func (w *Writer) arbitrate(ctx context.Context, cls []*classified) {
	var pending []*classified
	for _, c := range cls {
		if c.tier == tierArbitrate {
			pending = append(pending, c)
		}
	}
	if len(pending) == 0 {
		return
	}

	if w.llm == nil {
		for _, c := range pending {
			c.decision = decision{Action: actionReplace}
		}
		return
	}

	decisions, err := w.arbitrateBatch(ctx, pending)
	if err == nil {
		for i, c := range pending {
			c.decision = decisions[i]
		}
		return
	}
	w.logger.Warn("batch arbitration failed, falling back to per-pair calls", "error", err)

	for _, c := range pending {
		c.decision = w.arbitrateOne(ctx, c)
	}
}

func (w *Writer) arbitrateBatch(ctx context.Context, pending []*classified) ([]decision, error) {
	var sb strings.Builder
	for i, c := range pending {
		fmt.Fprintf(&sb, "Pair %d:\nEXISTING: %s\nNEW: %s\n\n", i+1, c.closest.Content, c.ex.Content)
	}

	resp, err := w.llm.Complete(ctx, llms.CompletionRequest{
		System:    arbitrationSystem,
		Messages:  []llms.Message{{Role: llms.RoleUser, Content: sb.String()}},
		MaxTokens: w.sieve.Load().MaxExtractionTokens,
		JSONMode:  true,
	})
	if err != nil {
		return nil, err
	}

	var decisions []decision
	if err := llms.DecodeJSON(resp.Text, &decisions); err != nil {
		return nil, fmt.Errorf("failed to parse arbitration response: %w", err)
	}
	if len(decisions) != len(pending) {
		return nil, fmt.Errorf("arbitration returned %d decisions for %d pairs", len(decisions), len(pending))
	}
	for i := range decisions {
		if !validAction(decisions[i].Action) {
			return nil, fmt.Errorf("arbitration returned unknown action %q", decisions[i].Action)
		}
	}
	return decisions, nil
}

func (w *Writer) arbitrateOne(ctx context.Context, c *classified) decision {
	prompt := fmt.Sprintf("Pair 1:\nEXISTING: %s\nNEW: %s\n", c.closest.Content, c.ex.Content)

	resp, err := w.llm.Complete(ctx, llms.CompletionRequest{
		System:    arbitrationSystem,
		Messages:  []llms.Message{{Role: llms.RoleUser, Content: prompt}},
		MaxTokens: 512,
		JSONMode:  true,
	})
	if err != nil {
		w.logger.Warn("arbitration call failed, defaulting to replace", "error", err)
		return decision{Action: actionReplace}
	}

	var decisions []decision
	if err := llms.DecodeJSON(resp.Text, &decisions); err == nil && len(decisions) == 1 && validAction(decisions[0].Action) {
		return decisions[0]
	}

	// Tolerate a bare object instead of a one-element array.
	var d decision
	if err := llms.DecodeJSON(resp.Text, &d); err == nil && validAction(d.Action) {
		return d
	}

	w.logger.Warn("unparseable arbitration response, defaulting to replace")
	return decision{Action: actionReplace}
}

func validAction(a string) bool {
	return a == actionKeep || a == actionReplace || a == actionMerge
}
