package gate

import (
	"context"
	"fmt"
	"strings"

	"github.com/cortexmem/cortex/pkg/llms"
)

const rerankSystem = `You score how relevant each numbered memory is to the query, from 0.0 (irrelevant) to 1.0 (directly answers it). Respond with ONLY a JSON array of numbers, one per memory, same order.`

// rerank blends LLM relevance scores into the pool:
// final = w*rerank + (1-w)*original. Any failure leaves the original
// scores untouched.
func (g *Gate) rerank(ctx context.Context, query string, pool []*candidate) {
	reranker := g.cfg.Load().Reranker
	if g.llm == nil || !reranker.Enabled || len(pool) == 0 {
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Query: %s\n\nMemories:\n", query)
	for i, c := range pool {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, c.memory.Content)
	}

	resp, err := g.llm.Complete(ctx, llms.CompletionRequest{
		System:    rerankSystem,
		Messages:  []llms.Message{{Role: llms.RoleUser, Content: sb.String()}},
		MaxTokens: 512,
		JSONMode:  true,
	})
	if err != nil {
		g.logger.Warn("rerank call failed, keeping fusion scores", "error", err)
		return
	}

	var scores []float64
	if err := llms.DecodeJSON(resp.Text, &scores); err != nil || len(scores) != len(pool) {
		g.logger.Warn("unparseable rerank response, keeping fusion scores")
		return
	}

	w := reranker.Weight
	for i, c := range pool {
		s := scores[i]
		if s < 0 {
			s = 0
		}
		if s > 1 {
			s = 1
		}
		c.score = w*s + (1-w)*c.score
	}
}
