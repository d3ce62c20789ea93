package gate

import (
	"context"
	"strings"

	"github.com/cortexmem/cortex/pkg/llms"
)

const expansionSystem = `You rewrite a memory-recall query into 2-3 short alternative phrasings (synonyms, rewordings) that could match how the fact was originally stated. Respond with ONLY a JSON array of strings, no explanations.`

// expandQuery asks the LLM for 2-3 variants. The original query always
// heads the returned set; on any failure the set is just the original.
func (g *Gate) expandQuery(ctx context.Context, query string) []string {
	queries := []string{query}
	if g.llm == nil || !g.expansionEnabled() {
		return queries
	}

	resp, err := g.llm.Complete(ctx, llms.CompletionRequest{
		System:    expansionSystem,
		Messages:  []llms.Message{{Role: llms.RoleUser, Content: query}},
		MaxTokens: 256,
		JSONMode:  true,
	})
	if err != nil {
		g.logger.Warn("query expansion failed", "error", err)
		return queries
	}

	var variants []string
	if err := llms.DecodeJSON(resp.Text, &variants); err != nil {
		g.logger.Warn("unparseable expansion response", "error", err)
		return queries
	}

	seen := map[string]bool{strings.ToLower(query): true}
	for _, v := range variants {
		v = strings.TrimSpace(v)
		if v == "" || seen[strings.ToLower(v)] {
			continue
		}
		seen[strings.ToLower(v)] = true
		queries = append(queries, v)
		if len(queries) == 4 {
			break
		}
	}
	return queries
}
