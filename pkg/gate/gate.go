// Package gate answers recall: clean the query, expand it, fan out
// hybrid search per variant, fuse and score, optionally rerank, then
// inject the best memories into a token-budgeted context string with
// constraints and persona always first.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/cortexmem/cortex/pkg/config"
	"github.com/cortexmem/cortex/pkg/embedders"
	"github.com/cortexmem/cortex/pkg/llms"
	"github.com/cortexmem/cortex/pkg/logger"
	"github.com/cortexmem/cortex/pkg/model"
	"github.com/cortexmem/cortex/pkg/sieve"
	"github.com/cortexmem/cortex/pkg/signals"
	"github.com/cortexmem/cortex/pkg/store"
	"github.com/cortexmem/cortex/pkg/utils"
	"github.com/cortexmem/cortex/pkg/vector"
)

// RecallInput is one recall request.
type RecallInput struct {
	Query     string `json:"query"`
	AgentID   string `json:"agent_id"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// RecallMeta describes how the context was assembled.
type RecallMeta struct {
	InjectedCount int  `json:"injected_count"`
	CandidateSize int  `json:"candidate_size"`
	Variants      int  `json:"variants"`
	SmallTalk     bool `json:"small_talk,omitempty"`
	Degraded      bool `json:"degraded,omitempty"`
}

// RecallResult is the injected context plus the memories behind it.
type RecallResult struct {
	Context string          `json:"context"`
	Results []*model.Memory `json:"results"`
	Meta    RecallMeta      `json:"meta"`
}

// SearchHit is one scored result of the debug /search surface.
type SearchHit struct {
	Memory *model.Memory `json:"memory"`
	Score  float64       `json:"score"`
	Hits   int           `json:"hits"`
}

// Gate orchestrates recall. Config sections are atomic snapshots so a
// runtime reload never races an in-flight request.
type Gate struct {
	store    *store.Store
	vectors  vector.Provider
	embedder embedders.Provider
	llm      llms.Provider
	cfg      atomic.Pointer[config.GateConfig]
	search   atomic.Pointer[config.SearchConfig]
	tokens   *utils.TokenCounter
	logger   *slog.Logger
}

// New builds a gate. llm may be nil; expansion and reranking are then
// disabled.
func New(st *store.Store, vectors vector.Provider, embedder embedders.Provider, llm llms.Provider, cfg *config.GateConfig, search *config.SearchConfig, tokens *utils.TokenCounter) *Gate {
	g := &Gate{
		store:    st,
		vectors:  vectors,
		embedder: embedder,
		llm:      llm,
		tokens:   tokens,
		logger:   logger.GetLogger(),
	}
	g.Reload(cfg, search)
	return g
}

// Reload swaps the tunable config sections.
func (g *Gate) Reload(cfg *config.GateConfig, search *config.SearchConfig) {
	g.cfg.Store(cfg)
	g.search.Store(search)
}

// Recall runs the full pipeline under the soft time budget. On overrun
// or internal failure it degrades to an empty context, never an error.
func (g *Gate) Recall(ctx context.Context, in RecallInput) *RecallResult {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Load().Timeout.Std())
	defer cancel()

	res, err := g.recall(ctx, in)
	if err != nil {
		g.logger.Warn("recall degraded to empty context",
			"agent_id", in.AgentID, "error", err)
		return &RecallResult{Results: []*model.Memory{}, Meta: RecallMeta{Degraded: true}}
	}
	return res
}

func (g *Gate) recall(ctx context.Context, in RecallInput) (*RecallResult, error) {
	query := sieve.Sanitize(in.Query)
	if query == "" {
		return &RecallResult{Results: []*model.Memory{}}, nil
	}

	if g.skipSmallTalk() && signals.IsSmallTalk(query) {
		return &RecallResult{Results: []*model.Memory{}, Meta: RecallMeta{SmallTalk: true}}, nil
	}

	queries := g.expandQuery(ctx, query)

	pool, err := g.searchVariants(ctx, in.AgentID, queries)
	if err != nil {
		return nil, err
	}

	g.rerank(ctx, query, pool)
	sortCandidates(pool)

	budget := in.MaxTokens
	if budget <= 0 {
		budget = g.cfg.Load().MaxInjectionTokens
	}
	contextStr, injected := g.inject(pool, budget)

	if len(injected) > 0 {
		ids := make([]string, len(injected))
		for i, m := range injected {
			ids[i] = m.ID
		}
		if err := g.store.IncrementAccess(ctx, ids); err != nil {
			g.logger.Warn("failed to increment access counts", "error", err)
		}
	}

	return &RecallResult{
		Context: contextStr,
		Results: injected,
		Meta: RecallMeta{
			InjectedCount: len(injected),
			CandidateSize: len(pool),
			Variants:      len(queries),
		},
	}, nil
}

// Search is the debug surface behind POST /search: the same variant
// fan-out and fusion, returning scored candidates without injection or
// access-count side effects.
func (g *Gate) Search(ctx context.Context, agentID, query string, expand bool) ([]SearchHit, error) {
	query = sieve.Sanitize(query)
	if query == "" {
		return nil, model.NewValidationError("query is required")
	}

	queries := []string{query}
	if expand {
		queries = g.expandQuery(ctx, query)
	}

	pool, err := g.searchVariants(ctx, agentID, queries)
	if err != nil {
		return nil, err
	}

	hits := make([]SearchHit, len(pool))
	for i, c := range pool {
		hits[i] = SearchHit{Memory: c.memory, Score: c.score, Hits: c.hits}
	}
	return hits, nil
}

func (g *Gate) searchVariants(ctx context.Context, agentID string, queries []string) ([]*candidate, error) {
	pools := make([]map[string]*candidate, len(queries))

	gr, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		i, q := i, q
		gr.Go(func() error {
			pool, err := g.hybridSearch(gctx, agentID, q)
			if err != nil {
				return err
			}
			pools[i] = pool
			return nil
		})
	}
	if err := gr.Wait(); err != nil {
		return nil, err
	}

	return g.mergeVariants(pools), nil
}

// inject formats the pool into the context string, constraints and
// persona first, stopping when the next memory would blow the budget.
func (g *Gate) inject(pool []*candidate, budget int) (string, []*model.Memory) {
	priority := make([]*candidate, 0)
	rest := make([]*candidate, 0, len(pool))
	for _, c := range pool {
		if c.memory.Category == model.CategoryConstraint || c.memory.Category == model.CategoryAgentPersona {
			priority = append(priority, c)
		} else {
			rest = append(rest, c)
		}
	}

	var sb strings.Builder
	used := 0
	var injected []*model.Memory

	// Priority entries go first, so a constraint is only ever dropped
	// when its content alone exceeds the budget.
	for _, c := range append(priority, rest...) {
		block := formatMemory(c.memory)
		if !g.tokens.Fits(used, block, budget) {
			continue
		}
		sb.WriteString(block)
		used += g.tokens.Count(block)
		injected = append(injected, c.memory)
	}

	return strings.TrimSpace(sb.String()), injected
}

func (g *Gate) skipSmallTalk() bool {
	v := g.cfg.Load().SkipSmallTalk
	return v == nil || *v
}

func (g *Gate) expansionEnabled() bool {
	v := g.cfg.Load().QueryExpansion
	return v == nil || *v
}

func (g *Gate) hybridEnabled() bool {
	v := g.search.Load().Hybrid
	return v == nil || *v
}

func formatMemory(m *model.Memory) string {
	return fmt.Sprintf("<cortex_memory layer=%q category=%q>%s</cortex_memory>\n", m.Layer, m.Category, m.Content)
}
