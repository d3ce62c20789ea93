package gate

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/cortexmem/cortex/pkg/model"
)

// rrfK is the standard reciprocal-rank-fusion constant.
const rrfK = 60

// maxRecencyBoost is the multiplier a just-updated memory receives; it
// decays linearly to 1.0 over the recency window.
const maxRecencyBoost = 1.3

// candidate is one scored memory in the recall pool.
type candidate struct {
	memory *model.Memory
	score  float64
	hits   int
}

// hybridSearch runs BM25 and vector retrieval for one query variant and
// fuses them with RRF, then applies layer, recency and access boosts.
// Either leg may fail; the other carries the result alone.
func (g *Gate) hybridSearch(ctx context.Context, agentID, query string) (map[string]*candidate, error) {
	k := g.search.Load().PoolSize

	ranks := map[string][]int{}

	hits, err := g.store.KeywordSearch(ctx, agentID, query, 2*k)
	if err != nil {
		g.logger.Warn("keyword search failed", "error", err)
	}
	for rank, h := range hits {
		ranks[h.ID] = append(ranks[h.ID], rank)
	}

	if g.hybridEnabled() {
		vec, err := g.embedder.Embed(ctx, query)
		if err != nil {
			g.logger.Warn("query embedding failed, keyword-only search", "error", err)
		} else {
			vhits, err := g.vectors.Search(ctx, vec, 2*k, agentID)
			if err != nil {
				g.logger.Warn("vector search failed, keyword-only search", "error", err)
			} else {
				for rank, h := range vhits {
					ranks[h.ID] = append(ranks[h.ID], rank)
				}
			}
		}
	}

	if len(ranks) == 0 {
		return map[string]*candidate{}, nil
	}

	ids := make([]string, 0, len(ranks))
	for id := range ranks {
		ids = append(ids, id)
	}
	mems, err := g.store.GetBatch(ctx, ids)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	out := make(map[string]*candidate, len(mems))
	for _, m := range mems {
		if !m.Live() {
			continue
		}
		rrf := 0.0
		for _, rank := range ranks[m.ID] {
			rrf += 1.0 / float64(rrfK+rank)
		}
		out[m.ID] = &candidate{
			memory: m,
			score:  rrf * g.layerWeight(m.Layer) * g.recencyBoost(m, now) * accessBoost(m),
			hits:   1,
		}
	}
	return out, nil
}

func (g *Gate) layerWeight(layer model.Layer) float64 {
	cfg := g.cfg.Load()
	switch layer {
	case model.LayerCore:
		return cfg.CoreWeight
	case model.LayerArchive:
		return cfg.ArchiveWeight
	default:
		return cfg.WorkingWeight
	}
}

func (g *Gate) recencyBoost(m *model.Memory, now time.Time) float64 {
	window := g.search.Load().RecencyBoostWindow.Std()
	if window <= 0 {
		return 1.0
	}
	age := now.Sub(m.UpdatedAt)
	if age < 0 {
		age = 0
	}
	if age >= window {
		return 1.0
	}
	frac := 1 - float64(age)/float64(window)
	return 1.0 + (maxRecencyBoost-1.0)*frac
}

// accessBoost is a gentle log factor of how often the memory has been
// injected before.
func accessBoost(m *model.Memory) float64 {
	return 1.0 + 0.05*math.Log1p(float64(m.AccessCount))
}

// mergeVariants unions per-variant pools, keeping each memory's max
// score and boosting memories hit by several variants.
func (g *Gate) mergeVariants(pools []map[string]*candidate) []*candidate {
	merged := map[string]*candidate{}
	for _, pool := range pools {
		for id, c := range pool {
			if prev, ok := merged[id]; ok {
				prev.hits++
				if c.score > prev.score {
					prev.score = c.score
				}
			} else {
				merged[id] = &candidate{memory: c.memory, score: c.score, hits: 1}
			}
		}
	}

	out := make([]*candidate, 0, len(merged))
	for _, c := range merged {
		if c.hits >= 2 {
			c.score *= 1 + g.cfg.Load().MultiHitBoost*math.Log(float64(c.hits))
		}
		out = append(out, c)
	}
	sortCandidates(out)
	return out
}

// sortCandidates orders by score descending with id as tie-break, so
// identical queries on an unchanged store return identical results.
func sortCandidates(pool []*candidate) {
	sort.Slice(pool, func(i, j int) bool {
		if pool[i].score != pool[j].score {
			return pool[i].score > pool[j].score
		}
		return pool[i].memory.ID < pool[j].memory.ID
	})
}
