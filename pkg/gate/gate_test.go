package gate

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexmem/cortex/pkg/config"
	"github.com/cortexmem/cortex/pkg/llms"
	"github.com/cortexmem/cortex/pkg/model"
	"github.com/cortexmem/cortex/pkg/store"
	"github.com/cortexmem/cortex/pkg/utils"
	"github.com/cortexmem/cortex/pkg/vector"
)

// tableEmbedder returns vectors from a fixed table; unknown texts fail,
// which exercises the keyword-only degrade path.
type tableEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
}

func (e *tableEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return nil, errors.New("no vector for text")
}

func (e *tableEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *tableEmbedder) Dimension() int    { return 4 }
func (e *tableEmbedder) ModelName() string { return "table" }

type memVectors struct {
	mu      sync.Mutex
	entries map[string]memEntry
}

type memEntry struct {
	vec     []float32
	agentID string
}

func (m *memVectors) Upsert(_ context.Context, id string, vec []float32, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	agentID, _ := metadata["agent_id"].(string)
	m.entries[id] = memEntry{vec: vec, agentID: agentID}
	return nil
}

func (m *memVectors) Search(_ context.Context, vec []float32, topK int, agentID string) ([]vector.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []vector.Result
	for id, e := range m.entries {
		if e.agentID != agentID {
			continue
		}
		var dot float64
		for i := range vec {
			dot += float64(vec[i]) * float64(e.vec[i])
		}
		out = append(out, vector.Result{ID: id, Distance: 1 - dot})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (m *memVectors) Delete(_ context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.entries, id)
	}
	return nil
}

func (m *memVectors) Name() string { return "mem" }
func (m *memVectors) Close() error { return nil }

type scriptedLLM struct {
	mu        sync.Mutex
	responses []string
	calls     int
	err       error
}

func (s *scriptedLLM) Complete(_ context.Context, _ llms.CompletionRequest) (*llms.CompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return nil, errors.New("no scripted response")
	}
	text := s.responses[0]
	s.responses = s.responses[1:]
	return &llms.CompletionResponse{Text: text}, nil
}

func (s *scriptedLLM) Name() string  { return "scripted" }
func (s *scriptedLLM) Model() string { return "scripted" }

type fixture struct {
	gate     *Gate
	store    *store.Store
	vectors  *memVectors
	embedder *tableEmbedder
	llm      *scriptedLLM
	cfg      *config.GateConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(config.StorageConfig{
		DBPath:  filepath.Join(t.TempDir(), "cortex.db"),
		WALMode: config.BoolPtr(true),
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := &config.GateConfig{QueryExpansion: config.BoolPtr(false)}
	cfg.SetDefaults()
	search := &config.SearchConfig{}
	search.SetDefaults()

	tokens, err := utils.NewTokenCounter("gpt-4")
	require.NoError(t, err)

	f := &fixture{
		store:    st,
		vectors:  &memVectors{entries: map[string]memEntry{}},
		embedder: &tableEmbedder{vectors: map[string][]float32{}},
		llm:      &scriptedLLM{},
		cfg:      cfg,
	}
	f.gate = New(st, f.vectors, f.embedder, f.llm, cfg, search, tokens)
	return f
}

// seed inserts a live memory and indexes its vector when vec is non-nil.
func (f *fixture) seed(t *testing.T, agentID string, layer model.Layer, category model.Category, content string, vec []float32) *model.Memory {
	t.Helper()
	spec := model.MemorySpec{
		AgentID:    agentID,
		Layer:      layer,
		Category:   category,
		Content:    content,
		Importance: 0.5,
		Confidence: 0.8,
	}
	if layer == model.LayerWorking {
		expires := time.Now().UTC().Add(48 * time.Hour)
		spec.ExpiresAt = &expires
	}
	m, err := f.store.Insert(context.Background(), spec)
	require.NoError(t, err)
	if vec != nil {
		require.NoError(t, f.vectors.Upsert(context.Background(), m.ID, vec, map[string]any{"agent_id": agentID}))
	}
	return m
}

func TestRecallFindsFreshMemory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	vec := []float32{1, 0, 0, 0}
	f.seed(t, "a1", model.LayerWorking, model.CategoryIdentity, "User's name is Alex", vec)
	f.embedder.vectors["What is my name?"] = vec

	res := f.gate.Recall(ctx, RecallInput{Query: "What is my name?", AgentID: "a1"})
	require.Len(t, res.Results, 1)
	assert.Contains(t, res.Context, "Alex")
	assert.Equal(t, 1, res.Meta.InjectedCount)
	assert.False(t, res.Meta.Degraded)
}

func TestRecallSmallTalkReturnsEmpty(t *testing.T) {
	f := newFixture(t)

	res := f.gate.Recall(context.Background(), RecallInput{Query: "thanks!", AgentID: "a1"})
	assert.Empty(t, res.Context)
	assert.Empty(t, res.Results)
	assert.True(t, res.Meta.SmallTalk)
}

func TestRecallEmptyQuery(t *testing.T) {
	f := newFixture(t)

	res := f.gate.Recall(context.Background(), RecallInput{Query: "   ", AgentID: "a1"})
	assert.Empty(t, res.Context)
	assert.Empty(t, res.Results)
}

func TestRecallKeywordOnlyWhenEmbeddingFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// No vector for the query or the memory: BM25 must carry the recall.
	f.seed(t, "a1", model.LayerWorking, model.CategoryFact, "User deploys with Kubernetes on GCP", nil)

	res := f.gate.Recall(ctx, RecallInput{Query: "kubernetes deployment", AgentID: "a1"})
	require.Len(t, res.Results, 1)
	assert.Contains(t, res.Context, "Kubernetes")
}

func TestRecallScopedToAgent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seed(t, "a1", model.LayerWorking, model.CategoryFact, "Secret fact about Kubernetes", nil)

	res := f.gate.Recall(ctx, RecallInput{Query: "kubernetes", AgentID: "a2"})
	assert.Empty(t, res.Results)
}

func TestRecallExcludesSuperseded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old := f.seed(t, "a1", model.LayerWorking, model.CategoryFact, "User lives in Berlin today", nil)
	expires := time.Now().UTC().Add(48 * time.Hour)
	_, err := f.store.Supersede(ctx, model.MemorySpec{
		AgentID: "a1", Layer: model.LayerWorking, Category: model.CategoryFact,
		Content: "User lives in Munich now", Importance: 0.5, Confidence: 0.8,
		ExpiresAt: &expires,
	}, old.ID)
	require.NoError(t, err)

	res := f.gate.Recall(ctx, RecallInput{Query: "lives where city", AgentID: "a1"})
	for _, m := range res.Results {
		assert.True(t, m.Live())
		assert.NotEqual(t, old.ID, m.ID)
	}
}

func TestConstraintSurvivesTruncation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seed(t, "a1", model.LayerCore, model.CategoryConstraint,
		"Never run destructive shell commands without confirmation.", nil)

	// Higher-scoring bulky facts that cannot fit an 80-token budget.
	filler := strings.Repeat("deployment pipeline rollout strategy notes ", 40)
	for i := 0; i < 3; i++ {
		f.seed(t, "a1", model.LayerCore, model.CategoryFact,
			fmt.Sprintf("Shell deployment detail %d: %s", i, filler), nil)
	}

	res := f.gate.Recall(ctx, RecallInput{
		Query:     "shell commands deployment",
		AgentID:   "a1",
		MaxTokens: 80,
	})
	assert.Contains(t, res.Context, "Never run destructive shell commands")
	for _, m := range res.Results {
		if m.Category == model.CategoryFact {
			assert.Fail(t, "bulky fact should not fit the budget")
		}
	}
}

func TestRecallIncrementsAccessCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := f.seed(t, "a1", model.LayerWorking, model.CategoryFact, "User prefers tabs over spaces", nil)

	res := f.gate.Recall(ctx, RecallInput{Query: "tabs or spaces preference", AgentID: "a1"})
	require.NotEmpty(t, res.Results)

	got, err := f.store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AccessCount)
}

func TestQueryExpansionMergesVariants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.cfg.QueryExpansion = config.BoolPtr(true)
	f.llm.responses = []string{`["what city does the user live in", "user location home"]`}

	f.seed(t, "a1", model.LayerWorking, model.CategoryIdentity, "User lives in Berlin", nil)

	res := f.gate.Recall(ctx, RecallInput{Query: "where does the user live", AgentID: "a1"})
	assert.Equal(t, 3, res.Meta.Variants)
	require.NotEmpty(t, res.Results)
}

func TestQueryExpansionFailureFallsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.cfg.QueryExpansion = config.BoolPtr(true)
	f.llm.err = errors.New("llm down")

	f.seed(t, "a1", model.LayerWorking, model.CategoryFact, "User codes in Go daily", nil)

	res := f.gate.Recall(ctx, RecallInput{Query: "what language does the user code in", AgentID: "a1"})
	assert.Equal(t, 1, res.Meta.Variants)
	require.NotEmpty(t, res.Results)
}

func TestRerankBlendsScores(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.cfg.Reranker.Enabled = true
	f.seed(t, "a1", model.LayerCore, model.CategoryFact, "Database uses PostgreSQL fifteen", nil)
	f.seed(t, "a1", model.LayerCore, model.CategoryFact, "Database migration tooling is Flyway", nil)

	// Rerank ranks the second candidate far above the first.
	f.llm.responses = []string{`[0.1, 1.0]`}

	hits, err := f.gate.Search(ctx, "a1", "database", false)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	res := f.gate.Recall(ctx, RecallInput{Query: "database", AgentID: "a1"})
	require.Len(t, res.Results, 2)
}

func TestSearchHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := f.seed(t, "a1", model.LayerWorking, model.CategoryFact, "User prefers vim keybindings", nil)

	hits, err := f.gate.Search(ctx, "a1", "vim keybindings", false)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Greater(t, hits[0].Score, 0.0)

	got, err := f.store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.AccessCount)
}

func TestSearchDeterministic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.seed(t, "a1", model.LayerCore, model.CategoryFact,
			fmt.Sprintf("Service alpha depends on service beta number %d", i), nil)
	}

	first, err := f.gate.Search(ctx, "a1", "service alpha beta", false)
	require.NoError(t, err)
	second, err := f.gate.Search(ctx, "a1", "service alpha beta", false)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Memory.ID, second[i].Memory.ID)
	}
}

func TestReloadSwapsConfig(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seed(t, "a1", model.LayerCore, model.CategoryFact, "User says thanks after every answer", nil)

	res := f.gate.Recall(ctx, RecallInput{Query: "thanks!", AgentID: "a1"})
	assert.True(t, res.Meta.SmallTalk)

	next := &config.GateConfig{
		SkipSmallTalk:  config.BoolPtr(false),
		QueryExpansion: config.BoolPtr(false),
	}
	next.SetDefaults()
	search := &config.SearchConfig{}
	search.SetDefaults()
	f.gate.Reload(next, search)

	res = f.gate.Recall(ctx, RecallInput{Query: "thanks!", AgentID: "a1"})
	assert.False(t, res.Meta.SmallTalk)
}

func TestReloadDuringRecall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seed(t, "a1", model.LayerCore, model.CategoryFact, "User deploys with Kubernetes on GCP", nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			next := &config.GateConfig{QueryExpansion: config.BoolPtr(false)}
			next.SetDefaults()
			search := &config.SearchConfig{}
			search.SetDefaults()
			f.gate.Reload(next, search)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			res := f.gate.Recall(ctx, RecallInput{Query: "kubernetes deployment", AgentID: "a1"})
			assert.NotNil(t, res)
		}
	}()
	wg.Wait()
}

func TestLayerWeightOrdersResults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Same content shape, different layers; core must outrank archive.
	f.seed(t, "a1", model.LayerArchive, model.CategoryFact, "Widget pipeline alpha fact", nil)
	core := f.seed(t, "a1", model.LayerCore, model.CategoryFact, "Widget pipeline beta fact", nil)

	hits, err := f.gate.Search(ctx, "a1", "widget pipeline", false)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, core.ID, hits[0].Memory.ID)
}
