package lifecycle

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexmem/cortex/pkg/config"
	"github.com/cortexmem/cortex/pkg/llms"
	"github.com/cortexmem/cortex/pkg/metrics"
	"github.com/cortexmem/cortex/pkg/model"
	"github.com/cortexmem/cortex/pkg/store"
	"github.com/cortexmem/cortex/pkg/vector"
)

// onehotEmbedder hands out a distinct orthogonal vector per unseen
// text, so unrelated contents never look similar. Register aliases to
// make two texts embed identically.
type onehotEmbedder struct {
	mu    sync.Mutex
	slots map[string]int
}

func newOnehotEmbedder() *onehotEmbedder {
	return &onehotEmbedder{slots: map[string]int{}}
}

func (e *onehotEmbedder) alias(a, b string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.slots[b] = e.slot(a)
}

func (e *onehotEmbedder) slot(text string) int {
	if s, ok := e.slots[text]; ok {
		return s
	}
	s := len(e.slots)
	e.slots[text] = s
	return s
}

func (e *onehotEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	vec := make([]float32, 256)
	vec[e.slot(text)%256] = 1
	return vec, nil
}

func (e *onehotEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
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

func (e *onehotEmbedder) Dimension() int    { return 256 }
func (e *onehotEmbedder) ModelName() string { return "onehot-test" }

type vecEntry struct {
	vec     []float32
	agentID string
}

type memVectors struct {
	mu      sync.Mutex
	entries map[string]vecEntry
}

func newMemVectors() *memVectors {
	return &memVectors{entries: map[string]vecEntry{}}
}

func (v *memVectors) Upsert(_ context.Context, id string, vec []float32, metadata map[string]any) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	agentID, _ := metadata["agent_id"].(string)
	v.entries[id] = vecEntry{vec: vec, agentID: agentID}
	return nil
}

func (v *memVectors) Search(_ context.Context, vec []float32, topK int, agentID string) ([]vector.Result, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var hits []vector.Result
	for id, e := range v.entries {
		if e.agentID != agentID {
			continue
		}
		hits = append(hits, vector.Result{ID: id, Distance: cosineDistance(vec, e.vec)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (v *memVectors) Delete(_ context.Context, ids ...string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, id := range ids {
		delete(v.entries, id)
	}
	return nil
}

func (v *memVectors) Name() string { return "mem-test" }
func (v *memVectors) Close() error { return nil }

func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

type scriptedLLM struct {
	mu        sync.Mutex
	responses []string
	fallback  string
	calls     []llms.CompletionRequest
}

func (l *scriptedLLM) Complete(_ context.Context, req llms.CompletionRequest) (*llms.CompletionResponse, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, req)
	if len(l.responses) > 0 {
		text := l.responses[0]
		l.responses = l.responses[1:]
		return &llms.CompletionResponse{Text: text}, nil
	}
	if l.fallback != "" {
		return &llms.CompletionResponse{Text: l.fallback}, nil
	}
	return nil, fmt.Errorf("no scripted response")
}

func (l *scriptedLLM) Name() string  { return "scripted" }
func (l *scriptedLLM) Model() string { return "scripted-test" }

type fixture struct {
	store   *store.Store
	vectors *memVectors
	emb     *onehotEmbedder
	llm     *scriptedLLM
	cfg     config.LifecycleConfig
	layers  config.LayersConfig
	sieve   config.SieveConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(config.StorageConfig{
		DBPath:  filepath.Join(t.TempDir(), "cortex.db"),
		WALMode: config.BoolPtr(true),
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{
		store:   st,
		vectors: newMemVectors(),
		emb:     newOnehotEmbedder(),
		llm:     &scriptedLLM{},
	}
	f.cfg.SetDefaults()
	f.layers.SetDefaults()
	f.sieve.SetDefaults()
	return f
}

// engine builds an Engine over the fixture. Pass nil to run without an
// LLM.
func (f *fixture) engine(llm llms.Provider) *Engine {
	return New(f.store, f.vectors, f.emb, llm, &f.cfg, &f.layers, &f.sieve)
}

func (f *fixture) insert(t *testing.T, spec model.MemorySpec) *model.Memory {
	t.Helper()
	m, err := f.store.Insert(context.Background(), spec)
	require.NoError(t, err)
	vec, err := f.emb.Embed(context.Background(), m.Content)
	require.NoError(t, err)
	require.NoError(t, f.vectors.Upsert(context.Background(), m.ID, vec, map[string]any{"agent_id": m.AgentID}))
	return m
}

func (f *fixture) backdate(t *testing.T, id string, created, updated time.Time) {
	t.Helper()
	err := f.store.Transaction(context.Background(), func(tx *sql.Tx) error {
		_, err := tx.ExecContext(context.Background(),
			`UPDATE memories SET created_at = ?, updated_at = ? WHERE id = ?`,
			created.UTC(), updated.UTC(), id)
		return err
	})
	require.NoError(t, err)
}

func (f *fixture) expireWorking(t *testing.T, id string) {
	t.Helper()
	err := f.store.Transaction(context.Background(), func(tx *sql.Tx) error {
		_, err := tx.ExecContext(context.Background(),
			`UPDATE memories SET expires_at = ? WHERE id = ?`,
			time.Now().UTC().Add(-time.Hour), id)
		return err
	})
	require.NoError(t, err)
}

func coreSpec(agentID, content string) model.MemorySpec {
	return model.MemorySpec{
		AgentID:    agentID,
		Layer:      model.LayerCore,
		Category:   model.CategoryFact,
		Content:    content,
		Importance: 0.6,
		Confidence: 0.9,
	}
}

func workingSpec(agentID, content string) model.MemorySpec {
	expires := time.Now().UTC().Add(48 * time.Hour)
	return model.MemorySpec{
		AgentID:    agentID,
		Layer:      model.LayerWorking,
		Category:   model.CategoryFact,
		Content:    content,
		Importance: 0.8,
		Confidence: 0.8,
		ExpiresAt:  &expires,
	}
}

func TestDecayRecomputesFromUpdatedAt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old := f.insert(t, coreSpec("a1", "The user prefers dark roast coffee."))
	past := time.Now().UTC().AddDate(0, 0, -30)
	f.backdate(t, old.ID, past, past)
	fresh := f.insert(t, coreSpec("a1", "The user lives in Lisbon."))

	r := f.engine(nil).Run(ctx, false)
	assert.Equal(t, 1, r.Decayed)
	assert.Equal(t, 0, r.Errors)

	got, err := f.store.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.InDelta(t, math.Exp(-0.03*30), got.DecayScore, 0.01)

	got, err = f.store.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got.DecayScore, 0.001)
}

func TestPinnedNeverDecaysOrArchives(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	spec := coreSpec("a1", "Always respond in formal English.")
	spec.Category = model.CategoryConstraint
	spec.IsPinned = true
	m := f.insert(t, spec)
	past := time.Now().UTC().AddDate(0, 0, -100)
	f.backdate(t, m.ID, past, past)

	r := f.engine(nil).Run(ctx, false)
	assert.Zero(t, r.Archived)
	assert.Zero(t, r.Compressed)

	got, err := f.store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LayerCore, got.Layer)
	assert.InDelta(t, 1.0, got.DecayScore, 0.001)
}

func TestPromotionMovesAccessedWorkingToCore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	hot := f.insert(t, workingSpec("a1", "The user is migrating the billing service to Go."))
	require.NoError(t, f.store.IncrementAccess(ctx, []string{hot.ID}))
	cold := f.insert(t, workingSpec("a1", "The user mentioned it might rain tomorrow."))

	r := f.engine(nil).Run(ctx, false)
	assert.Equal(t, 1, r.Promoted)

	got, err := f.store.Get(ctx, hot.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LayerCore, got.Layer)
	assert.Nil(t, got.ExpiresAt)

	got, err = f.store.Get(ctx, cold.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LayerWorking, got.Layer)
}

func TestArchivalDemotesDecayedCore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := f.insert(t, coreSpec("a1", "The user once evaluated CockroachDB for a side project."))
	past := time.Now().UTC().AddDate(0, 0, -60)
	f.backdate(t, m.ID, past, past)

	r := f.engine(nil).Run(ctx, false)
	assert.Equal(t, 1, r.Archived)

	got, err := f.store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LayerArchive, got.Layer)
}

func TestExpiredWorkingMovesToArchive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := f.insert(t, workingSpec("a1", "The user asked about pagination cursors."))
	f.expireWorking(t, m.ID)

	r := f.engine(nil).Run(ctx, false)
	assert.Equal(t, 1, r.ExpiredWorking)

	got, err := f.store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LayerArchive, got.Layer)
	assert.Nil(t, got.ExpiresAt)
}

func TestMergeCondensesCoreNearDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.insert(t, coreSpec("a1", "The user prefers tabs over spaces."))
	f.emb.alias("The user prefers tabs over spaces.", "User prefers tabs, not spaces, for indentation.")
	b := f.insert(t, coreSpec("a1", "User prefers tabs, not spaces, for indentation."))

	f.llm.responses = []string{`["The user prefers tabs over spaces for indentation."]`}
	r := f.engine(f.llm).Run(ctx, false)
	assert.Equal(t, 1, r.Merged)

	gotA, err := f.store.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, gotA.Live())
	gotB, err := f.store.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, gotB.Live())

	merged, err := f.store.Get(ctx, gotA.SupersededBy)
	require.NoError(t, err)
	require.NotNil(t, merged)
	assert.Equal(t, "The user prefers tabs over spaces for indentation.", merged.Content)
	assert.Equal(t, model.LayerCore, merged.Layer)
	assert.Equal(t, gotB.SupersededBy, merged.ID)
}

func TestMergeFallsBackWithoutLLM(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.insert(t, coreSpec("a1", "The user works at Acme."))
	f.emb.alias("The user works at Acme.", "The user works at Acme Corporation in Berlin.")
	f.insert(t, coreSpec("a1", "The user works at Acme Corporation in Berlin."))

	r := f.engine(nil).Run(ctx, false)
	assert.Equal(t, 1, r.Merged)

	mems, err := f.store.List(ctx, store.ListFilter{AgentID: "a1", Layer: model.LayerCore})
	require.NoError(t, err)
	require.Len(t, mems, 1)
	assert.Equal(t, "The user works at Acme Corporation in Berlin.", mems[0].Content)
}

func TestMergeSkipsPinnedAndCrossFamily(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pinned := coreSpec("a1", "The user is named Dana.")
	pinned.IsPinned = true
	f.insert(t, pinned)
	f.emb.alias("The user is named Dana.", "The user's name is Dana.")
	f.insert(t, coreSpec("a1", "The user's name is Dana."))

	agentSide := coreSpec("a1", "Keep answers under three paragraphs.")
	agentSide.Category = model.CategoryAgentPersona
	f.insert(t, agentSide)
	f.emb.alias("Keep answers under three paragraphs.", "Answers should stay under three paragraphs.")
	userSide := coreSpec("a1", "Answers should stay under three paragraphs.")
	f.insert(t, userSide)

	r := f.engine(nil).Run(ctx, false)
	assert.Zero(t, r.Merged)
}

func TestCompressionRunsInOneTickAfterArchival(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []string
	for i, content := range []string{
		"The user debugged a flaky websocket reconnect in March.",
		"The user shipped the websocket retry fix after two attempts.",
	} {
		m := f.insert(t, coreSpec("a1", content))
		past := time.Now().UTC().AddDate(0, 0, -100-i)
		f.backdate(t, m.ID, past, past)
		ids = append(ids, m.ID)
	}

	f.llm.fallback = "The user spent early spring fixing websocket reconnect reliability."
	r := f.engine(f.llm).Run(ctx, false)
	assert.Equal(t, 2, r.Archived)
	assert.Equal(t, 2, r.Compressed)

	for _, id := range ids {
		got, err := f.store.Get(ctx, id)
		require.NoError(t, err)
		assert.False(t, got.Live())
	}

	summaries, err := f.store.List(ctx, store.ListFilter{AgentID: "a1", Category: model.CategorySummary})
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, model.LayerCore, summaries[0].Layer)
	assert.Equal(t, "The user spent early spring fixing websocket reconnect reliability.", summaries[0].Content)
}

func TestCompressionDeletesWhenDisabled(t *testing.T) {
	f := newFixture(t)
	f.layers.Archive.CompressBackToCore = config.BoolPtr(false)
	ctx := context.Background()

	spec := coreSpec("a1", "The user once asked about Erlang.")
	spec.Layer = model.LayerArchive
	m := f.insert(t, spec)
	past := time.Now().UTC().AddDate(0, 0, -100)
	f.backdate(t, m.ID, past, past)

	r := f.engine(nil).Run(ctx, false)
	assert.Equal(t, 1, r.Deleted)

	got, err := f.store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestProfileSynthesisWritesAgentMetadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.CreateAgent(ctx, &model.Agent{ID: "a1", Name: "support-bot"})
	require.NoError(t, err)
	f.insert(t, coreSpec("a1", "The user is a data engineer at a fintech startup."))

	f.llm.fallback = "Data engineer at a fintech startup."
	r := f.engine(f.llm).Run(ctx, false)
	assert.Equal(t, 1, r.ProfilesUpdated)

	agent, err := f.store.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "Data engineer at a fintech startup.", agent.Profile())
}

func TestCoreCapEvictsWeakestFirst(t *testing.T) {
	f := newFixture(t)
	f.layers.Core.MaxEntries = 2
	ctx := context.Background()

	_, err := f.store.CreateAgent(ctx, &model.Agent{ID: "a1", Name: "capped"})
	require.NoError(t, err)

	fresh := f.insert(t, coreSpec("a1", "The user is planning a conference talk."))
	mid := f.insert(t, coreSpec("a1", "The user reviews PRs every morning."))
	midPast := time.Now().UTC().AddDate(0, 0, -10)
	f.backdate(t, mid.ID, midPast, midPast)
	weak := f.insert(t, coreSpec("a1", "The user tried a standing desk once."))
	weakPast := time.Now().UTC().AddDate(0, 0, -30)
	f.backdate(t, weak.ID, weakPast, weakPast)

	r := f.engine(nil).Run(ctx, false)
	assert.Equal(t, 1, r.Archived)

	got, err := f.store.Get(ctx, weak.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LayerArchive, got.Layer)
	for _, id := range []string{fresh.ID, mid.ID} {
		got, err := f.store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.LayerCore, got.Layer)
	}
}

func TestDryRunReportsWithoutWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old := f.insert(t, coreSpec("a1", "The user keeps a reading list in Notion."))
	past := time.Now().UTC().AddDate(0, 0, -60)
	f.backdate(t, old.ID, past, past)
	hot := f.insert(t, workingSpec("a1", "The user is writing a Kafka consumer."))
	require.NoError(t, f.store.IncrementAccess(ctx, []string{hot.ID}))

	dry := f.engine(nil).Run(ctx, true)
	assert.True(t, dry.DryRun)
	assert.Equal(t, 1, dry.Decayed)
	assert.Equal(t, 1, dry.Promoted)
	assert.Equal(t, 1, dry.Archived)

	got, err := f.store.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LayerCore, got.Layer)
	assert.InDelta(t, 1.0, got.DecayScore, 0.001)
	got, err = f.store.Get(ctx, hot.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LayerWorking, got.Layer)

	wet := f.engine(nil).Run(ctx, false)
	assert.Equal(t, dry.Decayed, wet.Decayed)
	assert.Equal(t, dry.Promoted, wet.Promoted)
	assert.Equal(t, dry.Archived, wet.Archived)
}

func TestRunRecordsTransitionMetrics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	hot := f.insert(t, workingSpec("a1", "The user is migrating the billing service to Go."))
	require.NoError(t, f.store.IncrementAccess(ctx, []string{hot.ID}))

	promoted := metrics.LifecycleTransitions.WithLabelValues("promoted")
	before := testutil.ToFloat64(promoted)

	// A dry run must not move the counters.
	dry := f.engine(nil).Run(ctx, true)
	assert.Equal(t, 1, dry.Promoted)
	assert.InDelta(t, before, testutil.ToFloat64(promoted), 1e-9)

	// A direct engine run counts, scheduled ticks included.
	wet := f.engine(nil).Run(ctx, false)
	assert.Equal(t, 1, wet.Promoted)
	assert.InDelta(t, before+1, testutil.ToFloat64(promoted), 1e-9)
}

func TestSchedulerStartRearmStop(t *testing.T) {
	f := newFixture(t)
	s := NewScheduler(f.engine(nil))

	require.NoError(t, s.Start("@every 1h"))
	require.Error(t, s.Rearm("not a schedule"))
	require.NoError(t, s.Rearm("@every 30m"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
