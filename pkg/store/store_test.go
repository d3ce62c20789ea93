package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexmem/cortex/pkg/config"
	"github.com/cortexmem/cortex/pkg/model"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(config.StorageConfig{
		DBPath:  filepath.Join(t.TempDir(), "cortex.db"),
		WALMode: config.BoolPtr(true),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func workingSpec(agentID, content string) model.MemorySpec {
	expires := time.Now().UTC().Add(48 * time.Hour)
	return model.MemorySpec{
		AgentID:    agentID,
		Layer:      model.LayerWorking,
		Category:   model.CategoryFact,
		Content:    content,
		Importance: 0.5,
		Confidence: 0.8,
		ExpiresAt:  &expires,
	}
}

func TestInsertAndGet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	m, err := s.Insert(ctx, workingSpec("a1", "Prefers Go over Python"))
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, 1.0, m.DecayScore)
	assert.True(t, m.Live())

	got, err := s.Get(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Prefers Go over Python", got.Content)
	assert.Equal(t, model.LayerWorking, got.Layer)
	require.NotNil(t, got.ExpiresAt)

	missing, err := s.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestLayerExpiryInvariants(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	spec := workingSpec("a1", "No expiry for working")
	spec.ExpiresAt = nil
	_, err := s.Insert(ctx, spec)
	var inv *model.InvariantError
	require.ErrorAs(t, err, &inv)

	core := workingSpec("a1", "Core with expiry")
	core.Layer = model.LayerCore
	_, err = s.Insert(ctx, core)
	require.ErrorAs(t, err, &inv)

	core.ExpiresAt = nil
	_, err = s.Insert(ctx, core)
	require.NoError(t, err)

	archive := workingSpec("a1", "Archive with expiry")
	archive.Layer = model.LayerArchive
	_, err = s.Insert(ctx, archive)
	require.ErrorAs(t, err, &inv)

	archive.ExpiresAt = nil
	_, err = s.Insert(ctx, archive)
	require.NoError(t, err)
}

func TestUpdateLayerExpiryInvariants(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	core := workingSpec("a1", "Core fact under partial update")
	core.Layer = model.LayerCore
	core.ExpiresAt = nil
	m, err := s.Insert(ctx, core)
	require.NoError(t, err)

	var inv *model.InvariantError

	// Expiry cannot land on a core memory.
	expires := time.Now().UTC().Add(time.Hour)
	err = s.Update(ctx, m.ID, MemoryUpdate{ExpiresAt: &expires})
	require.ErrorAs(t, err, &inv)

	// Moving to working requires an expiry in the same update.
	working := model.LayerWorking
	err = s.Update(ctx, m.ID, MemoryUpdate{Layer: &working})
	require.ErrorAs(t, err, &inv)

	require.NoError(t, s.Update(ctx, m.ID, MemoryUpdate{Layer: &working, ExpiresAt: &expires}))

	// Moving back to core keeps the stored expiry unless cleared.
	coreLayer := model.LayerCore
	err = s.Update(ctx, m.ID, MemoryUpdate{Layer: &coreLayer})
	require.ErrorAs(t, err, &inv)

	require.NoError(t, s.Update(ctx, m.ID, MemoryUpdate{Layer: &coreLayer, ClearExpiry: true}))

	got, err := s.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LayerCore, got.Layer)
	assert.Nil(t, got.ExpiresAt)

	// Invariant violations must not partially apply.
	err = s.Update(ctx, got.ID, MemoryUpdate{ExpiresAt: &expires, IsPinned: config.BoolPtr(true)})
	require.ErrorAs(t, err, &inv)
	got, err = s.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, got.IsPinned)
}

func TestUpdate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	m, err := s.Insert(ctx, workingSpec("a1", "Original content"))
	require.NoError(t, err)

	content := "Revised content"
	pinned := true
	require.NoError(t, s.Update(ctx, m.ID, MemoryUpdate{
		Content:  &content,
		IsPinned: &pinned,
	}))

	got, err := s.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "Revised content", got.Content)
	assert.True(t, got.IsPinned)

	var val *model.ValidationError
	err = s.Update(ctx, "missing", MemoryUpdate{Content: &content})
	require.ErrorAs(t, err, &val)

	short := "ab"
	err = s.Update(ctx, m.ID, MemoryUpdate{Content: &short})
	require.ErrorAs(t, err, &val)

	// Length is counted in runes, not bytes.
	cjkShort := "你好"
	err = s.Update(ctx, m.ID, MemoryUpdate{Content: &cjkShort})
	require.ErrorAs(t, err, &val)

	cjkOK := "喜欢围棋"
	require.NoError(t, s.Update(ctx, m.ID, MemoryUpdate{Content: &cjkOK}))
}

func TestSupersede(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	old, err := s.Insert(ctx, workingSpec("a1", "User lives in Berlin"))
	require.NoError(t, err)

	repl, err := s.Supersede(ctx, workingSpec("a1", "User lives in Munich"), old.ID)
	require.NoError(t, err)

	gotOld, err := s.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, repl.ID, gotOld.SupersededBy)
	assert.False(t, gotOld.Live())

	// A superseded memory cannot be superseded again.
	_, err = s.Supersede(ctx, workingSpec("a1", "User lives in Hamburg"), old.ID)
	var inv *model.InvariantError
	require.ErrorAs(t, err, &inv)

	// Missing target aborts before inserting anything.
	_, err = s.Supersede(ctx, workingSpec("a1", "Orphan replacement"), "missing")
	require.ErrorAs(t, err, &inv)
	list, err := s.List(ctx, ListFilter{AgentID: "a1"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSupersedeMany(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a, err := s.Insert(ctx, workingSpec("a1", "Works at Acme as engineer"))
	require.NoError(t, err)
	b, err := s.Insert(ctx, workingSpec("a1", "Is a software engineer at Acme"))
	require.NoError(t, err)

	merged, err := s.SupersedeMany(ctx, workingSpec("a1", "Software engineer at Acme"), []string{a.ID, b.ID})
	require.NoError(t, err)

	for _, id := range []string{a.ID, b.ID} {
		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, merged.ID, got.SupersededBy)
	}
}

func TestListFilters(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, workingSpec("a1", "Working memory one"))
	require.NoError(t, err)
	core := workingSpec("a1", "Core memory one")
	core.Layer = model.LayerCore
	core.ExpiresAt = nil
	core.Category = model.CategoryIdentity
	_, err = s.Insert(ctx, core)
	require.NoError(t, err)
	_, err = s.Insert(ctx, workingSpec("a2", "Other agent memory"))
	require.NoError(t, err)

	all, err := s.List(ctx, ListFilter{AgentID: "a1"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	coreOnly, err := s.List(ctx, ListFilter{AgentID: "a1", Layer: model.LayerCore})
	require.NoError(t, err)
	require.Len(t, coreOnly, 1)
	assert.Equal(t, model.CategoryIdentity, coreOnly[0].Category)

	byCat, err := s.List(ctx, ListFilter{AgentID: "a1", Category: model.CategoryFact})
	require.NoError(t, err)
	assert.Len(t, byCat, 1)
}

func TestListExcludesSuperseded(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	old, err := s.Insert(ctx, workingSpec("a1", "Old version of fact"))
	require.NoError(t, err)
	_, err = s.Supersede(ctx, workingSpec("a1", "New version of fact"), old.ID)
	require.NoError(t, err)

	live, err := s.List(ctx, ListFilter{AgentID: "a1"})
	require.NoError(t, err)
	assert.Len(t, live, 1)

	all, err := s.List(ctx, ListFilter{AgentID: "a1", IncludeSuperseded: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestKeywordSearch(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	m1, err := s.Insert(ctx, workingSpec("a1", "User prefers PostgreSQL for relational workloads"))
	require.NoError(t, err)
	_, err = s.Insert(ctx, workingSpec("a1", "User enjoys hiking on weekends"))
	require.NoError(t, err)
	_, err = s.Insert(ctx, workingSpec("a2", "PostgreSQL memory of another agent"))
	require.NoError(t, err)

	hits, err := s.KeywordSearch(ctx, "a1", "postgresql database", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, m1.ID, hits[0].ID)
	assert.Greater(t, hits[0].Score, 0.0)

	// Punctuation-heavy queries must not break the FTS parser.
	_, err = s.KeywordSearch(ctx, "a1", `"weird! (query) AND OR NOT*`, 10)
	require.NoError(t, err)

	empty, err := s.KeywordSearch(ctx, "a1", "!!!", 10)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestKeywordSearchSkipsSuperseded(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	old, err := s.Insert(ctx, workingSpec("a1", "Deploys with Kubernetes on AWS"))
	require.NoError(t, err)
	repl, err := s.Supersede(ctx, workingSpec("a1", "Deploys with Kubernetes on GCP"), old.ID)
	require.NoError(t, err)

	hits, err := s.KeywordSearch(ctx, "a1", "kubernetes", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, repl.ID, hits[0].ID)
}

func TestIncrementAccessPreservesUpdatedAt(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	m, err := s.Insert(ctx, workingSpec("a1", "Accessed memory"))
	require.NoError(t, err)

	require.NoError(t, s.IncrementAccess(ctx, []string{m.ID, m.ID}))

	got, err := s.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.AccessCount)
	assert.True(t, got.UpdatedAt.Equal(m.UpdatedAt))
}

func TestSetDecayScores(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	m, err := s.Insert(ctx, workingSpec("a1", "Decaying memory"))
	require.NoError(t, err)

	require.NoError(t, s.SetDecayScores(ctx, map[string]float64{m.ID: 0.42}))

	got, err := s.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.42, got.DecayScore, 1e-9)
	assert.True(t, got.UpdatedAt.Equal(m.UpdatedAt))
}

func TestRelationsUpsertAndNegation(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	r, err := s.UpsertRelation(ctx, &model.Relation{
		AgentID: "a1", Subject: "user", Predicate: model.PredicateUses,
		Object: "vim", Confidence: 0.9,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)

	// Same triple refreshes rather than duplicating, and the caller
	// gets the surviving row's id back.
	r2, err := s.UpsertRelation(ctx, &model.Relation{
		AgentID: "a1", Subject: "user", Predicate: model.PredicateUses,
		Object: "vim", Confidence: 0.95,
	})
	require.NoError(t, err)
	assert.Equal(t, r.ID, r2.ID)
	assert.True(t, r.CreatedAt.Equal(r2.CreatedAt))

	got, err := s.GetRelation(ctx, r2.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.InDelta(t, 0.95, got.Confidence, 1e-9)

	rels, err := s.ListRelations(ctx, RelationFilter{AgentID: "a1"})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.InDelta(t, 0.95, rels[0].Confidence, 1e-9)

	// A negative edge expires the positive one.
	_, err = s.UpsertRelation(ctx, &model.Relation{
		AgentID: "a1", Subject: "user", Predicate: model.PredicateNotUses,
		Object: "vim", Confidence: 0.9,
	})
	require.NoError(t, err)

	active, err := s.ListRelations(ctx, RelationFilter{AgentID: "a1"})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, model.PredicateNotUses, active[0].Predicate)

	all, err := s.ListRelations(ctx, RelationFilter{AgentID: "a1", IncludeExpired: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRelationValidation(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.UpsertRelation(ctx, &model.Relation{
		AgentID: "a1", Subject: "user", Predicate: "invented_predicate",
		Object: "thing", Confidence: 0.5,
	})
	var val *model.ValidationError
	require.ErrorAs(t, err, &val)
}

func TestAgentsCRUD(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a, err := s.CreateAgent(ctx, &model.Agent{Name: "assistant"})
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)

	got, err := s.GetAgent(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "assistant", got.Name)

	name := "renamed"
	upd, err := s.UpdateAgent(ctx, a.ID, AgentUpdate{
		Name:   &name,
		Config: map[string]any{"max_injection_tokens": 1000},
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", upd.Name)

	got, err = s.GetAgent(ctx, a.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1000, got.Config["max_injection_tokens"])

	require.NoError(t, s.SetAgentMetadataKey(ctx, a.ID, model.ProfileMetadataKey, "Prefers terse answers."))
	got, err = s.GetAgent(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Prefers terse answers.", got.Profile())

	require.NoError(t, s.DeleteAgent(ctx, a.ID))
	got, err = s.GetAgent(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeleteAgentCascades(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a, err := s.CreateAgent(ctx, &model.Agent{ID: "a1", Name: "assistant"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, workingSpec(a.ID, "Scoped memory"))
	require.NoError(t, err)
	_, err = s.UpsertRelation(ctx, &model.Relation{
		AgentID: a.ID, Subject: "user", Predicate: model.PredicateUses,
		Object: "go", Confidence: 0.9,
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteAgent(ctx, a.ID))

	mems, err := s.List(ctx, ListFilter{AgentID: a.ID})
	require.NoError(t, err)
	assert.Empty(t, mems)
	rels, err := s.ListRelations(ctx, RelationFilter{AgentID: a.ID})
	require.NoError(t, err)
	assert.Empty(t, rels)
}

func TestExtractionLogs(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertExtractionLog(ctx, &model.ExtractionLog{
		AgentID:        "a1",
		Channel:        model.ChannelDeep,
		ParsedMemories: 3,
		Written:        2,
		Deduplicated:   1,
		LatencyMS:      840,
	}))

	logs, err := s.ListExtractionLogs(ctx, "a1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.ChannelDeep, logs[0].Channel)
	assert.Equal(t, 2, logs[0].Written)
}

func TestStats(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.CreateAgent(ctx, &model.Agent{ID: "a1", Name: "assistant"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, workingSpec("a1", "Working fact"))
	require.NoError(t, err)
	core := workingSpec("a1", "Core identity fact")
	core.Layer = model.LayerCore
	core.ExpiresAt = nil
	core.Category = model.CategoryIdentity
	_, err = s.Insert(ctx, core)
	require.NoError(t, err)
	old, err := s.Insert(ctx, workingSpec("a1", "Old superseded fact"))
	require.NoError(t, err)
	_, err = s.Supersede(ctx, workingSpec("a1", "Replacement fact"), old.ID)
	require.NoError(t, err)

	st, err := s.Stats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, st.TotalMemories)
	assert.Equal(t, 2, st.ByLayer["working"])
	assert.Equal(t, 1, st.ByLayer["core"])
	assert.Equal(t, 1, st.ByCategory["identity"])
	assert.Equal(t, 1, st.Superseded)
	assert.Equal(t, 1, st.Agents)
}

func TestLifecycleQueries(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// Promotion candidate: high signal, accessed once.
	promo := workingSpec("a1", "Frequently referenced fact")
	promo.Importance = 0.8
	promo.Confidence = 0.9
	m, err := s.Insert(ctx, promo)
	require.NoError(t, err)
	require.NoError(t, s.IncrementAccess(ctx, []string{m.ID}))

	// High signal but never accessed: not a candidate.
	idle := workingSpec("a1", "Never referenced fact")
	idle.Importance = 0.9
	idle.Confidence = 0.9
	_, err = s.Insert(ctx, idle)
	require.NoError(t, err)

	cands, err := s.PromotionCandidates(ctx, 0.5, 100)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, m.ID, cands[0].ID)

	// Expired working memory.
	past := time.Now().UTC().Add(-time.Hour)
	exp := workingSpec("a1", "Expired working fact")
	exp.ExpiresAt = &past
	e, err := s.Insert(ctx, exp)
	require.NoError(t, err)

	expired, err := s.ExpiredWorking(ctx, 100)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, e.ID, expired[0].ID)

	// Promote: move to core, clear expiry.
	require.NoError(t, s.ChangeLayer(ctx, m.ID, model.LayerCore, nil))
	got, err := s.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LayerCore, got.Layer)
	assert.Nil(t, got.ExpiresAt)

	// Once decayed, it shows up as an archive candidate.
	require.NoError(t, s.SetDecayScores(ctx, map[string]float64{m.ID: 0.1}))
	arch, err := s.ArchiveCandidates(ctx, 0.2, 0, 100)
	require.NoError(t, err)
	require.Len(t, arch, 1)
	assert.Equal(t, m.ID, arch[0].ID)
}

func TestMigrateIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cortex.db")

	s1, err := Open(config.StorageConfig{DBPath: path, WALMode: config.BoolPtr(true)})
	require.NoError(t, err)
	_, err = s1.Insert(context.Background(), workingSpec("a1", "Survives reopen"))
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(config.StorageConfig{DBPath: path, WALMode: config.BoolPtr(true)})
	require.NoError(t, err)
	defer s2.Close()

	list, err := s2.List(context.Background(), ListFilter{AgentID: "a1"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestHealthy(t *testing.T) {
	s := testStore(t)
	assert.True(t, s.Healthy(context.Background()))
	require.NoError(t, s.Close())
	assert.False(t, s.Healthy(context.Background()))
}

func TestTransactionRollback(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO agents (id, name, created_at, updated_at) VALUES ('x', 'x', ?, ?)`,
			time.Now(), time.Now()); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetAgent(ctx, "x")
	require.NoError(t, err)
	assert.Nil(t, got)
}
