package sieve

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexmem/cortex/pkg/config"
	"github.com/cortexmem/cortex/pkg/llms"
	"github.com/cortexmem/cortex/pkg/model"
	"github.com/cortexmem/cortex/pkg/store"
	"github.com/cortexmem/cortex/pkg/vector"
	"github.com/cortexmem/cortex/pkg/writer"
)

// onehotEmbedder assigns every distinct content its own orthogonal
// one-hot vector, so identical contents are exact duplicates and
// distinct contents never collide in the dedup search.
type onehotEmbedder struct {
	mu  sync.Mutex
	idx map[string]int
}

func newOnehotEmbedder() *onehotEmbedder {
	return &onehotEmbedder{idx: map[string]int{}}
}

const onehotDim = 256

func (e *onehotEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i, ok := e.idx[text]
	if !ok {
		i = len(e.idx)
		e.idx[text] = i
	}
	vec := make([]float32, onehotDim)
	vec[i%onehotDim] = 1
	return vec, nil
}

func (e *onehotEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, _ := e.Embed(ctx, t)
		out[i] = v
	}
	return out, nil
}

func (e *onehotEmbedder) Dimension() int    { return onehotDim }
func (e *onehotEmbedder) ModelName() string { return "onehot" }

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
	mu         sync.Mutex
	responses  []string
	calls      int
	lastPrompt string
	err        error
}

func (s *scriptedLLM) Complete(_ context.Context, req llms.CompletionRequest) (*llms.CompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(req.Messages) > 0 {
		s.lastPrompt = req.Messages[len(req.Messages)-1].Content
	}
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return &llms.CompletionResponse{Text: `{"nothing_extracted": true}`}, nil
	}
	text := s.responses[0]
	s.responses = s.responses[1:]
	return &llms.CompletionResponse{Text: text}, nil
}

func (s *scriptedLLM) Name() string  { return "scripted" }
func (s *scriptedLLM) Model() string { return "scripted" }

func (s *scriptedLLM) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fixture struct {
	sieve *Sieve
	store *store.Store
	llm   *scriptedLLM
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(config.StorageConfig{
		DBPath:  filepath.Join(t.TempDir(), "cortex.db"),
		WALMode: config.BoolPtr(true),
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := &config.SieveConfig{}
	cfg.SetDefaults()
	layers := &config.LayersConfig{}
	layers.SetDefaults()

	llm := &scriptedLLM{}
	vectors := &memVectors{entries: map[string]memEntry{}}
	w := writer.New(st, vectors, newOnehotEmbedder(), llm, cfg, layers)

	return &fixture{
		sieve: New(st, w, llm, cfg),
		store: st,
		llm:   llm,
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"cortex tags", "<cortex_memory layer=\"core\">injected stuff</cortex_memory>What is Go?", "What is Go?"},
		{"role markers", "system: be helpful\nWhat is Go?", "be helpful\nWhat is Go?"},
		{"chatml", "<|im_start|>hello<|im_end|>", "hello"},
		{"plain", "  hello world  ", "hello world"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestWindow(t *testing.T) {
	msgs := []TurnMessage{
		{Role: "user", Content: "first message dropped"},
		{Role: "user", Content: "question about Go"},
		{Role: "assistant", Content: "an answer"},
		{Role: "user", Content: "follow-up"},
		{Role: "assistant", Content: "more detail"},
	}

	out := window(msgs, 4, 2000)
	assert.NotContains(t, out, "first message dropped")
	assert.Contains(t, out, "[USER] question about Go")
	assert.Contains(t, out, "[ASSISTANT] an answer")

	// Over budget: long messages are truncated, short ones keep the floor.
	long := strings.Repeat("x", 3000)
	out = window([]TurnMessage{
		{Role: "user", Content: long},
		{Role: "assistant", Content: "short answer"},
	}, 4, 1000)
	assert.Less(t, len(out), 1500)
	assert.Contains(t, out, "short answer")
}

func TestIngestTooShortIsNoop(t *testing.T) {
	f := newFixture(t)

	// "你好" is six bytes but only two runes, so it sits under the
	// minimum just like "ab".
	for _, msg := range []string{"", "  ", "ab", "你好"} {
		res, err := f.sieve.Ingest(context.Background(), IngestInput{UserMessage: msg})
		require.NoError(t, err)
		assert.Empty(t, res.Extracted)
		assert.Empty(t, res.ExtractionLogs)
	}
	assert.Equal(t, 0, f.llm.callCount())
}

func TestFastChannelNameCapture(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.sieve.Ingest(ctx, IngestInput{
		UserMessage:      "My name is Alex and I work at Acme Corp.",
		AssistantMessage: "Got it.",
		AgentID:          "a1",
		SessionID:        "s1",
	})
	require.NoError(t, err)

	mems, err := f.store.List(ctx, store.ListFilter{AgentID: "a1"})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(mems), 2)

	categories := map[model.Category]bool{}
	contents := ""
	for _, m := range mems {
		categories[m.Category] = true
		contents += m.Content + "\n"
		assert.Equal(t, "session:s1", m.Source)
	}
	assert.True(t, categories[model.CategoryIdentity])
	assert.Contains(t, contents, "Alex")

	var fastLog *model.ExtractionLog
	for _, l := range res.ExtractionLogs {
		if l.Channel == model.ChannelFast {
			fastLog = l
		}
	}
	require.NotNil(t, fastLog)
	assert.GreaterOrEqual(t, fastLog.Written, 2)
}

func TestDeepChannelExtraction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.llm.responses = []string{`{
		"memories": [
			{"category": "preference", "content": "Prefers Rust over Go", "importance": 0.6, "confidence": 0.9},
			{"category": "project_state", "content": "Working on project Zephyr", "importance": 0.5, "confidence": 0.8},
			{"category": "bogus_category", "content": "Dropped", "importance": 0.5, "confidence": 0.5}
		],
		"relations": [
			{"subject": "user", "predicate": "prefers", "object": "Rust", "confidence": 0.9},
			{"subject": "user", "predicate": "invented", "object": "nothing", "confidence": 0.9}
		]
	}`}

	res, err := f.sieve.Ingest(ctx, IngestInput{
		UserMessage:      "I prefer Rust over Go, working on project Zephyr.",
		AssistantMessage: "Noted.",
		AgentID:          "a1",
	})
	require.NoError(t, err)

	mems, err := f.store.List(ctx, store.ListFilter{AgentID: "a1"})
	require.NoError(t, err)
	categories := map[model.Category]bool{}
	for _, m := range mems {
		categories[m.Category] = true
	}
	assert.True(t, categories[model.CategoryPreference])
	assert.True(t, categories[model.CategoryProjectState])

	rels, err := f.store.ListRelations(ctx, store.RelationFilter{AgentID: "a1"})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, model.PredicatePrefers, rels[0].Predicate)
	assert.Equal(t, "Rust", rels[0].Object)
	assert.NotEmpty(t, rels[0].MemoryID)

	var deepLog *model.ExtractionLog
	for _, l := range res.ExtractionLogs {
		if l.Channel == model.ChannelDeep {
			deepLog = l
		}
	}
	require.NotNil(t, deepLog)
	assert.Equal(t, 2, deepLog.ParsedMemories)
	assert.NotEmpty(t, deepLog.RawOutput)
}

func TestSmallTalkSkipsDeepChannel(t *testing.T) {
	f := newFixture(t)

	_, err := f.sieve.Ingest(context.Background(), IngestInput{
		UserMessage:      "thanks!",
		AssistantMessage: "You're welcome.",
		AgentID:          "a1",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, f.llm.callCount())
}

func TestDeepChannelFailureIsAudited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.llm.err = errors.New("provider down")
	res, err := f.sieve.Ingest(ctx, IngestInput{
		UserMessage: "Tell me about goroutine scheduling internals.",
		AgentID:     "a1",
	})
	require.NoError(t, err)

	var deepLog *model.ExtractionLog
	for _, l := range res.ExtractionLogs {
		if l.Channel == model.ChannelDeep {
			deepLog = l
		}
	}
	require.NotNil(t, deepLog)
	assert.Contains(t, deepLog.Error, "provider down")
}

func TestIngestIdempotence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := IngestInput{
		UserMessage:      "My name is Alex and I work at Acme Corp.",
		AssistantMessage: "Got it.",
		AgentID:          "a1",
	}

	first, err := f.sieve.Ingest(ctx, in)
	require.NoError(t, err)
	written1, _, _ := writer.Summarize(first.Extracted)
	require.Greater(t, written1, 0)

	second, err := f.sieve.Ingest(ctx, in)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, second.Deduplicated, written1)

	written2, _, _ := writer.Summarize(second.Extracted)
	assert.Equal(t, 0, written2)
}

func TestProfileInjection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.CreateAgent(ctx, &model.Agent{ID: "a1", Name: "assistant"})
	require.NoError(t, err)
	require.NoError(t, f.store.SetAgentMetadataKey(ctx, "a1", model.ProfileMetadataKey, "Senior Go developer in Berlin."))

	f.llm.responses = []string{`{"nothing_extracted": true}`}
	_, err = f.sieve.Ingest(ctx, IngestInput{
		UserMessage: "Can you review my channel usage in this worker pool?",
		AgentID:     "a1",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, f.llm.callCount())
	assert.Contains(t, f.llm.lastPrompt, "Senior Go developer in Berlin.")
}

func TestFlushUsesFlushSource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.sieve.Flush(ctx, IngestInput{
		UserMessage: "My name is Zoe.",
		Messages: []TurnMessage{
			{Role: "user", Content: "My name is Zoe."},
			{Role: "assistant", Content: "Hi Zoe."},
		},
		AgentID:   "a1",
		SessionID: "s9",
	})
	require.NoError(t, err)

	mems, err := f.store.List(ctx, store.ListFilter{AgentID: "a1"})
	require.NoError(t, err)
	require.NotEmpty(t, mems)
	for _, m := range mems {
		assert.Equal(t, "flush:s9", m.Source)
	}
}
