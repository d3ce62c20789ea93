// Package sieve orchestrates ingest: sanitize the exchange, run the
// regex fast channel, then the LLM deep channel, upsert extracted
// relations, and audit every channel run. The writer is the single
// dedup authority, and the fast channel completes its writes before the
// deep channel starts, so deep extractions dedup against them through
// the shared vector index.
package sieve

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/cortexmem/cortex/pkg/config"
	"github.com/cortexmem/cortex/pkg/llms"
	"github.com/cortexmem/cortex/pkg/logger"
	"github.com/cortexmem/cortex/pkg/model"
	"github.com/cortexmem/cortex/pkg/signals"
	"github.com/cortexmem/cortex/pkg/store"
	"github.com/cortexmem/cortex/pkg/writer"
)

// DefaultAgentID scopes ingests that do not name an agent.
const DefaultAgentID = "default"

// IngestInput is one exchange to sift for memories. Messages, when set,
// supplies multi-turn context and takes precedence over the single
// user/assistant pair for the deep channel.
type IngestInput struct {
	UserMessage      string        `json:"user_message"`
	AssistantMessage string        `json:"assistant_message"`
	Messages         []TurnMessage `json:"messages,omitempty"`
	AgentID          string        `json:"agent_id,omitempty"`
	SessionID        string        `json:"session_id,omitempty"`
}

// IngestResult reports what one ingest produced.
type IngestResult struct {
	Extracted      []writer.Outcome       `json:"extracted"`
	Deduplicated   int                    `json:"deduplicated"`
	SmartUpdated   int                    `json:"smart_updated"`
	ExtractionLogs []*model.ExtractionLog `json:"extraction_logs"`
}

// Sieve is the ingest orchestrator. The config is an atomic snapshot so
// runtime reloads never race a running ingest.
type Sieve struct {
	store  *store.Store
	writer *writer.Writer
	llm    llms.Provider
	cfg    atomic.Pointer[config.SieveConfig]
	logger *slog.Logger
}

// New builds a sieve. llm may be nil; the deep channel is then disabled
// and ingest degrades to fast-channel-only.
func New(st *store.Store, w *writer.Writer, llm llms.Provider, cfg *config.SieveConfig) *Sieve {
	s := &Sieve{
		store:  st,
		writer: w,
		llm:    llm,
		logger: logger.GetLogger(),
	}
	s.cfg.Store(cfg)
	return s
}

// Reload swaps the config snapshot.
func (s *Sieve) Reload(cfg *config.SieveConfig) {
	s.cfg.Store(cfg)
}

// Ingest runs the full pipeline for one exchange.
func (s *Sieve) Ingest(ctx context.Context, in IngestInput) (*IngestResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Load().IngestTimeout.Std())
	defer cancel()
	return s.run(ctx, in, "session")
}

// Flush bulk-ingests a full message list before the caller compresses
// its context window. Same pipeline, tighter timeout, flush source tag.
func (s *Sieve) Flush(ctx context.Context, in IngestInput) (*IngestResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Load().FlushTimeout.Std())
	defer cancel()
	return s.run(ctx, in, "flush")
}

func (s *Sieve) run(ctx context.Context, in IngestInput, sourceKind string) (*IngestResult, error) {
	agentID := in.AgentID
	if agentID == "" {
		agentID = DefaultAgentID
	}

	userClean := Sanitize(in.UserMessage)
	if utf8.RuneCountInString(userClean) < model.MinContentLength {
		return &IngestResult{}, nil
	}

	conversation := s.conversation(in, userClean)
	source := sourceKind
	if in.SessionID != "" {
		source = fmt.Sprintf("%s:%s", sourceKind, in.SessionID)
	}

	result := &IngestResult{}

	// Fast channel first: its writes must be visible to the deep
	// channel's dedup search.
	if s.fastEnabled() {
		s.runFastChannel(ctx, userClean, agentID, in.SessionID, source, result)
	}

	if s.llm != nil && !signals.IsSmallTalk(userClean) {
		s.runDeepChannel(ctx, conversation, agentID, in.SessionID, source, result)
	}

	return result, nil
}

func (s *Sieve) conversation(in IngestInput, userClean string) string {
	cfg := s.cfg.Load()
	if len(in.Messages) > 0 {
		return window(in.Messages, cfg.ContextMessages, cfg.MaxConversationChars)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "[USER] %s\n", truncate(userClean, cfg.MaxConversationChars))
	if assistant := Sanitize(in.AssistantMessage); assistant != "" {
		fmt.Fprintf(&sb, "[ASSISTANT] %s\n", truncate(assistant, cfg.MaxConversationChars))
	}
	return strings.TrimSpace(sb.String())
}

func (s *Sieve) runFastChannel(ctx context.Context, userClean, agentID, sessionID, source string, result *IngestResult) {
	start := time.Now()

	detected := signals.Detect(userClean)
	if len(detected) == 0 {
		return
	}

	extractions := make([]writer.Extraction, len(detected))
	preview := make([]string, len(detected))
	for i, sig := range detected {
		extractions[i] = writer.Extraction{
			Category:   sig.Category,
			Content:    sig.Content,
			Importance: sig.Importance,
			Confidence: sig.Confidence,
		}
		preview[i] = sig.Pattern
	}

	outcomes := s.writer.ProcessNewMemoryBatch(ctx, extractions, agentID, sessionID, source)
	written, dedup, smart := writer.Summarize(outcomes)

	result.Extracted = append(result.Extracted, outcomes...)
	result.Deduplicated += dedup
	result.SmartUpdated += smart

	s.audit(ctx, result, &model.ExtractionLog{
		AgentID:         agentID,
		SessionID:       sessionID,
		Channel:         model.ChannelFast,
		ExchangePreview: truncate(userClean, 200),
		RawOutput:       strings.Join(preview, ","),
		ParsedMemories:  len(detected),
		Written:         written,
		Deduplicated:    dedup,
		SmartUpdated:    smart,
		LatencyMS:       time.Since(start).Milliseconds(),
	})
}

func (s *Sieve) runDeepChannel(ctx context.Context, conversation, agentID, sessionID, source string, result *IngestResult) {
	start := time.Now()
	entry := &model.ExtractionLog{
		AgentID:         agentID,
		SessionID:       sessionID,
		Channel:         model.ChannelDeep,
		ExchangePreview: truncate(conversation, 200),
	}

	profile := ""
	if s.profileInjection() {
		if agent, err := s.store.GetAgent(ctx, agentID); err == nil && agent != nil {
			profile = agent.Profile()
		}
	}

	extractions, relations, raw, err := s.extractDeep(ctx, conversation, profile)
	entry.RawOutput = raw
	if err != nil {
		// Deep channel degrades to fast-channel-only; the failure is
		// audited, not surfaced.
		s.logger.Warn("deep channel extraction failed", "agent_id", agentID, "error", err)
		entry.Error = err.Error()
		entry.LatencyMS = time.Since(start).Milliseconds()
		s.audit(ctx, result, entry)
		return
	}

	entry.ParsedMemories = len(extractions)

	var outcomes []writer.Outcome
	if len(extractions) > 0 {
		outcomes = s.writer.ProcessNewMemoryBatch(ctx, extractions, agentID, sessionID, source)
		written, dedup, smart := writer.Summarize(outcomes)
		entry.Written = written
		entry.Deduplicated = dedup
		entry.SmartUpdated = smart

		result.Extracted = append(result.Extracted, outcomes...)
		result.Deduplicated += dedup
		result.SmartUpdated += smart
	}

	if s.relationExtraction() && len(relations) > 0 {
		s.upsertRelations(ctx, agentID, relations, outcomes)
	}

	entry.LatencyMS = time.Since(start).Milliseconds()
	s.audit(ctx, result, entry)
}

// upsertRelations filters extracted edges to the closed predicate
// vocabulary and links them to the first memory this ingest wrote.
func (s *Sieve) upsertRelations(ctx context.Context, agentID string, relations []relationExtraction, outcomes []writer.Outcome) {
	memoryID := ""
	for _, o := range outcomes {
		if o.Memory != nil {
			memoryID = o.Memory.ID
			break
		}
	}

	for _, r := range relations {
		rel := &model.Relation{
			AgentID:    agentID,
			Subject:    strings.TrimSpace(r.Subject),
			Predicate:  model.Predicate(strings.ToLower(strings.TrimSpace(r.Predicate))),
			Object:     strings.TrimSpace(r.Object),
			Confidence: r.Confidence,
			MemoryID:   memoryID,
		}
		if rel.Confidence <= 0 || rel.Confidence > 1 {
			rel.Confidence = 0.7
		}
		if _, err := s.store.UpsertRelation(ctx, rel); err != nil {
			s.logger.Debug("dropping relation",
				"predicate", r.Predicate, "error", err)
		}
	}
}

func (s *Sieve) audit(ctx context.Context, result *IngestResult, entry *model.ExtractionLog) {
	if err := s.store.InsertExtractionLog(ctx, entry); err != nil {
		s.logger.Warn("failed to write extraction log", "error", err)
	}
	result.ExtractionLogs = append(result.ExtractionLogs, entry)
}

func (s *Sieve) fastEnabled() bool {
	v := s.cfg.Load().FastChannelEnabled
	return v == nil || *v
}

func (s *Sieve) profileInjection() bool {
	v := s.cfg.Load().ProfileInjection
	return v == nil || *v
}

func (s *Sieve) relationExtraction() bool {
	v := s.cfg.Load().RelationExtraction
	return v == nil || *v
}
