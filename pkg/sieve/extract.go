package sieve

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cortexmem/cortex/pkg/llms"
	"github.com/cortexmem/cortex/pkg/model"
	"github.com/cortexmem/cortex/pkg/writer"
)

const extractionSystem = `You extract durable memories from a conversation between a user and an AI assistant. Extract only facts worth remembering across sessions: who the user is, what they prefer, decisions made, corrections, constraints, project state, and observations about how the assistant should behave (agent_* categories).

Categories: identity, preference, decision, fact, entity, correction, todo, skill, relationship, goal, insight, project_state, constraint, policy, agent_persona, agent_relationship, agent_user_habit, agent_self_improvement, context, summary.

Relation predicates: uses, works_at, lives_in, knows, manages, belongs_to, created, prefers, studies, skilled_in, collaborates_with, reports_to, owns, interested_in, related_to, not_uses, not_interested_in, dislikes.

Respond with ONLY JSON. If nothing is worth remembering:
{"nothing_extracted": true}
Otherwise:
{"memories": [{"category": "...", "content": "one self-contained statement", "importance": 0.0-1.0, "confidence": 0.0-1.0}], "relations": [{"subject": "...", "predicate": "...", "object": "...", "confidence": 0.0-1.0}]}`

type extractionPayload struct {
	NothingExtracted bool                 `json:"nothing_extracted,omitempty"`
	Memories         []memoryExtraction   `json:"memories,omitempty"`
	Relations        []relationExtraction `json:"relations,omitempty"`
}

type memoryExtraction struct {
	Category   string  `json:"category"`
	Content    string  `json:"content"`
	Importance float64 `json:"importance"`
	Confidence float64 `json:"confidence"`
}

type relationExtraction struct {
	Subject    string  `json:"subject"`
	Predicate  string  `json:"predicate"`
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence"`
}

// extractDeep runs the extraction LLM over the windowed conversation,
// returning validated extractions, the surviving relations, and the raw
// model output for the audit log.
func (s *Sieve) extractDeep(ctx context.Context, conversation, profile string) ([]writer.Extraction, []relationExtraction, string, error) {
	var sb strings.Builder
	if profile != "" {
		fmt.Fprintf(&sb, "Known user profile:\n%s\n\n", profile)
	}
	sb.WriteString("Conversation:\n")
	sb.WriteString(conversation)

	resp, err := s.llm.Complete(ctx, llms.CompletionRequest{
		System:    extractionSystem,
		Messages:  []llms.Message{{Role: llms.RoleUser, Content: sb.String()}},
		MaxTokens: s.cfg.Load().MaxExtractionTokens,
		JSONMode:  true,
	})
	if err != nil {
		return nil, nil, "", err
	}

	var payload extractionPayload
	if err := llms.DecodeJSON(resp.Text, &payload); err != nil {
		return nil, nil, resp.Text, fmt.Errorf("failed to parse extraction output: %w", err)
	}
	if payload.NothingExtracted {
		return nil, nil, resp.Text, nil
	}

	extractions := make([]writer.Extraction, 0, len(payload.Memories))
	for _, m := range payload.Memories {
		ex, ok := validateExtraction(m)
		if !ok {
			s.logger.Debug("dropping invalid extraction",
				"category", m.Category, "content_len", len(m.Content))
			continue
		}
		extractions = append(extractions, ex)
	}
	return extractions, payload.Relations, resp.Text, nil
}

// validateExtraction enforces the closed category set and numeric
// ranges. Invalid extractions are dropped, never fixed up.
func validateExtraction(m memoryExtraction) (writer.Extraction, bool) {
	category := model.Category(strings.ToLower(strings.TrimSpace(m.Category)))
	content := strings.TrimSpace(m.Content)

	if !model.ValidCategories[category] {
		return writer.Extraction{}, false
	}
	if utf8.RuneCountInString(content) < model.MinContentLength {
		return writer.Extraction{}, false
	}
	if m.Importance < 0 || m.Importance > 1 {
		return writer.Extraction{}, false
	}

	confidence := m.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = 0.7
	}
	return writer.Extraction{
		Category:   category,
		Content:    content,
		Importance: m.Importance,
		Confidence: confidence,
	}, true
}
