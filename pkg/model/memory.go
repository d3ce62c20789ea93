package model

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Layer identifies which of the three memory layers a memory lives in.
type Layer string

const (
	LayerWorking Layer = "working"
	LayerCore    Layer = "core"
	LayerArchive Layer = "archive"
)

// ValidLayers is the closed set of memory layers.
var ValidLayers = map[Layer]bool{
	LayerWorking: true,
	LayerCore:    true,
	LayerArchive: true,
}

// Category tags a memory with what kind of fact it holds.
type Category string

const (
	// User-track categories.
	CategoryIdentity     Category = "identity"
	CategoryPreference   Category = "preference"
	CategoryDecision     Category = "decision"
	CategoryFact         Category = "fact"
	CategoryEntity       Category = "entity"
	CategoryCorrection   Category = "correction"
	CategoryTodo         Category = "todo"
	CategorySkill        Category = "skill"
	CategoryRelationship Category = "relationship"
	CategoryGoal         Category = "goal"
	CategoryInsight      Category = "insight"
	CategoryProjectState Category = "project_state"

	// Operational-track categories.
	CategoryConstraint Category = "constraint"
	CategoryPolicy     Category = "policy"

	// Agent-track categories (the agent's self-model).
	CategoryAgentPersona         Category = "agent_persona"
	CategoryAgentRelationship    Category = "agent_relationship"
	CategoryAgentUserHabit       Category = "agent_user_habit"
	CategoryAgentSelfImprovement Category = "agent_self_improvement"

	// System-track categories.
	CategoryContext Category = "context"
	CategorySummary Category = "summary"
)

// ValidCategories is the closed set of memory categories.
var ValidCategories = map[Category]bool{
	CategoryIdentity: true, CategoryPreference: true, CategoryDecision: true,
	CategoryFact: true, CategoryEntity: true, CategoryCorrection: true,
	CategoryTodo: true, CategorySkill: true, CategoryRelationship: true,
	CategoryGoal: true, CategoryInsight: true, CategoryProjectState: true,
	CategoryConstraint: true, CategoryPolicy: true,
	CategoryAgentPersona: true, CategoryAgentRelationship: true,
	CategoryAgentUserHabit: true, CategoryAgentSelfImprovement: true,
	CategoryContext: true, CategorySummary: true,
}

// IsAgentCategory reports whether the category belongs to the agent
// self-model family. Agent and user families coexist side by side and
// never deduplicate against each other.
func (c Category) IsAgentCategory() bool {
	return strings.HasPrefix(string(c), "agent_")
}

// SameFamily reports whether two categories belong to the same
// deduplication family.
func (c Category) SameFamily(other Category) bool {
	return c.IsAgentCategory() == other.IsAgentCategory()
}

// CorrectionTargets is the set of fact-like user categories a correction
// is allowed to supersede.
var CorrectionTargets = map[Category]bool{
	CategoryIdentity:     true,
	CategoryPreference:   true,
	CategoryFact:         true,
	CategoryEntity:       true,
	CategoryDecision:     true,
	CategoryProjectState: true,
}

// Memory is the central entity: one durable, lifecycle-managed fact.
type Memory struct {
	ID           string         `json:"id"`
	AgentID      string         `json:"agent_id"`
	Layer        Layer          `json:"layer"`
	Category     Category       `json:"category"`
	Content      string         `json:"content"`
	Importance   float64        `json:"importance"`
	Confidence   float64        `json:"confidence"`
	DecayScore   float64        `json:"decay_score"`
	AccessCount  int            `json:"access_count"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
	SupersededBy string         `json:"superseded_by,omitempty"`
	IsPinned     bool           `json:"is_pinned"`
	Source       string         `json:"source,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Live reports whether the memory is visible to recall and dedup matching.
func (m *Memory) Live() bool {
	return m.SupersededBy == ""
}

// MemorySpec is the caller-facing shape for creating a memory. The store
// assigns the id, timestamps and derived fields.
type MemorySpec struct {
	AgentID    string         `json:"agent_id"`
	Layer      Layer          `json:"layer"`
	Category   Category       `json:"category"`
	Content    string         `json:"content"`
	Importance float64        `json:"importance"`
	Confidence float64        `json:"confidence"`
	ExpiresAt  *time.Time     `json:"expires_at,omitempty"`
	IsPinned   bool           `json:"is_pinned,omitempty"`
	Source     string         `json:"source,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Validate checks the spec against the closed enums and numeric ranges.
func (s *MemorySpec) Validate() error {
	if s.AgentID == "" {
		return NewValidationError("agent_id is required")
	}
	if utf8.RuneCountInString(strings.TrimSpace(s.Content)) < MinContentLength {
		return NewValidationError(fmt.Sprintf("content must be at least %d characters", MinContentLength))
	}
	if !ValidCategories[s.Category] {
		return NewValidationError(fmt.Sprintf("unknown category %q", s.Category))
	}
	if s.Layer != "" && !ValidLayers[s.Layer] {
		return NewValidationError(fmt.Sprintf("unknown layer %q", s.Layer))
	}
	if s.Importance < 0 || s.Importance > 1 {
		return NewValidationError("importance must be in [0, 1]")
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return NewValidationError("confidence must be in [0, 1]")
	}
	return nil
}

// MinContentLength is the minimum content length for a memory, in
// runes, so a short CJK statement counts the same as a short ASCII one.
const MinContentLength = 3

// CoreImportanceThreshold routes high-importance inserts straight to core.
const CoreImportanceThreshold = 0.8
