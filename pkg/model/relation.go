package model

import (
	"fmt"
	"time"
)

// Predicate is one edge label in the knowledge graph. The vocabulary is
// closed: extractions using anything else are dropped.
type Predicate string

const (
	PredicateUses             Predicate = "uses"
	PredicateWorksAt          Predicate = "works_at"
	PredicateLivesIn          Predicate = "lives_in"
	PredicateKnows            Predicate = "knows"
	PredicateManages          Predicate = "manages"
	PredicateBelongsTo        Predicate = "belongs_to"
	PredicateCreated          Predicate = "created"
	PredicatePrefers          Predicate = "prefers"
	PredicateStudies          Predicate = "studies"
	PredicateSkilledIn        Predicate = "skilled_in"
	PredicateCollaboratesWith Predicate = "collaborates_with"
	PredicateReportsTo        Predicate = "reports_to"
	PredicateOwns             Predicate = "owns"
	PredicateInterestedIn     Predicate = "interested_in"
	PredicateRelatedTo        Predicate = "related_to"
	PredicateNotUses          Predicate = "not_uses"
	PredicateNotInterestedIn  Predicate = "not_interested_in"
	PredicateDislikes         Predicate = "dislikes"
)

// ValidPredicates is the closed predicate vocabulary.
var ValidPredicates = map[Predicate]bool{
	PredicateUses: true, PredicateWorksAt: true, PredicateLivesIn: true,
	PredicateKnows: true, PredicateManages: true, PredicateBelongsTo: true,
	PredicateCreated: true, PredicatePrefers: true, PredicateStudies: true,
	PredicateSkilledIn: true, PredicateCollaboratesWith: true,
	PredicateReportsTo: true, PredicateOwns: true, PredicateInterestedIn: true,
	PredicateRelatedTo: true, PredicateNotUses: true,
	PredicateNotInterestedIn: true, PredicateDislikes: true,
}

// negations maps a negative predicate to the positive predicate it
// contradicts. Upserting a negative edge expires the matching positive one.
var negations = map[Predicate]Predicate{
	PredicateNotUses:         PredicateUses,
	PredicateNotInterestedIn: PredicateInterestedIn,
	PredicateDislikes:        PredicatePrefers,
}

// Contradicts returns the positive predicate that this predicate negates,
// or "" when it negates nothing.
func (p Predicate) Contradicts() Predicate {
	return negations[p]
}

// Relation is one (subject, predicate, object) edge in the per-agent
// knowledge graph.
type Relation struct {
	ID         string    `json:"id"`
	AgentID    string    `json:"agent_id"`
	Subject    string    `json:"subject"`
	Predicate  Predicate `json:"predicate"`
	Object     string    `json:"object"`
	Confidence float64   `json:"confidence"`
	MemoryID   string    `json:"memory_id,omitempty"`
	Expired    bool      `json:"expired"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Validate checks the relation against the closed vocabulary.
func (r *Relation) Validate() error {
	if r.AgentID == "" {
		return NewValidationError("agent_id is required")
	}
	if r.Subject == "" || r.Object == "" {
		return NewValidationError("relation subject and object are required")
	}
	if !ValidPredicates[r.Predicate] {
		return NewValidationError(fmt.Sprintf("unknown predicate %q", r.Predicate))
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return NewValidationError("confidence must be in [0, 1]")
	}
	return nil
}
