package types

import "time"

// RelationshipEdge is a symmetric co-occurrence link between two entities.
// The pair is stored with EntityA < EntityB so each unordered pair has a
// single row; Strength counts how many ingestion events mentioned both.
type RelationshipEdge struct {
	ID      string `json:"id"`
	UserID  string `json:"user_id"`
	EntityA string `json:"entity_a"`
	EntityB string `json:"entity_b"`

	Strength int       `json:"strength"`
	LastSeen time.Time `json:"last_seen"`

	CreatedAt time.Time `json:"created_at"`
}

// OrderPair returns the two entity IDs in canonical (ascending) order so
// that (a,b) and (b,a) map to the same edge.
func OrderPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// Behavior captures the user's own stance toward an entity or topic
// (trusts_opinion_of, avoids, seeks_advice_from). Behaviors are reinforced
// on repeat observation, never contradicted: co-existing stances are allowed.
type Behavior struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	Predicate      string `json:"predicate"`
	TargetEntityID string `json:"target_entity_id,omitempty"`
	Topic          string `json:"topic,omitempty"`

	// Evidence is the latest text snippet supporting the behavior.
	Evidence string `json:"evidence,omitempty"`

	Confidence         float64   `json:"confidence"`
	ReinforcementCount int       `json:"reinforcement_count"`
	LastReinforced     time.Time `json:"last_reinforced"`

	Status    EntityStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
}

// CategorySummary is one evolving natural-language paragraph per
// (user, topical category) pair. Rewritten wholesale on new facts in the
// category; prior content is superseded, not retained.
//
// Invariant: at most one active summary per (user, category).
type CategorySummary struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Category string `json:"category"`
	Content  string `json:"content"`

	// FactCount records how many facts fed the last rewrite.
	FactCount int `json:"fact_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MergeCandidate is a pair of entities the consolidation scan flagged as
// near-duplicates (embedding similarity above threshold). Candidates are
// surfaced for review, never auto-merged.
type MergeCandidate struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	EntityA    string    `json:"entity_a"`
	EntityB    string    `json:"entity_b"`
	Similarity float64   `json:"similarity"`
	FlaggedAt  time.Time `json:"flagged_at"`
}
