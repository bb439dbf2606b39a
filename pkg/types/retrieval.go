package types

import "time"

// RetrievalMode selects how far the tiered engine may escalate.
type RetrievalMode string

const (
	// ModeFast stops after Tier 2 regardless of sufficiency; used on the
	// latency-critical path.
	ModeFast RetrievalMode = "fast"

	// ModeFull allows escalation through Tier 3 hybrid search.
	ModeFull RetrievalMode = "full"
)

// ContextItemKind classifies a candidate item for budget partitioning.
type ContextItemKind string

const (
	ItemSummary ContextItemKind = "summary"
	ItemEntity  ContextItemKind = "entity"
	ItemFact    ContextItemKind = "fact"
	ItemMatch   ContextItemKind = "match"
)

// ContextItem is one candidate piece of retrieved knowledge, carrying the
// signals the assembler scores on.
type ContextItem struct {
	Kind ContextItemKind `json:"kind"`
	Text string          `json:"text"`

	Importance   float64   `json:"importance"`
	Relevance    float64   `json:"relevance"`
	MentionCount int       `json:"mention_count"`
	UpdatedAt    time.Time `json:"updated_at"`

	// EntityID links the item back to the graph when applicable.
	EntityID string `json:"entity_id,omitempty"`
}

// TierTiming records how long one retrieval tier took.
type TierTiming struct {
	Tier     int           `json:"tier"`
	Duration time.Duration `json:"duration"`
	Items    int           `json:"items"`
}

// RetrievalResult is the answer to a retrieve() call. Retrieval always
// returns a result — worst case an empty payload with TierUsed=0 — because
// memory augmentation is an enhancement, not a correctness-critical path.
type RetrievalResult struct {
	// ContextPayload is the token-bounded assembled context.
	ContextPayload string `json:"context_payload"`

	// TierUsed is the deepest tier that contributed (0 = nothing found).
	TierUsed int `json:"tier_used"`

	Timings []TierTiming `json:"timings,omitempty"`

	// ItemCounts per kind in the final payload.
	ItemCounts map[ContextItemKind]int `json:"item_counts,omitempty"`

	// Degraded is set when a dependency outage forced a best-effort answer
	// (e.g. vector index down during Tier 3).
	Degraded bool `json:"degraded,omitempty"`
}
