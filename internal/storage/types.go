package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict indicates that a transactional compare-and-swap lost its
	// race and exhausted the retry budget. Callers should re-ingest.
	ErrConflict = errors.New("concurrent update conflict")
)

// EntityUpsert carries one entity mention into the registry.
type EntityUpsert struct {
	Name       string
	Type       string
	Subtype    string
	Context    string  // snippet appended to the entity's bounded context ring
	Sentiment  float64 // -1..1, folded into the running average
	Confidence float64 // seeds importance on first mention
	SourceID   string
}

// FactUpsert carries one fact write into the store.
type FactUpsert struct {
	EntityID       string
	Predicate      string
	Object         string
	ObjectEntityID string
	Category       string
	Confidence     float64
	SourceType     string
	SourceID       string

	// ValidFrom defaults to now when zero.
	ValidFrom time.Time
}

// BehaviorUpsert carries one behavior observation into the store.
type BehaviorUpsert struct {
	Predicate      string
	TargetEntityID string
	Topic          string
	Evidence       string
	Confidence     float64
	SourceID       string
}

// EntityQuery filters and ranks entity listings.
type EntityQuery struct {
	// NameTokens, when non-empty, requires a name match on any token.
	NameTokens []string

	// Status filters by lifecycle status; empty means active only.
	Status string

	// Limit caps the result set (default 20, max 200).
	Limit int
}

// Normalize applies defaults and bounds to an EntityQuery.
func (q *EntityQuery) Normalize() {
	if q.Status == "" {
		q.Status = "active"
	}
	if q.Limit < 1 {
		q.Limit = 20
	}
	if q.Limit > 200 {
		q.Limit = 200
	}
}

// KeywordMatch is one hit from the keyword search provider.
type KeywordMatch struct {
	// Kind is "entity" or "fact".
	Kind string

	// ID is the matched row id; EntityID is the owning entity for facts.
	ID       string
	EntityID string

	// Text is the matched content.
	Text string

	// Rank is the backend's relevance ordering (lower is better).
	Rank float64
}

// VectorMatch is one hit from the vector similarity provider.
type VectorMatch struct {
	EntityID   string
	Similarity float64
}

// DecayTier configures one importance-decay band. Entities whose tier
// matches and whose last mention is older than Threshold have their
// importance multiplied by Retention. Product-tuned constants; treated as
// configuration, not fixed behavior.
type DecayTier struct {
	Tier      string
	Threshold time.Duration // zero means never decays
	Retention float64       // multiplier in (0,1]
}

// CascadeResult reports how many rows a cascade touched per store.
type CascadeResult struct {
	Facts     int
	Entities  int
	Behaviors int
}
