package types

import (
	"strings"
	"time"
)

// FactStatus represents the lifecycle status of a fact row.
type FactStatus string

const (
	// FactActive indicates the fact participates in queries.
	FactActive FactStatus = "active"

	// FactInactive indicates the fact's source was deleted (cascade).
	// Version chains are untouched so a restore recovers the exact state.
	FactInactive FactStatus = "inactive"
)

// InvalidationReason records why a fact stopped being current.
type InvalidationReason string

const (
	// ReasonContradiction: a newer fact for a single-value predicate
	// superseded this one.
	ReasonContradiction InvalidationReason = "contradiction"

	// ReasonCorrection: the user explicitly corrected the fact.
	ReasonCorrection InvalidationReason = "correction"

	// ReasonSourceDeleted: the originating note/conversation was deleted.
	ReasonSourceDeleted InvalidationReason = "source_deleted"
)

// Source type constants for ingestion events. SourceCorrection marks facts
// written through the explicit correction path rather than extraction.
const (
	SourceNote         = "note"
	SourceConversation = "conversation"
	SourceMeeting      = "meeting"
	SourceProfile      = "profile"
	SourceCorrection   = "correction"
)

// singleValuePredicates is the closed set of predicates for which at most one
// fact per (entity, predicate) may be current at any system time.
var singleValuePredicates = map[string]bool{
	"works_at":    true,
	"employed_by": true,
	"lives_in":    true,
	"married_to":  true,
	"reports_to":  true,
	"born_in":     true,
	"named":       true,
	"aged":        true,
}

// IsSingleValuePredicate reports whether predicate admits only one current
// value per entity. All predicates outside the closed set are multi-value.
func IsSingleValuePredicate(predicate string) bool {
	return singleValuePredicates[strings.ToLower(strings.TrimSpace(predicate))]
}

// NormalizeObject produces the comparison key used to decide whether an
// incoming fact reinforces an existing one or introduces a new value.
func NormalizeObject(object string) string {
	return strings.ToLower(strings.Join(strings.Fields(object), " "))
}

// Fact is a bi-temporal subject-predicate-object assertion about an entity.
//
// Two independent time axes are tracked:
//
//	ValidFrom/ValidTo       — when the fact was true in the world
//	CreatedAt/InvalidatedAt — when the system learned/unlearned it
//
// Point-in-time queries must apply both filters; conflating them returns
// facts the system did not yet know at the queried instant.
type Fact struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	// EntityID is the subject of the triple.
	EntityID  string `json:"entity_id"`
	Predicate string `json:"predicate"`

	// Object holds the object text. ObjectEntityID is set additionally when
	// the object resolves to a known entity (a typed relationship).
	Object         string `json:"object"`
	ObjectEntityID string `json:"object_entity_id,omitempty"`

	// Category buckets the fact for summary evolution (work, relationships,
	// preferences, health, general).
	Category string `json:"category,omitempty"`

	Confidence   float64 `json:"confidence"`
	MentionCount int     `json:"mention_count"`

	SourceType string `json:"source_type,omitempty"`
	SourceID   string `json:"source_id,omitempty"`

	// World time.
	ValidFrom time.Time  `json:"valid_from"`
	ValidTo   *time.Time `json:"valid_to,omitempty"`

	// System time.
	CreatedAt     time.Time  `json:"created_at"`
	InvalidatedAt *time.Time `json:"invalidated_at,omitempty"`

	// InvalidatedBy points at the superseding fact, forming a forward-only
	// version chain together with PreviousVersionID.
	InvalidatedBy      string             `json:"invalidated_by,omitempty"`
	InvalidationReason InvalidationReason `json:"invalidation_reason,omitempty"`

	Version           int    `json:"version"`
	PreviousVersionID string `json:"previous_version_id,omitempty"`
	IsCurrent         bool   `json:"is_current"`

	Status FactStatus `json:"status"`

	LastMentioned time.Time `json:"last_mentioned"`
}

// KnownAt reports whether the system knew this fact at the given instant,
// i.e. it had been created and not yet invalidated.
func (f *Fact) KnownAt(asOf time.Time) bool {
	if f.CreatedAt.After(asOf) {
		return false
	}
	return f.InvalidatedAt == nil || f.InvalidatedAt.After(asOf)
}

// ValidAt reports whether the fact was true in the world at the given instant.
func (f *Fact) ValidAt(asOf time.Time) bool {
	if f.ValidFrom.After(asOf) {
		return false
	}
	return f.ValidTo == nil || f.ValidTo.After(asOf)
}
