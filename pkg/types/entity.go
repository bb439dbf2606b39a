// Package types defines the core data structures for the mnema knowledge
// graph: entities, bi-temporal facts, relationship edges, behaviors, and
// category summaries. All rows are owned by exactly one user (tenant).
package types

import (
	"strings"
	"time"
)

// EntityStatus represents the lifecycle status of an entity.
type EntityStatus string

const (
	// EntityActive indicates the entity is live and retrievable.
	EntityActive EntityStatus = "active"

	// EntityArchived indicates the entity decayed or aged out of the
	// active set. Archived entities are excluded from retrieval but kept.
	EntityArchived EntityStatus = "archived"

	// EntityInactive indicates the entity's originating source was deleted
	// (cascade). A cascade restore flips it back to active.
	EntityInactive EntityStatus = "inactive"

	// EntityDeleted indicates explicit user erasure.
	EntityDeleted EntityStatus = "deleted"
)

// Entity type constants.
const (
	EntityTypePerson       = "person"
	EntityTypePlace        = "place"
	EntityTypeProject      = "project"
	EntityTypeOrganization = "organization"
	EntityTypeTopic        = "topic"
	EntityTypeConcept      = "concept"
	EntityTypeEvent        = "event"
	EntityTypeProduct      = "product"
	EntityTypeOther        = "other"
)

// ValidEntityTypes lists all accepted entity types for payload validation.
var ValidEntityTypes = []string{
	EntityTypePerson, EntityTypePlace, EntityTypeProject,
	EntityTypeOrganization, EntityTypeTopic, EntityTypeConcept,
	EntityTypeEvent, EntityTypeProduct, EntityTypeOther,
}

// PrivacyLevel controls how an entity may be surfaced in retrieval payloads.
type PrivacyLevel string

const (
	PrivacyStandard  PrivacyLevel = "standard"
	PrivacySensitive PrivacyLevel = "sensitive"
	PrivacyPrivate   PrivacyLevel = "private"
)

// Importance tier constants used by the decay job. An entity's tier decides
// how long it can go unmentioned before its importance score decays.
const (
	TierTrivial  = "trivial"
	TierLow      = "low"
	TierMedium   = "medium"
	TierHigh     = "high"
	TierCritical = "critical"
)

// maxRecentContexts bounds the ring of context snippets kept per entity.
const maxRecentContexts = 5

// Entity represents a named thing the user's notes mention: a person, place,
// project, organization, topic, concept, event, or product.
//
// Invariant: (UserID, NormalizedName) is unique among active entities.
type Entity struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	Name           string `json:"name"`
	NormalizedName string `json:"normalized_name"` // case-insensitive dedup key
	Type           string `json:"type"`
	Subtype        string `json:"subtype,omitempty"`

	// Summary is a free-text description, evolved over time.
	Summary string `json:"summary,omitempty"`

	// Quality signals
	MentionCount int     `json:"mention_count"`
	Importance   float64 `json:"importance"`    // 0.0-1.0, nudged on mention, decayed over time
	SentimentAvg float64 `json:"sentiment_avg"` // -1.0..1.0 running average

	// RecentContexts is a bounded ring of the latest mention snippets.
	RecentContexts []string `json:"recent_contexts,omitempty"`

	FirstMentioned time.Time  `json:"first_mentioned"`
	LastMentioned  time.Time  `json:"last_mentioned"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`

	Status EntityStatus `json:"status"`

	// ImportanceTier drives decay thresholds (trivial/low/medium/high/critical).
	ImportanceTier string `json:"importance_tier,omitempty"`

	// EmbeddingID is an opaque handle into the external vector index.
	EmbeddingID string `json:"embedding_id,omitempty"`

	// SourceID back-references the note/conversation that first created the
	// entity, used by cascade invalidation.
	SourceID string `json:"source_id,omitempty"`

	Privacy PrivacyLevel `json:"privacy,omitempty"`

	// ExpiresAt, when set and past due, causes the expiry job to archive
	// the entity.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NormalizeName lowercases and trims an entity name, producing the
// case-insensitive dedup key used by the registry.
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// PushContext appends a context snippet to the bounded ring, evicting the
// oldest snippet when the ring is full.
func (e *Entity) PushContext(snippet string) {
	snippet = strings.TrimSpace(snippet)
	if snippet == "" {
		return
	}
	e.RecentContexts = append(e.RecentContexts, snippet)
	if len(e.RecentContexts) > maxRecentContexts {
		e.RecentContexts = e.RecentContexts[len(e.RecentContexts)-maxRecentContexts:]
	}
}

// IsValidEntityType reports whether t is one of the accepted entity types.
func IsValidEntityType(t string) bool {
	for _, v := range ValidEntityTypes {
		if v == t {
			return true
		}
	}
	return false
}
