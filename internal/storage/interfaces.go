// Package storage provides composable storage interfaces for the mnema
// knowledge graph. Small, focused interfaces keep the SQLite and PostgreSQL
// backends interchangeable; the durable store is the single source of truth
// for all graph state, including the current-fact exclusivity invariant.
package storage

import (
	"context"
	"time"

	"github.com/scrypster/mnema/pkg/types"
)

// EntityStore is the canonical registry of named things.
type EntityStore interface {
	// UpsertMention records one mention of a named entity. Dedup is by
	// case-insensitive normalized name within the tenant. On hit the mention
	// count, importance, sentiment average, and context ring are updated; on
	// miss a new entity is created with importance seeded from confidence.
	// Returns the entity and whether it was created. Idempotent by
	// construction — duplicate inserts are not an error.
	UpsertMention(ctx context.Context, userID string, up EntityUpsert) (*types.Entity, bool, error)

	// GetEntity retrieves an entity by id. Returns ErrNotFound if absent.
	GetEntity(ctx context.Context, userID, id string) (*types.Entity, error)

	// GetEntityByName looks up an active entity by normalized name.
	GetEntityByName(ctx context.Context, userID, name string) (*types.Entity, error)

	// ListEntities returns entities matching the query ordered by
	// importance descending, then last mention descending.
	ListEntities(ctx context.Context, userID string, q EntityQuery) ([]types.Entity, error)

	// TouchAccessed updates last_accessed_at for retrieval bookkeeping.
	TouchAccessed(ctx context.Context, userID string, ids []string) error

	// SetEntityStatus transitions an entity's lifecycle status.
	SetEntityStatus(ctx context.Context, userID, id string, status types.EntityStatus) error
}

// FactStore holds bi-temporal subject-predicate-object triples.
type FactStore interface {
	// UpsertFact records one fact. Same (entity, predicate, normalized
	// object) reinforces the existing current fact. A new value for a
	// single-value predicate atomically supersedes the prior current fact
	// (invalidation reason contradiction, version chain linked); a new value
	// for a multi-value predicate inserts an additional current fact.
	// Returns the resulting fact and whether a new row was created.
	// Returns ErrConflict when the supersede CAS exhausts its retry budget.
	UpsertFact(ctx context.Context, userID string, up FactUpsert) (*types.Fact, bool, error)

	// CorrectFact replaces a current fact with an explicitly corrected
	// value. The old fact is invalidated with reason correction rather
	// than contradiction and the successor joins its version chain. Works
	// for multi-value predicates too, where UpsertFact would only add.
	// Returns ErrNotFound if the fact is absent and ErrInvalidInput if it
	// is no longer current.
	CorrectFact(ctx context.Context, userID, factID string, up FactUpsert) (*types.Fact, error)

	// GetFact retrieves a fact by id. Returns ErrNotFound if absent.
	GetFact(ctx context.Context, userID, id string) (*types.Fact, error)

	// CurrentFacts returns the active, current facts for an entity.
	CurrentFacts(ctx context.Context, userID, entityID string) ([]types.Fact, error)

	// QueryAsOf returns the fact for (entity, predicate) that was both true
	// in the world and known to the system at asOf. The two time axes are
	// independent filters. Returns ErrNotFound when no fact qualifies.
	QueryAsOf(ctx context.Context, userID, entityID, predicate string, asOf time.Time) (*types.Fact, error)

	// FactsByCategory returns current active facts in a summary category.
	FactsByCategory(ctx context.Context, userID, category string, limit int) ([]types.Fact, error)

	// VersionChain returns the full version history ending at factID,
	// ordered oldest first. Walks previous_version_id links, capped at 50
	// versions to guard against cycles.
	VersionChain(ctx context.Context, userID, factID string) ([]types.Fact, error)
}

// LinkStore accumulates symmetric co-occurrence edges between entities.
type LinkStore interface {
	// Link upserts the edge for an unordered entity pair, incrementing
	// strength and updating last_seen. Returns true when the edge is new.
	Link(ctx context.Context, userID, entityA, entityB string) (bool, error)

	// Neighbors returns edges touching entityID, strongest first.
	Neighbors(ctx context.Context, userID, entityID string, limit int) ([]types.RelationshipEdge, error)
}

// BehaviorStore holds the user's reinforced stances toward entities.
type BehaviorStore interface {
	// ReinforceBehavior upserts keyed on (user, predicate, target, topic).
	// On hit confidence is nudged up (capped at 1.0) and the reinforcement
	// count incremented; on miss the behavior is inserted as given.
	ReinforceBehavior(ctx context.Context, userID string, up BehaviorUpsert) (*types.Behavior, bool, error)

	// ListBehaviors returns the user's active behaviors, most reinforced first.
	ListBehaviors(ctx context.Context, userID string, limit int) ([]types.Behavior, error)
}

// SummaryStore holds the pre-computed category summaries (retrieval Tier 1).
// Summaries are derived, rebuildable artifacts; their loss is not data loss.
type SummaryStore interface {
	// PutSummary replaces the active summary for (user, category) wholesale.
	PutSummary(ctx context.Context, userID, category, content string, factCount int) error

	// GetSummary returns the active summary for a category.
	GetSummary(ctx context.Context, userID, category string) (*types.CategorySummary, error)

	// ListSummaries returns summaries for the given categories; all
	// categories when cats is empty.
	ListSummaries(ctx context.Context, userID string, cats []string) ([]types.CategorySummary, error)
}

// CascadeStore propagates source deletion through every dependent store.
type CascadeStore interface {
	// CascadeInvalidate marks every fact, entity, and behavior derived from
	// sourceID inactive with reason source_deleted. Version chains and
	// is_current flags are untouched so CascadeRestore recovers the exact
	// prior state.
	CascadeInvalidate(ctx context.Context, userID, sourceID string) (CascadeResult, error)

	// CascadeRestore reverses CascadeInvalidate for the same source.
	CascadeRestore(ctx context.Context, userID, sourceID string) (CascadeResult, error)
}

// SearchProvider supplies the keyword leg of Tier 3 hybrid retrieval.
type SearchProvider interface {
	// KeywordSearch matches query tokens against entity names, summaries,
	// and fact objects. Implementations sanitise free-form input themselves.
	KeywordSearch(ctx context.Context, userID, query string, limit int) ([]KeywordMatch, error)
}

// VectorProvider supplies the vector leg of Tier 3 hybrid retrieval and the
// consolidation scan. Vectors are opaque; only the similarity operator is
// interpreted.
type VectorProvider interface {
	// StoreEmbedding persists an entity embedding.
	StoreEmbedding(ctx context.Context, userID, entityID string, vec []float32) error

	// SimilarEntities returns entities ranked by similarity to vec.
	SimilarEntities(ctx context.Context, userID string, vec []float32, limit int) ([]VectorMatch, error)

	// SimilarPairs returns entity pairs whose embeddings exceed the given
	// cosine similarity, for the consolidation scan.
	SimilarPairs(ctx context.Context, userID string, threshold float64) ([]types.MergeCandidate, error)
}

// MaintenanceStore backs the idempotent background jobs.
type MaintenanceStore interface {
	// DecayImportance multiplies importance by each tier's retention rate
	// for entities unmentioned past the tier threshold, archiving entities
	// that fall below floor. The multiplier applies at most once per
	// threshold window, so re-running the job does not compound decay.
	// Returns rows affected.
	DecayImportance(ctx context.Context, tiers []DecayTier, floor float64, now time.Time) (int, error)

	// ArchiveStale archives low/trivial entities unaccessed for the window.
	ArchiveStale(ctx context.Context, window time.Duration, now time.Time) (int, error)

	// ArchiveExpired archives entities whose expires_at is past due.
	ArchiveExpired(ctx context.Context, now time.Time) (int, error)

	// FlagMergeCandidates records consolidation-scan output for review.
	FlagMergeCandidates(ctx context.Context, userID string, pairs []types.MergeCandidate) (int, error)
}

// Store composes every storage concern a backend must provide.
type Store interface {
	EntityStore
	FactStore
	LinkStore
	BehaviorStore
	SummaryStore
	CascadeStore
	SearchProvider
	MaintenanceStore

	// Close releases any resources held by the store.
	Close() error
}
