package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/scrypster/mnema/internal/storage"
	"github.com/scrypster/mnema/pkg/types"
)

// backdate rewrites an entity's mention timestamps so decay tests do not
// need to wait out real thresholds.
func backdate(t *testing.T, store *Store, entityID string, age time.Duration) {
	t.Helper()
	past := time.Now().UTC().Add(-age)
	if _, err := store.GetDB().Exec(
		`UPDATE entities SET last_mentioned = ?, last_accessed_at = ? WHERE id = ?`,
		past, past, entityID); err != nil {
		t.Fatalf("backdate entity: %v", err)
	}
}

func testDecayTiers() []storage.DecayTier {
	return []storage.DecayTier{
		{Tier: types.TierTrivial, Threshold: 7 * 24 * time.Hour, Retention: 0.80},
		{Tier: types.TierMedium, Threshold: 30 * 24 * time.Hour, Retention: 0.90},
		{Tier: types.TierCritical, Threshold: 0, Retention: 1.0},
	}
}

func TestDecayImportanceRespectsThresholds(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// importance 0.5 lands in the medium tier.
	fresh := mustEntity(t, store, "Fresh")
	stale, _, err := store.UpsertMention(ctx, testUser, storage.EntityUpsert{Name: "Stale", Confidence: 0.5})
	if err != nil {
		t.Fatalf("UpsertMention() failed: %v", err)
	}
	backdate(t, store, stale.ID, 45*24*time.Hour)

	n, err := store.DecayImportance(ctx, testDecayTiers(), 0.05, time.Now().UTC())
	if err != nil {
		t.Fatalf("DecayImportance() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("decayed rows: got %d, want 1", n)
	}

	got, err := store.GetEntity(ctx, testUser, stale.ID)
	if err != nil {
		t.Fatalf("GetEntity(stale) failed: %v", err)
	}
	if got.Importance < 0.449 || got.Importance > 0.451 {
		t.Errorf("stale importance: got %f, want 0.45", got.Importance)
	}

	got, err = store.GetEntity(ctx, testUser, fresh.ID)
	if err != nil {
		t.Fatalf("GetEntity(fresh) failed: %v", err)
	}
	if got.Importance != 0.8 {
		t.Errorf("fresh importance changed: got %f, want 0.8", got.Importance)
	}
}

func TestDecayImportanceNeverDecaysCritical(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	critical, _, err := store.UpsertMention(ctx, testUser, storage.EntityUpsert{Name: "Spouse", Confidence: 0.95})
	if err != nil {
		t.Fatalf("UpsertMention() failed: %v", err)
	}
	backdate(t, store, critical.ID, 365*24*time.Hour)

	if _, err := store.DecayImportance(ctx, testDecayTiers(), 0.05, time.Now().UTC()); err != nil {
		t.Fatalf("DecayImportance() failed: %v", err)
	}
	got, err := store.GetEntity(ctx, testUser, critical.ID)
	if err != nil {
		t.Fatalf("GetEntity() failed: %v", err)
	}
	if got.Importance != 0.95 {
		t.Errorf("critical entity decayed: got %f, want 0.95", got.Importance)
	}
}

func TestDecayImportanceArchivesBelowFloor(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	faded, _, err := store.UpsertMention(ctx, testUser, storage.EntityUpsert{Name: "Cafe", Confidence: 0.05})
	if err != nil {
		t.Fatalf("UpsertMention() failed: %v", err)
	}
	backdate(t, store, faded.ID, 30*24*time.Hour)

	// 0.05 * 0.8 = 0.04, below the 0.05 floor.
	if _, err := store.DecayImportance(ctx, testDecayTiers(), 0.05, time.Now().UTC()); err != nil {
		t.Fatalf("DecayImportance() failed: %v", err)
	}
	got, err := store.GetEntity(ctx, testUser, faded.ID)
	if err != nil {
		t.Fatalf("GetEntity() failed: %v", err)
	}
	if got.Status != types.EntityArchived {
		t.Errorf("Status: got %q, want archived", got.Status)
	}
}

func TestDecayImportanceIdempotentWhenFresh(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	mustEntity(t, store, "Marcus")

	n, err := store.DecayImportance(ctx, testDecayTiers(), 0.05, time.Now().UTC())
	if err != nil {
		t.Fatalf("DecayImportance() failed: %v", err)
	}
	if n != 0 {
		t.Errorf("fresh entities decayed: got %d rows, want 0", n)
	}
}

func TestDecayImportanceIdempotentOnRerun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e, _, err := store.UpsertMention(ctx, testUser, storage.EntityUpsert{Name: "Cafe Luna", Confidence: 0.15})
	if err != nil {
		t.Fatalf("UpsertMention() failed: %v", err)
	}
	backdate(t, store, e.ID, 8*24*time.Hour)

	now := time.Now().UTC()
	n, err := store.DecayImportance(ctx, testDecayTiers(), 0.05, now)
	if err != nil {
		t.Fatalf("DecayImportance() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("first run decayed rows: got %d, want 1", n)
	}

	// A second run against the same clock must not compound the multiplier.
	n, err = store.DecayImportance(ctx, testDecayTiers(), 0.05, now)
	if err != nil {
		t.Fatalf("DecayImportance() rerun failed: %v", err)
	}
	if n != 0 {
		t.Errorf("rerun decayed %d rows, want 0", n)
	}

	got, err := store.GetEntity(ctx, testUser, e.ID)
	if err != nil {
		t.Fatalf("GetEntity() failed: %v", err)
	}
	if got.Importance < 0.119 || got.Importance > 0.121 {
		t.Errorf("importance after rerun: got %f, want 0.12 (single application of 0.80)", got.Importance)
	}
}

func TestArchiveStale(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	trivial, _, err := store.UpsertMention(ctx, testUser, storage.EntityUpsert{Name: "Cafe", Confidence: 0.1})
	if err != nil {
		t.Fatalf("UpsertMention() failed: %v", err)
	}
	important := mustEntity(t, store, "Sarah") // 0.8, high tier
	backdate(t, store, trivial.ID, 200*24*time.Hour)
	backdate(t, store, important.ID, 200*24*time.Hour)

	n, err := store.ArchiveStale(ctx, 180*24*time.Hour, time.Now().UTC())
	if err != nil {
		t.Fatalf("ArchiveStale() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("archived rows: got %d, want 1", n)
	}

	got, err := store.GetEntity(ctx, testUser, important.ID)
	if err != nil {
		t.Fatalf("GetEntity() failed: %v", err)
	}
	if got.Status != types.EntityActive {
		t.Errorf("high-tier entity archived by staleness: status %q", got.Status)
	}
}

func TestArchiveExpired(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e := mustEntity(t, store, "Conference Badge")
	past := time.Now().UTC().Add(-time.Hour)
	if _, err := store.GetDB().Exec(
		`UPDATE entities SET expires_at = ? WHERE id = ?`, past, e.ID); err != nil {
		t.Fatalf("set expires_at: %v", err)
	}

	n, err := store.ArchiveExpired(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("ArchiveExpired() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expired rows: got %d, want 1", n)
	}

	// Re-running is a no-op.
	n, err = store.ArchiveExpired(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("ArchiveExpired() rerun failed: %v", err)
	}
	if n != 0 {
		t.Errorf("rerun archived %d rows, want 0", n)
	}
}
