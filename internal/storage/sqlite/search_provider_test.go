package sqlite

import (
	"context"
	"testing"

	"github.com/scrypster/mnema/internal/storage"
)

func TestKeywordSearchMatchesEntitiesAndFacts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	marcus := mustEntity(t, store, "Marcus")

	if _, _, err := store.UpsertFact(ctx, testUser, storage.FactUpsert{
		EntityID: marcus.ID, Predicate: "works_at", Object: "Anthropic", Confidence: 0.8,
	}); err != nil {
		t.Fatalf("UpsertFact() failed: %v", err)
	}

	matches, err := store.KeywordSearch(ctx, testUser, "where does Marcus work", 10)
	if err != nil {
		t.Fatalf("KeywordSearch() failed: %v", err)
	}

	var entityHit, factHit bool
	for _, m := range matches {
		switch m.Kind {
		case "entity":
			entityHit = entityHit || m.EntityID == marcus.ID
		case "fact":
			factHit = factHit || m.EntityID == marcus.ID
		}
	}
	if !entityHit {
		t.Error("no entity match for Marcus")
	}
	if !factHit {
		t.Error("no fact match for works_at")
	}
}

func TestKeywordSearchExcludesSuperseded(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	marcus := mustEntity(t, store, "Marcus")

	if _, _, err := store.UpsertFact(ctx, testUser, storage.FactUpsert{
		EntityID: marcus.ID, Predicate: "works_at", Object: "Anthropic", Confidence: 0.8,
	}); err != nil {
		t.Fatalf("UpsertFact() failed: %v", err)
	}
	if _, _, err := store.UpsertFact(ctx, testUser, storage.FactUpsert{
		EntityID: marcus.ID, Predicate: "works_at", Object: "Mistral", Confidence: 0.9,
	}); err != nil {
		t.Fatalf("UpsertFact() supersede failed: %v", err)
	}

	matches, err := store.KeywordSearch(ctx, testUser, "anthropic", 10)
	if err != nil {
		t.Fatalf("KeywordSearch() failed: %v", err)
	}
	for _, m := range matches {
		if m.Kind == "fact" {
			t.Errorf("superseded fact surfaced: %q", m.Text)
		}
	}
}

func TestKeywordSearchHostileInput(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	mustEntity(t, store, "Marcus")

	// Raw FTS5 operators and unbalanced quotes must not produce a syntax
	// error after sanitisation.
	for _, q := range []string{`"unbalanced`, `marcus AND (`, `fact* - ^`, `the of and`} {
		if _, err := store.KeywordSearch(ctx, testUser, q, 10); err != nil {
			t.Errorf("KeywordSearch(%q) failed: %v", q, err)
		}
	}
}

func TestSanitiseFTSQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"where does Marcus work", "marcus* OR work*"},
		{"the of and", ""},
		{`"Marcus"`, "marcus*"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := sanitiseFTSQuery(tt.in); got != tt.want {
			t.Errorf("sanitiseFTSQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
