package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/scrypster/mnema/internal/storage"
)

func TestPutSummaryReplacesWholesale(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.PutSummary(ctx, testUser, "work", "Marcus works at Anthropic.", 1); err != nil {
		t.Fatalf("PutSummary() failed: %v", err)
	}
	if err := store.PutSummary(ctx, testUser, "work", "Marcus works at Mistral.", 2); err != nil {
		t.Fatalf("PutSummary() replace failed: %v", err)
	}

	got, err := store.GetSummary(ctx, testUser, "work")
	if err != nil {
		t.Fatalf("GetSummary() failed: %v", err)
	}
	if got.Content != "Marcus works at Mistral." {
		t.Errorf("Content: got %q, want replacement", got.Content)
	}
	if got.FactCount != 2 {
		t.Errorf("FactCount: got %d, want 2", got.FactCount)
	}
}

func TestGetSummaryNotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetSummary(context.Background(), testUser, "health"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetSummary(missing): got %v, want ErrNotFound", err)
	}
}

func TestListSummariesFiltersCategories(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, cat := range []string{"work", "relationships", "interests"} {
		if err := store.PutSummary(ctx, testUser, cat, cat+" summary", 1); err != nil {
			t.Fatalf("PutSummary(%s) failed: %v", cat, err)
		}
	}

	got, err := store.ListSummaries(ctx, testUser, []string{"work", "interests"})
	if err != nil {
		t.Fatalf("ListSummaries() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("filtered summaries: got %d, want 2", len(got))
	}

	all, err := store.ListSummaries(ctx, testUser, nil)
	if err != nil {
		t.Fatalf("ListSummaries(nil) failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all summaries: got %d, want 3", len(all))
	}
}
