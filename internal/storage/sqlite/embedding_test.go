package sqlite

import (
	"context"
	"testing"

	"github.com/scrypster/mnema/pkg/types"
)

func TestSimilarEntitiesOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	marcus := mustEntity(t, store, "Marcus")
	sarah := mustEntity(t, store, "Sarah")
	gym := mustEntity(t, store, "Gym")

	// Hand-built vectors: Marcus is closest to the probe, Gym orthogonal.
	vectors := map[string][]float32{
		marcus.ID: {1, 0, 0, 0},
		sarah.ID:  {0.7, 0.7, 0, 0},
		gym.ID:    {0, 0, 1, 0},
	}
	for id, vec := range vectors {
		if err := store.StoreEmbedding(ctx, testUser, id, vec); err != nil {
			t.Fatalf("StoreEmbedding(%s) failed: %v", id, err)
		}
	}

	matches, err := store.SimilarEntities(ctx, testUser, []float32{1, 0, 0, 0}, 2)
	if err != nil {
		t.Fatalf("SimilarEntities() failed: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("matches: got %d, want 2", len(matches))
	}
	if matches[0].EntityID != marcus.ID {
		t.Errorf("best match: got %s, want Marcus", matches[0].EntityID)
	}
	if matches[0].Similarity < 0.999 {
		t.Errorf("identical vector similarity: got %f, want ~1.0", matches[0].Similarity)
	}
	if matches[1].EntityID != sarah.ID {
		t.Errorf("second match: got %s, want Sarah", matches[1].EntityID)
	}
}

func TestSimilarEntitiesSkipsArchived(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	marcus := mustEntity(t, store, "Marcus")
	if err := store.StoreEmbedding(ctx, testUser, marcus.ID, []float32{1, 0}); err != nil {
		t.Fatalf("StoreEmbedding() failed: %v", err)
	}
	if err := store.SetEntityStatus(ctx, testUser, marcus.ID, types.EntityArchived); err != nil {
		t.Fatalf("SetEntityStatus() failed: %v", err)
	}

	matches, err := store.SimilarEntities(ctx, testUser, []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("SimilarEntities() failed: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("archived entity surfaced in similarity scan: %d matches", len(matches))
	}
}

func TestStoreEmbeddingReplaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	marcus := mustEntity(t, store, "Marcus")

	if err := store.StoreEmbedding(ctx, testUser, marcus.ID, []float32{1, 0}); err != nil {
		t.Fatalf("StoreEmbedding() failed: %v", err)
	}
	if err := store.StoreEmbedding(ctx, testUser, marcus.ID, []float32{0, 1}); err != nil {
		t.Fatalf("StoreEmbedding() replace failed: %v", err)
	}

	matches, err := store.SimilarEntities(ctx, testUser, []float32{0, 1}, 1)
	if err != nil {
		t.Fatalf("SimilarEntities() failed: %v", err)
	}
	if len(matches) != 1 || matches[0].Similarity < 0.999 {
		t.Fatalf("replacement not effective: %+v", matches)
	}
}

func TestSimilarPairsThreshold(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	bob := mustEntity(t, store, "Bob")
	robert := mustEntity(t, store, "Robert")
	gym := mustEntity(t, store, "Gym")

	// Bob and Robert are near-duplicates; the gym is unrelated.
	vectors := map[string][]float32{
		bob.ID:    {1, 0.01, 0},
		robert.ID: {1, 0, 0},
		gym.ID:    {0, 0, 1},
	}
	for id, vec := range vectors {
		if err := store.StoreEmbedding(ctx, testUser, id, vec); err != nil {
			t.Fatalf("StoreEmbedding(%s) failed: %v", id, err)
		}
	}

	pairs, err := store.SimilarPairs(ctx, testUser, 0.95)
	if err != nil {
		t.Fatalf("SimilarPairs() failed: %v", err)
	}
	if len(pairs) != 1 {
		t.Fatalf("pairs above threshold: got %d, want 1", len(pairs))
	}
	a, b := types.OrderPair(bob.ID, robert.ID)
	if pairs[0].EntityA != a || pairs[0].EntityB != b {
		t.Errorf("pair: got %s/%s, want %s/%s", pairs[0].EntityA, pairs[0].EntityB, a, b)
	}

	// Flagging is idempotent across repeated scans.
	for i := 0; i < 2; i++ {
		if _, err := store.FlagMergeCandidates(ctx, testUser, pairs); err != nil {
			t.Fatalf("FlagMergeCandidates() failed: %v", err)
		}
	}
	var count int
	if err := store.GetDB().QueryRow(
		`SELECT COUNT(*) FROM merge_candidates WHERE user_id = ?`, testUser).Scan(&count); err != nil {
		t.Fatalf("count merge candidates: %v", err)
	}
	if count != 1 {
		t.Errorf("merge candidate rows: got %d, want 1", count)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0.0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0.0},
	}
	for _, tt := range tests {
		got := cosineSimilarity(tt.a, tt.b)
		if got < tt.want-1e-9 || got > tt.want+1e-9 {
			t.Errorf("%s: got %f, want %f", tt.name, got, tt.want)
		}
	}
}
