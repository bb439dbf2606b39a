package sqlite

import (
	"context"
	"testing"

	"github.com/scrypster/mnema/internal/storage"
)

func TestLinkReinforcement(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	marcus := mustEntity(t, store, "Marcus")
	sarah := mustEntity(t, store, "Sarah")

	created, err := store.Link(ctx, testUser, marcus.ID, sarah.ID)
	if err != nil {
		t.Fatalf("Link() failed: %v", err)
	}
	if !created {
		t.Error("first link: created = false, want true")
	}

	// The pair is unordered: reversed arguments hit the same edge.
	created, err = store.Link(ctx, testUser, sarah.ID, marcus.ID)
	if err != nil {
		t.Fatalf("Link() reversed failed: %v", err)
	}
	if created {
		t.Error("second link: created = true, want false")
	}

	edges, err := store.Neighbors(ctx, testUser, marcus.ID, 10)
	if err != nil {
		t.Fatalf("Neighbors() failed: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("edges: got %d, want 1", len(edges))
	}
	if edges[0].Strength != 2 {
		t.Errorf("Strength: got %d, want 2", edges[0].Strength)
	}
}

func TestLinkRejectsSelfEdge(t *testing.T) {
	store := newTestStore(t)
	marcus := mustEntity(t, store, "Marcus")

	if _, err := store.Link(context.Background(), testUser, marcus.ID, marcus.ID); err == nil {
		t.Error("self-edge accepted, want error")
	}
}

func TestNeighborsOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	marcus := mustEntity(t, store, "Marcus")
	sarah := mustEntity(t, store, "Sarah")
	anthropic := mustEntity(t, store, "Anthropic")

	// Reinforce Marcus-Anthropic twice, Marcus-Sarah once.
	for i := 0; i < 2; i++ {
		if _, err := store.Link(ctx, testUser, marcus.ID, anthropic.ID); err != nil {
			t.Fatalf("Link() failed: %v", err)
		}
	}
	if _, err := store.Link(ctx, testUser, marcus.ID, sarah.ID); err != nil {
		t.Fatalf("Link() failed: %v", err)
	}

	edges, err := store.Neighbors(ctx, testUser, marcus.ID, 10)
	if err != nil {
		t.Fatalf("Neighbors() failed: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("edges: got %d, want 2", len(edges))
	}
	if edges[0].Strength < edges[1].Strength {
		t.Errorf("edges not ordered by strength: %d before %d", edges[0].Strength, edges[1].Strength)
	}
}

func TestReinforceBehavior(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	sarah := mustEntity(t, store, "Sarah")

	up := storage.BehaviorUpsert{
		Predicate: "trusts_opinion_of", TargetEntityID: sarah.ID,
		Topic: "restaurants", Evidence: "asked Sarah for a recommendation",
		Confidence: 0.6, SourceID: "note-1",
	}
	first, created, err := store.ReinforceBehavior(ctx, testUser, up)
	if err != nil {
		t.Fatalf("ReinforceBehavior() failed: %v", err)
	}
	if !created {
		t.Error("first observation: created = false, want true")
	}
	if first.Confidence != 0.6 {
		t.Errorf("Confidence: got %f, want 0.6", first.Confidence)
	}

	second, created, err := store.ReinforceBehavior(ctx, testUser, up)
	if err != nil {
		t.Fatalf("ReinforceBehavior() second failed: %v", err)
	}
	if created {
		t.Error("reinforcement: created = true, want false")
	}
	if second.ReinforcementCount != 2 {
		t.Errorf("ReinforcementCount: got %d, want 2", second.ReinforcementCount)
	}
	if second.Confidence < 0.699 || second.Confidence > 0.701 {
		t.Errorf("Confidence: got %f, want 0.7", second.Confidence)
	}

	// A different topic is a distinct behavior.
	up.Topic = "wine"
	_, created, err = store.ReinforceBehavior(ctx, testUser, up)
	if err != nil {
		t.Fatalf("ReinforceBehavior() new topic failed: %v", err)
	}
	if !created {
		t.Error("new topic: created = false, want true")
	}

	behaviors, err := store.ListBehaviors(ctx, testUser, 10)
	if err != nil {
		t.Fatalf("ListBehaviors() failed: %v", err)
	}
	if len(behaviors) != 2 {
		t.Fatalf("behaviors: got %d, want 2", len(behaviors))
	}
	// Most reinforced first.
	if behaviors[0].Topic != "restaurants" {
		t.Errorf("ordering: got topic %q first, want restaurants", behaviors[0].Topic)
	}
}

func TestBehaviorConfidenceCap(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	up := storage.BehaviorUpsert{Predicate: "prefers", Topic: "quiet mornings", Confidence: 0.95}
	for i := 0; i < 3; i++ {
		b, _, err := store.ReinforceBehavior(ctx, testUser, up)
		if err != nil {
			t.Fatalf("ReinforceBehavior() failed: %v", err)
		}
		if b.Confidence > 1.0 {
			t.Fatalf("Confidence exceeded cap: %f", b.Confidence)
		}
	}
}
