package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scrypster/mnema/internal/config"
	"github.com/scrypster/mnema/internal/storage/sqlite"
	"github.com/scrypster/mnema/pkg/types"
)

const testUser = "user-1"

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.Load()
	eng, err := New(store, cfg.Retrieval, cfg.Decay, opts)
	require.NoError(t, err)
	return eng
}

func ingestBasics(t *testing.T, eng *Engine) {
	t.Helper()
	payload := types.ExtractionPayload{
		Entities: []types.ExtractedEntity{
			{Name: "Marcus", Type: "person", Confidence: 0.9},
			{Name: "Anthropic", Type: "organization", Confidence: 0.9},
			{Name: "Sarah", Type: "person", Confidence: 0.8},
		},
		Relationships: []types.ExtractedRelationship{
			{Subject: "Marcus", Predicate: "works_at", Object: "Anthropic", Confidence: 0.9},
		},
	}
	_, err := eng.Ingest(context.Background(), testUser, payload, types.SourceNote, "note-1")
	require.NoError(t, err)
}

func TestIngestCounts(t *testing.T) {
	eng := newTestEngine(t, Options{})
	ctx := context.Background()

	payload := types.ExtractionPayload{
		Entities: []types.ExtractedEntity{
			{Name: "Marcus", Type: "person", Confidence: 0.9},
			{Name: "Anthropic", Type: "organization", Confidence: 0.9},
		},
		Relationships: []types.ExtractedRelationship{
			{Subject: "Marcus", Predicate: "works_at", Object: "Anthropic", Confidence: 0.9},
		},
		Behaviors: []types.ExtractedBehavior{
			{Type: "trusts_opinion_of", TargetEntity: "Marcus", Confidence: 0.7},
		},
	}

	res, err := eng.Ingest(ctx, testUser, payload, types.SourceNote, "note-1")
	require.NoError(t, err)
	require.Equal(t, 2, res.EntitiesCreated)
	require.Equal(t, 1, res.FactsCreated)
	require.Equal(t, 1, res.BehaviorsCreated)
	require.Equal(t, 1, res.LinksCreated)
	require.Empty(t, res.SkippedItems)

	// Second event with the same content reinforces instead of creating.
	res, err = eng.Ingest(ctx, testUser, payload, types.SourceNote, "note-2")
	require.NoError(t, err)
	require.Equal(t, 0, res.EntitiesCreated)
	require.Equal(t, 2, res.EntitiesUpdated)
	require.Equal(t, 0, res.FactsCreated)
	require.Equal(t, 1, res.FactsUpdated)
	require.Equal(t, 0, res.LinksCreated)
}

func TestIngestPartialTolerance(t *testing.T) {
	eng := newTestEngine(t, Options{})

	payload := types.ExtractionPayload{
		Entities: []types.ExtractedEntity{
			{Name: "Marcus", Type: "person", Confidence: 0.9},
			{Name: "", Type: "person", Confidence: 0.9},       // missing name
			{Name: "Berlin", Type: "place", Confidence: 1.7},  // confidence out of range
			{Name: "Mystery", Type: "spaceship", Confidence: 0.5}, // unknown type coerced
		},
		Relationships: []types.ExtractedRelationship{
			{Subject: "Nobody", Predicate: "works_at", Object: "Anthropic", Confidence: 0.9}, // unknown subject
			{Subject: "Marcus", Predicate: "", Object: "x", Confidence: 0.9},                 // missing predicate
		},
	}

	res, err := eng.Ingest(context.Background(), testUser, payload, types.SourceNote, "note-1")
	require.NoError(t, err)
	require.Equal(t, 2, res.EntitiesCreated) // Marcus + Mystery
	require.Equal(t, 0, res.FactsCreated)
	require.Len(t, res.SkippedItems, 4)
}

func TestIngestRejectsBadSource(t *testing.T) {
	eng := newTestEngine(t, Options{})
	_, err := eng.Ingest(context.Background(), testUser, types.ExtractionPayload{}, "carrier-pigeon", "s1")
	require.ErrorIs(t, err, ErrValidation)

	_, err = eng.Ingest(context.Background(), "", types.ExtractionPayload{}, types.SourceNote, "s1")
	require.ErrorIs(t, err, ErrValidation)
}

func TestCascadeRoundTripThroughEngine(t *testing.T) {
	eng := newTestEngine(t, Options{})
	ctx := context.Background()
	ingestBasics(t, eng)

	inv, err := eng.CascadeInvalidate(ctx, testUser, "note-1")
	require.NoError(t, err)
	require.Equal(t, 1, inv.Facts)
	require.Equal(t, 3, inv.Entities)

	rst, err := eng.CascadeRestore(ctx, testUser, "note-1")
	require.NoError(t, err)
	require.Equal(t, inv.Facts, rst.Facts)
	require.Equal(t, inv.Entities, rst.Entities)
}
