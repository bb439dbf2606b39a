package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scrypster/mnema/internal/extern"
	"github.com/scrypster/mnema/pkg/types"
)

func TestRetrieveBroadQueryStopsAtTier1(t *testing.T) {
	eng := newTestEngine(t, Options{})
	ingestBasics(t, eng)

	res, err := eng.Retrieve(context.Background(), testUser, "what does my work look like", 0, types.ModeFull)
	require.NoError(t, err)
	require.Equal(t, 1, res.TierUsed)
	require.Contains(t, res.ContextPayload, "Marcus works at Anthropic")
	require.Len(t, res.Timings, 1)
}

func TestRetrieveEscalatesToTier2ForUnsummarizedEntity(t *testing.T) {
	eng := newTestEngine(t, Options{})
	ingestBasics(t, eng)

	// Sarah has no facts, so no summary mentions her; the heuristic must
	// escalate and Tier 2 resolves her by name.
	res, err := eng.Retrieve(context.Background(), testUser, "Tell me about Sarah", 0, types.ModeFull)
	require.NoError(t, err)
	require.Equal(t, 2, res.TierUsed)
	require.Contains(t, res.ContextPayload, "Sarah")
}

func TestRetrieveMonotonicEscalation(t *testing.T) {
	eng := newTestEngine(t, Options{})
	ingestBasics(t, eng)

	// An unresolvable proper noun walks every tier in order.
	res, err := eng.Retrieve(context.Background(), testUser, "Did I ever mention Zanzibar", 0, types.ModeFull)
	require.NoError(t, err)
	for i, tt := range res.Timings {
		require.Equal(t, i+1, tt.Tier)
	}
	require.Len(t, res.Timings, 3)
}

func TestRetrieveFastModeStopsAtTier2(t *testing.T) {
	eng := newTestEngine(t, Options{})
	ingestBasics(t, eng)

	res, err := eng.Retrieve(context.Background(), testUser, "Did I ever mention Zanzibar", 0, types.ModeFast)
	require.NoError(t, err)
	require.LessOrEqual(t, res.TierUsed, 2)
	require.Len(t, res.Timings, 2)
}

func TestRetrieveEmptyGraph(t *testing.T) {
	eng := newTestEngine(t, Options{})

	res, err := eng.Retrieve(context.Background(), testUser, "anything at all", 0, types.ModeFull)
	require.NoError(t, err)
	require.Equal(t, 0, res.TierUsed)
	require.Empty(t, res.ContextPayload)
}

func TestRetrieveDegradesOnVectorOutage(t *testing.T) {
	embedder := &extern.MockEmbedder{Err: extern.ErrUnavailable}
	eng := newTestEngine(t, Options{Embedder: embedder})
	ingestBasics(t, eng)

	res, err := eng.Retrieve(context.Background(), testUser, "Did I ever mention Zanzibar", 0, types.ModeFull)
	require.NoError(t, err)
	require.True(t, res.Degraded)
}

func TestRetrieveJudgeFallsBackToHeuristic(t *testing.T) {
	judge := &extern.MockJudge{Err: extern.ErrUnavailable}
	eng := newTestEngine(t, Options{Judge: judge})
	ingestBasics(t, eng)

	res, err := eng.Retrieve(context.Background(), testUser, "what does my work look like", 0, types.ModeFull)
	require.NoError(t, err)
	require.Equal(t, 1, res.TierUsed)
	require.Greater(t, judge.Calls, 0)
}

func TestRetrieveRejectsMissingUser(t *testing.T) {
	eng := newTestEngine(t, Options{})
	_, err := eng.Retrieve(context.Background(), "", "query", 0, types.ModeFull)
	require.ErrorIs(t, err, ErrValidation)
}

func TestProperNouns(t *testing.T) {
	cases := []struct {
		query string
		want  []string
	}{
		{"Where does Marcus work", []string{"Marcus"}},
		{"what do I like", nil},
		{"Tell me about Sarah and Berlin", []string{"Sarah", "Berlin"}},
		{"does anything matter", nil},
	}
	for _, tc := range cases {
		got := properNouns(tc.query)
		require.Equal(t, tc.want, got, "query %q", tc.query)
	}
}

func TestHeuristicSufficient(t *testing.T) {
	ctxText := "Marcus works at Anthropic. Sarah lives in Berlin."
	if !heuristicSufficient("Where does Marcus work", ctxText) {
		t.Error("expected sufficient when proper noun is covered")
	}
	if heuristicSufficient("Where does Nadia work", ctxText) {
		t.Error("expected insufficient for uncovered proper noun")
	}
	if !heuristicSufficient("what is going on", "") {
		t.Error("broad query with no proper nouns should be sufficient")
	}
}

func TestQueryCategories(t *testing.T) {
	got := queryCategories("who are my friends at work")
	require.ElementsMatch(t, []string{CategoryRelationships, CategoryWork}, got)
	require.Empty(t, queryCategories("zebra quantum flux"))
}

func TestSummaryCacheInvalidatedOnRewrite(t *testing.T) {
	eng := newTestEngine(t, Options{})
	ctx := context.Background()
	ingestBasics(t, eng)

	// Prime the cache.
	_, err := eng.Retrieve(ctx, testUser, "what does my work look like", 0, types.ModeFull)
	require.NoError(t, err)

	// A fact write in the category rewrites the summary and drops the entry.
	payload := types.ExtractionPayload{
		Entities: []types.ExtractedEntity{
			{Name: "Marcus", Type: "person", Confidence: 0.9},
			{Name: "Mistral", Type: "organization", Confidence: 0.9},
		},
		Relationships: []types.ExtractedRelationship{
			{Subject: "Marcus", Predicate: "works_at", Object: "Mistral", Confidence: 0.95},
		},
	}
	_, err = eng.Ingest(ctx, testUser, payload, types.SourceNote, "note-9")
	require.NoError(t, err)

	res, err := eng.Retrieve(ctx, testUser, "what does my work look like", 0, types.ModeFull)
	require.NoError(t, err)
	require.Contains(t, res.ContextPayload, "Mistral")
	require.False(t, strings.Contains(res.ContextPayload, "works at Anthropic"))
}
