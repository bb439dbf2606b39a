package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scrypster/mnema/internal/config"
	"github.com/scrypster/mnema/pkg/types"
)

func testAssemblerEngine(t *testing.T) *Engine {
	t.Helper()
	return newTestEngine(t, Options{})
}

func TestScoreItemWeights(t *testing.T) {
	eng := testAssemblerEngine(t)
	now := time.Now()

	// A just-updated, maximally important, maximally relevant, saturated
	// item scores 1.0 under the default weights.
	it := types.ContextItem{
		Importance:   1.0,
		Relevance:    1.0,
		MentionCount: 100,
		UpdatedAt:    now,
	}
	require.InDelta(t, 1.0, eng.scoreItem(&it, now), 0.001)

	// One half-life later the recency component alone has halved.
	stale := it
	stale.UpdatedAt = now.Add(-14 * 24 * time.Hour)
	require.InDelta(t, 1.0-0.25/2, eng.scoreItem(&stale, now), 0.001)
}

func TestScoreRecencyHalfLife(t *testing.T) {
	eng := testAssemblerEngine(t)
	now := time.Now()

	fresh := types.ContextItem{UpdatedAt: now}
	old := types.ContextItem{UpdatedAt: now.Add(-28 * 24 * time.Hour)}

	// Two half-lives: recency contribution quarters.
	diff := eng.scoreItem(&fresh, now) - eng.scoreItem(&old, now)
	require.InDelta(t, 0.25*0.75, diff, 0.001)
}

func TestAssembleSkipsNotTruncates(t *testing.T) {
	eng := testAssemblerEngine(t)
	now := time.Now()

	huge := types.ContextItem{
		Kind:      types.ItemEntity,
		Text:      strings.Repeat("x", 100_000),
		Relevance: 1.0,
		UpdatedAt: now,
	}
	small := types.ContextItem{
		Kind:      types.ItemEntity,
		Text:      "small fact",
		Relevance: 0.1,
		UpdatedAt: now,
	}

	res := eng.assemble([]types.ContextItem{huge, small}, 100, now)
	require.Equal(t, "small fact", res.ContextPayload)
	require.Equal(t, 1, res.ItemCounts[types.ItemEntity])
}

func TestAssembleHigherScoreWins(t *testing.T) {
	eng := testAssemblerEngine(t)
	now := time.Now()

	items := []types.ContextItem{
		{Kind: types.ItemEntity, Text: strings.Repeat("low relevance ", 20), Relevance: 0.1, UpdatedAt: now},
		{Kind: types.ItemEntity, Text: strings.Repeat("high relevance ", 20), Relevance: 0.9, UpdatedAt: now},
	}

	// Budget fits only one entity item in its partition plus reallocation;
	// the higher-scoring one must be taken first.
	res := eng.assemble(items, 120, now)
	require.Contains(t, res.ContextPayload, "high relevance")
}

func TestAssembleReallocatesUnusedShare(t *testing.T) {
	eng := testAssemblerEngine(t)
	now := time.Now()

	// No summaries and no matches: entity items may spill into the unused
	// 30+30 percent of the budget.
	var items []types.ContextItem
	for i := 0; i < 10; i++ {
		items = append(items, types.ContextItem{
			Kind:      types.ItemEntity,
			Text:      strings.Repeat("entity fact text ", 10), // ~170 chars ≈ 42 tokens
			Relevance: 0.5,
			UpdatedAt: now,
		})
	}

	res := eng.assemble(items, 300, now)
	// Entity share alone (40% = 120 tokens) fits 2; the full budget fits ~7.
	require.Greater(t, res.ItemCounts[types.ItemEntity], 2)
}

func TestAssembleEmpty(t *testing.T) {
	eng := testAssemblerEngine(t)
	res := eng.assemble(nil, 100, time.Now())
	require.Equal(t, 0, res.TierUsed)
	require.Empty(t, res.ContextPayload)
}

func TestEstimateTokens(t *testing.T) {
	if got := estimateTokens("abcd"); got != 1 {
		t.Errorf("estimateTokens(4 chars) = %d, want 1", got)
	}
	if got := estimateTokens(""); got != 1 {
		t.Errorf("estimateTokens(empty) = %d, want 1", got)
	}
}

func TestDefaultWeightsSumToOne(t *testing.T) {
	cfg := config.Load()
	sum := cfg.Retrieval.ImportanceWeight + cfg.Retrieval.RecencyWeight +
		cfg.Retrieval.RelevanceWeight + cfg.Retrieval.FrequencyWeight
	require.InDelta(t, 1.0, sum, 0.0001)

	shares := cfg.Retrieval.SummaryShare + cfg.Retrieval.EntityShare + cfg.Retrieval.MatchShare
	require.InDelta(t, 1.0, shares, 0.0001)
}
