package engine

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/scrypster/mnema/pkg/types"
)

// mentionSaturation is the mention count at which the frequency factor
// reaches 1.0.
const mentionSaturation = 20.0

// assemble greedily fills the token budget with the highest-scoring items.
// The budget is partitioned by kind (summaries / entity+fact / matches);
// items that do not fit are skipped whole, never truncated, and budget a
// partition leaves unused is reallocated to the remaining partitions.
func (e *Engine) assemble(items []types.ContextItem, maxTokens int, now time.Time) *types.RetrievalResult {
	res := &types.RetrievalResult{
		ItemCounts: map[types.ContextItemKind]int{},
	}
	if len(items) == 0 {
		return res
	}

	scored := make([]scoredItem, len(items))
	for i := range items {
		scored[i] = scoredItem{item: items[i], score: e.scoreItem(&items[i], now)}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	budgets := map[types.ContextItemKind]int{
		types.ItemSummary: int(float64(maxTokens) * e.retrieval.SummaryShare),
		types.ItemEntity:  int(float64(maxTokens) * e.retrieval.EntityShare),
		types.ItemMatch:   int(float64(maxTokens) * e.retrieval.MatchShare),
	}

	var sb strings.Builder
	take := func(s *scoredItem) {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(s.item.Text)
		res.ItemCounts[s.item.Kind]++
		s.used = true
	}

	// First pass under the partition budgets.
	for i := range scored {
		s := &scored[i]
		kind := partitionFor(s.item.Kind)
		cost := estimateTokens(s.item.Text)
		if cost > budgets[kind] {
			continue
		}
		budgets[kind] -= cost
		take(s)
	}

	// Reallocation pass: leftover tokens from under-filled partitions go
	// into a shared pool for whatever still fits.
	pool := budgets[types.ItemSummary] + budgets[types.ItemEntity] + budgets[types.ItemMatch]
	for i := range scored {
		s := &scored[i]
		if s.used || pool <= 0 {
			continue
		}
		cost := estimateTokens(s.item.Text)
		if cost > pool {
			continue
		}
		pool -= cost
		take(s)
	}

	res.ContextPayload = sb.String()
	return res
}

type scoredItem struct {
	item  types.ContextItem
	score float64
	used  bool
}

// scoreItem blends the four retrieval signals into a final rank.
func (e *Engine) scoreItem(it *types.ContextItem, now time.Time) float64 {
	days := now.Sub(it.UpdatedAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	recency := math.Pow(0.5, days/e.retrieval.HalfLifeDays)

	freq := float64(it.MentionCount) / mentionSaturation
	if freq > 1 {
		freq = 1
	}

	return it.Importance*e.retrieval.ImportanceWeight +
		recency*e.retrieval.RecencyWeight +
		it.Relevance*e.retrieval.RelevanceWeight +
		freq*e.retrieval.FrequencyWeight
}

// partitionFor maps item kinds onto the three budget partitions; facts
// share the entity partition.
func partitionFor(kind types.ContextItemKind) types.ContextItemKind {
	if kind == types.ItemFact {
		return types.ItemEntity
	}
	return kind
}

// estimateTokens approximates token cost as len/4, the usual rule of thumb
// for English text.
func estimateTokens(text string) int {
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}
