package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/scrypster/mnema/internal/storage"
	"github.com/scrypster/mnema/pkg/types"
)

// Retrieve answers a query with a token-bounded context payload, escalating
// strictly Tier 1 → 2 → 3 and short-circuiting as soon as a sufficiency
// check passes. Cancellation is honored at tier boundaries: the best
// tier-so-far is assembled and returned rather than an error. Retrieval
// always returns a result; an empty graph yields TierUsed=0.
func (e *Engine) Retrieve(ctx context.Context, userID, query string, maxTokens int, mode types.RetrievalMode) (*types.RetrievalResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if maxTokens <= 0 {
		maxTokens = e.retrieval.DefaultMaxTokens
	}
	if mode == "" {
		mode = types.ModeFull
	}

	ctx, cancel := context.WithTimeout(ctx, e.retrieval.TotalTimeout)
	defer cancel()

	var (
		items    []types.ContextItem
		timings  []types.TierTiming
		tierUsed int
		degraded bool
	)

	finish := func() *types.RetrievalResult {
		res := e.assemble(items, maxTokens, time.Now())
		res.TierUsed = tierUsed
		res.Timings = timings
		res.Degraded = degraded
		return res
	}

	// Tier 1: category summaries.
	start := time.Now()
	summaries := e.tier1(ctx, userID, query)
	timings = append(timings, types.TierTiming{Tier: 1, Duration: time.Since(start), Items: len(summaries)})
	if len(summaries) > 0 {
		tierUsed = 1
		items = append(items, summaries...)
	}
	var sb strings.Builder
	for _, it := range summaries {
		sb.WriteString(it.Text)
		sb.WriteString("\n")
	}
	if len(summaries) > 0 && e.tier1Sufficient(ctx, query, sb.String()) {
		return finish(), nil
	}
	if ctx.Err() != nil {
		return finish(), nil
	}

	// Tier 2: top entities with their current facts.
	start = time.Now()
	entityItems, names := e.tier2(ctx, userID, query)
	timings = append(timings, types.TierTiming{Tier: 2, Duration: time.Since(start), Items: len(entityItems)})
	if len(entityItems) > 0 {
		tierUsed = 2
		items = append(items, entityItems...)
	}
	if mode == types.ModeFast {
		return finish(), nil
	}
	if len(entityItems) > 0 && entitiesResolved(query, names) {
		return finish(), nil
	}
	if ctx.Err() != nil {
		return finish(), nil
	}

	// Tier 3: hybrid vector + keyword + graph.
	start = time.Now()
	matches, deg := e.tier3(ctx, userID, query, items)
	degraded = degraded || deg
	timings = append(timings, types.TierTiming{Tier: 3, Duration: time.Since(start), Items: len(matches)})
	if len(matches) > 0 {
		tierUsed = 3
		items = append(items, matches...)
	}
	return finish(), nil
}

// tier1 fetches the category summaries relevant to the query. The LRU
// fronts the store; a miss anywhere falls through to ListSummaries.
func (e *Engine) tier1(ctx context.Context, userID, query string) []types.ContextItem {
	ctx, cancel := context.WithTimeout(ctx, e.retrieval.TierTimeout)
	defer cancel()

	cats := queryCategories(query)

	// All requested categories served from cache, or none.
	if len(cats) > 0 {
		var cached []types.ContextItem
		for _, cat := range cats {
			sum, ok := e.summaryCache.Get(summaryCacheKey(userID, cat))
			if !ok {
				cached = nil
				break
			}
			cached = append(cached, summaryItem(sum))
		}
		if len(cached) == len(cats) {
			return cached
		}
	}

	sums, err := e.store.ListSummaries(ctx, userID, cats)
	if err != nil {
		log.Printf("engine: tier1 summaries: %v", err)
		return nil
	}
	var items []types.ContextItem
	for i := range sums {
		s := sums[i]
		e.summaryCache.Add(summaryCacheKey(userID, s.Category), &s)
		items = append(items, summaryItem(&s))
	}
	return items
}

func summaryItem(s *types.CategorySummary) types.ContextItem {
	return types.ContextItem{
		Kind:      types.ItemSummary,
		Text:      fmt.Sprintf("[%s] %s", s.Category, s.Content),
		Relevance: 0.5,
		// Summaries distill many facts; weight them as important.
		Importance:   0.8,
		MentionCount: s.FactCount,
		UpdatedAt:    s.UpdatedAt,
	}
}

func summaryCacheKey(userID, category string) string {
	return userID + "\x00" + category
}

// tier2 fetches the top-N entities by blended importance, recency, and
// name match, with their current facts. Returns the resolved entity names
// for the Tier 2 sufficiency check.
func (e *Engine) tier2(ctx context.Context, userID, query string) ([]types.ContextItem, []string) {
	ctx, cancel := context.WithTimeout(ctx, e.retrieval.TierTimeout)
	defer cancel()

	tokens := tokenize(query)
	ents, err := e.store.ListEntities(ctx, userID, storage.EntityQuery{
		NameTokens: tokens,
		Limit:      e.retrieval.Tier2TopN,
	})
	if err != nil {
		log.Printf("engine: tier2 entities: %v", err)
		return nil, nil
	}
	if len(ents) == 0 && len(tokens) > 0 {
		// No name match: fall back to globally important entities.
		ents, err = e.store.ListEntities(ctx, userID, storage.EntityQuery{Limit: e.retrieval.Tier2TopN})
		if err != nil {
			log.Printf("engine: tier2 entities: %v", err)
			return nil, nil
		}
	}

	var (
		items []types.ContextItem
		names []string
		ids   []string
	)
	for i := range ents {
		ent := ents[i]
		names = append(names, ent.Name)
		ids = append(ids, ent.ID)
		items = append(items, entityItem(&ent, nameMatchScore(ent.NormalizedName, tokens)))

		facts, err := e.store.CurrentFacts(ctx, userID, ent.ID)
		if err != nil {
			log.Printf("engine: tier2 facts for %s: %v", ent.ID, err)
			continue
		}
		for j := range facts {
			items = append(items, factItem(&ents[i], &facts[j]))
		}
	}
	if len(ids) > 0 {
		if err := e.store.TouchAccessed(ctx, userID, ids); err != nil {
			log.Printf("engine: touch accessed: %v", err)
		}
	}
	return items, names
}

func entityItem(ent *types.Entity, relevance float64) types.ContextItem {
	text := ent.Name
	if ent.Summary != "" {
		text += ": " + ent.Summary
	} else if len(ent.RecentContexts) > 0 {
		text += ": " + ent.RecentContexts[len(ent.RecentContexts)-1]
	}
	return types.ContextItem{
		Kind:         types.ItemEntity,
		Text:         text,
		Importance:   ent.Importance,
		Relevance:    relevance,
		MentionCount: ent.MentionCount,
		UpdatedAt:    ent.LastMentioned,
		EntityID:     ent.ID,
	}
}

func factItem(ent *types.Entity, f *types.Fact) types.ContextItem {
	return types.ContextItem{
		Kind:         types.ItemFact,
		Text:         fmt.Sprintf("%s %s %s", ent.Name, f.Predicate, f.Object),
		Importance:   ent.Importance,
		Relevance:    f.Confidence,
		MentionCount: f.MentionCount,
		UpdatedAt:    f.CreatedAt,
		EntityID:     ent.ID,
	}
}

// nameMatchScore is the fraction of query tokens present in the name.
func nameMatchScore(normalizedName string, tokens []string) float64 {
	if len(tokens) == 0 {
		return 0.3
	}
	hits := 0
	for _, tok := range tokens {
		if strings.Contains(normalizedName, tok) {
			hits++
		}
	}
	return float64(hits) / float64(len(tokens))
}

// tier3 runs the hybrid search: vector similarity, keyword FTS, and graph
// expansion from already-matched entities, fused by the configured weights.
// A vector outage degrades to keyword+graph and flags the result.
func (e *Engine) tier3(ctx context.Context, userID, query string, prior []types.ContextItem) ([]types.ContextItem, bool) {
	ctx, cancel := context.WithTimeout(ctx, e.retrieval.TierTimeout)
	defer cancel()

	// Fused score per entity id; text carried separately for fact hits.
	scores := map[string]float64{}
	texts := map[string]string{}
	degraded := false

	// Vector leg.
	if e.embedder != nil && e.vector != nil {
		if vec, err := e.embedder.Embed(ctx, query); err != nil {
			log.Printf("engine: tier3 vector leg degraded: %v", err)
			degraded = true
		} else if hits, err := e.vector.SimilarEntities(ctx, userID, vec, e.retrieval.Tier2TopN); err != nil {
			log.Printf("engine: tier3 vector leg degraded: %v", err)
			degraded = true
		} else {
			for _, h := range hits {
				scores[h.EntityID] += e.retrieval.VectorWeight * h.Similarity
			}
		}
	}

	// Keyword leg.
	kw, err := e.store.KeywordSearch(ctx, userID, query, e.retrieval.Tier2TopN*2)
	if err != nil {
		log.Printf("engine: tier3 keyword leg: %v", err)
	} else {
		for i, m := range kw {
			id := m.EntityID
			if id == "" {
				id = m.ID
			}
			// Rank position decays linearly; FTS rank scales are opaque.
			scores[id] += e.retrieval.KeywordWeight * (1.0 - float64(i)/float64(len(kw)))
			if texts[id] == "" {
				texts[id] = m.Text
			}
		}
	}

	// Graph leg: one hop out from entities already in play.
	seen := map[string]bool{}
	for _, it := range prior {
		if it.EntityID != "" {
			seen[it.EntityID] = true
		}
	}
	for id := range seen {
		edges, err := e.store.Neighbors(ctx, userID, id, 5)
		if err != nil {
			log.Printf("engine: tier3 graph leg: %v", err)
			break
		}
		for _, edge := range edges {
			other := edge.EntityA
			if other == id {
				other = edge.EntityB
			}
			if seen[other] {
				continue
			}
			scores[other] += e.retrieval.GraphWeight * capStrength(edge.Strength)
		}
	}

	var items []types.ContextItem
	for id, score := range scores {
		if seen[id] {
			continue // already contributed by Tier 2
		}
		ent, err := e.store.GetEntity(ctx, userID, id)
		if err != nil {
			// Keyword hits on fact rows carry their own text.
			if txt := texts[id]; txt != "" {
				items = append(items, types.ContextItem{
					Kind:      types.ItemMatch,
					Text:      txt,
					Relevance: score,
					UpdatedAt: time.Now(),
				})
			}
			continue
		}
		it := entityItem(ent, score)
		it.Kind = types.ItemMatch
		items = append(items, it)
	}
	return items, degraded
}

// capStrength squashes an edge strength count into [0,1].
func capStrength(strength int) float64 {
	s := float64(strength) / 10.0
	if s > 1 {
		return 1
	}
	return s
}
