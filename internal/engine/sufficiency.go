package engine

import (
	"context"
	"log"
	"strings"
	"unicode"
)

// tier1Sufficient decides whether the Tier 1 summaries answer the query.
// Uses the external judge when configured, falling back to the proper-noun
// heuristic on judge failure.
func (e *Engine) tier1Sufficient(ctx context.Context, query, summaries string) bool {
	if e.judge != nil {
		ok, err := e.judge.Sufficient(ctx, query, summaries)
		if err == nil {
			return ok
		}
		log.Printf("engine: sufficiency judge unavailable, using heuristic: %v", err)
	}
	return heuristicSufficient(query, summaries)
}

// heuristicSufficient escalates whenever the query contains a proper-noun-
// like token absent from the gathered context. Broad queries ("what do I
// like?") carry no proper nouns and stop at Tier 1.
func heuristicSufficient(query, context string) bool {
	lowered := strings.ToLower(context)
	for _, noun := range properNouns(query) {
		if !strings.Contains(lowered, strings.ToLower(noun)) {
			return false
		}
	}
	return true
}

// entitiesResolved reports whether every proper noun in the query appears
// among the resolved entity names (Tier 2 sufficiency).
func entitiesResolved(query string, names []string) bool {
	resolved := make(map[string]bool, len(names))
	for _, n := range names {
		for _, tok := range tokenize(n) {
			resolved[tok] = true
		}
	}
	for _, noun := range properNouns(query) {
		if !resolved[strings.ToLower(noun)] {
			return false
		}
	}
	return true
}

// properNouns returns capitalized tokens that are not sentence-initial
// common words. Crude by intent; false positives only cost an extra tier.
func properNouns(query string) []string {
	var nouns []string
	words := strings.Fields(query)
	for i, w := range words {
		w = strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if w == "" {
			continue
		}
		runes := []rune(w)
		if !unicode.IsUpper(runes[0]) || len(runes) < 2 {
			continue
		}
		// Sentence-initial capitalization is not evidence of a name.
		if i == 0 && commonWords[strings.ToLower(w)] {
			continue
		}
		if w == "I" {
			continue
		}
		nouns = append(nouns, w)
	}
	return nouns
}

var commonWords = map[string]bool{
	"what": true, "where": true, "when": true, "who": true, "why": true,
	"how": true, "does": true, "do": true, "did": true, "is": true,
	"are": true, "was": true, "tell": true, "show": true, "list": true,
	"the": true, "a": true, "an": true, "my": true, "which": true,
}
