// Package extern holds clients for the engine's external collaborators:
// the embedding service, the summary rewriter, and the optional sufficiency
// judge. The engine treats all three as best-effort — outages degrade a
// retrieval tier or skip a rewrite, never fail an operation.
package extern

import (
	"context"
	"errors"
)

// ErrUnavailable indicates the external dependency is unreachable or its
// circuit is open. Callers degrade rather than propagate.
var ErrUnavailable = errors.New("external dependency unavailable")

// Embedder turns text into an opaque fixed-length vector. The engine never
// interprets vector contents, only stores and compares them.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SummaryRewriter rewrites a category summary wholesale from the current
// fact set. Incremental merging is deliberately not part of the contract.
type SummaryRewriter interface {
	Rewrite(ctx context.Context, category string, priorSummary string, facts []string) (string, error)
}

// SufficiencyJudge decides whether a retrieval tier's result already answers
// the query. When unavailable the engine falls back to a fixed heuristic.
type SufficiencyJudge interface {
	Sufficient(ctx context.Context, query string, context string) (bool, error)
}
