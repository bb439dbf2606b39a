package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/scrypster/mnema/internal/storage"
	"github.com/scrypster/mnema/pkg/types"
)

// summaryFactLimit bounds how many facts feed one rewrite.
const summaryFactLimit = 50

// RefreshSummary rewrites the category summary wholesale from the current
// facts in that category. Uses the external rewriter when configured,
// falling back to a deterministic fact listing when it is unavailable.
// The cache entry is dropped either way; the store stays authoritative.
func (e *Engine) RefreshSummary(ctx context.Context, userID, category string) error {
	defer e.summaryCache.Remove(summaryCacheKey(userID, category))

	facts, err := e.store.FactsByCategory(ctx, userID, category, summaryFactLimit)
	if err != nil {
		return fmt.Errorf("facts for category %s: %w", category, err)
	}
	if len(facts) == 0 {
		return nil
	}

	lines := make([]string, 0, len(facts))
	for i := range facts {
		lines = append(lines, e.factSentence(ctx, userID, &facts[i]))
	}

	content := ""
	if e.rewriter != nil {
		prior := ""
		if old, err := e.store.GetSummary(ctx, userID, category); err == nil {
			prior = old.Content
		} else if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("prior summary %s: %w", category, err)
		}
		content, err = e.rewriter.Rewrite(ctx, category, prior, lines)
		if err != nil {
			content = ""
		}
	}
	if content == "" {
		content = fallbackSummary(lines)
	}

	if err := e.store.PutSummary(ctx, userID, category, content, len(facts)); err != nil {
		return fmt.Errorf("put summary %s: %w", category, err)
	}
	return nil
}

// factSentence renders a fact as subject-predicate-object prose for the
// rewriter prompt.
func (e *Engine) factSentence(ctx context.Context, userID string, f *types.Fact) string {
	subject := f.EntityID
	if ent, err := e.store.GetEntity(ctx, userID, f.EntityID); err == nil {
		subject = ent.Name
	}
	return fmt.Sprintf("%s %s %s", subject, strings.ReplaceAll(f.Predicate, "_", " "), f.Object)
}

// fallbackSummary is the deterministic stand-in when no rewriter is
// configured or the rewriter call failed.
func fallbackSummary(lines []string) string {
	return strings.Join(lines, ". ") + "."
}
