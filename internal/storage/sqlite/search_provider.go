package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/scrypster/mnema/internal/storage"
)

// Ensure *Store implements storage.SearchProvider at compile time.
var _ storage.SearchProvider = (*Store)(nil)

// KeywordSearch runs the query against both FTS5 indexes (entity names and
// summaries, fact predicates and objects) and merges the hits by rank.
// FTS5 rank values are negative (more negative == better), so ordering by
// rank ascending gives the best results first.
func (s *Store) KeywordSearch(ctx context.Context, userID, query string, limit int) ([]storage.KeywordMatch, error) {
	if limit < 1 {
		limit = 20
	}
	ftsQuery := sanitiseFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}

	var matches []storage.KeywordMatch

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.name, rank
		FROM entities_fts fts
		JOIN entities e ON e.rowid = fts.rowid
		WHERE entities_fts MATCH ? AND e.user_id = ? AND e.status = 'active'
		ORDER BY rank
		LIMIT ?`,
		ftsQuery, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: entity keyword search MATCH %q: %w", query, err)
	}
	for rows.Next() {
		var m storage.KeywordMatch
		m.Kind = "entity"
		if err := rows.Scan(&m.ID, &m.Text, &m.Rank); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("sqlite: scan entity match: %w", err)
		}
		m.EntityID = m.ID
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("sqlite: entity match rows: %w", err)
	}
	_ = rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT f.id, f.entity_id, f.predicate || ' ' || f.object, rank
		FROM facts_fts fts
		JOIN facts f ON f.rowid = fts.rowid
		WHERE facts_fts MATCH ? AND f.user_id = ?
		  AND f.is_current = 1 AND f.status = 'active'
		ORDER BY rank
		LIMIT ?`,
		ftsQuery, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: fact keyword search MATCH %q: %w", query, err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var m storage.KeywordMatch
		m.Kind = "fact"
		if err := rows.Scan(&m.ID, &m.EntityID, &m.Text, &m.Rank); err != nil {
			return nil, fmt.Errorf("sqlite: scan fact match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: fact match rows: %w", err)
	}

	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// sanitiseFTSQuery converts free-form user input into a safe FTS5 MATCH
// expression. FTS5 syntax is fragile: an unbalanced quote or stray operator
// keyword produces a syntax error, so the input is reduced to OR'd prefix
// terms with stop words removed.
func sanitiseFTSQuery(query string) string {
	replacer := strings.NewReplacer(
		`"`, ` `, `'`, ` `, `(`, ` `, `)`, ` `,
		`*`, ` `, `-`, ` `, `^`, ` `, `?`, ` `, `:`, ` `,
	)
	cleaned := replacer.Replace(query)

	words := strings.Fields(strings.ToLower(cleaned))

	var terms []string
	for _, w := range words {
		if !ftsStopWords[w] && len(w) >= 2 {
			terms = append(terms, w+"*")
		}
	}
	if len(terms) == 0 {
		return ""
	}
	return strings.Join(terms, " OR ")
}

// ftsStopWords carry no discriminative value in a keyword query.
var ftsStopWords = map[string]bool{
	"a": true, "an": true, "the": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true,
	"will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "can": true,
	"to": true, "of": true, "in": true, "on": true, "at": true,
	"by": true, "for": true, "with": true, "from": true, "as": true,
	"about": true, "into": true, "through": true, "during": true,
	"what": true, "how": true, "when": true, "where": true, "why": true,
	"who": true, "which": true,
	"this": true, "that": true, "these": true, "those": true,
	"i": true, "you": true, "he": true, "she": true, "it": true, "we": true, "they": true,
	"and": true, "or": true, "but": true, "if": true, "not": true,
	"my": true, "me": true, "our": true,
	"know": true, "tell": true,
	"s": true, "t": true,
}
