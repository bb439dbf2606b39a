package postgres

import (
	"context"
	"fmt"
	"sort"

	"github.com/scrypster/mnema/internal/storage"
)

// Ensure *Store implements storage.SearchProvider at compile time.
var _ storage.SearchProvider = (*Store)(nil)

// KeywordSearch runs the query against the tsvector indexes over entity
// names/summaries and fact predicates/objects, merged by ts_rank.
// plainto_tsquery tolerates arbitrary user input, so no sanitisation pass
// is needed here.
func (s *Store) KeywordSearch(ctx context.Context, userID, query string, limit int) ([]storage.KeywordMatch, error) {
	if limit < 1 {
		limit = 20
	}

	var matches []storage.KeywordMatch

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, ts_rank(search_tsv, plainto_tsquery('english', $1)) AS rank
		FROM entities
		WHERE search_tsv @@ plainto_tsquery('english', $1)
		  AND user_id = $2 AND status = 'active'
		ORDER BY rank DESC
		LIMIT $3`,
		query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: entity keyword search %q: %w", query, err)
	}
	for rows.Next() {
		var m storage.KeywordMatch
		var rank float64
		m.Kind = "entity"
		if err := rows.Scan(&m.ID, &m.Text, &rank); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("postgres: scan entity match: %w", err)
		}
		// ts_rank is higher-is-better; the interface contract is
		// lower-is-better, matching FTS5.
		m.Rank = -rank
		m.EntityID = m.ID
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("postgres: entity match rows: %w", err)
	}
	_ = rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT id, entity_id, predicate || ' ' || object,
		       ts_rank(search_tsv, plainto_tsquery('english', $1)) AS rank
		FROM facts
		WHERE search_tsv @@ plainto_tsquery('english', $1)
		  AND user_id = $2 AND is_current AND status = 'active'
		ORDER BY rank DESC
		LIMIT $3`,
		query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: fact keyword search %q: %w", query, err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var m storage.KeywordMatch
		var rank float64
		m.Kind = "fact"
		if err := rows.Scan(&m.ID, &m.EntityID, &m.Text, &rank); err != nil {
			return nil, fmt.Errorf("postgres: scan fact match: %w", err)
		}
		m.Rank = -rank
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: fact match rows: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Rank < matches[j].Rank })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}
