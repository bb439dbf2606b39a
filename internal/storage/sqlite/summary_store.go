package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/mnema/internal/storage"
	"github.com/scrypster/mnema/pkg/types"
)

// PutSummary replaces the active summary for (user, category) wholesale.
// Prior content is superseded, not retained — incremental summary merging
// is deliberately unsupported.
func (s *Store) PutSummary(ctx context.Context, userID, category, content string, factCount int) error {
	if userID == "" || strings.TrimSpace(category) == "" {
		return fmt.Errorf("%w: user id and category are required", storage.ErrInvalidInput)
	}
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO summaries (id, user_id, category, content, fact_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, category) DO UPDATE SET
			content = excluded.content,
			fact_count = excluded.fact_count,
			updated_at = excluded.updated_at`,
		uuid.NewString(), userID, category, content, factCount, now, now)
	if err != nil {
		return fmt.Errorf("sqlite: put summary %q: %w", category, err)
	}
	return nil
}

// GetSummary returns the active summary for a category.
func (s *Store) GetSummary(ctx context.Context, userID, category string) (*types.CategorySummary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, category, content, fact_count, created_at, updated_at
		FROM summaries
		WHERE user_id = ? AND category = ?`,
		userID, category)

	var sum types.CategorySummary
	err := row.Scan(&sum.ID, &sum.UserID, &sum.Category, &sum.Content,
		&sum.FactCount, &sum.CreatedAt, &sum.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get summary: %w", err)
	}
	return &sum, nil
}

// ListSummaries returns summaries for the given categories; all categories
// when cats is empty.
func (s *Store) ListSummaries(ctx context.Context, userID string, cats []string) ([]types.CategorySummary, error) {
	query := `
		SELECT id, user_id, category, content, fact_count, created_at, updated_at
		FROM summaries
		WHERE user_id = ?`
	args := []interface{}{userID}

	if len(cats) > 0 {
		placeholders := strings.Repeat("?,", len(cats))
		query += " AND category IN (" + placeholders[:len(placeholders)-1] + ")"
		for _, c := range cats {
			args = append(args, c)
		}
	}
	query += " ORDER BY updated_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list summaries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var summaries []types.CategorySummary
	for rows.Next() {
		var sum types.CategorySummary
		if err := rows.Scan(&sum.ID, &sum.UserID, &sum.Category, &sum.Content,
			&sum.FactCount, &sum.CreatedAt, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan summary: %w", err)
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: summary rows: %w", err)
	}
	return summaries, nil
}
