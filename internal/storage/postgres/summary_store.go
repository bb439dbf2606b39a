package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/scrypster/mnema/internal/storage"
	"github.com/scrypster/mnema/pkg/types"
)

// PutSummary replaces the active summary for (user, category) wholesale.
func (s *Store) PutSummary(ctx context.Context, userID, category, content string, factCount int) error {
	if userID == "" || strings.TrimSpace(category) == "" {
		return fmt.Errorf("%w: user id and category are required", storage.ErrInvalidInput)
	}
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO summaries (id, user_id, category, content, fact_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT(user_id, category) DO UPDATE SET
			content = excluded.content,
			fact_count = excluded.fact_count,
			updated_at = excluded.updated_at`,
		uuid.NewString(), userID, category, content, factCount, now, now)
	if err != nil {
		return fmt.Errorf("postgres: put summary %q: %w", category, err)
	}
	return nil
}

// GetSummary returns the active summary for a category.
func (s *Store) GetSummary(ctx context.Context, userID, category string) (*types.CategorySummary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, category, content, fact_count, created_at, updated_at
		FROM summaries
		WHERE user_id = $1 AND category = $2`,
		userID, category)

	var sum types.CategorySummary
	err := row.Scan(&sum.ID, &sum.UserID, &sum.Category, &sum.Content,
		&sum.FactCount, &sum.CreatedAt, &sum.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get summary: %w", err)
	}
	return &sum, nil
}

// ListSummaries returns summaries for the given categories; all categories
// when cats is empty.
func (s *Store) ListSummaries(ctx context.Context, userID string, cats []string) ([]types.CategorySummary, error) {
	query := `
		SELECT id, user_id, category, content, fact_count, created_at, updated_at
		FROM summaries
		WHERE user_id = $1`
	args := []interface{}{userID}

	if len(cats) > 0 {
		query += ` AND category = ANY($2)`
		args = append(args, pq.Array(cats))
	}
	query += " ORDER BY updated_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list summaries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var summaries []types.CategorySummary
	for rows.Next() {
		var sum types.CategorySummary
		if err := rows.Scan(&sum.ID, &sum.UserID, &sum.Category, &sum.Content,
			&sum.FactCount, &sum.CreatedAt, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan summary: %w", err)
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: summary rows: %w", err)
	}
	return summaries, nil
}
