package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/scrypster/mnema/internal/storage"
	"github.com/scrypster/mnema/pkg/types"
)

// CascadeInvalidate marks every fact, entity, and behavior derived from
// sourceID inactive. Version chains and is_current flags are deliberately
// untouched: a later restore must recover exactly the prior state.
func (s *Store) CascadeInvalidate(ctx context.Context, userID, sourceID string) (storage.CascadeResult, error) {
	var result storage.CascadeResult
	if userID == "" || sourceID == "" {
		return result, fmt.Errorf("%w: user id and source id are required", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("postgres: begin cascade: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()

	// Facts already invalidated for a semantic reason (contradiction,
	// correction) keep it; only never-invalidated rows get source_deleted.
	res, err := tx.ExecContext(ctx, `
		UPDATE facts SET
			status = 'inactive',
			invalidation_reason = CASE
				WHEN invalidation_reason IS NULL OR invalidation_reason = '' THEN $1
				ELSE invalidation_reason
			END
		WHERE user_id = $2 AND source_id = $3 AND status = 'active'`,
		types.ReasonSourceDeleted, userID, sourceID)
	if err != nil {
		return result, fmt.Errorf("postgres: cascade facts: %w", err)
	}
	n, _ := res.RowsAffected()
	result.Facts = int(n)

	res, err = tx.ExecContext(ctx, `
		UPDATE entities SET status = 'inactive', updated_at = $1
		WHERE user_id = $2 AND source_id = $3 AND status = 'active'`,
		now, userID, sourceID)
	if err != nil {
		return result, fmt.Errorf("postgres: cascade entities: %w", err)
	}
	n, _ = res.RowsAffected()
	result.Entities = int(n)

	res, err = tx.ExecContext(ctx, `
		UPDATE behaviors SET status = 'inactive'
		WHERE user_id = $1 AND source_id = $2 AND status = 'active'`,
		userID, sourceID)
	if err != nil {
		return result, fmt.Errorf("postgres: cascade behaviors: %w", err)
	}
	n, _ = res.RowsAffected()
	result.Behaviors = int(n)

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("postgres: commit cascade: %w", err)
	}
	return result, nil
}

// CascadeRestore reverses CascadeInvalidate for the same source. Only the
// source_deleted stamp is cleared; facts that carried a contradiction or
// correction reason before the cascade keep it untouched.
func (s *Store) CascadeRestore(ctx context.Context, userID, sourceID string) (storage.CascadeResult, error) {
	var result storage.CascadeResult
	if userID == "" || sourceID == "" {
		return result, fmt.Errorf("%w: user id and source id are required", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("postgres: begin restore: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()

	res, err := tx.ExecContext(ctx, `
		UPDATE facts SET
			status = 'active',
			invalidation_reason = CASE
				WHEN invalidation_reason = $1 THEN ''
				ELSE invalidation_reason
			END
		WHERE user_id = $2 AND source_id = $3 AND status = 'inactive'`,
		types.ReasonSourceDeleted, userID, sourceID)
	if err != nil {
		return result, fmt.Errorf("postgres: restore facts: %w", err)
	}
	n, _ := res.RowsAffected()
	result.Facts = int(n)

	res, err = tx.ExecContext(ctx, `
		UPDATE entities SET status = 'active', updated_at = $1
		WHERE user_id = $2 AND source_id = $3 AND status = 'inactive'`,
		now, userID, sourceID)
	if err != nil {
		return result, fmt.Errorf("postgres: restore entities: %w", err)
	}
	n, _ = res.RowsAffected()
	result.Entities = int(n)

	res, err = tx.ExecContext(ctx, `
		UPDATE behaviors SET status = 'active'
		WHERE user_id = $1 AND source_id = $2 AND status = 'inactive'`,
		userID, sourceID)
	if err != nil {
		return result, fmt.Errorf("postgres: restore behaviors: %w", err)
	}
	n, _ = res.RowsAffected()
	result.Behaviors = int(n)

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("postgres: commit restore: %w", err)
	}
	return result, nil
}
