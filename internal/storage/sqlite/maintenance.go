package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/mnema/internal/storage"
	"github.com/scrypster/mnema/pkg/types"
)

// DecayImportance applies each tier's retention multiplier to entities whose
// last mention is older than the tier threshold, then archives entities that
// fell below floor. last_decayed_at makes the multiplier fire at most once
// per threshold window, so re-running the job without an intervening mention
// is a no-op rather than a second round of decay. A mention between runs
// resets last_mentioned and exempts the entity anyway.
func (s *Store) DecayImportance(ctx context.Context, tiers []storage.DecayTier, floor float64, now time.Time) (int, error) {
	total := 0

	for _, tier := range tiers {
		if tier.Threshold == 0 {
			// Tier never decays (e.g. critical).
			continue
		}
		cutoff := now.Add(-tier.Threshold)
		res, err := s.db.ExecContext(ctx, `
			UPDATE entities SET
				importance = importance * ?,
				last_decayed_at = ?,
				updated_at = ?
			WHERE status = 'active' AND importance_tier = ? AND last_mentioned < ?
			  AND (last_decayed_at IS NULL OR last_decayed_at < ?)`,
			tier.Retention, now, now, tier.Tier, cutoff, cutoff)
		if err != nil {
			return total, fmt.Errorf("sqlite: decay tier %s: %w", tier.Tier, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("sqlite: decay tier %s rows: %w", tier.Tier, err)
		}
		total += int(n)
	}

	// Entities that decayed below the floor leave the active set.
	res, err := s.db.ExecContext(ctx, `
		UPDATE entities SET status = 'archived', updated_at = ?
		WHERE status = 'active' AND importance < ?`,
		now, floor)
	if err != nil {
		return total, fmt.Errorf("sqlite: archive below floor: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return total, fmt.Errorf("sqlite: archive below floor rows: %w", err)
	}
	total += int(n)

	return total, nil
}

// ArchiveStale archives low/trivial entities unaccessed for the window.
func (s *Store) ArchiveStale(ctx context.Context, window time.Duration, now time.Time) (int, error) {
	cutoff := now.Add(-window)
	res, err := s.db.ExecContext(ctx, `
		UPDATE entities SET status = 'archived', updated_at = ?
		WHERE status = 'active'
		  AND importance_tier IN (?, ?)
		  AND last_mentioned < ?
		  AND (last_accessed_at IS NULL OR last_accessed_at < ?)`,
		now, types.TierTrivial, types.TierLow, cutoff, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sqlite: archive stale: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: archive stale rows: %w", err)
	}
	return int(n), nil
}

// ArchiveExpired archives entities whose expires_at is past due.
func (s *Store) ArchiveExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE entities SET status = 'archived', updated_at = ?
		WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at < ?`,
		now, now)
	if err != nil {
		return 0, fmt.Errorf("sqlite: archive expired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: archive expired rows: %w", err)
	}
	return int(n), nil
}

// FlagMergeCandidates records consolidation-scan output. Re-flagging an
// already-flagged pair refreshes the similarity score, so repeated scans
// stay idempotent.
func (s *Store) FlagMergeCandidates(ctx context.Context, userID string, pairs []types.MergeCandidate) (int, error) {
	count := 0
	for _, p := range pairs {
		a, b := types.OrderPair(p.EntityA, p.EntityB)
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO merge_candidates (id, user_id, entity_a, entity_b, similarity, flagged_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id, entity_a, entity_b) DO UPDATE SET
				similarity = excluded.similarity,
				flagged_at = excluded.flagged_at`,
			uuid.NewString(), userID, a, b, p.Similarity, time.Now().UTC())
		if err != nil {
			return count, fmt.Errorf("sqlite: flag merge candidate %s-%s: %w", a, b, err)
		}
		count++
	}
	return count, nil
}
