package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/mnema/internal/storage"
	"github.com/scrypster/mnema/pkg/types"
)

const (
	confidenceIncrement = 0.05
	supersedeRetries    = 3
	versionChainCap     = 50
)

var errLostRace = errors.New("lost supersede race")

const factSelectColumns = `
	id, user_id, entity_id, predicate, object, object_entity_id, category,
	confidence, mention_count, source_type, source_id,
	valid_from, valid_to, created_at, invalidated_at,
	invalidated_by, invalidation_reason,
	version, previous_version_id, is_current, status, last_mentioned`

// UpsertFact records one fact write. See storage.FactStore for semantics.
func (s *Store) UpsertFact(ctx context.Context, userID string, up storage.FactUpsert) (*types.Fact, bool, error) {
	if userID == "" || up.EntityID == "" || strings.TrimSpace(up.Predicate) == "" || strings.TrimSpace(up.Object) == "" {
		return nil, false, fmt.Errorf("%w: user, entity, predicate, and object are required", storage.ErrInvalidInput)
	}

	now := time.Now().UTC()
	predicate := strings.ToLower(strings.TrimSpace(up.Predicate))
	objectNorm := types.NormalizeObject(up.Object)

	reinforced, err := s.reinforceFact(ctx, userID, up.EntityID, predicate, objectNorm, now)
	if err != nil {
		return nil, false, err
	}
	if reinforced != nil {
		return reinforced, false, nil
	}

	if up.ValidFrom.IsZero() {
		up.ValidFrom = now
	}

	if types.IsSingleValuePredicate(predicate) {
		for attempt := 0; attempt < supersedeRetries; attempt++ {
			fact, err := s.supersede(ctx, userID, predicate, objectNorm, up, now)
			if errors.Is(err, errLostRace) {
				time.Sleep(time.Duration(attempt+1) * 25 * time.Millisecond)
				reinforced, rerr := s.reinforceFact(ctx, userID, up.EntityID, predicate, objectNorm, now)
				if rerr != nil {
					return nil, false, rerr
				}
				if reinforced != nil {
					return reinforced, false, nil
				}
				continue
			}
			if err != nil {
				return nil, false, err
			}
			return fact, true, nil
		}
		return nil, false, fmt.Errorf("supersede %s/%s: %w", up.EntityID, predicate, storage.ErrConflict)
	}

	fact, err := s.insertFact(ctx, s.db, uuid.NewString(), userID, predicate, objectNorm, up, now, 1, "")
	if err != nil {
		return nil, false, err
	}
	return fact, true, nil
}

func (s *Store) reinforceFact(ctx context.Context, userID, entityID, predicate, objectNorm string, now time.Time) (*types.Fact, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE facts SET
			mention_count = mention_count + 1,
			confidence = LEAST(1.0, confidence + $1),
			last_mentioned = $2
		WHERE user_id = $3 AND entity_id = $4 AND predicate = $5
		  AND object_norm = $6 AND is_current AND status = 'active'`,
		confidenceIncrement, now, userID, entityID, predicate, objectNorm)
	if err != nil {
		return nil, fmt.Errorf("postgres: reinforce fact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("postgres: reinforce fact rows: %w", err)
	}
	if n == 0 {
		return nil, nil
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+factSelectColumns+`
		 FROM facts
		 WHERE user_id = $1 AND entity_id = $2 AND predicate = $3
		   AND object_norm = $4 AND is_current AND status = 'active'`,
		userID, entityID, predicate, objectNorm)
	return scanFactFrom(row)
}

// supersede atomically invalidates the prior current fact for the
// (entity, predicate) pair and inserts the new value as its successor.
// The invalidate is a compare-and-swap on the prior fact's id. When no
// prior fact exists yet, two first writers can both take the insert-only
// path; idx_facts_current_single rejects the second commit and the
// unique violation is surfaced as a lost race so the caller retries.
func (s *Store) supersede(ctx context.Context, userID, predicate, objectNorm string, up storage.FactUpsert, now time.Time) (*types.Fact, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin supersede: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var prevID string
	var prevVersion int
	err = tx.QueryRowContext(ctx, `
		SELECT id, version FROM facts
		WHERE user_id = $1 AND entity_id = $2 AND predicate = $3 AND is_current
		LIMIT 1`,
		userID, up.EntityID, predicate).Scan(&prevID, &prevVersion)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("postgres: read prior fact: %w", err)
	}

	newID := uuid.NewString()
	version := 1

	if prevID != "" {
		res, err := tx.ExecContext(ctx, `
			UPDATE facts SET
				is_current = FALSE,
				invalidated_at = $1,
				invalidation_reason = $2,
				invalidated_by = $3,
				valid_to = $4
			WHERE id = $5 AND is_current`,
			now, types.ReasonContradiction, newID, now, prevID)
		if err != nil {
			return nil, fmt.Errorf("postgres: invalidate prior fact: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("postgres: invalidate prior fact rows: %w", err)
		}
		if n != 1 {
			return nil, errLostRace
		}
		version = prevVersion + 1
	}

	fact, err := s.insertFact(ctx, tx, newID, userID, predicate, objectNorm, up, now, version, prevID)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key value") {
			return nil, errLostRace
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		if strings.Contains(err.Error(), "duplicate key value") {
			return nil, errLostRace
		}
		return nil, fmt.Errorf("postgres: commit supersede: %w", err)
	}
	return fact, nil
}

// CorrectFact replaces a current fact with an explicitly corrected value.
// Unlike a contradiction supersede the target is addressed by id, so it can
// also correct one value of a multi-value predicate.
func (s *Store) CorrectFact(ctx context.Context, userID, factID string, up storage.FactUpsert) (*types.Fact, error) {
	if userID == "" || factID == "" || strings.TrimSpace(up.Object) == "" {
		return nil, fmt.Errorf("%w: user, fact id, and object are required", storage.ErrInvalidInput)
	}

	old, err := s.GetFact(ctx, userID, factID)
	if err != nil {
		return nil, err
	}
	if !old.IsCurrent || old.Status != types.FactActive {
		return nil, fmt.Errorf("%w: only a current active fact can be corrected", storage.ErrInvalidInput)
	}

	now := time.Now().UTC()
	up.EntityID = old.EntityID
	up.Predicate = old.Predicate
	if up.Category == "" {
		up.Category = old.Category
	}
	if up.Confidence == 0 {
		up.Confidence = old.Confidence
	}
	if up.ValidFrom.IsZero() {
		up.ValidFrom = now
	}
	objectNorm := types.NormalizeObject(up.Object)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin correction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	newID := uuid.NewString()
	res, err := tx.ExecContext(ctx, `
		UPDATE facts SET
			is_current = FALSE,
			invalidated_at = $1,
			invalidation_reason = $2,
			invalidated_by = $3,
			valid_to = $4
		WHERE id = $5 AND is_current`,
		now, types.ReasonCorrection, newID, now, factID)
	if err != nil {
		return nil, fmt.Errorf("postgres: invalidate corrected fact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("postgres: invalidate corrected fact rows: %w", err)
	}
	if n != 1 {
		return nil, fmt.Errorf("correct %s: %w", factID, storage.ErrConflict)
	}

	fact, err := s.insertFact(ctx, tx, newID, userID, old.Predicate, objectNorm, up, now, old.Version+1, factID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("postgres: commit correction: %w", err)
	}
	return fact, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *Store) insertFact(ctx context.Context, ex execer, id, userID, predicate, objectNorm string, up storage.FactUpsert, now time.Time, version int, prevID string) (*types.Fact, error) {
	fact := &types.Fact{
		ID:                id,
		UserID:            userID,
		EntityID:          up.EntityID,
		Predicate:         predicate,
		Object:            strings.TrimSpace(up.Object),
		ObjectEntityID:    up.ObjectEntityID,
		Category:          up.Category,
		Confidence:        capScore(up.Confidence),
		MentionCount:      1,
		SourceType:        up.SourceType,
		SourceID:          up.SourceID,
		ValidFrom:         up.ValidFrom,
		CreatedAt:         now,
		Version:           version,
		PreviousVersionID: prevID,
		IsCurrent:         true,
		Status:            types.FactActive,
		LastMentioned:     now,
	}

	_, err := ex.ExecContext(ctx, `
		INSERT INTO facts (
			id, user_id, entity_id, predicate, object, object_norm,
			object_entity_id, category, confidence, mention_count,
			source_type, source_id, valid_from, created_at,
			version, previous_version_id, is_current, single_value, status, last_mentioned
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, TRUE, $17, $18, $19)`,
		fact.ID, fact.UserID, fact.EntityID, fact.Predicate, fact.Object, objectNorm,
		fact.ObjectEntityID, fact.Category, fact.Confidence, fact.MentionCount,
		fact.SourceType, fact.SourceID, fact.ValidFrom, fact.CreatedAt,
		fact.Version, fact.PreviousVersionID, types.IsSingleValuePredicate(fact.Predicate),
		fact.Status, fact.LastMentioned)
	if err != nil {
		return nil, fmt.Errorf("postgres: insert fact: %w", err)
	}
	return fact, nil
}

// GetFact retrieves a fact by id.
func (s *Store) GetFact(ctx context.Context, userID, id string) (*types.Fact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+factSelectColumns+` FROM facts WHERE id = $1 AND user_id = $2`,
		id, userID)
	return scanFactFrom(row)
}

// CurrentFacts returns the active, current facts for an entity.
func (s *Store) CurrentFacts(ctx context.Context, userID, entityID string) ([]types.Fact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+factSelectColumns+`
		 FROM facts
		 WHERE user_id = $1 AND entity_id = $2 AND is_current AND status = 'active'
		 ORDER BY predicate, created_at DESC`,
		userID, entityID)
	if err != nil {
		return nil, fmt.Errorf("postgres: current facts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanFacts(rows)
}

// QueryAsOf returns the fact that was both true in the world and known to
// the system at asOf. The two time axes are independent filters.
func (s *Store) QueryAsOf(ctx context.Context, userID, entityID, predicate string, asOf time.Time) (*types.Fact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+factSelectColumns+`
		 FROM facts
		 WHERE user_id = $1 AND entity_id = $2 AND predicate = $3
		   AND status = 'active'
		   AND valid_from <= $4 AND (valid_to IS NULL OR valid_to > $4)
		   AND created_at <= $4 AND (invalidated_at IS NULL OR invalidated_at > $4)
		 ORDER BY created_at DESC
		 LIMIT 1`,
		userID, entityID, strings.ToLower(strings.TrimSpace(predicate)), asOf)
	return scanFactFrom(row)
}

// FactsByCategory returns current active facts in a summary category.
func (s *Store) FactsByCategory(ctx context.Context, userID, category string, limit int) ([]types.Fact, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+factSelectColumns+`
		 FROM facts
		 WHERE user_id = $1 AND category = $2 AND is_current AND status = 'active'
		 ORDER BY last_mentioned DESC
		 LIMIT $3`,
		userID, category, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: facts by category: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanFacts(rows)
}

// VersionChain returns the version history ending at factID, oldest first.
func (s *Store) VersionChain(ctx context.Context, userID, factID string) ([]types.Fact, error) {
	var chain []types.Fact
	id := factID
	for i := 0; i < versionChainCap && id != ""; i++ {
		fact, err := s.GetFact(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		chain = append([]types.Fact{*fact}, chain...)
		id = fact.PreviousVersionID
	}
	return chain, nil
}

func scanFactFrom(sc rowScanner) (*types.Fact, error) {
	var f types.Fact
	var objectEntityID, category, sourceType, sourceID sql.NullString
	var invalidatedBy, invalidationReason, prevID sql.NullString
	var validTo, invalidatedAt sql.NullTime

	err := sc.Scan(
		&f.ID, &f.UserID, &f.EntityID, &f.Predicate, &f.Object,
		&objectEntityID, &category,
		&f.Confidence, &f.MentionCount, &sourceType, &sourceID,
		&f.ValidFrom, &validTo, &f.CreatedAt, &invalidatedAt,
		&invalidatedBy, &invalidationReason,
		&f.Version, &prevID, &f.IsCurrent, &f.Status, &f.LastMentioned,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fact: %w", err)
	}

	f.ObjectEntityID = objectEntityID.String
	f.Category = category.String
	f.SourceType = sourceType.String
	f.SourceID = sourceID.String
	f.InvalidatedBy = invalidatedBy.String
	f.InvalidationReason = types.InvalidationReason(invalidationReason.String)
	f.PreviousVersionID = prevID.String
	if validTo.Valid {
		t := validTo.Time
		f.ValidTo = &t
	}
	if invalidatedAt.Valid {
		t := invalidatedAt.Time
		f.InvalidatedAt = &t
	}
	return &f, nil
}

func scanFacts(rows *sql.Rows) ([]types.Fact, error) {
	var facts []types.Fact
	for rows.Next() {
		f, err := scanFactFrom(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: fact rows: %w", err)
	}
	return facts, nil
}
