package sqlite

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
	// confidenceIncrement is the fixed nudge applied when a fact is
	// re-mentioned with the same value.
	confidenceIncrement = 0.05

	// supersedeRetries bounds the compare-and-swap retry loop. Conflicts
	// past this budget surface as storage.ErrConflict.
	supersedeRetries = 3

	// versionChainCap guards the backward walk against corrupt chains.
	versionChainCap = 50
)

// errLostRace signals that another writer superseded the prior current fact
// between our read and our invalidate.
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

	// Reinforcement path: same value already current.
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

	// New value. Single-value predicates supersede atomically; multi-value
	// predicates accumulate.
	if types.IsSingleValuePredicate(predicate) {
		for attempt := 0; attempt < supersedeRetries; attempt++ {
			fact, err := s.supersede(ctx, userID, predicate, objectNorm, up, now)
			if errors.Is(err, errLostRace) {
				// Another writer superseded first; re-read and retry. The
				// re-mention may now be a reinforcement of the winner.
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

	fact, err := s.insertFact(ctx, s.db, userID, predicate, objectNorm, up, now, 1, "")
	if err != nil {
		return nil, false, err
	}
	return fact, true, nil
}

// reinforceFact bumps mention count and confidence on the current fact with
// the same normalized object, returning nil when no such fact exists.
func (s *Store) reinforceFact(ctx context.Context, userID, entityID, predicate, objectNorm string, now time.Time) (*types.Fact, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE facts SET
			mention_count = mention_count + 1,
			confidence = min(1.0, confidence + ?),
			last_mentioned = ?
		WHERE user_id = ? AND entity_id = ? AND predicate = ?
		  AND object_norm = ? AND is_current = 1 AND status = 'active'`,
		confidenceIncrement, now, userID, entityID, predicate, objectNorm)
	if err != nil {
		return nil, fmt.Errorf("sqlite: reinforce fact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sqlite: reinforce fact rows: %w", err)
	}
	if n == 0 {
		return nil, nil
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+factSelectColumns+`
		 FROM facts
		 WHERE user_id = ? AND entity_id = ? AND predicate = ?
		   AND object_norm = ? AND is_current = 1 AND status = 'active'`,
		userID, entityID, predicate, objectNorm)
	return scanFact(row)
}

// supersede atomically invalidates the prior current fact for the
// (entity, predicate) pair and inserts the new value as its successor.
// The invalidate is a compare-and-swap on the prior fact's id: if another
// writer got there first, errLostRace is returned and the caller retries.
func (s *Store) supersede(ctx context.Context, userID, predicate, objectNorm string, up storage.FactUpsert, now time.Time) (*types.Fact, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin supersede: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var prevID string
	var prevVersion int
	err = tx.QueryRowContext(ctx, `
		SELECT id, version FROM facts
		WHERE user_id = ? AND entity_id = ? AND predicate = ? AND is_current = 1
		LIMIT 1`,
		userID, up.EntityID, predicate).Scan(&prevID, &prevVersion)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("sqlite: read prior fact: %w", err)
	}

	newID := uuid.NewString()
	version := 1

	if prevID != "" {
		res, err := tx.ExecContext(ctx, `
			UPDATE facts SET
				is_current = 0,
				invalidated_at = ?,
				invalidation_reason = ?,
				invalidated_by = ?,
				valid_to = ?
			WHERE id = ? AND is_current = 1`,
			now, types.ReasonContradiction, newID, now, prevID)
		if err != nil {
			return nil, fmt.Errorf("sqlite: invalidate prior fact: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("sqlite: invalidate prior fact rows: %w", err)
		}
		if n != 1 {
			return nil, errLostRace
		}
		version = prevVersion + 1
	}

	fact, err := s.insertFactTx(ctx, tx, newID, userID, predicate, objectNorm, up, now, version, prevID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit supersede: %w", err)
	}
	return fact, nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
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
		return nil, fmt.Errorf("sqlite: begin correction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	newID := uuid.NewString()
	res, err := tx.ExecContext(ctx, `
		UPDATE facts SET
			is_current = 0,
			invalidated_at = ?,
			invalidation_reason = ?,
			invalidated_by = ?,
			valid_to = ?
		WHERE id = ? AND is_current = 1`,
		now, types.ReasonCorrection, newID, now, factID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: invalidate corrected fact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sqlite: invalidate corrected fact rows: %w", err)
	}
	if n != 1 {
		return nil, fmt.Errorf("correct %s: %w", factID, storage.ErrConflict)
	}

	fact, err := s.insertFactTx(ctx, tx, newID, userID, old.Predicate, objectNorm, up, now, old.Version+1, factID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit correction: %w", err)
	}
	return fact, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *Store) insertFact(ctx context.Context, ex execer, userID, predicate, objectNorm string, up storage.FactUpsert, now time.Time, version int, prevID string) (*types.Fact, error) {
	return s.insertFactTx(ctx, ex, uuid.NewString(), userID, predicate, objectNorm, up, now, version, prevID)
}

func (s *Store) insertFactTx(ctx context.Context, ex execer, id, userID, predicate, objectNorm string, up storage.FactUpsert, now time.Time, version int, prevID string) (*types.Fact, error) {
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
			version, previous_version_id, is_current, status, last_mentioned
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		fact.ID, fact.UserID, fact.EntityID, fact.Predicate, fact.Object, objectNorm,
		fact.ObjectEntityID, fact.Category, fact.Confidence, fact.MentionCount,
		fact.SourceType, fact.SourceID, fact.ValidFrom, fact.CreatedAt,
		fact.Version, fact.PreviousVersionID, fact.Status, fact.LastMentioned)
	if err != nil {
		return nil, fmt.Errorf("sqlite: insert fact: %w", err)
	}
	return fact, nil
}

// GetFact retrieves a fact by id.
func (s *Store) GetFact(ctx context.Context, userID, id string) (*types.Fact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+factSelectColumns+` FROM facts WHERE id = ? AND user_id = ?`,
		id, userID)
	return scanFact(row)
}

// CurrentFacts returns the active, current facts for an entity.
func (s *Store) CurrentFacts(ctx context.Context, userID, entityID string) ([]types.Fact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+factSelectColumns+`
		 FROM facts
		 WHERE user_id = ? AND entity_id = ? AND is_current = 1 AND status = 'active'
		 ORDER BY predicate, created_at DESC`,
		userID, entityID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: current facts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanFacts(rows)
}

// QueryAsOf returns the fact that was both true in the world and known to
// the system at asOf. World-time and system-time filters are applied
// independently; neither substitutes for the other.
func (s *Store) QueryAsOf(ctx context.Context, userID, entityID, predicate string, asOf time.Time) (*types.Fact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+factSelectColumns+`
		 FROM facts
		 WHERE user_id = ? AND entity_id = ? AND predicate = ?
		   AND status = 'active'
		   AND valid_from <= ? AND (valid_to IS NULL OR valid_to > ?)
		   AND created_at <= ? AND (invalidated_at IS NULL OR invalidated_at > ?)
		 ORDER BY created_at DESC
		 LIMIT 1`,
		userID, entityID, strings.ToLower(strings.TrimSpace(predicate)),
		asOf, asOf, asOf, asOf)
	return scanFact(row)
}

// FactsByCategory returns current active facts in a summary category,
// most recently mentioned first.
func (s *Store) FactsByCategory(ctx context.Context, userID, category string, limit int) ([]types.Fact, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+factSelectColumns+`
		 FROM facts
		 WHERE user_id = ? AND category = ? AND is_current = 1 AND status = 'active'
		 ORDER BY last_mentioned DESC
		 LIMIT ?`,
		userID, category, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: facts by category: %w", err)
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
	var isCurrent int

	err := sc.Scan(
		&f.ID, &f.UserID, &f.EntityID, &f.Predicate, &f.Object,
		&objectEntityID, &category,
		&f.Confidence, &f.MentionCount, &sourceType, &sourceID,
		&f.ValidFrom, &validTo, &f.CreatedAt, &invalidatedAt,
		&invalidatedBy, &invalidationReason,
		&f.Version, &prevID, &isCurrent, &f.Status, &f.LastMentioned,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan fact: %w", err)
	}

	f.ObjectEntityID = objectEntityID.String
	f.Category = category.String
	f.SourceType = sourceType.String
	f.SourceID = sourceID.String
	f.InvalidatedBy = invalidatedBy.String
	f.InvalidationReason = types.InvalidationReason(invalidationReason.String)
	f.PreviousVersionID = prevID.String
	f.IsCurrent = isCurrent == 1
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

func scanFact(row *sql.Row) (*types.Fact, error) {
	return scanFactFrom(row)
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
		return nil, fmt.Errorf("sqlite: fact rows: %w", err)
	}
	return facts, nil
}
