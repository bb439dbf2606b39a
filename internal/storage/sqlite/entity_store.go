package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/mnema/internal/storage"
	"github.com/scrypster/mnema/pkg/types"
)

const (
	// importanceIncrement is the fixed upward nudge applied per mention.
	importanceIncrement = 0.05

	// defaultImportance seeds entities when extraction confidence is absent.
	defaultImportance = 0.5
)

// tierFor maps an importance score onto a decay tier.
func tierFor(importance float64) string {
	switch {
	case importance >= 0.9:
		return types.TierCritical
	case importance >= 0.7:
		return types.TierHigh
	case importance >= 0.4:
		return types.TierMedium
	case importance >= 0.2:
		return types.TierLow
	default:
		return types.TierTrivial
	}
}

const entitySelectColumns = `
	id, user_id, name, normalized_name, type, subtype, summary,
	mention_count, importance, sentiment_avg, recent_contexts,
	first_mentioned, last_mentioned, last_accessed_at,
	status, importance_tier, embedding_id, source_id, privacy, expires_at,
	created_at, updated_at`

// UpsertMention records one mention of a named entity, deduplicating by
// case-insensitive normalized name within the tenant.
func (s *Store) UpsertMention(ctx context.Context, userID string, up storage.EntityUpsert) (*types.Entity, bool, error) {
	if userID == "" || strings.TrimSpace(up.Name) == "" {
		return nil, false, fmt.Errorf("%w: user id and entity name are required", storage.ErrInvalidInput)
	}

	norm := types.NormalizeName(up.Name)
	now := time.Now().UTC()

	existing, err := s.getByNormalizedName(ctx, userID, norm)
	if err != nil && err != storage.ErrNotFound {
		return nil, false, err
	}

	if existing != nil {
		existing.MentionCount++
		existing.Importance = capScore(existing.Importance + importanceIncrement)
		existing.ImportanceTier = tierFor(existing.Importance)
		// Running sentiment average over all mentions.
		existing.SentimentAvg += (up.Sentiment - existing.SentimentAvg) / float64(existing.MentionCount)
		existing.LastMentioned = now
		existing.UpdatedAt = now
		existing.PushContext(up.Context)

		contextsJSON, err := json.Marshal(existing.RecentContexts)
		if err != nil {
			return nil, false, fmt.Errorf("sqlite: marshal contexts: %w", err)
		}

		_, err = s.db.ExecContext(ctx, `
			UPDATE entities SET
				mention_count = ?, importance = ?, importance_tier = ?,
				sentiment_avg = ?, recent_contexts = ?,
				last_mentioned = ?, updated_at = ?
			WHERE id = ? AND user_id = ?`,
			existing.MentionCount, existing.Importance, existing.ImportanceTier,
			existing.SentimentAvg, string(contextsJSON),
			now, now, existing.ID, userID)
		if err != nil {
			return nil, false, fmt.Errorf("sqlite: update entity mention: %w", err)
		}
		return existing, false, nil
	}

	importance := up.Confidence
	if importance <= 0 {
		importance = defaultImportance
	}
	importance = capScore(importance)

	entity := &types.Entity{
		ID:             uuid.NewString(),
		UserID:         userID,
		Name:           strings.TrimSpace(up.Name),
		NormalizedName: norm,
		Type:           up.Type,
		Subtype:        up.Subtype,
		MentionCount:   1,
		Importance:     importance,
		SentimentAvg:   up.Sentiment,
		FirstMentioned: now,
		LastMentioned:  now,
		Status:         types.EntityActive,
		ImportanceTier: tierFor(importance),
		SourceID:       up.SourceID,
		Privacy:        types.PrivacyStandard,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	entity.PushContext(up.Context)

	contextsJSON, err := json.Marshal(entity.RecentContexts)
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: marshal contexts: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (
			id, user_id, name, normalized_name, type, subtype,
			mention_count, importance, importance_tier, sentiment_avg,
			recent_contexts, first_mentioned, last_mentioned,
			status, source_id, privacy, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entity.ID, entity.UserID, entity.Name, entity.NormalizedName,
		entity.Type, entity.Subtype,
		entity.MentionCount, entity.Importance, entity.ImportanceTier,
		entity.SentimentAvg, string(contextsJSON),
		entity.FirstMentioned, entity.LastMentioned,
		entity.Status, entity.SourceID, entity.Privacy,
		entity.CreatedAt, entity.UpdatedAt)
	if err != nil {
		// A concurrent writer may have created the same name between our
		// lookup and insert; the partial unique index rejects the duplicate.
		// Re-read and reinforce instead.
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return s.UpsertMention(ctx, userID, up)
		}
		return nil, false, fmt.Errorf("sqlite: insert entity: %w", err)
	}

	return entity, true, nil
}

// GetEntity retrieves an entity by id.
func (s *Store) GetEntity(ctx context.Context, userID, id string) (*types.Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entitySelectColumns+` FROM entities WHERE id = ? AND user_id = ?`,
		id, userID)
	return scanEntity(row)
}

// GetEntityByName looks up an active entity by normalized name.
func (s *Store) GetEntityByName(ctx context.Context, userID, name string) (*types.Entity, error) {
	return s.getByNormalizedName(ctx, userID, types.NormalizeName(name))
}

func (s *Store) getByNormalizedName(ctx context.Context, userID, norm string) (*types.Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entitySelectColumns+`
		 FROM entities
		 WHERE user_id = ? AND normalized_name = ? AND status = 'active'`,
		userID, norm)
	return scanEntity(row)
}

// ListEntities returns entities ordered by importance, then recency.
func (s *Store) ListEntities(ctx context.Context, userID string, q storage.EntityQuery) ([]types.Entity, error) {
	q.Normalize()

	query := `SELECT ` + entitySelectColumns + `
		FROM entities
		WHERE user_id = ? AND status = ?`
	args := []interface{}{userID, q.Status}

	if len(q.NameTokens) > 0 {
		var clauses []string
		for _, tok := range q.NameTokens {
			clauses = append(clauses, "normalized_name LIKE ?")
			args = append(args, "%"+types.NormalizeName(tok)+"%")
		}
		query += " AND (" + strings.Join(clauses, " OR ") + ")"
	}

	query += " ORDER BY importance DESC, last_mentioned DESC LIMIT ?"
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanEntities(rows)
}

// TouchAccessed updates last_accessed_at for the given entity ids.
func (s *Store) TouchAccessed(ctx context.Context, userID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().UTC()
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := []interface{}{now, userID}
	for _, id := range ids {
		args = append(args, id)
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE entities SET last_accessed_at = ? WHERE user_id = ? AND id IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return fmt.Errorf("sqlite: touch accessed: %w", err)
	}
	return nil
}

// SetEntityStatus transitions an entity's lifecycle status.
func (s *Store) SetEntityStatus(ctx context.Context, userID, id string, status types.EntityStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE entities SET status = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		status, time.Now().UTC(), id, userID)
	if err != nil {
		return fmt.Errorf("sqlite: set entity status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: set entity status rows: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// capScore clamps a score to [0, 1].
func capScore(v float64) float64 {
	if v > 1.0 {
		return 1.0
	}
	if v < 0.0 {
		return 0.0
	}
	return v
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan logic.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntityFrom(sc rowScanner) (*types.Entity, error) {
	var e types.Entity
	var subtype, summary, contextsJSON, embeddingID, sourceID sql.NullString
	var lastAccessed, expiresAt sql.NullTime
	var privacy sql.NullString

	err := sc.Scan(
		&e.ID, &e.UserID, &e.Name, &e.NormalizedName, &e.Type, &subtype, &summary,
		&e.MentionCount, &e.Importance, &e.SentimentAvg, &contextsJSON,
		&e.FirstMentioned, &e.LastMentioned, &lastAccessed,
		&e.Status, &e.ImportanceTier, &embeddingID, &sourceID, &privacy, &expiresAt,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan entity: %w", err)
	}

	e.Subtype = subtype.String
	e.Summary = summary.String
	e.EmbeddingID = embeddingID.String
	e.SourceID = sourceID.String
	if privacy.Valid {
		e.Privacy = types.PrivacyLevel(privacy.String)
	}
	if lastAccessed.Valid {
		t := lastAccessed.Time
		e.LastAccessedAt = &t
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		e.ExpiresAt = &t
	}
	if contextsJSON.Valid && contextsJSON.String != "" {
		if err := json.Unmarshal([]byte(contextsJSON.String), &e.RecentContexts); err != nil {
			return nil, fmt.Errorf("sqlite: unmarshal contexts: %w", err)
		}
	}

	return &e, nil
}

func scanEntity(row *sql.Row) (*types.Entity, error) {
	return scanEntityFrom(row)
}

func scanEntities(rows *sql.Rows) ([]types.Entity, error) {
	var entities []types.Entity
	for rows.Next() {
		e, err := scanEntityFrom(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: entity rows: %w", err)
	}
	return entities, nil
}
