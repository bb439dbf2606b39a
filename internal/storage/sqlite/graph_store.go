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

// behaviorConfidenceIncrement is the fixed nudge applied on reinforcement.
const behaviorConfidenceIncrement = 0.1

// Link upserts the co-occurrence edge for an unordered entity pair.
func (s *Store) Link(ctx context.Context, userID, entityA, entityB string) (bool, error) {
	if entityA == "" || entityB == "" || entityA == entityB {
		return false, fmt.Errorf("%w: link requires two distinct entity ids", storage.ErrInvalidInput)
	}
	a, b := types.OrderPair(entityA, entityB)
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO links (id, user_id, entity_a, entity_b, strength, last_seen, created_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(user_id, entity_a, entity_b) DO UPDATE SET
			strength = strength + 1,
			last_seen = excluded.last_seen`,
		uuid.NewString(), userID, a, b, now, now)
	if err != nil {
		return false, fmt.Errorf("sqlite: link %s-%s: %w", a, b, err)
	}

	// SQLite reports 1 affected row for both insert and update paths, so
	// detect creation via the strength counter instead.
	_ = res
	var strength int
	err = s.db.QueryRowContext(ctx,
		`SELECT strength FROM links WHERE user_id = ? AND entity_a = ? AND entity_b = ?`,
		userID, a, b).Scan(&strength)
	if err != nil {
		return false, fmt.Errorf("sqlite: read link strength: %w", err)
	}
	return strength == 1, nil
}

// Neighbors returns edges touching entityID, strongest first.
func (s *Store) Neighbors(ctx context.Context, userID, entityID string, limit int) ([]types.RelationshipEdge, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, entity_a, entity_b, strength, last_seen, created_at
		FROM links
		WHERE user_id = ? AND (entity_a = ? OR entity_b = ?)
		ORDER BY strength DESC, last_seen DESC
		LIMIT ?`,
		userID, entityID, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: neighbors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var edges []types.RelationshipEdge
	for rows.Next() {
		var e types.RelationshipEdge
		if err := rows.Scan(&e.ID, &e.UserID, &e.EntityA, &e.EntityB, &e.Strength, &e.LastSeen, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan link: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: link rows: %w", err)
	}
	return edges, nil
}

// ReinforceBehavior upserts a behavior keyed on (user, predicate, target, topic).
func (s *Store) ReinforceBehavior(ctx context.Context, userID string, up storage.BehaviorUpsert) (*types.Behavior, bool, error) {
	if strings.TrimSpace(up.Predicate) == "" {
		return nil, false, fmt.Errorf("%w: behavior predicate is required", storage.ErrInvalidInput)
	}
	now := time.Now().UTC()
	predicate := strings.ToLower(strings.TrimSpace(up.Predicate))

	id := uuid.NewString()
	confidence := capScore(up.Confidence)
	if confidence == 0 {
		confidence = 0.5
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO behaviors (
			id, user_id, predicate, target_entity_id, topic,
			evidence, confidence, reinforcement_count, last_reinforced,
			source_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT(user_id, predicate, target_entity_id, topic) DO UPDATE SET
			confidence = min(1.0, confidence + ?),
			reinforcement_count = reinforcement_count + 1,
			evidence = excluded.evidence,
			last_reinforced = excluded.last_reinforced`,
		id, userID, predicate, up.TargetEntityID, up.Topic,
		up.Evidence, confidence, now, up.SourceID, now,
		behaviorConfidenceIncrement)
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: reinforce behavior: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, predicate, target_entity_id, topic,
		       evidence, confidence, reinforcement_count, last_reinforced,
		       status, created_at
		FROM behaviors
		WHERE user_id = ? AND predicate = ? AND target_entity_id = ? AND topic = ?`,
		userID, predicate, up.TargetEntityID, up.Topic)

	behavior, err := scanBehavior(row)
	if err != nil {
		return nil, false, err
	}
	return behavior, behavior.ReinforcementCount == 1, nil
}

// ListBehaviors returns active behaviors, most reinforced first.
func (s *Store) ListBehaviors(ctx context.Context, userID string, limit int) ([]types.Behavior, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, predicate, target_entity_id, topic,
		       evidence, confidence, reinforcement_count, last_reinforced,
		       status, created_at
		FROM behaviors
		WHERE user_id = ? AND status = 'active'
		ORDER BY reinforcement_count DESC, last_reinforced DESC
		LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list behaviors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var behaviors []types.Behavior
	for rows.Next() {
		b, err := scanBehavior(rows)
		if err != nil {
			return nil, err
		}
		behaviors = append(behaviors, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: behavior rows: %w", err)
	}
	return behaviors, nil
}

func scanBehavior(sc rowScanner) (*types.Behavior, error) {
	var b types.Behavior
	var evidence sql.NullString
	err := sc.Scan(
		&b.ID, &b.UserID, &b.Predicate, &b.TargetEntityID, &b.Topic,
		&evidence, &b.Confidence, &b.ReinforcementCount, &b.LastReinforced,
		&b.Status, &b.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan behavior: %w", err)
	}
	b.Evidence = evidence.String
	return &b, nil
}
