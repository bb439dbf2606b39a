package postgres

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

const behaviorConfidenceIncrement = 0.1

// Link upserts the co-occurrence edge for an unordered entity pair.
// Creation is detected directly via RETURNING.
func (s *Store) Link(ctx context.Context, userID, entityA, entityB string) (bool, error) {
	if entityA == "" || entityB == "" || entityA == entityB {
		return false, fmt.Errorf("%w: link requires two distinct entity ids", storage.ErrInvalidInput)
	}
	a, b := types.OrderPair(entityA, entityB)
	now := time.Now().UTC()

	var strength int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO links (id, user_id, entity_a, entity_b, strength, last_seen, created_at)
		VALUES ($1, $2, $3, $4, 1, $5, $6)
		ON CONFLICT(user_id, entity_a, entity_b) DO UPDATE SET
			strength = links.strength + 1,
			last_seen = excluded.last_seen
		RETURNING strength`,
		uuid.NewString(), userID, a, b, now, now).Scan(&strength)
	if err != nil {
		return false, fmt.Errorf("postgres: link %s-%s: %w", a, b, err)
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
		WHERE user_id = $1 AND (entity_a = $2 OR entity_b = $2)
		ORDER BY strength DESC, last_seen DESC
		LIMIT $3`,
		userID, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: neighbors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var edges []types.RelationshipEdge
	for rows.Next() {
		var e types.RelationshipEdge
		if err := rows.Scan(&e.ID, &e.UserID, &e.EntityA, &e.EntityB, &e.Strength, &e.LastSeen, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan link: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: link rows: %w", err)
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

	confidence := capScore(up.Confidence)
	if confidence == 0 {
		confidence = 0.5
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO behaviors (
			id, user_id, predicate, target_entity_id, topic,
			evidence, confidence, reinforcement_count, last_reinforced,
			source_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $9, $10)
		ON CONFLICT(user_id, predicate, target_entity_id, topic) DO UPDATE SET
			confidence = LEAST(1.0, behaviors.confidence + $11),
			reinforcement_count = behaviors.reinforcement_count + 1,
			evidence = excluded.evidence,
			last_reinforced = excluded.last_reinforced
		RETURNING id, user_id, predicate, target_entity_id, topic,
			evidence, confidence, reinforcement_count, last_reinforced,
			status, created_at`,
		uuid.NewString(), userID, predicate, up.TargetEntityID, up.Topic,
		up.Evidence, confidence, now, up.SourceID, now,
		behaviorConfidenceIncrement)

	behavior, err := scanBehavior(row)
	if err != nil {
		return nil, false, fmt.Errorf("postgres: reinforce behavior: %w", err)
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
		WHERE user_id = $1 AND status = 'active'
		ORDER BY reinforcement_count DESC, last_reinforced DESC
		LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list behaviors: %w", err)
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
		return nil, fmt.Errorf("postgres: behavior rows: %w", err)
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
		return nil, fmt.Errorf("postgres: scan behavior: %w", err)
	}
	b.Evidence = evidence.String
	return &b, nil
}
