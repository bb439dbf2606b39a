package postgres

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/scrypster/mnema/internal/storage"
	"github.com/scrypster/mnema/pkg/types"
)

// Ensure *Store implements storage.VectorProvider at compile time.
var _ storage.VectorProvider = (*Store)(nil)

// similarPairsCandidates caps how many vectors the consolidation scan loads
// when falling back to an in-process comparison.
const similarPairsCandidates = 10_000

// StoreEmbedding persists an entity embedding. The vector is always stored
// in the BYTEA column; when the pgvector extension is available it is also
// written to vec_ann so SimilarEntities can use the ivfflat index.
func (s *Store) StoreEmbedding(ctx context.Context, userID, entityID string, vec []float32) error {
	if entityID == "" || len(vec) == 0 {
		return fmt.Errorf("%w: entity id and vector are required", storage.ErrInvalidInput)
	}

	now := time.Now().UTC()
	if s.pgvectorAvailable {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO embeddings (entity_id, user_id, vec, dim, vec_ann, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (entity_id) DO UPDATE SET
				vec = EXCLUDED.vec,
				dim = EXCLUDED.dim,
				vec_ann = EXCLUDED.vec_ann,
				updated_at = EXCLUDED.updated_at`,
			entityID, userID, serializeEmbedding(vec), len(vec), pgvector.NewVector(vec), now)
		if err != nil {
			return fmt.Errorf("postgres: store embedding: %w", err)
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (entity_id, user_id, vec, dim, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (entity_id) DO UPDATE SET
			vec = EXCLUDED.vec,
			dim = EXCLUDED.dim,
			updated_at = EXCLUDED.updated_at`,
		entityID, userID, serializeEmbedding(vec), len(vec), now)
	if err != nil {
		return fmt.Errorf("postgres: store embedding: %w", err)
	}
	return nil
}

// SimilarEntities ranks active entities by cosine similarity to vec. With
// pgvector present the comparison runs in the database via the `<=>` cosine
// distance operator; otherwise the tenant's BYTEA vectors are compared in Go.
func (s *Store) SimilarEntities(ctx context.Context, userID string, vec []float32, limit int) ([]storage.VectorMatch, error) {
	if limit < 1 {
		limit = 10
	}

	if s.pgvectorAvailable {
		rows, err := s.db.QueryContext(ctx, `
			SELECT e.entity_id, 1 - (e.vec_ann <=> $1::vector) AS similarity
			FROM embeddings e
			JOIN entities ent ON ent.id = e.entity_id
			WHERE e.user_id = $2 AND e.vec_ann IS NOT NULL AND ent.status = 'active'
			ORDER BY e.vec_ann <=> $1::vector
			LIMIT $3`,
			pgvector.NewVector(vec), userID, limit)
		if err == nil {
			defer func() { _ = rows.Close() }()
			var matches []storage.VectorMatch
			for rows.Next() {
				var m storage.VectorMatch
				if err := rows.Scan(&m.EntityID, &m.Similarity); err != nil {
					return nil, fmt.Errorf("postgres: scan vector match: %w", err)
				}
				matches = append(matches, m)
			}
			if err := rows.Err(); err != nil {
				return nil, fmt.Errorf("postgres: vector match rows: %w", err)
			}
			return matches, nil
		}
		// Dimension mismatches against the fixed vec_ann column fall
		// through to the BYTEA scan rather than failing the tier.
	}

	ids, vecs, err := s.loadEmbeddings(ctx, userID)
	if err != nil {
		return nil, err
	}
	var matches []storage.VectorMatch
	for i, id := range ids {
		matches = append(matches, storage.VectorMatch{
			EntityID:   id,
			Similarity: cosineSimilarity(vec, vecs[i]),
		})
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// SimilarPairs returns entity pairs above the similarity threshold for the
// consolidation scan. With pgvector present the self-join runs in the
// database; otherwise the pairs are computed from the BYTEA vectors in Go.
func (s *Store) SimilarPairs(ctx context.Context, userID string, threshold float64) ([]types.MergeCandidate, error) {
	if s.pgvectorAvailable {
		rows, err := s.db.QueryContext(ctx, `
			SELECT a.entity_id, b.entity_id, 1 - (a.vec_ann <=> b.vec_ann) AS similarity
			FROM embeddings a
			JOIN embeddings b ON b.user_id = a.user_id AND b.entity_id > a.entity_id
			JOIN entities ea ON ea.id = a.entity_id
			JOIN entities eb ON eb.id = b.entity_id
			WHERE a.user_id = $1
			  AND a.vec_ann IS NOT NULL AND b.vec_ann IS NOT NULL
			  AND ea.status = 'active' AND eb.status = 'active'
			  AND 1 - (a.vec_ann <=> b.vec_ann) >= $2`,
			userID, threshold)
		if err == nil {
			defer func() { _ = rows.Close() }()
			var pairs []types.MergeCandidate
			for rows.Next() {
				var a, b string
				var sim float64
				if err := rows.Scan(&a, &b, &sim); err != nil {
					return nil, fmt.Errorf("postgres: scan merge pair: %w", err)
				}
				a, b = types.OrderPair(a, b)
				pairs = append(pairs, types.MergeCandidate{
					UserID:     userID,
					EntityA:    a,
					EntityB:    b,
					Similarity: sim,
				})
			}
			if err := rows.Err(); err != nil {
				return nil, fmt.Errorf("postgres: merge pair rows: %w", err)
			}
			return pairs, nil
		}
	}

	ids, vecs, err := s.loadEmbeddings(ctx, userID)
	if err != nil {
		return nil, err
	}
	var pairs []types.MergeCandidate
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			sim := cosineSimilarity(vecs[i], vecs[j])
			if sim >= threshold {
				a, b := types.OrderPair(ids[i], ids[j])
				pairs = append(pairs, types.MergeCandidate{
					UserID:     userID,
					EntityA:    a,
					EntityB:    b,
					Similarity: sim,
				})
			}
		}
	}
	return pairs, nil
}

func (s *Store) loadEmbeddings(ctx context.Context, userID string) ([]string, [][]float32, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.entity_id, e.vec, e.dim
		FROM embeddings e
		JOIN entities ent ON ent.id = e.entity_id
		WHERE e.user_id = $1 AND ent.status = 'active'
		ORDER BY e.updated_at DESC
		LIMIT $2`,
		userID, similarPairsCandidates)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: load embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	var vecs [][]float32
	for rows.Next() {
		var id string
		var blob []byte
		var dim int
		if err := rows.Scan(&id, &blob, &dim); err != nil {
			continue
		}
		vec, err := deserializeEmbedding(blob, dim)
		if err != nil {
			continue
		}
		ids = append(ids, id)
		vecs = append(vecs, vec)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("postgres: embedding rows: %w", err)
	}
	return ids, vecs, nil
}

func serializeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func deserializeEmbedding(blob []byte, dim int) ([]float32, error) {
	if len(blob) != dim*4 {
		return nil, fmt.Errorf("embedding blob length %d does not match dim %d", len(blob), dim)
	}
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
