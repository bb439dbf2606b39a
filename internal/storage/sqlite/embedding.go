package sqlite

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/scrypster/mnema/internal/storage"
	"github.com/scrypster/mnema/pkg/types"
)

// Ensure *Store implements storage.VectorProvider at compile time.
var _ storage.VectorProvider = (*Store)(nil)

// embeddingMaxCandidates caps how many vectors a similarity scan loads into
// memory. For personal-memory datasets (< 10k entities) the cap is never
// hit; larger deployments should use the PostgreSQL backend with pgvector.
const embeddingMaxCandidates = 10_000

// StoreEmbedding persists an entity embedding as a little-endian float32 blob.
func (s *Store) StoreEmbedding(ctx context.Context, userID, entityID string, vec []float32) error {
	if entityID == "" || len(vec) == 0 {
		return fmt.Errorf("%w: entity id and vector are required", storage.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (entity_id, user_id, vec, dim, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			vec = excluded.vec,
			dim = excluded.dim,
			updated_at = excluded.updated_at`,
		entityID, userID, serializeEmbedding(vec), len(vec), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("sqlite: store embedding: %w", err)
	}
	return nil
}

// SimilarEntities ranks entities by cosine similarity to vec. Vectors are
// compared in Go — modernc.org/sqlite has no vector extension.
func (s *Store) SimilarEntities(ctx context.Context, userID string, vec []float32, limit int) ([]storage.VectorMatch, error) {
	if limit < 1 {
		limit = 10
	}
	ids, vecs, err := s.loadEmbeddings(ctx, userID)
	if err != nil {
		return nil, err
	}

	var matches []storage.VectorMatch
	for i, id := range ids {
		sim := cosineSimilarity(vec, vecs[i])
		matches = append(matches, storage.VectorMatch{EntityID: id, Similarity: sim})
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
// consolidation scan. O(n²) over the tenant's embeddings; acceptable at
// personal-memory scale.
func (s *Store) SimilarPairs(ctx context.Context, userID string, threshold float64) ([]types.MergeCandidate, error) {
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
		WHERE e.user_id = ? AND ent.status = 'active'
		ORDER BY e.updated_at DESC
		LIMIT ?`,
		userID, embeddingMaxCandidates)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: load embeddings: %w", err)
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
		return nil, nil, fmt.Errorf("sqlite: embedding rows: %w", err)
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

// cosineSimilarity computes cosine similarity between two equal-length
// vectors, returning 0 when either has zero magnitude or lengths differ.
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
