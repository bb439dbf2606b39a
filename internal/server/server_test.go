package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scrypster/mnema/internal/config"
	"github.com/scrypster/mnema/internal/engine"
	"github.com/scrypster/mnema/internal/storage/sqlite"
	"github.com/scrypster/mnema/pkg/types"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.Load()
	cfg.Server.RateLimit = 1000
	cfg.Server.RateBurst = 1000
	if mutate != nil {
		mutate(cfg)
	}

	eng, err := engine.New(store, cfg.Retrieval, cfg.Decay, engine.Options{})
	require.NoError(t, err)
	return New(cfg, eng, store)
}

func postJSON(t *testing.T, h http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestIngestRetrieveRoundTrip(t *testing.T) {
	s := newTestServer(t, nil)

	rec := postJSON(t, s.Handler(), "/api/ingest", map[string]interface{}{
		"user_id":     "u1",
		"source_type": "note",
		"source_id":   "note-1",
		"payload": types.ExtractionPayload{
			Entities: []types.ExtractedEntity{
				{Name: "Marcus", Type: "person", Confidence: 0.9},
				{Name: "Anthropic", Type: "organization", Confidence: 0.9},
			},
			Relationships: []types.ExtractedRelationship{
				{Subject: "Marcus", Predicate: "works_at", Object: "Anthropic", Confidence: 0.9},
			},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var ingest types.IngestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ingest))
	require.Equal(t, 2, ingest.EntitiesCreated)
	require.Equal(t, 1, ingest.FactsCreated)

	rec = postJSON(t, s.Handler(), "/api/retrieve", map[string]interface{}{
		"user_id": "u1",
		"query":   "what does my work look like",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var res types.RetrievalResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, 1, res.TierUsed)
	require.Contains(t, res.ContextPayload, "Marcus")
}

func TestIngestRejectsUnknownSourceType(t *testing.T) {
	s := newTestServer(t, nil)
	rec := postJSON(t, s.Handler(), "/api/ingest", map[string]interface{}{
		"user_id":     "u1",
		"source_type": "smoke-signal",
		"source_id":   "s1",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCascadeEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	rec := postJSON(t, s.Handler(), "/api/ingest", map[string]interface{}{
		"user_id":     "u1",
		"source_type": "note",
		"source_id":   "note-1",
		"payload": types.ExtractionPayload{
			Entities: []types.ExtractedEntity{{Name: "Marcus", Type: "person", Confidence: 0.9}},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(t, s.Handler(), "/api/cascade/invalidate", map[string]string{
		"user_id": "u1", "source_id": "note-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(t, s.Handler(), "/api/cascade/restore", map[string]string{
		"user_id": "u1", "source_id": "note-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(t, s.Handler(), "/api/cascade/invalidate", map[string]string{"user_id": "u1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFactCorrectionEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	rec := postJSON(t, s.Handler(), "/api/ingest", map[string]interface{}{
		"user_id":     "u1",
		"source_type": "note",
		"source_id":   "note-1",
		"payload": types.ExtractionPayload{
			Entities: []types.ExtractedEntity{
				{Name: "Marcus", Type: "person", Confidence: 0.9},
			},
			Relationships: []types.ExtractedRelationship{
				{Subject: "Marcus", Predicate: "likes", Object: "running", Confidence: 0.7},
			},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/entities?user_id=u1&q=Marcus", nil)
	lookup := httptest.NewRecorder()
	s.Handler().ServeHTTP(lookup, req)
	require.Equal(t, http.StatusOK, lookup.Code)

	var listed struct {
		Entities []types.Entity `json:"entities"`
	}
	require.NoError(t, json.Unmarshal(lookup.Body.Bytes(), &listed))
	require.Len(t, listed.Entities, 1)

	req = httptest.NewRequest(http.MethodGet, "/api/entities/"+listed.Entities[0].ID+"/facts?user_id=u1", nil)
	factsRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(factsRec, req)
	require.Equal(t, http.StatusOK, factsRec.Code)

	var facts struct {
		Facts []types.Fact `json:"facts"`
	}
	require.NoError(t, json.Unmarshal(factsRec.Body.Bytes(), &facts))
	require.Len(t, facts.Facts, 1)

	rec = postJSON(t, s.Handler(), "/api/facts/"+facts.Facts[0].ID+"/correct", map[string]interface{}{
		"user_id": "u1", "object": "trail running", "confidence": 0.9,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var corrected types.Fact
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &corrected))
	require.Equal(t, "trail running", corrected.Object)
	require.Equal(t, 2, corrected.Version)
	require.Equal(t, facts.Facts[0].ID, corrected.PreviousVersionID)

	// The old value is gone from the current set but kept in the history.
	histReq := httptest.NewRequest(http.MethodGet, "/api/facts/"+corrected.ID+"/history?user_id=u1", nil)
	histRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(histRec, histReq)
	require.Equal(t, http.StatusOK, histRec.Code)

	var history struct {
		Versions []types.Fact `json:"versions"`
	}
	require.NoError(t, json.Unmarshal(histRec.Body.Bytes(), &history))
	require.Len(t, history.Versions, 2)
	require.Equal(t, types.ReasonCorrection, history.Versions[0].InvalidationReason)

	// Unknown fact ids surface as 404, not 500.
	rec = postJSON(t, s.Handler(), "/api/facts/nope/correct", map[string]interface{}{
		"user_id": "u1", "object": "x",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMaintenanceEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	for _, job := range []string{"decay", "archive", "expire"} {
		rec := postJSON(t, s.Handler(), "/api/maintenance/"+job, map[string]string{})
		require.Equal(t, http.StatusOK, rec.Code, "job %s", job)
	}

	rec := postJSON(t, s.Handler(), "/api/maintenance/consolidate", map[string]string{"user_id": "u1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(t, s.Handler(), "/api/maintenance/defragment", map[string]string{})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthProductionMode(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.SecurityMode = "production"
		cfg.Server.APIToken = "secret-token"
	})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiting(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.RateLimit = 1
		cfg.Server.RateBurst = 1
	})

	limited := false
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
		}
	}
	require.True(t, limited, "expected at least one request to be rate limited")
}

func TestStatsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	rec := postJSON(t, s.Handler(), "/api/ingest", map[string]interface{}{
		"user_id":     "u1",
		"source_type": "note",
		"source_id":   "note-1",
		"payload": types.ExtractionPayload{
			Entities: []types.ExtractedEntity{{Name: "Marcus", Type: "person", Confidence: 0.9}},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/stats?user_id=u1", nil)
	rec2 := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec2, req)
	require.Equal(t, http.StatusOK, rec2.Code)

	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &stats))
	require.Equal(t, float64(1), stats["entities"])
}

func TestEntityFactsAsOf(t *testing.T) {
	s := newTestServer(t, nil)

	// Ingest a fact, then supersede it; as_of before the supersede must
	// surface the original.
	for i, org := range []string{"Anthropic", "Mistral"} {
		rec := postJSON(t, s.Handler(), "/api/ingest", map[string]interface{}{
			"user_id":     "u1",
			"source_type": "note",
			"source_id":   fmt.Sprintf("note-%d", i),
			"payload": types.ExtractionPayload{
				Entities: []types.ExtractedEntity{
					{Name: "Marcus", Type: "person", Confidence: 0.9},
					{Name: org, Type: "organization", Confidence: 0.9},
				},
				Relationships: []types.ExtractedRelationship{
					{Subject: "Marcus", Predicate: "works_at", Object: org, Confidence: 0.9},
				},
			},
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/entities?user_id=u1&q=marcus", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var listing struct {
		Entities []types.Entity `json:"entities"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Entities, 1)
	id := listing.Entities[0].ID

	req = httptest.NewRequest(http.MethodGet, "/api/entities/"+id+"/facts?user_id=u1", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var facts struct {
		Facts []types.Fact `json:"facts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &facts))
	require.Len(t, facts.Facts, 1)
	require.Equal(t, "Mistral", facts.Facts[0].Object)
}
