package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/scrypster/mnema/internal/engine"
	"github.com/scrypster/mnema/internal/storage"
	"github.com/scrypster/mnema/pkg/types"
)

// Handlers bundles the HTTP endpoints over the engine and store.
type Handlers struct {
	engine *engine.Engine
	store  storage.Store
}

// NewHandlers creates the API handler set.
func NewHandlers(eng *engine.Engine, store storage.Store) *Handlers {
	return &Handlers{engine: eng, store: store}
}

type ingestRequest struct {
	UserID     string                  `json:"user_id"`
	SourceType string                  `json:"source_type"`
	SourceID   string                  `json:"source_id"`
	Payload    types.ExtractionPayload `json:"payload"`
}

// PostIngest handles POST /api/ingest.
func (h *Handlers) PostIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	res, err := h.engine.Ingest(r.Context(), req.UserID, req.Payload, req.SourceType, req.SourceID)
	if err != nil {
		if errors.Is(err, engine.ErrValidation) {
			respondError(w, http.StatusBadRequest, "validation failed", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "ingest failed", err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type retrieveRequest struct {
	UserID    string `json:"user_id"`
	Query     string `json:"query"`
	MaxTokens int    `json:"max_tokens"`
	Mode      string `json:"mode"`
}

// PostRetrieve handles POST /api/retrieve.
func (h *Handlers) PostRetrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	res, err := h.engine.Retrieve(r.Context(), req.UserID, req.Query, req.MaxTokens, types.RetrievalMode(req.Mode))
	if err != nil {
		if errors.Is(err, engine.ErrValidation) {
			respondError(w, http.StatusBadRequest, "validation failed", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "retrieve failed", err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// ListEntities handles GET /api/entities.
func (h *Handlers) ListEntities(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}
	q := storage.EntityQuery{Status: r.URL.Query().Get("status")}
	if search := r.URL.Query().Get("q"); search != "" {
		q.NameTokens = []string{types.NormalizeName(search)}
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid limit", err)
			return
		}
		q.Limit = n
	}
	ents, err := h.store.ListEntities(r.Context(), userID, q)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "list entities failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entities": ents,
		"count":    len(ents),
	})
}

// GetEntityFacts handles GET /api/entities/{id}/facts. With as_of it
// answers the point-in-time question for a single predicate.
func (h *Handlers) GetEntityFacts(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}
	id := r.PathValue("id")

	if asOf := r.URL.Query().Get("as_of"); asOf != "" {
		predicate := r.URL.Query().Get("predicate")
		if predicate == "" {
			respondError(w, http.StatusBadRequest, "predicate is required with as_of", nil)
			return
		}
		at, err := parseTime(asOf)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid as_of timestamp", err)
			return
		}
		fact, err := h.store.QueryAsOf(r.Context(), userID, id, predicate, at)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				respondError(w, http.StatusNotFound, "no fact known at that time", nil)
				return
			}
			respondError(w, http.StatusInternalServerError, "query failed", err)
			return
		}
		respondJSON(w, http.StatusOK, fact)
		return
	}

	facts, err := h.store.CurrentFacts(r.Context(), userID, id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "list facts failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"facts": facts,
		"count": len(facts),
	})
}

// GetEntityGraph handles GET /api/entities/{id}/graph.
func (h *Handlers) GetEntityGraph(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}
	id := r.PathValue("id")

	ent, err := h.store.GetEntity(r.Context(), userID, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "entity not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "get entity failed", err)
		return
	}
	edges, err := h.store.Neighbors(r.Context(), userID, id, 25)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "neighbors failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entity": ent,
		"edges":  edges,
	})
}

// GetFactHistory handles GET /api/facts/{id}/history.
func (h *Handlers) GetFactHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}
	chain, err := h.store.VersionChain(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "fact not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "version chain failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"versions": chain,
		"count":    len(chain),
	})
}

type factCorrectionRequest struct {
	UserID     string  `json:"user_id"`
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence"`
}

// PostFactCorrect handles POST /api/facts/{id}/correct.
func (h *Handlers) PostFactCorrect(w http.ResponseWriter, r *http.Request) {
	var req factCorrectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	if req.UserID == "" || req.Object == "" {
		respondError(w, http.StatusBadRequest, "user_id and object are required", nil)
		return
	}
	fact, err := h.engine.CorrectFact(r.Context(), req.UserID, r.PathValue("id"), req.Object, req.Confidence)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			respondError(w, http.StatusNotFound, "fact not found", nil)
		case errors.Is(err, storage.ErrInvalidInput):
			respondError(w, http.StatusBadRequest, "fact is not correctable", err)
		default:
			respondError(w, http.StatusInternalServerError, "correction failed", err)
		}
		return
	}
	respondJSON(w, http.StatusOK, fact)
}

type cascadeRequest struct {
	UserID   string `json:"user_id"`
	SourceID string `json:"source_id"`
}

// PostCascadeInvalidate handles POST /api/cascade/invalidate.
func (h *Handlers) PostCascadeInvalidate(w http.ResponseWriter, r *http.Request) {
	h.cascade(w, r, h.engine.CascadeInvalidate)
}

// PostCascadeRestore handles POST /api/cascade/restore.
func (h *Handlers) PostCascadeRestore(w http.ResponseWriter, r *http.Request) {
	h.cascade(w, r, h.engine.CascadeRestore)
}

func (h *Handlers) cascade(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, userID, sourceID string) (storage.CascadeResult, error)) {
	var req cascadeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	if req.UserID == "" || req.SourceID == "" {
		respondError(w, http.StatusBadRequest, "user_id and source_id are required", nil)
		return
	}
	res, err := op(r.Context(), req.UserID, req.SourceID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "cascade failed", err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type maintenanceRequest struct {
	UserID string `json:"user_id"`
}

// PostMaintenance handles POST /api/maintenance/{job} for job one of
// decay, consolidate, archive, expire.
func (h *Handlers) PostMaintenance(w http.ResponseWriter, r *http.Request) {
	job := r.PathValue("job")

	var req maintenanceRequest
	if r.Body != nil {
		// Body is optional for jobs that span all tenants.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	var (
		affected int
		err      error
	)
	switch job {
	case "decay":
		affected, err = h.engine.RunDecay(r.Context())
	case "consolidate":
		if req.UserID == "" {
			respondError(w, http.StatusBadRequest, "user_id is required for consolidation", nil)
			return
		}
		affected, err = h.engine.RunConsolidationScan(r.Context(), req.UserID)
	case "archive":
		affected, err = h.engine.RunArchival(r.Context())
	case "expire":
		affected, err = h.engine.RunExpiry(r.Context())
	default:
		respondError(w, http.StatusNotFound, "unknown maintenance job", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "maintenance job failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"job":      job,
		"affected": affected,
	})
}

// GetStats handles GET /api/stats.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}
	ents, err := h.store.ListEntities(r.Context(), userID, storage.EntityQuery{Limit: 200})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "stats failed", err)
		return
	}
	behaviors, err := h.store.ListBehaviors(r.Context(), userID, 200)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "stats failed", err)
		return
	}
	sums, err := h.store.ListSummaries(r.Context(), userID, nil)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "stats failed", err)
		return
	}
	byTier := map[string]int{}
	for i := range ents {
		byTier[ents[i].ImportanceTier]++
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entities":         len(ents),
		"entities_by_tier": byTier,
		"behaviors":        len(behaviors),
		"summaries":        len(sums),
	})
}

// GetHealth handles GET /api/health.
func (h *Handlers) GetHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseTime accepts RFC 3339 or a bare date.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("server: encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	if err != nil {
		log.Printf("server: %s: %v", message, err)
	}
	respondJSON(w, statusCode, map[string]string{"error": message})
}
