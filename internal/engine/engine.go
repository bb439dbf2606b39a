package engine

import (
	"context"
	"fmt"
	"log"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/scrypster/mnema/internal/config"
	"github.com/scrypster/mnema/internal/extern"
	"github.com/scrypster/mnema/internal/storage"
	"github.com/scrypster/mnema/pkg/types"
)

// Engine is the core orchestrator: ingestion of extraction payloads,
// tiered retrieval, cascade operations and maintenance jobs. It is safe
// for concurrent use; the durable store is authoritative for all state.
type Engine struct {
	store  storage.Store
	vector storage.VectorProvider // nil when the backend has no vector support

	embedder extern.Embedder         // nil when no embedding service is configured
	rewriter extern.SummaryRewriter  // nil → deterministic fallback summaries
	judge    extern.SufficiencyJudge // nil → proper-noun heuristic only

	retrieval config.RetrievalConfig
	decay     config.DecayConfig

	// summaryCache fronts Tier 1 summary reads. Invalidated on rewrite;
	// the store stays authoritative.
	summaryCache *lru.Cache[string, *types.CategorySummary]

	// onActivity, when set, receives a short event description for each
	// completed ingest or maintenance job (websocket feed).
	onActivity func(event string)

	mu sync.RWMutex
}

// Options configures optional engine collaborators.
type Options struct {
	Vector   storage.VectorProvider
	Embedder extern.Embedder
	Rewriter extern.SummaryRewriter
	Judge    extern.SufficiencyJudge
}

const summaryCacheSize = 256

// New creates an engine over the given store.
func New(store storage.Store, retrieval config.RetrievalConfig, decay config.DecayConfig, opts Options) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("engine: store is required")
	}
	cache, err := lru.New[string, *types.CategorySummary](summaryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("engine: summary cache: %w", err)
	}
	e := &Engine{
		store:        store,
		vector:       opts.Vector,
		embedder:     opts.Embedder,
		rewriter:     opts.Rewriter,
		judge:        opts.Judge,
		retrieval:    retrieval,
		decay:        decay,
		summaryCache: cache,
	}
	// A store that also speaks vectors is used automatically.
	if e.vector == nil {
		if vp, ok := store.(storage.VectorProvider); ok {
			e.vector = vp
		}
	}
	return e, nil
}

// OnActivity registers a callback receiving one-line activity events.
func (e *Engine) OnActivity(fn func(event string)) {
	e.mu.Lock()
	e.onActivity = fn
	e.mu.Unlock()
}

func (e *Engine) notify(format string, args ...any) {
	e.mu.RLock()
	fn := e.onActivity
	e.mu.RUnlock()
	if fn != nil {
		fn(fmt.Sprintf(format, args...))
	}
}

// CascadeInvalidate marks every row derived from sourceID inactive.
func (e *Engine) CascadeInvalidate(ctx context.Context, userID, sourceID string) (storage.CascadeResult, error) {
	res, err := e.store.CascadeInvalidate(ctx, userID, sourceID)
	if err != nil {
		return res, fmt.Errorf("cascade invalidate %s: %w", sourceID, err)
	}
	log.Printf("engine: cascade invalidate source=%s facts=%d entities=%d behaviors=%d",
		sourceID, res.Facts, res.Entities, res.Behaviors)
	e.notify("cascade invalidate: source %s (%d facts)", sourceID, res.Facts)
	return res, nil
}

// CorrectFact applies a user-supplied correction to a current fact. The old
// value is invalidated with reason correction and the replacement joins its
// version chain. The touched category's summary is rewritten best-effort.
func (e *Engine) CorrectFact(ctx context.Context, userID, factID, object string, confidence float64) (*types.Fact, error) {
	fact, err := e.store.CorrectFact(ctx, userID, factID, storage.FactUpsert{
		Object:     object,
		Confidence: confidence,
		SourceType: types.SourceCorrection,
	})
	if err != nil {
		return nil, fmt.Errorf("correct fact %s: %w", factID, err)
	}
	if fact.Category != "" {
		if err := e.RefreshSummary(ctx, userID, fact.Category); err != nil {
			log.Printf("engine: summary rewrite category=%s: %v", fact.Category, err)
		}
	}
	log.Printf("engine: correct fact=%s entity=%s predicate=%s", factID, fact.EntityID, fact.Predicate)
	e.notify("correction: %s %s is now %s", fact.EntityID, fact.Predicate, fact.Object)
	return fact, nil
}

// CascadeRestore reverses a prior CascadeInvalidate for sourceID.
func (e *Engine) CascadeRestore(ctx context.Context, userID, sourceID string) (storage.CascadeResult, error) {
	res, err := e.store.CascadeRestore(ctx, userID, sourceID)
	if err != nil {
		return res, fmt.Errorf("cascade restore %s: %w", sourceID, err)
	}
	log.Printf("engine: cascade restore source=%s facts=%d entities=%d behaviors=%d",
		sourceID, res.Facts, res.Entities, res.Behaviors)
	e.notify("cascade restore: source %s (%d facts)", sourceID, res.Facts)
	return res, nil
}
