package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/scrypster/mnema/internal/storage"
)

// RunDecay applies the per-tier importance decay schedule and archives
// entities falling below the floor. Idempotent for a given instant: decay
// keys off last_mentioned, so a second run in quick succession touches the
// same rows with the same multipliers.
func (e *Engine) RunDecay(ctx context.Context) (int, error) {
	tiers := make([]storage.DecayTier, 0, len(e.decay.Bands))
	for _, b := range e.decay.Bands {
		tiers = append(tiers, storage.DecayTier{Tier: b.Tier, Threshold: b.Threshold, Retention: b.Retention})
	}
	n, err := e.store.DecayImportance(ctx, tiers, e.decay.Floor, time.Now())
	if err != nil {
		return 0, fmt.Errorf("decay: %w", err)
	}
	log.Printf("engine: decay affected=%d", n)
	e.notify("maintenance: decay (%d entities)", n)
	return n, nil
}

// RunConsolidationScan flags near-duplicate entity pairs by embedding
// similarity. Candidates are recorded for review, never merged. Without a
// vector provider the scan is a no-op.
func (e *Engine) RunConsolidationScan(ctx context.Context, userID string) (int, error) {
	if e.vector == nil {
		return 0, nil
	}
	pairs, err := e.vector.SimilarPairs(ctx, userID, e.decay.ConsolidationThreshold)
	if err != nil {
		return 0, fmt.Errorf("consolidation scan: %w", err)
	}
	if len(pairs) == 0 {
		return 0, nil
	}
	n, err := e.store.FlagMergeCandidates(ctx, userID, pairs)
	if err != nil {
		return 0, fmt.Errorf("flag merge candidates: %w", err)
	}
	log.Printf("engine: consolidation scan flagged=%d", n)
	e.notify("maintenance: consolidation scan (%d pairs)", n)
	return n, nil
}

// RunArchival archives trivial/low-importance entities unaccessed for the
// configured window.
func (e *Engine) RunArchival(ctx context.Context) (int, error) {
	n, err := e.store.ArchiveStale(ctx, e.decay.ArchivalWindow, time.Now())
	if err != nil {
		return 0, fmt.Errorf("archival: %w", err)
	}
	log.Printf("engine: archival affected=%d", n)
	e.notify("maintenance: archival (%d entities)", n)
	return n, nil
}

// RunExpiry archives entities whose explicit expires_at is past due.
func (e *Engine) RunExpiry(ctx context.Context) (int, error) {
	n, err := e.store.ArchiveExpired(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("expiry: %w", err)
	}
	log.Printf("engine: expiry affected=%d", n)
	e.notify("maintenance: expiry (%d entities)", n)
	return n, nil
}

// StartScheduler runs the maintenance jobs on the configured interval until
// the returned stop function is called. Jobs are safe alongside live
// ingestion; failures are logged and the next tick retries.
func (e *Engine) StartScheduler(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(e.decay.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := e.RunDecay(ctx); err != nil {
					log.Printf("engine: scheduled decay: %v", err)
				}
				if _, err := e.RunArchival(ctx); err != nil {
					log.Printf("engine: scheduled archival: %v", err)
				}
				if _, err := e.RunExpiry(ctx); err != nil {
					log.Printf("engine: scheduled expiry: %v", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
