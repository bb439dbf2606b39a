package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/scrypster/mnema/internal/storage"
	"github.com/scrypster/mnema/pkg/types"
)

// ingestWorkers bounds concurrent entity upserts within one event.
const ingestWorkers = 4

// Ingest processes one extraction payload. Entity upserts run on a bounded
// worker pool and complete before links, facts, and behaviors (which
// reference entity ids); summary rewrites run last so they observe every
// fact write from the event. Malformed sub-items are skipped and counted,
// not fatal; store errors abort the event.
func (e *Engine) Ingest(ctx context.Context, userID string, payload types.ExtractionPayload, sourceType, sourceID string) (*types.IngestResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if !types.IsValidSourceType(sourceType) {
		return nil, fmt.Errorf("%w: unknown source type %q", ErrValidation, sourceType)
	}

	result := &types.IngestResult{}

	// Stage 1: entities, concurrently. entityIDs maps normalized name to
	// id for the later stages.
	entityIDs := make(map[string]string)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ingestWorkers)
	for i := range payload.Entities {
		ent := payload.Entities[i]
		if err := ent.Validate(); err != nil {
			mu.Lock()
			result.SkippedItems = append(result.SkippedItems, err.Error())
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			stored, created, err := e.store.UpsertMention(gctx, userID, storage.EntityUpsert{
				Name:       ent.Name,
				Type:       ent.Type,
				Subtype:    ent.Subtype,
				Context:    ent.Context,
				Sentiment:  ent.Sentiment,
				Confidence: ent.Confidence,
				SourceID:   sourceID,
			})
			if err != nil {
				return fmt.Errorf("upsert entity %q: %w", ent.Name, err)
			}
			mu.Lock()
			entityIDs[stored.NormalizedName] = stored.ID
			if created {
				result.EntitiesCreated++
			} else {
				result.EntitiesUpdated++
			}
			mu.Unlock()
			if created {
				e.embedEntity(gctx, userID, stored)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	// Stage 2: co-occurrence links for every entity pair in the event.
	ids := make([]string, 0, len(entityIDs))
	for _, id := range entityIDs {
		ids = append(ids, id)
	}
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			created, err := e.store.Link(ctx, userID, ids[i], ids[j])
			if err != nil {
				return result, fmt.Errorf("link entities: %w", err)
			}
			if created {
				result.LinksCreated++
			}
		}
	}

	// Stage 3: facts. Subjects must resolve; unresolved references are
	// soft skips, not event failures.
	touched := map[string]bool{}
	for i := range payload.Relationships {
		rel := payload.Relationships[i]
		if err := rel.Validate(); err != nil {
			result.SkippedItems = append(result.SkippedItems, err.Error())
			continue
		}
		subjectID, ok := e.resolveEntity(ctx, userID, entityIDs, rel.Subject)
		if !ok {
			result.SkippedItems = append(result.SkippedItems,
				fmt.Sprintf("relationship %s %s %s: unknown subject", rel.Subject, rel.Predicate, rel.Object))
			continue
		}
		// Typed relationships are facts whose object is an entity.
		objectEntityID, _ := e.resolveEntity(ctx, userID, entityIDs, rel.Object)

		category := categoryForPredicate(rel.Predicate, rel.Category)
		_, created, err := e.store.UpsertFact(ctx, userID, storage.FactUpsert{
			EntityID:       subjectID,
			Predicate:      rel.Predicate,
			Object:         rel.Object,
			ObjectEntityID: objectEntityID,
			Category:       category,
			Confidence:     rel.Confidence,
			SourceType:     sourceType,
			SourceID:       sourceID,
		})
		if err != nil {
			if errors.Is(err, storage.ErrConflict) {
				result.SkippedItems = append(result.SkippedItems,
					fmt.Sprintf("fact %s %s %s: %v", rel.Subject, rel.Predicate, rel.Object, err))
				continue
			}
			return result, fmt.Errorf("upsert fact: %w", err)
		}
		touched[category] = true
		if created {
			result.FactsCreated++
		} else {
			result.FactsUpdated++
		}
	}

	// Stage 4: behaviors.
	for i := range payload.Behaviors {
		beh := payload.Behaviors[i]
		if err := beh.Validate(); err != nil {
			result.SkippedItems = append(result.SkippedItems, err.Error())
			continue
		}
		targetID := ""
		if beh.TargetEntity != "" {
			targetID, _ = e.resolveEntity(ctx, userID, entityIDs, beh.TargetEntity)
		}
		_, created, err := e.store.ReinforceBehavior(ctx, userID, storage.BehaviorUpsert{
			Predicate:      beh.Type,
			TargetEntityID: targetID,
			Topic:          beh.Topic,
			Evidence:       beh.Evidence,
			Confidence:     beh.Confidence,
			SourceID:       sourceID,
		})
		if err != nil {
			return result, fmt.Errorf("reinforce behavior %q: %w", beh.Type, err)
		}
		if created {
			result.BehaviorsCreated++
		} else {
			result.BehaviorsUpdated++
		}
	}

	// Stage 5: topics without fact writes still refresh their category.
	for i := range payload.Topics {
		top := payload.Topics[i]
		if err := top.Validate(); err != nil {
			result.SkippedItems = append(result.SkippedItems, err.Error())
			continue
		}
		if cat, ok := categoryKeywords[top.Name]; ok {
			touched[cat] = true
		}
	}

	// Stage 6: summary rewrites, last. Rewrite failure leaves a stale
	// summary, which Tier 2+ compensates for.
	for category := range touched {
		if err := e.RefreshSummary(ctx, userID, category); err != nil {
			log.Printf("engine: summary rewrite category=%s: %v", category, err)
		}
	}

	log.Printf("engine: ingest source=%s entities=%d/%d facts=%d/%d behaviors=%d/%d links=%d skipped=%d",
		sourceID, result.EntitiesCreated, result.EntitiesUpdated,
		result.FactsCreated, result.FactsUpdated,
		result.BehaviorsCreated, result.BehaviorsUpdated,
		result.LinksCreated, len(result.SkippedItems))
	e.notify("ingest: source %s (%d entities, %d facts)",
		sourceID, result.EntitiesCreated+result.EntitiesUpdated,
		result.FactsCreated+result.FactsUpdated)
	return result, nil
}

// resolveEntity maps a name mentioned in the payload to an entity id, first
// against this event's upserts, then against the registry.
func (e *Engine) resolveEntity(ctx context.Context, userID string, local map[string]string, name string) (string, bool) {
	norm := types.NormalizeName(name)
	if id, ok := local[norm]; ok {
		return id, true
	}
	ent, err := e.store.GetEntityByName(ctx, userID, name)
	if err != nil {
		return "", false
	}
	return ent.ID, true
}

// embedEntity stores an embedding for a newly created entity. Best effort:
// embedding outages never fail ingestion.
func (e *Engine) embedEntity(ctx context.Context, userID string, ent *types.Entity) {
	if e.embedder == nil || e.vector == nil {
		return
	}
	text := ent.Name
	if len(ent.RecentContexts) > 0 {
		text += " " + ent.RecentContexts[len(ent.RecentContexts)-1]
	}
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		log.Printf("engine: embed entity %s: %v", ent.ID, err)
		return
	}
	if err := e.vector.StoreEmbedding(ctx, userID, ent.ID, vec); err != nil {
		log.Printf("engine: store embedding %s: %v", ent.ID, err)
	}
}
