package pipeline

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ejwhitmore/tweetvault/internal/media"
	"github.com/ejwhitmore/tweetvault/internal/models"
	"github.com/ejwhitmore/tweetvault/internal/types"
)

// runContent executes the content-processing sub-phases. With sub set only
// that sub-phase runs; otherwise all four run in order, re-reading item
// state between sub-phases. A full pass records a child PhaseRun per
// sub-phase alongside the aggregate content run, so per-sub-phase history
// stays queryable.
func (e *Engine) runContent(ctx context.Context, sub *types.SubPhase, force bool) (result, error) {
	if sub != nil {
		return e.runSubPhase(ctx, *sub, force)
	}

	var total result
	for _, s := range types.SubPhases {
		res, err := e.runRecordedSubPhase(ctx, s, force)
		total.add(res)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// runRecordedSubPhase runs one sub-phase with its own PhaseRun record. Used
// only by the full content pass; a directly-executed sub-phase is recorded by
// ExecutePhase itself.
func (e *Engine) runRecordedSubPhase(ctx context.Context, sub types.SubPhase, force bool) (result, error) {
	run := &types.PhaseRun{
		ID:        uuid.NewString(),
		Phase:     ID(PhaseContent, &sub),
		StartedAt: time.Now(),
		Status:    types.RunRunning,
	}
	if err := e.store.CreateRun(run); err != nil {
		return result{}, err
	}

	res, execErr := e.runSubPhase(ctx, sub, force)

	finalizeRunRecord(run, res, execErr)
	if err := e.store.FinalizeRun(run); err != nil {
		e.log.Error("failed to finalize sub-phase run", "run_id", run.ID, "error", err)
	}
	return res, execErr
}

// itemOutcome is the per-item verdict of a sub-phase processor. updated is
// false when the item lost the optimistic flag update to a racing pass, in
// which case the work was already done once and the item counts as skipped.
type itemOutcome struct {
	updated         bool
	reusedCategory  bool
	createdCategory bool
}

type itemProcessor func(ctx context.Context, item *types.ContentItem) (itemOutcome, error)

// runSubPhase drives one sub-phase over its candidate set.
//
// The incremental gate is evaluated exactly once per item here, at
// candidate-set construction; together with the store's conditional flag
// updates that guarantees at most one in-flight execution per
// (item, sub-phase) pair. Item work fans out bounded by the configured
// concurrency; one item's failure never blocks its siblings.
//
// Cancellation is honored between item dispatches only: in-flight items run
// on an uncancellable context and are allowed to complete.
func (e *Engine) runSubPhase(ctx context.Context, sub types.SubPhase, force bool) (result, error) {
	phaseID := ID(PhaseContent, &sub)

	items, err := e.store.AllItems()
	if err != nil {
		return result{}, err
	}

	var res result
	var candidates []types.ContentItem
	for i := range items {
		if !NeedsProcessing(&items[i], sub, force) {
			res.skipped++
			continue
		}
		if !e.eligible(&items[i], sub) {
			res.skipped++
			continue
		}
		candidates = append(candidates, items[i])
	}
	if len(candidates) == 0 {
		return res, nil
	}

	process, err := e.subPhaseProcessor(sub, items, candidates)
	if err != nil {
		// Setup failure (model routing): fatal for the whole phase run.
		return res, err
	}

	// In-flight items may outlive a cancelled pass.
	workCtx := context.WithoutCancel(ctx)
	inflight := newInflightSet()

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Concurrency)

	cancelled := false
	for i := range candidates {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		item := candidates[i]
		inflight.add(item.ID)
		g.Go(func() (gerr error) {
			defer func() {
				if r := recover(); r != nil {
					// Leave the item in the in-flight set; the rollback
					// below resets whatever it half-wrote.
					gerr = fmt.Errorf("item %s: panic: %v", item.ID, r)
					return
				}
				inflight.remove(item.ID)
			}()
			outcome, err := process(workCtx, &item)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				res.failed++
				res.failures = append(res.failures, failure(item.ID, err))
				e.log.Warn("item processing failed",
					"phase", phaseID, "item_id", item.ID,
					"error", &ItemProcessingError{ItemID: item.ID, Phase: phaseID, Err: err})
			case outcome.updated:
				res.processed++
				res.itemIDs = append(res.itemIDs, item.ID)
				if outcome.reusedCategory {
					res.reusedCategories++
				}
				if outcome.createdCategory {
					res.newCategories++
				}
			default:
				res.skipped++
			}
			return nil
		})
	}
	waitErr := g.Wait()

	if sub == types.SubCategorization {
		e.rec.categorySignal(phaseID, res.reusedCategories, res.newCategories)
	}
	if waitErr != nil {
		// A pass-level abort, not an item failure: roll back only the items
		// that were still in flight so completed siblings keep their state.
		e.handleSubPhaseFailure(phaseID, sub, inflight.list(), waitErr)
		return res, waitErr
	}
	if cancelled {
		return res, context.Canceled
	}
	return res, nil
}

// eligible applies item-level ordering within the content phase: a sub-phase
// only sees items that have reached the preceding state.
func (e *Engine) eligible(item *types.ContentItem, sub types.SubPhase) bool {
	switch sub {
	case types.SubCache:
		return true
	case types.SubMediaAnalysis:
		return item.Cached
	case types.SubUnderstanding:
		return item.Cached && item.MediaAnalyzed
	case types.SubCategorization:
		return item.Understood
	}
	return false
}

// subPhaseProcessor builds the per-item worker for a sub-phase, resolving
// models and capturing point-in-time snapshots before any work is
// dispatched.
func (e *Engine) subPhaseProcessor(sub types.SubPhase, allItems, candidates []types.ContentItem) (itemProcessor, error) {
	switch sub {
	case types.SubCache:
		return e.processCache, nil

	case types.SubMediaAnalysis:
		needModel := false
		for i := range candidates {
			if len(candidates[i].Media) > 0 {
				needModel = true
				break
			}
		}
		var sel models.Selection
		if needModel {
			var err error
			sel, err = e.router.Resolve(models.PhaseVision)
			if err != nil {
				return nil, err
			}
		}
		return func(ctx context.Context, item *types.ContentItem) (itemOutcome, error) {
			return e.processMediaAnalysis(ctx, item, sel)
		}, nil

	case types.SubUnderstanding:
		sel, err := e.router.Resolve(models.PhaseKBGeneration)
		if err != nil {
			return nil, err
		}
		// Capture thread membership before dispatching concurrent work so
		// every item reads a stable snapshot of its siblings.
		siblings := threadSnapshot(allItems)
		return func(ctx context.Context, item *types.ContentItem) (itemOutcome, error) {
			return e.processUnderstanding(ctx, item, sel, siblings[item.ThreadID])
		}, nil

	case types.SubCategorization:
		sel, err := e.router.Resolve(models.PhaseKBGeneration)
		if err != nil {
			return nil, err
		}
		taxonomy, err := e.taxonomySnapshot()
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, item *types.ContentItem) (itemOutcome, error) {
			return e.processCategorization(ctx, item, sel, taxonomy)
		}, nil
	}
	return nil, fmt.Errorf("unknown sub-phase %d", sub)
}

// processCache resolves thread membership and caches media for one item.
func (e *Engine) processCache(ctx context.Context, item *types.ContentItem) (itemOutcome, error) {
	info, err := e.threads.Detect(item.ID)
	if err != nil {
		return itemOutcome{}, err
	}
	if info != nil {
		if err := e.store.SetThreadInfo(item.ID, *info); err != nil {
			return itemOutcome{}, err
		}
		// Lengths grow as replies appear; positions never move.
		if err := e.store.RefreshThreadLength(info.ThreadID, info.Length); err != nil {
			return itemOutcome{}, err
		}
	}

	cached := e.media.CacheAll(ctx, item.Media, item.ID)

	updated, err := e.store.MarkCached(item.ID, cached, time.Now(), item.CachedAt)
	if err != nil {
		return itemOutcome{}, err
	}
	return itemOutcome{updated: updated}, nil
}

// processMediaAnalysis runs the vision model once per media attachment and
// aggregates the results. Items without media reach the analyzed state
// trivially, with empty results and no model calls.
func (e *Engine) processMediaAnalysis(ctx context.Context, item *types.ContentItem, sel models.Selection) (itemOutcome, error) {
	if len(item.Media) == 0 {
		updated, err := e.store.MarkMediaAnalyzed(item.ID, nil, time.Now(), item.MediaAnalyzedAt)
		if err != nil {
			return itemOutcome{}, err
		}
		return itemOutcome{updated: updated}, nil
	}

	analyses := make([]types.MediaAnalysis, 0, len(item.Media))
	for _, m := range item.Media {
		analysis := types.MediaAnalysis{MediaURL: m.URL, Kind: m.Kind}

		if !m.Cached() {
			// The cache kept the original metadata on fetch failure so the
			// item stays processable; record why there is no description.
			analysis.Description = fmt.Sprintf("(media could not be fetched: %s)", m.FetchError)
			analyses = append(analyses, analysis)
			continue
		}

		data, err := os.ReadFile(m.LocalPath)
		if err != nil {
			return itemOutcome{}, fmt.Errorf("read cached media %s: %w", m.CacheKey, err)
		}

		text, err := e.generate(ctx, models.PhaseVision, sel, buildMediaPrompt(item), &models.ImageInput{
			MediaType: media.MediaTypeFor(m.LocalPath),
			Data:      data,
		})
		if err != nil {
			return itemOutcome{}, err
		}
		analysis.Description = strings.TrimSpace(text)
		analysis.Model = sel.Model
		analyses = append(analyses, analysis)
	}

	updated, err := e.store.MarkMediaAnalyzed(item.ID, analyses, time.Now(), item.MediaAnalyzedAt)
	if err != nil {
		return itemOutcome{}, err
	}
	return itemOutcome{updated: updated}, nil
}

// processUnderstanding makes one model call combining the item text, its
// aggregated media analysis, and thread context from the pre-dispatch
// snapshot.
func (e *Engine) processUnderstanding(ctx context.Context, item *types.ContentItem, sel models.Selection, siblings []types.ContentItem) (itemOutcome, error) {
	prompt := buildUnderstandingPrompt(item, siblings)

	text, err := e.generate(ctx, models.PhaseKBGeneration, sel, prompt, nil)
	if err != nil {
		return itemOutcome{}, err
	}

	updated, err := e.store.MarkUnderstood(item.ID, strings.TrimSpace(text), sel.Model, time.Now(), item.UnderstoodAt)
	if err != nil {
		return itemOutcome{}, err
	}
	return itemOutcome{updated: updated}, nil
}

// processCategorization asks the model for a category, biased toward the
// existing taxonomy, then reuses a matching category (case-insensitive) or
// creates a new one.
func (e *Engine) processCategorization(ctx context.Context, item *types.ContentItem, sel models.Selection, taxonomy []string) (itemOutcome, error) {
	prompt := buildCategoryPrompt(item, taxonomy)

	text, err := e.generate(ctx, models.PhaseKBGeneration, sel, prompt, nil)
	if err != nil {
		return itemOutcome{}, err
	}

	main, subCat, err := parseCategoryResponse(text)
	if err != nil {
		return itemOutcome{}, err
	}

	existing, err := e.store.FindCategory(main)
	if err != nil {
		return itemOutcome{}, err
	}
	reused := existing != nil
	var canonical string
	if existing != nil {
		canonical = existing.Name
	} else {
		created, err := e.store.CreateCategory(main)
		if err != nil {
			return itemOutcome{}, err
		}
		canonical = created.Name
	}

	assignment := types.CategoryAssignment{
		Main:   canonical,
		Sub:    subCat,
		Model:  sel.Model,
		Reused: reused,
	}
	updated, err := e.store.MarkCategorized(item.ID, assignment, time.Now(), item.CategorizedAt)
	if err != nil {
		return itemOutcome{}, err
	}
	return itemOutcome{
		updated:         updated,
		reusedCategory:  updated && reused,
		createdCategory: updated && !reused,
	}, nil
}

// threadSnapshot groups items by thread, ordered by position, as a stable
// view for thread-context reads.
func threadSnapshot(items []types.ContentItem) map[string][]types.ContentItem {
	byThread := make(map[string][]types.ContentItem)
	for i := range items {
		if items[i].ThreadID == "" {
			continue
		}
		byThread[items[i].ThreadID] = append(byThread[items[i].ThreadID], items[i])
	}
	for id := range byThread {
		members := byThread[id]
		sort.Slice(members, func(i, j int) bool {
			if members[i].PositionInThread != members[j].PositionInThread {
				return members[i].PositionInThread < members[j].PositionInThread
			}
			return members[i].PostedAt.Before(members[j].PostedAt)
		})
	}
	return byThread
}

// taxonomySnapshot returns current category names ordered by size, largest
// first, for prompt construction.
func (e *Engine) taxonomySnapshot() ([]string, error) {
	cats, err := e.store.ListCategories()
	if err != nil {
		return nil, err
	}
	counts, err := e.store.CategoryItemCounts()
	if err != nil {
		return nil, err
	}

	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = c.Name
	}
	sort.SliceStable(names, func(i, j int) bool {
		return counts[names[i]] > counts[names[j]]
	})
	return names, nil
}
