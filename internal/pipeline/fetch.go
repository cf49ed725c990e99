package pipeline

import (
	"context"
	"fmt"
	"os"
)

// runInitialization validates that every external dependency is reachable:
// model backends, the store, and the media cache directory. Any failure is
// fatal for the run; nothing item-level changes here.
func (e *Engine) runInitialization(ctx context.Context) (result, error) {
	if err := e.store.Ping(); err != nil {
		return result{}, fmt.Errorf("store unreachable: %w", err)
	}

	if _, err := os.Stat(e.media.Dir()); err != nil {
		return result{}, fmt.Errorf("media cache dir unavailable: %w", err)
	}

	for _, backend := range e.router.Backends() {
		pingCtx, cancel := context.WithTimeout(ctx, e.modelTimeout())
		err := backend.Ping(pingCtx)
		cancel()
		if err != nil {
			// Timeouts are fatal here, unlike during item processing.
			return result{}, fmt.Errorf("backend %s unreachable: %w", backend.Name(), err)
		}
		e.log.Info("backend reachable", "backend", backend.Name())
	}

	return result{}, nil
}

// runFetch pulls new and updated bookmarks from the source. New items are
// created; existing items get refreshed engagement counters when any counter
// changed. The returned item id set (new-or-updated) feeds the caching
// sub-phase.
func (e *Engine) runFetch(ctx context.Context) (result, error) {
	items, err := e.source.FetchBookmarks(ctx, e.cfg.FetchLimit)
	if err != nil {
		return result{}, fmt.Errorf("fetch bookmarks: %w", err)
	}

	var res result
	for i := range items {
		item := &items[i]
		changed, err := e.store.InsertOrRefresh(item)
		if err != nil {
			res.failed++
			res.failures = append(res.failures, failure(item.ID, err))
			continue
		}
		if changed {
			res.processed++
			res.itemIDs = append(res.itemIDs, item.ID)
		} else {
			res.skipped++
		}
	}

	e.log.Info("fetch pass done", "fetched", len(items), "new_or_updated", res.processed, "unchanged", res.skipped)
	return res, nil
}
