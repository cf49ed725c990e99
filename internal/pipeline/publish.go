package pipeline

import (
	"context"

	"github.com/ejwhitmore/tweetvault/internal/kb"
)

// runIndex rebuilds the knowledge-base index page from the current taxonomy.
// The index is cheap, so it is always rewritten in full.
func (e *Engine) runIndex(ctx context.Context) (result, error) {
	cats, err := e.store.ListCategories()
	if err != nil {
		return result{}, err
	}
	counts, err := e.store.CategoryItemCounts()
	if err != nil {
		return result{}, err
	}
	docs, err := e.store.ListSyntheses()
	if err != nil {
		return result{}, err
	}
	synthesized := make(map[string]bool, len(docs))
	for _, doc := range docs {
		synthesized[doc.CategorySlug] = true
	}

	var entries []kb.IndexEntry
	total := 0
	for _, cat := range cats {
		n := counts[cat.Name]
		entries = append(entries, kb.IndexEntry{
			Name:         cat.Name,
			Slug:         cat.Slug,
			ItemCount:    n,
			HasSynthesis: synthesized[cat.Slug],
		})
		total += n
	}

	if ctx.Err() != nil {
		return result{}, context.Canceled
	}
	path, err := e.kb.WriteIndex(entries, total)
	if err != nil {
		return result{}, err
	}

	e.log.Info("index written", "path", path, "categories", len(entries), "items", total)
	return result{processed: len(entries)}, nil
}

// runPublish renders one markdown page per category. Categories fail
// independently; a category with no categorized items is skipped.
func (e *Engine) runPublish(ctx context.Context) (result, error) {
	cats, err := e.store.ListCategories()
	if err != nil {
		return result{}, err
	}

	var res result
	for _, cat := range cats {
		if ctx.Err() != nil {
			return res, context.Canceled
		}

		items, err := e.store.ItemsByCategory(cat.Name)
		if err != nil {
			res.failed++
			res.failures = append(res.failures, failure(cat.Slug, err))
			continue
		}
		if len(items) == 0 {
			res.skipped++
			continue
		}

		doc, err := e.store.GetSynthesis(cat.Slug)
		if err != nil {
			res.failed++
			res.failures = append(res.failures, failure(cat.Slug, err))
			continue
		}

		path, err := e.kb.WriteCategoryPage(cat, doc, items)
		if err != nil {
			res.failed++
			res.failures = append(res.failures, failure(cat.Slug, err))
			e.log.Warn("failed to publish category page", "category", cat.Slug, "error", err)
			continue
		}
		e.log.Debug("category page written", "path", path, "items", len(items))
		res.processed++
		res.itemIDs = append(res.itemIDs, cat.Slug)
	}

	return res, nil
}
