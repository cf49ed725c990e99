package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/ejwhitmore/tweetvault/internal/models"
	"github.com/ejwhitmore/tweetvault/internal/store"
	"github.com/ejwhitmore/tweetvault/internal/types"
)

// runSynthesis writes one synthesis document per category. A category is
// skipped when its document is newer than every member item; force rebuilds
// everything. Categories fail independently.
func (e *Engine) runSynthesis(ctx context.Context, force bool) (result, error) {
	sel, err := e.router.Resolve(models.PhaseSynthesis)
	if err != nil {
		return result{}, err
	}

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
		if !force && doc != nil && synthesisFresh(doc, items) {
			res.skipped++
			continue
		}

		body, err := e.generate(ctx, models.PhaseSynthesis, sel, buildSynthesisPrompt(cat.Name, items), nil)
		if err != nil {
			res.failed++
			res.failures = append(res.failures, failure(cat.Slug, fmt.Errorf("synthesize %q: %w", cat.Name, err)))
			e.log.Warn("synthesis failed", "category", cat.Slug, "error", err)
			continue
		}

		newDoc := &types.SynthesisDoc{
			CategorySlug: cat.Slug,
			Body:         body,
			Model:        sel.Model,
			ItemCount:    len(items),
			UpdatedAt:    time.Now(),
		}
		if err := e.store.UpsertSynthesis(newDoc); err != nil {
			res.failed++
			res.failures = append(res.failures, failure(cat.Slug, err))
			continue
		}
		res.processed++
		res.itemIDs = append(res.itemIDs, cat.Slug)
	}

	return res, nil
}

// synthesisFresh reports whether a document already covers the category's
// current membership: written after every member's last categorization and
// with the same item count.
func synthesisFresh(doc *types.SynthesisDoc, items []types.ContentItem) bool {
	if doc.ItemCount != len(items) {
		return false
	}
	for i := range items {
		if items[i].CategorizedAt.After(doc.UpdatedAt) {
			return false
		}
	}
	return true
}

// embedBatchSize caps inputs per embeddings call.
const embedBatchSize = 32

// runEmbeddings computes vectors for every understood item and every
// synthesis document. An existing vector newer than its source text is kept
// unless force is set.
func (e *Engine) runEmbeddings(ctx context.Context, force bool) (result, error) {
	sel, err := e.router.Resolve(models.PhaseEmbeddings)
	if err != nil {
		return result{}, err
	}

	var res result

	items, err := e.store.AllItems()
	if err != nil {
		return result{}, err
	}
	var pending []embedJob
	for i := range items {
		item := &items[i]
		if !item.Understood || item.Understanding == "" {
			continue
		}
		fresh, err := e.embeddingFresh(types.EmbeddingOwnerItem, item.ID, item.UnderstoodAt)
		if err != nil {
			return res, err
		}
		if fresh && !force {
			res.skipped++
			continue
		}
		pending = append(pending, embedJob{
			kind: types.EmbeddingOwnerItem,
			id:   item.ID,
			text: item.Understanding,
		})
	}

	docs, err := e.store.ListSyntheses()
	if err != nil {
		return res, err
	}
	for _, doc := range docs {
		fresh, err := e.embeddingFresh(types.EmbeddingOwnerSynthesis, doc.CategorySlug, doc.UpdatedAt)
		if err != nil {
			return res, err
		}
		if fresh && !force {
			res.skipped++
			continue
		}
		pending = append(pending, embedJob{
			kind: types.EmbeddingOwnerSynthesis,
			id:   doc.CategorySlug,
			text: doc.Body,
		})
	}

	for start := 0; start < len(pending); start += embedBatchSize {
		if ctx.Err() != nil {
			return res, context.Canceled
		}
		end := min(start+embedBatchSize, len(pending))
		batch := pending[start:end]
		if err := e.embedBatch(ctx, sel, batch, &res); err != nil {
			return res, err
		}
	}

	return res, nil
}

type embedJob struct {
	kind types.EmbeddingOwner
	id   string
	text string
}

// embedBatch performs one embeddings call for a slice of jobs. A failed call
// marks every job in the batch failed; other batches keep going.
func (e *Engine) embedBatch(ctx context.Context, sel models.Selection, batch []embedJob, res *result) error {
	inputs := make([]string, len(batch))
	for i, job := range batch {
		inputs[i] = job.text
	}

	callCtx, cancel := context.WithTimeout(ctx, e.modelTimeout())
	vectors, err := sel.Backend.Embed(callCtx, sel.Model, inputs)
	cancel()

	if e.logExchanges {
		exchange := store.LLMExchange{
			Timestamp: time.Now(),
			Backend:   sel.Backend.Name(),
			Model:     sel.Model,
			Phase:     string(models.PhaseEmbeddings),
			Prompt:    fmt.Sprintf("embed %d inputs", len(inputs)),
		}
		if err != nil {
			exchange.Error = err.Error()
		} else {
			exchange.Response = fmt.Sprintf("%d vectors", len(vectors))
		}
		if _, saveErr := store.SaveLLMExchange(exchange); saveErr != nil {
			e.log.Warn("failed to cache LLM exchange", "error", saveErr)
		}
	}

	if err != nil {
		for _, job := range batch {
			res.failed++
			res.failures = append(res.failures, failure(job.id, err))
		}
		e.log.Warn("embeddings batch failed", "size", len(batch), "error", err)
		return nil
	}
	if len(vectors) != len(batch) {
		return fmt.Errorf("embeddings backend returned %d vectors for %d inputs", len(vectors), len(batch))
	}

	for i, job := range batch {
		emb := &types.Embedding{
			OwnerKind: job.kind,
			OwnerID:   job.id,
			Vector:    vectors[i],
			Model:     sel.Model,
			UpdatedAt: time.Now(),
		}
		if err := e.store.UpsertEmbedding(emb); err != nil {
			res.failed++
			res.failures = append(res.failures, failure(job.id, err))
			continue
		}
		res.processed++
		res.itemIDs = append(res.itemIDs, job.id)
	}
	return nil
}

// embeddingFresh reports whether a stored vector postdates its source text.
func (e *Engine) embeddingFresh(kind types.EmbeddingOwner, ownerID string, sourceAt time.Time) (bool, error) {
	emb, err := e.store.GetEmbedding(kind, ownerID)
	if err != nil {
		return false, err
	}
	return emb != nil && !sourceAt.After(emb.UpdatedAt), nil
}
