package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ejwhitmore/tweetvault/internal/config"
	"github.com/ejwhitmore/tweetvault/internal/kb"
	"github.com/ejwhitmore/tweetvault/internal/logger"
	"github.com/ejwhitmore/tweetvault/internal/media"
	"github.com/ejwhitmore/tweetvault/internal/models"
	"github.com/ejwhitmore/tweetvault/internal/notifier"
	"github.com/ejwhitmore/tweetvault/internal/store"
	"github.com/ejwhitmore/tweetvault/internal/thread"
	"github.com/ejwhitmore/tweetvault/internal/types"
)

// fakeBackend is a scriptable model backend.
type fakeBackend struct {
	generateFn func(req models.TextRequest) (string, error)
	embedFn    func(inputs []string) ([][]float32, error)
	calls      atomic.Int32
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Models() []models.ModelInfo {
	return []models.ModelInfo{
		{ID: "fake-model", Capabilities: []models.Capability{models.CapText, models.CapVision, models.CapEmbed}},
	}
}

func (b *fakeBackend) Ping(context.Context) error { return nil }

func (b *fakeBackend) GenerateText(_ context.Context, req models.TextRequest) (string, error) {
	b.calls.Add(1)
	if b.generateFn == nil {
		return "generated text", nil
	}
	return b.generateFn(req)
}

func (b *fakeBackend) Embed(_ context.Context, _ string, inputs []string) ([][]float32, error) {
	b.calls.Add(1)
	if b.embedFn == nil {
		out := make([][]float32, len(inputs))
		for i := range out {
			out[i] = []float32{0.1, 0.2}
		}
		return out, nil
	}
	return b.embedFn(inputs)
}

type fakeSource struct {
	items []types.ContentItem
	err   error
}

func (f *fakeSource) FetchBookmarks(context.Context, int) ([]types.ContentItem, error) {
	return f.items, f.err
}

type testEnv struct {
	engine  *Engine
	store   *store.Store
	backend *fakeBackend
	source  *fakeSource
	kbDir   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	mediaCache, err := media.New(t.TempDir(), logger.Nop())
	require.NoError(t, err)

	kbDir := t.TempDir()
	builder, err := kb.New(kbDir)
	require.NoError(t, err)

	backend := &fakeBackend{}
	src := &fakeSource{}

	engine := New(Deps{
		Store:              s,
		Router:             models.NewRouter([]models.Backend{backend}, nil),
		Source:             src,
		Media:              mediaCache,
		Threads:            thread.NewDetector(s),
		KB:                 builder,
		Notifier:           notifier.New(nil, "", logger.Nop()),
		Log:                logger.Nop(),
		Config:             config.PipelineConfig{Concurrency: 2, ModelTimeoutSeconds: 30},
		DisableExchangeLog: true,
	})

	return &testEnv{engine: engine, store: s, backend: backend, source: src, kbDir: kbDir}
}

func (env *testEnv) seedItems(t *testing.T, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	base := time.Now().Add(-time.Hour)
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("%d", i)
		_, err := env.store.InsertOrRefresh(&types.ContentItem{
			ID:           id,
			AuthorID:     "a1",
			AuthorHandle: "gopher",
			Text:         "post " + id,
			OriginalURL:  "https://x.com/gopher/status/" + id,
			PostedAt:     base.Add(time.Duration(i) * time.Minute),
			FetchedAt:    time.Now(),
			LastModified: time.Now(),
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

// markThrough completes sub-phases up to and including through for the items.
func (env *testEnv) markThrough(t *testing.T, ids []string, through types.SubPhase) {
	t.Helper()
	now := time.Now()
	for _, id := range ids {
		for _, sub := range types.SubPhases {
			if sub > through {
				break
			}
			var err error
			switch sub {
			case types.SubCache:
				_, err = env.store.MarkCached(id, nil, now, time.Time{})
			case types.SubMediaAnalysis:
				_, err = env.store.MarkMediaAnalyzed(id, nil, now, time.Time{})
			case types.SubUnderstanding:
				_, err = env.store.MarkUnderstood(id, "understanding of "+id, "fake-model", now, time.Time{})
			case types.SubCategorization:
				_, err = env.store.MarkCategorized(id, types.CategoryAssignment{Main: "Go", Model: "fake-model"}, now, time.Time{})
			}
			require.NoError(t, err)
		}
	}
}

func TestExecutePhaseDependencyGate(t *testing.T) {
	env := newTestEnv(t)

	// No items fetched: content cannot start, and no run is recorded.
	_, err := env.engine.ExecutePhase(context.Background(), PhaseContent, nil, false)
	var unmet *DependencyUnmetError
	require.ErrorAs(t, err, &unmet)
	assert.Contains(t, unmet.Reason, "no items")

	runs, err := env.store.ListRuns(10)
	require.NoError(t, err)
	assert.Empty(t, runs, "a blocked phase must not leave a run behind")
}

func TestExecutePhaseSubPhaseGate(t *testing.T) {
	env := newTestEnv(t)
	env.seedItems(t, 3)

	// Categorization requires understanding across the corpus.
	sub := types.SubCategorization
	_, err := env.engine.ExecutePhase(context.Background(), PhaseContent, &sub, false)
	var unmet *DependencyUnmetError
	require.ErrorAs(t, err, &unmet)
	assert.Contains(t, unmet.Reason, "understanding")
}

func TestFetchPhase(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	env.source.items = []types.ContentItem{
		{ID: "1", AuthorID: "a1", AuthorHandle: "gopher", Text: "hello", PostedAt: now, FetchedAt: now, LastModified: now},
		{ID: "2", AuthorID: "a1", AuthorHandle: "gopher", Text: "world", PostedAt: now, FetchedAt: now, LastModified: now},
	}

	run, err := env.engine.ExecutePhase(context.Background(), PhaseFetch, nil, false)
	require.NoError(t, err)
	assert.Equal(t, types.RunCompleted, run.Status)
	assert.Equal(t, 2, run.Processed)
	assert.ElementsMatch(t, []string{"1", "2"}, run.ItemIDs)

	// Unchanged bookmarks on the next pass are skipped.
	run, err = env.engine.ExecutePhase(context.Background(), PhaseFetch, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 0, run.Processed)
	assert.Equal(t, 2, run.Skipped)
}

func TestFetchPhaseSourceOutageIsFatal(t *testing.T) {
	env := newTestEnv(t)
	env.source.err = errors.New("rate limited")

	run, err := env.engine.ExecutePhase(context.Background(), PhaseFetch, nil, false)
	require.Error(t, err)
	require.NotNil(t, run)
	assert.Equal(t, types.RunFailed, run.Status)
	assert.Contains(t, run.Error, "rate limited")
}

func TestUnderstandingPartialFailure(t *testing.T) {
	env := newTestEnv(t)
	ids := env.seedItems(t, 5)
	env.markThrough(t, ids, types.SubMediaAnalysis)

	env.backend.generateFn = func(req models.TextRequest) (string, error) {
		if strings.Contains(req.Prompt, "post 3") {
			return "", errors.New("model overloaded")
		}
		return "an explanation", nil
	}

	sub := types.SubUnderstanding
	run, err := env.engine.ExecutePhase(context.Background(), PhaseContent, &sub, false)
	require.NoError(t, err, "item failures must not fail the run")

	assert.Equal(t, types.RunCompleted, run.Status)
	assert.Equal(t, 4, run.Processed)
	assert.Equal(t, 1, run.Failed)
	require.Len(t, run.Failures, 1)
	assert.Equal(t, "3", run.Failures[0].ItemID)
	assert.Contains(t, run.Failures[0].Message, "model overloaded")

	// The failed item keeps its pending state; the others completed.
	got, err := env.store.GetItem("3")
	require.NoError(t, err)
	assert.False(t, got.Understood)
	got, err = env.store.GetItem("4")
	require.NoError(t, err)
	assert.True(t, got.Understood)
	assert.Equal(t, "an explanation", got.Understanding)
	assert.Equal(t, "fake-model", got.UnderstandingModel)
}

func TestUnderstandingIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ids := env.seedItems(t, 3)
	env.markThrough(t, ids, types.SubMediaAnalysis)

	sub := types.SubUnderstanding
	run, err := env.engine.ExecutePhase(context.Background(), PhaseContent, &sub, false)
	require.NoError(t, err)
	assert.Equal(t, 3, run.Processed)
	callsAfterFirst := env.backend.calls.Load()

	run, err = env.engine.ExecutePhase(context.Background(), PhaseContent, &sub, false)
	require.NoError(t, err)
	assert.Equal(t, 0, run.Processed)
	assert.Equal(t, 3, run.Skipped)
	assert.Equal(t, callsAfterFirst, env.backend.calls.Load(), "no model calls on a no-op pass")

	// force reprocesses everything.
	run, err = env.engine.ExecutePhase(context.Background(), PhaseContent, &sub, true)
	require.NoError(t, err)
	assert.Equal(t, 3, run.Processed)
}

func TestCancellationBeforeDispatch(t *testing.T) {
	env := newTestEnv(t)
	ids := env.seedItems(t, 3)
	env.markThrough(t, ids, types.SubMediaAnalysis)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sub := types.SubUnderstanding
	run, err := env.engine.ExecutePhase(ctx, PhaseContent, &sub, false)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, run)
	assert.Equal(t, types.RunCancelled, run.Status)
	assert.Equal(t, "cancelled", run.Error)
	assert.Equal(t, 0, run.Processed)
}

func TestCategorizationReusesExistingCategories(t *testing.T) {
	env := newTestEnv(t)
	ids := env.seedItems(t, 2)
	env.markThrough(t, ids, types.SubUnderstanding)

	// The model answers with inconsistent casing; both items must land in one
	// canonical category.
	env.backend.generateFn = func(req models.TextRequest) (string, error) {
		if strings.Contains(req.Prompt, "post 1") {
			return `{"main_category": "Go Concurrency", "sub_category": ""}`, nil
		}
		return `{"main_category": "go concurrency", "sub_category": "channels"}`, nil
	}

	sub := types.SubCategorization
	run, err := env.engine.ExecutePhase(context.Background(), PhaseContent, &sub, false)
	require.NoError(t, err)
	assert.Equal(t, 2, run.Processed)

	cats, err := env.store.ListCategories()
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, "Go Concurrency", cats[0].Name)

	items, err := env.store.ItemsByCategory("Go Concurrency")
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestFullContentPass(t *testing.T) {
	env := newTestEnv(t)
	env.seedItems(t, 1)
	_, err := env.store.CreateCategory("Networking")
	require.NoError(t, err)

	env.backend.generateFn = func(req models.TextRequest) (string, error) {
		if strings.Contains(req.Prompt, "main_category") {
			return `{"main_category": "networking", "sub_category": "tcp"}`, nil
		}
		return "an explanation", nil
	}

	run, err := env.engine.ExecutePhase(context.Background(), PhaseContent, nil, false)
	require.NoError(t, err)
	assert.Equal(t, types.RunCompleted, run.Status)
	assert.Equal(t, "3", run.Phase)

	// One pass carries the item through all four sub-phases.
	got, err := env.store.GetItem("1")
	require.NoError(t, err)
	assert.True(t, got.Cached)
	assert.True(t, got.MediaAnalyzed, "an item without media reaches the analyzed state trivially")
	assert.True(t, got.Understood)
	assert.True(t, got.Categorized)
	assert.Equal(t, "an explanation", got.Understanding)
	assert.Equal(t, "fake-model", got.UnderstandingModel)

	// The seeded category is reused under its canonical name, not recreated.
	require.NotNil(t, got.Category)
	assert.Equal(t, "Networking", got.Category.Main)
	assert.Equal(t, "tcp", got.Category.Sub)
	assert.Equal(t, "fake-model", got.Category.Model)
	assert.True(t, got.Category.Reused)
	cats, err := env.store.ListCategories()
	require.NoError(t, err)
	assert.Len(t, cats, 1)

	// Understanding and categorization each cost one model call; caching and
	// media analysis of a media-free item cost none.
	assert.EqualValues(t, 2, env.backend.calls.Load())
	assert.Equal(t, 1, run.ReusedCategories)
	assert.Equal(t, 0, run.NewCategories)
}

func TestFullContentPassRecordsSubPhaseRuns(t *testing.T) {
	env := newTestEnv(t)
	env.seedItems(t, 1)

	env.backend.generateFn = func(req models.TextRequest) (string, error) {
		if strings.Contains(req.Prompt, "main_category") {
			return `{"main_category": "Networking", "sub_category": ""}`, nil
		}
		return "an explanation", nil
	}

	_, err := env.engine.ExecutePhase(context.Background(), PhaseContent, nil, false)
	require.NoError(t, err)

	for _, sub := range types.SubPhases {
		sp := sub
		last, err := env.store.LatestRun(ID(PhaseContent, &sp))
		require.NoError(t, err)
		require.NotNil(t, last, "full pass must leave a run for %s", ID(PhaseContent, &sp))
		assert.Equal(t, types.RunCompleted, last.Status)
		assert.Equal(t, 1, last.Processed)
	}

	// The persisted categorization run carries the reuse counters.
	catRun, err := env.store.LatestRun("3.4")
	require.NoError(t, err)
	require.NotNil(t, catRun)
	assert.Equal(t, 0, catRun.ReusedCategories)
	assert.Equal(t, 1, catRun.NewCategories)

	st, err := env.engine.Status()
	require.NoError(t, err)
	var content *PhaseStatus
	for i := range st.Phases {
		if st.Phases[i].Phase == PhaseContent {
			content = &st.Phases[i]
		}
	}
	require.NotNil(t, content)
	require.Len(t, content.SubPhases, len(types.SubPhases))
	for _, sp := range content.SubPhases {
		assert.NotNil(t, sp.LastRun, "status must show a last run for sub-phase %d", sp.Sub)
		assert.Equal(t, 100, sp.Percent())
	}
}

func TestSynthesisPerCategory(t *testing.T) {
	env := newTestEnv(t)
	ids := env.seedItems(t, 3)
	env.markThrough(t, ids, types.SubCategorization)
	_, err := env.store.CreateCategory("Go")
	require.NoError(t, err)

	env.backend.generateFn = func(req models.TextRequest) (string, error) {
		return "## Themes\n\nsynthesized overview", nil
	}

	run, err := env.engine.ExecutePhase(context.Background(), PhaseSynthesis, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Processed)

	doc, err := env.store.GetSynthesis("go")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Contains(t, doc.Body, "synthesized overview")
	assert.Equal(t, 3, doc.ItemCount)

	// A second pass with unchanged membership is a no-op.
	run, err = env.engine.ExecutePhase(context.Background(), PhaseSynthesis, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 0, run.Processed)
	assert.Equal(t, 1, run.Skipped)
}

func TestEmbeddingsPhase(t *testing.T) {
	env := newTestEnv(t)
	ids := env.seedItems(t, 3)
	env.markThrough(t, ids, types.SubUnderstanding)

	run, err := env.engine.ExecutePhase(context.Background(), PhaseEmbeddings, nil, false)
	require.NoError(t, err)
	assert.Equal(t, types.RunCompleted, run.Status)
	assert.Equal(t, 3, run.Processed)

	n, err := env.store.CountEmbeddings(types.EmbeddingOwnerItem)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Fresh vectors are kept on the next pass.
	run, err = env.engine.ExecutePhase(context.Background(), PhaseEmbeddings, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 0, run.Processed)
	assert.Equal(t, 3, run.Skipped)
}

func TestIndexAndPublish(t *testing.T) {
	env := newTestEnv(t)
	ids := env.seedItems(t, 2)
	env.markThrough(t, ids, types.SubCategorization)
	_, err := env.store.CreateCategory("Go")
	require.NoError(t, err)

	run, err := env.engine.ExecutePhase(context.Background(), PhaseIndex, nil, false)
	require.NoError(t, err)
	assert.Equal(t, types.RunCompleted, run.Status)

	indexPath := filepath.Join(env.kbDir, "README.md")
	data, err := os.ReadFile(indexPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[Go](go.md)")

	run, err = env.engine.ExecutePhase(context.Background(), PhasePublish, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Processed)

	page, err := os.ReadFile(filepath.Join(env.kbDir, "go.md"))
	require.NoError(t, err)
	assert.Contains(t, string(page), "@gopher")
	assert.Contains(t, string(page), "understanding of 1")
}

func TestRunRecordsAreAuditable(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	env.source.items = []types.ContentItem{
		{ID: "1", AuthorID: "a1", AuthorHandle: "gopher", Text: "hello", PostedAt: now, FetchedAt: now, LastModified: now},
	}

	run, err := env.engine.ExecutePhase(context.Background(), PhaseFetch, nil, false)
	require.NoError(t, err)

	stored, err := env.store.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, "2", stored.Phase)
	assert.Equal(t, types.RunCompleted, stored.Status)
	assert.False(t, stored.FinishedAt.IsZero())
	assert.Equal(t, []string{"1"}, stored.ItemIDs)
}
