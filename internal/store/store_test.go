package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ejwhitmore/tweetvault/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testItem(id string) *types.ContentItem {
	now := time.Now()
	return &types.ContentItem{
		ID:           id,
		AuthorID:     "author1",
		AuthorHandle: "someone",
		Text:         "test post " + id,
		Likes:        10,
		OriginalURL:  "https://x.com/someone/status/" + id,
		PostedAt:     now.Add(-time.Hour),
		FetchedAt:    now,
		LastModified: now,
	}
}

func TestInsertOrRefresh(t *testing.T) {
	s := newTestStore(t)

	item := testItem("1")
	changed, err := s.InsertOrRefresh(item)
	require.NoError(t, err)
	assert.True(t, changed, "new item counts as changed")

	// Identical counters: not changed, last_modified untouched.
	again := testItem("1")
	again.FetchedAt = time.Now().Add(time.Minute)
	again.LastModified = again.FetchedAt
	changed, err = s.InsertOrRefresh(again)
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := s.GetItem("1")
	require.NoError(t, err)
	assert.Equal(t, item.LastModified.UnixNano(), got.LastModified.UnixNano())

	// A counter moved: changed, last_modified advances.
	bumped := testItem("1")
	bumped.Likes = 11
	bumped.LastModified = time.Now().Add(2 * time.Minute)
	changed, err = s.InsertOrRefresh(bumped)
	require.NoError(t, err)
	assert.True(t, changed)

	got, err = s.GetItem("1")
	require.NoError(t, err)
	assert.Equal(t, 11, got.Likes)
	assert.Equal(t, bumped.LastModified.UnixNano(), got.LastModified.UnixNano())
}

func TestInsertOrRefreshKeepsProcessingState(t *testing.T) {
	s := newTestStore(t)

	item := testItem("1")
	_, err := s.InsertOrRefresh(item)
	require.NoError(t, err)

	at := time.Now()
	updated, err := s.MarkCached("1", nil, at, time.Time{})
	require.NoError(t, err)
	require.True(t, updated)

	bumped := testItem("1")
	bumped.Likes = 99
	_, err = s.InsertOrRefresh(bumped)
	require.NoError(t, err)

	got, err := s.GetItem("1")
	require.NoError(t, err)
	assert.True(t, got.Cached, "counter refresh must not clear sub-phase flags")
	assert.Equal(t, at.UnixNano(), got.CachedAt.UnixNano())
}

func TestConditionalMarkRace(t *testing.T) {
	s := newTestStore(t)

	_, err := s.InsertOrRefresh(testItem("1"))
	require.NoError(t, err)

	// Two passes observed the same as-of timestamp (zero). The first write
	// wins; the second sees updated=false.
	prev := time.Time{}
	first, err := s.MarkUnderstood("1", "explanation A", "model-a", time.Now(), prev)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := s.MarkUnderstood("1", "explanation B", "model-b", time.Now(), prev)
	require.NoError(t, err)
	assert.False(t, second, "stale as-of timestamp must lose the update")

	got, err := s.GetItem("1")
	require.NoError(t, err)
	assert.Equal(t, "explanation A", got.Understanding)
	assert.Equal(t, "model-a", got.UnderstandingModel)
}

func TestResetSubPhase(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []string{"1", "2", "3"} {
		_, err := s.InsertOrRefresh(testItem(id))
		require.NoError(t, err)
		_, err = s.MarkCached(id, nil, time.Now(), time.Time{})
		require.NoError(t, err)
	}

	require.NoError(t, s.ResetSubPhase([]string{"1", "3"}, types.SubCache))

	for id, wantCached := range map[string]bool{"1": false, "2": true, "3": false} {
		got, err := s.GetItem(id)
		require.NoError(t, err)
		assert.Equal(t, wantCached, got.Cached, "item %s", id)
	}
}

func TestMarkCategorized(t *testing.T) {
	s := newTestStore(t)

	_, err := s.InsertOrRefresh(testItem("1"))
	require.NoError(t, err)

	assignment := types.CategoryAssignment{Main: "Go Concurrency", Sub: "channels", Model: "m", Reused: true}
	updated, err := s.MarkCategorized("1", assignment, time.Now(), time.Time{})
	require.NoError(t, err)
	require.True(t, updated)

	got, err := s.GetItem("1")
	require.NoError(t, err)
	require.NotNil(t, got.Category)
	assert.Equal(t, assignment, *got.Category)

	items, err := s.ItemsByCategory("Go Concurrency")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "1", items[0].ID)
}

func TestCountSubPhasePending(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []string{"1", "2", "3"} {
		_, err := s.InsertOrRefresh(testItem(id))
		require.NoError(t, err)
	}
	_, err := s.MarkCached("1", nil, time.Now(), time.Time{})
	require.NoError(t, err)

	pending, err := s.CountSubPhasePending(types.SubCache)
	require.NoError(t, err)
	assert.Equal(t, 2, pending)

	pending, err = s.CountSubPhasePending(types.SubUnderstanding)
	require.NoError(t, err)
	assert.Equal(t, 3, pending)
}

func TestFinalizeRunOnce(t *testing.T) {
	s := newTestStore(t)

	run := &types.PhaseRun{
		ID:        "run1",
		Phase:     "2",
		StartedAt: time.Now(),
		Status:    types.RunRunning,
	}
	require.NoError(t, s.CreateRun(run))

	run.Status = types.RunCompleted
	run.FinishedAt = time.Now()
	run.Processed = 5
	run.ReusedCategories = 3
	run.NewCategories = 2
	require.NoError(t, s.FinalizeRun(run))

	// Terminal state is written exactly once.
	run.Status = types.RunFailed
	err := s.FinalizeRun(run)
	assert.Error(t, err)

	got, err := s.GetRun("run1")
	require.NoError(t, err)
	assert.Equal(t, types.RunCompleted, got.Status)
	assert.Equal(t, 5, got.Processed)
	assert.Equal(t, 3, got.ReusedCategories)
	assert.Equal(t, 2, got.NewCategories)
}

func TestLatestRun(t *testing.T) {
	s := newTestStore(t)

	latest, err := s.LatestRun("3.1")
	require.NoError(t, err)
	assert.Nil(t, latest, "phase never ran")

	older := &types.PhaseRun{ID: "a", Phase: "3.1", StartedAt: time.Now().Add(-time.Hour), Status: types.RunRunning}
	newer := &types.PhaseRun{ID: "b", Phase: "3.1", StartedAt: time.Now(), Status: types.RunRunning}
	require.NoError(t, s.CreateRun(older))
	require.NoError(t, s.CreateRun(newer))

	latest, err = s.LatestRun("3.1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "b", latest.ID)
}

func TestCategories(t *testing.T) {
	s := newTestStore(t)

	created, err := s.CreateCategory("Go Concurrency")
	require.NoError(t, err)
	assert.Equal(t, "go-concurrency", created.Slug)

	// Case-insensitive lookup reuses the canonical name.
	found, err := s.FindCategory("go concurrency")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "Go Concurrency", found.Name)

	missing, err := s.FindCategory("Databases")
	require.NoError(t, err)
	assert.Nil(t, missing)

	// Slug collision resolves to the existing category.
	dup, err := s.CreateCategory("Go   Concurrency")
	require.NoError(t, err)
	assert.Equal(t, "Go Concurrency", dup.Name)

	cats, err := s.ListCategories()
	require.NoError(t, err)
	assert.Len(t, cats, 1)
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Go Concurrency":     "go-concurrency",
		"C++ / Rust FFI":     "c-rust-ffi",
		"  padded  ":         "padded",
		"already-slugged":    "already-slugged",
		"Émigré":             "migr",
		"MLOps & Deployment": "mlops-deployment",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slugify(in), "Slugify(%q)", in)
	}
}

func TestSlugifyNonASCIINames(t *testing.T) {
	// Names with no ASCII alphanumerics must not all collapse to "".
	a := Slugify("日本語")
	b := Slugify("русский язык")
	assert.NotEmpty(t, a)
	assert.NotEmpty(t, b)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, Slugify("日本語"), "slug must be stable")
	assert.Equal(t, a, Slugify("  日本語  "), "padding must not change the slug")
}

func TestCategoriesWithNonASCIINames(t *testing.T) {
	s := newTestStore(t)

	first, err := s.CreateCategory("日本語")
	require.NoError(t, err)
	second, err := s.CreateCategory("中文")
	require.NoError(t, err)
	assert.NotEqual(t, first.Slug, second.Slug, "distinct names must keep distinct rows")

	cats, err := s.ListCategories()
	require.NoError(t, err)
	assert.Len(t, cats, 2)
}

func TestSynthesisRoundTrip(t *testing.T) {
	s := newTestStore(t)

	doc, err := s.GetSynthesis("go-concurrency")
	require.NoError(t, err)
	assert.Nil(t, doc)

	want := &types.SynthesisDoc{
		CategorySlug: "go-concurrency",
		Body:         "## Themes\n\nchannels everywhere",
		Model:        "m",
		ItemCount:    3,
		UpdatedAt:    time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.UpsertSynthesis(want))

	got, err := s.GetSynthesis("go-concurrency")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.Body, got.Body)
	assert.Equal(t, want.ItemCount, got.ItemCount)

	want.Body = "updated"
	want.ItemCount = 4
	require.NoError(t, s.UpsertSynthesis(want))

	n, err := s.CountSyntheses()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEmbeddingRoundTrip(t *testing.T) {
	s := newTestStore(t)

	emb := &types.Embedding{
		OwnerKind: types.EmbeddingOwnerItem,
		OwnerID:   "1",
		Vector:    []float32{0.1, -0.5, 0.25},
		Model:     "text-embedding-3-small",
		UpdatedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.UpsertEmbedding(emb))

	got, err := s.GetEmbedding(types.EmbeddingOwnerItem, "1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, emb.Vector, got.Vector)

	n, err := s.CountEmbeddings(types.EmbeddingOwnerItem)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.CountEmbeddings(types.EmbeddingOwnerSynthesis)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
