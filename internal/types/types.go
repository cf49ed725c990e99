package types

import "time"

// MediaKind identifies the kind of media attached to a bookmark.
type MediaKind string

const (
	MediaPhoto MediaKind = "photo"
	MediaVideo MediaKind = "video"
	MediaGIF   MediaKind = "animated_gif"
)

// MediaItem is one media attachment on a content item. Cache fields are
// filled in by the media cache; FetchError is set when a download failed and
// the original metadata was kept so the item stays processable.
type MediaItem struct {
	URL        string    `json:"url"`
	Kind       MediaKind `json:"kind"`
	CacheKey   string    `json:"cache_key,omitempty"`
	LocalPath  string    `json:"local_path,omitempty"`
	CachedAt   time.Time `json:"cached_at,omitzero"`
	FetchError string    `json:"fetch_error,omitempty"`
}

// Cached reports whether this media entry was successfully cached.
func (m MediaItem) Cached() bool {
	return m.CacheKey != "" && m.FetchError == ""
}

// MediaAnalysis is the structured result of analyzing one media attachment,
// with the model that produced it (provenance).
type MediaAnalysis struct {
	MediaURL    string    `json:"media_url"`
	Kind        MediaKind `json:"kind"`
	Description string    `json:"description"`
	Model       string    `json:"model,omitempty"`
}

// CategoryAssignment records where an item was filed and which model decided.
type CategoryAssignment struct {
	Main   string `json:"main"`
	Sub    string `json:"sub,omitempty"`
	Model  string `json:"model"`
	Reused bool   `json:"reused"`
}

// ContentItem is one ingested bookmark and its full processing state.
//
// The four sub-phase flags are independent. A flag is only trustworthy when
// its as-of timestamp is >= LastModified; an item edited after a flag was set
// is stale and eligible for reprocessing, but the flag is never physically
// unset on staleness so the audit history survives.
type ContentItem struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id,omitempty"`

	AuthorID        string `json:"author_id"`
	AuthorHandle    string `json:"author_handle"`
	AuthorName      string `json:"author_name,omitempty"`
	InReplyToUserID string `json:"in_reply_to_user_id,omitempty"`

	Text  string      `json:"text"`
	Media []MediaItem `json:"media,omitempty"`

	Likes    int `json:"likes"`
	Retweets int `json:"retweets"`
	Replies  int `json:"replies"`
	Quotes   int `json:"quotes"`

	ThreadID         string `json:"thread_id,omitempty"`
	PositionInThread int    `json:"position_in_thread,omitempty"`
	ThreadLength     int    `json:"thread_length,omitempty"`
	IsThreadRoot     bool   `json:"is_thread_root,omitempty"`

	OriginalURL  string    `json:"original_url"`
	PostedAt     time.Time `json:"posted_at"`
	FetchedAt    time.Time `json:"fetched_at"`
	LastModified time.Time `json:"last_modified"`

	Cached          bool      `json:"cached"`
	CachedAt        time.Time `json:"cached_at,omitzero"`
	MediaAnalyzed   bool      `json:"media_analyzed"`
	MediaAnalyzedAt time.Time `json:"media_analyzed_at,omitzero"`
	Understood      bool      `json:"understood"`
	UnderstoodAt    time.Time `json:"understood_at,omitzero"`
	Categorized     bool      `json:"categorized"`
	CategorizedAt   time.Time `json:"categorized_at,omitzero"`

	MediaAnalyses      []MediaAnalysis     `json:"media_analyses,omitempty"`
	Understanding      string              `json:"understanding,omitempty"`
	UnderstandingModel string              `json:"understanding_model,omitempty"`
	Category           *CategoryAssignment `json:"category,omitempty"`
}

// TotalEngagement is the sum of all engagement counters.
func (c *ContentItem) TotalEngagement() int {
	return c.Likes + c.Retweets + c.Replies + c.Quotes
}

// IsReply reports whether the item replies to another post.
func (c *ContentItem) IsReply() bool {
	return c.InReplyToUserID != ""
}

// SubPhaseState returns the flag and as-of timestamp for a sub-phase.
func (c *ContentItem) SubPhaseState(sub SubPhase) (bool, time.Time) {
	switch sub {
	case SubCache:
		return c.Cached, c.CachedAt
	case SubMediaAnalysis:
		return c.MediaAnalyzed, c.MediaAnalyzedAt
	case SubUnderstanding:
		return c.Understood, c.UnderstoodAt
	case SubCategorization:
		return c.Categorized, c.CategorizedAt
	}
	return false, time.Time{}
}

// SubPhase identifies an independently tracked step of content processing.
type SubPhase int

const (
	SubCache SubPhase = iota
	SubMediaAnalysis
	SubUnderstanding
	SubCategorization
)

// SubPhases lists all sub-phases in processing order.
var SubPhases = []SubPhase{SubCache, SubMediaAnalysis, SubUnderstanding, SubCategorization}

func (s SubPhase) String() string {
	switch s {
	case SubCache:
		return "cache"
	case SubMediaAnalysis:
		return "media_analysis"
	case SubUnderstanding:
		return "understanding"
	case SubCategorization:
		return "categorization"
	}
	return "unknown"
}

// ThreadInfo is the computed thread membership of an item.
type ThreadInfo struct {
	ThreadID string `json:"thread_id"`
	Position int    `json:"position"`
	Length   int    `json:"length"`
	IsRoot   bool   `json:"is_root"`
}

// RunStatus is the lifecycle state of a PhaseRun.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// PhaseFailure is one item-level failure collected during a run.
type PhaseFailure struct {
	ItemID  string `json:"item_id"`
	Message string `json:"message"`
}

// PhaseRun is the audit record of one execution attempt of a phase or
// sub-phase over a batch. Terminal state is written exactly once and the row
// is never mutated afterwards.
type PhaseRun struct {
	ID         string         `json:"id"`
	Phase      string         `json:"phase"` // e.g. "3.1"
	ItemIDs    []string       `json:"item_ids,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at,omitzero"`
	Status     RunStatus      `json:"status"`
	Processed  int            `json:"items_processed"`
	Skipped    int            `json:"items_skipped"`
	Failed     int            `json:"items_failed"`
	Error      string         `json:"error,omitempty"`
	Failures   []PhaseFailure `json:"failures,omitempty"`

	// Categorization quality: how many items reused an existing category
	// versus creating a new one. Zero outside categorization runs.
	ReusedCategories int `json:"reused_categories,omitempty"`
	NewCategories    int `json:"new_categories,omitempty"`
}

// Category is one node of the knowledge-base taxonomy.
type Category struct {
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// SynthesisDoc is the per-category synthesis output, upserted once per
// synthesis pass.
type SynthesisDoc struct {
	CategorySlug string    `json:"category_slug"`
	Body         string    `json:"body"`
	Model        string    `json:"model"`
	ItemCount    int       `json:"item_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// EmbeddingOwner distinguishes what an embedding vector belongs to.
type EmbeddingOwner string

const (
	EmbeddingOwnerItem      EmbeddingOwner = "item"
	EmbeddingOwnerSynthesis EmbeddingOwner = "synthesis"
)

// Embedding is one stored vector with provenance.
type Embedding struct {
	OwnerKind EmbeddingOwner `json:"owner_kind"`
	OwnerID   string         `json:"owner_id"`
	Vector    []float32      `json:"vector"`
	Model     string         `json:"model"`
	UpdatedAt time.Time      `json:"updated_at"`
}
