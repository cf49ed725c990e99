package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ejwhitmore/tweetvault/internal/types"
)

const itemColumns = `id, conversation_id, author_id, author_handle, author_name,
	in_reply_to_user_id, text, media, likes, retweets, replies, quotes,
	thread_id, position_in_thread, thread_length, is_thread_root, original_url,
	posted_at, fetched_at, last_modified,
	cached, cached_at, media_analyzed, media_analyzed_at,
	understood, understood_at, categorized, categorized_at,
	media_analyses, understanding, understanding_model,
	main_category, sub_category, category_model, category_reused`

// InsertOrRefresh inserts a new item, or refreshes the engagement counters of
// an existing one. Processing state on an existing row is never touched, and
// last_modified only moves forward when a counter actually changed.
// Returns true when the row is new or a counter changed.
func (s *Store) InsertOrRefresh(item *types.ContentItem) (bool, error) {
	mediaJSON, err := json.Marshal(item.Media)
	if err != nil {
		return false, err
	}

	res, err := s.db.Exec(`
		INSERT INTO items (id, conversation_id, author_id, author_handle, author_name,
			in_reply_to_user_id, text, media, likes, retweets, replies, quotes,
			original_url, posted_at, fetched_at, last_modified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			likes = excluded.likes,
			retweets = excluded.retweets,
			replies = excluded.replies,
			quotes = excluded.quotes,
			fetched_at = excluded.fetched_at,
			last_modified = excluded.last_modified
		WHERE likes <> excluded.likes OR retweets <> excluded.retweets
			OR replies <> excluded.replies OR quotes <> excluded.quotes
	`, item.ID, item.ConversationID, item.AuthorID, item.AuthorHandle, item.AuthorName,
		item.InReplyToUserID, item.Text, string(mediaJSON),
		item.Likes, item.Retweets, item.Replies, item.Quotes,
		item.OriginalURL, tsInt(item.PostedAt), tsInt(item.FetchedAt), tsInt(item.LastModified))
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetItem loads one item by id. Returns sql.ErrNoRows when absent.
func (s *Store) GetItem(id string) (*types.ContentItem, error) {
	row := s.db.QueryRow(`SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	return scanItem(row)
}

// AllItems returns every item ordered by post time.
func (s *Store) AllItems() ([]types.ContentItem, error) {
	return s.queryItems(`SELECT ` + itemColumns + ` FROM items ORDER BY posted_at, id`)
}

// ItemsInConversation returns the stored items of one author inside a
// conversation, ordered by post time. Used by thread detection.
func (s *Store) ItemsInConversation(conversationID, authorID string) ([]types.ContentItem, error) {
	return s.queryItems(`SELECT `+itemColumns+` FROM items
		WHERE conversation_id = ? AND author_id = ?
		ORDER BY posted_at, id`, conversationID, authorID)
}

// ItemsInThread returns resolved thread members ordered by position.
func (s *Store) ItemsInThread(threadID string) ([]types.ContentItem, error) {
	return s.queryItems(`SELECT `+itemColumns+` FROM items
		WHERE thread_id = ?
		ORDER BY position_in_thread, posted_at`, threadID)
}

// ItemsByCategory returns understood items filed under a category name.
func (s *Store) ItemsByCategory(name string) ([]types.ContentItem, error) {
	return s.queryItems(`SELECT `+itemColumns+` FROM items
		WHERE main_category = ? AND categorized = 1
		ORDER BY posted_at, id`, name)
}

// SetThreadInfo persists computed thread membership for an item.
func (s *Store) SetThreadInfo(id string, info types.ThreadInfo) error {
	_, err := s.db.Exec(`
		UPDATE items SET thread_id = ?, position_in_thread = ?, thread_length = ?, is_thread_root = ?
		WHERE id = ?
	`, info.ThreadID, info.Position, info.Length, info.IsRoot, id)
	return err
}

// RefreshThreadLength updates the stored thread length on all members of a
// thread without renumbering positions.
func (s *Store) RefreshThreadLength(threadID string, length int) error {
	_, err := s.db.Exec(`UPDATE items SET thread_length = ? WHERE thread_id = ?`, length, threadID)
	return err
}

// MarkCached completes the cache sub-phase for an item, storing the updated
// media list. The update only applies when cached_at still matches the value
// observed at candidate-set construction, which makes racing passes safe:
// exactly one writer wins, the other sees updated=false.
func (s *Store) MarkCached(id string, media []types.MediaItem, at, prev time.Time) (bool, error) {
	mediaJSON, err := json.Marshal(media)
	if err != nil {
		return false, err
	}
	return s.conditionalUpdate(`
		UPDATE items SET media = ?, cached = 1, cached_at = ?
		WHERE id = ? AND cached_at = ?
	`, string(mediaJSON), tsInt(at), id, tsInt(prev))
}

// MarkMediaAnalyzed completes the media-analysis sub-phase with its results.
func (s *Store) MarkMediaAnalyzed(id string, analyses []types.MediaAnalysis, at, prev time.Time) (bool, error) {
	if analyses == nil {
		analyses = []types.MediaAnalysis{}
	}
	resultJSON, err := json.Marshal(analyses)
	if err != nil {
		return false, err
	}
	return s.conditionalUpdate(`
		UPDATE items SET media_analyses = ?, media_analyzed = 1, media_analyzed_at = ?
		WHERE id = ? AND media_analyzed_at = ?
	`, string(resultJSON), tsInt(at), id, tsInt(prev))
}

// MarkUnderstood completes the understanding sub-phase with provenance.
func (s *Store) MarkUnderstood(id, understanding, model string, at, prev time.Time) (bool, error) {
	return s.conditionalUpdate(`
		UPDATE items SET understanding = ?, understanding_model = ?, understood = 1, understood_at = ?
		WHERE id = ? AND understood_at = ?
	`, understanding, model, tsInt(at), id, tsInt(prev))
}

// MarkCategorized completes the categorization sub-phase with provenance.
func (s *Store) MarkCategorized(id string, cat types.CategoryAssignment, at, prev time.Time) (bool, error) {
	return s.conditionalUpdate(`
		UPDATE items SET main_category = ?, sub_category = ?, category_model = ?, category_reused = ?,
			categorized = 1, categorized_at = ?
		WHERE id = ? AND categorized_at = ?
	`, cat.Main, cat.Sub, cat.Model, cat.Reused, tsInt(at), id, tsInt(prev))
}

func (s *Store) conditionalUpdate(query string, args ...any) (bool, error) {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ResetSubPhase rolls back a sub-phase flag for the given items only. Used by
// failure recovery, which is always scoped to the in-flight batch.
func (s *Store) ResetSubPhase(ids []string, sub types.SubPhase) error {
	if len(ids) == 0 {
		return nil
	}
	flag, at, err := subPhaseColumns(sub)
	if err != nil {
		return err
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	_, err = s.db.Exec(
		fmt.Sprintf(`UPDATE items SET %s = 0, %s = 0 WHERE id IN (%s)`, flag, at, placeholders),
		args...)
	return err
}

// CountItems returns the total number of stored items.
func (s *Store) CountItems() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&n)
	return n, err
}

// CountSubPhasePending returns how many items have not completed a sub-phase.
// This is the aggregate the dependency validator gates on.
func (s *Store) CountSubPhasePending(sub types.SubPhase) (int, error) {
	flag, _, err := subPhaseColumns(sub)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM items WHERE %s = 0`, flag)).Scan(&n)
	return n, err
}

func subPhaseColumns(sub types.SubPhase) (flag, at string, err error) {
	switch sub {
	case types.SubCache:
		return "cached", "cached_at", nil
	case types.SubMediaAnalysis:
		return "media_analyzed", "media_analyzed_at", nil
	case types.SubUnderstanding:
		return "understood", "understood_at", nil
	case types.SubCategorization:
		return "categorized", "categorized_at", nil
	}
	return "", "", fmt.Errorf("unknown sub-phase %d", sub)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*types.ContentItem, error) {
	var it types.ContentItem
	var mediaJSON, analysesJSON string
	var postedAt, fetchedAt, lastModified int64
	var cachedAt, mediaAnalyzedAt, understoodAt, categorizedAt int64
	var mainCat, subCat, catModel string
	var catReused bool

	err := row.Scan(
		&it.ID, &it.ConversationID, &it.AuthorID, &it.AuthorHandle, &it.AuthorName,
		&it.InReplyToUserID, &it.Text, &mediaJSON,
		&it.Likes, &it.Retweets, &it.Replies, &it.Quotes,
		&it.ThreadID, &it.PositionInThread, &it.ThreadLength, &it.IsThreadRoot, &it.OriginalURL,
		&postedAt, &fetchedAt, &lastModified,
		&it.Cached, &cachedAt, &it.MediaAnalyzed, &mediaAnalyzedAt,
		&it.Understood, &understoodAt, &it.Categorized, &categorizedAt,
		&analysesJSON, &it.Understanding, &it.UnderstandingModel,
		&mainCat, &subCat, &catModel, &catReused,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(mediaJSON), &it.Media); err != nil {
		return nil, fmt.Errorf("decode media for item %s: %w", it.ID, err)
	}
	if err := json.Unmarshal([]byte(analysesJSON), &it.MediaAnalyses); err != nil {
		return nil, fmt.Errorf("decode media analyses for item %s: %w", it.ID, err)
	}

	it.PostedAt = intTs(postedAt)
	it.FetchedAt = intTs(fetchedAt)
	it.LastModified = intTs(lastModified)
	it.CachedAt = intTs(cachedAt)
	it.MediaAnalyzedAt = intTs(mediaAnalyzedAt)
	it.UnderstoodAt = intTs(understoodAt)
	it.CategorizedAt = intTs(categorizedAt)

	if mainCat != "" {
		it.Category = &types.CategoryAssignment{Main: mainCat, Sub: subCat, Model: catModel, Reused: catReused}
	}

	return &it, nil
}

func (s *Store) queryItems(query string, args ...any) ([]types.ContentItem, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []types.ContentItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}
