package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ejwhitmore/tweetvault/internal/types"
)

const pageOne = `{
	"data": [
		{
			"id": "100",
			"text": "check out this diagram",
			"author_id": "u1",
			"conversation_id": "100",
			"created_at": "2026-08-01T12:00:00Z",
			"attachments": {"media_keys": ["m1", "m2"]},
			"public_metrics": {"like_count": 42, "retweet_count": 7, "reply_count": 3, "quote_count": 1}
		}
	],
	"includes": {
		"media": [
			{"media_key": "m1", "type": "photo", "url": "https://pbs.twimg.com/media/m1.jpg"},
			{"media_key": "m2", "type": "video", "preview_image_url": "https://pbs.twimg.com/media/m2_preview.jpg"}
		],
		"users": [{"id": "u1", "username": "gopher", "name": "Go Pher"}]
	},
	"meta": {"next_token": "page2"}
}`

const pageTwo = `{
	"data": [
		{
			"id": "101",
			"text": "a reply",
			"author_id": "u1",
			"conversation_id": "100",
			"in_reply_to_user_id": "u1",
			"created_at": "2026-08-01T12:05:00Z",
			"public_metrics": {"like_count": 5}
		}
	],
	"includes": {"users": [{"id": "u1", "username": "gopher", "name": "Go Pher"}]},
	"meta": {}
}`

func newBookmarksServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token123", r.Header.Get("Authorization"))
		assert.Equal(t, "/users/u1/bookmarks", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("pagination_token") == "page2" {
			fmt.Fprint(w, pageTwo)
			return
		}
		fmt.Fprint(w, pageOne)
	}))
}

func TestFetchBookmarksPagination(t *testing.T) {
	srv := newBookmarksServer(t)
	defer srv.Close()

	c := NewXAPIClient("token123", "u1", 100, 5)
	c.baseURL = srv.URL

	items, err := c.FetchBookmarks(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, items, 2)

	first := items[0]
	assert.Equal(t, "100", first.ID)
	assert.Equal(t, "gopher", first.AuthorHandle)
	assert.Equal(t, "Go Pher", first.AuthorName)
	assert.Equal(t, "https://x.com/gopher/status/100", first.OriginalURL)
	assert.Equal(t, 42, first.Likes)
	assert.Equal(t, 53, first.TotalEngagement())
	assert.Equal(t, "2026-08-01T12:00:00Z", first.PostedAt.UTC().Format("2006-01-02T15:04:05Z"))

	require.Len(t, first.Media, 2)
	assert.Equal(t, types.MediaPhoto, first.Media[0].Kind)
	assert.Equal(t, "https://pbs.twimg.com/media/m1.jpg", first.Media[0].URL)
	// Videos carry no direct URL; the preview image is used instead.
	assert.Equal(t, types.MediaVideo, first.Media[1].Kind)
	assert.Equal(t, "https://pbs.twimg.com/media/m2_preview.jpg", first.Media[1].URL)

	second := items[1]
	assert.Equal(t, "u1", second.InReplyToUserID)
	assert.True(t, second.IsReply())
	assert.Equal(t, "100", second.ConversationID)
}

func TestFetchBookmarksLimit(t *testing.T) {
	srv := newBookmarksServer(t)
	defer srv.Close()

	c := NewXAPIClient("token123", "u1", 100, 5)
	c.baseURL = srv.URL

	items, err := c.FetchBookmarks(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestFetchBookmarksAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"title": "Too Many Requests"}`)
	}))
	defer srv.Close()

	c := NewXAPIClient("token123", "u1", 100, 5)
	c.baseURL = srv.URL

	_, err := c.FetchBookmarks(context.Background(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}
