package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ejwhitmore/tweetvault/internal/types"
)

const defaultAPIBase = "https://api.twitter.com/2"

// XAPIClient fetches bookmarks through the X API v2 bookmarks endpoint.
type XAPIClient struct {
	bearerToken string
	userID      string
	baseURL     string
	pageSize    int
	maxPages    int
	client      *http.Client
}

// NewXAPIClient creates a bookmarks client. The token must be a user-context
// bearer token with the bookmark.read scope.
func NewXAPIClient(bearerToken, userID string, pageSize, maxPages int) *XAPIClient {
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}
	if maxPages <= 0 {
		maxPages = 5
	}
	return &XAPIClient{
		bearerToken: bearerToken,
		userID:      userID,
		baseURL:     defaultAPIBase,
		pageSize:    pageSize,
		maxPages:    maxPages,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type tweetsResponse struct {
	Data     []tweet `json:"data"`
	Includes struct {
		Media []apiMedia `json:"media"`
		Users []apiUser  `json:"users"`
	} `json:"includes"`
	Meta struct {
		NextToken string `json:"next_token"`
	} `json:"meta"`
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

type tweet struct {
	ID             string `json:"id"`
	Text           string `json:"text"`
	AuthorID       string `json:"author_id"`
	ConversationID string `json:"conversation_id"`
	CreatedAt      string `json:"created_at"`
	InReplyToUser  string `json:"in_reply_to_user_id"`
	Attachments    struct {
		MediaKeys []string `json:"media_keys"`
	} `json:"attachments"`
	PublicMetrics struct {
		Likes    int `json:"like_count"`
		Retweets int `json:"retweet_count"`
		Replies  int `json:"reply_count"`
		Quotes   int `json:"quote_count"`
	} `json:"public_metrics"`
}

type apiMedia struct {
	MediaKey        string `json:"media_key"`
	Type            string `json:"type"`
	URL             string `json:"url"`
	PreviewImageURL string `json:"preview_image_url"`
}

type apiUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// FetchBookmarks pages through the bookmarks endpoint, newest first, until
// limit items or maxPages pages have been read.
func (c *XAPIClient) FetchBookmarks(ctx context.Context, limit int) ([]types.ContentItem, error) {
	var items []types.ContentItem
	nextToken := ""

	for page := 0; page < c.maxPages; page++ {
		resp, err := c.fetchPage(ctx, nextToken)
		if err != nil {
			return nil, err
		}
		if len(resp.Errors) > 0 {
			return nil, fmt.Errorf("x api: %s: %s", resp.Errors[0].Title, resp.Errors[0].Detail)
		}

		mediaByKey := make(map[string]apiMedia, len(resp.Includes.Media))
		for _, m := range resp.Includes.Media {
			mediaByKey[m.MediaKey] = m
		}
		usersByID := make(map[string]apiUser, len(resp.Includes.Users))
		for _, u := range resp.Includes.Users {
			usersByID[u.ID] = u
		}

		now := time.Now()
		for _, t := range resp.Data {
			items = append(items, c.toItem(t, mediaByKey, usersByID, now))
			if limit > 0 && len(items) >= limit {
				return items, nil
			}
		}

		nextToken = resp.Meta.NextToken
		if nextToken == "" {
			break
		}
	}

	return items, nil
}

func (c *XAPIClient) fetchPage(ctx context.Context, paginationToken string) (*tweetsResponse, error) {
	q := url.Values{}
	q.Set("max_results", fmt.Sprintf("%d", c.pageSize))
	q.Set("tweet.fields", "author_id,conversation_id,created_at,in_reply_to_user_id,public_metrics,attachments")
	q.Set("expansions", "attachments.media_keys,author_id")
	q.Set("media.fields", "media_key,type,url,preview_image_url")
	q.Set("user.fields", "username,name")
	if paginationToken != "" {
		q.Set("pagination_token", paginationToken)
	}

	endpoint := fmt.Sprintf("%s/users/%s/bookmarks?%s", c.baseURL, c.userID, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("x api: failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.bearerToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("x api: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("x api: failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("x api: status %d: %s", resp.StatusCode, string(body))
	}

	var parsed tweetsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("x api: failed to parse response: %w", err)
	}
	return &parsed, nil
}

func (c *XAPIClient) toItem(t tweet, mediaByKey map[string]apiMedia, usersByID map[string]apiUser, now time.Time) types.ContentItem {
	item := types.ContentItem{
		ID:              t.ID,
		ConversationID:  t.ConversationID,
		AuthorID:        t.AuthorID,
		InReplyToUserID: t.InReplyToUser,
		Text:            t.Text,
		Likes:           t.PublicMetrics.Likes,
		Retweets:        t.PublicMetrics.Retweets,
		Replies:         t.PublicMetrics.Replies,
		Quotes:          t.PublicMetrics.Quotes,
		FetchedAt:       now,
		LastModified:    now,
	}

	if user, ok := usersByID[t.AuthorID]; ok {
		item.AuthorHandle = user.Username
		item.AuthorName = user.Name
		item.OriginalURL = fmt.Sprintf("https://x.com/%s/status/%s", user.Username, t.ID)
	} else {
		item.OriginalURL = fmt.Sprintf("https://x.com/i/status/%s", t.ID)
	}

	if created, err := time.Parse(time.RFC3339, t.CreatedAt); err == nil {
		item.PostedAt = created
	}

	for _, key := range t.Attachments.MediaKeys {
		m, ok := mediaByKey[key]
		if !ok {
			continue
		}
		mediaURL := m.URL
		if mediaURL == "" {
			// Videos and GIFs expose a preview image only.
			mediaURL = m.PreviewImageURL
		}
		if mediaURL == "" {
			continue
		}
		item.Media = append(item.Media, types.MediaItem{
			URL:  mediaURL,
			Kind: types.MediaKind(m.Type),
		})
	}

	return item
}
