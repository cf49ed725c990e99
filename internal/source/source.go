// Package source pulls bookmarked posts from Twitter/X.
package source

import (
	"context"

	"github.com/ejwhitmore/tweetvault/internal/types"
)

// Source is where bookmarks come from. FetchBookmarks returns up to limit
// items carrying payload fields only; processing state is the engine's.
type Source interface {
	FetchBookmarks(ctx context.Context, limit int) ([]types.ContentItem, error)
}
