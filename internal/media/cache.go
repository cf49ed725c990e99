// Package media fetches and locally persists media referenced by bookmarks.
package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/ejwhitmore/tweetvault/internal/logger"
	"github.com/ejwhitmore/tweetvault/internal/types"
)

// Cache downloads media into a local directory, keyed deterministically by
// (source URL, item id). Caching is idempotent per item: an entry whose file
// already exists is reused, never re-downloaded.
type Cache struct {
	dir    string
	client *http.Client
	log    *logger.Logger
}

// New creates a media cache rooted at dir.
func New(dir string, log *logger.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create media cache dir: %w", err)
	}
	return &Cache{
		dir: dir,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		log: log.With("component", "media_cache"),
	}, nil
}

// Dir returns the cache root.
func (c *Cache) Dir() string {
	return c.dir
}

// Key computes the deterministic cache key for a media URL on an item.
func Key(mediaURL, itemID string) string {
	sum := sha256.Sum256([]byte(itemID + "|" + mediaURL))
	return hex.EncodeToString(sum[:16])
}

// CacheAll caches each media entry for an item. A failed fetch tags the
// original entry with an error note instead of failing the item; successful
// entries come back augmented with cache key, local path, and timestamp.
func (c *Cache) CacheAll(ctx context.Context, media []types.MediaItem, itemID string) []types.MediaItem {
	out := make([]types.MediaItem, len(media))
	for i, m := range media {
		out[i] = c.cacheOne(ctx, m, itemID)
	}
	return out
}

func (c *Cache) cacheOne(ctx context.Context, m types.MediaItem, itemID string) types.MediaItem {
	key := Key(m.URL, itemID)
	localPath := filepath.Join(c.dir, key+extensionFor(m.URL))

	if _, err := os.Stat(localPath); err == nil {
		// Already cached for this key; reuse.
		m.CacheKey = key
		m.LocalPath = localPath
		if m.CachedAt.IsZero() {
			m.CachedAt = time.Now()
		}
		m.FetchError = ""
		return m
	}

	if err := c.download(ctx, m.URL, localPath); err != nil {
		c.log.Warn("media fetch failed", "item_id", itemID, "url", m.URL, "error", err)
		m.FetchError = err.Error()
		return m
	}

	m.CacheKey = key
	m.LocalPath = localPath
	m.CachedAt = time.Now()
	m.FetchError = ""
	return m
}

func (c *Cache) download(ctx context.Context, mediaURL, localPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch: status %d", resp.StatusCode)
	}

	tmp := localPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close file: %w", err)
	}
	return os.Rename(tmp, localPath)
}

func extensionFor(mediaURL string) string {
	u, err := url.Parse(mediaURL)
	if err != nil {
		return ""
	}
	ext := path.Ext(u.Path)
	if len(ext) > 5 {
		return ""
	}
	return ext
}

// MediaTypeFor maps a cached file's extension to a MIME type for vision
// requests. Unknown extensions default to JPEG, which is what X serves for
// most photo URLs.
func MediaTypeFor(localPath string) string {
	switch path.Ext(localPath) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
