package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ejwhitmore/tweetvault/internal/types"
)

func TestNeedsProcessing(t *testing.T) {
	now := time.Now()

	t.Run("incomplete item is eligible", func(t *testing.T) {
		item := &types.ContentItem{LastModified: now}
		assert.True(t, NeedsProcessing(item, types.SubCache, false))
	})

	t.Run("completed item is skipped", func(t *testing.T) {
		item := &types.ContentItem{
			LastModified: now,
			Cached:       true,
			CachedAt:     now.Add(time.Minute),
		}
		assert.False(t, NeedsProcessing(item, types.SubCache, false))
	})

	t.Run("stale item is eligible again", func(t *testing.T) {
		// Modified after the sub-phase last completed.
		item := &types.ContentItem{
			LastModified: now.Add(time.Hour),
			Cached:       true,
			CachedAt:     now,
		}
		assert.True(t, NeedsProcessing(item, types.SubCache, false))
	})

	t.Run("force overrides completion", func(t *testing.T) {
		item := &types.ContentItem{
			LastModified: now,
			Cached:       true,
			CachedAt:     now.Add(time.Minute),
		}
		assert.True(t, NeedsProcessing(item, types.SubCache, true))
	})

	t.Run("flags are independent per sub-phase", func(t *testing.T) {
		item := &types.ContentItem{
			LastModified: now,
			Cached:       true,
			CachedAt:     now.Add(time.Minute),
		}
		assert.False(t, NeedsProcessing(item, types.SubCache, false))
		assert.True(t, NeedsProcessing(item, types.SubUnderstanding, false))
	})
}
