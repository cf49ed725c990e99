package pipeline

import "github.com/ejwhitmore/tweetvault/internal/types"

// NeedsProcessing decides whether an item requires (re)processing for a
// sub-phase. This is the sole gate every executor uses to build its per-pass
// candidate set; no executor queries raw flags directly.
//
// A completed sub-phase becomes eligible again only when the item was
// modified after the sub-phase last finished. The flag itself is left
// standing for audit history; staleness is purely a timestamp comparison.
func NeedsProcessing(item *types.ContentItem, sub types.SubPhase, force bool) bool {
	if force {
		return true
	}
	done, at := item.SubPhaseState(sub)
	if !done {
		return true
	}
	return item.LastModified.After(at)
}
