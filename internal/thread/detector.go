// Package thread resolves author-authored thread membership over stored items.
package thread

import (
	"fmt"
	"sort"

	"github.com/ejwhitmore/tweetvault/internal/store"
	"github.com/ejwhitmore/tweetvault/internal/types"
)

// Detector computes thread membership for content items. Threads are a
// computed relation over the conversation id, restricted to posts by the
// thread author; replies to other authors never form a thread here.
type Detector struct {
	store *store.Store
}

func NewDetector(s *store.Store) *Detector {
	return &Detector{store: s}
}

// Detect returns thread info for an item, or nil when the item is not part
// of a resolvable author-authored thread.
//
// Detection is idempotent and append-only: a position is assigned the first
// time an item is seen and never renumbered. When new replies appear later
// the thread length grows but existing positions stay fixed, so later items
// are appended after the highest assigned position.
func (d *Detector) Detect(itemID string) (*types.ThreadInfo, error) {
	item, err := d.store.GetItem(itemID)
	if err != nil {
		return nil, fmt.Errorf("thread detect %s: %w", itemID, err)
	}

	// A reply to a different author is part of their conversation, not an
	// author-authored thread.
	if item.IsReply() && item.InReplyToUserID != item.AuthorID {
		return nil, nil
	}
	if item.ConversationID == "" {
		return nil, nil
	}

	members, err := d.store.ItemsInConversation(item.ConversationID, item.AuthorID)
	if err != nil {
		return nil, fmt.Errorf("thread detect %s: %w", itemID, err)
	}
	if len(members) < 2 {
		// Either a standalone post, or a reply whose siblings were never
		// ingested. No resolvable thread.
		return nil, nil
	}

	info := types.ThreadInfo{
		ThreadID: item.ConversationID,
		Length:   len(members),
		IsRoot:   !item.IsReply(),
	}

	// Keep an already-assigned position; compute one for new members only.
	if item.ThreadID == item.ConversationID && item.PositionInThread > 0 {
		info.Position = item.PositionInThread
		return &info, nil
	}

	maxAssigned := 0
	var unassigned []types.ContentItem
	for _, m := range members {
		if m.ThreadID == item.ConversationID && m.PositionInThread > 0 {
			if m.PositionInThread > maxAssigned {
				maxAssigned = m.PositionInThread
			}
		} else {
			unassigned = append(unassigned, m)
		}
	}

	// Ordinal by creation time (ties broken by id) among the unassigned
	// members. This is deterministic regardless of the order siblings are
	// dispatched within a pass.
	sort.Slice(unassigned, func(i, j int) bool {
		if unassigned[i].PostedAt.Equal(unassigned[j].PostedAt) {
			return unassigned[i].ID < unassigned[j].ID
		}
		return unassigned[i].PostedAt.Before(unassigned[j].PostedAt)
	})

	ordinal := 0
	for i, m := range unassigned {
		if m.ID == item.ID {
			ordinal = i + 1
			break
		}
	}
	if ordinal == 0 {
		return nil, fmt.Errorf("thread detect %s: item missing from its own conversation", itemID)
	}

	info.Position = maxAssigned + ordinal
	return &info, nil
}
