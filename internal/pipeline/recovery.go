package pipeline

import (
	"time"

	"github.com/ejwhitmore/tweetvault/internal/notifier"
	"github.com/ejwhitmore/tweetvault/internal/types"
)

// handleSubPhaseFailure performs targeted rollback after a sub-phase pass
// aborted partway through its batch. Only the flags of items that were in
// flight are reset; completed siblings keep their state and the rollback is
// never corpus-wide.
func (e *Engine) handleSubPhaseFailure(phaseID string, sub types.SubPhase, inflight []string, cause error) {
	if len(inflight) > 0 {
		if err := e.store.ResetSubPhase(inflight, sub); err != nil {
			e.log.Error("rollback failed",
				"phase", phaseID, "sub_phase", sub.String(), "items", len(inflight), "error", err)
		} else {
			e.log.Warn("rolled back in-flight items",
				"phase", phaseID, "sub_phase", sub.String(), "items", len(inflight))
		}
	}

	e.rec.notify.Publish(notifier.Event{
		Kind:    notifier.EventError,
		Phase:   phaseID,
		Message: cause.Error(),
		ItemIDs: inflight,
		Time:    time.Now(),
	})
}
