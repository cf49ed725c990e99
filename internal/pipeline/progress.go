package pipeline

import (
	"fmt"
	"time"

	"github.com/ejwhitmore/tweetvault/internal/logger"
	"github.com/ejwhitmore/tweetvault/internal/notifier"
	"github.com/ejwhitmore/tweetvault/internal/types"
)

// recorder logs per-phase timing and emits progress/error events for
// external observers. Model provenance itself is written with the results it
// belongs to; the recorder covers the run-level audit trail.
type recorder struct {
	log    *logger.Logger
	notify *notifier.Notifier
}

func newRecorder(log *logger.Logger, notify *notifier.Notifier) *recorder {
	return &recorder{
		log:    log.With("component", "recorder"),
		notify: notify,
	}
}

func (r *recorder) phaseStarted(run *types.PhaseRun) {
	r.log.Info("phase started", "phase", run.Phase, "run_id", run.ID)
}

func (r *recorder) phaseFinished(run *types.PhaseRun) {
	duration := run.FinishedAt.Sub(run.StartedAt)
	r.log.Info("phase finished",
		"phase", run.Phase,
		"run_id", run.ID,
		"status", run.Status,
		"processed", run.Processed,
		"skipped", run.Skipped,
		"failed", run.Failed,
		"duration", duration,
	)

	switch run.Status {
	case types.RunCompleted:
		r.notify.Publish(notifier.Event{
			Kind:  notifier.EventProgress,
			Phase: run.Phase,
			Message: fmt.Sprintf("completed in %s: %d processed, %d skipped, %d failed",
				duration.Round(time.Millisecond), run.Processed, run.Skipped, run.Failed),
		})
	default:
		var ids []string
		for _, f := range run.Failures {
			ids = append(ids, f.ItemID)
		}
		r.notify.Publish(notifier.Event{
			Kind:    notifier.EventError,
			Phase:   run.Phase,
			Message: run.Error,
			ItemIDs: ids,
		})
	}
}

// categorySignal reports the reused-vs-new category ratio for a
// categorization pass; drift toward new categories is a taxonomy quality
// signal worth watching.
func (r *recorder) categorySignal(phaseID string, reused, created int) {
	if reused+created == 0 {
		return
	}
	r.log.Info("categorization taxonomy signal",
		"phase", phaseID,
		"reused", reused,
		"created", created,
	)
}
