package pipeline

import (
	"github.com/ejwhitmore/tweetvault/internal/types"
)

// SubPhaseProgress is the corpus-level progress of one content sub-phase.
type SubPhaseProgress struct {
	Sub     types.SubPhase
	Pending int
	Done    int
	LastRun *types.PhaseRun
}

// PhaseStatus is the current state of one phase: its most recent run plus,
// for the content phase, per-sub-phase progress.
type PhaseStatus struct {
	Phase     Phase
	LastRun   *types.PhaseRun
	SubPhases []SubPhaseProgress
}

// Status is a point-in-time view of the whole pipeline for drivers.
type Status struct {
	TotalItems int
	Categories int
	Syntheses  int
	ItemVecs   int
	Phases     []PhaseStatus
}

// Status assembles the pipeline status report.
func (e *Engine) Status() (*Status, error) {
	totalItems, err := e.store.CountItems()
	if err != nil {
		return nil, err
	}
	cats, err := e.store.ListCategories()
	if err != nil {
		return nil, err
	}
	syntheses, err := e.store.CountSyntheses()
	if err != nil {
		return nil, err
	}
	itemVecs, err := e.store.CountEmbeddings(types.EmbeddingOwnerItem)
	if err != nil {
		return nil, err
	}

	st := &Status{
		TotalItems: totalItems,
		Categories: len(cats),
		Syntheses:  syntheses,
		ItemVecs:   itemVecs,
	}

	for _, phase := range Phases {
		ps := PhaseStatus{Phase: phase}
		ps.LastRun, err = e.store.LatestRun(ID(phase, nil))
		if err != nil {
			return nil, err
		}

		if phase == PhaseContent {
			for _, sub := range types.SubPhases {
				pending, err := e.store.CountSubPhasePending(sub)
				if err != nil {
					return nil, err
				}
				lastRun, err := e.store.LatestRun(ID(phase, &sub))
				if err != nil {
					return nil, err
				}
				ps.SubPhases = append(ps.SubPhases, SubPhaseProgress{
					Sub:     sub,
					Pending: pending,
					Done:    totalItems - pending,
					LastRun: lastRun,
				})
			}
		}

		st.Phases = append(st.Phases, ps)
	}

	return st, nil
}

// Percent is Done over the corpus size, 0-100. An empty corpus reports 100.
func (p SubPhaseProgress) Percent() int {
	total := p.Pending + p.Done
	if total == 0 {
		return 100
	}
	return p.Done * 100 / total
}
