package pipeline

import (
	"fmt"

	"github.com/ejwhitmore/tweetvault/internal/types"
)

// ValidationResult is the outcome of a dependency check. Callers must refuse
// to start the phase when OK is false; this is a hard gate, not a warning.
type ValidationResult struct {
	OK     bool
	Reason string
}

func ok() ValidationResult {
	return ValidationResult{OK: true}
}

func blocked(format string, args ...any) ValidationResult {
	return ValidationResult{OK: false, Reason: fmt.Sprintf(format, args...)}
}

// Validate evaluates a phase's precondition predicate against current
// persisted state. The counts are read live, never cached.
func (e *Engine) Validate(phase Phase, sub *types.SubPhase) (ValidationResult, error) {
	switch phase {
	case PhaseInitialization, PhaseFetch:
		return ok(), nil

	case PhaseContent:
		return e.validateContent(sub)

	case PhaseSynthesis:
		return e.requireSubPhaseComplete(types.SubCategorization)

	case PhaseEmbeddings:
		return e.requireSubPhaseComplete(types.SubUnderstanding)

	case PhaseIndex, PhasePublish:
		return e.requireSubPhaseComplete(types.SubCategorization)
	}
	return ValidationResult{}, fmt.Errorf("unknown phase %d", phase)
}

func (e *Engine) validateContent(sub *types.SubPhase) (ValidationResult, error) {
	total, err := e.store.CountItems()
	if err != nil {
		return ValidationResult{}, err
	}
	if total == 0 {
		return blocked("no items have been fetched yet"), nil
	}
	if sub == nil {
		// A full content pass orders its own sub-phases; each item's
		// eligibility is gated per sub-phase inside the executor.
		return ok(), nil
	}

	switch *sub {
	case types.SubCache:
		return ok(), nil
	case types.SubMediaAnalysis, types.SubUnderstanding:
		return e.requireSubPhaseComplete(types.SubCache)
	case types.SubCategorization:
		return e.requireSubPhaseComplete(types.SubUnderstanding)
	}
	return ValidationResult{}, fmt.Errorf("unknown sub-phase %d", *sub)
}

func (e *Engine) requireSubPhaseComplete(sub types.SubPhase) (ValidationResult, error) {
	total, err := e.store.CountItems()
	if err != nil {
		return ValidationResult{}, err
	}
	if total == 0 {
		return blocked("no items have been fetched yet"), nil
	}
	pending, err := e.store.CountSubPhasePending(sub)
	if err != nil {
		return ValidationResult{}, err
	}
	if pending > 0 {
		return blocked("%d of %d items have not completed %s", pending, total, sub), nil
	}
	return ok(), nil
}
