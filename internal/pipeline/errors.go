package pipeline

import "fmt"

// DependencyUnmetError reports that a phase's precondition over aggregate
// item state does not hold. The phase never starts; no PhaseRun is created.
type DependencyUnmetError struct {
	Phase  string
	Reason string
}

func (e *DependencyUnmetError) Error() string {
	return fmt.Sprintf("phase %s dependency unmet: %s", e.Phase, e.Reason)
}

// ItemProcessingError is a failure on a single item. It is recovered: the
// item is marked failed for the pass and the batch continues.
type ItemProcessingError struct {
	ItemID string
	Phase  string
	Err    error
}

func (e *ItemProcessingError) Error() string {
	return fmt.Sprintf("item %s failed in phase %s: %v", e.ItemID, e.Phase, e.Err)
}

func (e *ItemProcessingError) Unwrap() error {
	return e.Err
}
