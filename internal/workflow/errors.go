package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrBudgetExceeded is the cause when a run hits its iteration or tool
	// call limit.
	ErrBudgetExceeded = errors.New("workflow budget exceeded")

	// ErrInterruptNotFound is returned by Resume when no suspended round
	// exists for the thread and tool call, or it was already resumed.
	ErrInterruptNotFound = errors.New("interrupt not found")

	// ErrThreadBusy is returned when the thread already has an active run.
	ErrThreadBusy = errors.New("thread has an active run")

	// ErrInvalidDecision is returned for a decision that cannot be applied to
	// the suspended call.
	ErrInvalidDecision = errors.New("invalid decision")
)

// Phase is a state of the run state machine.
type Phase string

const (
	PhaseInit       Phase = "init"
	PhasePlanning   Phase = "planning"
	PhaseExecuting  Phase = "executing"
	PhaseSuspending Phase = "suspending"
	PhaseResuming   Phase = "resuming"
)

// LoopError is an error that ended a run.
type LoopError struct {
	Phase     Phase
	Iteration int
	Err       error
}

// Error implements the error interface.
func (e *LoopError) Error() string {
	return fmt.Sprintf("workflow error at %s (iteration %d): %v", e.Phase, e.Iteration, e.Err)
}

// Unwrap returns the underlying error.
func (e *LoopError) Unwrap() error {
	return e.Err
}
