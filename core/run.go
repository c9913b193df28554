package core

import (
	"fmt"
	"time"
)

// RunState is the lifecycle state of a Run.
type RunState string

const (
	RunPending   RunState = "pending"
	RunRunning   RunState = "running"
	RunTimedOut  RunState = "timed_out"
	RunSucceeded RunState = "succeeded"
	RunFailed    RunState = "failed"
)

var runTransitions = map[RunState][]RunState{
	RunPending:  {RunRunning},
	RunRunning:  {RunSucceeded, RunTimedOut, RunFailed},
	RunTimedOut: {RunPending},
	RunFailed:   {RunPending},
}

// CanTransition reports whether the state machine allows moving from s to next.
// failed -> pending is further restricted to retryable failures (see Run.Reschedulable).
func (s RunState) CanTransition(next RunState) bool {
	for _, allowed := range runTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Finished reports whether a run in state s has stopped executing.
func (s RunState) Finished() bool {
	return s == RunSucceeded || s == RunTimedOut || s == RunFailed
}

// Valid reports whether s is a known state.
func (s RunState) Valid() bool {
	switch s {
	case RunPending, RunRunning, RunTimedOut, RunSucceeded, RunFailed:
		return true
	}
	return false
}

// Run is one bounded execution of the scheduler against a pipeline definition.
type Run struct {
	ID              string
	Definition      string
	Version         string
	State           RunState
	Retryable       bool // Only meaningful when State is RunFailed
	Error           string
	StartCursor     Cursor
	EndCursor       Cursor
	Batches         int
	ItemsCommitted  int
	ChunksCommitted int
	ImageFailures   int
	CreatedAt       time.Time
	StartedAt       time.Time
	FinishedAt      time.Time
}

// NewRun creates a pending run.
func NewRun(id string, def *PipelineDefinition, now time.Time) *Run {
	return &Run{
		ID:         id,
		Definition: def.Name,
		Version:    def.Version(),
		State:      RunPending,
		CreatedAt:  now,
	}
}

// Transition moves the run to next, stamping start and finish times.
func (r *Run) Transition(next RunState, now time.Time) error {
	if !r.State.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.State, next)
	}
	if next == RunPending && r.State == RunFailed && !r.Retryable {
		return fmt.Errorf("%w: terminal failure cannot be rescheduled", ErrInvalidTransition)
	}
	r.State = next
	switch {
	case next == RunRunning:
		r.StartedAt = now
	case next.Finished():
		r.FinishedAt = now
	}
	return nil
}

// Fail moves a running run to failed, recording the error and its class.
func (r *Run) Fail(err error, now time.Time) error {
	r.Error = err.Error()
	r.Retryable = IsTransient(err)
	return r.Transition(RunFailed, now)
}

// Reschedulable reports whether a later attempt may start after this run.
// Only a terminal (non-retryable) failure blocks the definition.
func (r *Run) Reschedulable() bool {
	return r.State != RunFailed || r.Retryable
}

// Duration returns the wall-clock time the run spent executing.
func (r *Run) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
