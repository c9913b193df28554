package schedule

import (
	"context"
	"errors"
	"fmt"

	"github.com/poiesic/kbpipe/core"
	"github.com/poiesic/kbpipe/storage"
)

// statusRuns is the number of recent runs reported by Status.
const statusRuns = 10

// Status is a snapshot of a definition's scheduling state.
type Status struct {
	Definition string
	Version    string
	Checkpoint *core.Checkpoint // nil if the current version never committed
	Lease      *core.Lease      // nil if no run is active
	Runs       []*core.Run      // newest first
	Blocked    bool             // latest run failed terminally
}

// Status reports the checkpoint, lease and recent runs of def.
func (s *Scheduler) Status(ctx context.Context, def *core.PipelineDefinition) (*Status, error) {
	version := def.Version()
	st := &Status{Definition: def.Name, Version: version}

	checkpoint, err := s.state.Checkpoints.LoadCheckpoint(ctx, def.Name, version)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	st.Checkpoint = checkpoint

	lease, err := s.state.Leases.CurrentLease(ctx, def.Name)
	switch {
	case err == nil:
		st.Lease = lease
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("load lease: %w", err)
	}

	runs, err := s.state.Runs.ListRuns(ctx, def.Name, statusRuns)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	st.Runs = runs
	st.Blocked = len(runs) > 0 && !runs[0].Reschedulable()
	return st, nil
}

// Reset clears a terminal failure so that the definition is scheduled again.
// The checkpoint is untouched; the next run resumes after the last committed item.
func (s *Scheduler) Reset(ctx context.Context, definition string) (*core.Run, error) {
	latest, err := s.state.Runs.LatestRun(ctx, definition)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s has no runs", ErrNothingToReset, definition)
	}
	if err != nil {
		return nil, fmt.Errorf("load latest run: %w", err)
	}
	if latest.Reschedulable() {
		return latest, fmt.Errorf("%w: %s latest run is %s", ErrNothingToReset, definition, latest.State)
	}

	latest.Retryable = true
	if err := s.state.Runs.SaveRun(ctx, latest); err != nil {
		return nil, fmt.Errorf("save run: %w", err)
	}
	s.logger.Info("terminal failure reset by operator", "definition", definition, "run", latest.ID)
	return latest, nil
}
