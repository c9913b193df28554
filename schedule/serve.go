package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/poiesic/kbpipe/core"
	"golang.org/x/sync/errgroup"
)

// Serve runs every definition on its own fixed interval until ctx is done.
// Definitions are scheduled independently and concurrently; each attempt is a
// RunOnce, so an attempt that finds its definition already running is a no-op.
func (s *Scheduler) Serve(ctx context.Context, defs []*core.PipelineDefinition) error {
	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		if err := core.ValidateDefinition(def); err != nil {
			return err
		}
		if seen[def.Name] {
			return fmt.Errorf("%w: duplicate definition %q", core.ErrInvalidDefinition, def.Name)
		}
		seen[def.Name] = true
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, def := range defs {
		g.Go(func() error {
			s.serveDefinition(ctx, def)
			return nil
		})
	}
	s.logger.Info("scheduler serving", "definitions", len(defs))
	return g.Wait()
}

func (s *Scheduler) serveDefinition(ctx context.Context, def *core.PipelineDefinition) {
	ticker := time.NewTicker(def.Schedule.Interval)
	defer ticker.Stop()

	for {
		s.attempt(ctx, def)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// attempt runs def once and logs the outcome. Failures do not stop the loop:
// the next tick tries again, which is how timed-out and retryable runs resume.
func (s *Scheduler) attempt(ctx context.Context, def *core.PipelineDefinition) {
	if ctx.Err() != nil {
		return
	}
	run, err := s.RunOnce(ctx, def)
	switch {
	case errors.Is(err, ErrBlocked):
		s.logger.Warn("definition blocked, waiting for reset", "definition", def.Name, "err", err)
	case err != nil && ctx.Err() != nil:
		s.logger.Info("run interrupted by shutdown", "definition", def.Name)
	case err != nil:
		s.logger.Error("scheduled run failed", "definition", def.Name, "retryable", core.IsTransient(err), "err", err)
	case run == nil:
		s.logger.Debug("scheduled run skipped, another run is active", "definition", def.Name)
	}
}
