package schedule

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/kbpipe/core"
	"github.com/poiesic/kbpipe/ingestion"
	"github.com/poiesic/kbpipe/retry"
	"github.com/poiesic/kbpipe/storage"
)

// DefaultLeaseGrace is added to a definition's budget to form the lease TTL.
const DefaultLeaseGrace = 5 * time.Minute

// BatchProcessor enriches one batch of corpus items.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, def *core.PipelineDefinition, items []*core.CorpusItem, limiter *ingestion.Limiter) ([]ingestion.Result, error)
}

// Observer is notified of committed batches and finished runs.
type Observer interface {
	BatchCommitted(definition string, items, chunks, imageFailures int, elapsed time.Duration)
	RunFinished(run *core.Run)
}

// State groups the repositories holding scheduler state.
type State struct {
	Checkpoints storage.CheckpointRepository
	Leases      storage.LeaseRepository
	Runs        storage.RunRepository
}

// Scheduler executes runs of pipeline definitions.
type Scheduler struct {
	objects    storage.ObjectStore
	processor  BatchProcessor
	index      storage.IndexRepository
	state      State
	clock      Clock
	holder     string
	leaseGrace time.Duration
	policy     retry.Policy
	observer   Observer
	progress   io.Writer
	logger     *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler) error

// WithClock sets the clock used for budgets and run timestamps.
func WithClock(clock Clock) Option {
	return func(s *Scheduler) error {
		if clock == nil {
			clock = SystemClock()
		}
		s.clock = clock
		return nil
	}
}

// WithHolder sets the lease holder identity. Default is host name, pid and a random suffix.
func WithHolder(holder string) Option {
	return func(s *Scheduler) error {
		if holder == "" {
			return errors.New("lease holder cannot be empty")
		}
		s.holder = holder
		return nil
	}
}

// WithLeaseGrace sets the time added to the budget to form the lease TTL.
func WithLeaseGrace(d time.Duration) Option {
	return func(s *Scheduler) error {
		if d < 0 {
			return errors.New("lease grace must be >= 0")
		}
		s.leaseGrace = d
		return nil
	}
}

// WithRetryPolicy sets the retry policy for index calls.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Scheduler) error {
		if err := p.Validate(); err != nil {
			return err
		}
		s.policy = p
		return nil
	}
}

// WithObserver registers an observer of batch and run outcomes.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) error {
		s.observer = o
		return nil
	}
}

// WithProgress writes per-run item progress to w.
func WithProgress(w io.Writer) Option {
	return func(s *Scheduler) error {
		s.progress = w
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger.With("component", "scheduler")
		return nil
	}
}

// NewScheduler creates a scheduler.
func NewScheduler(objects storage.ObjectStore, processor BatchProcessor, index storage.IndexRepository, state State, opts ...Option) (*Scheduler, error) {
	if objects == nil {
		return nil, ErrObjectStoreRequired
	}
	if processor == nil {
		return nil, ErrProcessorRequired
	}
	if index == nil {
		return nil, ErrIndexRequired
	}
	if state.Checkpoints == nil || state.Leases == nil || state.Runs == nil {
		return nil, ErrRepositoryRequired
	}

	s := &Scheduler{
		objects:    objects,
		processor:  processor,
		index:      index,
		state:      state,
		clock:      SystemClock(),
		holder:     defaultHolder(),
		leaseGrace: DefaultLeaseGrace,
		policy:     retry.DefaultPolicy(),
		logger:     slog.Default().With("component", "scheduler"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func defaultHolder() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s/%d/%s", host, os.Getpid(), uuid.NewString()[:8])
}

// runState is the mutable state of one executing run.
type runState struct {
	def        *core.PipelineDefinition
	run        *core.Run
	lease      *core.Lease
	budget     *Budget
	limiter    *ingestion.Limiter
	checkpoint core.Checkpoint
	progress   *ProgressTracker
	logger     *slog.Logger
}

// RunOnce executes one run of def and returns it.
//
// If another run of def holds the lease, RunOnce does nothing and returns a
// nil run and nil error. If the latest run failed terminally it returns that
// run with ErrBlocked until Reset is called. A latest run still marked running
// once the lease is free was abandoned and is failed as retryable before the
// new run starts. A run that ends timed_out is not an error.
func (s *Scheduler) RunOnce(ctx context.Context, def *core.PipelineDefinition) (*core.Run, error) {
	if err := core.ValidateDefinition(def); err != nil {
		return nil, core.Permanent(err)
	}
	logger := s.logger.With("definition", def.Name)

	latest, err := s.state.Runs.LatestRun(ctx, def.Name)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load latest run: %w", err)
	case !latest.Reschedulable():
		return latest, fmt.Errorf("%w: %s: run %s: %s", ErrBlocked, def.Name, latest.ID, latest.Error)
	}

	lease, err := s.state.Leases.AcquireLease(ctx, def.Name, s.holder, s.leaseTTL(def))
	if errors.Is(err, storage.ErrLeaseHeld) {
		logger.Info("run already active, skipping", "reason", err)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("acquire lease: %w", err)
	}

	// State writes after this point must land even if ctx is cancelled.
	detached := context.WithoutCancel(ctx)

	if latest != nil && latest.State == core.RunRunning {
		s.failAbandoned(detached, latest, logger)
	}

	rs := &runState{
		def:     def,
		run:     core.NewRun(uuid.NewString(), def, s.clock.Now()),
		lease:   lease,
		budget:  NewBudget(s.clock, def.Schedule.Budget),
		limiter: ingestion.NewLimiter(def.Verbalization.MaxConcurrency),
	}
	rs.logger = logger.With("run", rs.run.ID)
	defer func() {
		if err := s.state.Leases.ReleaseLease(detached, rs.lease); err != nil && !errors.Is(err, storage.ErrLeaseLost) {
			rs.logger.Warn("failed to release lease", "err", err)
		}
	}()

	if err := s.state.Runs.SaveRun(detached, rs.run); err != nil {
		return nil, fmt.Errorf("save run: %w", err)
	}
	if err := rs.run.Transition(core.RunRunning, s.clock.Now()); err != nil {
		return nil, err
	}
	if err := s.state.Runs.SaveRun(detached, rs.run); err != nil {
		return nil, fmt.Errorf("save run: %w", err)
	}
	rs.logger.Info("run started", "version", rs.run.Version, "budget", def.Schedule.Budget)

	execErr := s.execute(ctx, rs)
	result := s.finish(detached, rs, execErr, ctx.Err())
	return rs.run, result
}

// failAbandoned fails a run whose holder stopped without finishing it. The
// caller holds the lease, so no live holder owns the run.
func (s *Scheduler) failAbandoned(ctx context.Context, run *core.Run, logger *slog.Logger) {
	if err := run.Fail(core.Transient(ErrRunAbandoned), s.clock.Now()); err != nil {
		logger.Warn("failed to mark abandoned run", "run", run.ID, "err", err)
		return
	}
	if err := s.state.Runs.SaveRun(ctx, run); err != nil {
		logger.Warn("failed to save abandoned run", "run", run.ID, "err", err)
		return
	}
	if s.observer != nil {
		s.observer.RunFinished(run)
	}
	logger.Warn("marked abandoned run failed", "run", run.ID, "started", run.StartedAt)
}

// finish moves the run to its terminal state and persists it. Returns the
// error to surface to the caller.
func (s *Scheduler) finish(ctx context.Context, rs *runState, execErr, ctxErr error) error {
	now := s.clock.Now()
	var surfaced error

	switch {
	case execErr == nil:
		_ = rs.run.Transition(core.RunSucceeded, now)
	case errors.Is(execErr, core.ErrBudgetExceeded):
		_ = rs.run.Transition(core.RunTimedOut, now)
		rs.run.Error = execErr.Error()
	case ctxErr != nil && errors.Is(execErr, ctxErr):
		surfaced = core.Transient(fmt.Errorf("run cancelled between batches: %w", execErr))
		_ = rs.run.Fail(surfaced, now)
	default:
		surfaced = execErr
		_ = rs.run.Fail(execErr, now)
	}

	if rs.progress != nil {
		rs.progress.Finish()
	}
	if err := s.state.Runs.SaveRun(ctx, rs.run); err != nil {
		surfaced = errors.Join(surfaced, fmt.Errorf("save run: %w", err))
	}
	if s.observer != nil {
		s.observer.RunFinished(rs.run)
	}

	attrs := []any{
		"state", rs.run.State,
		"batches", rs.run.Batches,
		"items", rs.run.ItemsCommitted,
		"chunks", rs.run.ChunksCommitted,
		"imageFailures", rs.run.ImageFailures,
		"elapsed", rs.run.Duration(),
		"checkpoint", rs.run.EndCursor,
	}
	switch rs.run.State {
	case core.RunFailed:
		rs.logger.Error("run failed", append(attrs, "retryable", rs.run.Retryable, "err", execErr)...)
	case core.RunTimedOut:
		rs.logger.Warn("run timed out, next run resumes from checkpoint", attrs...)
	default:
		rs.logger.Info("run finished", attrs...)
	}
	return surfaced
}

func (s *Scheduler) execute(ctx context.Context, rs *runState) error {
	def := rs.def
	for _, collection := range def.Index.Collections() {
		err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
			return s.index.EnsureCollection(ctx, collection, def.Embedding.Dimensions)
		})
		if err != nil {
			return fmt.Errorf("ensure collection %s: %w", collection, err)
		}
	}

	stored, err := s.state.Checkpoints.LoadCheckpoint(ctx, def.Name, rs.run.Version)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if stored != nil {
		rs.checkpoint = *stored
	} else {
		rs.checkpoint = core.Checkpoint{Definition: def.Name, Version: rs.run.Version}
	}
	rs.run.StartCursor = rs.checkpoint.Cursor
	rs.run.EndCursor = rs.checkpoint.Cursor

	it := NewItemIterator(s.objects, def.Source.Prefix, rs.checkpoint.Cursor, def.Schedule.BatchSize)
	total, err := it.Total(ctx)
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}
	rs.logger.Debug("pending items", "count", total, "after", rs.checkpoint.Cursor)

	rs.progress = NewProgressTracker(s.progress, def.Name)
	rs.progress.Start(total)

	// Batches run detached so cancellation only takes effect between them.
	detached := context.WithoutCancel(ctx)
	return it.ForEach(ctx, func(items []*core.CorpusItem) error {
		if !rs.budget.AllowsBatch() {
			return fmt.Errorf("%w: %s elapsed of %s", core.ErrBudgetExceeded, rs.budget.Elapsed(), def.Schedule.Budget)
		}
		return s.commitBatch(detached, rs, items)
	})
}

// commitBatch enriches items, writes every record to the index and only then
// advances the checkpoint to the last item. Any failure leaves the checkpoint
// where it was.
func (s *Scheduler) commitBatch(ctx context.Context, rs *runState, items []*core.CorpusItem) error {
	def := rs.def
	started := s.clock.Now()

	results, err := s.processor.ProcessBatch(ctx, def, items, rs.limiter)
	if err != nil {
		return fmt.Errorf("process batch: %w", err)
	}

	var records []*storage.IndexRecord
	chunks, imageFailures := 0, 0
	for _, r := range results {
		if r.Err != nil {
			return fmt.Errorf("item %s: %w", r.Item.ID, r.Err)
		}
		records = append(records, storage.IndexRecords(r.Record)...)
		chunks += len(r.Record.Chunks)
		imageFailures += r.Record.ImageFailures
	}

	if len(records) > 0 {
		for _, collection := range def.Index.Collections() {
			err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
				return s.index.Upsert(ctx, collection, records)
			})
			if err != nil {
				return fmt.Errorf("commit batch to %s: %w", collection, err)
			}
		}
	}

	next := rs.checkpoint
	next.Cursor = items[len(items)-1].Cursor()
	next.Items += int64(len(items))
	next.RunID = rs.run.ID
	next.UpdatedAt = s.clock.Now()
	if err := s.state.Checkpoints.AdvanceCheckpoint(ctx, &next); err != nil {
		return fmt.Errorf("advance checkpoint: %w", err)
	}
	rs.checkpoint = next

	elapsed := s.clock.Now().Sub(started)
	rs.budget.Observe(elapsed)

	run := rs.run
	run.EndCursor = next.Cursor
	run.Batches++
	run.ItemsCommitted += len(items)
	run.ChunksCommitted += chunks
	run.ImageFailures += imageFailures
	if err := s.state.Runs.SaveRun(ctx, run); err != nil {
		rs.logger.Warn("failed to record run progress", "err", err)
	}

	rs.progress.Increment(len(items))
	if s.observer != nil {
		s.observer.BatchCommitted(def.Name, len(items), chunks, imageFailures, elapsed)
	}
	rs.logger.Debug("batch committed",
		"items", len(items),
		"chunks", chunks,
		"elapsed", elapsed,
		"checkpoint", next.Cursor)

	lease, err := s.state.Leases.RenewLease(ctx, rs.lease, s.leaseTTL(def))
	if err != nil {
		return core.Transient(fmt.Errorf("renew lease: %w", err))
	}
	rs.lease = lease
	return nil
}

func (s *Scheduler) leaseTTL(def *core.PipelineDefinition) time.Duration {
	return def.Schedule.Budget + s.leaseGrace
}
