package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/kbpipe/core"
	"github.com/poiesic/kbpipe/retry"
	"github.com/poiesic/kbpipe/storage"
)

// Result is the outcome of processing one corpus item.
type Result struct {
	Item   *core.CorpusItem
	Record *core.EnrichmentRecord
	Err    error
}

// Pipeline fetches and enriches batches of corpus items concurrently.
type Pipeline struct {
	graph   *Graph
	objects ImageSource
	pool    *ants.Pool
	policy  retry.Policy
	logger  *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the number of items processed concurrently.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if p.pool != nil {
			p.pool.Release()
		}
		p.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger.With("component", "ingestion-pipeline")
		return nil
	}
}

// WithFetchPolicy sets the retry policy for fetching item content.
func WithFetchPolicy(policy retry.Policy) Option {
	return func(p *Pipeline) error {
		if err := policy.Validate(); err != nil {
			return err
		}
		p.policy = policy
		return nil
	}
}

// NewPipeline creates a pipeline reading item content from objects.
func NewPipeline(graph *Graph, objects ImageSource, opts ...Option) (*Pipeline, error) {
	if graph == nil {
		return nil, ErrGraphRequired
	}
	if objects == nil {
		return nil, ErrObjectStoreRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		graph:   graph,
		objects: objects,
		pool:    pool,
		policy:  retry.DefaultPolicy(),
		logger:  slog.Default().With("component", "ingestion-pipeline"),
	}
	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}
	return p, nil
}

// ProcessBatch enriches items concurrently and returns one Result per item in
// input order. At most def.Schedule.Workers items are in flight at once, within
// the bound of the shared pool. Item failures are reported in the results, not
// as an error; the error is non-nil only when work could not be scheduled.
func (p *Pipeline) ProcessBatch(ctx context.Context, def *core.PipelineDefinition, items []*core.CorpusItem, limiter *Limiter) ([]Result, error) {
	if limiter == nil {
		limiter = NewLimiter(def.Verbalization.MaxConcurrency)
	}

	slots := make(chan struct{}, max(def.Schedule.Workers, 1))
	results := make([]Result, len(items))
	var wg sync.WaitGroup
	for i, item := range items {
		results[i].Item = item
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return nil, ctx.Err()
		}
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer func() {
				<-slots
				wg.Done()
			}()
			results[i].Record, results[i].Err = p.processItem(ctx, def, item, limiter)
		})
		if err != nil {
			<-slots
			wg.Done()
			wg.Wait()
			return nil, fmt.Errorf("submit %s: %w", item.ID, err)
		}
	}
	wg.Wait()

	failed := 0
	for i := range results {
		if results[i].Err != nil {
			failed++
			p.logger.Warn("item failed",
				"definition", def.Name,
				"item", results[i].Item.ID,
				"class", core.Classify(results[i].Err),
				"err", results[i].Err)
		}
	}
	p.logger.Debug("processed batch", "definition", def.Name, "items", len(items), "failed", failed)
	return results, nil
}

func (p *Pipeline) processItem(ctx context.Context, def *core.PipelineDefinition, item *core.CorpusItem, limiter *Limiter) (*core.EnrichmentRecord, error) {
	content, err := retry.Value(ctx, p.policy, func(ctx context.Context) ([]byte, error) {
		return p.objects.Fetch(ctx, item.ID)
	})
	if errors.Is(err, storage.ErrNotFound) {
		// Removed since listing; commit it empty so the cursor can pass it.
		p.logger.Info("item vanished before fetch", "definition", def.Name, "item", item.ID)
		return &core.EnrichmentRecord{
			ItemID:     item.ID,
			Source:     item.Source,
			Definition: def.Name,
			Version:    def.Version(),
			Topic:      def.Topic,
			ModifiedAt: item.ModifiedAt,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", item.ID, err)
	}
	return p.graph.Process(ctx, def, item, content, limiter)
}

// Release releases the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}
