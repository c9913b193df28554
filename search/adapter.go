package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/kbpipe/ai"
	"github.com/poiesic/kbpipe/core"
	"github.com/poiesic/kbpipe/retry"
)

// Default adapter settings.
const (
	DefaultLimit           = 8
	DefaultKeywordWeight   = 0.3
	DefaultMaxSubQueries   = 3
	DefaultPassLimit       = 10
	DefaultPassConcurrency = 4
)

// Adapter is one retrieval strategy.
type Adapter interface {
	// Strategy names the strategy the adapter implements.
	Strategy() core.Strategy

	// Search returns hits for query ranked by score, highest first.
	// Failures wrap core.ErrAdapterFailure.
	Search(ctx context.Context, query string) ([]Result, error)
}

// Result is one ranked hit with its normalized citation.
type Result struct {
	Hit      *core.Hit
	Citation core.Citation
}

// settings holds the options shared by both adapters.
type settings struct {
	limit           int
	keywordWeight   float32
	dimensions      int
	maxSubQueries   int
	passLimit       int
	passConcurrency int
	policy          retry.Policy
	monitor         SearchMonitor
	logger          *slog.Logger
}

func defaultSettings() settings {
	return settings{
		limit:           DefaultLimit,
		keywordWeight:   DefaultKeywordWeight,
		dimensions:      core.DefaultEmbeddingDimensions,
		maxSubQueries:   DefaultMaxSubQueries,
		passLimit:       DefaultPassLimit,
		passConcurrency: DefaultPassConcurrency,
		policy:          retry.DefaultPolicy(),
		monitor:         &noopMonitor{},
		logger:          slog.Default(),
	}
}

// Option configures an adapter.
type Option func(*settings) error

// WithLimit sets the number of results returned. Default is DefaultLimit.
func WithLimit(n int) Option {
	return func(s *settings) error {
		if n <= 0 {
			return errors.New("limit must be > 0")
		}
		s.limit = n
		return nil
	}
}

// WithKeywordWeight sets the share of the blended score taken by keyword
// relevance, in [0, 1]. Default is DefaultKeywordWeight.
func WithKeywordWeight(w float32) Option {
	return func(s *settings) error {
		if w < 0 || w > 1 {
			return errors.New("keyword weight must be within [0, 1]")
		}
		s.keywordWeight = w
		return nil
	}
}

// WithDimensions sets the truncation dimension applied to query vectors.
// It must match the dimension the searched collections were embedded with.
func WithDimensions(dim int) Option {
	return func(s *settings) error {
		if dim <= 0 {
			return errors.New("dimensions must be > 0")
		}
		s.dimensions = dim
		return nil
	}
}

// WithMaxSubQueries caps the sub-queries of a multi-pass plan.
func WithMaxSubQueries(n int) Option {
	return func(s *settings) error {
		if n <= 0 {
			return errors.New("max sub-queries must be > 0")
		}
		s.maxSubQueries = n
		return nil
	}
}

// WithPassLimit sets the number of hits fetched by each multi-pass pass.
func WithPassLimit(n int) Option {
	return func(s *settings) error {
		if n <= 0 {
			return errors.New("pass limit must be > 0")
		}
		s.passLimit = n
		return nil
	}
}

// WithPassConcurrency bounds the passes of one multi-pass search run in parallel.
func WithPassConcurrency(n int) Option {
	return func(s *settings) error {
		if n <= 0 {
			return errors.New("pass concurrency must be > 0")
		}
		s.passConcurrency = n
		return nil
	}
}

// WithRetryPolicy sets the retry policy for embedding, planning and index calls.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *settings) error {
		if err := p.Validate(); err != nil {
			return err
		}
		s.policy = p
		return nil
	}
}

// WithMonitor registers hooks observing every search.
func WithMonitor(m SearchMonitor) Option {
	return func(s *settings) error {
		if m == nil {
			m = &noopMonitor{}
		}
		s.monitor = m
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

func applyOptions(opts []Option) (settings, error) {
	s := defaultSettings()
	for _, opt := range opts {
		if err := opt(&s); err != nil {
			return s, err
		}
	}
	return s, nil
}

// embedQuery embeds text and truncates it like the indexed chunks.
func embedQuery(ctx context.Context, embedder ai.Embedder, s *settings, text string) ([]float32, error) {
	vector, err := retry.Value(ctx, s.policy, func(ctx context.Context) ([]float32, error) {
		return embedder.EmbedText(ctx, text)
	})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return core.TruncateVector(vector, s.dimensions)
}

// adapterError wraps err so callers can recognize any adapter failure while
// keeping its retry classification.
func adapterError(strategy core.Strategy, err error) error {
	return fmt.Errorf("%w: %s: %w", core.ErrAdapterFailure, strategy, err)
}

func toResults(hits []*core.Hit) []Result {
	results := make([]Result, len(hits))
	for i, hit := range hits {
		results[i] = Result{Hit: hit, Citation: NormalizeCitation(hit)}
	}
	return results
}
