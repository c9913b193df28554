package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/kbpipe/ai"
	"github.com/poiesic/kbpipe/core"
	"github.com/poiesic/kbpipe/retry"
	"github.com/poiesic/kbpipe/search"
)

// NoResultsAnswer is returned when retrieval finds nothing to answer from.
const NoResultsAnswer = "I could not find anything in the knowledge base that answers this question."

// strategies is the fixed strategy each reasoning level must be served by.
var strategies = map[core.ReasoningLevel]core.Strategy{
	core.ReasoningDirect:   core.StrategySinglePass,
	core.ReasoningBalanced: core.StrategyMultiPass,
	core.ReasoningThorough: core.StrategyMultiPass,
}

// Routes maps every reasoning level to the adapter serving it.
type Routes map[core.ReasoningLevel]search.Adapter

// Recorder receives the outcome of every request.
type Recorder interface {
	RecordAnswer(level core.ReasoningLevel, strategy core.Strategy, latency time.Duration, err error)
}

// Router dispatches retrieval requests by reasoning level.
// It holds no per-request state and is safe for concurrent use.
type Router struct {
	routes      Routes
	synthesizer ai.AnswerSynthesizer
	recorder    Recorder
	policy      retry.Policy
	logger      *slog.Logger
}

// Option configures a Router.
type Option func(*Router) error

// WithRecorder registers a recorder of strategy and latency per request.
func WithRecorder(r Recorder) Option {
	return func(rt *Router) error {
		rt.recorder = r
		return nil
	}
}

// WithRetryPolicy sets the retry policy for synthesis calls.
func WithRetryPolicy(p retry.Policy) Option {
	return func(rt *Router) error {
		if err := p.Validate(); err != nil {
			return err
		}
		rt.policy = p
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(rt *Router) error {
		if logger == nil {
			logger = slog.Default()
		}
		rt.logger = logger.With("component", "router")
		return nil
	}
}

// New builds a router. Every level in core.ReasoningLevels must be routed to
// an adapter of the matching strategy, and no other level may appear.
func New(routes Routes, synthesizer ai.AnswerSynthesizer, opts ...Option) (*Router, error) {
	if synthesizer == nil {
		return nil, ErrSynthesizerRequired
	}
	table := make(Routes, len(strategies))
	for level, adapter := range routes {
		if _, ok := strategies[level]; !ok {
			return nil, fmt.Errorf("%w: %d", core.ErrInvalidReasoningLevel, int(level))
		}
		if adapter == nil {
			return nil, fmt.Errorf("%w: %s", ErrRouteMissing, level)
		}
		table[level] = adapter
	}
	for _, level := range core.ReasoningLevels {
		adapter, ok := table[level]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrRouteMissing, level)
		}
		if got, want := adapter.Strategy(), strategies[level]; got != want {
			return nil, fmt.Errorf("%w: %s needs %s, got %s", ErrRouteMismatch, level, want, got)
		}
	}

	r := &Router{
		routes:      table,
		synthesizer: synthesizer,
		policy:      retry.DefaultPolicy(),
		logger:      slog.Default().With("component", "router"),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Answer retrieves passages for req with the adapter its level maps to and
// writes a cited answer from them. A conversation ID is generated when the
// request carries none.
//
// Adapter failures are returned as is. There is no fallback to another level.
func (r *Router) Answer(ctx context.Context, req *core.RetrievalRequest) (*core.Answer, error) {
	if err := core.ValidateRetrievalRequest(req); err != nil {
		return nil, err
	}
	started := time.Now()
	adapter := r.routes[req.Level]
	strategy := adapter.Strategy()

	answer := &core.Answer{
		Strategy:       strategy,
		Level:          req.Level,
		ConversationID: req.ConversationID,
	}
	if answer.ConversationID == "" {
		answer.ConversationID = uuid.NewString()
	}
	logger := r.logger.With("level", req.Level, "strategy", strategy, "conversation", answer.ConversationID)

	err := r.answer(ctx, adapter, req.Query, answer)
	answer.Latency = time.Since(started)
	if r.recorder != nil {
		r.recorder.RecordAnswer(req.Level, strategy, answer.Latency, err)
	}
	if err != nil {
		logger.Error("answer failed", "latency", answer.Latency, "retryable", core.IsTransient(err), "err", err)
		return nil, fmt.Errorf("answer at level %s: %w", req.Level, err)
	}

	logger.Info("question answered", "latency", answer.Latency, "citations", len(answer.Citations))
	return answer, nil
}

func (r *Router) answer(ctx context.Context, adapter search.Adapter, query string, answer *core.Answer) error {
	results, err := adapter.Search(ctx, query)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		answer.Text = NoResultsAnswer
		answer.Citations = []core.Citation{}
		return nil
	}

	hits := make([]*core.Hit, len(results))
	for i, res := range results {
		hits[i] = res.Hit
	}
	synthesis, err := retry.Value(ctx, r.policy, func(ctx context.Context) (*ai.Synthesis, error) {
		return r.synthesizer.Synthesize(ctx, query, hits)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSynthesisFailed, err)
	}
	if synthesis == nil {
		return core.Transient(fmt.Errorf("%w: empty synthesis", ErrSynthesisFailed))
	}

	answer.Text = synthesis.Text
	answer.Citations = citations(results, synthesis.Cited)
	return nil
}

// citations returns the citations of the cited results in citation order,
// without duplicates. An answer citing nothing is attributed to every result.
func citations(results []search.Result, cited []int) []core.Citation {
	if len(cited) == 0 {
		cited = make([]int, len(results))
		for i := range results {
			cited[i] = i
		}
	}

	type key struct{ doc, location string }
	seen := make(map[key]bool, len(cited))
	out := make([]core.Citation, 0, len(cited))
	for _, i := range cited {
		if i < 0 || i >= len(results) {
			continue
		}
		c := results[i].Citation
		k := key{c.DocumentID, c.Location}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
	}
	return out
}
