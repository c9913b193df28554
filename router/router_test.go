package router

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/kbpipe/ai"
	"github.com/poiesic/kbpipe/ai/mock"
	"github.com/poiesic/kbpipe/core"
	"github.com/poiesic/kbpipe/retry"
	"github.com/poiesic/kbpipe/search"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPolicy = retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, CallTimeout: time.Second}

// stubAdapter is a search.Adapter with a fixed strategy.
type stubAdapter struct {
	strategy   core.Strategy
	SearchFunc func(ctx context.Context, query string) ([]search.Result, error)

	mu      sync.Mutex
	queries []string
}

func (s *stubAdapter) Strategy() core.Strategy { return s.strategy }

func (s *stubAdapter) Search(ctx context.Context, query string) ([]search.Result, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.mu.Unlock()
	if s.SearchFunc != nil {
		return s.SearchFunc(ctx, query)
	}
	return []search.Result{result("doc-"+string(s.strategy), 1, "snippet from "+string(s.strategy))}, nil
}

func (s *stubAdapter) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}

func result(doc string, page int, snippet string) search.Result {
	hit := &core.Hit{ChunkID: doc + "#0", Snippet: snippet, Source: core.SourceRef{DocumentID: doc, Page: page}}
	return search.Result{Hit: hit, Citation: search.NormalizeCitation(hit)}
}

// recorder captures router outcomes.
type recorder struct {
	mu      sync.Mutex
	entries []string
	errs    int
}

func (r *recorder) RecordAnswer(level core.ReasoningLevel, strategy core.Strategy, latency time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, fmt.Sprintf("%s/%s", level, strategy))
	if err != nil {
		r.errs++
	}
}

type fixture struct {
	direct, balanced, thorough *stubAdapter
	synthesizer                *mock.MockSynthesizer
	recorder                   *recorder
	router                     *Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		direct:      &stubAdapter{strategy: core.StrategySinglePass},
		balanced:    &stubAdapter{strategy: core.StrategyMultiPass},
		thorough:    &stubAdapter{strategy: core.StrategyMultiPass},
		synthesizer: mock.NewMockSynthesizer(),
		recorder:    &recorder{},
	}
	r, err := New(Routes{
		core.ReasoningDirect:   f.direct,
		core.ReasoningBalanced: f.balanced,
		core.ReasoningThorough: f.thorough,
	}, f.synthesizer, WithRecorder(f.recorder), WithRetryPolicy(testPolicy))
	require.NoError(t, err)
	f.router = r
	return f
}

func TestNew_ClosedRoutingTable(t *testing.T) {
	single := &stubAdapter{strategy: core.StrategySinglePass}
	multi := &stubAdapter{strategy: core.StrategyMultiPass}
	synth := mock.NewMockSynthesizer()

	tests := []struct {
		name   string
		routes Routes
		synth  ai.AnswerSynthesizer
		want   error
	}{
		{"missing synthesizer", Routes{core.ReasoningDirect: single}, nil, ErrSynthesizerRequired},
		{"missing level", Routes{core.ReasoningDirect: single, core.ReasoningBalanced: multi}, synth, ErrRouteMissing},
		{"nil adapter", Routes{core.ReasoningDirect: single, core.ReasoningBalanced: multi, core.ReasoningThorough: nil}, synth, ErrRouteMissing},
		{"direct on multi-pass", Routes{core.ReasoningDirect: multi, core.ReasoningBalanced: multi, core.ReasoningThorough: multi}, synth, ErrRouteMismatch},
		{"thorough on single-pass", Routes{core.ReasoningDirect: single, core.ReasoningBalanced: multi, core.ReasoningThorough: single}, synth, ErrRouteMismatch},
		{"unknown level", Routes{core.ReasoningDirect: single, core.ReasoningBalanced: multi, core.ReasoningThorough: multi, core.ReasoningLevel(9): multi}, synth, core.ErrInvalidReasoningLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.routes, tt.synth)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAnswer_RoutesByLevel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	answer, err := f.router.Answer(ctx, &core.RetrievalRequest{Query: "how do I bleed the pump?", Level: core.ReasoningDirect, ConversationID: "conv-1"})
	require.NoError(t, err)
	assert.Equal(t, core.StrategySinglePass, answer.Strategy)
	assert.Equal(t, core.ReasoningDirect, answer.Level)
	assert.Equal(t, "conv-1", answer.ConversationID)
	assert.Equal(t, "snippet from single-pass", answer.Text)
	assert.Equal(t, []core.Citation{{DocumentID: "doc-single-pass", Location: "page 1"}}, answer.Citations)
	assert.Positive(t, answer.Latency)

	for _, level := range []core.ReasoningLevel{core.ReasoningBalanced, core.ReasoningThorough} {
		answer, err := f.router.Answer(ctx, &core.RetrievalRequest{Query: "q", Level: level})
		require.NoError(t, err)
		assert.Equal(t, core.StrategyMultiPass, answer.Strategy)
	}

	assert.Equal(t, 1, f.direct.callCount())
	assert.Equal(t, 1, f.balanced.callCount())
	assert.Equal(t, 1, f.thorough.callCount())
	assert.Equal(t, []string{"direct/single-pass", "balanced/multi-pass", "thorough/multi-pass"}, f.recorder.entries)
}

func TestAnswer_RoutingIsDeterministic(t *testing.T) {
	f := newFixture(t)
	rng := rand.New(rand.NewSource(1))
	counts := map[core.ReasoningLevel]int{}

	for i := 0; i < 60; i++ {
		level := core.ReasoningLevels[rng.Intn(len(core.ReasoningLevels))]
		counts[level]++
		answer, err := f.router.Answer(context.Background(), &core.RetrievalRequest{Query: "q", Level: level})
		require.NoError(t, err)
		want := core.StrategyMultiPass
		if level == core.ReasoningDirect {
			want = core.StrategySinglePass
		}
		assert.Equal(t, want, answer.Strategy)
	}
	assert.Equal(t, counts[core.ReasoningDirect], f.direct.callCount())
	assert.Equal(t, counts[core.ReasoningBalanced], f.balanced.callCount())
	assert.Equal(t, counts[core.ReasoningThorough], f.thorough.callCount())
}

func TestAnswer_AdapterFailureIsNotRerouted(t *testing.T) {
	f := newFixture(t)
	f.balanced.SearchFunc = func(ctx context.Context, query string) ([]search.Result, error) {
		return nil, fmt.Errorf("%w: multi-pass: %w", core.ErrAdapterFailure, core.Transient(errors.New("index timeout")))
	}

	answer, err := f.router.Answer(context.Background(), &core.RetrievalRequest{Query: "q", Level: core.ReasoningBalanced})
	require.Error(t, err)
	assert.Nil(t, answer)
	assert.ErrorIs(t, err, core.ErrAdapterFailure)
	assert.True(t, core.IsTransient(err))

	assert.Zero(t, f.direct.callCount())
	assert.Zero(t, f.thorough.callCount())
	assert.Zero(t, f.synthesizer.CallCount())
	assert.Equal(t, 1, f.recorder.errs)
}

func TestAnswer_InvalidRequests(t *testing.T) {
	f := newFixture(t)

	_, err := f.router.Answer(context.Background(), &core.RetrievalRequest{Query: "  ", Level: core.ReasoningDirect})
	assert.ErrorIs(t, err, core.ErrEmptyQuery)
	_, err = f.router.Answer(context.Background(), &core.RetrievalRequest{Query: "q"})
	assert.ErrorIs(t, err, core.ErrInvalidReasoningLevel)
	_, err = f.router.Answer(context.Background(), nil)
	assert.ErrorIs(t, err, core.ErrEmptyQuery)

	assert.Zero(t, f.direct.callCount()+f.balanced.callCount()+f.thorough.callCount())
	assert.Empty(t, f.recorder.entries)
}

func TestAnswer_GeneratesConversationID(t *testing.T) {
	f := newFixture(t)
	answer, err := f.router.Answer(context.Background(), &core.RetrievalRequest{Query: "q", Level: core.ReasoningDirect})
	require.NoError(t, err)
	_, err = uuid.Parse(answer.ConversationID)
	assert.NoError(t, err)
}

func TestAnswer_NoResults(t *testing.T) {
	f := newFixture(t)
	f.direct.SearchFunc = func(ctx context.Context, query string) ([]search.Result, error) {
		return nil, nil
	}

	answer, err := f.router.Answer(context.Background(), &core.RetrievalRequest{Query: "q", Level: core.ReasoningDirect})
	require.NoError(t, err)
	assert.Equal(t, NoResultsAnswer, answer.Text)
	assert.Empty(t, answer.Citations)
	assert.Zero(t, f.synthesizer.CallCount())
}

func TestAnswer_Citations(t *testing.T) {
	f := newFixture(t)
	f.thorough.SearchFunc = func(ctx context.Context, query string) ([]search.Result, error) {
		return []search.Result{
			result("pump.md", 2, "a"),
			result("valve.md", 5, "b"),
			result("pump.md", 2, "c"),
			result("seal.md", 1, "d"),
		}, nil
	}

	t.Run("cited order without duplicates", func(t *testing.T) {
		f.synthesizer.SynthesizeFunc = func(ctx context.Context, query string, hits []*core.Hit) (*ai.Synthesis, error) {
			return &ai.Synthesis{Text: "answer", Cited: []int{3, 0, 2, 7}}, nil
		}
		answer, err := f.router.Answer(context.Background(), &core.RetrievalRequest{Query: "q", Level: core.ReasoningThorough})
		require.NoError(t, err)
		assert.Equal(t, []core.Citation{
			{DocumentID: "seal.md", Location: "page 1"},
			{DocumentID: "pump.md", Location: "page 2"},
		}, answer.Citations)
	})

	t.Run("uncited answer cites every result", func(t *testing.T) {
		f.synthesizer.SynthesizeFunc = func(ctx context.Context, query string, hits []*core.Hit) (*ai.Synthesis, error) {
			return &ai.Synthesis{Text: "answer"}, nil
		}
		answer, err := f.router.Answer(context.Background(), &core.RetrievalRequest{Query: "q", Level: core.ReasoningThorough})
		require.NoError(t, err)
		assert.Len(t, answer.Citations, 3)
	})
}

func TestAnswer_SynthesisFailure(t *testing.T) {
	f := newFixture(t)
	f.synthesizer.SynthesizeFunc = func(ctx context.Context, query string, hits []*core.Hit) (*ai.Synthesis, error) {
		return nil, core.Transient(errors.New("429 too many requests"))
	}

	_, err := f.router.Answer(context.Background(), &core.RetrievalRequest{Query: "q", Level: core.ReasoningDirect})
	assert.ErrorIs(t, err, ErrSynthesisFailed)
	assert.True(t, core.IsTransient(err))
	assert.Equal(t, testPolicy.MaxAttempts, f.synthesizer.CallCount())
}

func TestAnswer_ConcurrentRequests(t *testing.T) {
	f := newFixture(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			level := core.ReasoningLevels[i%len(core.ReasoningLevels)]
			_, err := f.router.Answer(context.Background(), &core.RetrievalRequest{Query: "q", Level: level})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Len(t, f.recorder.entries, 20)
}
