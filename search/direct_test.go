package search

import (
	"context"
	"errors"
	"testing"

	"github.com/poiesic/kbpipe/ai/mock"
	"github.com/poiesic/kbpipe/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDirectAdapter(t *testing.T) {
	index := &fakeIndex{}
	embedder := mock.NewMockEmbedder()

	_, err := NewDirectAdapter(nil, embedder, "all")
	assert.ErrorIs(t, err, ErrIndexRequired)
	_, err = NewDirectAdapter(index, nil, "all")
	assert.ErrorIs(t, err, ErrEmbedderRequired)
	_, err = NewDirectAdapter(index, embedder, "")
	assert.ErrorIs(t, err, ErrCollectionRequired)
	_, err = NewDirectAdapter(index, embedder, "all", WithLimit(0))
	assert.Error(t, err)
	_, err = NewDirectAdapter(index, embedder, "all", WithKeywordWeight(1.5))
	assert.Error(t, err)

	a, err := NewDirectAdapter(index, embedder, "all")
	require.NoError(t, err)
	assert.Equal(t, core.StrategySinglePass, a.Strategy())
}

func TestDirectAdapter_IssuesOneHybridQuery(t *testing.T) {
	index := &fakeIndex{SearchFunc: func(ctx context.Context, q *core.SearchQuery) ([]*core.Hit, error) {
		return []*core.Hit{hit("a", "pump seal"), hit("b", "pump housing"), hit("c", "valve")}, nil
	}}
	embedder := mock.NewMockEmbedder()
	monitor := &recordingMonitor{}
	a, err := NewDirectAdapter(index, embedder, "consolidated",
		WithLimit(2), WithKeywordWeight(0.4), WithDimensions(testDims), WithMonitor(monitor))
	require.NoError(t, err)

	results, err := a.Search(context.Background(), "  replace the pump seal ")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Hit.ChunkID)
	assert.Equal(t, core.Citation{DocumentID: "a", Location: "page 1"}, results[0].Citation)

	calls := index.calls()
	require.Len(t, calls, 1)
	q := calls[0]
	assert.Equal(t, []string{"consolidated"}, q.Collections)
	assert.Equal(t, "replace the pump seal", q.Text)
	assert.Len(t, q.Vector, testDims)
	assert.Equal(t, 2, q.Limit)
	assert.InDelta(t, 0.4, q.KeywordWeight, 1e-6)

	assert.Equal(t, 1, embedder.CallCount())
	assert.Equal(t, []string{"single-pass:replace the pump seal"}, monitor.started)
	assert.Equal(t, 1, monitor.finished)
}

func TestDirectAdapter_AgainstBadgerIndex(t *testing.T) {
	index := newSeededIndex(t,
		doc{collection: "consolidated", id: "pump.md", page: 2, text: "replace the pump seal after draining the tank"},
		doc{collection: "consolidated", id: "valve.md", page: 7, text: "the relief valve opens at 40 psi"},
	)
	a, err := NewDirectAdapter(index, mock.NewMockEmbedder(), "consolidated",
		WithDimensions(testDims), WithKeywordWeight(1))
	require.NoError(t, err)

	results, err := a.Search(context.Background(), "pump seal")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "pump.md", results[0].Citation.DocumentID)
	assert.Equal(t, "page 2", results[0].Citation.Location)
	assert.Equal(t, "https://docs.example.com/pump.md", results[0].Citation.URL)
}

func TestDirectAdapter_Failures(t *testing.T) {
	t.Run("empty query", func(t *testing.T) {
		a, err := NewDirectAdapter(&fakeIndex{}, mock.NewMockEmbedder(), "all")
		require.NoError(t, err)
		_, err = a.Search(context.Background(), "   ")
		assert.ErrorIs(t, err, core.ErrEmptyQuery)
	})

	t.Run("transient index error is retried then surfaced", func(t *testing.T) {
		index := &fakeIndex{SearchFunc: func(ctx context.Context, q *core.SearchQuery) ([]*core.Hit, error) {
			return nil, core.Transient(errors.New("503 service unavailable"))
		}}
		a, err := NewDirectAdapter(index, mock.NewMockEmbedder(), "all",
			WithDimensions(testDims), WithRetryPolicy(testPolicy))
		require.NoError(t, err)

		_, err = a.Search(context.Background(), "pump")
		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrAdapterFailure)
		assert.True(t, core.IsTransient(err))
		assert.Len(t, index.calls(), testPolicy.MaxAttempts)
	})

	t.Run("permanent embed error is not retried", func(t *testing.T) {
		embedder := mock.NewMockEmbedder()
		embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
			return nil, core.Permanent(errors.New("401 unauthorized"))
		}
		index := &fakeIndex{}
		a, err := NewDirectAdapter(index, embedder, "all", WithRetryPolicy(testPolicy))
		require.NoError(t, err)

		_, err = a.Search(context.Background(), "pump")
		assert.ErrorIs(t, err, core.ErrAdapterFailure)
		assert.False(t, core.IsTransient(err))
		assert.Empty(t, index.calls())
	})

	t.Run("query dimension mismatch", func(t *testing.T) {
		a, err := NewDirectAdapter(&fakeIndex{}, mock.NewMockEmbedder(), "all",
			WithDimensions(mock.DefaultDimensions+1))
		require.NoError(t, err)
		_, err = a.Search(context.Background(), "pump")
		assert.ErrorIs(t, err, core.ErrDimensionMismatch)
	})
}
