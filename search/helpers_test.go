package search

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/kbpipe/ai"
	"github.com/poiesic/kbpipe/ai/mock"
	"github.com/poiesic/kbpipe/core"
	"github.com/poiesic/kbpipe/retry"
	"github.com/poiesic/kbpipe/storage"
	"github.com/poiesic/kbpipe/storage/badger"
	"github.com/stretchr/testify/require"
)

const testDims = 16

var testPolicy = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, CallTimeout: time.Second}

// fakeIndex records queries and answers them with SearchFunc.
type fakeIndex struct {
	SearchFunc func(ctx context.Context, query *core.SearchQuery) ([]*core.Hit, error)

	mu      sync.Mutex
	queries []*core.SearchQuery
}

var _ storage.IndexRepository = (*fakeIndex)(nil)

func (f *fakeIndex) EnsureCollection(context.Context, string, int) error { return nil }

func (f *fakeIndex) Upsert(context.Context, string, []*storage.IndexRecord) error { return nil }

func (f *fakeIndex) Count(context.Context, string) (int, error) { return 0, nil }

func (f *fakeIndex) Health(context.Context) error { return nil }

func (f *fakeIndex) Close() error { return nil }

func (f *fakeIndex) Search(ctx context.Context, query *core.SearchQuery) ([]*core.Hit, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.SearchFunc != nil {
		return f.SearchFunc(ctx, query)
	}
	return nil, nil
}

func (f *fakeIndex) calls() []*core.SearchQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*core.SearchQuery(nil), f.queries...)
}

type doc struct {
	collection string
	id         string
	page       int
	text       string
}

// newSeededIndex writes docs into an in-memory badger index, one chunk each.
func newSeededIndex(t *testing.T, docs ...doc) storage.IndexRepository {
	t.Helper()
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	for _, d := range docs {
		require.NoError(t, store.Index.EnsureCollection(ctx, d.collection, testDims))
		vector, err := core.TruncateVector(mock.GenerateVector(d.text, mock.DefaultDimensions), testDims)
		require.NoError(t, err)
		require.NoError(t, store.Index.Upsert(ctx, d.collection, []*storage.IndexRecord{{
			ID:         core.ChunkID(d.collection, "v1", d.id, 0),
			DocumentID: d.id,
			Source:     "https://docs.example.com/" + d.id,
			Title:      d.id,
			Topic:      d.collection,
			Page:       d.page,
			Text:       d.text,
			Vector:     vector,
		}}))
	}
	return store.Index
}

func hit(id, snippet string) *core.Hit {
	return &core.Hit{ChunkID: id, Snippet: snippet, Source: core.SourceRef{DocumentID: id, Page: 1}, Score: 0.5}
}

// recordingMonitor counts hook calls.
type recordingMonitor struct {
	mu       sync.Mutex
	started  []string
	passes   int
	planned  int
	finished int
}

func (m *recordingMonitor) Start(strategy core.Strategy, query string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, string(strategy)+":"+query)
}

func (m *recordingMonitor) AfterPlan(_ *ai.QueryPlan) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.planned++
}

func (m *recordingMonitor) AfterPass(_ ai.SubQuery, _ []*core.Hit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passes++
}

func (m *recordingMonitor) Finish(_ []Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished++
}
