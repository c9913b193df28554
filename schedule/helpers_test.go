package schedule

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/kbpipe/ai/mock"
	"github.com/poiesic/kbpipe/core"
	"github.com/poiesic/kbpipe/ingestion"
	"github.com/poiesic/kbpipe/retry"
	"github.com/poiesic/kbpipe/storage"
	"github.com/poiesic/kbpipe/storage/badger"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

var testPolicy = retry.Policy{
	MaxAttempts: 2,
	BaseDelay:   time.Millisecond,
	MaxDelay:    time.Millisecond,
	CallTimeout: 5 * time.Second,
}

// memoryObjects is an in-memory object store.
type memoryObjects struct {
	mu    sync.Mutex
	items []*core.CorpusItem
	data  map[string][]byte
}

func newMemoryObjects(n int) *memoryObjects {
	m := &memoryObjects{data: make(map[string][]byte)}
	for i := 0; i < n; i++ {
		m.add(fmt.Sprintf("docs/item-%02d.txt", i), baseTime.Add(time.Duration(i)*time.Minute),
			fmt.Sprintf("item %d describes pump maintenance step %d", i, i))
	}
	return m
}

func (m *memoryObjects) add(id string, modified time.Time, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, &core.CorpusItem{
		ID:          id,
		Source:      "file://" + id,
		ContentType: core.ContentTypeText,
		MimeType:    "text/plain",
		ModifiedAt:  modified,
	})
	m.data[id] = []byte(content)
}

func (m *memoryObjects) List(_ context.Context, prefix string, after core.Cursor) ([]*core.CorpusItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*core.CorpusItem
	for _, item := range m.items {
		if strings.HasPrefix(item.ID, prefix) {
			matched = append(matched, item)
		}
	}
	return storage.SortItemsAfter(matched, after), nil
}

func (m *memoryObjects) Fetch(_ context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

// stubProcessor returns one chunk per item unless fn is set.
type stubProcessor struct {
	mu      sync.Mutex
	batches [][]string
	fn      func(ctx context.Context, def *core.PipelineDefinition, items []*core.CorpusItem) ([]ingestion.Result, error)
}

func (p *stubProcessor) ProcessBatch(ctx context.Context, def *core.PipelineDefinition, items []*core.CorpusItem, _ *ingestion.Limiter) ([]ingestion.Result, error) {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	p.mu.Lock()
	p.batches = append(p.batches, ids)
	fn := p.fn
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, def, items)
	}
	return okResults(def, items), nil
}

func (p *stubProcessor) batchCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.batches)
}

func okResults(def *core.PipelineDefinition, items []*core.CorpusItem) []ingestion.Result {
	results := make([]ingestion.Result, len(items))
	for i, item := range items {
		results[i] = ingestion.Result{
			Item: item,
			Record: &core.EnrichmentRecord{
				ItemID:     item.ID,
				Source:     item.Source,
				Title:      item.ID,
				Definition: def.Name,
				Version:    def.Version(),
				Topic:      def.Topic,
				ModifiedAt: item.ModifiedAt,
				Chunks: []*core.Chunk{{
					ID:     core.ChunkID(def.Name, def.Version(), item.ID, 0),
					Page:   1,
					Text:   "text of " + item.ID,
					Vector: mock.GenerateVector(item.ID, def.Embedding.Dimensions),
				}},
			},
		}
	}
	return results
}

func testDefinition(t *testing.T, name string, batchSize int) *core.PipelineDefinition {
	t.Helper()
	def := &core.PipelineDefinition{Name: name}
	def.Source.Prefix = "docs/"
	def.Embedding.Dimensions = 8
	def.Schedule.BatchSize = batchSize
	def.Schedule.Interval = 20 * time.Millisecond
	def.ApplyDefaults()
	require.NoError(t, core.ValidateDefinition(def))
	return def
}

func newTestStore(t *testing.T) *badger.Store {
	t.Helper()
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func stateOf(store *badger.Store) State {
	return State{Checkpoints: store.Checkpoints, Leases: store.Leases, Runs: store.Runs}
}

func fastPolicyOption() Option {
	return WithRetryPolicy(testPolicy)
}

func newTestScheduler(t *testing.T, store *badger.Store, objects storage.ObjectStore, processor BatchProcessor, index storage.IndexRepository, opts ...Option) *Scheduler {
	t.Helper()
	if index == nil {
		index = store.Index
	}
	opts = append([]Option{fastPolicyOption(), WithHolder("test-holder")}, opts...)
	s, err := NewScheduler(objects, processor, index, stateOf(store), opts...)
	require.NoError(t, err)
	return s
}

func checkpointOf(t *testing.T, store *badger.Store, def *core.PipelineDefinition) *core.Checkpoint {
	t.Helper()
	cp, err := store.Checkpoints.LoadCheckpoint(context.Background(), def.Name, def.Version())
	require.NoError(t, err)
	return cp
}
