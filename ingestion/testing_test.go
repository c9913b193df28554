package ingestion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/kbpipe/core"
	"github.com/poiesic/kbpipe/retry"
	"github.com/poiesic/kbpipe/storage"
)

// memoryObjects is an in-memory object store for tests.
type memoryObjects struct {
	mu      sync.Mutex
	content map[string][]byte
	fetches map[string]int
	errs    map[string]error
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{
		content: make(map[string][]byte),
		fetches: make(map[string]int),
		errs:    make(map[string]error),
	}
}

func (m *memoryObjects) put(id string, data string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.content[id] = []byte(data)
}

func (m *memoryObjects) Fetch(_ context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches[id]++
	if err, ok := m.errs[id]; ok {
		return nil, err
	}
	data, ok := m.content[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

func testPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		CallTimeout: 5 * time.Second,
	}
}

func testDefinition(t *testing.T) *core.PipelineDefinition {
	t.Helper()
	def := &core.PipelineDefinition{Name: "manuals"}
	def.Chunking.Size = 20
	def.Chunking.Overlap = 5
	def.Embedding.Dimensions = 32
	def.ApplyDefaults()
	if err := core.ValidateDefinition(def); err != nil {
		t.Fatalf("invalid test definition: %v", err)
	}
	return def
}

func testItem(id string, modified time.Time) *core.CorpusItem {
	ct, mime, _ := core.ContentTypeFromName(id)
	return &core.CorpusItem{
		ID:          id,
		Source:      "https://docs.example.com/" + id,
		ContentType: ct,
		MimeType:    mime,
		ModifiedAt:  modified,
	}
}
