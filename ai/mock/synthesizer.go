package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/poiesic/kbpipe/ai"
	"github.com/poiesic/kbpipe/core"
)

// MockSynthesizer is a test double for ai.AnswerSynthesizer.
type MockSynthesizer struct {
	// SynthesizeFunc is called by Synthesize if set.
	SynthesizeFunc func(ctx context.Context, query string, hits []*core.Hit) (*ai.Synthesis, error)

	mu        sync.Mutex
	callCount int
}

// NewMockSynthesizer creates a mock synthesizer with default behavior.
func NewMockSynthesizer() *MockSynthesizer {
	return &MockSynthesizer{}
}

// Synthesize joins the hit snippets and cites every hit unless SynthesizeFunc is set.
func (m *MockSynthesizer) Synthesize(ctx context.Context, query string, hits []*core.Hit) (*ai.Synthesis, error) {
	m.mu.Lock()
	m.callCount++
	m.mu.Unlock()

	if m.SynthesizeFunc != nil {
		return m.SynthesizeFunc(ctx, query, hits)
	}

	snippets := make([]string, len(hits))
	cited := make([]int, len(hits))
	for i, h := range hits {
		snippets[i] = h.Snippet
		cited[i] = i
	}
	return &ai.Synthesis{Text: strings.Join(snippets, " "), Cited: cited}, nil
}

// CallCount returns the number of Synthesize calls.
func (m *MockSynthesizer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}
