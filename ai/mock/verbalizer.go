package mock

import (
	"context"
	"sync"

	"github.com/poiesic/kbpipe/core"
)

// MockVerbalizer is a test double for ai.ImageVerbalizer.
type MockVerbalizer struct {
	// VerbalizeFunc is called by VerbalizeImage if set.
	VerbalizeFunc func(ctx context.Context, image *core.Image, prompt string) (string, error)

	mu        sync.Mutex
	callCount int
	inFlight  int
	peak      int
}

// NewMockVerbalizer creates a mock verbalizer with default behavior.
func NewMockVerbalizer() *MockVerbalizer {
	return &MockVerbalizer{}
}

// VerbalizeImage returns "image: <ref>" unless VerbalizeFunc is set.
func (m *MockVerbalizer) VerbalizeImage(ctx context.Context, image *core.Image, prompt string) (string, error) {
	m.mu.Lock()
	m.callCount++
	m.inFlight++
	if m.inFlight > m.peak {
		m.peak = m.inFlight
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if m.VerbalizeFunc != nil {
		return m.VerbalizeFunc(ctx, image, prompt)
	}
	return "image: " + image.Ref, nil
}

// CallCount returns the number of VerbalizeImage calls.
func (m *MockVerbalizer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// PeakConcurrency returns the highest number of simultaneous calls observed.
func (m *MockVerbalizer) PeakConcurrency() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}
