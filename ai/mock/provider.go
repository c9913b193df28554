// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mock

import "github.com/poiesic/kbpipe/ai"

// MockProvider is a test double for ai.AIProvider.
type MockProvider struct {
	embedder    *MockEmbedder
	verbalizer  *MockVerbalizer
	planner     *MockPlanner
	synthesizer *MockSynthesizer
}

// NewMockProvider creates a new mock provider with default mock services.
//
// Returns ai.AIProvider interface for consistency with production constructors.
// Use the GetMock* accessors to reach concrete types for test assertions.
func NewMockProvider() ai.AIProvider {
	return NewMockProviderWithServices(NewMockEmbedder(), NewMockVerbalizer(), NewMockPlanner(), NewMockSynthesizer())
}

// NewMockProviderWithServices creates a mock provider with custom mock services.
// Nil services are replaced by defaults.
func NewMockProviderWithServices(embedder *MockEmbedder, verbalizer *MockVerbalizer, planner *MockPlanner, synthesizer *MockSynthesizer) *MockProvider {
	if embedder == nil {
		embedder = NewMockEmbedder()
	}
	if verbalizer == nil {
		verbalizer = NewMockVerbalizer()
	}
	if planner == nil {
		planner = NewMockPlanner()
	}
	if synthesizer == nil {
		synthesizer = NewMockSynthesizer()
	}
	return &MockProvider{
		embedder:    embedder,
		verbalizer:  verbalizer,
		planner:     planner,
		synthesizer: synthesizer,
	}
}

// Embedder returns the mock embedder.
func (p *MockProvider) Embedder() ai.Embedder {
	return p.embedder
}

// Verbalizer returns the mock verbalizer.
func (p *MockProvider) Verbalizer() ai.ImageVerbalizer {
	return p.verbalizer
}

// Planner returns the mock planner.
func (p *MockProvider) Planner() ai.QueryPlanner {
	return p.planner
}

// Synthesizer returns the mock synthesizer.
func (p *MockProvider) Synthesizer() ai.AnswerSynthesizer {
	return p.synthesizer
}

// Close is a no-op for mock provider.
func (p *MockProvider) Close() error {
	return nil
}

// GetMockEmbedder returns the underlying mock embedder for test assertions.
func (p *MockProvider) GetMockEmbedder() *MockEmbedder {
	return p.embedder
}

// GetMockVerbalizer returns the underlying mock verbalizer for test assertions.
func (p *MockProvider) GetMockVerbalizer() *MockVerbalizer {
	return p.verbalizer
}

// GetMockPlanner returns the underlying mock planner for test assertions.
func (p *MockProvider) GetMockPlanner() *MockPlanner {
	return p.planner
}

// GetMockSynthesizer returns the underlying mock synthesizer for test assertions.
func (p *MockProvider) GetMockSynthesizer() *MockSynthesizer {
	return p.synthesizer
}
