// Package mock provides test double implementations of AI service interfaces.
//
// This package contains mock implementations of ai.Embedder, ai.ImageVerbalizer,
// ai.QueryPlanner, ai.AnswerSynthesizer and ai.AIProvider for use in unit tests.
// The mocks allow tests to run without external AI service dependencies and
// are safe for concurrent use.
//
// # Usage in Tests
//
//	// Basic usage with default behavior
//	mockProvider := mock.NewMockProvider()
//	embeddings, err := mockProvider.Embedder().EmbedText(ctx, "test")
//
//	// Custom behavior injection
//	verbalizer := mock.NewMockVerbalizer()
//	verbalizer.VerbalizeFunc = func(ctx context.Context, image *core.Image, prompt string) (string, error) {
//	    return "", core.Transient(errors.New("throttled"))
//	}
//
//	// Check call counts
//	count := verbalizer.CallCount()
//
// # Default Behavior
//
//   - MockEmbedder: Returns deterministic unit vectors based on text hash
//   - MockVerbalizer: Describes the image by its reference
//   - MockPlanner: Returns the query itself as the only sub-query
//   - MockSynthesizer: Joins hit snippets and cites every hit
//   - MockProvider: Aggregates the mocks above
package mock
