package ai

import (
	"context"

	"github.com/poiesic/kbpipe/core"
)

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// The returned slice contains embeddings in the same order as the input texts.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// ImageVerbalizer describes an image in text.
// Implementations must be thread-safe for concurrent use.
type ImageVerbalizer interface {
	// VerbalizeImage returns a plain-text description of image guided by prompt.
	VerbalizeImage(ctx context.Context, image *core.Image, prompt string) (string, error)
}

// QueryPlanner decomposes a question into sub-queries for multi-pass retrieval.
type QueryPlanner interface {
	// PlanQuery returns at least one sub-query. Topics lists the collections
	// the planner may target.
	PlanQuery(ctx context.Context, query string, topics []Topic, maxSubQueries int) (*QueryPlan, error)
}

// AnswerSynthesizer writes an answer grounded in retrieved hits.
type AnswerSynthesizer interface {
	// Synthesize answers query from hits. Citation indexes refer to hits.
	Synthesize(ctx context.Context, query string, hits []*core.Hit) (*Synthesis, error)
}

// AIProvider aggregates AI services for convenient initialization and lifecycle management.
type AIProvider interface {
	Embedder() Embedder
	Verbalizer() ImageVerbalizer
	Planner() QueryPlanner
	Synthesizer() AnswerSynthesizer

	// Close releases resources held by the provider and its services.
	Close() error
}
