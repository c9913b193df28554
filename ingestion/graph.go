package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/poiesic/kbpipe/ai"
	"github.com/poiesic/kbpipe/core"
	"github.com/poiesic/kbpipe/retry"
)

// ImageSource fetches images referenced by markdown items.
type ImageSource interface {
	Fetch(ctx context.Context, id string) ([]byte, error)
}

// stage is one node of the enrichment graph.
type stage interface {
	run(ctx context.Context, w *work) error
}

// work carries one item through the graph.
type work struct {
	def        *core.PipelineDefinition
	version    string
	item       *core.CorpusItem
	content    []byte
	limiter    *Limiter
	extraction *Extraction
	chunks     []TextChunk
	vectors    [][]float32
	record     *core.EnrichmentRecord
}

// Graph runs the enrichment stages of a definition over single items.
// It is safe for concurrent use.
type Graph struct {
	embedder   ai.Embedder
	verbalizer ai.ImageVerbalizer
	images     ImageSource
	policy     retry.Policy
	stages     map[core.Stage]stage
	logger     *slog.Logger
}

// GraphOption configures a Graph.
type GraphOption func(*Graph) error

// WithImageSource sets where referenced markdown images are fetched from.
// Without one, referenced images fail verbalization.
func WithImageSource(src ImageSource) GraphOption {
	return func(g *Graph) error {
		g.images = src
		return nil
	}
}

// WithRetryPolicy sets the retry policy for verbalization and embedding calls.
func WithRetryPolicy(p retry.Policy) GraphOption {
	return func(g *Graph) error {
		if err := p.Validate(); err != nil {
			return err
		}
		g.policy = p
		return nil
	}
}

// WithGraphLogger sets a custom logger.
func WithGraphLogger(logger *slog.Logger) GraphOption {
	return func(g *Graph) error {
		if logger == nil {
			logger = slog.Default()
		}
		g.logger = logger.With("component", "enrichment-graph")
		return nil
	}
}

// NewGraph creates a stage graph backed by provider's embedder and verbalizer.
func NewGraph(provider ai.AIProvider, opts ...GraphOption) (*Graph, error) {
	if provider == nil {
		return nil, ErrAIProviderRequired
	}

	g := &Graph{
		embedder:   provider.Embedder(),
		verbalizer: provider.Verbalizer(),
		policy:     retry.DefaultPolicy(),
		logger:     slog.Default().With("component", "enrichment-graph"),
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}

	g.stages = map[core.Stage]stage{
		core.StageExtract:   extractStage{},
		core.StageVerbalize: &verbalizeStage{graph: g},
		core.StageChunk:     chunkStage{},
		core.StageEmbed:     &embedStage{graph: g},
	}
	return g, nil
}

// Process runs the definition's stages over one item and returns the record
// to commit. A nil limiter gets a fresh one sized by the definition.
func (g *Graph) Process(ctx context.Context, def *core.PipelineDefinition, item *core.CorpusItem, content []byte, limiter *Limiter) (*core.EnrichmentRecord, error) {
	if limiter == nil {
		limiter = NewLimiter(def.Verbalization.MaxConcurrency)
	}

	w := &work{
		def:     def,
		version: def.Version(),
		item:    item,
		content: content,
		limiter: limiter,
	}
	for _, name := range def.Stages {
		s, ok := g.stages[name]
		if !ok {
			return nil, core.Permanent(fmt.Errorf("%s: unknown stage %q", item.ID, name))
		}
		if err := s.run(ctx, w); err != nil {
			return nil, fmt.Errorf("%s: %s: %w", item.ID, name, err)
		}
	}

	w.record = &core.EnrichmentRecord{
		ItemID:     item.ID,
		Source:     item.Source,
		Title:      w.extraction.Title,
		Definition: def.Name,
		Version:    w.version,
		Topic:      def.Topic,
		ModifiedAt: item.ModifiedAt,
		Metadata:   maps.Clone(item.Metadata),
	}
	if w.record.Source == "" {
		w.record.Source = item.ID
	}
	for i := range w.extraction.Spans {
		span := &w.extraction.Spans[i]
		if span.Kind != core.SpanImage {
			continue
		}
		w.record.ImageSpans++
		if span.Failed {
			w.record.ImageFailures++
		}
	}
	for i := range w.chunks {
		c := &w.chunks[i]
		chunk := &core.Chunk{
			ID:    core.ChunkID(def.Name, w.version, item.ID, c.Index),
			Index: c.Index,
			Page:  c.Page,
			Text:  c.Text,
		}
		if i < len(w.vectors) {
			chunk.Vector = w.vectors[i]
		}
		w.record.Chunks = append(w.record.Chunks, chunk)
	}

	g.logger.Debug("processed item",
		"item", item.ID,
		"chunks", len(w.record.Chunks),
		"images", w.record.ImageSpans,
		"imageFailures", w.record.ImageFailures)
	return w.record, nil
}

type extractStage struct{}

func (extractStage) run(_ context.Context, w *work) error {
	extraction, err := Extract(w.item, w.content)
	if err != nil {
		return core.Permanent(err)
	}
	w.extraction = extraction
	return nil
}

type verbalizeStage struct {
	graph *Graph
}

// run describes every image span through the limiter. Failures are soft: the
// span is marked failed and the item only fails past the failure ratio.
func (s *verbalizeStage) run(ctx context.Context, w *work) error {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		errs   []error
		images int
	)

	spans := w.extraction.Spans
	for i := range spans {
		if spans[i].Kind != core.SpanImage {
			continue
		}
		images++
		wg.Add(1)
		go func(span *core.Span) {
			defer wg.Done()
			err := w.limiter.Do(ctx, func(ctx context.Context) error {
				return s.describe(ctx, w, span)
			})
			if err != nil {
				span.Failed = true
				span.Text = ""
				mu.Lock()
				errs = append(errs, fmt.Errorf("image %s: %w", span.Image.Ref, err))
				mu.Unlock()
			}
		}(&spans[i])
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	if len(errs) == 0 {
		return nil
	}

	joined := errors.Join(errs...)
	ratio := float64(len(errs)) / float64(images)
	s.graph.logger.Warn("image verbalization failures",
		"item", w.item.ID,
		"failed", len(errs),
		"images", images,
		"err", joined)
	if ratio > w.def.Verbalization.FailureRatio() {
		return core.Transient(fmt.Errorf("%w: %d of %d images: %w", ErrImageFailureThreshold, len(errs), images, joined))
	}
	return nil
}

func (s *verbalizeStage) describe(ctx context.Context, w *work, span *core.Span) error {
	g := s.graph
	if len(span.Image.Data) == 0 {
		key := resolveImageRef(w.item.ID, span.Image.Ref)
		if key == "" || g.images == nil {
			return fmt.Errorf("%w: %q", ErrUnresolvableImage, span.Image.Ref)
		}
		data, err := retry.Value(ctx, g.policy, func(ctx context.Context) ([]byte, error) {
			return g.images.Fetch(ctx, key)
		})
		if err != nil {
			return err
		}
		span.Image.Data = data
	}

	description, err := retry.Value(ctx, g.policy, func(ctx context.Context) (string, error) {
		return g.verbalizer.VerbalizeImage(ctx, span.Image, w.def.Verbalization.Prompt)
	})
	if err != nil {
		return err
	}
	span.Text = description
	return nil
}

type chunkStage struct{}

func (chunkStage) run(_ context.Context, w *work) error {
	chunks, err := Chunk(w.extraction.Spans, w.def.Chunking.Size, w.def.Chunking.Overlap)
	if err != nil {
		return core.Permanent(err)
	}
	w.chunks = chunks
	return nil
}

type embedStage struct {
	graph *Graph
}

// run embeds chunks in batches and truncates every vector to the
// definition's dimension.
func (s *embedStage) run(ctx context.Context, w *work) error {
	g := s.graph
	size := w.def.Embedding.BatchSize
	w.vectors = make([][]float32, 0, len(w.chunks))

	for start := 0; start < len(w.chunks); start += size {
		end := min(start+size, len(w.chunks))
		texts := make([]string, 0, end-start)
		for _, c := range w.chunks[start:end] {
			texts = append(texts, embeddingText(w.extraction.Title, &c))
		}

		vectors, err := retry.Value(ctx, g.policy, func(ctx context.Context) ([][]float32, error) {
			return g.embedder.EmbedTexts(ctx, texts)
		})
		if err != nil {
			return err
		}
		if len(vectors) != len(texts) {
			return core.Transient(fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(texts)))
		}

		for _, v := range vectors {
			truncated, err := core.TruncateVector(v, w.def.Embedding.Dimensions)
			if err != nil {
				return core.Permanent(err)
			}
			w.vectors = append(w.vectors, truncated)
		}
	}
	return nil
}

// embeddingText prefixes chunk text with its document context.
func embeddingText(title string, c *TextChunk) string {
	switch {
	case c.SectionPath != "" && c.SectionPath != title:
		return title + " > " + c.SectionPath + "\n\n" + c.Text
	case title != "":
		return title + "\n\n" + c.Text
	}
	return c.Text
}
