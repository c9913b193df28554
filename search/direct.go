package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/poiesic/kbpipe/ai"
	"github.com/poiesic/kbpipe/core"
	"github.com/poiesic/kbpipe/retry"
	"github.com/poiesic/kbpipe/storage"
)

// DirectAdapter answers with a single hybrid query against one collection.
type DirectAdapter struct {
	index      storage.IndexRepository
	embedder   ai.Embedder
	collection string
	settings
}

var _ Adapter = (*DirectAdapter)(nil)

// NewDirectAdapter creates a single-pass adapter searching collection.
func NewDirectAdapter(index storage.IndexRepository, embedder ai.Embedder, collection string, opts ...Option) (*DirectAdapter, error) {
	if index == nil {
		return nil, ErrIndexRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if collection == "" {
		return nil, ErrCollectionRequired
	}
	s, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	s.logger = s.logger.With("component", "search", "strategy", core.StrategySinglePass)
	return &DirectAdapter{
		index:      index,
		embedder:   embedder,
		collection: collection,
		settings:   s,
	}, nil
}

// Strategy implements Adapter.
func (a *DirectAdapter) Strategy() core.Strategy {
	return core.StrategySinglePass
}

// Search embeds query and issues one call combining keyword and vector
// relevance. Returns up to the configured limit.
func (a *DirectAdapter) Search(ctx context.Context, query string) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, core.ErrEmptyQuery
	}
	a.monitor.Start(core.StrategySinglePass, query)

	vector, err := embedQuery(ctx, a.embedder, &a.settings, query)
	if err != nil {
		a.logger.Error("error generating embedding for query", "err", err)
		return nil, adapterError(core.StrategySinglePass, err)
	}

	hits, err := retry.Value(ctx, a.policy, func(ctx context.Context) ([]*core.Hit, error) {
		return a.index.Search(ctx, &core.SearchQuery{
			Collections:   []string{a.collection},
			Text:          query,
			Vector:        vector,
			Limit:         a.limit,
			KeywordWeight: a.keywordWeight,
		})
	})
	if err != nil {
		a.logger.Error("error querying index", "collection", a.collection, "err", err)
		return nil, adapterError(core.StrategySinglePass, fmt.Errorf("search %s: %w", a.collection, err))
	}
	a.monitor.AfterPass(ai.SubQuery{Text: query, Topics: []string{a.collection}}, hits)

	if len(hits) > a.limit {
		hits = hits[:a.limit]
	}
	results := toResults(hits)
	a.monitor.Finish(results)
	a.logger.Debug("search finished", "hits", len(results))
	return results, nil
}
