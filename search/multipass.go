package search

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/poiesic/kbpipe/ai"
	"github.com/poiesic/kbpipe/core"
	"github.com/poiesic/kbpipe/retry"
	"github.com/poiesic/kbpipe/storage"
	"golang.org/x/sync/errgroup"
)

const (
	// rrfK damps the weight of top ranks in reciprocal rank fusion.
	rrfK = 60

	// verbatimBoost is added to hits containing every query term.
	verbatimBoost = 0.3
)

// Topic is one per-topic collection the multi-pass adapter may search.
type Topic struct {
	Name        string
	Description string
	Collection  string // Defaults to Name
}

// MultiPassAdapter plans sub-queries, searches per-topic collections for each
// and fuses the passes into one ranking.
type MultiPassAdapter struct {
	index    storage.IndexRepository
	embedder ai.Embedder
	planner  ai.QueryPlanner
	topics   []ai.Topic
	byName   map[string]string
	all      []string
	settings
}

var _ Adapter = (*MultiPassAdapter)(nil)

// NewMultiPassAdapter creates a multi-pass adapter over topics.
func NewMultiPassAdapter(index storage.IndexRepository, embedder ai.Embedder, planner ai.QueryPlanner, topics []Topic, opts ...Option) (*MultiPassAdapter, error) {
	if index == nil {
		return nil, ErrIndexRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if planner == nil {
		return nil, ErrPlannerRequired
	}
	if len(topics) == 0 {
		return nil, ErrTopicsRequired
	}
	s, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	s.logger = s.logger.With("component", "search", "strategy", core.StrategyMultiPass)

	a := &MultiPassAdapter{
		index:    index,
		embedder: embedder,
		planner:  planner,
		byName:   make(map[string]string, len(topics)),
		settings: s,
	}
	for _, t := range topics {
		if t.Name == "" {
			return nil, fmt.Errorf("%w: topic name is empty", ErrTopicsRequired)
		}
		if _, dup := a.byName[t.Name]; dup {
			return nil, fmt.Errorf("duplicate topic %q", t.Name)
		}
		collection := t.Collection
		if collection == "" {
			collection = t.Name
		}
		a.byName[t.Name] = collection
		if !slices.Contains(a.all, collection) {
			a.all = append(a.all, collection)
		}
		a.topics = append(a.topics, ai.Topic{Name: t.Name, Description: t.Description})
	}
	return a, nil
}

// Strategy implements Adapter.
func (a *MultiPassAdapter) Strategy() core.Strategy {
	return core.StrategyMultiPass
}

// Search plans query, runs one pass per sub-query and re-ranks the fused
// results against the original question. Any failed pass fails the search.
// Monitors registered on a multi-pass adapter must be safe for concurrent use.
func (a *MultiPassAdapter) Search(ctx context.Context, query string) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, core.ErrEmptyQuery
	}
	a.monitor.Start(core.StrategyMultiPass, query)

	plan, err := retry.Value(ctx, a.policy, func(ctx context.Context) (*ai.QueryPlan, error) {
		return a.planner.PlanQuery(ctx, query, a.topics, a.maxSubQueries)
	})
	if err != nil {
		a.logger.Error("error planning query", "err", err)
		return nil, adapterError(core.StrategyMultiPass, fmt.Errorf("plan query: %w", err))
	}
	subQueries := a.subQueries(plan, query)
	a.monitor.AfterPlan(&ai.QueryPlan{SubQueries: subQueries})
	a.logger.Debug("query planned", "subQueries", len(subQueries))

	passes := make([][]*core.Hit, len(subQueries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.passConcurrency)
	for i, sq := range subQueries {
		g.Go(func() error {
			hits, err := a.pass(gctx, sq)
			if err != nil {
				return fmt.Errorf("pass %q: %w", sq.Text, err)
			}
			passes[i] = hits
			a.monitor.AfterPass(sq, hits)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		a.logger.Error("retrieval pass failed", "err", err)
		return nil, adapterError(core.StrategyMultiPass, err)
	}

	ranked := rerank(fuse(passes), query, a.keywordWeight)
	if len(ranked) > a.limit {
		ranked = ranked[:a.limit]
	}
	results := toResults(ranked)
	a.monitor.Finish(results)
	a.logger.Debug("search finished", "passes", len(passes), "hits", len(results))
	return results, nil
}

// subQueries caps the plan and falls back to the original question.
func (a *MultiPassAdapter) subQueries(plan *ai.QueryPlan, query string) []ai.SubQuery {
	var out []ai.SubQuery
	if plan != nil {
		for _, sq := range plan.SubQueries {
			if strings.TrimSpace(sq.Text) == "" {
				continue
			}
			out = append(out, sq)
			if len(out) == a.maxSubQueries {
				break
			}
		}
	}
	if len(out) == 0 {
		out = []ai.SubQuery{{Text: query}}
	}
	return out
}

func (a *MultiPassAdapter) pass(ctx context.Context, sq ai.SubQuery) ([]*core.Hit, error) {
	vector, err := embedQuery(ctx, a.embedder, &a.settings, sq.Text)
	if err != nil {
		return nil, err
	}
	collections := a.collectionsFor(sq.Topics)
	return retry.Value(ctx, a.policy, func(ctx context.Context) ([]*core.Hit, error) {
		return a.index.Search(ctx, &core.SearchQuery{
			Collections:   collections,
			Text:          sq.Text,
			Vector:        vector,
			Limit:         a.passLimit,
			KeywordWeight: a.keywordWeight,
		})
	})
}

// collectionsFor maps planned topics to collections. Unknown topics are
// ignored; a plan naming no known topic searches every collection.
func (a *MultiPassAdapter) collectionsFor(topics []string) []string {
	var out []string
	for _, name := range topics {
		if c, ok := a.byName[name]; ok && !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return a.all
	}
	return out
}

// fused is a hit with its reciprocal rank fusion score.
type fused struct {
	hit *core.Hit
	rrf float64
}

// fuse merges passes by chunk with reciprocal rank fusion. The first
// occurrence of a chunk supplies its snippet and source.
func fuse(passes [][]*core.Hit) []*fused {
	byChunk := make(map[string]*fused)
	var order []*fused
	for _, hits := range passes {
		for rank, hit := range hits {
			f, ok := byChunk[hit.ChunkID]
			if !ok {
				copied := *hit
				f = &fused{hit: &copied}
				byChunk[hit.ChunkID] = f
				order = append(order, f)
			}
			f.rrf += 1 / float64(rrfK+rank+1)
		}
	}
	return order
}

// rerank scores fused hits against the original query and sorts them.
func rerank(hits []*fused, query string, keywordWeight float32) []*core.Hit {
	var top float64
	for _, f := range hits {
		top = max(top, f.rrf)
	}

	out := make([]*core.Hit, 0, len(hits))
	for _, f := range hits {
		score := (1 - keywordWeight) * float32(f.rrf/top)
		score += keywordWeight * core.KeywordScore(f.hit.Snippet, query)
		if core.ContainsAllTerms(f.hit.Snippet, query) {
			score += verbatimBoost
		}
		f.hit.Score = score
		out = append(out, f.hit)
	}

	slices.SortStableFunc(out, func(x, y *core.Hit) int {
		switch {
		case x.Score > y.Score:
			return -1
		case x.Score < y.Score:
			return 1
		}
		return strings.Compare(x.ChunkID, y.ChunkID)
	})
	return out
}
