package openai

import (
	"context"
	"strings"

	"github.com/poiesic/kbpipe/ai"
	"github.com/poiesic/kbpipe/core"
)

// Planner implements ai.QueryPlanner by asking a chat model to decompose a query.
type Planner struct {
	chat *chatClient
}

func newPlanner(config *ai.Config) (*Planner, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Planner{chat: newChatClient(config, "openai-planner")}, nil
}

// NewPlanner creates a new query planner.
//
// Returns ai.QueryPlanner interface to enforce abstraction.
func NewPlanner(config *ai.Config) (ai.QueryPlanner, error) {
	return newPlanner(config)
}

// PlanQuery decomposes query into at most maxSubQueries sub-queries.
func (p *Planner) PlanQuery(ctx context.Context, query string, topics []ai.Topic, maxSubQueries int) (*ai.QueryPlan, error) {
	query = scrubString(query)
	if query == "" {
		return nil, core.ErrEmptyQuery
	}
	if maxSubQueries < 1 {
		maxSubQueries = 1
	}

	var plan ai.QueryPlan
	if err := p.chat.completeJSON(ctx, buildPlannerPrompt(topics, maxSubQueries), query, &plan); err != nil {
		return nil, err
	}

	cleaned := cleanPlan(&plan, query, topics, maxSubQueries)
	p.chat.logger.Debug("planned query", "query", query, "sub_queries", len(cleaned.SubQueries))
	return cleaned, nil
}

// cleanPlan drops empty sub-queries and unknown topics, caps the plan size
// and falls back to the original query when nothing usable remains.
func cleanPlan(plan *ai.QueryPlan, query string, topics []ai.Topic, maxSubQueries int) *ai.QueryPlan {
	known := make(map[string]bool, len(topics))
	for _, t := range topics {
		known[t.Name] = true
	}

	out := &ai.QueryPlan{}
	seen := make(map[string]bool)
	for _, sq := range plan.SubQueries {
		text := scrubString(sq.Text)
		key := strings.ToLower(text)
		if text == "" || seen[key] {
			continue
		}
		seen[key] = true

		var kept []string
		for _, topic := range sq.Topics {
			if known[topic] {
				kept = append(kept, topic)
			}
		}
		out.SubQueries = append(out.SubQueries, ai.SubQuery{Text: text, Topics: kept})
		if len(out.SubQueries) == maxSubQueries {
			break
		}
	}

	if len(out.SubQueries) == 0 {
		out.SubQueries = []ai.SubQuery{{Text: query}}
	}
	return out
}
