package mock

import (
	"context"
	"sync"

	"github.com/poiesic/kbpipe/ai"
)

// MockPlanner is a test double for ai.QueryPlanner.
type MockPlanner struct {
	// PlanFunc is called by PlanQuery if set.
	PlanFunc func(ctx context.Context, query string, topics []ai.Topic, maxSubQueries int) (*ai.QueryPlan, error)

	mu        sync.Mutex
	callCount int
}

// NewMockPlanner creates a mock planner that echoes the query.
func NewMockPlanner() *MockPlanner {
	return &MockPlanner{}
}

// PlanQuery returns a single sub-query targeting every topic unless PlanFunc is set.
func (m *MockPlanner) PlanQuery(ctx context.Context, query string, topics []ai.Topic, maxSubQueries int) (*ai.QueryPlan, error) {
	m.mu.Lock()
	m.callCount++
	m.mu.Unlock()

	if m.PlanFunc != nil {
		return m.PlanFunc(ctx, query, topics, maxSubQueries)
	}

	names := make([]string, len(topics))
	for i, t := range topics {
		names[i] = t.Name
	}
	return &ai.QueryPlan{SubQueries: []ai.SubQuery{{Text: query, Topics: names}}}, nil
}

// CallCount returns the number of PlanQuery calls.
func (m *MockPlanner) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}
