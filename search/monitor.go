package search

import (
	"github.com/poiesic/kbpipe/ai"
	"github.com/poiesic/kbpipe/core"
)

// SearchMonitor provides hooks to observe the search process.
// Implement this interface to track intermediate steps and results during search.
type SearchMonitor interface {
	Start(strategy core.Strategy, query string)
	AfterPlan(plan *ai.QueryPlan)
	AfterPass(subQuery ai.SubQuery, hits []*core.Hit)
	Finish(results []Result)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ core.Strategy, _ string)        {}
func (n *noopMonitor) AfterPlan(_ *ai.QueryPlan)              {}
func (n *noopMonitor) AfterPass(_ ai.SubQuery, _ []*core.Hit) {}
func (n *noopMonitor) Finish(_ []Result)                      {}
