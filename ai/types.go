package ai

// Topic is a per-topic collection the planner may route sub-queries to.
type Topic struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// SubQuery is one retrieval pass of a multi-pass plan.
type SubQuery struct {
	Text   string   `json:"query"`
	Topics []string `json:"topics,omitempty"` // Empty means every topic
}

// QueryPlan is the planner's decomposition of a question.
type QueryPlan struct {
	SubQueries []SubQuery `json:"sub_queries"`
}

// Synthesis is a generated answer with the hits it relied on.
type Synthesis struct {
	Text  string
	Cited []int // Zero-based indexes into the hits passed to Synthesize
}
