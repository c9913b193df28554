// Package mcpserver exposes the retrieval router as an MCP tool.
package mcpserver

import "github.com/poiesic/kbpipe/core"

// AnswerQuestionInput defines the input parameters for the answer_question tool.
type AnswerQuestionInput struct {
	// Query is the natural-language question.
	Query string `json:"query" jsonschema:"the question to answer from the knowledge base"`
	// ReasoningLevel selects the latency and thoroughness trade-off.
	ReasoningLevel string `json:"reasoning_level" jsonschema:"one of direct, balanced or thorough. direct is fastest, thorough searches most"`
	// ConversationID groups questions of one conversation. Generated if empty.
	ConversationID string `json:"conversation_id,omitempty" jsonschema:"conversation identifier returned by a previous answer"`
}

// AnswerQuestionOutput contains the cited answer.
type AnswerQuestionOutput struct {
	Answer         string          `json:"answer"`
	Citations      []core.Citation `json:"citations"`
	Strategy       string          `json:"strategy"`
	ReasoningLevel string          `json:"reasoning_level"`
	LatencyMS      int64           `json:"latency_ms"`
	ConversationID string          `json:"conversation_id"`
}
