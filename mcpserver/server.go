package mcpserver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/poiesic/kbpipe/core"
)

// Answerer answers retrieval requests. router.Router implements it.
type Answerer interface {
	Answer(ctx context.Context, req *core.RetrievalRequest) (*core.Answer, error)
}

// Config holds server dependencies.
type Config struct {
	Answerer Answerer
	Name     string // Default "kbpipe"
	Version  string // Default "dev"
	Logger   *slog.Logger
}

// Server wraps the MCP server with its dependencies.
type Server struct {
	server   *mcp.Server
	answerer Answerer
	logger   *slog.Logger
}

// NewServer creates an MCP server with the answer_question tool registered.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil || cfg.Answerer == nil {
		return nil, ErrAnswererRequired
	}
	impl := &mcp.Implementation{Name: cfg.Name, Version: cfg.Version}
	if impl.Name == "" {
		impl.Name = "kbpipe"
	}
	if impl.Version == "" {
		impl.Version = "dev"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		server:   mcp.NewServer(impl, nil),
		answerer: cfg.Answerer,
		logger:   logger.With("component", "mcp"),
	}
	mcp.AddTool(s.server, &mcp.Tool{
		Name: "answer_question",
		Description: "Answer a technical support question from the indexed knowledge base. " +
			"Returns answer text with citations (document and page or video timestamp). " +
			"reasoning_level must be direct (single fast search), balanced or thorough (planned multi-pass search).",
	}, s.answerQuestion)
	return s, nil
}

// Run serves over stdio until the client disconnects or ctx is done.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}

func (s *Server) answerQuestion(ctx context.Context, _ *mcp.CallToolRequest, input AnswerQuestionInput) (
	*mcp.CallToolResult, AnswerQuestionOutput, error,
) {
	level, err := core.ParseReasoningLevel(input.ReasoningLevel)
	if err != nil {
		return nil, AnswerQuestionOutput{}, err
	}

	answer, err := s.answerer.Answer(ctx, &core.RetrievalRequest{
		Query:          input.Query,
		Level:          level,
		ConversationID: input.ConversationID,
	})
	if err != nil {
		s.logger.Warn("answer_question failed", "level", level, "err", err)
		return nil, AnswerQuestionOutput{}, fmt.Errorf("could not answer the question: %w", err)
	}

	citations := answer.Citations
	if citations == nil {
		citations = []core.Citation{}
	}
	return nil, AnswerQuestionOutput{
		Answer:         answer.Text,
		Citations:      citations,
		Strategy:       string(answer.Strategy),
		ReasoningLevel: answer.Level.String(),
		LatencyMS:      answer.Latency.Milliseconds(),
		ConversationID: answer.ConversationID,
	}, nil
}
