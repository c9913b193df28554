package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/poiesic/kbpipe/ai"
	"github.com/poiesic/kbpipe/core"
)

const maxParseAttempts = 3

// chatClient issues JSON-mode chat completions and decodes the reply.
type chatClient struct {
	client *openaisdk.Client
	model  string
	logger *slog.Logger
}

func newChatClient(config *ai.Config, component string) *chatClient {
	client := openaisdk.NewClient(
		option.WithAPIKey(token(config)),
		option.WithBaseURL(strings.TrimSuffix(config.ChatHost, "/")+"/"),
		option.WithMaxRetries(0),
	)
	return &chatClient{
		client: &client,
		model:  config.ChatModel,
		logger: slog.Default().With("component", component),
	}
}

// completeJSON sends the prompts and unmarshals the reply into out. Malformed
// replies are requested again up to maxParseAttempts times.
func (c *chatClient) completeJSON(ctx context.Context, system, user string, out any) error {
	params := openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(c.model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(system),
			openaisdk.UserMessage(user),
		},
		Temperature: openaisdk.Float(0),
		ResponseFormat: openaisdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openaisdk.ResponseFormatJSONObjectParam{Type: "json_object"},
		},
	}

	var lastErr error
	for attempt := 0; attempt < maxParseAttempts; attempt++ {
		resp, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			c.logger.Error("chat completion failed", "attempt", attempt+1, "err", err)
			return classify(err)
		}
		if len(resp.Choices) < 1 {
			return core.Transient(ErrEmptyResponse)
		}

		text := repairJSON(stripCodeFences(resp.Choices[0].Message.Content))
		if err := json.Unmarshal([]byte(text), out); err != nil {
			lastErr = err
			c.logger.Warn("error parsing model response",
				"attempt", attempt+1,
				"response", text,
				"err", err)
			continue
		}
		return nil
	}

	c.logger.Error("failed to parse model response after retries", "err", lastErr)
	return core.Permanent(fmt.Errorf("malformed model response: %w", lastErr))
}
