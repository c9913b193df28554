package openai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/kbpipe/ai"
	"github.com/poiesic/kbpipe/core"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const maxDescriptionTokens = 600

// Verbalizer implements ai.ImageVerbalizer with a vision-capable chat model.
type Verbalizer struct {
	client llms.Model
	logger *slog.Logger
}

func newVerbalizer(config *ai.Config) (*Verbalizer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.ChatHost),
		openai.WithToken(token(config)),
		openai.WithModel(config.VisionModel),
	)
	if err != nil {
		return nil, err
	}

	return &Verbalizer{
		client: client,
		logger: slog.Default().With("component", "openai-verbalizer"),
	}, nil
}

// NewVerbalizer creates a new image verbalizer.
//
// Returns ai.ImageVerbalizer interface to enforce abstraction.
func NewVerbalizer(config *ai.Config) (ai.ImageVerbalizer, error) {
	return newVerbalizer(config)
}

// VerbalizeImage sends the image inline with the prompt and returns the description.
func (v *Verbalizer) VerbalizeImage(ctx context.Context, image *core.Image, prompt string) (string, error) {
	if image == nil || len(image.Data) == 0 {
		return "", core.Permanent(fmt.Errorf("image %q has no content", refOf(image)))
	}

	content := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.TextPart(prompt),
				llms.BinaryPart(image.MimeType, image.Data),
			},
		},
	}

	response, err := v.client.GenerateContent(ctx, content,
		llms.WithTemperature(0.0),
		llms.WithMaxTokens(maxDescriptionTokens),
	)
	if err != nil {
		v.logger.Debug("verbalization call failed", "image", image.Ref, "err", err)
		return "", classify(err)
	}
	if len(response.Choices) < 1 {
		return "", core.Transient(ErrEmptyResponse)
	}

	description := strings.TrimSpace(response.Choices[0].Content)
	if description == "" {
		return "", core.Transient(ErrEmptyResponse)
	}
	return description, nil
}

func refOf(image *core.Image) string {
	if image == nil {
		return ""
	}
	return image.Ref
}
