package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/poiesic/kbpipe/ai"
	"github.com/poiesic/kbpipe/core"
)

// Synthesizer implements ai.AnswerSynthesizer with a chat model that answers
// strictly from numbered passages.
type Synthesizer struct {
	chat            *chatClient
	maxContextChars int
}

type synthesisResponse struct {
	Answer    string `json:"answer"`
	Citations []int  `json:"citations"`
}

func newSynthesizer(config *ai.Config) (*Synthesizer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Synthesizer{
		chat:            newChatClient(config, "openai-synthesizer"),
		maxContextChars: config.MaxContextChars,
	}, nil
}

// NewSynthesizer creates a new answer synthesizer.
//
// Returns ai.AnswerSynthesizer interface to enforce abstraction.
func NewSynthesizer(config *ai.Config) (ai.AnswerSynthesizer, error) {
	return newSynthesizer(config)
}

// Synthesize answers query from hits. Cited indexes in the result are
// zero-based positions in hits.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, hits []*core.Hit) (*ai.Synthesis, error) {
	query = scrubString(query)
	if query == "" {
		return nil, core.ErrEmptyQuery
	}

	passages, used := buildPassages(hits, s.maxContextChars)

	var resp synthesisResponse
	if err := s.chat.completeJSON(ctx, synthesisPrompt, buildSynthesisInput(query, passages), &resp); err != nil {
		return nil, err
	}

	answer := strings.TrimSpace(resp.Answer)
	if answer == "" {
		return nil, core.Transient(ErrEmptyResponse)
	}

	result := &ai.Synthesis{Text: answer}
	seen := make(map[int]bool)
	for _, n := range resp.Citations {
		// passages are numbered from 1
		idx := n - 1
		if idx < 0 || idx >= used || seen[idx] {
			continue
		}
		seen[idx] = true
		result.Cited = append(result.Cited, idx)
	}
	s.chat.logger.Debug("synthesized answer", "passages", used, "cited", len(result.Cited))
	return result, nil
}

// buildPassages renders hits as numbered passages until maxChars is reached.
// Returns the rendered text and the number of hits included.
func buildPassages(hits []*core.Hit, maxChars int) (string, int) {
	var b strings.Builder
	used := 0
	for i, hit := range hits {
		entry := formatPassage(i+1, hit)
		if maxChars > 0 && b.Len()+len(entry) > maxChars {
			if used == 0 {
				b.WriteString(truncateRunes(entry, maxChars))
				used = 1
			}
			break
		}
		b.WriteString(entry)
		used++
	}
	return b.String(), used
}

func formatPassage(n int, hit *core.Hit) string {
	title := hit.Source.Title
	if title == "" {
		title = hit.Source.DocumentID
	}
	if hit.Source.Page > 0 {
		title = fmt.Sprintf("%s (page %d)", title, hit.Source.Page)
	}
	return fmt.Sprintf("[%d] %s\n%s\n\n", n, title, strings.TrimSpace(hit.Snippet))
}
