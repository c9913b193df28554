package ingestion

import (
	"fmt"
	"strings"

	"github.com/poiesic/kbpipe/core"
)

// TextChunk is one window of words produced by Chunk.
type TextChunk struct {
	Index       int
	Page        int // Page of the first word
	SectionPath string
	Text        string
}

type word struct {
	text    string
	page    int
	section string
}

// Chunk applies a sliding window of size words, overlapping by overlap words,
// across the text of spans in order. Failed image spans contribute their alt
// text only. The output depends on nothing but the inputs.
func Chunk(spans []core.Span, size, overlap int) ([]TextChunk, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: size=%d overlap=%d", ErrInvalidChunking, size, overlap)
	}

	var words []word
	for i := range spans {
		span := &spans[i]
		for _, w := range strings.Fields(spanText(span)) {
			words = append(words, word{text: w, page: span.Page, section: span.SectionPath})
		}
	}
	if len(words) == 0 {
		return nil, nil
	}

	step := size - overlap
	var chunks []TextChunk
	for start := 0; start < len(words); start += step {
		end := min(start+size, len(words))
		window := words[start:end]

		texts := make([]string, len(window))
		for i, w := range window {
			texts[i] = w.text
		}
		chunks = append(chunks, TextChunk{
			Index:       len(chunks),
			Page:        window[0].page,
			SectionPath: window[0].section,
			Text:        strings.Join(texts, " "),
		})

		if end == len(words) {
			break
		}
	}
	return chunks, nil
}

// spanText is the indexable text of a span.
func spanText(span *core.Span) string {
	if span.Kind != core.SpanImage {
		return span.Text
	}
	switch {
	case span.Failed || span.Text == "":
		return span.AltText
	case span.AltText != "":
		return span.AltText + ": " + span.Text
	}
	return span.Text
}
