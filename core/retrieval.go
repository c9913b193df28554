package core

import (
	"fmt"
	"strings"
	"time"
)

// ReasoningLevel is the caller-selected trade-off between answer latency and
// retrieval thoroughness. The set is closed.
type ReasoningLevel int

const (
	ReasoningDirect ReasoningLevel = iota + 1
	ReasoningBalanced
	ReasoningThorough
)

// ReasoningLevels lists every valid level.
var ReasoningLevels = []ReasoningLevel{ReasoningDirect, ReasoningBalanced, ReasoningThorough}

func (l ReasoningLevel) String() string {
	switch l {
	case ReasoningDirect:
		return "direct"
	case ReasoningBalanced:
		return "balanced"
	case ReasoningThorough:
		return "thorough"
	}
	return fmt.Sprintf("ReasoningLevel(%d)", int(l))
}

// Valid reports whether l is one of the enumerated levels.
func (l ReasoningLevel) Valid() bool {
	return l >= ReasoningDirect && l <= ReasoningThorough
}

// ParseReasoningLevel parses a level name. There is no default: an empty or
// unknown name is an error.
func ParseReasoningLevel(s string) (ReasoningLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "direct":
		return ReasoningDirect, nil
	case "balanced":
		return ReasoningBalanced, nil
	case "thorough":
		return ReasoningThorough, nil
	}
	return 0, fmt.Errorf("%w: %q (must be one of direct, balanced, thorough)", ErrInvalidReasoningLevel, s)
}

// MarshalText implements encoding.TextMarshaler.
func (l ReasoningLevel) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidReasoningLevel, int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *ReasoningLevel) UnmarshalText(text []byte) error {
	parsed, err := ParseReasoningLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Strategy names the retrieval strategy that served a request.
type Strategy string

const (
	StrategySinglePass Strategy = "single-pass"
	StrategyMultiPass  Strategy = "multi-pass"
)

// RetrievalRequest is one question posed to the router. It is never persisted.
type RetrievalRequest struct {
	Query          string
	Level          ReasoningLevel
	ConversationID string
}

// SourceRef locates a hit in the index using the index's own payload fields.
type SourceRef struct {
	DocumentID string
	Source     string
	Title      string
	Collection string
	Page       int
	ChunkIndex int
	Metadata   map[string]string
}

// Hit is one ranked search result.
type Hit struct {
	ChunkID string
	Snippet string
	Source  SourceRef
	Score   float32
}

// Citation is the normalized reference attached to an answer.
type Citation struct {
	DocumentID string `json:"document_id"`
	Location   string `json:"location"`
	Title      string `json:"title,omitempty"`
	URL        string `json:"url,omitempty"`
}

// Answer is the router's response to a retrieval request.
type Answer struct {
	Text           string
	Citations      []Citation
	Strategy       Strategy
	Level          ReasoningLevel
	Latency        time.Duration
	ConversationID string
}

// SearchQuery is one call to the index service combining keyword and vector criteria.
type SearchQuery struct {
	Collections   []string
	Text          string
	Vector        []float32
	Limit         int
	KeywordWeight float32 // Share of the blended score taken by keyword relevance, 0..1
}
