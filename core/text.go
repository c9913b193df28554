package core

import "strings"

// Stop words ignored by keyword scoring
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true,
	"by": true, "from": true, "how": true, "what": true, "i": true, "my": true,
}

// Terms splits text into words, lowercases, trims punctuation, and removes stop words.
func Terms(text string) []string {
	words := strings.Fields(text)
	filtered := make([]string, 0, len(words))

	for _, word := range words {
		cleaned := strings.ToLower(strings.Trim(word, ".,!?;:'\"-()[]{}"))
		if cleaned != "" && !stopWords[cleaned] {
			filtered = append(filtered, cleaned)
		}
	}

	return filtered
}

// KeywordScore returns the fraction of distinct query terms present in document, 0..1.
func KeywordScore(document, query string) float32 {
	queryTerms := distinct(Terms(query))
	if len(queryTerms) == 0 {
		return 0
	}

	docTerms := make(map[string]bool)
	for _, word := range Terms(document) {
		docTerms[word] = true
	}

	matched := 0
	for _, term := range queryTerms {
		if docTerms[term] {
			matched++
		}
	}
	return float32(matched) / float32(len(queryTerms))
}

// ContainsAllTerms checks if all query terms appear in the document.
func ContainsAllTerms(document, query string) bool {
	return len(Terms(query)) > 0 && KeywordScore(document, query) == 1
}

func distinct(terms []string) []string {
	seen := make(map[string]bool, len(terms))
	out := terms[:0:0]
	for _, t := range terms {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
