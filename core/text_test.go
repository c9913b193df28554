package core

import (
	"reflect"
	"testing"
)

func TestTerms(t *testing.T) {
	got := Terms("How do I reset the Pump's breaker?")
	want := []string{"reset", "pump's", "breaker"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Terms() = %v, want %v", got, want)
	}
}

func TestKeywordScore(t *testing.T) {
	doc := "To reset the breaker, hold the pump reset button for five seconds."

	tests := []struct {
		query string
		want  float32
	}{
		{"reset breaker", 1},
		{"reset breaker reset", 1},
		{"reset valve", 0.5},
		{"valve gasket", 0},
		{"the of and", 0},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			if got := KeywordScore(doc, tt.query); got != tt.want {
				t.Errorf("KeywordScore() = %v, want %v", got, tt.want)
			}
		})
	}

	if !ContainsAllTerms(doc, "pump breaker") {
		t.Errorf("ContainsAllTerms() should match")
	}
	if ContainsAllTerms(doc, "the") {
		t.Errorf("ContainsAllTerms() with only stop words should not match")
	}
}
