// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package openai

import (
	"fmt"
	"strings"

	"github.com/poiesic/kbpipe/ai"
)

// DefaultImagePrompt asks a vision model for a searchable description of a
// figure embedded in a document.
const DefaultImagePrompt = `Describe this image from a technical document so that it can be found by text search.

Rules:
- Transcribe every legible label, caption, part number, and table cell verbatim.
- Describe what the figure shows (diagram, chart, photo, screenshot) and the relationships it depicts.
- For charts, state the axes, units, and notable values or trends.
- Do not speculate about content that is not visible.
- Output plain text only, no markdown headings and no preamble.`

const plannerPromptTemplate = `You decompose a user's question into focused search queries over a document index.

Output ONLY valid JSON. Do not include any preamble or explanation. Start your response directly with the
opening brace { and end with the closing brace }. Use exactly this shape:

{"sub_queries": [{"query": "<search text>", "topics": ["<topic name>"]}]}

Rules:
- Produce between 1 and %d sub-queries. Use a single sub-query when the question is already focused.
- Each query must be self-contained; resolve pronouns using the original question.
- Topics must be chosen only from the list below. Use an empty list when no topic clearly applies.
- Do not answer the question.

Available topics:
%s`

const synthesisPrompt = `You answer questions using only the numbered passages provided by the user.

Output ONLY valid JSON with exactly this shape:

{"answer": "<answer text>", "citations": [<passage numbers>]}

Rules:
- Base the answer solely on the passages. If they do not contain the answer, say so plainly in "answer" and return "citations": [].
- Cite every passage number you relied on. Never cite a number that was not provided.
- Keep the answer concise and factual. Preserve part numbers, values, and units exactly.`

// buildPlannerPrompt renders the planner system prompt with the available topics.
func buildPlannerPrompt(topics []ai.Topic, maxSubQueries int) string {
	var b strings.Builder
	if len(topics) == 0 {
		b.WriteString("(none)\n")
	}
	for _, t := range topics {
		if t.Description != "" {
			fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
		} else {
			fmt.Fprintf(&b, "- %s\n", t.Name)
		}
	}
	return fmt.Sprintf(plannerPromptTemplate, maxSubQueries, b.String())
}

// buildSynthesisInput renders the user message for answer synthesis.
func buildSynthesisInput(query, passages string) string {
	if passages == "" {
		passages = "(no passages)\n"
	}
	return fmt.Sprintf("Passages:\n\n%s\nQuestion: %s", passages, query)
}
