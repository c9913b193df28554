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

// Package ai provides abstractions for the model endpoints kbpipe calls.
//
// The package defines the calls the pipeline and the router make against an
// LLM endpoint:
//
//   - Embedder: text embeddings for chunks and queries
//   - ImageVerbalizer: descriptions of images embedded in documents
//   - QueryPlanner: decomposition of a question into sub-queries
//   - AnswerSynthesizer: grounded answers with citations
//   - AIProvider: aggregates the services above
//
// # Implementation Packages
//
//   - ai/openai: OpenAI-compatible APIs (langchaingo for embeddings and
//     vision, openai-go for planning and synthesis)
//   - ai/mock: Test doubles with injectable behavior and call counts
//
// Public constructors in ai/openai return interface types. Mock constructors
// return concrete types so tests can inject behavior and assert call counts.
//
// # Errors
//
// Implementations mark throttling, timeouts and server errors with
// core.Transient so call sites can retry them; everything else is permanent.
//
// # Usage Example
//
//	config := ai.NewConfig(ai.WithAPIKey(key))
//	provider, err := openai.NewProvider(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	vectors, err := provider.Embedder().EmbedTexts(ctx, chunks)
package ai
