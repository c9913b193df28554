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

// Package search implements the retrieval backend adapters.
//
// Every adapter answers the same contract: given query text, return a ranked
// list of snippets with normalized citations. Two strategies are provided:
//   - DirectAdapter issues one hybrid keyword and vector query against a
//     consolidated collection. No planning call is made.
//   - MultiPassAdapter asks a QueryPlanner to decompose the question, runs
//     one pass per sub-query against the per-topic collections it names, then
//     fuses and re-ranks the passes.
//
// Source references are rewritten by NormalizeCitation so that callers see
// the same citation shape regardless of which collection a hit came from.
package search
