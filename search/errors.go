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

package search

import "errors"

var (
	// ErrIndexRequired is returned when an index repository is not provided.
	ErrIndexRequired = errors.New("index repository required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrPlannerRequired is returned when a query planner is not provided.
	ErrPlannerRequired = errors.New("query planner required")

	// ErrCollectionRequired is returned when the direct adapter has no collection to search.
	ErrCollectionRequired = errors.New("collection required")

	// ErrTopicsRequired is returned when the multi-pass adapter has no topics to search.
	ErrTopicsRequired = errors.New("at least one topic required")
)
