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

package ingestion

import "errors"

var (
	// ErrAIProviderRequired is returned when an AI provider is not provided.
	ErrAIProviderRequired = errors.New("AI provider required")

	// ErrGraphRequired is returned when a pipeline is created without a stage graph.
	ErrGraphRequired = errors.New("stage graph required")

	// ErrObjectStoreRequired is returned when an object store is not provided.
	ErrObjectStoreRequired = errors.New("object store required")

	// ErrUnsupportedContent indicates an item whose content type has no extractor.
	ErrUnsupportedContent = errors.New("unsupported content type")

	// ErrUnresolvableImage indicates an image reference outside the object store.
	ErrUnresolvableImage = errors.New("image reference cannot be resolved")

	// ErrImageFailureThreshold indicates too many image spans of an item failed verbalization.
	ErrImageFailureThreshold = errors.New("image verbalization failure ratio exceeded")

	// ErrInvalidChunking indicates an unusable window size or overlap.
	ErrInvalidChunking = errors.New("chunk overlap must be >= 0 and < size")
)
