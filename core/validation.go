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

package core

import (
	"fmt"
	"strings"
)

// ValidateDefinition validates a PipelineDefinition according to domain rules.
//
// Validation rules:
//   - Name and Index.Collection must not be empty
//   - Stages must follow StageOrder and include extract, chunk and embed
//   - 0 <= Chunking.Overlap < Chunking.Size
//   - Verbalization.MaxConcurrency >= 1 and 0 <= MaxFailureRatio <= 1
//   - Embedding.Dimensions and BatchSize > 0
//   - Schedule.Budget, Interval, BatchSize and Workers > 0
//
// Call ApplyDefaults first; validation does not fill gaps.
func ValidateDefinition(def *PipelineDefinition) error {
	if def == nil {
		return fmt.Errorf("%w: definition is nil", ErrInvalidDefinition)
	}
	if strings.TrimSpace(def.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}
	if def.Index.Collection == "" {
		return fmt.Errorf("%w: %s: index collection is required", ErrInvalidDefinition, def.Name)
	}
	if err := validateStages(def.Stages); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidDefinition, def.Name, err)
	}
	if def.Chunking.Size <= 0 {
		return fmt.Errorf("%w: %s: chunk size must be > 0", ErrInvalidDefinition, def.Name)
	}
	if def.Chunking.Overlap < 0 || def.Chunking.Overlap >= def.Chunking.Size {
		return fmt.Errorf("%w: %s: chunk overlap must be >= 0 and < size", ErrInvalidDefinition, def.Name)
	}
	if def.Verbalization.MaxConcurrency < 1 {
		return fmt.Errorf("%w: %s: verbalization concurrency must be >= 1", ErrInvalidDefinition, def.Name)
	}
	if ratio := def.Verbalization.FailureRatio(); ratio < 0 || ratio > 1 {
		return fmt.Errorf("%w: %s: max image failure ratio must be within [0, 1]", ErrInvalidDefinition, def.Name)
	}
	if def.Embedding.Dimensions <= 0 {
		return fmt.Errorf("%w: %s: embedding dimensions must be > 0", ErrInvalidDefinition, def.Name)
	}
	if def.Embedding.BatchSize <= 0 {
		return fmt.Errorf("%w: %s: embedding batch size must be > 0", ErrInvalidDefinition, def.Name)
	}
	if def.Schedule.Budget <= 0 || def.Schedule.Interval <= 0 {
		return fmt.Errorf("%w: %s: schedule budget and interval must be > 0", ErrInvalidDefinition, def.Name)
	}
	if def.Schedule.BatchSize <= 0 || def.Schedule.Workers <= 0 {
		return fmt.Errorf("%w: %s: batch size and workers must be > 0", ErrInvalidDefinition, def.Name)
	}
	return nil
}

func validateStages(stages []Stage) error {
	position := 0
	seen := make(map[Stage]bool, len(stages))
	for _, stage := range stages {
		for position < len(StageOrder) && StageOrder[position] != stage {
			position++
		}
		if position == len(StageOrder) {
			return fmt.Errorf("stage %q is unknown or out of order", stage)
		}
		seen[stage] = true
		position++
	}
	for _, required := range []Stage{StageExtract, StageChunk, StageEmbed} {
		if !seen[required] {
			return fmt.Errorf("stage %q is required", required)
		}
	}
	return nil
}

// ValidateCorpusItem validates a CorpusItem listed by an object store.
func ValidateCorpusItem(item *CorpusItem) error {
	if item == nil {
		return fmt.Errorf("%w: item is nil", ErrInvalidCorpusItem)
	}
	if item.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidCorpusItem)
	}
	switch item.ContentType {
	case ContentTypeText, ContentTypeMarkdown, ContentTypeImage:
	default:
		return fmt.Errorf("%w: %s: unsupported content type %q", ErrInvalidCorpusItem, item.ID, item.ContentType)
	}
	if item.ModifiedAt.IsZero() {
		return fmt.Errorf("%w: %s: modification time is required", ErrInvalidCorpusItem, item.ID)
	}
	return nil
}

// ValidateRetrievalRequest validates a request before routing.
func ValidateRetrievalRequest(req *RetrievalRequest) error {
	if req == nil || strings.TrimSpace(req.Query) == "" {
		return ErrEmptyQuery
	}
	if !req.Level.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidReasoningLevel, int(req.Level))
	}
	return nil
}
