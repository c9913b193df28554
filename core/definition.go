package core

import (
	"encoding/json"
	"time"
)

// Stage names one step of the enrichment stage graph.
type Stage string

const (
	StageExtract   Stage = "extract"
	StageVerbalize Stage = "verbalize"
	StageChunk     Stage = "chunk"
	StageEmbed     Stage = "embed"
)

// StageOrder is the fixed execution order of the stage graph.
var StageOrder = []Stage{StageExtract, StageVerbalize, StageChunk, StageEmbed}

// Default stage and schedule settings.
const (
	DefaultChunkSize             = 200
	DefaultChunkOverlap          = 40
	DefaultVerbalizeConcurrency  = 5
	DefaultMaxImageFailureRatio  = 0.5
	DefaultEmbeddingDimensions   = 1536
	DefaultEmbeddingBatchSize    = 64
	DefaultRunBatchSize          = 10
	DefaultRunBudget             = 2 * time.Hour
	DefaultRunInterval           = 30 * time.Minute
	DefaultVerbalizationPrompt   = "Describe this image from a technical support document. Include any visible text, labels, part numbers, measurements and the steps or components it shows. Answer in plain prose."
	DefaultConsolidatedIndexName = "consolidated"
)

// SourceConfig selects the corpus items of a definition.
type SourceConfig struct {
	Prefix string `json:"prefix" yaml:"prefix"`
}

// ChunkingConfig controls the sliding window chunker. Size and Overlap count words.
type ChunkingConfig struct {
	Size    int `json:"size" yaml:"size"`
	Overlap int `json:"overlap" yaml:"overlap"`
}

// VerbalizationConfig controls image verbalization. A nil MaxFailureRatio
// means the default; an explicit 0 tolerates no failed image.
type VerbalizationConfig struct {
	Model           string   `json:"model" yaml:"model"`
	Prompt          string   `json:"prompt" yaml:"prompt"`
	MaxConcurrency  int      `json:"max_concurrency" yaml:"max_concurrency"`
	MaxFailureRatio *float64 `json:"max_failure_ratio" yaml:"max_failure_ratio"`
}

// FailureRatio returns the share of an item's images that may fail before the
// item fails.
func (c VerbalizationConfig) FailureRatio() float64 {
	if c.MaxFailureRatio == nil {
		return DefaultMaxImageFailureRatio
	}
	return *c.MaxFailureRatio
}

// EmbeddingConfig controls the embedding stage. Dimensions is the truncation
// dimension applied to every vector of the definition.
type EmbeddingConfig struct {
	Model      string `json:"model" yaml:"model"`
	Dimensions int    `json:"dimensions" yaml:"dimensions"`
	BatchSize  int    `json:"batch_size" yaml:"batch_size"`
}

// IndexSchema names the target collections of a definition. Records are also
// written to the consolidated collection unless Consolidate is set to false.
type IndexSchema struct {
	Collection   string `json:"collection" yaml:"collection"`
	Consolidate  *bool  `json:"consolidate" yaml:"consolidate"`
	Consolidated string `json:"consolidated,omitempty" yaml:"consolidated"`
}

// Consolidates reports whether records are also written to the consolidated
// collection.
func (s IndexSchema) Consolidates() bool {
	return s.Consolidate == nil || *s.Consolidate
}

// Collections returns every collection a record of the definition is written to.
func (s IndexSchema) Collections() []string {
	if s.Consolidates() && s.Consolidated != "" && s.Consolidated != s.Collection {
		return []string{s.Collection, s.Consolidated}
	}
	return []string{s.Collection}
}

// ScheduleConfig controls how runs are triggered and bounded.
type ScheduleConfig struct {
	Interval  time.Duration `json:"interval" yaml:"interval"`
	Budget    time.Duration `json:"budget" yaml:"budget"`
	BatchSize int           `json:"batch_size" yaml:"batch_size"`
	Workers   int           `json:"workers" yaml:"workers"`
}

// PipelineDefinition declares the enrichment of one knowledge source.
type PipelineDefinition struct {
	Name          string              `json:"name" yaml:"name"`
	Topic         string              `json:"topic" yaml:"topic"`
	Description   string              `json:"description,omitempty" yaml:"description"`
	Source        SourceConfig        `json:"source" yaml:"source"`
	Stages        []Stage             `json:"stages" yaml:"stages"`
	Chunking      ChunkingConfig      `json:"chunking" yaml:"chunking"`
	Verbalization VerbalizationConfig `json:"verbalization" yaml:"verbalization"`
	Embedding     EmbeddingConfig     `json:"embedding" yaml:"embedding"`
	Index         IndexSchema         `json:"index" yaml:"index"`
	Schedule      ScheduleConfig      `json:"schedule" yaml:"schedule"`
	Credentials   []string            `json:"credentials,omitempty" yaml:"credentials"`
}

// ApplyDefaults fills unset fields with default values.
func (d *PipelineDefinition) ApplyDefaults() {
	if len(d.Stages) == 0 {
		d.Stages = append([]Stage(nil), StageOrder...)
	}
	if d.Topic == "" {
		d.Topic = d.Name
	}
	if d.Chunking.Size == 0 {
		d.Chunking.Size = DefaultChunkSize
		if d.Chunking.Overlap == 0 {
			d.Chunking.Overlap = DefaultChunkOverlap
		}
	}
	if d.Verbalization.Prompt == "" {
		d.Verbalization.Prompt = DefaultVerbalizationPrompt
	}
	if d.Verbalization.MaxConcurrency == 0 {
		d.Verbalization.MaxConcurrency = DefaultVerbalizeConcurrency
	}
	if d.Verbalization.MaxFailureRatio == nil {
		d.Verbalization.MaxFailureRatio = Ptr(DefaultMaxImageFailureRatio)
	}
	if d.Embedding.Dimensions == 0 {
		d.Embedding.Dimensions = DefaultEmbeddingDimensions
	}
	if d.Embedding.BatchSize == 0 {
		d.Embedding.BatchSize = DefaultEmbeddingBatchSize
	}
	if d.Index.Collection == "" {
		d.Index.Collection = d.Topic
	}
	if d.Index.Consolidate == nil {
		d.Index.Consolidate = Ptr(true)
	}
	if *d.Index.Consolidate && d.Index.Consolidated == "" {
		d.Index.Consolidated = DefaultConsolidatedIndexName
	}
	if d.Schedule.Interval == 0 {
		d.Schedule.Interval = DefaultRunInterval
	}
	if d.Schedule.Budget == 0 {
		d.Schedule.Budget = DefaultRunBudget
	}
	if d.Schedule.BatchSize == 0 {
		d.Schedule.BatchSize = DefaultRunBatchSize
	}
	if d.Schedule.Workers == 0 {
		d.Schedule.Workers = 4
	}
}

// Ptr returns a pointer to v, for optional definition fields.
func Ptr[T any](v T) *T {
	return &v
}

// HasStage reports whether the definition runs the given stage.
func (d *PipelineDefinition) HasStage(stage Stage) bool {
	for _, s := range d.Stages {
		if s == stage {
			return true
		}
	}
	return false
}

// versioned holds the fields whose change forces re-processing.
// Scheduling knobs and credentials are deliberately absent.
type versioned struct {
	Topic         string              `json:"topic"`
	Source        SourceConfig        `json:"source"`
	Stages        []Stage             `json:"stages"`
	Chunking      ChunkingConfig      `json:"chunking"`
	Verbalization VerbalizationConfig `json:"verbalization"`
	Embedding     EmbeddingConfig     `json:"embedding"`
	Index         IndexSchema         `json:"index"`
}

// Version returns the content hash of the processing-relevant configuration.
// Checkpoints are keyed by version, so any change re-processes the corpus.
func (d *PipelineDefinition) Version() string {
	data, _ := json.Marshal(versioned{
		Topic:         d.Topic,
		Source:        d.Source,
		Stages:        d.Stages,
		Chunking:      d.Chunking,
		Verbalization: d.Verbalization,
		Embedding:     d.Embedding,
		Index:         d.Index,
	})
	return ContentHash(data)[:16]
}
