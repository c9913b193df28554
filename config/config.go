// Package config loads the YAML file that describes a kbpipe deployment: the
// state store, the index backend, the AI services, the secret sources, the
// scheduler and router tuning, and the pipeline definitions.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/poiesic/kbpipe/ai"
	"github.com/poiesic/kbpipe/core"
	"github.com/poiesic/kbpipe/retry"
	"github.com/poiesic/kbpipe/schedule"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON []byte

// Backend names.
const (
	IndexBadger  = "badger"
	IndexQdrant  = "qdrant"
	SourceFS     = "fs"
	SourceGitHub = "github"
)

// Storage locates the local state store.
type Storage struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
}

// Qdrant addresses a managed Qdrant index.
type Qdrant struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	UseTLS bool   `yaml:"use_tls"`
}

// Index selects the index backend.
type Index struct {
	Backend      string `yaml:"backend"`
	Consolidated string `yaml:"consolidated"`
	Qdrant       Qdrant `yaml:"qdrant"`
}

// GitHub addresses a repository used as the object store.
type GitHub struct {
	Owner string `yaml:"owner"`
	Repo  string `yaml:"repo"`
	Ref   string `yaml:"ref"`
	Path  string `yaml:"path"`
}

// Source selects the object store holding corpus items.
type Source struct {
	Backend string `yaml:"backend"`
	Root    string `yaml:"root"`
	GitHub  GitHub `yaml:"github"`
}

// Secrets names where credentials come from. The *Key fields are secret
// field names, never values.
type Secrets struct {
	File         string `yaml:"file"`
	EnvPrefix    string `yaml:"env_prefix"`
	AIAPIKey     string `yaml:"ai_api_key"`
	QdrantAPIKey string `yaml:"qdrant_api_key"`
	GitHubToken  string `yaml:"github_token"`
}

// Scheduler tunes batch runs.
type Scheduler struct {
	Holder     string        `yaml:"holder"`
	LeaseGrace time.Duration `yaml:"lease_grace"`
	Retry      retry.Policy  `yaml:"retry"`
}

// Adapter tunes one retrieval route.
type Adapter struct {
	Limit         int `yaml:"limit"`
	MaxSubQueries int `yaml:"max_sub_queries"`
	PassLimit     int `yaml:"pass_limit"`
}

// Router tunes the retrieval routes.
type Router struct {
	KeywordWeight float64      `yaml:"keyword_weight"`
	Retry         retry.Policy `yaml:"retry"`
	Direct        Adapter      `yaml:"direct"`
	Balanced      Adapter      `yaml:"balanced"`
	Thorough      Adapter      `yaml:"thorough"`
}

// File is the root of the configuration file.
type File struct {
	Storage   Storage                    `yaml:"storage"`
	Index     Index                      `yaml:"index"`
	Source    Source                     `yaml:"source"`
	AI        *ai.Config                 `yaml:"ai"`
	Secrets   Secrets                    `yaml:"secrets"`
	Scheduler Scheduler                  `yaml:"scheduler"`
	Router    Router                     `yaml:"router"`
	Pipelines []*core.PipelineDefinition `yaml:"pipelines"`
}

// Default returns a File with every default applied and no pipelines.
func Default() *File {
	return &File{
		Storage: Storage{Path: "kbpipe.db"},
		Index: Index{
			Backend:      IndexBadger,
			Consolidated: core.DefaultConsolidatedIndexName,
			Qdrant:       Qdrant{Host: "localhost", Port: 6334},
		},
		Source:  Source{Backend: SourceFS, Root: "."},
		AI:      ai.DefaultConfig(),
		Secrets: Secrets{AIAPIKey: "ai.api_key", QdrantAPIKey: "qdrant.api_key", GitHubToken: "github.token"},
		Scheduler: Scheduler{
			LeaseGrace: schedule.DefaultLeaseGrace,
			Retry:      retry.DefaultPolicy(),
		},
		Router: Router{
			KeywordWeight: 0.3,
			Retry:         retry.DefaultPolicy(),
			Direct:        Adapter{Limit: 8},
			Balanced:      Adapter{Limit: 8, MaxSubQueries: 3, PassLimit: 10},
			Thorough:      Adapter{Limit: 12, MaxSubQueries: 6, PassLimit: 20},
		},
	}
}

// Load reads, validates and defaults the configuration file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a configuration document.
func Parse(data []byte) (*File, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateSchema(doc map[string]any) error {
	if doc == nil {
		doc = map[string]any{}
	}
	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schemaJSON), gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

// Validate applies pipeline defaults and checks the file for consistency.
func (f *File) Validate() error {
	if f.AI == nil {
		f.AI = ai.DefaultConfig()
	}
	f.AI.Normalize()
	if f.Index.Consolidated == "" {
		f.Index.Consolidated = core.DefaultConsolidatedIndexName
	}
	if f.Index.Backend == IndexQdrant && f.Index.Qdrant.Host == "" {
		return fmt.Errorf("%w: qdrant host is required", ErrInvalidConfig)
	}
	if f.Source.Backend == SourceGitHub && (f.Source.GitHub.Owner == "" || f.Source.GitHub.Repo == "") {
		return fmt.Errorf("%w: github owner and repo are required", ErrInvalidConfig)
	}
	if err := f.Scheduler.Retry.Validate(); err != nil {
		return fmt.Errorf("%w: scheduler retry: %w", ErrInvalidConfig, err)
	}
	if err := f.Router.Retry.Validate(); err != nil {
		return fmt.Errorf("%w: router retry: %w", ErrInvalidConfig, err)
	}

	seen := make(map[string]bool, len(f.Pipelines))
	var errs []error
	for _, def := range f.Pipelines {
		if seen[def.Name] {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicatePipeline, def.Name))
			continue
		}
		seen[def.Name] = true
		if def.Index.Consolidates() && def.Index.Consolidated == "" {
			def.Index.Consolidated = f.Index.Consolidated
		}
		if err := f.bindModels(def); err != nil {
			errs = append(errs, err)
		}
		def.ApplyDefaults()
		if err := core.ValidateDefinition(def); err != nil {
			errs = append(errs, fmt.Errorf("pipeline %s: %w", def.Name, err))
		}
	}
	// Direct retrieval reads only the consolidated collection.
	if len(f.Pipelines) > 0 && !f.feedsConsolidated() {
		errs = append(errs, fmt.Errorf("%w: no pipeline writes to consolidated collection %q",
			ErrInvalidConfig, f.Index.Consolidated))
	}
	// One query vector searches every collection.
	for i := 1; i < len(f.Pipelines); i++ {
		def, first := f.Pipelines[i], f.Pipelines[0]
		if def.Embedding.Dimensions != first.Embedding.Dimensions {
			errs = append(errs, fmt.Errorf("%w: pipeline %s embeds %d dimensions, %s embeds %d",
				ErrInvalidConfig, def.Name, def.Embedding.Dimensions, first.Name, first.Embedding.Dimensions))
		}
	}
	return errors.Join(errs...)
}

// bindModels pins the definition to the models the AI services run. A
// definition may leave a model empty but may not name a different one.
func (f *File) bindModels(def *core.PipelineDefinition) error {
	var errs []error
	switch def.Verbalization.Model {
	case "":
		def.Verbalization.Model = f.AI.VisionModel
	case f.AI.VisionModel:
	default:
		errs = append(errs, fmt.Errorf("%w: pipeline %s: verbalization model %q differs from ai.vision_model %q",
			ErrInvalidConfig, def.Name, def.Verbalization.Model, f.AI.VisionModel))
	}
	switch def.Embedding.Model {
	case "":
		def.Embedding.Model = f.AI.EmbeddingModel
	case f.AI.EmbeddingModel:
	default:
		errs = append(errs, fmt.Errorf("%w: pipeline %s: embedding model %q differs from ai.embedding_model %q",
			ErrInvalidConfig, def.Name, def.Embedding.Model, f.AI.EmbeddingModel))
	}
	return errors.Join(errs...)
}

func (f *File) feedsConsolidated() bool {
	for _, def := range f.Pipelines {
		if slices.Contains(def.Index.Collections(), f.Index.Consolidated) {
			return true
		}
	}
	return false
}

// Pipeline returns the named definition, or nil.
func (f *File) Pipeline(name string) *core.PipelineDefinition {
	for _, def := range f.Pipelines {
		if def.Name == name {
			return def
		}
	}
	return nil
}

// Topics returns the definitions' topics in file order, without repeats.
func (f *File) Topics() []*core.PipelineDefinition {
	seen := make(map[string]bool, len(f.Pipelines))
	var out []*core.PipelineDefinition
	for _, def := range f.Pipelines {
		if seen[def.Topic] {
			continue
		}
		seen[def.Topic] = true
		out = append(out, def)
	}
	return out
}
