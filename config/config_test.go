package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/poiesic/kbpipe/core"
	"github.com/poiesic/kbpipe/retry"
	"github.com/poiesic/kbpipe/schedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kbpipe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
pipelines:
  - name: manuals
    source:
      prefix: docs/
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, IndexBadger, cfg.Index.Backend)
	assert.Equal(t, SourceFS, cfg.Source.Backend)
	assert.Equal(t, schedule.DefaultLeaseGrace, cfg.Scheduler.LeaseGrace)
	assert.Equal(t, retry.DefaultPolicy(), cfg.Scheduler.Retry)
	assert.Equal(t, "text-embedding-3-large", cfg.AI.EmbeddingModel)

	require.Len(t, cfg.Pipelines, 1)
	want := &core.PipelineDefinition{
		Name:   "manuals",
		Topic:  "manuals",
		Source: core.SourceConfig{Prefix: "docs/"},
		Stages: []core.Stage{core.StageExtract, core.StageVerbalize, core.StageChunk, core.StageEmbed},
		Chunking: core.ChunkingConfig{
			Size:    core.DefaultChunkSize,
			Overlap: core.DefaultChunkOverlap,
		},
		Verbalization: core.VerbalizationConfig{
			Model:           "gpt-4o-mini",
			Prompt:          core.DefaultVerbalizationPrompt,
			MaxConcurrency:  core.DefaultVerbalizeConcurrency,
			MaxFailureRatio: core.Ptr(core.DefaultMaxImageFailureRatio),
		},
		Embedding: core.EmbeddingConfig{
			Model:      "text-embedding-3-large",
			Dimensions: core.DefaultEmbeddingDimensions,
			BatchSize:  core.DefaultEmbeddingBatchSize,
		},
		Index: core.IndexSchema{
			Collection:   "manuals",
			Consolidate:  core.Ptr(true),
			Consolidated: core.DefaultConsolidatedIndexName,
		},
		Schedule: core.ScheduleConfig{
			Interval:  core.DefaultRunInterval,
			Budget:    core.DefaultRunBudget,
			BatchSize: core.DefaultRunBatchSize,
			Workers:   4,
		},
	}
	if diff := cmp.Diff(want, cfg.Pipelines[0]); diff != "" {
		t.Errorf("pipeline mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_OverridesAndDurations(t *testing.T) {
	path := writeConfig(t, `
index:
  backend: qdrant
  consolidated: everything
  qdrant:
    host: qdrant.internal
    port: 6334
    use_tls: true
ai:
  chat_host: http://localhost:11434
scheduler:
  holder: worker-1
  lease_grace: 90s
  retry:
    max_attempts: 5
    base_delay: 250ms
    max_delay: 5s
    call_timeout: 30s
router:
  keyword_weight: 0.5
  thorough:
    limit: 20
    max_sub_queries: 8
    pass_limit: 30
pipelines:
  - name: guides
    topic: field-guides
    stages: [extract, chunk, embed]
    index:
      consolidate: true
    schedule:
      interval: 15m
      budget: 1h30m
      batch_size: 25
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, IndexQdrant, cfg.Index.Backend)
	assert.True(t, cfg.Index.Qdrant.UseTLS)
	assert.Equal(t, "http://localhost:11434/v1", cfg.AI.ChatHost)
	assert.Equal(t, "https://api.openai.com/v1", cfg.AI.EmbeddingHost)
	assert.Equal(t, 90*time.Second, cfg.Scheduler.LeaseGrace)
	assert.Equal(t, retry.Policy{MaxAttempts: 5, BaseDelay: 250 * time.Millisecond, MaxDelay: 5 * time.Second, CallTimeout: 30 * time.Second}, cfg.Scheduler.Retry)
	assert.Equal(t, Adapter{Limit: 20, MaxSubQueries: 8, PassLimit: 30}, cfg.Router.Thorough)
	assert.Equal(t, Adapter{Limit: 8}, cfg.Router.Direct)
	assert.InDelta(t, 0.5, cfg.Router.KeywordWeight, 1e-9)

	def := cfg.Pipeline("guides")
	require.NotNil(t, def)
	assert.Equal(t, "field-guides", def.Index.Collection)
	assert.Equal(t, "everything", def.Index.Consolidated)
	assert.Equal(t, 90*time.Minute, def.Schedule.Budget)
	assert.Equal(t, 15*time.Minute, def.Schedule.Interval)
	assert.Equal(t, 25, def.Schedule.BatchSize)
	assert.False(t, def.HasStage(core.StageVerbalize))
	assert.Nil(t, cfg.Pipeline("missing"))
}

func TestLoad_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no pipelines", "storage:\n  in_memory: true\n"},
		{"empty document", ""},
		{"unknown top-level key", "pipelines:\n  - name: a\nextra: 1\n"},
		{"unknown stage", "pipelines:\n  - name: a\n    stages: [extract, summarize]\n"},
		{"bad backend", "index:\n  backend: elastic\npipelines:\n  - name: a\n"},
		{"bad duration", "pipelines:\n  - name: a\n    schedule:\n      budget: two hours\n"},
		{"ratio out of range", "pipelines:\n  - name: a\n    verbalization:\n      max_failure_ratio: 1.5\n"},
		{"bad name", "pipelines:\n  - name: Bad Name\n"},
		{"negative batch", "pipelines:\n  - name: a\n    schedule:\n      batch_size: -1\n"},
		{"github without repo", "source:\n  backend: github\n  github:\n    owner: acme\npipelines:\n  - name: a\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoad_DuplicatePipelines(t *testing.T) {
	path := writeConfig(t, `
pipelines:
  - name: manuals
  - name: guides
  - name: manuals
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicatePipeline)
	assert.Contains(t, err.Error(), path)
}

func TestLoad_MixedDimensions(t *testing.T) {
	path := writeConfig(t, `
pipelines:
  - name: manuals
    embedding:
      dimensions: 256
  - name: videos
    topic: videos
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "videos embeds 1536 dimensions")
}

func TestLoad_ZeroFailureRatioIsKept(t *testing.T) {
	cfg, err := Parse([]byte(`
pipelines:
  - name: strict
    verbalization:
      max_failure_ratio: 0
  - name: lenient
`))
	require.NoError(t, err)

	strict := cfg.Pipeline("strict")
	require.NotNil(t, strict.Verbalization.MaxFailureRatio)
	assert.Zero(t, strict.Verbalization.FailureRatio())
	assert.InDelta(t, core.DefaultMaxImageFailureRatio, cfg.Pipeline("lenient").Verbalization.FailureRatio(), 1e-9)
}

func TestLoad_ConsolidatedCollectionMustBeFed(t *testing.T) {
	_, err := Parse([]byte(`
pipelines:
  - name: manuals
    index:
      consolidate: false
  - name: guides
    index:
      consolidate: false
`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), `consolidated collection "consolidated"`)

	cfg, err := Parse([]byte(`
pipelines:
  - name: manuals
    index:
      consolidate: false
  - name: guides
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"manuals"}, cfg.Pipeline("manuals").Index.Collections())
	assert.Equal(t, []string{"guides", "consolidated"}, cfg.Pipeline("guides").Index.Collections())
}

func TestLoad_PipelineModelsFollowAIConfig(t *testing.T) {
	cfg, err := Parse([]byte(`
ai:
  embedding_model: nomic-embed-text
  vision_model: llava
pipelines:
  - name: manuals
  - name: guides
    verbalization:
      model: llava
    embedding:
      model: nomic-embed-text
`))
	require.NoError(t, err)
	for _, def := range cfg.Pipelines {
		assert.Equal(t, "llava", def.Verbalization.Model, def.Name)
		assert.Equal(t, "nomic-embed-text", def.Embedding.Model, def.Name)
	}

	_, err = Parse([]byte(`
ai:
  embedding_model: nomic-embed-text
pipelines:
  - name: manuals
    embedding:
      model: text-embedding-3-small
    verbalization:
      model: llava
`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), `embedding model "text-embedding-3-small" differs`)
	assert.Contains(t, err.Error(), `verbalization model "llava" differs`)
}

func TestLoad_DefinitionValidation(t *testing.T) {
	path := writeConfig(t, `
pipelines:
  - name: manuals
    chunking:
      size: 10
      overlap: 10
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidDefinition)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), "read config")
}

func TestTopics(t *testing.T) {
	cfg, err := Parse([]byte(`
pipelines:
  - name: manuals
  - name: manuals-archive
    topic: manuals
  - name: guides
`))
	require.NoError(t, err)

	var names []string
	for _, def := range cfg.Topics() {
		names = append(names, def.Topic)
	}
	assert.Equal(t, []string{"manuals", "guides"}, names)
}
