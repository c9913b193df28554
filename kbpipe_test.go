package kbpipe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/kbpipe/ai/mock"
	"github.com/poiesic/kbpipe/config"
	"github.com/poiesic/kbpipe/core"
	"github.com/poiesic/kbpipe/secret"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
storage:
  in_memory: true
source:
  root: %s
secrets:
  env_prefix: KBPIPE_TEST_SECRET_
router:
  keyword_weight: 0.5
pipelines:
  - name: manuals
    source:
      prefix: docs/
    embedding:
      dimensions: 32
    credentials: [index.api_key]
`

func newTestConfig(t *testing.T) *config.File {
	t.Helper()
	root := t.TempDir()
	docs := filepath.Join(root, "docs")
	require.NoError(t, os.MkdirAll(docs, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "pump.md"),
		[]byte("# Pump maintenance\n\nReplace the pump seal every 500 hours of operation.\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "valve.txt"),
		[]byte("Open the bleed valve before draining the tank."), 0o644))

	cfg, err := config.Parse([]byte(fmt.Sprintf(testConfig, root)))
	require.NoError(t, err)
	return cfg
}

func openTestSystem(t *testing.T, secrets secret.Store) *System {
	t.Helper()
	sys, err := Open(context.Background(), newTestConfig(t),
		WithProvider(mock.NewMockProvider()),
		WithSecretStore(secrets))
	require.NoError(t, err)
	t.Cleanup(func() { sys.Close() })
	return sys
}

func TestOpen_IndexesAndAnswers(t *testing.T) {
	sys := openTestSystem(t, secret.MapStore{})
	ctx := context.Background()

	def, err := sys.Definition("manuals")
	require.NoError(t, err)

	run, err := sys.Scheduler().RunOnce(ctx, def)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, core.RunSucceeded, run.State)

	require.Equal(t, []string{"manuals", core.DefaultConsolidatedIndexName}, def.Index.Collections())
	for _, collection := range def.Index.Collections() {
		n, err := sys.Index().Count(ctx, collection)
		require.NoError(t, err)
		assert.Positive(t, n, collection)
	}

	tests := []struct {
		level    core.ReasoningLevel
		strategy core.Strategy
	}{
		{core.ReasoningDirect, core.StrategySinglePass},
		{core.ReasoningBalanced, core.StrategyMultiPass},
		{core.ReasoningThorough, core.StrategyMultiPass},
	}
	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			answer, err := sys.Router().Answer(ctx, &core.RetrievalRequest{Query: "pump seal", Level: tt.level})
			require.NoError(t, err)
			assert.Equal(t, tt.strategy, answer.Strategy)
			var docs []string
			for _, c := range answer.Citations {
				docs = append(docs, c.DocumentID)
			}
			assert.Contains(t, docs, "docs/pump.md")
		})
	}

	count, err := testutil.GatherAndCount(sys.Registry(), "kbpipe_router_answers_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestOpen_CredentialSync(t *testing.T) {
	sys := openTestSystem(t, secret.MapStore{"index.api_key": "s3cret"})
	ctx := context.Background()
	def, err := sys.Definition("manuals")
	require.NoError(t, err)

	require.NoError(t, sys.Custodian().Sync(ctx, def))

	bundle, err := sys.Custodian().Load(ctx, def)
	require.NoError(t, err)
	require.Contains(t, bundle, "index.api_key")
	assert.True(t, bundle["index.api_key"].IsMasked())
}

func TestOpen_CredentialSyncRefusesUnresolved(t *testing.T) {
	sys := openTestSystem(t, secret.MapStore{})
	def, err := sys.Definition("manuals")
	require.NoError(t, err)

	err = sys.Custodian().Sync(context.Background(), def)
	assert.ErrorIs(t, err, secret.ErrUnresolved)
}

func TestPoolSize(t *testing.T) {
	defs := []*core.PipelineDefinition{
		{Schedule: core.ScheduleConfig{Workers: 4}},
		{Schedule: core.ScheduleConfig{Workers: 2}},
		{},
	}
	assert.Equal(t, 7, poolSize(defs))
	assert.Equal(t, 1, poolSize(nil))
}

func TestDefinition_Unknown(t *testing.T) {
	sys := openTestSystem(t, secret.MapStore{})

	_, err := sys.Definition("missing")
	assert.ErrorIs(t, err, core.ErrConfiguration)
	assert.Len(t, sys.Definitions(), 1)
}

func TestOpen_InvalidStoragePath(t *testing.T) {
	cfg := newTestConfig(t)
	file := filepath.Join(t.TempDir(), "not_a_dir")
	require.NoError(t, os.WriteFile(file, []byte("test"), 0o644))
	cfg.Storage = config.Storage{Path: file}

	sys, err := Open(context.Background(), cfg, WithProvider(mock.NewMockProvider()), WithSecretStore(secret.MapStore{}))
	assert.Error(t, err)
	assert.Nil(t, sys)
}

func TestOpen_NilConfig(t *testing.T) {
	_, err := Open(context.Background(), nil)
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestClose(t *testing.T) {
	sys, err := Open(context.Background(), newTestConfig(t), WithProvider(mock.NewMockProvider()), WithSecretStore(secret.MapStore{}))
	require.NoError(t, err)
	assert.NoError(t, sys.Close())
	assert.NoError(t, sys.Close(), "second close is a no-op")
}
