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

package kbpipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/poiesic/kbpipe/ai"
	"github.com/poiesic/kbpipe/ai/openai"
	"github.com/poiesic/kbpipe/config"
	"github.com/poiesic/kbpipe/core"
	"github.com/poiesic/kbpipe/ingestion"
	"github.com/poiesic/kbpipe/metrics"
	"github.com/poiesic/kbpipe/router"
	"github.com/poiesic/kbpipe/schedule"
	"github.com/poiesic/kbpipe/search"
	"github.com/poiesic/kbpipe/secret"
	"github.com/poiesic/kbpipe/storage"
	"github.com/poiesic/kbpipe/storage/badger"
	"github.com/poiesic/kbpipe/storage/fs"
	"github.com/poiesic/kbpipe/storage/github"
	"github.com/poiesic/kbpipe/storage/qdrant"
	"github.com/prometheus/client_golang/prometheus"
)

// System wires storage, the index, the AI services and the secret store into
// a scheduler, a custodian and a retrieval router.
type System struct {
	cfg       *config.File
	store     *badger.Store
	index     storage.IndexRepository
	objects   storage.ObjectStore
	provider  ai.AIProvider
	pipeline  *ingestion.Pipeline
	custodian *secret.Custodian
	scheduler *schedule.Scheduler
	router    *router.Router
	metrics   *metrics.Metrics
	registry  *prometheus.Registry
	closers   []func() error // Owned resources, closed in reverse order
	logger    *slog.Logger
}

// Option overrides a dependency of the System.
type Option func(*options) error

type options struct {
	provider ai.AIProvider
	objects  storage.ObjectStore
	index    storage.IndexRepository
	secrets  secret.Store
	registry *prometheus.Registry
	clock    schedule.Clock
	progress io.Writer
	logger   *slog.Logger
}

// WithProvider uses provider instead of an OpenAI-compatible one.
func WithProvider(provider ai.AIProvider) Option {
	return func(o *options) error {
		if provider == nil {
			return errors.New("provider cannot be nil")
		}
		o.provider = provider
		return nil
	}
}

// WithObjectStore uses objects instead of the configured source.
func WithObjectStore(objects storage.ObjectStore) Option {
	return func(o *options) error {
		if objects == nil {
			return errors.New("object store cannot be nil")
		}
		o.objects = objects
		return nil
	}
}

// WithIndex uses index instead of the configured backend.
func WithIndex(index storage.IndexRepository) Option {
	return func(o *options) error {
		if index == nil {
			return errors.New("index cannot be nil")
		}
		o.index = index
		return nil
	}
}

// WithSecretStore resolves secrets from store instead of the environment and
// the configured secrets file.
func WithSecretStore(store secret.Store) Option {
	return func(o *options) error {
		if store == nil {
			return errors.New("secret store cannot be nil")
		}
		o.secrets = store
		return nil
	}
}

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) error {
		o.registry = reg
		return nil
	}
}

// WithClock sets the scheduler clock.
func WithClock(clock schedule.Clock) Option {
	return func(o *options) error {
		o.clock = clock
		return nil
	}
}

// WithProgress reports batch progress of each run to w.
func WithProgress(w io.Writer) Option {
	return func(o *options) error {
		o.progress = w
		return nil
	}
}

// WithLogger sets the logger passed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		o.logger = logger
		return nil
	}
}

// Open builds a System from cfg. The caller must Close it.
func Open(ctx context.Context, cfg *config.File, opts ...Option) (_ *System, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: configuration is required", core.ErrConfiguration)
	}
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}

	sys := &System{cfg: cfg, logger: o.logger.With("component", "kbpipe")}
	defer func() {
		if err != nil {
			sys.Close()
		}
	}()

	secrets := o.secrets
	if secrets == nil {
		if secrets, err = secretStore(cfg.Secrets); err != nil {
			return nil, err
		}
	}

	if sys.store, err = badger.Open(cfg.Storage.Path, cfg.Storage.InMemory); err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	sys.closers = append(sys.closers, sys.store.Close)

	sys.index = o.index
	if sys.index == nil {
		if sys.index, err = openIndex(ctx, cfg, sys.store, secrets); err != nil {
			return nil, err
		}
		sys.closers = append(sys.closers, sys.index.Close)
	}

	sys.objects = o.objects
	if sys.objects == nil {
		if sys.objects, err = openObjects(ctx, cfg, secrets); err != nil {
			return nil, err
		}
	}

	sys.provider = o.provider
	if sys.provider == nil {
		if sys.provider, err = openProvider(ctx, cfg, secrets); err != nil {
			return nil, err
		}
		sys.closers = append(sys.closers, sys.provider.Close)
	}

	sys.registry = o.registry
	if sys.registry == nil {
		sys.registry = prometheus.NewRegistry()
	}
	if sys.metrics, err = metrics.New(sys.registry); err != nil {
		return nil, err
	}

	if sys.custodian, err = secret.NewCustodian(sys.store.Config, secrets, secret.WithLogger(o.logger)); err != nil {
		return nil, err
	}

	if err = sys.buildScheduler(cfg, o); err != nil {
		return nil, err
	}
	if err = sys.buildRouter(cfg, o.logger); err != nil {
		return nil, err
	}
	return sys, nil
}

func secretStore(cfg config.Secrets) (secret.Store, error) {
	chain := secret.ChainStore{secret.EnvStore{Prefix: cfg.EnvPrefix}}
	if cfg.File != "" {
		file, err := secret.LoadFileStore(cfg.File)
		if err != nil {
			return nil, err
		}
		chain = append(chain, file)
	}
	return chain, nil
}

// optionalSecret resolves field, treating a missing value as empty.
func optionalSecret(ctx context.Context, store secret.Store, field string) (string, error) {
	if field == "" {
		return "", nil
	}
	v, err := store.Resolve(ctx, field)
	if errors.Is(err, secret.ErrSecretNotFound) {
		return "", nil
	}
	return v, err
}

func openIndex(ctx context.Context, cfg *config.File, store *badger.Store, secrets secret.Store) (storage.IndexRepository, error) {
	switch cfg.Index.Backend {
	case config.IndexQdrant:
		apiKey, err := optionalSecret(ctx, secrets, cfg.Secrets.QdrantAPIKey)
		if err != nil {
			return nil, err
		}
		return qdrant.Open(ctx, qdrant.Config{
			Host:   cfg.Index.Qdrant.Host,
			Port:   cfg.Index.Qdrant.Port,
			APIKey: apiKey,
			UseTLS: cfg.Index.Qdrant.UseTLS,
		})
	case config.IndexBadger, "":
		return store.Index, nil
	}
	return nil, fmt.Errorf("%w: unknown index backend %q", core.ErrConfiguration, cfg.Index.Backend)
}

func openObjects(ctx context.Context, cfg *config.File, secrets secret.Store) (storage.ObjectStore, error) {
	switch cfg.Source.Backend {
	case config.SourceGitHub:
		token, err := optionalSecret(ctx, secrets, cfg.Secrets.GitHubToken)
		if err != nil {
			return nil, err
		}
		gh := cfg.Source.GitHub
		return github.New(github.Config{Owner: gh.Owner, Repo: gh.Repo, Ref: gh.Ref, Path: gh.Path, Token: token})
	case config.SourceFS, "":
		return fs.New(cfg.Source.Root)
	}
	return nil, fmt.Errorf("%w: unknown source backend %q", core.ErrConfiguration, cfg.Source.Backend)
}

func openProvider(ctx context.Context, cfg *config.File, secrets secret.Store) (ai.AIProvider, error) {
	apiKey, err := optionalSecret(ctx, secrets, cfg.Secrets.AIAPIKey)
	if err != nil {
		return nil, err
	}
	aiConfig := *cfg.AI
	aiConfig.APIKey = apiKey
	return openai.NewProvider(&aiConfig)
}

// poolSize covers every definition running its full worker count at once.
func poolSize(defs []*core.PipelineDefinition) int {
	size := 0
	for _, def := range defs {
		size += max(def.Schedule.Workers, 1)
	}
	return max(size, 1)
}

func (s *System) buildScheduler(cfg *config.File, o *options) error {
	graph, err := ingestion.NewGraph(s.provider,
		ingestion.WithImageSource(s.objects),
		ingestion.WithRetryPolicy(cfg.Scheduler.Retry),
		ingestion.WithGraphLogger(o.logger))
	if err != nil {
		return err
	}
	s.pipeline, err = ingestion.NewPipeline(graph, s.objects,
		ingestion.WithPoolSize(poolSize(cfg.Pipelines)),
		ingestion.WithFetchPolicy(cfg.Scheduler.Retry),
		ingestion.WithLogger(o.logger))
	if err != nil {
		return err
	}

	schedOpts := []schedule.Option{
		schedule.WithLeaseGrace(cfg.Scheduler.LeaseGrace),
		schedule.WithRetryPolicy(cfg.Scheduler.Retry),
		schedule.WithObserver(s.metrics),
		schedule.WithLogger(o.logger),
	}
	if cfg.Scheduler.Holder != "" {
		schedOpts = append(schedOpts, schedule.WithHolder(cfg.Scheduler.Holder))
	}
	if o.clock != nil {
		schedOpts = append(schedOpts, schedule.WithClock(o.clock))
	}
	if o.progress != nil {
		schedOpts = append(schedOpts, schedule.WithProgress(o.progress))
	}
	s.scheduler, err = schedule.NewScheduler(s.objects, s.pipeline, s.index, schedule.State{
		Checkpoints: s.store.Checkpoints,
		Leases:      s.store.Leases,
		Runs:        s.store.Runs,
	}, schedOpts...)
	return err
}

func (s *System) buildRouter(cfg *config.File, logger *slog.Logger) error {
	embedder := s.provider.Embedder()
	rc := cfg.Router
	dimensions := core.DefaultEmbeddingDimensions
	if len(cfg.Pipelines) > 0 {
		dimensions = cfg.Pipelines[0].Embedding.Dimensions
	}
	common := []search.Option{
		search.WithKeywordWeight(float32(rc.KeywordWeight)),
		search.WithDimensions(dimensions),
		search.WithRetryPolicy(rc.Retry),
		search.WithLogger(logger),
	}

	direct, err := search.NewDirectAdapter(s.index, embedder, cfg.Index.Consolidated,
		slices.Concat(common, []search.Option{search.WithLimit(rc.Direct.Limit)})...)
	if err != nil {
		return err
	}

	var topics []search.Topic
	for _, def := range cfg.Topics() {
		topics = append(topics, search.Topic{
			Name:        def.Topic,
			Description: def.Description,
			Collection:  def.Index.Collection,
		})
	}
	multiPass := func(a config.Adapter) (*search.MultiPassAdapter, error) {
		return search.NewMultiPassAdapter(s.index, embedder, s.provider.Planner(), topics,
			slices.Concat(common, []search.Option{
				search.WithLimit(a.Limit),
				search.WithMaxSubQueries(a.MaxSubQueries),
				search.WithPassLimit(a.PassLimit),
			})...)
	}
	balanced, err := multiPass(rc.Balanced)
	if err != nil {
		return err
	}
	thorough, err := multiPass(rc.Thorough)
	if err != nil {
		return err
	}

	s.router, err = router.New(router.Routes{
		core.ReasoningDirect:   direct,
		core.ReasoningBalanced: balanced,
		core.ReasoningThorough: thorough,
	}, s.provider.Synthesizer(),
		router.WithRecorder(s.metrics),
		router.WithRetryPolicy(rc.Retry),
		router.WithLogger(logger))
	return err
}

// Close releases the components the System opened itself. Dependencies passed
// in as options are left to the caller.
func (s *System) Close() error {
	if s.pipeline != nil {
		s.pipeline.Release()
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Error("error closing component", "err", err)
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Config returns the configuration the System was opened with.
func (s *System) Config() *config.File { return s.cfg }

// Definitions returns the configured pipeline definitions.
func (s *System) Definitions() []*core.PipelineDefinition { return s.cfg.Pipelines }

// Definition returns the named definition or an error naming it.
func (s *System) Definition(name string) (*core.PipelineDefinition, error) {
	if def := s.cfg.Pipeline(name); def != nil {
		return def, nil
	}
	return nil, fmt.Errorf("%w: unknown pipeline %q", core.ErrConfiguration, name)
}

// Scheduler returns the batch run scheduler.
func (s *System) Scheduler() *schedule.Scheduler { return s.scheduler }

// Router returns the retrieval router.
func (s *System) Router() *router.Router { return s.router }

// Custodian returns the credential custodian.
func (s *System) Custodian() *secret.Custodian { return s.custodian }

// Index returns the index repository.
func (s *System) Index() storage.IndexRepository { return s.index }

// Registry returns the metrics registry.
func (s *System) Registry() *prometheus.Registry { return s.registry }
