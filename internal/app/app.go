// Package app wires the shared services used by the API, the worker and
// the operator CLI
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/therealutkarshpriyadarshi/videocontent/internal/assets"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/cache"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/catalog"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/config"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/database"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/events"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/logging"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/queue"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/status"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/storage"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/webhook"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/workflow"
)

// Backends are the storage layers the services run on
type Backends struct {
	Assets    assets.Repository
	Jobs      queue.Store
	Workflows workflow.Repository
	Catalog   catalog.Repository
	Store     storage.ObjectStore
	Publisher events.Publisher
	// Cache is optional. Without it status snapshots are rebuilt on every
	// read and watchers fall back to polling.
	Cache *cache.Cache
}

// MemoryBackends returns in-process backends backed by a local directory
func MemoryBackends(dir string) (Backends, error) {
	store, err := storage.NewLocalStore(dir)
	if err != nil {
		return Backends{}, err
	}
	return Backends{
		Assets:    assets.NewMemoryRepository(),
		Jobs:      queue.NewMemoryStore(),
		Workflows: workflow.NewMemoryRepository(),
		Catalog:   catalog.NewMemoryRepository(),
		Store:     store,
		Publisher: events.NopPublisher{},
	}, nil
}

// Services is the wired domain layer
type Services struct {
	Config    *config.Config
	Logger    *logging.Logger
	Assets    *assets.Service
	Queue     *queue.Queue
	Workflows *workflow.Service
	Catalog   *catalog.Service
	Status    *status.Aggregator
	Emitter   *events.Emitter
	Store     storage.ObjectStore
	Cache     *cache.Cache

	db      *database.DB
	closers []func()
}

// NewServices wires the domain services over b
func NewServices(cfg *config.Config, b Backends, logger *logging.Logger) *Services {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if b.Publisher == nil {
		b.Publisher = events.NopPublisher{}
	}

	emitter := events.NewEmitter(b.Publisher, logger)
	jobQueue := queue.New(b.Jobs, queue.Config{
		DefaultMaxRetries: cfg.Pipeline.DefaultMaxRetries,
		BackoffBase:       cfg.Pipeline.BackoffBase,
		BackoffCap:        cfg.Pipeline.BackoffCap,
	}, logger, queue.MetricsListener{}, emitter)
	assetService := assets.NewService(b.Assets, cfg.Pipeline.MaxUploadSize, logger)

	var opts []status.Option
	if b.Cache != nil {
		statusCache := cache.NewStatusCache(b.Cache, cfg.Pipeline.StatusCacheTTL)
		opts = append(opts, status.WithCache(statusCache), status.WithNotifier(statusCache))
	} else {
		opts = append(opts, status.WithNotifier(status.NewLocalNotifier()))
	}
	aggregator := status.NewAggregator(assetService, jobQueue, logger, opts...)
	// the stored asset status is synced before watchers are woken
	jobQueue.AddListener(assets.NewSyncer(assetService, jobQueue))
	jobQueue.AddListener(aggregator)

	return &Services{
		Config:    cfg,
		Logger:    logger,
		Assets:    assetService,
		Queue:     jobQueue,
		Workflows: workflow.NewService(b.Workflows, logger, emitter),
		Catalog:   catalog.NewService(b.Catalog, logger),
		Status:    aggregator,
		Emitter:   emitter,
		Store:     b.Store,
		Cache:     b.Cache,
	}
}

// Connect opens the configured Postgres, object storage, Redis and RabbitMQ
// connections and wires the services over them
func Connect(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Services, error) {
	var closers []func()
	fail := func(err error) (*Services, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		return nil, err
	}

	db, err := database.New(cfg.Database)
	if err != nil {
		return fail(fmt.Errorf("failed to connect to database: %w", err))
	}
	closers = append(closers, db.Close)
	repo := database.NewRepository(db)

	b := Backends{
		Assets:    repo,
		Jobs:      repo,
		Workflows: repo,
		Catalog:   repo,
		Publisher: events.NopPublisher{},
	}

	switch cfg.Storage.Backend {
	case "local":
		store, err := storage.NewLocalStore(cfg.Storage.LocalDir)
		if err != nil {
			return fail(fmt.Errorf("failed to open local storage: %w", err))
		}
		b.Store = store
	default:
		store, err := storage.New(cfg.Storage, logger)
		if err != nil {
			return fail(fmt.Errorf("failed to initialize storage: %w", err))
		}
		b.Store = store
	}

	if cfg.Redis.Enabled {
		c, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() { _ = c.Close() })
		b.Cache = c
	}

	if cfg.Events.Enabled {
		publisher, err := events.NewAMQPPublisher(cfg.Events)
		if err != nil {
			return fail(fmt.Errorf("failed to connect to event broker: %w", err))
		}
		closers = append(closers, func() { _ = publisher.Close() })
		b.Publisher = publisher
	}

	if len(cfg.Webhooks.Endpoints) > 0 {
		publisher, stop := WithWebhooks(b.Publisher, cfg.Webhooks, logger)
		closers = append(closers, stop)
		b.Publisher = publisher
	}

	s := NewServices(cfg, b, logger)
	s.db = db
	s.closers = closers
	return s, nil
}

// WithWebhooks starts a webhook dispatcher and returns a publisher that
// sends every event to both next and the dispatcher. stop ends delivery.
func WithWebhooks(next events.Publisher, cfg config.WebhooksConfig, logger *logging.Logger) (events.Publisher, func()) {
	dispatcher := webhook.New(cfg, logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatcher.Run(ctx)
		close(done)
	}()
	stop := func() {
		cancel()
		<-done
	}
	return events.MultiPublisher{next, dispatcher}, stop
}

// DB returns the Postgres pool, or nil for in-process backends
func (s *Services) DB() *database.DB {
	return s.db
}

// Close releases every connection opened by Connect
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// Health checks each connected dependency and returns the failures by name
func (s *Services) Health(ctx context.Context) map[string]error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	failures := make(map[string]error)
	if s.db != nil {
		if err := s.db.Health(ctx); err != nil {
			failures["database"] = err
		}
	}
	if s.Cache != nil {
		if err := s.Cache.Ping(ctx); err != nil {
			failures["redis"] = err
		}
	}
	if checker, ok := s.Store.(interface{ Health(context.Context) error }); ok {
		if err := checker.Health(ctx); err != nil {
			failures["storage"] = err
		}
	}
	return failures
}
