// Package server builds the application's dependencies and runs the service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/results-harvester/internal/api"
	"github.com/JakeFAU/results-harvester/internal/archive"
	"github.com/JakeFAU/results-harvester/internal/batch"
	cachememory "github.com/JakeFAU/results-harvester/internal/cache/memory"
	rediscache "github.com/JakeFAU/results-harvester/internal/cache/redis"
	"github.com/JakeFAU/results-harvester/internal/clock/system"
	"github.com/JakeFAU/results-harvester/internal/config"
	"github.com/JakeFAU/results-harvester/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/results-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/results-harvester/internal/hallticket"
	"github.com/JakeFAU/results-harvester/internal/id/uuid"
	"github.com/JakeFAU/results-harvester/internal/logging"
	"github.com/JakeFAU/results-harvester/internal/lookup"
	"github.com/JakeFAU/results-harvester/internal/metrics"
	"github.com/JakeFAU/results-harvester/internal/parser"
	"github.com/JakeFAU/results-harvester/internal/persist"
	"github.com/JakeFAU/results-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/results-harvester/internal/progress"
	"github.com/JakeFAU/results-harvester/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/results-harvester/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/results-harvester/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/results-harvester/internal/queue/memory"
	"github.com/JakeFAU/results-harvester/internal/results"
	"github.com/JakeFAU/results-harvester/internal/scrape"
	gcsstorage "github.com/JakeFAU/results-harvester/internal/storage/gcs"
	localstorage "github.com/JakeFAU/results-harvester/internal/storage/local"
	memorystorage "github.com/JakeFAU/results-harvester/internal/storage/memory"
	pgstore "github.com/JakeFAU/results-harvester/internal/storage/postgres"
	"github.com/JakeFAU/results-harvester/internal/telemetry"
	"github.com/JakeFAU/results-harvester/internal/watcher"
	"github.com/JakeFAU/results-harvester/internal/worker"
)

// cacheTier is the read tier; it also keeps the watcher's last observation.
type cacheTier interface {
	results.Cache
	watcher.StateStore
}

// The chunk collectors live on the default registry, which allows one
// registration per process.
var (
	chunkSinkOnce sync.Once
	chunkSink     *sinks.PrometheusSink
	chunkSinkErr  error
)

func prometheusChunkSink() (*sinks.PrometheusSink, error) {
	chunkSinkOnce.Do(func() {
		chunkSink, chunkSinkErr = sinks.NewPrometheusSink(nil)
	})
	return chunkSink, chunkSinkErr
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	registry  *hallticket.Registry
	pg        *pgstore.Store
	results   results.ResultStore
	batches   results.BatchStore
	cache     cacheTier
	redis     *rediscache.Cache
	gcs       *storage.Client
	publisher results.Publisher
	pubsub    *gcppublisher.Publisher
	fetcher   *collyfetcher.Fetcher
	scraper   *scrape.Unit
	queue     *queuememory.Queue
	dispatch  *dispatcher.Dispatcher
	progress  *progress.Hub
	tracing   telemetry.ShutdownFunc

	coordinator *batch.Coordinator
	lookup      *lookup.Service
	inline      *worker.Worker
	watcher     *watcher.Watcher
	apiServer   *api.Server
}

// Build creates the application's dependencies. Any failure here is a
// configuration or connectivity problem and is fatal.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging,
		zap.String("service", cfg.Telemetry.ServiceName),
		zap.String("version", cfg.Telemetry.Version),
	)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger is Build with a caller-supplied logger.
func BuildWithLogger(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	metrics.Init()
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("exam_code", cfg.Portal.ExamCode),
		zap.String("db_driver", cfg.DB.Driver),
		zap.String("cache_backend", cfg.Cache.Backend),
	)

	registry, err := hallticket.NewRegistry(cfg.AllProfiles()...)
	if err != nil {
		return nil, fmt.Errorf("%w: profiles: %w", results.ErrConfiguration, err)
	}
	app.registry = registry

	steps := []func(context.Context) error{
		app.setupTelemetry,
		app.setupProgress,
		app.setupDatabase,
		app.setupCache,
		app.setupPublisher,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			app.Close(ctx)
			return nil, err
		}
	}
	archiver, err := app.setupStorage(ctx)
	if err != nil {
		app.Close(ctx)
		return nil, err
	}

	app.wire(archiver)
	return app, nil
}

func (a *App) setupTelemetry(ctx context.Context) error {
	shutdown, err := telemetry.Init(ctx, a.cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry init failed: %w", err)
	}
	a.tracing = shutdown
	if a.cfg.Telemetry.Enabled {
		a.logger.Info("tracing enabled",
			zap.String("project", a.cfg.Telemetry.ProjectID),
			zap.Float64("sample_ratio", a.cfg.Telemetry.SampleRatio),
		)
	}
	return nil
}

func (a *App) setupProgress(context.Context) error {
	promSink, err := prometheusChunkSink()
	if err != nil {
		return fmt.Errorf("progress sink init failed: %w", err)
	}
	hubSinks := []progress.Sink{promSink}
	if a.cfg.Progress.LogEvents {
		hubSinks = append(hubSinks, sinks.NewLogSink(a.logger))
	}
	a.progress = progress.NewHub(progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   a.cfg.Progress.MaxBatchWait,
		Logger:         a.logger,
	}, hubSinks...)
	return nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.DB.Driver == config.BackendMemory {
		a.logger.Warn("using in-memory result store; results do not survive a restart")
		a.results = memorystorage.NewResultStore(a.cfg.DB.RefreshCatalog)
		a.batches = memorystorage.NewBatchStore()
		return nil
	}
	pg, err := pgstore.Connect(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
		RefreshCatalog:  a.cfg.DB.RefreshCatalog,
	})
	if err != nil {
		return fmt.Errorf("result store init failed: %w", err)
	}
	a.pg = pg
	a.results = pg
	a.batches = pg
	if a.cfg.DB.AutoMigrate {
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		a.logger.Info("schema migrated")
	}
	a.logger.Info("postgres result store initialized", zap.Int32("max_conns", a.cfg.DB.MaxConns))
	return nil
}

func (a *App) setupCache(ctx context.Context) error {
	switch a.cfg.Cache.Backend {
	case config.BackendRedis:
		rc := a.cfg.Cache.Redis
		c, err := rediscache.Connect(ctx, rediscache.Config{
			Addrs:       rc.Addrs,
			DB:          rc.DB,
			Password:    rc.Password,
			PoolSize:    rc.PoolSize,
			DialTimeout: rc.DialTimeout,
			ReadTimeout: rc.ReadTimeout,
			MasterName:  rc.MasterName,
			TTL:         a.cfg.Cache.TTL,
		})
		if err != nil {
			return fmt.Errorf("redis cache init failed: %w", err)
		}
		a.redis = c
		a.cache = c
		a.logger.Info("using redis cache", zap.Strings("addrs", rc.Addrs), zap.Duration("ttl", a.cfg.Cache.TTL))
	case config.BackendMemory:
		a.cache = cachememory.New(a.cfg.Cache.TTL)
		a.logger.Info("using in-process cache", zap.Duration("ttl", a.cfg.Cache.TTL))
	default:
		a.cache = cachememory.NewNoop()
		a.logger.Info("cache disabled")
	}
	return nil
}

func (a *App) setupStorage(ctx context.Context) (*archive.Archiver, error) {
	var blobs results.BlobStore
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcs = client
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		blobs = store
		a.logger.Info("archiving pages to GCS", zap.String("bucket", a.cfg.Storage.GCSBucket))
	case config.BackendLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		blobs = store
		a.logger.Info("archiving pages locally", zap.String("path", a.cfg.Storage.BaseDir))
	case config.BackendMemory:
		blobs = memorystorage.NewBlobStore()
		a.logger.Info("archiving pages in memory")
	default:
		a.logger.Info("page archiving disabled")
		return nil, nil
	}
	return archive.New(blobs, archive.Config{
		Prefix:  a.cfg.Storage.Prefix,
		Success: a.cfg.Storage.ArchiveSuccess,
	}), nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	switch a.cfg.PubSub.Backend {
	case config.BackendPubSub:
		p, err := gcppublisher.Connect(ctx, gcppublisher.Config{
			ProjectID: a.cfg.PubSub.ProjectID,
			Topics:    a.cfg.PubSub.Topics,
		})
		if err != nil {
			return fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.pubsub = p
		a.publisher = p
		a.logger.Info("Pub/Sub publisher initialized", zap.String("project", a.cfg.PubSub.ProjectID))
	case config.BackendMemory:
		a.publisher = memorypublisher.New()
		a.logger.Info("using in-memory publisher")
	default:
		a.logger.Info("notifications disabled")
	}
	return nil
}

func (a *App) wire(archiver *archive.Archiver) {
	cfg := a.cfg
	clock := system.New()

	keywords := cfg.Portal.BusyKeywords
	if len(keywords) == 0 {
		keywords = parser.DefaultBusyKeywords
	}
	a.fetcher = collyfetcher.New(collyfetcher.Config{
		BaseURL:    cfg.Portal.BaseURL,
		ResultPath: cfg.Portal.ResultPath,
		UserAgent:  cfg.Portal.UserAgent,
		Timeout:    cfg.Portal.Timeout,
	}, ratelimit.New(ratelimit.Config{DefaultRPS: cfg.Portal.RPS, DefaultBurst: cfg.Portal.Burst}))
	a.scraper = scrape.New(
		a.fetcher,
		parser.New(),
		hallticket.NewValidator(a.registry, cfg.Scraper.NumericWidths...),
		parser.NewBusyDetector(cfg.Portal.BusyMinBytes, keywords),
		clock,
		a.logger,
	)
	saver := persist.New(a.results, a.cache, a.logger)

	base := worker.Deps{
		Scraper:   a.scraper,
		Saver:     saver,
		Sleeper:   clock,
		Publisher: a.publisher,
	}
	if archiver != nil {
		base.Archiver = archiver
	}
	a.inline = worker.New(base, a.logger)

	a.queue = queuememory.NewQueue(cfg.Scraper.QueueDepth)
	pooled := base
	pooled.Queue = a.queue
	pooled.Batches = a.batches
	pooled.Profiles = a.registry
	pooled.Progress = a.progress
	runners := make([]dispatcher.Runner, 0, cfg.Scraper.PoolSize)
	for i := range cfg.Scraper.PoolSize {
		runners = append(runners, worker.New(pooled, a.logger.With(zap.Int("index", i))))
	}
	a.dispatch = dispatcher.New(a.queue, runners)

	a.coordinator = batch.New(a.batches, a.dispatch, a.registry, uuid.New(), clock, batch.Config{
		ExamCode:       cfg.Portal.ExamCode,
		Workers:        cfg.Scraper.Workers,
		MaxWorkers:     cfg.Scraper.MaxWorkers,
		Delay:          cfg.Scraper.Delay,
		EnqueueTimeout: cfg.Scraper.EnqueueTimeout,
		NumericWidths:  cfg.Scraper.NumericWidths,
	}, a.logger)

	a.lookup = lookup.New(a.cache, a.results, a.scraper, saver, cfg.Portal.ExamCode, a.logger)

	if cfg.Watcher.Enabled {
		a.watcher = watcher.New(a.fetcher, a.cache, a.publisher, a.coordinator, clock, watcher.Config{
			Enabled:    true,
			IndexURL:   cfg.Watcher.IndexURL,
			Interval:   cfg.Watcher.Interval,
			AutoSubmit: cfg.Watcher.AutoSubmit,
			Profile:    cfg.Watcher.Profile,
			Workers:    cfg.Watcher.Workers,
		}, a.logger)
	}

	apiKey := ""
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	deps := api.Deps{
		Lookup:   a.lookup,
		Batches:  a.coordinator,
		Worker:   a.inline,
		Profiles: a.registry,
	}
	if a.pg != nil {
		deps.Store = a.pg
	}
	a.apiServer = api.NewServer(deps, api.Config{
		APIKey:         apiKey,
		ExamCode:       cfg.Portal.ExamCode,
		Delay:          cfg.Scraper.Delay,
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxWorkerIDs:   cfg.Scraper.MaxInlineIDs,
	}, a.logger)
	a.logger.Info("application wired",
		zap.Int("pool_size", a.dispatch.Size()),
		zap.Int("queue_depth", cfg.Scraper.QueueDepth),
		zap.Bool("watcher", a.watcher != nil),
		zap.Bool("archive", archiver != nil),
	)
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Coordinator returns the batch coordinator.
func (a *App) Coordinator() *batch.Coordinator { return a.coordinator }

// Lookup returns the tiered lookup service.
func (a *App) Lookup() *lookup.Service { return a.lookup }

// Registry returns the profile registry.
func (a *App) Registry() *hallticket.Registry { return a.registry }

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Plan partitions req without enqueuing anything.
func (a *App) Plan(req batch.Request) (batch.Plan, error) {
	plan, err := a.coordinator.Plan(req)
	if err != nil {
		return batch.Plan{}, fmt.Errorf("plan batch: %w", err)
	}
	return plan, nil
}

// Find resolves one hall ticket through the cache, the store and the portal.
func (a *App) Find(ctx context.Context, id string) (lookup.Result, error) {
	res, err := a.lookup.Lookup(ctx, id)
	if err != nil {
		return lookup.Result{}, fmt.Errorf("lookup %s: %w", id, err)
	}
	return res, nil
}

// Migrate applies the Postgres schema.
func (a *App) Migrate(ctx context.Context) error {
	if a.pg == nil {
		return fmt.Errorf("%w: migrate requires db.driver=postgres", results.ErrConfiguration)
	}
	if err := a.pg.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Run serves HTTP, runs the worker pool and the watcher, and blocks until ctx
// is canceled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("dispatcher started", zap.Int("workers", a.dispatch.Size()))
		a.dispatch.Run(gctx)
		return nil
	})
	if a.watcher != nil {
		g.Go(func() error {
			a.logger.Info("watcher started", zap.String("index_url", a.cfg.Watcher.IndexURL))
			a.watcher.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		a.queue.Close()
		return nil
	})
	return g.Wait()
}

// Harvest runs one batch to completion in-process: the worker pool consumes
// the batch while its progress is polled every interval. It returns the final
// batch state, or the last observed state if ctx ends first.
func (a *App) Harvest(ctx context.Context, req batch.Request, interval time.Duration) (results.Batch, error) {
	if interval <= 0 {
		interval = time.Second
	}
	poolCtx, stopPool := context.WithCancel(ctx)
	defer stopPool()

	g, gctx := errgroup.WithContext(poolCtx)
	g.Go(func() error {
		a.dispatch.Run(gctx)
		return nil
	})

	b, err := a.coordinator.Submit(ctx, req)
	if err != nil {
		stopPool()
		_ = g.Wait()
		return b, err
	}

	var final results.Batch
	g.Go(func() error {
		defer stopPool()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			cur, err := a.coordinator.Get(context.WithoutCancel(gctx), b.ID)
			if err != nil {
				return err
			}
			final = cur
			if finished(cur) {
				return nil
			}
			a.logger.Info("batch progress",
				zap.String("batch_id", cur.ID),
				zap.Int("chunks_done", cur.ChunksDone),
				zap.Int("chunks", cur.ChunkCount),
				zap.Int("processed", cur.Stats.Processed),
			)
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})
	if err := g.Wait(); err != nil {
		return final, err
	}
	return final, nil
}

func finished(b results.Batch) bool {
	switch b.Status {
	case results.BatchCompleted:
		return true
	case results.BatchCanceled:
		return b.ChunksDone >= b.ChunkCount
	default:
		return false
	}
}

// Close releases every client the App opened. It is safe on a partially built App.
func (a *App) Close(ctx context.Context) {
	// Close usually runs after the run context is canceled; flushing still needs time.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if a.progress != nil {
		if err := a.progress.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.tracing != nil {
		if err := a.tracing(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub close failed", zap.Error(err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}
	// Sync commonly fails on stderr/stdout; there is nowhere left to report it.
	_ = a.logger.Sync()
}
