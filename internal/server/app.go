// Package server builds the application's dependencies from configuration
// and runs the HTTP server until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/disclosure-miner/internal/api"
	"github.com/JakeFAU/disclosure-miner/internal/cache"
	"github.com/JakeFAU/disclosure-miner/internal/clock/system"
	"github.com/JakeFAU/disclosure-miner/internal/config"
	"github.com/JakeFAU/disclosure-miner/internal/crawler"
	"github.com/JakeFAU/disclosure-miner/internal/extract"
	collyfetcher "github.com/JakeFAU/disclosure-miner/internal/fetcher/colly"
	"github.com/JakeFAU/disclosure-miner/internal/finmetrics"
	"github.com/JakeFAU/disclosure-miner/internal/forecast"
	"github.com/JakeFAU/disclosure-miner/internal/hash/sha256"
	"github.com/JakeFAU/disclosure-miner/internal/id/uuid"
	"github.com/JakeFAU/disclosure-miner/internal/lexicon"
	"github.com/JakeFAU/disclosure-miner/internal/logging"
	"github.com/JakeFAU/disclosure-miner/internal/metrics"
	"github.com/JakeFAU/disclosure-miner/internal/ocr"
	"github.com/JakeFAU/disclosure-miner/internal/pipeline"
	"github.com/JakeFAU/disclosure-miner/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/disclosure-miner/internal/publisher/pubsub"
	"github.com/JakeFAU/disclosure-miner/internal/registry"
	"github.com/JakeFAU/disclosure-miner/internal/relevance"
	"github.com/JakeFAU/disclosure-miner/internal/storage"
	gcsstorage "github.com/JakeFAU/disclosure-miner/internal/storage/gcs"
	localstorage "github.com/JakeFAU/disclosure-miner/internal/storage/local"
	memorystorage "github.com/JakeFAU/disclosure-miner/internal/storage/memory"
	pgstore "github.com/JakeFAU/disclosure-miner/internal/storage/postgres"
)

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	registry  *registry.Registry
	service   *pipeline.Service
	predictor *forecast.Client
	apiServer *api.Server

	pgIndex         *pgstore.ChunkIndex
	redisClient     *redis.Client
	gcsStore        *gcsstorage.BlobStore
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher

	closeOnce sync.Once
}

// Build creates the application's dependencies. On error, everything opened
// so far is closed.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger is Build with a caller-supplied logger.
func BuildWithLogger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (app *App, err error) {
	app = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeInfrastructure()
			app = nil
		}
	}()

	app.logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("index_backend", cfg.Index.Backend),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("pubsub", cfg.PubSub.Enabled()),
	)
	metrics.Init()

	app.registry, err = registry.Load(cfg.Registry.Path)
	if err != nil {
		return nil, fmt.Errorf("registry init failed: %w", err)
	}
	table := lexicon.Default()

	index, err := setupIndex(ctx, app)
	if err != nil {
		return nil, err
	}
	answers, err := setupCache(ctx, app)
	if err != nil {
		return nil, err
	}
	archive, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	capability := ocr.Resolve(ocr.Config{
		Enabled:          cfg.OCR.Enabled,
		Pages:            cfg.OCR.Pages,
		DPI:              cfg.OCR.DPI,
		Languages:        cfg.OCR.Languages,
		FallbackLanguage: cfg.OCR.FallbackLanguage,
	}, logger.Named("ocr"))
	app.logger.Info("ocr capability resolved",
		zap.Bool("available", capability.Available),
		zap.String("languages", capability.Languages),
		zap.String("reason", capability.Reason),
	)

	deps := pipeline.Deps{
		Crawler:   setupCrawler(app),
		Extractor: extract.New(extract.Config{MinPDFText: cfg.Extract.MinPDFText, Concurrency: cfg.Extract.Concurrency}, capability, logger.Named("extract")),
		Filter: relevance.New(relevance.Config{
			MinText:     cfg.Filter.MinText,
			MinPositive: cfg.Filter.MinPositive,
			PDFBonus:    cfg.Filter.PDFBonus,
		}, table, logger.Named("relevance")),
		Index:     index,
		Metrics:   finmetrics.New(table),
		Registry:  app.registry,
		Ranker:    pipeline.NewRanker(table),
		Cache:     answers,
		Archive:   archive,
		Publisher: publisher,
		Hasher:    sha256.New(),
		Clock:     system.New(),
		IDs:       uuid.New(),
		Logger:    logger,
	}

	app.service, err = pipeline.New(pipeline.Config{
		AnswerCaps:    pipeline.Caps{MaxHTML: cfg.Pipeline.QAMaxHTML, MaxPDF: cfg.Pipeline.QAMaxPDF},
		ReindexCaps:   pipeline.Caps{MaxHTML: cfg.Pipeline.ReindexMaxHTML, MaxPDF: cfg.Pipeline.ReindexMaxPDF},
		ExcludePDFs:   !cfg.Crawler.IncludePDFs,
		TopK:          cfg.Pipeline.TopK,
		CitationLimit: cfg.Pipeline.CitationLimit,
		KeptURLLimit:  cfg.Pipeline.KeptURLLimit,
		ArchivePrefix: cfg.Storage.Prefix,
	}, deps)
	if err != nil {
		return nil, fmt.Errorf("pipeline init failed: %w", err)
	}

	app.predictor, err = forecast.NewClient(forecast.Config{
		BaseURL: cfg.Forecast.BaseURL,
		Timeout: cfg.Forecast.Timeout,
	}, logger.Named("forecast"))
	if err != nil {
		return nil, fmt.Errorf("forecast client init failed: %w", err)
	}

	opts := api.Options{RequestTimeout: cfg.Server.RequestTimeout}
	if cfg.Auth.Enabled {
		opts.APIKey = cfg.Auth.APIKey
	}
	app.apiServer = api.NewServer(app.service, app.predictor, logger, opts)
	return app, nil
}

// Service returns the pipeline.
func (a *App) Service() *pipeline.Service { return a.service }

// Registry returns the company registry.
func (a *App) Registry() *registry.Registry { return a.registry }

// Predictor returns the forecast client.
func (a *App) Predictor() *forecast.Client { return a.predictor }

// Config returns the configuration the App was built from.
func (a *App) Config() *config.Config { return a.cfg }

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Run serves HTTP and blocks until the context is canceled or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.Close()

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve http: %w", err)
	default:
		return nil
	}
}

// Close releases every backend connection and flushes the logger. Calls
// after the first are no-ops.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.closeInfrastructure()
		a.logger.Info("shutdown complete")
		if err := a.logger.Sync(); err != nil {
			a.logger.Debug("logger sync failed", zap.Error(err))
		}
	})
}

func (a *App) closeInfrastructure() {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsStore != nil {
		if err := a.gcsStore.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.pgIndex != nil {
		a.pgIndex.Close()
	}
}

func setupCrawler(app *App) *crawler.Coordinator {
	cfg := app.cfg
	var opts []collyfetcher.Option
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Crawler.RateLimitRPS,
		DefaultBurst: cfg.Crawler.RateLimitBurst,
	})
	if limiter.Enabled() {
		opts = append(opts, collyfetcher.WithRateLimiter(limiter))
		app.logger.Info("rate limiter enabled",
			zap.Float64("rps", cfg.Crawler.RateLimitRPS),
			zap.Int("burst", cfg.Crawler.RateLimitBurst),
		)
	}
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:      cfg.Crawler.UserAgent,
		ConnectTimeout: cfg.HTTP.ConnectTimeout,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		PoolTimeout:    cfg.HTTP.PoolTimeout,
		MaxConnections: cfg.Crawler.Concurrency,
		MaxBodyBytes:   cfg.Crawler.MaxBodyBytes,
	}, opts...)
	app.logger.Info("using colly fetcher", zap.String("user_agent", cfg.Crawler.UserAgent))

	backoff := crawler.NewBackoffPolicy(
		cfg.Crawler.Retries,
		cfg.Crawler.BackoffBase,
		cfg.Crawler.BackoffMax,
		cfg.Crawler.BackoffMultiplier,
	)
	batch := crawler.NewBatchFetcher(fetcher, backoff, cfg.Crawler.Concurrency, app.logger.Named("batch"))
	discoverer := crawler.NewLinkDiscoverer(crawler.NewTrustPolicy(cfg.Crawler.TrustedDomains))
	return crawler.NewCoordinator(batch, discoverer, app.logger.Named("crawler"))
}

func setupIndex(ctx context.Context, app *App) (storage.ChunkIndex, error) {
	cfg := app.cfg.Index
	switch cfg.Backend {
	case config.BackendPostgres:
		idx, err := pgstore.New(ctx, pgstore.Config{
			DSN:        cfg.DSN,
			MaxConns:   cfg.MaxConns,
			ChunkWords: cfg.ChunkWords,
			Migrate:    cfg.Migrate,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres chunk index init failed: %w", err)
		}
		app.pgIndex = idx
		app.logger.Info("using postgres chunk index", zap.Bool("migrate", cfg.Migrate))
		return idx, nil
	case config.BackendMemory, "":
		app.logger.Info("using in-memory chunk index")
		return memorystorage.NewChunkIndex(cfg.ChunkWords), nil
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.Backend)
	}
}

func setupCache(ctx context.Context, app *App) (cache.Cache, error) {
	cfg := app.cfg.Cache
	switch cfg.Backend {
	case config.BackendRedis:
		c, client, err := cache.OpenRedis(ctx, cfg.RedisURL, cfg.TTL)
		if err != nil {
			return nil, fmt.Errorf("redis cache init failed: %w", err)
		}
		app.redisClient = client
		app.logger.Info("using redis answer cache", zap.Duration("ttl", cfg.TTL))
		return c, nil
	case config.BackendMemory:
		app.logger.Info("using in-memory answer cache",
			zap.Duration("ttl", cfg.TTL),
			zap.Int("max_entries", cfg.MaxEntries),
		)
		return cache.NewMemory(cfg.TTL, cfg.MaxEntries), nil
	case config.BackendNone, "":
		app.logger.Info("answer cache disabled")
		return cache.Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

func setupStorage(ctx context.Context, app *App) (crawler.BlobStore, error) {
	cfg := app.cfg.Storage
	switch cfg.Backend {
	case config.BackendGCS:
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.gcsStore = store
		app.logger.Info("archiving documents to gcs", zap.String("bucket", cfg.GCSBucket))
		return store, nil
	case config.BackendLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("archiving documents locally", zap.String("path", cfg.BaseDir))
		return store, nil
	case config.BackendMemory:
		app.logger.Info("archiving documents in memory")
		return memorystorage.NewBlobStore(), nil
	case config.BackendNone, "":
		app.logger.Info("document archive disabled")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func setupPublisher(ctx context.Context, app *App) (crawler.Publisher, error) {
	cfg := app.cfg.PubSub
	if !cfg.Enabled() {
		app.logger.Info("no Pub/Sub topic configured, run events are not published")
		return nil, nil
	}
	publisher, client, err := gcppublisher.Open(ctx, cfg.ProjectID, cfg.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.pubsubClient = client
	app.pubsubPublisher = publisher
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", cfg.ProjectID),
		zap.String("topic", cfg.TopicName),
	)
	return publisher, nil
}
