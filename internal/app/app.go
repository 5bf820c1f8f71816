// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/ecoles-crawler/internal/api"
	"github.com/JakeFAU/ecoles-crawler/internal/clock/system"
	"github.com/JakeFAU/ecoles-crawler/internal/config"
	"github.com/JakeFAU/ecoles-crawler/internal/crawler"
	"github.com/JakeFAU/ecoles-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/ecoles-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/ecoles-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/ecoles-crawler/internal/hash/sha256"
	"github.com/JakeFAU/ecoles-crawler/internal/headless/detector"
	"github.com/JakeFAU/ecoles-crawler/internal/id/uuid"
	"github.com/JakeFAU/ecoles-crawler/internal/metrics"
	"github.com/JakeFAU/ecoles-crawler/internal/pipeline"
	"github.com/JakeFAU/ecoles-crawler/internal/publisher"
	pubsubpublisher "github.com/JakeFAU/ecoles-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/ecoles-crawler/internal/storage"
	"github.com/JakeFAU/ecoles-crawler/internal/storage/gcs"
	"github.com/JakeFAU/ecoles-crawler/internal/storage/local"
	"github.com/JakeFAU/ecoles-crawler/internal/storage/postgres"
)

// App holds the shared, long-lived services of one process: the HTTP
// session, the optional browser, the sinks and the pipeline wired onto them.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	Pipeline *pipeline.Pipeline
	Tracker  *api.Tracker

	closers []func() error
}

// New builds every service named by cfg. Sinks are only opened when
// configured; a configured sink that cannot be reached fails fast.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a := &App{Config: cfg, Logger: logger, Tracker: api.NewTracker()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()
	logger.Info("initializing application services", zap.String("render", cfg.Detail.Render))

	fetcher, err := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Site.UserAgent,
		Headers:       cfg.HTTPHeaders(),
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       cfg.Crawler.RequestTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("init http session: %w", err)
	}
	renderers, err := a.renderers(fetcher)
	if err != nil {
		return nil, err
	}

	deps := pipeline.Deps{
		Config:    cfg,
		Fetcher:   fetcher,
		Renderers: renderers,
		Extractor: extract.New(extract.DefaultSelectors(), logger),
		IDs:       uuid.New(),
		Clock:     system.New(),
		Hasher:    sha256.New(),
		Observer:  a.Tracker,
		Logger:    logger,
	}
	if deps.Blobs, err = a.blobStores(ctx); err != nil {
		return nil, err
	}
	if deps.Records, err = a.recordSink(ctx); err != nil {
		return nil, err
	}
	if deps.Publisher, err = a.publisher(ctx); err != nil {
		return nil, err
	}

	a.Pipeline, err = pipeline.New(deps)
	if err != nil {
		return nil, fmt.Errorf("init pipeline: %w", err)
	}
	logger.Info("application services initialized",
		zap.Int("blob_sinks", len(deps.Blobs)),
		zap.Bool("record_sink", deps.Records != nil),
		zap.Bool("publisher", deps.Publisher != nil),
	)
	return a, nil
}

func (a *App) renderers(fetcher crawler.Fetcher) (crawler.RendererFactory, error) {
	cfg := a.Config
	if cfg.Detail.Render == config.RenderStatic {
		return headless.StaticFactory(fetcher), nil
	}
	browser, err := headless.NewChromedp(headless.Config{
		UserAgent:         cfg.Site.UserAgent,
		Headers:           cfg.HTTPHeaders(),
		NavigationTimeout: cfg.Headless.NavTimeout,
		WaitSelector:      cfg.Headless.WaitSelector,
		Settle:            cfg.Headless.Settle,
	})
	if err != nil {
		return nil, fmt.Errorf("init headless browser: %w", err)
	}
	a.closers = append(a.closers, func() error { browser.Close(); return nil })

	if cfg.Detail.Render == config.RenderAuto {
		promoter := detector.NewHeuristic(cfg.Headless.PromotionThreshold, cfg.Headless.RequiredMarkers...)
		return headless.AutoFactory(fetcher, browser.Factory(), promoter, a.Logger), nil
	}
	return browser.Factory(), nil
}

func (a *App) blobStores(ctx context.Context) ([]storage.BlobStore, error) {
	var stores []storage.BlobStore
	if dir := a.Config.Sinks.Local.BaseDir; dir != "" {
		store, err := local.New(local.Config{BaseDir: dir})
		if err != nil {
			return nil, fmt.Errorf("init local sink: %w", err)
		}
		a.Logger.Info("using local dataset mirror", zap.String("dir", dir))
		stores = append(stores, store)
	}
	if bucket := a.Config.Sinks.GCS.Bucket; bucket != "" {
		store, closeFn, err := gcs.Open(ctx, gcs.Config{Bucket: bucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs sink: %w", err)
		}
		a.closers = append(a.closers, closeFn)
		a.Logger.Info("using gcs dataset sink", zap.String("bucket", bucket))
		stores = append(stores, store)
	}
	return stores, nil
}

func (a *App) recordSink(ctx context.Context) (pipeline.RecordSink, error) {
	pg := a.Config.Sinks.Postgres
	if pg.DSN == "" {
		return nil, nil
	}
	store, err := postgres.New(ctx, postgres.Config{
		DSN:         pg.DSN,
		TablePrefix: pg.TablePrefix,
		MaxConns:    pg.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("init postgres sink: %w", err)
	}
	a.closers = append(a.closers, func() error { store.Close(); return nil })
	a.Logger.Info("using postgres record sink", zap.String("table_prefix", pg.TablePrefix))
	return store, nil
}

func (a *App) publisher(ctx context.Context) (publisher.Publisher, error) {
	ps := a.Config.Sinks.PubSub
	if ps.Topic == "" {
		return nil, nil
	}
	pub, closeFn, err := pubsubpublisher.Open(ctx, pubsubpublisher.Config{ProjectID: ps.ProjectID, Topic: ps.Topic})
	if err != nil {
		return nil, fmt.Errorf("init pubsub publisher: %w", err)
	}
	a.closers = append(a.closers, closeFn)
	a.Logger.Info("using pubsub publisher", zap.String("topic", ps.Topic))
	return pub, nil
}

// Close releases every service in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.Logger.Warn("error closing application services", zap.Error(err))
		return err
	}
	return nil
}
