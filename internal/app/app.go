// Package app holds the long-lived services a command needs, acting as a
// dependency injection container built from config.Config.
package app

import (
	"context"
	"fmt"

	gpubsub "cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-ingest/internal/config"
	"github.com/JakeFAU/news-ingest/internal/crawler"
	"github.com/JakeFAU/news-ingest/internal/export"
	"github.com/JakeFAU/news-ingest/internal/extract"
	collyfetcher "github.com/JakeFAU/news-ingest/internal/fetcher/colly"
	"github.com/JakeFAU/news-ingest/internal/ingest"
	"github.com/JakeFAU/news-ingest/internal/metrics"
	memorypub "github.com/JakeFAU/news-ingest/internal/publisher/memory"
	pubsubpub "github.com/JakeFAU/news-ingest/internal/publisher/pubsub"
	boltstore "github.com/JakeFAU/news-ingest/internal/storage/bolt"
	"github.com/JakeFAU/news-ingest/internal/storage/gcs"
	"github.com/JakeFAU/news-ingest/internal/storage/local"
	memoryblob "github.com/JakeFAU/news-ingest/internal/storage/memory"
	"github.com/JakeFAU/news-ingest/internal/storage/postgres"
)

// App holds the shared services for one command invocation.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     crawler.ArticleStore
	recorder  *metrics.Recorder
	publisher crawler.Publisher
	closers   []func()
}

// New opens the article store and the publisher. It fails fast when either
// cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:      cfg,
		logger:   logger,
		recorder: metrics.NewRecorder(cfg.Source.BaseURL),
	}

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)
	logger.Info("article store ready", zap.String("driver", cfg.Store.Driver), zap.String("table", cfg.Store.Table))

	if cfg.Publish.Enabled {
		if err := a.openPublisher(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (crawler.ArticleStore, error) {
	switch cfg.Driver {
	case config.StoreDriverPostgres:
		return postgres.NewArticleStore(ctx, postgres.Config{
			DSN:             cfg.Postgres.DSN,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
		})
	case config.StoreDriverBolt:
		return boltstore.Open(cfg.Bolt.Path)
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", crawler.ErrConfiguration, cfg.Driver)
	}
}

func (a *App) openPublisher(ctx context.Context) error {
	switch a.cfg.Publish.Backend {
	case config.PublishBackendMemory:
		a.publisher = memorypub.New()
	case config.PublishBackendPubSub:
		client, err := gpubsub.NewClient(ctx, a.cfg.Publish.ProjectID)
		if err != nil {
			return fmt.Errorf("create pubsub client: %w", err)
		}
		pub := pubsubpub.New(client)
		a.publisher = pub
		a.closers = append(a.closers, func() {
			pub.Stop()
			if err := client.Close(); err != nil {
				a.logger.Warn("close pubsub client", zap.Error(err))
			}
		})
	default:
		return fmt.Errorf("%w: unknown publish backend %q", crawler.ErrConfiguration, a.cfg.Publish.Backend)
	}
	a.logger.Info("run events enabled",
		zap.String("backend", a.cfg.Publish.Backend),
		zap.String("topic", a.cfg.Publish.Topic),
	)
	return nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Store returns the article store.
func (a *App) Store() crawler.ArticleStore {
	return a.store
}

// Recorder returns the run metrics recorder.
func (a *App) Recorder() *metrics.Recorder {
	return a.recorder
}

// Publisher returns the run event publisher, or nil when publishing is off.
func (a *App) Publisher() crawler.Publisher {
	return a.publisher
}

// NewDriver assembles fetcher, extractor and controller for mode.
func (a *App) NewDriver(mode crawler.Mode) (*ingest.Driver, error) {
	cfg := a.cfg
	cfg.Crawl.Mode = string(mode)
	crawlCfg, err := cfg.CrawlerConfig()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	extractor, err := extract.New(crawlCfg.BaseURL, loc)
	if err != nil {
		return nil, err
	}
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   cfg.Fetch.Timeout,
	}, cfg.RetryPolicy(), a.recorder, a.logger.Named("fetcher"))

	controller, err := crawler.NewController(crawlCfg, fetcher, extractor, a.recorder, a.logger.Named("crawler"))
	if err != nil {
		return nil, err
	}

	opts := ingest.Options{
		Mode:           crawlCfg.Mode,
		Table:          cfg.Store.Table,
		KnownIDsLimit:  cfg.Store.KnownIDsLimit,
		PushgatewayURL: cfg.Metrics.PushgatewayURL,
		MetricsJob:     cfg.Metrics.Job,
	}
	options := []ingest.Option{
		ingest.WithObserver(a.recorder),
		ingest.WithLogger(a.logger.Named("ingest")),
	}
	if a.publisher != nil {
		opts.Topic = cfg.Publish.Topic
		options = append(options, ingest.WithPublisher(a.publisher))
	}
	return ingest.NewDriver(opts, a.store, controller, options...)
}

// NewExporter opens the configured blob store and wires an Exporter.
func (a *App) NewExporter(ctx context.Context) (*export.Exporter, error) {
	blobs, err := a.openBlobStore(ctx)
	if err != nil {
		return nil, err
	}
	return export.New(a.store, blobs, a.logger.Named("export")), nil
}

func (a *App) openBlobStore(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Export.Backend {
	case config.ExportBackendLocal:
		return local.New(a.cfg.Export.Local)
	case config.ExportBackendMemory:
		return memoryblob.NewBlobStore(), nil
	case config.ExportBackendGCS:
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				a.logger.Warn("close storage client", zap.Error(err))
			}
		})
		return gcs.New(client, a.cfg.Export.GCS)
	default:
		return nil, fmt.Errorf("%w: unknown export backend %q", crawler.ErrConfiguration, a.cfg.Export.Backend)
	}
}

// Close releases every service in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
