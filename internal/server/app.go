// Package server builds the application graph from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapterbox/internal/api"
	"github.com/JakeFAU/chapterbox/internal/clock"
	"github.com/JakeFAU/chapterbox/internal/config"
	"github.com/JakeFAU/chapterbox/internal/delivery"
	gcssink "github.com/JakeFAU/chapterbox/internal/delivery/gcs"
	localsink "github.com/JakeFAU/chapterbox/internal/delivery/local"
	memorysink "github.com/JakeFAU/chapterbox/internal/delivery/memory"
	"github.com/JakeFAU/chapterbox/internal/dispatcher"
	"github.com/JakeFAU/chapterbox/internal/fetcher"
	"github.com/JakeFAU/chapterbox/internal/id"
	"github.com/JakeFAU/chapterbox/internal/logging"
	"github.com/JakeFAU/chapterbox/internal/manga"
	"github.com/JakeFAU/chapterbox/internal/notify"
	pubsubnotify "github.com/JakeFAU/chapterbox/internal/notify/pubsub"
	"github.com/JakeFAU/chapterbox/internal/policy/ratelimit"
	"github.com/JakeFAU/chapterbox/internal/progress"
	progresssinks "github.com/JakeFAU/chapterbox/internal/progress/sinks"
	queuememory "github.com/JakeFAU/chapterbox/internal/queue/memory"
	"github.com/JakeFAU/chapterbox/internal/source"
	"github.com/JakeFAU/chapterbox/internal/source/madara"
	"github.com/JakeFAU/chapterbox/internal/source/mangaflix"
	"github.com/JakeFAU/chapterbox/internal/source/toonbr"
	pgstore "github.com/JakeFAU/chapterbox/internal/storage/postgres"
	"github.com/JakeFAU/chapterbox/internal/telegram"
	"github.com/JakeFAU/chapterbox/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	registry    *source.Registry
	scheduler   *dispatcher.Scheduler
	hub         *progress.Hub
	broadcaster *progresssinks.Broadcaster
	apiServer   *api.Server

	storage        *storage.Client
	pubsubClient   *pubsub.Client
	pubsubNotifier *pubsubnotify.Notifier
	history        *pgstore.HistoryStore
	telegram       *telegram.Client
}

// Options overrides pieces of the graph, mostly for tests.
type Options struct {
	// Registerer receives the progress collectors. Defaults to the global
	// Prometheus registry.
	Registerer prometheus.Registerer
	// Connectors replaces the configured provider connectors.
	Connectors []manga.Connector
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("sink", cfg.Delivery.Sink),
		zap.Int("workers", cfg.Scheduler.Workers),
	)

	// Anything opened before a failure is released.
	ok := false
	defer func() {
		if !ok {
			_ = app.Close(context.WithoutCancel(ctx))
		}
	}()

	if len(opts.Connectors) > 0 {
		app.registry, err = source.NewRegistry(logger, opts.Connectors...)
	} else {
		app.registry, err = NewRegistry(cfg, logger)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Telegram.Token != "" {
		app.telegram, err = telegram.New(telegram.Config{
			Token:   cfg.Telegram.Token,
			APIURL:  cfg.Telegram.APIURL,
			Timeout: cfg.Telegram.Timeout,
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("telegram client init failed: %w", err)
		}
	}

	sink, err := app.setupSink(ctx)
	if err != nil {
		return nil, err
	}
	handoff := delivery.NewHandoff(sink, delivery.Config{
		SinkName:         cfg.Delivery.Sink,
		TransientRetries: cfg.Delivery.TransientRetries,
		TransientBackoff: cfg.Delivery.TransientBackoff,
		RateLimitMargin:  cfg.Delivery.RateLimitMargin,
	}, logger)

	notifier, err := app.setupNotifier(ctx)
	if err != nil {
		return nil, err
	}
	if err := app.setupHistory(ctx); err != nil {
		return nil, err
	}
	if err := app.setupProgress(ctx, opts.Registerer); err != nil {
		return nil, err
	}

	app.scheduler = dispatcher.New(
		queuememory.NewQueue(),
		app.registry,
		worker.Deps{
			Fetcher:   NewFetcher(cfg, logger),
			Deliverer: handoff,
			Notifier:  notifier,
			Events:    app.hub,
			Clock:     clock.System{},
		},
		dispatcher.Config{
			Workers:           cfg.Scheduler.Workers,
			MaxChaptersPerJob: cfg.Scheduler.MaxChaptersPerJob,
			Retention:         cfg.Scheduler.Retention,
			Admins:            cfg.Scheduler.Admins,
			IDs:               id.UUIDv7{},
			Worker: worker.Config{
				PacingDelay:            cfg.Scheduler.PacingDelay,
				MaxConsecutiveFailures: cfg.Scheduler.MaxConsecutiveFailures,
			},
		},
		logger,
	)

	apiOpts := api.Options{
		RequestTimeout: cfg.Server.RequestTimeout,
		Events:         app.broadcaster,
	}
	if cfg.Auth.Enabled {
		apiOpts.APIKey = cfg.Auth.APIKey
	}
	if app.history != nil {
		apiOpts.History = app.history
		apiOpts.Ready = app.history.Ping
	}
	app.apiServer = api.NewServer(app.scheduler, app.registry, apiOpts, logger)

	ok = true
	return app, nil
}

// Handler exposes the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Scheduler exposes the job scheduler.
func (a *App) Scheduler() *dispatcher.Scheduler {
	return a.scheduler
}

// Run starts the workers and HTTP server and blocks until the context is
// canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		a.logger.Info("scheduler started", zap.Int("workers", a.cfg.Scheduler.Workers))
		a.scheduler.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var err error
	if shutErr := srv.Shutdown(shutdownCtx); shutErr != nil {
		err = multierr.Append(err, fmt.Errorf("http shutdown: %w", shutErr))
	}
	select {
	case <-schedDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not stop before the shutdown deadline")
	}
	select {
	case e := <-serveErr:
		err = multierr.Append(err, fmt.Errorf("http server: %w", e))
	default:
	}
	return multierr.Append(err, a.Close(shutdownCtx))
}

// Close releases every resource Build opened. It is safe on a partial App.
func (a *App) Close(ctx context.Context) error {
	var err error
	if a.hub != nil {
		err = multierr.Append(err, a.hub.Close(ctx))
	}
	if a.pubsubNotifier != nil {
		a.pubsubNotifier.Stop()
	}
	if a.pubsubClient != nil {
		if e := a.pubsubClient.Close(); e != nil {
			err = multierr.Append(err, fmt.Errorf("pubsub client close: %w", e))
		}
	}
	if a.storage != nil {
		if e := a.storage.Close(); e != nil {
			err = multierr.Append(err, fmt.Errorf("gcs client close: %w", e))
		}
	}
	if a.history != nil {
		a.history.Close()
	}
	if a.logger != nil {
		a.logger.Info("shutdown complete")
		_ = a.logger.Sync()
	}
	return err
}

func (a *App) setupSink(ctx context.Context) (manga.Sink, error) {
	switch a.cfg.Delivery.Sink {
	case config.SinkGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		sink, err := gcssink.New(client, gcssink.Config{
			Bucket: a.cfg.Delivery.GCS.Bucket,
			Prefix: a.cfg.Delivery.GCS.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs sink init failed: %w", err)
		}
		a.logger.Info("using GCS sink", zap.String("bucket", a.cfg.Delivery.GCS.Bucket))
		return sink, nil
	case config.SinkTelegram:
		if a.telegram == nil {
			return nil, errors.New("telegram sink needs telegram.token")
		}
		a.logger.Info("using telegram sink")
		return telegram.NewSink(a.telegram), nil
	case config.SinkLocal:
		sink, err := localsink.New(localsink.Config{Dir: a.cfg.Delivery.Local.Dir})
		if err != nil {
			return nil, fmt.Errorf("local sink init failed: %w", err)
		}
		a.logger.Info("using local sink", zap.String("dir", a.cfg.Delivery.Local.Dir))
		return sink, nil
	default:
		a.logger.Info("using in-memory sink")
		return memorysink.New(), nil
	}
}

func (a *App) setupNotifier(ctx context.Context) (manga.Notifier, error) {
	notifiers := []manga.Notifier{notify.NewLogNotifier(a.logger)}
	if a.cfg.Telegram.Notices && a.telegram != nil {
		notifiers = append(notifiers, telegram.NewNotifier(a.telegram))
		a.logger.Info("telegram notices enabled")
	}
	if ps := a.cfg.Notify.PubSub; ps.Enabled() {
		client, err := pubsub.NewClient(ctx, ps.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.pubsubClient = client
		a.pubsubNotifier = pubsubnotify.New(client.Topic(ps.Topic))
		notifiers = append(notifiers, a.pubsubNotifier)
		a.logger.Info("Pub/Sub notices enabled",
			zap.String("project", ps.ProjectID),
			zap.String("topic", ps.Topic),
		)
	}
	return notify.NewFanout(a.logger, notifiers...), nil
}

func (a *App) setupHistory(ctx context.Context) error {
	db := a.cfg.Database
	if db.DSN == "" {
		a.logger.Info("no database DSN, job history disabled")
		return nil
	}
	hist, err := pgstore.NewHistoryStore(ctx, pgstore.Config{
		DSN:             db.DSN,
		MaxConns:        db.MaxConns,
		MinConns:        db.MinConns,
		MaxConnLifetime: db.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("history store init failed: %w", err)
	}
	a.history = hist
	if db.EnsureSchema {
		if err := hist.EnsureSchema(ctx); err != nil {
			return err
		}
	}
	a.logger.Info("job history store initialized")
	return nil
}

func (a *App) setupProgress(ctx context.Context, reg prometheus.Registerer) error {
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	a.broadcaster = progresssinks.NewBroadcaster(a.logger)
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
		a.broadcaster,
	}
	if a.history != nil {
		sinkList = append(sinkList, progresssinks.NewStoreSink(a.history, a.logger.Named("progress_store")))
	}
	pcfg := a.cfg.Progress
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     pcfg.BufferSize,
		MaxBatchEvents: pcfg.MaxBatchEvents,
		MaxBatchWait:   pcfg.MaxBatchWait,
		SinkTimeout:    pcfg.SinkTimeout,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", pcfg.BufferSize),
		zap.Duration("max_batch_wait", pcfg.MaxBatchWait),
	)
	return nil
}

// NewRegistry builds the enabled provider connectors.
func NewRegistry(cfg config.Config, logger *zap.Logger) (*source.Registry, error) {
	src := cfg.Sources
	httpClient := &http.Client{Timeout: src.Timeout}

	var connectors []manga.Connector
	if src.MangaFlix.Enabled {
		connectors = append(connectors, mangaflix.New(mangaflix.Config{
			BaseURL:   src.MangaFlix.BaseURL,
			Language:  src.MangaFlix.Language,
			Referer:   src.MangaFlix.Referer,
			UserAgent: src.UserAgent,
		}, httpClient))
	}
	if src.ToonBr.Enabled {
		connectors = append(connectors, toonbr.New(toonbr.Config{
			BaseURL:   src.ToonBr.BaseURL,
			CDNURL:    src.ToonBr.CDNURL,
			UserAgent: src.UserAgent,
		}, httpClient))
	}
	if src.MangaOnline.Enabled {
		connectors = append(connectors, madara.New(madara.Config{
			BaseURL:   src.MangaOnline.BaseURL,
			UserAgent: src.UserAgent,
			Timeout:   src.Timeout,
		}, nil))
	}
	reg, err := source.NewRegistry(logger, connectors...)
	if err != nil {
		return nil, fmt.Errorf("source registry init failed: %w", err)
	}
	return reg, nil
}

// NewFetcher builds the rate-limited image fetcher.
func NewFetcher(cfg config.Config, logger *zap.Logger) *fetcher.Fetcher {
	fc := cfg.Fetcher
	limiter := ratelimit.New(ratelimit.Config{
		RPS:       fc.HostRPS,
		Burst:     fc.HostBurst,
		Overrides: fc.Overrides(),
	})
	return fetcher.New(fetcher.Config{
		Concurrency: fc.Concurrency,
		MaxRetries:  fc.MaxRetries,
		RetryDelay:  fc.RetryDelay,
		Timeout:     fc.Timeout,
		UserAgent:   fc.UserAgent,
		MaxBytes:    fc.MaxBytes,
	}, &http.Client{Transport: fetcher.NewTransport()}, limiter, logger)
}
