// Package main wires together the novel import service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"novelkeeper/internal/api"
	"novelkeeper/internal/archive"
	gcsarchive "novelkeeper/internal/archive/gcs"
	memoryarchive "novelkeeper/internal/archive/memory"
	"novelkeeper/internal/clock/system"
	"novelkeeper/internal/config"
	"novelkeeper/internal/extract"
	collyfetcher "novelkeeper/internal/fetcher/colly"
	headlessfetcher "novelkeeper/internal/fetcher/headless"
	"novelkeeper/internal/id/uuid"
	"novelkeeper/internal/importer"
	"novelkeeper/internal/logging"
	"novelkeeper/internal/novel"
	"novelkeeper/internal/progress"
	"novelkeeper/internal/progress/sinks"
	pubsubpublisher "novelkeeper/internal/publisher/pubsub"
	"novelkeeper/internal/ratelimit"
	"novelkeeper/internal/reconcile"
	"novelkeeper/internal/sched"
	memorystorage "novelkeeper/internal/storage/memory"
	"novelkeeper/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	clock := system.New()
	idGen := uuid.New()

	var (
		novelStore   novel.NovelStore
		chapterStore novel.ChapterStore
		taskStore    novel.TaskStore
		chapterQueue novel.ChapterQueue
	)
	switch cfg.DB.Provider {
	case "postgres":
		pool, err := postgres.Connect(ctx, postgres.Config{DSN: cfg.DB.DSN, MaxConns: cfg.DB.MaxConns})
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		novelStore = postgres.NewNovelStore(pool)
		chapterStore = postgres.NewChapterStore(pool)
		taskStore = postgres.NewTaskStore(pool)
		chapterQueue = postgres.NewChapterQueue(pool)
	default:
		novelStore = memorystorage.NewNovelStore()
		chapterStore = memorystorage.NewChapterStore()
		taskStore = memorystorage.NewTaskStore()
		chapterQueue = memorystorage.NewChapterQueue()
	}
	logger.Info("store provider selected", zap.String("provider", cfg.DB.Provider))

	archiveStore, closeArchive, err := buildArchive(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeArchive()

	var publisher novel.Publisher
	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicName != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client: %w", err)
		}
		p := pubsubpublisher.New(client)
		defer func() {
			_ = p.Close()
		}()
		publisher = p
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	hub := progress.NewHub(
		progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("events")),
		promSink,
	)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hub.Close(closeCtx)
	}()

	probeFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:   cfg.HTTP.UserAgent,
		Referer:     cfg.HTTP.Referer,
		Timeout:     cfg.FetchTimeout(),
		RandomDelay: time.Duration(cfg.HTTP.RandomDelayMs) * time.Millisecond,
	})
	var headless novel.Fetcher
	if cfg.Headless.Enabled {
		headlessFetcher, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.HTTP.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			defer headlessFetcher.Close()
			headless = headlessFetcher
		}
	}

	indexParser := extract.NewIndexParser(extract.IndexConfig{
		ChapterListSelector: cfg.Scrape.ChapterListSelector,
		TitleSelector:       cfg.Scrape.TitleSelector,
		AuthorSelector:      cfg.Scrape.AuthorSelector,
		DescSelector:        cfg.Scrape.DescSelector,
		CoverSelector:       cfg.Scrape.CoverSelector,
	})
	chapterExtractor := importer.NewChapterExtractor(importer.ChapterExtractorConfig{
		Fetcher:  probeFetcher,
		Headless: headless,
		Parser: extract.New(extract.Config{
			ContentSelectors: cfg.Scrape.ContentSelectors,
			TitleSelectors:   cfg.Scrape.ChapterTitleSels,
			MinContentChars:  cfg.Scrape.MinContentChars,
			FallbackMinChars: cfg.Scrape.FallbackMinChars,
		}),
		Archive: archiveStore,
		Referer: cfg.HTTP.Referer,
		Logger:  logger.Named("extractor"),
	})

	processor := importer.New(importer.Deps{
		Tasks:     taskStore,
		Novels:    novelStore,
		Chapters:  chapterStore,
		Queue:     chapterQueue,
		Extractor: chapterExtractor,
		Index:     indexParser,
		Retry: importer.NewExponentialRetryPolicy(
			cfg.Import.MaxAttempts, cfg.BackoffBase(), cfg.BackoffMax()),
		Clock:     clock,
		Limiter:   ratelimit.New(ratelimit.Config{RPS: cfg.Import.FetchesPerSecond, Burst: 1}),
		Emitter:   hub,
		Publisher: publisher,
		Logger:    logger.Named("importer"),
	}, importer.Config{
		BatchSize: cfg.Import.BatchSize,
		ClaimTTL:  cfg.ClaimTTL(),
		Topic:     cfg.PubSub.TopicName,
	})

	apiServer := api.NewServer(api.Deps{
		Novels:     novelStore,
		Chapters:   chapterStore,
		Tasks:      taskStore,
		Queue:      chapterQueue,
		Processor:  processor,
		Reconciler: reconcile.New(chapterStore, logger.Named("reconcile")),
		Fetcher:    probeFetcher,
		Index:      indexParser,
		IDGen:      idGen,
		Clock:      clock,
		Registry:   registry,
		Logger:     logger.Named("api"),
	}, cfg)

	if cfg.Cron.Enabled {
		scheduler := sched.New(processor, logger.Named("sched"), sched.Config{
			Interval:    time.Duration(cfg.Cron.IntervalSeconds) * time.Second,
			MaxTasks:    cfg.Cron.MaxTasks,
			MaxChapters: cfg.Cron.MaxChapters,
		})
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

func buildArchive(ctx context.Context, cfg config.Config, logger *zap.Logger) (novel.ArchiveStore, func(), error) {
	switch cfg.Archive.Provider {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("gcs client: %w", err)
		}
		store, err := gcsarchive.New(client, gcsarchive.Config{
			Bucket: cfg.Archive.GCSBucket,
			Prefix: cfg.Archive.Prefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = client.Close() }, nil
	case "memory":
		return memoryarchive.New(), func() {}, nil
	default:
		logger.Info("raw html archive disabled")
		return archive.NewNoop(), func() {}, nil
	}
}
