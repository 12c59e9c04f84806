// Package main wires together the parcel report service binary.
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

	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/geoinforme/parcelreport/internal/api"
	"github.com/geoinforme/parcelreport/internal/bundle"
	"github.com/geoinforme/parcelreport/internal/clock/system"
	"github.com/geoinforme/parcelreport/internal/config"
	"github.com/geoinforme/parcelreport/internal/generate"
	"github.com/geoinforme/parcelreport/internal/hash/sha256"
	"github.com/geoinforme/parcelreport/internal/id/uuid"
	"github.com/geoinforme/parcelreport/internal/ledger"
	"github.com/geoinforme/parcelreport/internal/logging"
	"github.com/geoinforme/parcelreport/internal/metrics"
	"github.com/geoinforme/parcelreport/internal/orchestrator"
	memorypublisher "github.com/geoinforme/parcelreport/internal/publisher/memory"
	pubsubpublisher "github.com/geoinforme/parcelreport/internal/publisher/pubsub"
	"github.com/geoinforme/parcelreport/internal/quota"
	"github.com/geoinforme/parcelreport/internal/registry"
	chromedprender "github.com/geoinforme/parcelreport/internal/render/chromedp"
	nooprender "github.com/geoinforme/parcelreport/internal/render/noop"
	"github.com/geoinforme/parcelreport/internal/report"
	"github.com/geoinforme/parcelreport/internal/storage/gcs"
	"github.com/geoinforme/parcelreport/internal/storage/local"
	memorystorage "github.com/geoinforme/parcelreport/internal/storage/memory"
	"github.com/geoinforme/parcelreport/internal/storage/postgres"
	"github.com/geoinforme/parcelreport/internal/weather"
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
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	hasher := sha256.New()
	idGen := uuid.NewGenerator()
	policy := report.NewExponentialRetryPolicy(
		cfg.Fetch.MaxAttempts,
		time.Duration(cfg.Fetch.BackoffInitialMs)*time.Millisecond,
		time.Duration(cfg.Fetch.BackoffMaxMs)*time.Millisecond,
	)

	registryClient := registry.New(registry.Config{
		BaseURL:       cfg.Registry.BaseURL,
		SedeURL:       cfg.Registry.SedeURL,
		OrthophotoURL: cfg.Registry.OrthophotoURL,
		UserAgent:     cfg.Registry.UserAgent,
		MapSizePx:     cfg.Registry.MapSizePx,
		BufferMeters:  cfg.Registry.BufferMeters,
	}, nil, logger.Named("registry"))

	weatherClient := weather.New(weather.Config{
		BaseURL: cfg.Weather.BaseURL,
		APIKey:  cfg.Weather.APIKey,
	}, nil, logger.Named("weather"))

	fetcher := orchestrator.New(
		registryClient,
		weatherClient,
		policy,
		clock,
		orchestrator.Config{AttemptTimeout: cfg.AttemptTimeout()},
		logger.Named("orchestrator"),
	)

	queryStore, usageStore, closeStores, err := buildStores(ctx, cfg, clock)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer closeStores()

	archiveStore, err := buildArchiveStore(ctx, cfg)
	if err != nil {
		logger.Fatal("archive store init failed", zap.Error(err))
	}

	bundler, err := bundle.New(cfg.Storage.WorkDir, archiveStore, logger.Named("bundle"))
	if err != nil {
		logger.Fatal("bundler init failed", zap.Error(err))
	}

	var renderer generate.Renderer = nooprender.New()
	if cfg.Render.Enabled {
		chromeRenderer, renderErr := chromedprender.New(chromedprender.Config{
			MaxParallel:   cfg.Render.MaxParallel,
			RenderTimeout: time.Duration(cfg.Render.TimeoutSeconds) * time.Second,
		})
		if renderErr != nil {
			logger.Warn("pdf renderer init failed", zap.Error(renderErr))
		} else {
			renderer = chromeRenderer
			defer chromeRenderer.Close()
		}
	}

	generators := []generate.Generator{
		generate.NewPDFGenerator(renderer, hasher, clock),
		generate.NewKMLGenerator(hasher),
		generate.NewGMLGenerator(hasher),
		generate.NewPlanGenerator(registryClient, policy, hasher, logger.Named("plan")),
		generate.NewOrthophotoGenerator(registryClient, policy, hasher, logger.Named("orthophoto")),
	}
	extras := generate.NewExtrasWriter(registryClient, policy, clock, logger.Named("extras"))

	publisher, closePublisher, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}
	defer closePublisher()

	admission := quota.New(usageStore, logger.Named("quota"))
	queryLedger := ledger.New(ledger.Config{
		Queries:    queryStore,
		Admission:  admission,
		Fetcher:    fetcher,
		Generators: generators,
		Extras:     extras,
		Bundler:    bundler,
		Publisher:  publisher,
		Topic:      cfg.PubSub.TopicName,
		IDs:        idGen,
		Clock:      clock,
		Logger:     logger.Named("ledger"),
	})

	apiServer := api.NewServer(queryLedger, admission, archiveStore, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// buildStores selects Postgres persistence when a DSN is configured and
// falls back to the in-memory stores for development.
func buildStores(ctx context.Context, cfg config.Config, clock report.Clock) (report.QueryStore, report.UsageStore, func(), error) {
	if cfg.DB.DSN == "" {
		return memorystorage.NewQueryStore(), memorystorage.NewUsageStore(clock), func() {}, nil
	}
	pgCfg := postgres.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(cfg.DB.ConnLifetimeSeconds) * time.Second,
	}
	queries, err := postgres.NewQueryStore(ctx, pgCfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("query store: %w", err)
	}
	usage, err := postgres.NewUsageStore(ctx, pgCfg, clock)
	if err != nil {
		queries.Close()
		return nil, nil, nil, fmt.Errorf("usage store: %w", err)
	}
	closeAll := func() {
		usage.Close()
		queries.Close()
	}
	return queries, usage, closeAll, nil
}

func buildArchiveStore(ctx context.Context, cfg config.Config) (report.ArchiveStore, error) {
	switch cfg.Storage.Provider {
	case "gcs":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
	case "local":
		return local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
	case "memory":
		return memorystorage.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Storage.Provider)
	}
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (report.Publisher, func(), error) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		logger.Info("pubsub not configured, completion events stay in process")
		return memorypublisher.New(), func() {}, nil
	}
	p, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub publisher: %w", err)
	}
	closePublisher := func() {
		if closeErr := p.Close(); closeErr != nil {
			logger.Warn("pubsub close failed", zap.Error(closeErr))
		}
	}
	return p, closePublisher, nil
}
