// Package app builds the long-lived services of one invocation from configuration
// and acts as the dependency injection container for the CLI.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/stackexchange-qa-collector/internal/api"
	"github.com/JakeFAU/stackexchange-qa-collector/internal/cleaner"
	"github.com/JakeFAU/stackexchange-qa-collector/internal/clock/system"
	"github.com/JakeFAU/stackexchange-qa-collector/internal/collector"
	"github.com/JakeFAU/stackexchange-qa-collector/internal/config"
	collyfetcher "github.com/JakeFAU/stackexchange-qa-collector/internal/fetcher/colly"
	restyfetcher "github.com/JakeFAU/stackexchange-qa-collector/internal/fetcher/resty"
	"github.com/JakeFAU/stackexchange-qa-collector/internal/id/uuid"
	"github.com/JakeFAU/stackexchange-qa-collector/internal/joiner"
	"github.com/JakeFAU/stackexchange-qa-collector/internal/pipeline"
	"github.com/JakeFAU/stackexchange-qa-collector/internal/qa"
	"github.com/JakeFAU/stackexchange-qa-collector/internal/stackexchange"
	"github.com/JakeFAU/stackexchange-qa-collector/internal/storage/gcs"
	"github.com/JakeFAU/stackexchange-qa-collector/internal/storage/jsonfile"
	"github.com/JakeFAU/stackexchange-qa-collector/internal/storage/local"
	"github.com/JakeFAU/stackexchange-qa-collector/internal/storage/postgres"
)

// App holds the services shared by every command.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	runner    *pipeline.Runner
	rowStore  *postgres.RowStore
	gcsClient *storage.Client
	server    *api.Server
}

// New wires the pipeline described by cfg. Optional exporters are created only
// when configured and fail fast when unreachable.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}

	clock := system.New()
	textCleaner := cleaner.New(logger.Named("cleaner"))
	client, err := stackexchange.New(newGetter(cfg), clock, textCleaner, stackexchange.Config{
		BaseURL:          cfg.API.BaseURL,
		Site:             cfg.API.Site,
		Tag:              cfg.API.Tag,
		Filter:           cfg.API.Filter,
		Sort:             cfg.API.Sort,
		Order:            cfg.API.Order,
		Key:              cfg.API.Key,
		Delay:            cfg.Delay(),
		AnswerPageSize:   cfg.API.AnswerPageSize,
		MaxAnswerPages:   cfg.API.MaxAnswerPages,
		AnswerQuotaFloor: cfg.API.AnswerQuotaFloor,
		IDsPerRequest:    cfg.API.IDsPerRequest,
	}, logger.Named("stackexchange"))
	if err != nil {
		return nil, fmt.Errorf("init api client: %w", err)
	}

	store, err := jsonfile.New(cfg.Collector.QuestionsPath, logger.Named("questions"))
	if err != nil {
		return nil, fmt.Errorf("init question store: %w", err)
	}

	col, err := collector.New(client, store, clock, clock, collector.Config{
		StartPage:              cfg.Collector.StartPage,
		MaxPages:               cfg.Collector.MaxPages,
		PageSize:               cfg.Collector.PageSize,
		AcceptedOnly:           cfg.Collector.AcceptedOnly,
		SaveInterval:           cfg.Collector.SaveInterval,
		Delay:                  cfg.Delay(),
		QuotaFloor:             cfg.Collector.QuotaFloor,
		MaxConsecutiveFailures: cfg.Collector.MaxConsecutiveFailures,
	}, logger.Named("collector"))
	if err != nil {
		return nil, fmt.Errorf("init collector: %w", err)
	}

	var exporters []qa.RowExporter
	if cfg.Export.Postgres.DSN != "" {
		rowStore, err := postgres.NewRowStore(ctx, postgres.RowStoreConfig{
			DSN:             cfg.Export.Postgres.DSN,
			Table:           cfg.Export.Postgres.Table,
			MaxConns:        cfg.Export.Postgres.MaxConns,
			MinConns:        cfg.Export.Postgres.MinConns,
			MaxConnLifetime: cfg.Export.Postgres.MaxConnLifetime(),
			CreateTable:     cfg.Export.Postgres.CreateTable,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init postgres export: %w", err)
		}
		a.rowStore = rowStore
		exporters = append(exporters, rowStore)
		logger.Info("postgres row export enabled", zap.String("table", cfg.Export.Postgres.Table))
	}

	policy, err := qa.ParseAcceptedPolicy(cfg.Joiner.AcceptedPolicy)
	if err != nil {
		a.Close()
		return nil, err
	}
	join, err := joiner.New(store, client, textCleaner, clock, clock, uuid.New(), joiner.Config{
		OutputPath:     cfg.Joiner.OutputPath,
		BatchSize:      cfg.Joiner.BatchSize,
		TopN:           cfg.Joiner.TopN,
		AcceptedPolicy: policy,
		Delay:          cfg.Delay(),
	}, logger.Named("joiner"), exporters...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init joiner: %w", err)
	}

	var opts []pipeline.Option
	if cfg.Export.GCS.Bucket != "" {
		gcsClient, err := storage.NewClient(ctx)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.gcsClient = gcsClient
		uploader, err := gcs.New(gcsClient, gcs.Config{Bucket: cfg.Export.GCS.Bucket, Prefix: cfg.Export.GCS.Prefix}, logger.Named("gcs"))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init gcs uploader: %w", err)
		}
		opts = append(opts, pipeline.WithUploader(uploader))
		logger.Info("gcs artifact upload enabled", zap.String("bucket", cfg.Export.GCS.Bucket))
	}
	if cfg.Export.Local.Dir != "" {
		archive, err := local.New(local.Config{BaseDir: cfg.Export.Local.Dir}, logger.Named("archive"))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init local archive: %w", err)
		}
		opts = append(opts, pipeline.WithUploader(archive))
	}
	opts = append(opts, pipeline.WithArtifacts(Artifacts(cfg)...))

	a.runner = pipeline.New(col, join, logger.Named("pipeline"), opts...)
	if cfg.Metrics.Addr != "" {
		a.server = api.NewServer(logger)
	}
	return a, nil
}

// Artifacts lists the files uploaded after a run.
func Artifacts(cfg config.Config) []pipeline.Artifact {
	return []pipeline.Artifact{
		{
			Path:        cfg.Collector.QuestionsPath,
			Object:      filepath.Base(cfg.Collector.QuestionsPath),
			ContentType: "application/json",
		},
		{
			Path:        cfg.Joiner.OutputPath,
			Object:      filepath.Base(cfg.Joiner.OutputPath),
			ContentType: "text/csv",
		},
	}
}

func newGetter(cfg config.Config) qa.Getter {
	if cfg.HTTP.Transport == "colly" {
		return collyfetcher.New(collyfetcher.Config{
			UserAgent:   cfg.HTTP.UserAgent,
			Timeout:     cfg.Timeout(),
			MaxBodySize: cfg.HTTP.MaxBodyBytes,
		})
	}
	return restyfetcher.New(restyfetcher.Config{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.Timeout(),
	})
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run executes the stages for mode. The metrics server, when configured, lives
// only for the duration of the run.
func (a *App) Run(ctx context.Context, mode pipeline.Mode) pipeline.Report {
	var wg sync.WaitGroup
	serverCtx, stop := context.WithCancel(ctx)
	if a.server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.server.ListenAndServe(serverCtx, a.cfg.Metrics.Addr); err != nil {
				a.logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}
	report := a.runner.Run(ctx, mode)
	stop()
	wg.Wait()
	return report
}

// Close releases pools and clients held by the App.
func (a *App) Close() {
	if a.rowStore != nil {
		a.rowStore.Close()
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("close gcs client", zap.Error(err))
		}
	}
	_ = a.logger.Sync() //nolint:errcheck // best-effort flush
}
