// Package app wires the roster reconciliation services together: database,
// event bus, lookup adapters, resolver, detector, splitter, batch queue,
// and the admin HTTP surface.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"go.opentelemetry.io/otel"

	"github.com/liftroster/rostersync/app/adapters/memberhistory"
	"github.com/liftroster/rostersync/app/adapters/rankings"
	athleteservice "github.com/liftroster/rostersync/app/modules/athlete/application"
	athletedb "github.com/liftroster/rostersync/app/modules/athlete/infrastructure/repositories"
	batchqueue "github.com/liftroster/rostersync/app/modules/batch/infrastructure/queue"
	contaminationservice "github.com/liftroster/rostersync/app/modules/contamination/application"
	dedupservice "github.com/liftroster/rostersync/app/modules/dedup/application"
	"github.com/liftroster/rostersync/app/shared/attr"
	"github.com/liftroster/rostersync/app/shared/eventbus"
	"github.com/liftroster/rostersync/config"
	"github.com/liftroster/rostersync/internal/metrics"
)

// App holds the wired application.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	DB       *bun.DB
	EventBus eventbus.EventBus
	Registry *prometheus.Registry

	AthleteService       athleteservice.Service
	DedupService         dedupservice.Service
	ContaminationService contaminationservice.Service
	QueueService         batchqueue.QueueService

	adminServer *http.Server
}

// NewApp wires the application from cfg. Nothing starts running until Run.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	pgdb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.DSN)))
	db := bun.NewDB(pgdb, pgdialect.New())
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	registry := prometheus.NewRegistry()
	bus := eventbus.NewInProcessBus(logger)
	tracer := otel.Tracer("rostersync")
	store := athletedb.NewAthleteStore()

	rankingsLookup := rankings.NewLookup(rankings.Config{
		BaseURL:           cfg.Lookup.RankingsBaseURL,
		RequestTimeout:    cfg.Lookup.RequestTimeout,
		RequestsPerSecond: cfg.Lookup.RequestsPerSecond,
		Burst:             cfg.Lookup.Burst,
		MaxRetries:        uint64(cfg.Lookup.MaxRetries),
		CacheTTL:          cfg.Lookup.CacheTTL,
	}, logger)

	historyLookup := memberhistory.NewLookup(memberhistory.Config{
		BaseURL:           cfg.Lookup.MemberHistoryBaseURL,
		RequestTimeout:    cfg.Lookup.RequestTimeout,
		RequestsPerSecond: cfg.Lookup.RequestsPerSecond,
		Burst:             cfg.Lookup.Burst,
		MaxRetries:        uint64(cfg.Lookup.MaxRetries),
	}, logger)

	tolerances := athleteservice.Tolerances{
		DivisionWindowBack:            cfg.Resolver.DivisionWindowBack,
		DivisionWindowFwd:             cfg.Resolver.DivisionWindowFwd,
		DateTolerance:                 cfg.Resolver.DateTolerance,
		RollingQualifierDateTolerance: cfg.Resolver.RollingQualifierDateTolerance,
		LiftTolerance:                 cfg.Resolver.LiftTolerance,
		TotalTolerance:                cfg.Resolver.TotalTolerance,
		BodyweightTolerance:           cfg.Resolver.BodyweightTolerance,
		SplitBodyweightTolerance:      cfg.Resolver.SplitBodyweightTolerance,
	}

	athleteSvc := athleteservice.NewAthleteService(
		store, db, bus, logger,
		metrics.NewRecorder(registry, "athlete"),
		tracer,
		rankingsLookup, historyLookup,
		athleteservice.WithTolerances(tolerances),
		athleteservice.WithSoftFallback(cfg.Resolver.SoftFallback),
		athleteservice.WithWorkers(cfg.Resolver.Workers),
	)

	dedupSvc := dedupservice.NewDedupService(
		store, db, bus, logger,
		metrics.NewRecorder(registry, "dedup"),
		tracer,
		dedupservice.WithMinConfidence(cfg.Detector.MinConfidence),
	)

	contaminationSvc := contaminationservice.NewContaminationService(
		store, db, bus, logger,
		metrics.NewRecorder(registry, "contamination"),
		tracer,
		historyLookup,
		contaminationservice.WithBodyweightTolerance(tolerances.SplitBodyweightTolerance),
	)

	queueSvc, err := batchqueue.NewService(
		ctx, db, logger, cfg.Postgres.DSN,
		metrics.NewRecorder(registry, "batch_queue"),
		dedupSvc, contaminationSvc,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize batch queue: %w", err)
	}

	a := &App{
		Config:               cfg,
		Logger:               logger,
		DB:                   db,
		EventBus:             bus,
		Registry:             registry,
		AthleteService:       athleteSvc,
		DedupService:         dedupSvc,
		ContaminationService: contaminationSvc,
		QueueService:         queueSvc,
	}
	a.adminServer = &http.Server{
		Addr:    cfg.Admin.ListenAddress,
		Handler: a.adminRouter(),
	}
	return a, nil
}

// Run starts the batch queue and the admin server, then blocks until ctx is
// cancelled or the admin server fails.
func (a *App) Run(ctx context.Context) error {
	if err := a.QueueService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start batch queue: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("Admin server listening", attr.String("address", a.adminServer.Addr))
		if err := a.adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return fmt.Errorf("admin server failed: %w", err)
	}
}

// Close shuts the application down in reverse wiring order.
func (a *App) Close(ctx context.Context) error {
	var firstErr error

	if err := a.adminServer.Shutdown(ctx); err != nil {
		a.Logger.Error("Admin server shutdown failed", attr.Error(err))
		firstErr = err
	}
	if err := a.QueueService.Stop(ctx); err != nil {
		a.Logger.Error("Batch queue stop failed", attr.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}
	if err := a.EventBus.Close(); err != nil {
		a.Logger.Error("Event bus close failed", attr.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}
	if err := a.DB.Close(); err != nil {
		a.Logger.Error("Database close failed", attr.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
