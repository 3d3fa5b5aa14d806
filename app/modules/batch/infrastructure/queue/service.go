package batchqueue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/uptrace/bun"

	contaminationservice "github.com/liftroster/rostersync/app/modules/contamination/application"
	dedupservice "github.com/liftroster/rostersync/app/modules/dedup/application"
	"github.com/liftroster/rostersync/app/shared/attr"
	sharedtypes "github.com/liftroster/rostersync/app/shared/types"
	"github.com/liftroster/rostersync/internal/metrics"
)

// QueueService is the batch job surface consumed by the transport layer.
type QueueService interface {
	// RunDuplicateScan enqueues a roster-wide (or name-scoped) duplicate scan
	RunDuplicateScan(ctx context.Context, scope string, minConfidence int) error
	// RunContaminationRepair enqueues a contamination repair for one athlete
	RunContaminationRepair(ctx context.Context, athleteID sharedtypes.AthleteID) error
	// CancelAthleteJobs cancels queued repair jobs for a specific athlete
	CancelAthleteJobs(ctx context.Context, athleteID sharedtypes.AthleteID) error
	// PendingJobs returns queued batch jobs (for debugging)
	PendingJobs(ctx context.Context) ([]JobInfo, error)
	// HealthCheck verifies the queue service is healthy
	HealthCheck(ctx context.Context) error
	// Start starts the queue service
	Start(ctx context.Context) error
	// Stop stops the queue service
	Stop(ctx context.Context) error
}

// Ensure Service implements QueueService
var _ QueueService = (*Service)(nil)

const batchQueue = "reconcile"

// Service schedules and runs reconciliation batch jobs using River.
type Service struct {
	client  *river.Client[pgx.Tx]
	pool    *pgxpool.Pool
	logger  *slog.Logger
	db      *bun.DB
	metrics metrics.Recorder
}

// NewService creates a River-based queue service for reconciliation jobs.
// River needs its own pgx pool; bunDB is only used for job-table queries.
func NewService(
	ctx context.Context,
	bunDB *bun.DB,
	logger *slog.Logger,
	dsn string,
	m metrics.Recorder,
	dedup dedupservice.Service,
	repair contaminationservice.Service,
) (*Service, error) {
	ctxLogger := logger.With(
		attr.String("operation", "new_batch_queue_service"),
		attr.String("component", "river_queue"),
	)

	start := time.Now()
	m.RecordOperationAttempt(ctx, "initialize_queue")

	ctxLogger.Info("Initializing batch queue service")

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		ctxLogger.Error("Failed to parse DSN for River", attr.Error(err))
		m.RecordOperationFailure(ctx, "initialize_queue")
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		ctxLogger.Error("Failed to create pgx pool for River", attr.Error(err))
		m.RecordOperationFailure(ctx, "initialize_queue")
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		ctxLogger.Error("Failed to ping database for River", attr.Error(err))
		m.RecordOperationFailure(ctx, "initialize_queue")
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, NewDuplicateScanWorker(ctxLogger, dedup))
	river.AddWorker(workers, NewContaminationRepairWorker(ctxLogger, repair))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
			// Repairs take per-athlete locks; a small dedicated pool keeps
			// them from starving scans.
			batchQueue: {MaxWorkers: 5},
		},
		Workers: workers,
	})
	if err != nil {
		pool.Close()
		ctxLogger.Error("Failed to create River client", attr.Error(err))
		m.RecordOperationFailure(ctx, "initialize_queue")
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	service := &Service{
		client:  riverClient,
		pool:    pool,
		logger:  ctxLogger,
		db:      bunDB,
		metrics: m,
	}

	m.RecordOperationSuccess(ctx, "initialize_queue")
	m.RecordOperationDuration(ctx, "initialize_queue", time.Since(start))

	ctxLogger.Info("Batch queue service initialized successfully")
	return service, nil
}

// Start starts the River queue service
func (s *Service) Start(ctx context.Context) error {
	start := time.Now()
	s.metrics.RecordOperationAttempt(ctx, "start_queue")

	s.logger.Info("Starting batch queue service")

	if err := s.client.Start(ctx); err != nil {
		s.logger.Error("Failed to start River client", attr.Error(err))
		s.metrics.RecordOperationFailure(ctx, "start_queue")
		return fmt.Errorf("failed to start River client: %w", err)
	}

	s.metrics.RecordOperationSuccess(ctx, "start_queue")
	s.metrics.RecordOperationDuration(ctx, "start_queue", time.Since(start))

	s.logger.Info("Batch queue service started successfully")
	return nil
}

// Stop stops the River queue service and closes its pool
func (s *Service) Stop(ctx context.Context) error {
	start := time.Now()
	s.metrics.RecordOperationAttempt(ctx, "stop_queue")

	s.logger.Info("Stopping batch queue service")

	if err := s.client.Stop(ctx); err != nil {
		s.logger.Error("Failed to stop River client", attr.Error(err))
		s.metrics.RecordOperationFailure(ctx, "stop_queue")
		return fmt.Errorf("failed to stop River client: %w", err)
	}
	s.pool.Close()

	s.metrics.RecordOperationSuccess(ctx, "stop_queue")
	s.metrics.RecordOperationDuration(ctx, "stop_queue", time.Since(start))

	s.logger.Info("Batch queue service stopped successfully")
	return nil
}

// RunDuplicateScan enqueues a duplicate scan. An empty scope scans every
// name group; minConfidence at or below zero falls back to the detector's
// default threshold.
func (s *Service) RunDuplicateScan(ctx context.Context, scope string, minConfidence int) error {
	start := time.Now()
	s.metrics.RecordOperationAttempt(ctx, "run_duplicate_scan")

	ctxLogger := s.logger.With(
		attr.String("scope", scope),
		attr.Int("min_confidence", minConfidence),
		attr.String("operation", "run_duplicate_scan"),
	)

	ctxLogger.Info("Enqueueing duplicate scan job")

	job := DuplicateScanJob{
		Scope:         scope,
		MinConfidence: minConfidence,
	}

	jobResult, err := s.client.Insert(ctx, job, &river.InsertOpts{
		Queue: batchQueue,
		UniqueOpts: river.UniqueOpts{
			ByArgs: true, // one queued scan per scope at a time
		},
	})
	if err != nil {
		ctxLogger.Error("Failed to enqueue duplicate scan job", attr.Error(err))
		s.metrics.RecordOperationFailure(ctx, "run_duplicate_scan")
		return fmt.Errorf("failed to enqueue duplicate scan job: %w", err)
	}

	s.metrics.RecordOperationSuccess(ctx, "run_duplicate_scan")
	s.metrics.RecordOperationDuration(ctx, "run_duplicate_scan", time.Since(start))

	ctxLogger.Info("Duplicate scan job enqueued successfully",
		attr.Int64("job_id", jobResult.Job.ID))
	return nil
}

// RunContaminationRepair enqueues a contamination repair for one athlete
func (s *Service) RunContaminationRepair(ctx context.Context, athleteID sharedtypes.AthleteID) error {
	start := time.Now()
	s.metrics.RecordOperationAttempt(ctx, "run_contamination_repair")

	ctxLogger := s.logger.With(
		attr.AthleteID("athlete_id", athleteID),
		attr.String("operation", "run_contamination_repair"),
	)

	ctxLogger.Info("Enqueueing contamination repair job")

	job := ContaminationRepairJob{
		AthleteID: athleteID,
	}

	jobResult, err := s.client.Insert(ctx, job, &river.InsertOpts{
		Queue: batchQueue,
		UniqueOpts: river.UniqueOpts{
			ByArgs: true, // one queued repair per athlete at a time
		},
	})
	if err != nil {
		ctxLogger.Error("Failed to enqueue contamination repair job", attr.Error(err))
		s.metrics.RecordOperationFailure(ctx, "run_contamination_repair")
		return fmt.Errorf("failed to enqueue contamination repair job: %w", err)
	}

	s.metrics.RecordOperationSuccess(ctx, "run_contamination_repair")
	s.metrics.RecordOperationDuration(ctx, "run_contamination_repair", time.Since(start))

	ctxLogger.Info("Contamination repair job enqueued successfully",
		attr.Int64("job_id", jobResult.Job.ID))
	return nil
}

// CancelAthleteJobs cancels queued repair jobs for a specific athlete
func (s *Service) CancelAthleteJobs(ctx context.Context, athleteID sharedtypes.AthleteID) error {
	start := time.Now()
	s.metrics.RecordOperationAttempt(ctx, "cancel_athlete_jobs")

	ctxLogger := s.logger.With(
		attr.AthleteID("athlete_id", athleteID),
		attr.String("operation", "cancel_athlete_jobs"),
	)

	ctxLogger.Info("Cancelling queued jobs for athlete")

	type riverJobRow struct {
		ID   int64  `bun:"id"`
		Kind string `bun:"kind"`
	}

	var jobs []riverJobRow
	err := s.db.NewSelect().
		Table("river_job").
		Column("id", "kind").
		Where("kind = ?", "contamination_repair").
		Where("state IN (?, ?)", "available", "scheduled").
		Where("(args->>'athlete_id')::bigint = ?", int64(athleteID)).
		Scan(ctx, &jobs)
	if err != nil {
		ctxLogger.Error("Failed to query jobs for cancellation", attr.Error(err))
		s.metrics.RecordOperationFailure(ctx, "cancel_athlete_jobs")
		return fmt.Errorf("failed to query jobs for cancellation: %w", err)
	}

	if len(jobs) == 0 {
		ctxLogger.Info("No jobs found to cancel")
		s.metrics.RecordOperationSuccess(ctx, "cancel_athlete_jobs")
		s.metrics.RecordOperationDuration(ctx, "cancel_athlete_jobs", time.Since(start))
		return nil
	}

	cancelledCount := 0
	for _, job := range jobs {
		if _, err := s.client.JobCancel(ctx, job.ID); err != nil {
			ctxLogger.Warn("Failed to cancel job",
				attr.Int64("job_id", job.ID),
				attr.String("job_kind", job.Kind),
				attr.Error(err))
			continue
		}
		cancelledCount++
	}

	if cancelledCount == len(jobs) {
		s.metrics.RecordOperationSuccess(ctx, "cancel_athlete_jobs")
	} else {
		s.metrics.RecordOperationFailure(ctx, "cancel_athlete_jobs")
	}
	s.metrics.RecordOperationDuration(ctx, "cancel_athlete_jobs", time.Since(start))

	ctxLogger.Info("Jobs cancellation completed",
		attr.Int("total_found", len(jobs)),
		attr.Int("cancelled_count", cancelledCount))

	return nil
}

// PendingJobs returns queued batch jobs (for debugging/monitoring)
func (s *Service) PendingJobs(ctx context.Context) ([]JobInfo, error) {
	start := time.Now()
	s.metrics.RecordOperationAttempt(ctx, "pending_jobs")

	type riverJobRow struct {
		ID          int64      `bun:"id"`
		Kind        string     `bun:"kind"`
		State       string     `bun:"state"`
		ScheduledAt *time.Time `bun:"scheduled_at"`
		CreatedAt   time.Time  `bun:"created_at"`
		Attempt     int16      `bun:"attempt"`
		MaxAttempts int16      `bun:"max_attempts"`
	}

	var jobs []riverJobRow
	err := s.db.NewSelect().
		Table("river_job").
		Column("id", "kind", "state", "scheduled_at", "created_at", "attempt", "max_attempts").
		Where("kind IN (?, ?)", "duplicate_scan", "contamination_repair").
		Where("state IN (?, ?, ?)", "available", "scheduled", "running").
		Order("scheduled_at ASC NULLS LAST", "created_at ASC").
		Scan(ctx, &jobs)
	if err != nil {
		s.logger.Error("Failed to query pending jobs", attr.Error(err))
		s.metrics.RecordOperationFailure(ctx, "pending_jobs")
		return nil, fmt.Errorf("failed to query pending jobs: %w", err)
	}

	result := make([]JobInfo, len(jobs))
	for i, job := range jobs {
		scheduledAt := ""
		if job.ScheduledAt != nil {
			scheduledAt = job.ScheduledAt.Format(time.RFC3339)
		}

		result[i] = JobInfo{
			ID:          job.ID,
			Kind:        job.Kind,
			State:       job.State,
			ScheduledAt: scheduledAt,
			CreatedAt:   job.CreatedAt.Format(time.RFC3339),
			Attempt:     int(job.Attempt),
			MaxAttempts: int(job.MaxAttempts),
		}
	}

	s.metrics.RecordOperationSuccess(ctx, "pending_jobs")
	s.metrics.RecordOperationDuration(ctx, "pending_jobs", time.Since(start))

	return result, nil
}

// HealthCheck verifies the queue service is healthy
func (s *Service) HealthCheck(ctx context.Context) error {
	start := time.Now()
	s.metrics.RecordOperationAttempt(ctx, "queue_health_check")

	if s.client == nil {
		s.metrics.RecordOperationFailure(ctx, "queue_health_check")
		return fmt.Errorf("river client is nil")
	}

	var count int
	err := s.db.NewSelect().
		Table("river_job").
		ColumnExpr("COUNT(*)").
		Scan(ctx, &count)
	if err != nil {
		s.logger.Error("Queue service health check failed", attr.Error(err))
		s.metrics.RecordOperationFailure(ctx, "queue_health_check")
		return fmt.Errorf("queue service health check failed: %w", err)
	}

	s.metrics.RecordOperationSuccess(ctx, "queue_health_check")
	s.metrics.RecordOperationDuration(ctx, "queue_health_check", time.Since(start))

	s.logger.Debug("Queue service health check passed", attr.Int("total_jobs", count))
	return nil
}

// GetClient returns the underlying River client for advanced operations
func (s *Service) GetClient() *river.Client[pgx.Tx] {
	return s.client
}
