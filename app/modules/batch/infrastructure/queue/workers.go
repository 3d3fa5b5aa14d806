package batchqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/riverqueue/river"

	contaminationservice "github.com/liftroster/rostersync/app/modules/contamination/application"
	dedupservice "github.com/liftroster/rostersync/app/modules/dedup/application"
	"github.com/liftroster/rostersync/app/shared/attr"
)

// DuplicateScanWorker executes queued duplicate scans.
type DuplicateScanWorker struct {
	river.WorkerDefaults[DuplicateScanJob]
	logger *slog.Logger
	dedup  dedupservice.Service
}

// NewDuplicateScanWorker creates a worker backed by the detector service.
func NewDuplicateScanWorker(logger *slog.Logger, dedup dedupservice.Service) *DuplicateScanWorker {
	return &DuplicateScanWorker{logger: logger, dedup: dedup}
}

func (w *DuplicateScanWorker) Work(ctx context.Context, job *river.Job[DuplicateScanJob]) error {
	ctxLogger := w.logger.With(
		attr.Int64("job_id", job.ID),
		attr.String("scope", job.Args.Scope),
	)

	ctxLogger.InfoContext(ctx, "Running duplicate scan job")

	result, err := w.dedup.DetectDuplicates(ctx, dedupservice.Scope{DisplayName: job.Args.Scope}, job.Args.MinConfidence)
	if err != nil {
		ctxLogger.ErrorContext(ctx, "Duplicate scan job failed", attr.Error(err))
		return fmt.Errorf("duplicate scan: %w", err)
	}
	if result.IsFailure() {
		ctxLogger.ErrorContext(ctx, "Duplicate scan returned a failure", attr.Error(*result.Failure))
		return fmt.Errorf("duplicate scan: %w", *result.Failure)
	}

	report := *result.Success
	ctxLogger.InfoContext(ctx, "Duplicate scan job completed",
		attr.Int("groups_scanned", report.GroupsScanned),
		attr.Int("cases", len(report.Cases)),
	)
	return nil
}

// ContaminationRepairWorker executes queued contamination repairs.
type ContaminationRepairWorker struct {
	river.WorkerDefaults[ContaminationRepairJob]
	logger *slog.Logger
	repair contaminationservice.Service
}

// NewContaminationRepairWorker creates a worker backed by the splitter
// service.
func NewContaminationRepairWorker(logger *slog.Logger, repair contaminationservice.Service) *ContaminationRepairWorker {
	return &ContaminationRepairWorker{logger: logger, repair: repair}
}

func (w *ContaminationRepairWorker) Work(ctx context.Context, job *river.Job[ContaminationRepairJob]) error {
	ctxLogger := w.logger.With(
		attr.Int64("job_id", job.ID),
		attr.AthleteID("athlete_id", job.Args.AthleteID),
	)

	ctxLogger.InfoContext(ctx, "Running contamination repair job")

	result, err := w.repair.RepairContamination(ctx, job.Args.AthleteID)
	if err != nil {
		ctxLogger.ErrorContext(ctx, "Contamination repair job failed", attr.Error(err))
		return fmt.Errorf("contamination repair: %w", err)
	}
	if result.IsFailure() {
		// A clean athlete is a completed job, not a retryable error.
		if errors.Is(*result.Failure, contaminationservice.ErrNotContaminated) {
			ctxLogger.InfoContext(ctx, "Athlete carries a single identity, nothing to repair")
			return nil
		}
		ctxLogger.ErrorContext(ctx, "Contamination repair returned a failure", attr.Error(*result.Failure))
		return fmt.Errorf("contamination repair: %w", *result.Failure)
	}

	summary := *result.Success
	ctxLogger.InfoContext(ctx, "Contamination repair job completed",
		attr.UUIDValue("run_id", summary.RunID),
		attr.Int("new_athletes", len(summary.NewAthletes)),
		attr.Int("reassigned", summary.Reassigned),
		attr.Int("orphans", len(summary.Orphans)),
	)
	return nil
}
