package contaminationservice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	athleteservice "github.com/liftroster/rostersync/app/modules/athlete/application"
	athletedb "github.com/liftroster/rostersync/app/modules/athlete/infrastructure/repositories"
	"github.com/liftroster/rostersync/app/shared/attr"
	"github.com/liftroster/rostersync/app/shared/eventbus"
	"github.com/liftroster/rostersync/app/shared/results"
	sharedtypes "github.com/liftroster/rostersync/app/shared/types"
	"github.com/liftroster/rostersync/internal/metrics"
)

// athleteLockShards bounds the striped per-athlete mutex pool. The lock is
// held across the whole repair so no other writer interleaves with the
// multi-step reassignment.
const athleteLockShards = 64

// ContaminationService implements the splitter.
type ContaminationService struct {
	repo     athletedb.AthleteStore
	db       *bun.DB
	eventBus eventbus.EventBus
	logger   *slog.Logger
	metrics  metrics.Recorder
	tracer   trace.Tracer

	history athleteservice.MemberHistory

	bodyweightTolerance float64

	athleteLocks [athleteLockShards]sync.Mutex
}

// Option configures a ContaminationService.
type Option func(*ContaminationService)

// WithBodyweightTolerance overrides the ±kg window used when matching a
// result against an authoritative history entry.
func WithBodyweightTolerance(kg float64) Option {
	return func(s *ContaminationService) { s.bodyweightTolerance = kg }
}

// NewContaminationService creates the splitter.
func NewContaminationService(
	repo athletedb.AthleteStore,
	db *bun.DB,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
	m metrics.Recorder,
	tracer trace.Tracer,
	history athleteservice.MemberHistory,
	opts ...Option,
) *ContaminationService {
	s := &ContaminationService{
		repo:                repo,
		db:                  db,
		eventBus:            eventBus,
		logger:              logger,
		metrics:             m,
		tracer:              tracer,
		history:             history,
		bodyweightTolerance: athleteservice.DefaultTolerances().SplitBodyweightTolerance,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type operationFunc[S any, F any] func(ctx context.Context) (results.OperationResult[S, F], error)

// withTelemetry wraps a repair operation with tracing, metrics, and panic
// recovery.
func withTelemetry[S any, F any](
	s *ContaminationService,
	ctx context.Context,
	operationName string,
	athleteID sharedtypes.AthleteID,
	op operationFunc[S, F],
) (result results.OperationResult[S, F], err error) {

	ctx, span := s.tracer.Start(ctx, operationName, trace.WithAttributes(
		attribute.String("operation", operationName),
		attribute.Int64("athlete_id", int64(athleteID)),
	))
	defer span.End()

	s.metrics.RecordOperationAttempt(ctx, operationName)

	startTime := time.Now()
	defer func() {
		s.metrics.RecordOperationDuration(ctx, operationName, time.Since(startTime))
	}()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", operationName, r)
			s.logger.ErrorContext(ctx, "Critical panic recovered",
				attr.AthleteID("athlete_id", athleteID),
				attr.ExtractCorrelationID(ctx),
				attr.Error(err),
			)
			s.metrics.RecordOperationFailure(ctx, operationName)
			span.RecordError(err)
			result = results.OperationResult[S, F]{}
		}
	}()

	result, err = op(ctx)

	if err != nil {
		wrappedErr := fmt.Errorf("%s: %w", operationName, err)
		s.logger.ErrorContext(ctx, "Operation failed with error",
			attr.ExtractCorrelationID(ctx),
			attr.String("operation", operationName),
			attr.AthleteID("athlete_id", athleteID),
			attr.Error(wrappedErr),
		)
		s.metrics.RecordOperationFailure(ctx, operationName)
		span.RecordError(wrappedErr)
		return result, wrappedErr
	}

	if result.IsSuccess() {
		s.metrics.RecordOperationSuccess(ctx, operationName)
	}

	return result, nil
}

func (s *ContaminationService) athleteLock(id sharedtypes.AthleteID) *sync.Mutex {
	return &s.athleteLocks[uint64(id)%athleteLockShards]
}

func (s *ContaminationService) publishEvent(ctx context.Context, topic string, payload any) {
	if s.eventBus == nil {
		return
	}

	msg, err := eventbus.NewEventMessage(attr.CorrelationIDFromContext(ctx), payload)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to build event message",
			attr.String("topic", topic),
			attr.Error(err),
		)
		return
	}
	if err := s.eventBus.Publish(topic, msg); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish event",
			attr.String("topic", topic),
			attr.Error(err),
		)
	}
}
