package dedupservice

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	athletedb "github.com/liftroster/rostersync/app/modules/athlete/infrastructure/repositories"
	"github.com/liftroster/rostersync/app/shared/attr"
	"github.com/liftroster/rostersync/app/shared/eventbus"
	"github.com/liftroster/rostersync/app/shared/results"
	"github.com/liftroster/rostersync/internal/metrics"
)

// DefaultMinConfidence is the emission threshold applied when the caller
// does not set one.
const DefaultMinConfidence = 50

// DedupService implements the read-only duplicate detector.
type DedupService struct {
	repo     athletedb.AthleteStore
	db       *bun.DB
	eventBus eventbus.EventBus
	logger   *slog.Logger
	metrics  metrics.Recorder
	tracer   trace.Tracer

	minConfidence int
}

// Option configures a DedupService.
type Option func(*DedupService)

// WithMinConfidence overrides the emission threshold applied when a scan
// does not set one.
func WithMinConfidence(threshold int) Option {
	return func(s *DedupService) {
		if threshold > 0 {
			s.minConfidence = threshold
		}
	}
}

// NewDedupService creates the detector.
func NewDedupService(
	repo athletedb.AthleteStore,
	db *bun.DB,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
	m metrics.Recorder,
	tracer trace.Tracer,
	opts ...Option,
) *DedupService {
	s := &DedupService{
		repo:          repo,
		db:            db,
		eventBus:      eventBus,
		logger:        logger,
		metrics:       m,
		tracer:        tracer,
		minConfidence: DefaultMinConfidence,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type operationFunc[S any, F any] func(ctx context.Context) (results.OperationResult[S, F], error)

// withTelemetry wraps a detector operation with tracing, metrics, and panic
// recovery.
func withTelemetry[S any, F any](
	s *DedupService,
	ctx context.Context,
	operationName string,
	op operationFunc[S, F],
) (result results.OperationResult[S, F], err error) {

	ctx, span := s.tracer.Start(ctx, operationName, trace.WithAttributes(
		attribute.String("operation", operationName),
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

func (s *DedupService) publishEvent(ctx context.Context, topic string, payload any) {
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
