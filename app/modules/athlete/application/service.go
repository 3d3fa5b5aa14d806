package athleteservice

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
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

// nameLockShards bounds the striped per-name mutex pool that serializes
// create-or-enrich decisions for the same display name.
const nameLockShards = 64

// AthleteService implements the identity resolution engine.
type AthleteService struct {
	repo     athletedb.AthleteStore
	db       *bun.DB
	eventBus eventbus.EventBus
	logger   *slog.Logger
	metrics  metrics.Recorder
	tracer   trace.Tracer

	rankings RankingsLookup
	history  MemberHistory

	tolerances   Tolerances
	softFallback bool
	workers      int

	nameLocks [nameLockShards]sync.Mutex
}

// Option configures an AthleteService.
type Option func(*AthleteService)

// WithTolerances overrides the default matching tolerances.
func WithTolerances(t Tolerances) Option {
	return func(s *AthleteService) { s.tolerances = t }
}

// WithSoftFallback toggles the reuse-first-candidate policy applied when
// every verification tier fails. Disabled, exhaustion surfaces as an
// AmbiguousIdentityError instead.
func WithSoftFallback(enabled bool) Option {
	return func(s *AthleteService) { s.softFallback = enabled }
}

// WithWorkers bounds the ResolveBatch worker pool.
func WithWorkers(n int) Option {
	return func(s *AthleteService) {
		if n > 0 {
			s.workers = n
		}
	}
}

// NewAthleteService creates the resolver.
func NewAthleteService(
	repo athletedb.AthleteStore,
	db *bun.DB,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
	m metrics.Recorder,
	tracer trace.Tracer,
	rankings RankingsLookup,
	history MemberHistory,
	opts ...Option,
) *AthleteService {
	s := &AthleteService{
		repo:         repo,
		db:           db,
		eventBus:     eventBus,
		logger:       logger,
		metrics:      m,
		tracer:       tracer,
		rankings:     rankings,
		history:      history,
		tolerances:   DefaultTolerances(),
		softFallback: true,
		workers:      4,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// operationFunc is the generic signature for service operation functions.
type operationFunc[S any, F any] func(ctx context.Context) (results.OperationResult[S, F], error)

// withTelemetry wraps a service operation with tracing, metrics, and panic
// recovery.
func withTelemetry[S any, F any](
	s *AthleteService,
	ctx context.Context,
	operationName string,
	displayName string,
	op operationFunc[S, F],
) (result results.OperationResult[S, F], err error) {

	ctx, span := s.tracer.Start(ctx, operationName, trace.WithAttributes(
		attribute.String("operation", operationName),
		attribute.String("display_name", displayName),
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
				attr.String("display_name", displayName),
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
			attr.String("display_name", displayName),
			attr.Error(wrappedErr),
		)
		s.metrics.RecordOperationFailure(ctx, operationName)
		span.RecordError(wrappedErr)
		return result, wrappedErr
	}

	if result.IsFailure() {
		s.logger.WarnContext(ctx, "Operation returned failure result",
			attr.ExtractCorrelationID(ctx),
			attr.String("operation", operationName),
			attr.String("display_name", displayName),
			attr.Any("failure_payload", *result.Failure),
		)
	}

	if result.IsSuccess() {
		s.metrics.RecordOperationSuccess(ctx, operationName)
	}

	return result, nil
}

// runInTx ensures the operation runs within a transaction. A nil db (the
// fake store in tests) runs it directly.
func runInTx[S any, F any](
	s *AthleteService,
	ctx context.Context,
	fn func(ctx context.Context, db bun.IDB) (results.OperationResult[S, F], error),
) (results.OperationResult[S, F], error) {
	if s.db == nil {
		return fn(ctx, nil)
	}

	var result results.OperationResult[S, F]
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var txErr error
		result, txErr = fn(ctx, tx)
		return txErr
	})

	return result, err
}

// publishEvent marshals payload and publishes it on topic, logging instead
// of failing the operation when the bus rejects it.
func (s *AthleteService) publishEvent(ctx context.Context, topic string, payload any) {
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

// nameLock returns the stripe serializing writes for one normalized name.
func (s *AthleteService) nameLock(displayName string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(normalizeName(displayName)))
	return &s.nameLocks[h.Sum32()%nameLockShards]
}

func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(name))), " ")
}

func isRollingQualifier(meetName string) bool {
	n := strings.ToLower(meetName)
	return strings.Contains(n, "qualifier") || strings.Contains(n, "rolling")
}
