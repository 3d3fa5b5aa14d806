package athleteservice

import (
	"context"

	"github.com/liftroster/rostersync/app/shared/results"
)

// Service is the athlete identity surface consumed by batch jobs and the
// admin transport.
type Service interface {
	Resolve(ctx context.Context, signals MatchSignals) (results.OperationResult[*ResolveOutcome, error], error)
	ResolveBatch(ctx context.Context, batch []MatchSignals) (results.OperationResult[*BatchSummary, error], error)
}

var _ Service = (*AthleteService)(nil)
