package dedupservice

import (
	"context"

	"github.com/liftroster/rostersync/app/shared/results"
)

// Service is the duplicate detection surface consumed by batch jobs and
// the admin transport.
type Service interface {
	DetectDuplicates(ctx context.Context, scope Scope, minConfidence int) (results.OperationResult[*ScanReport, error], error)
}

var _ Service = (*DedupService)(nil)
