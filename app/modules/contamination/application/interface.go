package contaminationservice

import (
	"context"

	"github.com/liftroster/rostersync/app/shared/results"
	sharedtypes "github.com/liftroster/rostersync/app/shared/types"
)

// Service is the contamination repair surface consumed by batch jobs and
// the admin transport.
type Service interface {
	RepairContamination(ctx context.Context, athleteID sharedtypes.AthleteID) (results.OperationResult[*RepairSummary, error], error)
}

var _ Service = (*ContaminationService)(nil)
