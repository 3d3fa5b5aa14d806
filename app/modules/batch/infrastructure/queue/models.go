package batchqueue

import (
	sharedtypes "github.com/liftroster/rostersync/app/shared/types"
)

// DuplicateScanJob runs the duplicate detector over the roster (or a
// single name group when Scope is set).
type DuplicateScanJob struct {
	Scope         string `json:"scope"`
	MinConfidence int    `json:"min_confidence"`
}

// Kind returns the job type identifier for River
func (DuplicateScanJob) Kind() string { return "duplicate_scan" }

// ContaminationRepairJob splits one contaminated athlete.
type ContaminationRepairJob struct {
	AthleteID sharedtypes.AthleteID `json:"athlete_id"`
}

// Kind returns the job type identifier for River
func (ContaminationRepairJob) Kind() string { return "contamination_repair" }

// JobInfo represents information about a queued job (for debugging/monitoring)
type JobInfo struct {
	ID          int64  `json:"id"`
	Kind        string `json:"kind"`
	State       string `json:"state"`
	ScheduledAt string `json:"scheduled_at"`
	CreatedAt   string `json:"created_at"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
}
