// Package contaminationevents defines the topics and payloads of the
// contamination splitter.
package contaminationevents

import (
	sharedtypes "github.com/liftroster/rostersync/app/shared/types"
)

// Topics.
const (
	RepairCompleted = "contamination.repair.completed"
)

// RepairCompletedPayload summarizes one repair run.
type RepairCompletedPayload struct {
	CorrelationID   string                `json:"correlation_id"`
	SourceAthleteID sharedtypes.AthleteID `json:"source_athlete_id"`
	NewAthletes     int                   `json:"new_athletes"`
	Reassigned      int                   `json:"reassigned"`
	Orphaned        int                   `json:"orphaned"`
}
