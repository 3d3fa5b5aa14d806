// Package athleteevents defines the topics and payloads the resolution
// engine publishes. One event per tier attempt keeps the decision functions
// free of telemetry concerns; the driver emits these as it walks the chain.
package athleteevents

import (
	"time"

	sharedtypes "github.com/liftroster/rostersync/app/shared/types"
)

// Topics.
const (
	ResolutionAttempt  = "resolution.attempt"
	ResolutionResolved = "resolution.resolved"
)

// ResolutionAttemptPayload is emitted once per strategy evaluation inside a
// Resolve call.
type ResolutionAttemptPayload struct {
	CorrelationID string        `json:"correlation_id"`
	DisplayName   string        `json:"display_name"`
	Tier          string        `json:"tier"`
	Outcome       string        `json:"outcome"` // resolved | pass | error
	Reason        string        `json:"reason,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// ResolutionResolvedPayload is emitted when a Resolve call settles on an
// athlete.
type ResolutionResolvedPayload struct {
	CorrelationID string                `json:"correlation_id"`
	DisplayName   string                `json:"display_name"`
	AthleteID     sharedtypes.AthleteID `json:"athlete_id"`
	Tier          string                `json:"tier"`
	Created       bool                  `json:"created"`
}

