package athleteservice

import (
	"errors"
	"fmt"

	sharedtypes "github.com/liftroster/rostersync/app/shared/types"
)

// ErrMissingName is returned when a resolution request carries an empty
// display name.
var ErrMissingName = errors.New("display name is required")

// ErrDivisionUnknown is the sentinel lookup clients return when the rankings
// site has no page for the requested division. The resolver treats it as a
// signal to repair the division key, not as a failure.
var ErrDivisionUnknown = errors.New("division unknown on rankings site")

// AmbiguousIdentityError is returned when every tier was exhausted without
// verifying a candidate and soft fallback is disabled.
type AmbiguousIdentityError struct {
	DisplayName string
	Candidates  []sharedtypes.AthleteID
}

func (e *AmbiguousIdentityError) Error() string {
	return fmt.Sprintf("identity %q ambiguous across %d candidates, verification exhausted", e.DisplayName, len(e.Candidates))
}

// ConflictError records a uniqueness conflict on an identity field. The
// losing write is dropped, never applied over the holder.
type ConflictError struct {
	Field    string
	Value    string
	HolderID sharedtypes.AthleteID
	TargetID sharedtypes.AthleteID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q already belongs to athlete %d, refusing write to athlete %d", e.Field, e.Value, e.HolderID, e.TargetID)
}

// OrphanResultError marks a competition result that could not be assigned
// to exactly one identity during a repair. The record stays on its source
// athlete and lands on the persisted orphan list; ownership is never
// guessed. Unwrap exposes the match failure.
type OrphanResultError struct {
	ResultID        sharedtypes.ResultID
	SourceAthleteID sharedtypes.AthleteID
	Err             error
}

func (e *OrphanResultError) Error() string {
	return fmt.Sprintf("result %d on athlete %d orphaned: %v", e.ResultID, e.SourceAthleteID, e.Err)
}

func (e *OrphanResultError) Unwrap() error {
	return e.Err
}

// UpstreamUnavailableError wraps a lookup/history service failure. It is
// tier-local: the current tier is skipped, the resolution continues.
type UpstreamUnavailableError struct {
	Service string
	Err     error
}

func (e *UpstreamUnavailableError) Error() string {
	return fmt.Sprintf("upstream %s unavailable: %v", e.Service, e.Err)
}

func (e *UpstreamUnavailableError) Unwrap() error {
	return e.Err
}
