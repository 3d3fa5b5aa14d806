package athleteservice

import (
	"time"

	sharedtypes "github.com/liftroster/rostersync/app/shared/types"
)

// MatchSignals is everything one scraped result tells us about who lifted
// it. DisplayName is the only mandatory field; the rest narrows the search
// when present.
type MatchSignals struct {
	DisplayName      string
	ExternalID       *sharedtypes.ExternalID
	MembershipNumber *sharedtypes.MembershipNumber
	MeetID           sharedtypes.MeetID
	MeetName         string
	EventDate        time.Time
	AgeCategory      sharedtypes.AgeCategory
	WeightClassLabel string
	BodyweightKg     sharedtypes.Kg
	ExpectedTotal    *float64
	ExpectedSnatch   *float64
	ExpectedCJ       *float64
}

// Tolerances are the matching windows the verification tiers compare
// against. The defaults are tuned empirically against the source site's
// data; they are configuration, not derived constants.
type Tolerances struct {
	// Rankings window around the event date for tier-1 division lookups.
	DivisionWindowBack time.Duration
	DivisionWindowFwd  time.Duration

	// Date slack when matching a history entry to a meet. Rolling
	// qualifiers report a period rather than a day, so they get more.
	DateTolerance                 time.Duration
	RollingQualifierDateTolerance time.Duration

	// Attribute agreement windows.
	LiftTolerance       float64
	TotalTolerance      float64
	BodyweightTolerance float64

	// Bodyweight slack when the splitter matches results against an
	// authoritative history; scraped bodyweights are rounded unevenly.
	SplitBodyweightTolerance float64
}

// DefaultTolerances returns the production defaults.
func DefaultTolerances() Tolerances {
	return Tolerances{
		DivisionWindowBack:            3 * 24 * time.Hour,
		DivisionWindowFwd:             10 * 24 * time.Hour,
		DateTolerance:                 14 * 24 * time.Hour,
		RollingQualifierDateTolerance: 30 * 24 * time.Hour,
		LiftTolerance:                 0.1,
		TotalTolerance:                0.1,
		BodyweightTolerance:           0.25,
		SplitBodyweightTolerance:      2.0,
	}
}

// DateToleranceFor picks the date window for a meet by name: rolling
// qualifiers publish a window, not a date.
func (t Tolerances) DateToleranceFor(meetName string) time.Duration {
	if isRollingQualifier(meetName) {
		return t.RollingQualifierDateTolerance
	}
	return t.DateTolerance
}

// DivisionWindow returns the rankings lookup window around eventDate.
func (t Tolerances) DivisionWindow(eventDate time.Time) sharedtypes.DateWindow {
	return sharedtypes.DateWindow{
		Start: eventDate.Add(-t.DivisionWindowBack),
		End:   eventDate.Add(t.DivisionWindowFwd),
	}
}
