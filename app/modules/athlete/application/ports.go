package athleteservice

import (
	"context"
	"time"

	sharedtypes "github.com/liftroster/rostersync/app/shared/types"
)

// RankedAthlete is one row of a rankings-page division listing.
type RankedAthlete struct {
	Name       string
	ExternalID *sharedtypes.ExternalID
	Club       *string
	Region     *string
	Rank       *int
	Age        *int
	Gender     *sharedtypes.Gender
	Total      *float64
}

// RankingsLookup is the tier-1 port: who was ranked in a division over a
// date window. Implementations return ErrDivisionUnknown when the site has
// no such division and wrap transport failures in UpstreamUnavailableError.
type RankingsLookup interface {
	Query(ctx context.Context, division sharedtypes.Division, window sharedtypes.DateWindow) ([]RankedAthlete, error)
}

// HistoryEntry is one competition in a member profile's history.
type HistoryEntry struct {
	MeetName         string
	Date             time.Time
	Category         string
	Bodyweight       *float64
	Snatch           *float64
	CJ               *float64
	Total            *float64
	MembershipNumber *sharedtypes.MembershipNumber
}

// MemberHistory is the tier-2 port: a member profile's full competition
// history, plus the meet-page participation check used as secondary
// confirmation when attribute agreement is incomplete.
type MemberHistory interface {
	History(ctx context.Context, id sharedtypes.ExternalID) ([]HistoryEntry, error)
	VerifyOnMeetPage(ctx context.Context, meetID sharedtypes.MeetID, displayName string) (bool, error)
}
