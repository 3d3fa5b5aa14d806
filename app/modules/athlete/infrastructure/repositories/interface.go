package athletedb

import (
	"context"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	sharedtypes "github.com/liftroster/rostersync/app/shared/types"
)

// AthleteStore is the only storage surface the resolver, detector and
// splitter talk to. Every method takes a bun.IDB so callers can thread a
// transaction; passing the root *bun.DB runs the statement standalone.
type AthleteStore interface {
	// FindByExternalID returns every athlete carrying the id in its primary
	// slot. More than one row is an integrity violation the resolver has to
	// cope with, so the slice shape is deliberate.
	FindByExternalID(ctx context.Context, db bun.IDB, id sharedtypes.ExternalID) ([]*Athlete, error)

	// FindByName returns athletes whose display name matches exactly.
	FindByName(ctx context.Context, db bun.IDB, displayName string) ([]*Athlete, error)

	// GetAthlete fetches one athlete by id, ErrNotFound when absent.
	GetAthlete(ctx context.Context, db bun.IDB, id sharedtypes.AthleteID) (*Athlete, error)

	// CreateAthlete inserts a new athlete, populating its ID. Returns
	// ErrUniqueViolation when the external id is already taken.
	CreateAthlete(ctx context.Context, db bun.IDB, athlete *Athlete) error

	// UpdateAthlete applies enrichment fields to one athlete. Returns
	// ErrUniqueViolation when an external id write collides and
	// ErrNoRowsAffected when the athlete is gone.
	UpdateAthlete(ctx context.Context, db bun.IDB, id sharedtypes.AthleteID, fields *AthleteUpdateFields) error

	// ListResults returns an athlete's results ordered by event date.
	ListResults(ctx context.Context, db bun.IDB, athleteID sharedtypes.AthleteID) ([]*ResultRecord, error)

	// CreateResult inserts a result row. Returns ErrUniqueViolation on a
	// (meet, athlete, weight class) collision.
	CreateResult(ctx context.Context, db bun.IDB, result *ResultRecord) error

	// ReassignResult moves a result to a different athlete. Returns
	// ErrUniqueViolation when the target already owns a result for the same
	// meet and weight class.
	ReassignResult(ctx context.Context, db bun.IDB, resultID sharedtypes.ResultID, newAthleteID sharedtypes.AthleteID) error

	// DeleteResult removes a result row.
	DeleteResult(ctx context.Context, db bun.IDB, resultID sharedtypes.ResultID) error

	// DeleteAthleteIfEmpty removes an athlete only when it owns zero
	// results, reporting whether a delete happened.
	DeleteAthleteIfEmpty(ctx context.Context, db bun.IDB, id sharedtypes.AthleteID) (bool, error)

	// ListNameGroups returns display names shared by at least minMembers
	// athletes, the duplicate detector's input.
	ListNameGroups(ctx context.Context, db bun.IDB, minMembers int) ([]NameGroup, error)

	// CreateOrphans persists the splitter's unassignable results.
	CreateOrphans(ctx context.Context, db bun.IDB, orphans []*OrphanResult) error

	// ListOrphans returns the orphans recorded by one repair run.
	ListOrphans(ctx context.Context, db bun.IDB, runID uuid.UUID) ([]*OrphanResult, error)
}
