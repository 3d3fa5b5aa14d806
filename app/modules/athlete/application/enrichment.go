package athleteservice

import (
	"context"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	athletedb "github.com/liftroster/rostersync/app/modules/athlete/infrastructure/repositories"
	"github.com/liftroster/rostersync/app/shared/attr"
	sharedtypes "github.com/liftroster/rostersync/app/shared/types"
)

// enrichExternalID writes a newly learned external id onto an athlete that
// has none. The unique constraint arbitrates races: if another row claimed
// the id first, this write is dropped and the athlete left as it was.
func (s *AthleteService) enrichExternalID(ctx context.Context, db bun.IDB, a *athletedb.Athlete, id sharedtypes.ExternalID) error {
	if a.ExternalID != nil {
		if *a.ExternalID != id {
			s.logger.WarnContext(ctx, "External id conflict on enrichment",
				attr.AthleteID("athlete_id", a.ID),
				attr.ExternalID("held_external_id", *a.ExternalID),
				attr.ExternalID("incoming_external_id", id),
			)
		}
		return nil
	}

	err := s.repo.UpdateAthlete(ctx, db, a.ID, &athletedb.AthleteUpdateFields{ExternalID: &id})
	if err != nil {
		if errors.Is(err, athletedb.ErrUniqueViolation) {
			holderID := sharedtypes.AthleteID(0)
			if holders, lookupErr := s.repo.FindByExternalID(ctx, db, id); lookupErr == nil && len(holders) > 0 {
				holderID = holders[0].ID
			}
			s.logger.WarnContext(ctx, "Dropping external id write, id already claimed",
				attr.AthleteID("athlete_id", a.ID),
				attr.AthleteID("holder_id", holderID),
				attr.ExternalID("external_id", id),
				attr.Error(&ConflictError{Field: "external_id", Value: id.String(), HolderID: holderID, TargetID: a.ID}),
			)
			return nil
		}
		return fmt.Errorf("failed to enrich external id: %w", err)
	}

	a.ExternalID = &id
	return nil
}

// enrichFromRanked copies profile attributes off a verified ranking row,
// filling only fields the athlete does not already have.
func (s *AthleteService) enrichFromRanked(ctx context.Context, db bun.IDB, a *athletedb.Athlete, row RankedAthlete) error {
	fields := &athletedb.AthleteUpdateFields{}
	if a.Club == nil && row.Club != nil {
		fields.Club = row.Club
	}
	if a.Region == nil && row.Region != nil {
		fields.Region = row.Region
	}
	if a.Gender == nil && row.Gender != nil {
		fields.Gender = row.Gender
	}
	if a.Age == nil && row.Age != nil {
		fields.Age = row.Age
	}
	if a.Rank == nil && row.Rank != nil {
		fields.Rank = row.Rank
	}
	if fields.IsEmpty() {
		return nil
	}

	if err := s.repo.UpdateAthlete(ctx, db, a.ID, fields); err != nil {
		return fmt.Errorf("failed to enrich athlete from ranking: %w", err)
	}

	if fields.Club != nil {
		a.Club = fields.Club
	}
	if fields.Region != nil {
		a.Region = fields.Region
	}
	if fields.Gender != nil {
		a.Gender = fields.Gender
	}
	if fields.Age != nil {
		a.Age = fields.Age
	}
	if fields.Rank != nil {
		a.Rank = fields.Rank
	}
	return nil
}

// enrichMembership records a membership number recovered from history.
// An existing differing number is kept and the disagreement logged.
func (s *AthleteService) enrichMembership(ctx context.Context, db bun.IDB, a *athletedb.Athlete, no sharedtypes.MembershipNumber) error {
	if a.MembershipNumber != nil {
		if *a.MembershipNumber != no {
			s.logger.WarnContext(ctx, "Membership number disagreement on enrichment",
				attr.AthleteID("athlete_id", a.ID),
				attr.String("held_membership_no", string(*a.MembershipNumber)),
				attr.String("incoming_membership_no", string(no)),
			)
		}
		return nil
	}

	if err := s.repo.UpdateAthlete(ctx, db, a.ID, &athletedb.AthleteUpdateFields{MembershipNumber: &no}); err != nil {
		return fmt.Errorf("failed to enrich membership number: %w", err)
	}
	a.MembershipNumber = &no
	return nil
}
