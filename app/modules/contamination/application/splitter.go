package contaminationservice

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	athleteservice "github.com/liftroster/rostersync/app/modules/athlete/application"
	athletedb "github.com/liftroster/rostersync/app/modules/athlete/infrastructure/repositories"
	contaminationevents "github.com/liftroster/rostersync/app/modules/contamination/domain/events"
	"github.com/liftroster/rostersync/app/shared/attr"
	"github.com/liftroster/rostersync/app/shared/results"
	sharedtypes "github.com/liftroster/rostersync/app/shared/types"
)

// ErrNotContaminated is returned when the target athlete carries at most
// one external id and there is nothing to split.
var ErrNotContaminated = errors.New("athlete carries at most one external id")

// Match failure causes carried inside an OrphanResultError and persisted as
// the orphan row's reason.
var (
	ErrNoHistoryMatch        = errors.New("no identity history matches")
	ErrAmbiguousHistoryMatch = errors.New("multiple identity histories match")
)

// RepairSummary is the splitter's output: counts per outcome plus the full
// orphan list for manual review.
type RepairSummary struct {
	RunID           uuid.UUID
	SourceAthleteID sharedtypes.AthleteID
	NewAthletes     []sharedtypes.AthleteID
	Kept            int
	Reassigned      int
	DeletedLosers   int
	Orphans         []*athletedb.OrphanResult
	PhantomsRemoved int
}

// identitySlot is one external id being carved out of the contaminated
// record, with its authoritative history.
type identitySlot struct {
	externalID sharedtypes.ExternalID
	entries    []athleteservice.HistoryEntry

	// target is resolved lazily: nil until the first record assigns here.
	// A prior partial run may have created it already.
	target *athletedb.Athlete
}

// RepairContamination partitions a conflated athlete's results across the
// real identities behind its external ids. The first id stays on the
// existing record; every further id gets its own athlete. Results that
// cannot be matched to exactly one identity are persisted as orphans,
// never guessed.
func (s *ContaminationService) RepairContamination(ctx context.Context, athleteID sharedtypes.AthleteID) (results.OperationResult[*RepairSummary, error], error) {
	return withTelemetry(s, ctx, "RepairContamination", athleteID, func(ctx context.Context) (results.OperationResult[*RepairSummary, error], error) {
		lock := s.athleteLock(athleteID)
		lock.Lock()
		defer lock.Unlock()

		return s.executeRepair(ctx, s.db, athleteID)
	})
}

func (s *ContaminationService) executeRepair(ctx context.Context, db bun.IDB, athleteID sharedtypes.AthleteID) (results.OperationResult[*RepairSummary, error], error) {
	source, err := s.repo.GetAthlete(ctx, db, athleteID)
	if err != nil {
		return results.OperationResult[*RepairSummary, error]{}, err
	}

	ids := source.ExternalIDs()
	if len(ids) < 2 {
		return results.FailureResult[*RepairSummary](error(ErrNotContaminated)), nil
	}

	summary := &RepairSummary{
		RunID:           uuid.New(),
		SourceAthleteID: source.ID,
	}

	slots := make([]*identitySlot, 0, len(ids))
	for _, id := range ids {
		entries, err := s.history.History(ctx, id)
		if err != nil {
			// Without the authoritative history the partition cannot be
			// decided for any record. Abort before mutating anything.
			return results.OperationResult[*RepairSummary, error]{}, err
		}
		slots = append(slots, &identitySlot{externalID: id, entries: entries})
	}
	slots[0].target = source

	// A prior partial run may already have carved some identities out.
	for _, slot := range slots[1:] {
		holders, err := s.repo.FindByExternalID(ctx, db, slot.externalID)
		if err != nil {
			return results.OperationResult[*RepairSummary, error]{}, err
		}
		for _, h := range holders {
			if h.ID != source.ID {
				slot.target = h
				break
			}
		}
	}

	records, err := s.repo.ListResults(ctx, db, source.ID)
	if err != nil {
		return results.OperationResult[*RepairSummary, error]{}, err
	}

	for _, record := range records {
		matched := s.matchRecord(record, slots)

		if len(matched) != 1 {
			cause := ErrNoHistoryMatch
			if len(matched) > 1 {
				cause = ErrAmbiguousHistoryMatch
			}
			orphanErr := &athleteservice.OrphanResultError{
				ResultID:        record.ID,
				SourceAthleteID: source.ID,
				Err:             cause,
			}
			s.logger.WarnContext(ctx, "Result orphaned, ownership not guessed",
				attr.ExtractCorrelationID(ctx),
				attr.Error(orphanErr),
			)
			summary.Orphans = append(summary.Orphans, &athletedb.OrphanResult{
				ResultID:        record.ID,
				SourceAthleteID: source.ID,
				CandidateIDs:    candidateIDs(matched),
				Reason:          cause.Error(),
				RunID:           summary.RunID,
			})
			continue
		}

		slot := matched[0]
		if slot == slots[0] {
			summary.Kept++
			continue
		}

		if slot.target == nil {
			created, err := s.createIdentity(ctx, db, source, slot)
			if err != nil {
				return results.OperationResult[*RepairSummary, error]{}, err
			}
			slot.target = created
			summary.NewAthletes = append(summary.NewAthletes, created.ID)
		}

		err := s.repo.ReassignResult(ctx, db, record.ID, slot.target.ID)
		switch {
		case err == nil:
			summary.Reassigned++
		case errors.Is(err, athletedb.ErrUniqueViolation):
			// The target already owns a result for this meet and class,
			// so this copy is redundant. Delete it rather than abort.
			s.logger.WarnContext(ctx, "Deleting redundant result on reassignment conflict",
				attr.Int64("result_id", int64(record.ID)),
				attr.AthleteID("target_id", slot.target.ID),
				attr.String("meet_id", string(record.MeetID)),
			)
			if err := s.repo.DeleteResult(ctx, db, record.ID); err != nil {
				return results.OperationResult[*RepairSummary, error]{}, err
			}
			summary.DeletedLosers++
		default:
			return results.OperationResult[*RepairSummary, error]{}, err
		}
	}

	if len(summary.Orphans) > 0 {
		if err := s.repo.CreateOrphans(ctx, db, summary.Orphans); err != nil {
			return results.OperationResult[*RepairSummary, error]{}, err
		}
	}

	// The carved-out ids no longer belong on the source record.
	if len(source.ExtraExternalIDs) > 0 {
		err := s.repo.UpdateAthlete(ctx, db, source.ID, &athletedb.AthleteUpdateFields{
			ExtraExternalIDs: []int64{},
		})
		if err != nil {
			return results.OperationResult[*RepairSummary, error]{}, err
		}
	}

	// Phantom cleanup: the source had results before the run, so if every
	// one moved away the husk is deleted.
	if len(records) > 0 {
		deleted, err := s.repo.DeleteAthleteIfEmpty(ctx, db, source.ID)
		if err != nil {
			return results.OperationResult[*RepairSummary, error]{}, err
		}
		if deleted {
			summary.PhantomsRemoved++
		}
	}

	s.logger.InfoContext(ctx, "Contamination repair finished",
		attr.AthleteID("source_id", source.ID),
		attr.UUIDValue("run_id", summary.RunID),
		attr.Int("kept", summary.Kept),
		attr.Int("reassigned", summary.Reassigned),
		attr.Int("new_athletes", len(summary.NewAthletes)),
		attr.Int("orphaned", len(summary.Orphans)),
		attr.Int("deleted_losers", summary.DeletedLosers),
	)
	s.publishEvent(ctx, contaminationevents.RepairCompleted, &contaminationevents.RepairCompletedPayload{
		CorrelationID:   attr.CorrelationIDFromContext(ctx),
		SourceAthleteID: source.ID,
		NewAthletes:     len(summary.NewAthletes),
		Reassigned:      summary.Reassigned,
		Orphaned:        len(summary.Orphans),
	})

	return results.SuccessResult[*RepairSummary, error](summary), nil
}

// matchRecord returns every identity whose authoritative history contains
// an exact match for the record.
func (s *ContaminationService) matchRecord(record *athletedb.ResultRecord, slots []*identitySlot) []*identitySlot {
	var matched []*identitySlot
	for _, slot := range slots {
		for _, entry := range slot.entries {
			if s.entryMatches(record, entry) {
				matched = append(matched, slot)
				break
			}
		}
	}
	return matched
}

// entryMatches requires the exact meet day and name, bodyweight within the
// split tolerance, and sign-stripped best lifts agreeing exactly. Missed
// attempts are stored negative on our side; the history reports magnitudes.
func (s *ContaminationService) entryMatches(record *athletedb.ResultRecord, entry athleteservice.HistoryEntry) bool {
	if !sameDay(record.EventDate, entry.Date) {
		return false
	}
	if !strings.EqualFold(strings.TrimSpace(record.MeetName), strings.TrimSpace(entry.MeetName)) {
		return false
	}
	if entry.Bodyweight != nil && record.BodyweightKg > 0 {
		if math.Abs(*entry.Bodyweight-float64(record.BodyweightKg)) > s.bodyweightTolerance {
			return false
		}
	}
	return liftEquals(record.BestSnatch, entry.Snatch) &&
		liftEquals(record.BestCJ, entry.CJ) &&
		liftEquals(record.Total, entry.Total)
}

func liftEquals(recorded float64, authoritative *float64) bool {
	if authoritative == nil {
		return false
	}
	return math.Abs(math.Abs(recorded)-math.Abs(*authoritative)) < 1e-6
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func candidateIDs(matched []*identitySlot) []int64 {
	var out []int64
	for _, slot := range matched {
		out = append(out, int64(slot.externalID))
	}
	return out
}

// createIdentity materializes a new athlete for one carved-out external
// id, propagating the membership number when the history carries one.
func (s *ContaminationService) createIdentity(ctx context.Context, db bun.IDB, source *athletedb.Athlete, slot *identitySlot) (*athletedb.Athlete, error) {
	athlete := &athletedb.Athlete{
		DisplayName: source.DisplayName,
		ExternalID:  &slot.externalID,
	}
	for _, entry := range slot.entries {
		if entry.MembershipNumber != nil {
			athlete.MembershipNumber = entry.MembershipNumber
			break
		}
	}

	if err := s.repo.CreateAthlete(ctx, db, athlete); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "Created carved-out identity",
		attr.AthleteID("athlete_id", athlete.ID),
		attr.ExternalID("external_id", slot.externalID),
		attr.String("display_name", athlete.DisplayName),
	)
	return athlete, nil
}
