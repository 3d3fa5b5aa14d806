package athletedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	sharedtypes "github.com/liftroster/rostersync/app/shared/types"
)

// AthleteStoreImpl is the bun-backed AthleteStore.
type AthleteStoreImpl struct{}

var _ AthleteStore = (*AthleteStoreImpl)(nil)

// NewAthleteStore creates the Postgres-backed store.
func NewAthleteStore() *AthleteStoreImpl {
	return &AthleteStoreImpl{}
}

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C') == "23505"
	}
	return false
}

func (s *AthleteStoreImpl) FindByExternalID(ctx context.Context, db bun.IDB, id sharedtypes.ExternalID) ([]*Athlete, error) {
	var athletes []*Athlete
	err := db.NewSelect().
		Model(&athletes).
		Where("a.external_id = ?", id).
		Order("a.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query athletes by external id: %w", err)
	}
	return athletes, nil
}

func (s *AthleteStoreImpl) FindByName(ctx context.Context, db bun.IDB, displayName string) ([]*Athlete, error) {
	var athletes []*Athlete
	err := db.NewSelect().
		Model(&athletes).
		Where("a.display_name = ?", displayName).
		Order("a.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query athletes by name: %w", err)
	}
	return athletes, nil
}

func (s *AthleteStoreImpl) GetAthlete(ctx context.Context, db bun.IDB, id sharedtypes.AthleteID) (*Athlete, error) {
	athlete := &Athlete{}
	err := db.NewSelect().Model(athlete).Where("a.id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get athlete %d: %w", id, err)
	}
	return athlete, nil
}

func (s *AthleteStoreImpl) CreateAthlete(ctx context.Context, db bun.IDB, athlete *Athlete) error {
	if athlete.CreatedAt.IsZero() {
		athlete.CreatedAt = time.Now().UTC()
	}
	athlete.UpdatedAt = athlete.CreatedAt

	_, err := db.NewInsert().Model(athlete).Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUniqueViolation
		}
		return fmt.Errorf("failed to create athlete: %w", err)
	}
	return nil
}

func (s *AthleteStoreImpl) UpdateAthlete(ctx context.Context, db bun.IDB, id sharedtypes.AthleteID, fields *AthleteUpdateFields) error {
	if fields == nil || fields.IsEmpty() {
		return nil
	}

	q := db.NewUpdate().
		Model((*Athlete)(nil)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id)

	if fields.ExternalID != nil {
		q = q.Set("external_id = ?", *fields.ExternalID)
	}
	if fields.ExtraExternalIDs != nil {
		q = q.Set("extra_external_ids = ?", pgdialect.Array(fields.ExtraExternalIDs))
	}
	if fields.MembershipNumber != nil {
		q = q.Set("membership_no = ?", *fields.MembershipNumber)
	}
	if fields.Club != nil {
		q = q.Set("club = ?", *fields.Club)
	}
	if fields.Region != nil {
		q = q.Set("region = ?", *fields.Region)
	}
	if fields.Gender != nil {
		q = q.Set("gender = ?", *fields.Gender)
	}
	if fields.Age != nil {
		q = q.Set("age = ?", *fields.Age)
	}
	if fields.Rank != nil {
		q = q.Set("rank = ?", *fields.Rank)
	}

	result, err := q.Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUniqueViolation
		}
		return fmt.Errorf("failed to update athlete %d: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected after update: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNoRowsAffected
	}
	return nil
}

func (s *AthleteStoreImpl) ListResults(ctx context.Context, db bun.IDB, athleteID sharedtypes.AthleteID) ([]*ResultRecord, error) {
	var records []*ResultRecord
	err := db.NewSelect().
		Model(&records).
		Where("rr.athlete_id = ?", athleteID).
		Order("rr.event_date ASC", "rr.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list results for athlete %d: %w", athleteID, err)
	}
	return records, nil
}

func (s *AthleteStoreImpl) CreateResult(ctx context.Context, db bun.IDB, result *ResultRecord) error {
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}

	_, err := db.NewInsert().Model(result).Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUniqueViolation
		}
		return fmt.Errorf("failed to create result: %w", err)
	}
	return nil
}

func (s *AthleteStoreImpl) ReassignResult(ctx context.Context, db bun.IDB, resultID sharedtypes.ResultID, newAthleteID sharedtypes.AthleteID) error {
	result, err := db.NewUpdate().
		Model((*ResultRecord)(nil)).
		Set("athlete_id = ?", newAthleteID).
		Where("id = ?", resultID).
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUniqueViolation
		}
		return fmt.Errorf("failed to reassign result %d: %w", resultID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected after reassign: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNoRowsAffected
	}
	return nil
}

func (s *AthleteStoreImpl) DeleteResult(ctx context.Context, db bun.IDB, resultID sharedtypes.ResultID) error {
	result, err := db.NewDelete().
		Model((*ResultRecord)(nil)).
		Where("id = ?", resultID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete result %d: %w", resultID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected after delete: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNoRowsAffected
	}
	return nil
}

func (s *AthleteStoreImpl) DeleteAthleteIfEmpty(ctx context.Context, db bun.IDB, id sharedtypes.AthleteID) (bool, error) {
	result, err := db.NewDelete().
		Model((*Athlete)(nil)).
		Where("id = ?", id).
		Where("NOT EXISTS (SELECT 1 FROM result_records rr WHERE rr.athlete_id = ?)", id).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to delete athlete %d: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected after delete: %w", err)
	}
	return rowsAffected > 0, nil
}

func (s *AthleteStoreImpl) ListNameGroups(ctx context.Context, db bun.IDB, minMembers int) ([]NameGroup, error) {
	if minMembers < 2 {
		minMembers = 2
	}

	var groups []NameGroup
	err := db.NewSelect().
		Model((*Athlete)(nil)).
		ColumnExpr("a.display_name").
		ColumnExpr("array_agg(a.id ORDER BY a.id) AS athlete_ids").
		GroupExpr("a.display_name").
		Having("COUNT(*) >= ?", minMembers).
		Order("display_name ASC").
		Scan(ctx, &groups)
	if err != nil {
		return nil, fmt.Errorf("failed to list name groups: %w", err)
	}
	return groups, nil
}

func (s *AthleteStoreImpl) CreateOrphans(ctx context.Context, db bun.IDB, orphans []*OrphanResult) error {
	if len(orphans) == 0 {
		return nil
	}
	_, err := db.NewInsert().Model(&orphans).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to persist orphan results: %w", err)
	}
	return nil
}

func (s *AthleteStoreImpl) ListOrphans(ctx context.Context, db bun.IDB, runID uuid.UUID) ([]*OrphanResult, error) {
	var orphans []*OrphanResult
	err := db.NewSelect().
		Model(&orphans).
		Where("orph.run_id = ?", runID).
		Order("orph.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list orphan results: %w", err)
	}
	return orphans, nil
}
