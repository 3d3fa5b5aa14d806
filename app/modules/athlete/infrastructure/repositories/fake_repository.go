package athletedb

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	sharedtypes "github.com/liftroster/rostersync/app/shared/types"
)

// FakeStore is an in-memory AthleteStore for tests. It enforces the same
// uniqueness invariants the Postgres schema does (external_id on athletes,
// (meet_id, athlete_id, weight_class_label) on results) so service tests
// exercise real conflict paths. Per-method Fn overrides allow targeted
// error injection; when nil the stateful default runs.
type FakeStore struct {
	mu sync.Mutex

	athletes map[sharedtypes.AthleteID]*Athlete
	results  map[sharedtypes.ResultID]*ResultRecord
	orphans  []*OrphanResult

	nextAthleteID sharedtypes.AthleteID
	nextResultID  sharedtypes.ResultID

	CreateAthleteFn  func(ctx context.Context, athlete *Athlete) error
	UpdateAthleteFn  func(ctx context.Context, id sharedtypes.AthleteID, fields *AthleteUpdateFields) error
	ReassignResultFn func(ctx context.Context, resultID sharedtypes.ResultID, newAthleteID sharedtypes.AthleteID) error
}

var _ AthleteStore = (*FakeStore)(nil)

// NewFakeStore creates an empty in-memory store.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		athletes:      make(map[sharedtypes.AthleteID]*Athlete),
		results:       make(map[sharedtypes.ResultID]*ResultRecord),
		nextAthleteID: 1,
		nextResultID:  1,
	}
}

func cloneAthlete(a *Athlete) *Athlete {
	cp := *a
	if a.ExternalID != nil {
		v := *a.ExternalID
		cp.ExternalID = &v
	}
	cp.ExtraExternalIDs = append([]int64(nil), a.ExtraExternalIDs...)
	if a.MembershipNumber != nil {
		v := *a.MembershipNumber
		cp.MembershipNumber = &v
	}
	cp.Results = nil
	return &cp
}

func cloneResult(r *ResultRecord) *ResultRecord {
	cp := *r
	cp.Athlete = nil
	return &cp
}

func (f *FakeStore) externalIDTaken(id sharedtypes.ExternalID, except sharedtypes.AthleteID) bool {
	for _, a := range f.athletes {
		if a.ID == except {
			continue
		}
		if a.ExternalID != nil && *a.ExternalID == id {
			return true
		}
	}
	return false
}

func (f *FakeStore) resultSlotTaken(meetID sharedtypes.MeetID, athleteID sharedtypes.AthleteID, weightClass string, except sharedtypes.ResultID) bool {
	for _, r := range f.results {
		if r.ID == except {
			continue
		}
		if r.MeetID == meetID && r.AthleteID == athleteID && r.WeightClassLabel == weightClass {
			return true
		}
	}
	return false
}

func (f *FakeStore) FindByExternalID(ctx context.Context, _ bun.IDB, id sharedtypes.ExternalID) ([]*Athlete, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*Athlete
	for _, a := range f.athletes {
		if a.ExternalID != nil && *a.ExternalID == id {
			out = append(out, cloneAthlete(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *FakeStore) FindByName(ctx context.Context, _ bun.IDB, displayName string) ([]*Athlete, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*Athlete
	for _, a := range f.athletes {
		if a.DisplayName == displayName {
			out = append(out, cloneAthlete(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *FakeStore) GetAthlete(ctx context.Context, _ bun.IDB, id sharedtypes.AthleteID) (*Athlete, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	a, ok := f.athletes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAthlete(a), nil
}

func (f *FakeStore) CreateAthlete(ctx context.Context, _ bun.IDB, athlete *Athlete) error {
	if f.CreateAthleteFn != nil {
		return f.CreateAthleteFn(ctx, athlete)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if athlete.ExternalID != nil && f.externalIDTaken(*athlete.ExternalID, 0) {
		return ErrUniqueViolation
	}

	athlete.ID = f.nextAthleteID
	f.nextAthleteID++
	if athlete.CreatedAt.IsZero() {
		athlete.CreatedAt = time.Now().UTC()
	}
	athlete.UpdatedAt = athlete.CreatedAt
	f.athletes[athlete.ID] = cloneAthlete(athlete)
	return nil
}

func (f *FakeStore) UpdateAthlete(ctx context.Context, _ bun.IDB, id sharedtypes.AthleteID, fields *AthleteUpdateFields) error {
	if f.UpdateAthleteFn != nil {
		return f.UpdateAthleteFn(ctx, id, fields)
	}
	if fields == nil || fields.IsEmpty() {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	a, ok := f.athletes[id]
	if !ok {
		return ErrNoRowsAffected
	}

	if fields.ExternalID != nil && f.externalIDTaken(*fields.ExternalID, id) {
		return ErrUniqueViolation
	}

	if fields.ExternalID != nil {
		v := *fields.ExternalID
		a.ExternalID = &v
	}
	if fields.ExtraExternalIDs != nil {
		a.ExtraExternalIDs = append([]int64(nil), fields.ExtraExternalIDs...)
	}
	if fields.MembershipNumber != nil {
		v := *fields.MembershipNumber
		a.MembershipNumber = &v
	}
	if fields.Club != nil {
		v := *fields.Club
		a.Club = &v
	}
	if fields.Region != nil {
		v := *fields.Region
		a.Region = &v
	}
	if fields.Gender != nil {
		v := *fields.Gender
		a.Gender = &v
	}
	if fields.Age != nil {
		v := *fields.Age
		a.Age = &v
	}
	if fields.Rank != nil {
		v := *fields.Rank
		a.Rank = &v
	}
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *FakeStore) ListResults(ctx context.Context, _ bun.IDB, athleteID sharedtypes.AthleteID) ([]*ResultRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*ResultRecord
	for _, r := range f.results {
		if r.AthleteID == athleteID {
			out = append(out, cloneResult(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EventDate.Equal(out[j].EventDate) {
			return out[i].EventDate.Before(out[j].EventDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f *FakeStore) CreateResult(ctx context.Context, _ bun.IDB, result *ResultRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.resultSlotTaken(result.MeetID, result.AthleteID, result.WeightClassLabel, 0) {
		return ErrUniqueViolation
	}

	result.ID = f.nextResultID
	f.nextResultID++
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}
	f.results[result.ID] = cloneResult(result)
	return nil
}

func (f *FakeStore) ReassignResult(ctx context.Context, _ bun.IDB, resultID sharedtypes.ResultID, newAthleteID sharedtypes.AthleteID) error {
	if f.ReassignResultFn != nil {
		return f.ReassignResultFn(ctx, resultID, newAthleteID)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	r, ok := f.results[resultID]
	if !ok {
		return ErrNoRowsAffected
	}
	if f.resultSlotTaken(r.MeetID, newAthleteID, r.WeightClassLabel, resultID) {
		return ErrUniqueViolation
	}
	r.AthleteID = newAthleteID
	return nil
}

func (f *FakeStore) DeleteResult(ctx context.Context, _ bun.IDB, resultID sharedtypes.ResultID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.results[resultID]; !ok {
		return ErrNoRowsAffected
	}
	delete(f.results, resultID)
	return nil
}

func (f *FakeStore) DeleteAthleteIfEmpty(ctx context.Context, _ bun.IDB, id sharedtypes.AthleteID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.athletes[id]; !ok {
		return false, nil
	}
	for _, r := range f.results {
		if r.AthleteID == id {
			return false, nil
		}
	}
	delete(f.athletes, id)
	return true, nil
}

func (f *FakeStore) ListNameGroups(ctx context.Context, _ bun.IDB, minMembers int) ([]NameGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if minMembers < 2 {
		minMembers = 2
	}

	byName := make(map[string][]sharedtypes.AthleteID)
	for _, a := range f.athletes {
		byName[a.DisplayName] = append(byName[a.DisplayName], a.ID)
	}

	var groups []NameGroup
	for name, ids := range byName {
		if len(ids) < minMembers {
			continue
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		groups = append(groups, NameGroup{DisplayName: name, AthleteIDs: ids})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].DisplayName < groups[j].DisplayName })
	return groups, nil
}

func (f *FakeStore) CreateOrphans(ctx context.Context, _ bun.IDB, orphans []*OrphanResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, o := range orphans {
		cp := *o
		f.orphans = append(f.orphans, &cp)
	}
	return nil
}

func (f *FakeStore) ListOrphans(ctx context.Context, _ bun.IDB, runID uuid.UUID) ([]*OrphanResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*OrphanResult
	for _, o := range f.orphans {
		if o.RunID == runID {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

// AllOrphans returns every persisted orphan regardless of run. Test helper.
func (f *FakeStore) AllOrphans() []*OrphanResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]*OrphanResult, 0, len(f.orphans))
	for _, o := range f.orphans {
		cp := *o
		out = append(out, &cp)
	}
	return out
}

// AthleteCount returns the number of live athletes. Test helper.
func (f *FakeStore) AthleteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.athletes)
}

// AllResults returns every result row. Test helper.
func (f *FakeStore) AllResults() []*ResultRecord {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]*ResultRecord, 0, len(f.results))
	for _, r := range f.results {
		out = append(out, cloneResult(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
