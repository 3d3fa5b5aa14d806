package athletedb

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	sharedtypes "github.com/liftroster/rostersync/app/shared/types"
)

// Athlete is one canonical identity in the roster (source of truth).
// ExternalID is the source site's member id; ExtraExternalIDs holds the
// additional ids a contaminated record accumulated through earlier scraping
// defects — a non-empty slice marks the record for the splitter.
type Athlete struct {
	bun.BaseModel `bun:"table:athletes,alias:a"`

	ID               sharedtypes.AthleteID         `bun:"id,pk,autoincrement" json:"id"`
	DisplayName      string                        `bun:"display_name,notnull" json:"display_name"`
	ExternalID       *sharedtypes.ExternalID       `bun:"external_id,unique,nullzero" json:"external_id,omitempty"`
	ExtraExternalIDs []int64                       `bun:"extra_external_ids,array" json:"extra_external_ids,omitempty"`
	MembershipNumber *sharedtypes.MembershipNumber `bun:"membership_no,nullzero" json:"membership_no,omitempty"`

	// Enrichment fields captured during disambiguation.
	Club   *string             `bun:"club,nullzero" json:"club,omitempty"`
	Region *string             `bun:"region,nullzero" json:"region,omitempty"`
	Gender *sharedtypes.Gender `bun:"gender,nullzero" json:"gender,omitempty"`
	Age    *int                `bun:"age,nullzero" json:"age,omitempty"`
	Rank   *int                `bun:"rank,nullzero" json:"rank,omitempty"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`

	// ORM relationships
	Results []*ResultRecord `bun:"rel:has-many,join:id=athlete_id" json:"-"`
}

// ExternalIDs returns every external id attached to the record, primary
// slot first.
func (a *Athlete) ExternalIDs() []sharedtypes.ExternalID {
	var ids []sharedtypes.ExternalID
	if a.ExternalID != nil {
		ids = append(ids, *a.ExternalID)
	}
	for _, id := range a.ExtraExternalIDs {
		ids = append(ids, sharedtypes.ExternalID(id))
	}
	return ids
}

// IsContaminated reports whether the record carries more than one external
// id and therefore conflates multiple real people.
func (a *Athlete) IsContaminated() bool {
	return len(a.ExternalIDs()) > 1
}

// ResultRecord is one competition result owned by exactly one athlete.
// Missed attempts are stored negative, the site's convention. At most one
// result per (meet, athlete, weight class).
type ResultRecord struct {
	bun.BaseModel `bun:"table:result_records,alias:rr"`

	ID               sharedtypes.ResultID    `bun:"id,pk,autoincrement" json:"id"`
	AthleteID        sharedtypes.AthleteID   `bun:"athlete_id,notnull" json:"athlete_id"`
	MeetID           sharedtypes.MeetID      `bun:"meet_id,notnull" json:"meet_id"`
	MeetName         string                  `bun:"meet_name,notnull" json:"meet_name"`
	EventDate        time.Time               `bun:"event_date,notnull" json:"event_date"`
	AgeCategory      sharedtypes.AgeCategory `bun:"age_category,nullzero" json:"age_category,omitempty"`
	WeightClassLabel string                  `bun:"weight_class_label,notnull" json:"weight_class_label"`
	BodyweightKg     float64                 `bun:"bodyweight_kg" json:"bodyweight_kg"`

	Snatch1 float64 `bun:"snatch1" json:"snatch1"`
	Snatch2 float64 `bun:"snatch2" json:"snatch2"`
	Snatch3 float64 `bun:"snatch3" json:"snatch3"`
	CJ1     float64 `bun:"cj1" json:"cj1"`
	CJ2     float64 `bun:"cj2" json:"cj2"`
	CJ3     float64 `bun:"cj3" json:"cj3"`

	BestSnatch float64 `bun:"best_snatch" json:"best_snatch"`
	BestCJ     float64 `bun:"best_cj" json:"best_cj"`
	Total      float64 `bun:"total" json:"total"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`

	// ORM relationships
	Athlete *Athlete `bun:"rel:belongs-to,join:athlete_id=id" json:"-"`
}

// AttemptSignature is the six-attempt fingerprint used by the duplicate
// detector: two athletes posting identical attempt sequences at different
// meets are almost certainly the same person.
func (r *ResultRecord) AttemptSignature() [6]float64 {
	return [6]float64{r.Snatch1, r.Snatch2, r.Snatch3, r.CJ1, r.CJ2, r.CJ3}
}

// OrphanResult is a result the contamination splitter could not uniquely
// assign. Persisted for manual review, never guessed.
type OrphanResult struct {
	bun.BaseModel `bun:"table:orphan_results,alias:orph"`

	ID              int64                 `bun:"id,pk,autoincrement" json:"id"`
	ResultID        sharedtypes.ResultID  `bun:"result_id,notnull" json:"result_id"`
	SourceAthleteID sharedtypes.AthleteID `bun:"source_athlete_id,notnull" json:"source_athlete_id"`
	CandidateIDs    []int64               `bun:"candidate_external_ids,array" json:"candidate_external_ids,omitempty"`
	Reason          string                `bun:"reason,notnull" json:"reason"`
	RunID           uuid.UUID             `bun:"run_id,type:uuid,notnull" json:"run_id"`
	CreatedAt       time.Time             `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// AthleteUpdateFields carries the enrichment writes the resolver is allowed
// to make. Nil fields are left untouched; enrichment only fills, it never
// overwrites a populated column with different data (guards live in the
// service layer).
type AthleteUpdateFields struct {
	ExternalID       *sharedtypes.ExternalID
	ExtraExternalIDs []int64
	MembershipNumber *sharedtypes.MembershipNumber
	Club             *string
	Region           *string
	Gender           *sharedtypes.Gender
	Age              *int
	Rank             *int
}

// IsEmpty reports whether the update would write nothing.
func (f *AthleteUpdateFields) IsEmpty() bool {
	return f.ExternalID == nil &&
		f.ExtraExternalIDs == nil &&
		f.MembershipNumber == nil &&
		f.Club == nil &&
		f.Region == nil &&
		f.Gender == nil &&
		f.Age == nil &&
		f.Rank == nil
}

// NameGroup is one display name shared by two or more athletes, the
// duplicate detector's unit of work.
type NameGroup struct {
	DisplayName string                  `bun:"display_name"`
	AthleteIDs  []sharedtypes.AthleteID `bun:"athlete_ids,array"`
}
