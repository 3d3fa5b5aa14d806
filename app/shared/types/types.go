package sharedtypes

import (
	"fmt"
	"time"
)

// AthleteID is the store-assigned identifier for a canonical athlete record.
type AthleteID int64

func (id AthleteID) String() string {
	return fmt.Sprintf("%d", id)
}

// ExternalID is the source site's own numeric identifier for a member
// profile. Strongest available identity signal, not always present.
type ExternalID int64

func (id ExternalID) String() string {
	return fmt.Sprintf("%d", id)
}

// ResultID identifies one competition result row.
type ResultID int64

// MeetID identifies a meet on the source site.
type MeetID string

// MembershipNumber is the federation membership number, when known.
type MembershipNumber string

// Gender as reported by the rankings pages.
type Gender string

const (
	GenderMale   Gender = "M"
	GenderFemale Gender = "F"
)

// AgeCategory is the competition age bracket as scraped (e.g. "Senior",
// "Junior 17", "Masters 45-49"). Treated as an approximation upstream.
type AgeCategory string

// Senior is the open division; always the final fallback when walking
// adjacent age categories.
const AgeCategorySenior AgeCategory = "Senior"

// Kg is a weight in kilograms (bodyweight or barbell).
type Kg float64

// Division is a rankings-page bucket: one age category and weight class.
type Division struct {
	AgeCategory      AgeCategory `json:"age_category"`
	WeightClassLabel string      `json:"weight_class_label"`
}

func (d Division) String() string {
	return string(d.AgeCategory) + "/" + d.WeightClassLabel
}

// DateWindow is an inclusive date range.
type DateWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window.
func (w DateWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}
