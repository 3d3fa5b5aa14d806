// Package weightclass derives era-correct weight-class labels from
// bodyweight, age category and event date. It is a secondary signal for
// identity resolution, never ground truth over scraped data: the scraped
// label wins whenever both exist.
package weightclass

import (
	"errors"
	"fmt"
	"strings"
	"time"

	sharedtypes "github.com/liftroster/rostersync/app/shared/types"
)

// ErrUnknownDivision is returned when no boundary table covers the
// requested era/age-group/gender combination.
var ErrUnknownDivision = errors.New("weightclass: no boundary table for division")

// Era of the federation's weight-class rules. Classes were redrawn twice;
// results before and after a cutover use different label sets.
type Era int

const (
	EraLegacy Era = iota // before 1998-01-01
	Era1998              // 1998-01-01 .. 2018-10-31
	Era2018              // 2018-11-01 onward
)

var (
	cutover1998 = time.Date(1998, time.January, 1, 0, 0, 0, 0, time.UTC)
	cutover2018 = time.Date(2018, time.November, 1, 0, 0, 0, 0, time.UTC)
)

// EraFor selects the rule era in force on the event date.
func EraFor(eventDate time.Time) Era {
	switch {
	case eventDate.Before(cutover1998):
		return EraLegacy
	case eventDate.Before(cutover2018):
		return Era1998
	default:
		return Era2018
	}
}

// AgeGroup is the coarse bracket the boundary tables are keyed by. Masters
// lift in senior classes, so masters categories map to senior here.
type AgeGroup int

const (
	AgeGroupYouth AgeGroup = iota
	AgeGroupJunior
	AgeGroupSenior
)

type tableKey struct {
	era    Era
	group  AgeGroup
	gender sharedtypes.Gender
}

// Boundary weights in ascending order. The last entry is the lower bound of
// the open top class, labeled with a "+" prefix.
var boundaries = map[tableKey][]float64{
	{EraLegacy, AgeGroupSenior, sharedtypes.GenderMale}:   {54, 59, 64, 70, 76, 83, 91, 99, 108},
	{EraLegacy, AgeGroupSenior, sharedtypes.GenderFemale}: {46, 50, 54, 59, 64, 70, 76, 83},

	{Era1998, AgeGroupSenior, sharedtypes.GenderMale}:   {56, 62, 69, 77, 85, 94, 105},
	{Era1998, AgeGroupSenior, sharedtypes.GenderFemale}: {48, 53, 58, 63, 69, 75},
	{Era1998, AgeGroupYouth, sharedtypes.GenderMale}:    {50, 56, 62, 69, 77, 85, 94},
	{Era1998, AgeGroupYouth, sharedtypes.GenderFemale}:  {44, 48, 53, 58, 63, 69},

	{Era2018, AgeGroupSenior, sharedtypes.GenderMale}:   {55, 61, 67, 73, 81, 89, 96, 102, 109},
	{Era2018, AgeGroupSenior, sharedtypes.GenderFemale}: {45, 49, 55, 59, 64, 71, 76, 81, 87},
	{Era2018, AgeGroupYouth, sharedtypes.GenderMale}:    {49, 55, 61, 67, 73, 81, 89, 96, 102},
	{Era2018, AgeGroupYouth, sharedtypes.GenderFemale}:  {40, 45, 49, 55, 59, 64, 71, 76, 81},
}

func init() {
	// Juniors lift in senior classes in every era.
	for _, era := range []Era{EraLegacy, Era1998, Era2018} {
		for _, g := range []sharedtypes.Gender{sharedtypes.GenderMale, sharedtypes.GenderFemale} {
			if b, ok := boundaries[tableKey{era, AgeGroupSenior, g}]; ok {
				boundaries[tableKey{era, AgeGroupJunior, g}] = b
			}
		}
	}
}

// Classify returns the weight-class label for a lifter of the given
// bodyweight competing in ageCategory on eventDate, e.g. "94kg" or "+94kg".
// Gender is read off the age category string the way the source site writes
// it (a leading "W"/"Women"/"F" marks women's divisions).
func Classify(ageCategory sharedtypes.AgeCategory, bodyweightKg sharedtypes.Kg, eventDate time.Time) (string, error) {
	if bodyweightKg <= 0 {
		return "", fmt.Errorf("weightclass: bodyweight %.2f out of range", float64(bodyweightKg))
	}

	key := tableKey{
		era:    EraFor(eventDate),
		group:  GroupFor(ageCategory),
		gender: GenderFor(ageCategory),
	}

	bounds, ok := boundaries[key]
	if !ok {
		return "", fmt.Errorf("%w: %v", ErrUnknownDivision, key)
	}

	bw := float64(bodyweightKg)
	for _, b := range bounds {
		if bw <= b {
			return formatLabel(b, false), nil
		}
	}
	return formatLabel(bounds[len(bounds)-1], true), nil
}

// GroupFor maps a scraped age category onto the bracket its boundary table
// is keyed by.
func GroupFor(cat sharedtypes.AgeCategory) AgeGroup {
	c := strings.ToLower(string(cat))
	switch {
	case strings.Contains(c, "youth"), strings.Contains(c, "u15"), strings.Contains(c, "u17"):
		return AgeGroupYouth
	case strings.Contains(c, "junior"), strings.Contains(c, "u20"), strings.Contains(c, "u23"):
		return AgeGroupJunior
	default:
		return AgeGroupSenior
	}
}

// GenderFor reads the gender marker off a scraped age category. Categories
// without a marker are men's divisions on the source site.
func GenderFor(cat sharedtypes.AgeCategory) sharedtypes.Gender {
	c := strings.ToLower(strings.TrimSpace(string(cat)))
	if strings.HasPrefix(c, "w") || strings.HasPrefix(c, "f") || strings.Contains(c, "women") {
		return sharedtypes.GenderFemale
	}
	return sharedtypes.GenderMale
}

func formatLabel(bound float64, open bool) string {
	label := fmt.Sprintf("%gkg", bound)
	if open {
		return "+" + label
	}
	return label
}
