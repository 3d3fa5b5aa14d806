package weightclass

import (
	"errors"
	"testing"
	"time"

	sharedtypes "github.com/liftroster/rostersync/app/shared/types"
)

func date(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		cat        sharedtypes.AgeCategory
		bodyweight sharedtypes.Kg
		date       time.Time
		want       string
	}{
		{"senior men mid class 1998 era", "Senior", 92.4, date(2015, 6, 1), "94kg"},
		{"senior men exact boundary", "Senior", 94.0, date(2015, 6, 1), "94kg"},
		{"senior men open class 1998 era", "Senior", 112.3, date(2015, 6, 1), "+105kg"},
		{"senior men 2018 era same bodyweight", "Senior", 92.4, date(2019, 3, 10), "96kg"},
		{"cutover day uses new classes", "Senior", 92.4, date(2018, 11, 1), "96kg"},
		{"day before cutover uses old classes", "Senior", 92.4, date(2018, 10, 31), "94kg"},
		{"legacy era men", "Senior", 89.9, date(1996, 5, 20), "91kg"},
		{"senior women 1998 era", "Women Senior", 68.2, date(2010, 4, 4), "69kg"},
		{"senior women open class 2018 era", "W Senior", 93.5, date(2022, 8, 15), "+87kg"},
		{"junior lifts senior classes", "Junior", 76.8, date(2020, 2, 2), "81kg"},
		{"youth has its own table", "Youth", 50.2, date(2020, 2, 2), "55kg"},
		{"masters maps to senior classes", "Masters 45-49", 84.0, date(2021, 9, 9), "89kg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.cat, tt.bodyweight, tt.date)
			if err != nil {
				t.Fatalf("Classify() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Classify(%q, %.1f, %s) = %q, want %q", tt.cat, float64(tt.bodyweight), tt.date.Format("2006-01-02"), got, tt.want)
			}
		})
	}
}

func TestClassifyInvalidBodyweight(t *testing.T) {
	if _, err := Classify("Senior", 0, date(2020, 1, 1)); err == nil {
		t.Error("expected error for zero bodyweight")
	}
	if _, err := Classify("Senior", -61, date(2020, 1, 1)); err == nil {
		t.Error("expected error for negative bodyweight")
	}
}

func TestClassifyUnknownDivision(t *testing.T) {
	// Legacy era has no youth table.
	_, err := Classify("Youth", 48, date(1995, 3, 3))
	if !errors.Is(err, ErrUnknownDivision) {
		t.Errorf("expected ErrUnknownDivision, got %v", err)
	}
}

func TestGenderFor(t *testing.T) {
	cases := map[sharedtypes.AgeCategory]sharedtypes.Gender{
		"Senior":        sharedtypes.GenderMale,
		"Women Senior":  sharedtypes.GenderFemale,
		"W45":           sharedtypes.GenderFemale,
		"F Junior":      sharedtypes.GenderFemale,
		"Masters 50-54": sharedtypes.GenderMale,
		"women u17":     sharedtypes.GenderFemale,
	}
	for cat, want := range cases {
		if got := GenderFor(cat); got != want {
			t.Errorf("GenderFor(%q) = %v, want %v", cat, got, want)
		}
	}
}
