package dedupservice

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	athletedb "github.com/liftroster/rostersync/app/modules/athlete/infrastructure/repositories"
	sharedtypes "github.com/liftroster/rostersync/app/shared/types"
	"github.com/liftroster/rostersync/internal/metrics"
)

func newTestService(t *testing.T, opts ...Option) (*DedupService, *athletedb.FakeStore) {
	t.Helper()
	store := athletedb.NewFakeStore()
	tracer := noop.NewTracerProvider().Tracer("test")
	svc := NewDedupService(store, nil, nil, slog.Default(), metrics.Noop(), tracer, opts...)
	return svc, store
}

func seedAthlete(t *testing.T, store *athletedb.FakeStore, a *athletedb.Athlete) *athletedb.Athlete {
	t.Helper()
	if err := store.CreateAthlete(context.Background(), nil, a); err != nil {
		t.Fatalf("seed athlete: %v", err)
	}
	return a
}

func seedResult(t *testing.T, store *athletedb.FakeStore, r *athletedb.ResultRecord) {
	t.Helper()
	if err := store.CreateResult(context.Background(), nil, r); err != nil {
		t.Fatalf("seed result: %v", err)
	}
}

func day(d int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, d)
}

func extID(v int64) *sharedtypes.ExternalID {
	id := sharedtypes.ExternalID(v)
	return &id
}

func scan(t *testing.T, svc *DedupService, minConfidence int) *ScanReport {
	t.Helper()
	res, err := svc.DetectDuplicates(context.Background(), Scope{}, minConfidence)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsSuccess() {
		t.Fatalf("expected success, got %v", res.Failure)
	}
	return *res.Success
}

func TestDetectDuplicates_SkipsSingletons(t *testing.T) {
	svc, store := newTestService(t)
	seedAthlete(t, store, &athletedb.Athlete{DisplayName: "Ana Lee"})
	seedAthlete(t, store, &athletedb.Athlete{DisplayName: "Sam Ortiz"})

	report := scan(t, svc, 1)
	if report.GroupsScanned != 0 {
		t.Errorf("groups scanned = %d, want 0", report.GroupsScanned)
	}
	if len(report.Cases) != 0 {
		t.Errorf("cases = %d, want 0", len(report.Cases))
	}
}

func TestDetectDuplicates_ThresholdFiltersWeakGroups(t *testing.T) {
	svc, store := newTestService(t)
	seedAthlete(t, store, &athletedb.Athlete{DisplayName: "Ana Lee"})
	seedAthlete(t, store, &athletedb.Athlete{DisplayName: "Ana Lee"})

	// Two bare athletes carry nothing beyond the name match: base score
	// only, below the default threshold.
	report := scan(t, svc, 0)
	if report.GroupsScanned != 1 {
		t.Fatalf("groups scanned = %d, want 1", report.GroupsScanned)
	}
	if len(report.Cases) != 0 {
		t.Fatalf("cases = %d, want 0 below default threshold", len(report.Cases))
	}

	report = scan(t, svc, 20)
	if len(report.Cases) != 1 {
		t.Fatalf("cases = %d, want 1 at lowered threshold", len(report.Cases))
	}
	if got := report.Cases[0].ConfidenceScore; got != 20 {
		t.Errorf("score = %d, want base 20", got)
	}
}

func TestDetectDuplicates_ConfiguredDefaultThreshold(t *testing.T) {
	svc, store := newTestService(t, WithMinConfidence(20))
	seedAthlete(t, store, &athletedb.Athlete{DisplayName: "Ana Lee"})
	seedAthlete(t, store, &athletedb.Athlete{DisplayName: "Ana Lee"})

	// An unset per-scan threshold falls back to the configured one, not
	// the package constant.
	report := scan(t, svc, 0)
	if len(report.Cases) != 1 {
		t.Fatalf("cases = %d, want 1 at configured threshold", len(report.Cases))
	}

	// An explicit per-scan threshold still wins.
	report = scan(t, svc, 30)
	if len(report.Cases) != 0 {
		t.Fatalf("cases = %d, want 0 above explicit threshold", len(report.Cases))
	}
}

func TestDetectDuplicates_PerformanceAnomaly(t *testing.T) {
	svc, store := newTestService(t)
	ana := seedAthlete(t, store, &athletedb.Athlete{DisplayName: "Ana Lee"})
	seedAthlete(t, store, &athletedb.Athlete{DisplayName: "Ana Lee"})

	// Totals 100, 102, 98, 210 in date order: the 98 -> 210 jump exceeds
	// 50kg.
	for i, total := range []float64{100, 102, 98, 210} {
		seedResult(t, store, &athletedb.ResultRecord{
			AthleteID:        ana.ID,
			MeetID:           sharedtypes.MeetID(string(rune('a' + i))),
			MeetName:         "Meet",
			EventDate:        day(i * 60),
			WeightClassLabel: "59kg",
			Total:            total,
		})
	}

	report := scan(t, svc, 20)
	if len(report.Cases) != 1 {
		t.Fatalf("cases = %d, want 1", len(report.Cases))
	}
	// Base 20 + performance anomaly 5.
	if got := report.Cases[0].ConfidenceScore; got != 25 {
		t.Errorf("score = %d, want 25", got)
	}
	if report.Cases[0].CaseType != CaseSplit {
		t.Errorf("case type = %q, want %q", report.Cases[0].CaseType, CaseSplit)
	}
}

func TestDetectDuplicates_TemporalConflict(t *testing.T) {
	svc, store := newTestService(t)
	sam := seedAthlete(t, store, &athletedb.Athlete{DisplayName: "Sam Ortiz"})
	seedAthlete(t, store, &athletedb.Athlete{DisplayName: "Sam Ortiz"})

	// Two meets on the same date. Nobody lifts in two places at once.
	seedResult(t, store, &athletedb.ResultRecord{
		AthleteID:        sam.ID,
		MeetID:           "meet-east",
		MeetName:         "East Open",
		EventDate:        day(10),
		WeightClassLabel: "89kg",
		Total:            300,
	})
	seedResult(t, store, &athletedb.ResultRecord{
		AthleteID:        sam.ID,
		MeetID:           "meet-west",
		MeetName:         "West Open",
		EventDate:        day(10),
		WeightClassLabel: "89kg",
		Total:            295,
	})

	report := scan(t, svc, 20)
	if len(report.Cases) != 1 {
		t.Fatalf("cases = %d, want 1", len(report.Cases))
	}
	// Base 20 + temporal conflict 10.
	if got := report.Cases[0].ConfidenceScore; got != 30 {
		t.Errorf("score = %d, want 30", got)
	}
	if report.Cases[0].CaseType != CaseMerge {
		t.Errorf("case type = %q, want %q", report.Cases[0].CaseType, CaseMerge)
	}
}

func TestDetectDuplicates_IdenticalPerformance(t *testing.T) {
	svc, store := newTestService(t)
	a := seedAthlete(t, store, &athletedb.Athlete{DisplayName: "Jo Park"})
	b := seedAthlete(t, store, &athletedb.Athlete{DisplayName: "Jo Park"})

	attempts := athletedb.ResultRecord{
		Snatch1: 80, Snatch2: 84, Snatch3: -87,
		CJ1: 100, CJ2: 105, CJ3: 108,
	}

	r1 := attempts
	r1.AthleteID = a.ID
	r1.MeetID = "meet-1"
	r1.MeetName = "First Meet"
	r1.EventDate = day(0)
	r1.WeightClassLabel = "81kg"
	seedResult(t, store, &r1)

	r2 := attempts
	r2.AthleteID = b.ID
	r2.MeetID = "meet-2"
	r2.MeetName = "Second Meet"
	r2.EventDate = day(30)
	r2.WeightClassLabel = "81kg"
	seedResult(t, store, &r2)

	report := scan(t, svc, 20)
	if len(report.Cases) != 1 {
		t.Fatalf("cases = %d, want 1", len(report.Cases))
	}
	// Base 20 + identical performance 15. The two single-day ranges do
	// not overlap.
	if got := report.Cases[0].ConfidenceScore; got != 35 {
		t.Errorf("score = %d, want 35", got)
	}
	if report.Cases[0].CaseType != CaseMerge {
		t.Errorf("case type = %q, want %q", report.Cases[0].CaseType, CaseMerge)
	}
}

func TestDetectDuplicates_DistinctIdentifiersLowerScore(t *testing.T) {
	svc, store := newTestService(t)
	m1 := sharedtypes.MembershipNumber("PZPC-1")
	m2 := sharedtypes.MembershipNumber("PZPC-2")
	seedAthlete(t, store, &athletedb.Athlete{
		DisplayName:      "Ana Lee",
		ExternalID:       extID(11),
		MembershipNumber: &m1,
	})
	seedAthlete(t, store, &athletedb.Athlete{
		DisplayName:      "Ana Lee",
		ExternalID:       extID(22),
		MembershipNumber: &m2,
	})

	// Base 20, distinct external ids -10, distinct memberships -15:
	// clamps to 0 and never surfaces.
	report := scan(t, svc, 1)
	if len(report.Cases) != 0 {
		t.Fatalf("cases = %+v, want none", report.Cases)
	}
	if report.GroupsScanned != 1 {
		t.Errorf("groups scanned = %d, want 1", report.GroupsScanned)
	}
}

func TestDetectDuplicates_ScoreClampsAtBounds(t *testing.T) {
	svc, store := newTestService(t)
	m := sharedtypes.MembershipNumber("PZPC-9")

	// One member holds the only external id; memberships agree; identical
	// performance, temporal conflict, both anomalies, and overlapping
	// ranges all fire. Unclamped that is 20+30+20+15+10+5+5+10 = 115.
	a := seedAthlete(t, store, &athletedb.Athlete{
		DisplayName:      "Max Case",
		ExternalID:       extID(7),
		MembershipNumber: &m,
	})
	b := seedAthlete(t, store, &athletedb.Athlete{
		DisplayName:      "Max Case",
		MembershipNumber: &m,
	})

	sig := athletedb.ResultRecord{
		Snatch1: 80, Snatch2: 84, Snatch3: 87,
		CJ1: 100, CJ2: 105, CJ3: 108,
	}

	r1 := sig
	r1.AthleteID = a.ID
	r1.MeetID = "meet-1"
	r1.MeetName = "One"
	r1.EventDate = day(0)
	r1.WeightClassLabel = "55kg"
	r1.Total = 100
	seedResult(t, store, &r1)

	r2 := sig
	r2.AthleteID = a.ID
	r2.MeetID = "meet-2"
	r2.MeetName = "Two"
	r2.EventDate = day(0)
	r2.WeightClassLabel = "81kg"
	r2.Total = 200
	seedResult(t, store, &r2)

	r3 := sig
	r3.AthleteID = b.ID
	r3.MeetID = "meet-3"
	r3.MeetName = "Three"
	r3.EventDate = day(0)
	r3.WeightClassLabel = "81kg"
	r3.Total = 200
	seedResult(t, store, &r3)

	report := scan(t, svc, 20)
	if len(report.Cases) != 1 {
		t.Fatalf("cases = %d, want 1", len(report.Cases))
	}
	c := report.Cases[0]
	if c.ConfidenceScore != 100 {
		t.Errorf("score = %d, want clamp at 100", c.ConfidenceScore)
	}
	if c.RecommendedAction != ActionAutoMerge {
		t.Errorf("action = %q, want %q", c.RecommendedAction, ActionAutoMerge)
	}
}

func TestDetectDuplicates_Monotonicity(t *testing.T) {
	base := func(t *testing.T, withSignature bool) int {
		svc, store := newTestService(t)
		a := seedAthlete(t, store, &athletedb.Athlete{DisplayName: "Kim Ro"})
		b := seedAthlete(t, store, &athletedb.Athlete{DisplayName: "Kim Ro"})

		r1 := athletedb.ResultRecord{
			AthleteID: a.ID, MeetID: "meet-1", MeetName: "One",
			EventDate: day(0), WeightClassLabel: "73kg", Total: 250,
		}
		r2 := athletedb.ResultRecord{
			AthleteID: b.ID, MeetID: "meet-2", MeetName: "Two",
			EventDate: day(0), WeightClassLabel: "73kg", Total: 250,
		}
		if withSignature {
			for _, r := range []*athletedb.ResultRecord{&r1, &r2} {
				r.Snatch1, r.Snatch2, r.Snatch3 = 110, 114, 117
				r.CJ1, r.CJ2, r.CJ3 = 130, 135, 138
			}
		}
		seedResult(t, store, &r1)
		seedResult(t, store, &r2)

		report := scan(t, svc, 20)
		if len(report.Cases) != 1 {
			t.Fatalf("cases = %d, want 1", len(report.Cases))
		}
		return report.Cases[0].ConfidenceScore
	}

	without := base(t, false)
	with := base(t, true)
	if with < without {
		t.Errorf("adding identical-performance lowered score: %d -> %d", without, with)
	}
}

func TestDetectDuplicates_ScopeByName(t *testing.T) {
	svc, store := newTestService(t)
	seedAthlete(t, store, &athletedb.Athlete{DisplayName: "Ana Lee"})
	seedAthlete(t, store, &athletedb.Athlete{DisplayName: "Ana Lee"})
	seedAthlete(t, store, &athletedb.Athlete{DisplayName: "Sam Ortiz"})
	seedAthlete(t, store, &athletedb.Athlete{DisplayName: "Sam Ortiz"})

	res, err := svc.DetectDuplicates(context.Background(), Scope{DisplayName: "ana lee"}, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	report := *res.Success
	if report.GroupsScanned != 1 {
		t.Errorf("groups scanned = %d, want 1", report.GroupsScanned)
	}
	if len(report.Cases) != 1 || report.Cases[0].DisplayName != "Ana Lee" {
		t.Errorf("cases = %+v, want only Ana Lee", report.Cases)
	}
}
