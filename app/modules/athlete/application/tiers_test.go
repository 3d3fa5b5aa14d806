package athleteservice

import (
	"context"
	"errors"
	"testing"
	"time"

	athletedb "github.com/liftroster/rostersync/app/modules/athlete/infrastructure/repositories"
	sharedtypes "github.com/liftroster/rostersync/app/shared/types"
)

func TestResolve_DivisionCrosscheck(t *testing.T) {
	svc, deps := newTestService(t)
	seedAthlete(t, deps.store, &athletedb.Athlete{
		DisplayName: "Anna Kowalska",
		ExternalID:  extID(100),
	})
	target := seedAthlete(t, deps.store, &athletedb.Athlete{
		DisplayName: "Anna Kowalska",
		ExternalID:  extID(200),
	})

	deps.rankings.QueryFn = func(_ context.Context, division sharedtypes.Division, window sharedtypes.DateWindow) ([]RankedAthlete, error) {
		if division.WeightClassLabel != "59kg" {
			return nil, ErrDivisionUnknown
		}
		if !window.Contains(meetDate) {
			t.Errorf("window %v..%v does not cover the event date", window.Start, window.End)
		}
		return []RankedAthlete{
			{Name: "Anna Kowalska", ExternalID: extID(200), Club: ptr("AZS Warszawa"), Rank: ptr(3)},
			{Name: "Maria Nowak", ExternalID: extID(300)},
		}, nil
	}

	res, err := svc.Resolve(context.Background(), baseSignals())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	outcome := *res.Success
	if outcome.Athlete.ID != target.ID {
		t.Fatalf("athlete ID = %d, want %d", outcome.Athlete.ID, target.ID)
	}
	if outcome.Tier != TierDivision {
		t.Errorf("tier = %q, want %q", outcome.Tier, TierDivision)
	}

	// The verified ranking row also enriches the profile.
	stored, _ := deps.store.GetAthlete(context.Background(), nil, target.ID)
	if stored.Club == nil || *stored.Club != "AZS Warszawa" {
		t.Errorf("club not enriched: %v", stored.Club)
	}
	if stored.Rank == nil || *stored.Rank != 3 {
		t.Errorf("rank not enriched: %v", stored.Rank)
	}
}

func TestResolve_DivisionCrosscheckNarrowsByTotal(t *testing.T) {
	svc, deps := newTestService(t)
	target := seedAthlete(t, deps.store, &athletedb.Athlete{
		DisplayName: "Anna Kowalska",
		ExternalID:  extID(200),
	})
	seedAthlete(t, deps.store, &athletedb.Athlete{
		DisplayName: "Anna Kowalska",
		ExternalID:  extID(300),
	})

	// Two ranked rows share the name; only the expected total separates
	// them.
	deps.rankings.QueryFn = func(_ context.Context, _ sharedtypes.Division, _ sharedtypes.DateWindow) ([]RankedAthlete, error) {
		return []RankedAthlete{
			{Name: "Anna Kowalska", ExternalID: extID(200), Total: ptr(187.0)},
			{Name: "Anna Kowalska", ExternalID: extID(300), Total: ptr(143.0)},
		}, nil
	}

	sig := baseSignals()
	sig.ExpectedTotal = ptr(187.0)

	res, err := svc.Resolve(context.Background(), sig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	outcome := *res.Success
	if outcome.Athlete.ID != target.ID {
		t.Errorf("athlete ID = %d, want %d", outcome.Athlete.ID, target.ID)
	}
	if outcome.Tier != TierDivision {
		t.Errorf("tier = %q, want %q", outcome.Tier, TierDivision)
	}
}

func TestResolve_DivisionRepairByBodyweight(t *testing.T) {
	svc, deps := newTestService(t)
	target := seedAthlete(t, deps.store, &athletedb.Athlete{
		DisplayName: "Anna Kowalska",
		ExternalID:  extID(200),
	})
	seedAthlete(t, deps.store, &athletedb.Athlete{
		DisplayName: "Anna Kowalska",
		ExternalID:  extID(300),
	})

	// The scraped label says 59kg but the bodyweight puts her in 64kg;
	// only the repaired division has a ranking page.
	deps.rankings.QueryFn = func(_ context.Context, division sharedtypes.Division, _ sharedtypes.DateWindow) ([]RankedAthlete, error) {
		if division.WeightClassLabel != "64kg" {
			return nil, ErrDivisionUnknown
		}
		return []RankedAthlete{
			{Name: "Anna Kowalska", ExternalID: extID(200)},
		}, nil
	}

	sig := baseSignals()
	sig.BodyweightKg = 61.2

	res, err := svc.Resolve(context.Background(), sig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	outcome := *res.Success
	if outcome.Athlete.ID != target.ID {
		t.Fatalf("athlete ID = %d, want %d", outcome.Athlete.ID, target.ID)
	}
	if outcome.Tier != TierDivisionRepair {
		t.Errorf("tier = %q, want %q", outcome.Tier, TierDivisionRepair)
	}

	divisions := deps.rankings.QueriedDivisions()
	if len(divisions) < 2 {
		t.Fatalf("queried %d divisions, want original then repaired", len(divisions))
	}
	if divisions[0].WeightClassLabel != "59kg" {
		t.Errorf("first query label = %q, want scraped 59kg", divisions[0].WeightClassLabel)
	}
	if divisions[1].WeightClassLabel != "64kg" {
		t.Errorf("second query label = %q, want repaired 64kg", divisions[1].WeightClassLabel)
	}
}

func TestResolve_DivisionRepairWalksAgeLadder(t *testing.T) {
	svc, deps := newTestService(t)
	target := seedAthlete(t, deps.store, &athletedb.Athlete{
		DisplayName: "Anna Kowalska",
		ExternalID:  extID(200),
	})
	seedAthlete(t, deps.store, &athletedb.Athlete{
		DisplayName: "Anna Kowalska",
		ExternalID:  extID(300),
	})

	// Ranked as a junior, scraped as a senior.
	deps.rankings.QueryFn = func(_ context.Context, division sharedtypes.Division, _ sharedtypes.DateWindow) ([]RankedAthlete, error) {
		if division.AgeCategory != "Women Junior" {
			return nil, ErrDivisionUnknown
		}
		return []RankedAthlete{
			{Name: "Anna Kowalska", ExternalID: extID(200)},
		}, nil
	}

	res, err := svc.Resolve(context.Background(), baseSignals())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	outcome := *res.Success
	if outcome.Athlete.ID != target.ID {
		t.Fatalf("athlete ID = %d, want %d", outcome.Athlete.ID, target.ID)
	}
	if outcome.Tier != TierDivisionRepair {
		t.Errorf("tier = %q, want %q", outcome.Tier, TierDivisionRepair)
	}

	var cats []sharedtypes.AgeCategory
	for _, d := range deps.rankings.QueriedDivisions() {
		cats = append(cats, d.AgeCategory)
	}
	// Scraped category first, then youngest to oldest.
	if cats[0] != "Women Senior" || cats[1] != "Women Youth" || cats[2] != "Women Junior" {
		t.Errorf("query order = %v", cats)
	}
}

func TestResolve_HistoryCrosscheck(t *testing.T) {
	svc, deps := newTestService(t)
	seedAthlete(t, deps.store, &athletedb.Athlete{
		DisplayName: "Anna Kowalska",
		ExternalID:  extID(100),
	})
	target := seedAthlete(t, deps.store, &athletedb.Athlete{
		DisplayName: "Anna Kowalska",
		ExternalID:  extID(200),
	})

	membership := sharedtypes.MembershipNumber("PZPC-4411")
	deps.history.HistoryFn = func(_ context.Context, id sharedtypes.ExternalID) ([]HistoryEntry, error) {
		if id != 200 {
			return []HistoryEntry{
				{MeetName: "Winter Cup 2023", Date: time.Date(2023, 12, 2, 0, 0, 0, 0, time.UTC)},
			}, nil
		}
		return []HistoryEntry{
			{
				MeetName:         "Spring Open 2024",
				Date:             meetDate.AddDate(0, 0, 3),
				Category:         "W59",
				Bodyweight:       ptr(58.5),
				Snatch:           ptr(83.0),
				CJ:               ptr(104.0),
				Total:            ptr(187.0),
				MembershipNumber: &membership,
			},
		}, nil
	}

	sig := baseSignals()
	sig.ExpectedSnatch = ptr(83.0)
	sig.ExpectedCJ = ptr(104.0)
	sig.ExpectedTotal = ptr(187.0)
	sig.BodyweightKg = 58.4

	res, err := svc.Resolve(context.Background(), sig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	outcome := *res.Success
	if outcome.Athlete.ID != target.ID {
		t.Fatalf("athlete ID = %d, want %d", outcome.Athlete.ID, target.ID)
	}
	if outcome.Tier != TierHistory {
		t.Errorf("tier = %q, want %q", outcome.Tier, TierHistory)
	}

	// Complete attribute agreement, so no meet page confirmation needed.
	if n := len(deps.history.verifyCalls); n != 0 {
		t.Errorf("meet page checked %d times, want 0", n)
	}

	// The membership number from the history entry is recovered.
	stored, _ := deps.store.GetAthlete(context.Background(), nil, target.ID)
	if stored.MembershipNumber == nil || *stored.MembershipNumber != membership {
		t.Errorf("membership not recovered: %v", stored.MembershipNumber)
	}
}

func TestResolve_HistoryIncompleteNeedsMeetPage(t *testing.T) {
	svc, deps := newTestService(t)
	target := seedAthlete(t, deps.store, &athletedb.Athlete{
		DisplayName: "Anna Kowalska",
		ExternalID:  extID(200),
	})
	seedAthlete(t, deps.store, &athletedb.Athlete{
		DisplayName: "Anna Kowalska",
		ExternalID:  extID(300),
	})

	// The history entry carries no lift attributes: name and date alone
	// are not enough without the meet page confirming participation.
	deps.history.HistoryFn = func(_ context.Context, id sharedtypes.ExternalID) ([]HistoryEntry, error) {
		if id != 200 {
			return nil, nil
		}
		return []HistoryEntry{
			{MeetName: "Spring Open 2024", Date: meetDate},
		}, nil
	}

	tests := []struct {
		name       string
		confirmed  bool
		wantTier   string
		wantTarget bool
	}{
		{"meet page confirms", true, TierHistory, true},
		{"meet page denies", false, TierSoftFallback, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps.history.VerifyOnMeetPageFn = func(_ context.Context, meetID sharedtypes.MeetID, displayName string) (bool, error) {
				if meetID != "meet-2024-0316" {
					t.Errorf("meet id = %q", meetID)
				}
				return tt.confirmed, nil
			}

			res, err := svc.Resolve(context.Background(), baseSignals())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			outcome := *res.Success
			if outcome.Tier != tt.wantTier {
				t.Errorf("tier = %q, want %q", outcome.Tier, tt.wantTier)
			}
			if tt.wantTarget && outcome.Athlete.ID != target.ID {
				t.Errorf("athlete ID = %d, want %d", outcome.Athlete.ID, target.ID)
			}
		})
	}
}

func TestResolve_HistoryRejectsDisagreeingAttributes(t *testing.T) {
	svc, deps := newTestService(t)
	seedAthlete(t, deps.store, &athletedb.Athlete{
		DisplayName: "Anna Kowalska",
		ExternalID:  extID(200),
	})
	seedAthlete(t, deps.store, &athletedb.Athlete{
		DisplayName: "Anna Kowalska",
		ExternalID:  extID(300),
	})

	deps.history.HistoryFn = func(_ context.Context, id sharedtypes.ExternalID) ([]HistoryEntry, error) {
		if id != 200 {
			return nil, nil
		}
		return []HistoryEntry{
			{MeetName: "Spring Open 2024", Date: meetDate, Total: ptr(143.0)},
		}, nil
	}

	sig := baseSignals()
	sig.ExpectedTotal = ptr(187.0)

	res, err := svc.Resolve(context.Background(), sig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The disagreeing total disqualifies the entry; no meet page check,
	// fall through to the soft fallback.
	if (*res.Success).Tier != TierSoftFallback {
		t.Errorf("tier = %q, want %q", (*res.Success).Tier, TierSoftFallback)
	}
	if n := len(deps.history.verifyCalls); n != 0 {
		t.Errorf("meet page checked %d times, want 0", n)
	}
}

func TestResolve_HistoryOutageSkipsCandidate(t *testing.T) {
	svc, deps := newTestService(t)
	seedAthlete(t, deps.store, &athletedb.Athlete{
		DisplayName: "Anna Kowalska",
		ExternalID:  extID(200),
	})
	target := seedAthlete(t, deps.store, &athletedb.Athlete{
		DisplayName: "Anna Kowalska",
		ExternalID:  extID(300),
	})

	deps.history.HistoryFn = func(_ context.Context, id sharedtypes.ExternalID) ([]HistoryEntry, error) {
		if id == 200 {
			return nil, &UpstreamUnavailableError{Service: "member history", Err: errors.New("timeout")}
		}
		return []HistoryEntry{
			{MeetName: "Spring Open 2024", Date: meetDate, Total: ptr(187.0)},
		}, nil
	}

	sig := baseSignals()
	sig.ExpectedTotal = ptr(187.0)

	res, err := svc.Resolve(context.Background(), sig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	outcome := *res.Success
	if outcome.Athlete.ID != target.ID {
		t.Errorf("athlete ID = %d, want %d", outcome.Athlete.ID, target.ID)
	}
	if outcome.Tier != TierHistory {
		t.Errorf("tier = %q, want %q", outcome.Tier, TierHistory)
	}
}

func TestDateToleranceFor(t *testing.T) {
	tol := DefaultTolerances()

	if got := tol.DateToleranceFor("Spring Open 2024"); got != 14*24*time.Hour {
		t.Errorf("regular meet tolerance = %v", got)
	}
	if got := tol.DateToleranceFor("National Rolling Qualifier Q1"); got != 30*24*time.Hour {
		t.Errorf("qualifier tolerance = %v", got)
	}
}

func TestAdjacentAgeCategories(t *testing.T) {
	tests := []struct {
		cat  sharedtypes.AgeCategory
		want []sharedtypes.AgeCategory
	}{
		{"Senior", []sharedtypes.AgeCategory{"Youth", "Junior"}},
		{"Junior", []sharedtypes.AgeCategory{"Youth", "Senior"}},
		{"Youth", []sharedtypes.AgeCategory{"Junior", "Senior"}},
		{"Women Senior", []sharedtypes.AgeCategory{"Women Youth", "Women Junior"}},
		// Masters share the senior boundary table but are a distinct
		// division on the site, so the senior retry stays in the ladder.
		{"Masters 45-49", []sharedtypes.AgeCategory{"Youth", "Junior", "Senior"}},
		{"W40", []sharedtypes.AgeCategory{"Women Youth", "Women Junior", "Women Senior"}},
	}
	for _, tt := range tests {
		got := adjacentAgeCategories(tt.cat)
		if len(got) != len(tt.want) {
			t.Errorf("adjacentAgeCategories(%q) = %v, want %v", tt.cat, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("adjacentAgeCategories(%q)[%d] = %q, want %q", tt.cat, i, got[i], tt.want[i])
			}
		}
	}
}
