package athleteservice

import (
	"context"
	"errors"
	"testing"
	"time"

	athletedb "github.com/liftroster/rostersync/app/modules/athlete/infrastructure/repositories"
	sharedtypes "github.com/liftroster/rostersync/app/shared/types"
)

var meetDate = time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC)

func baseSignals() MatchSignals {
	return MatchSignals{
		DisplayName:      "Anna Kowalska",
		MeetID:           "meet-2024-0316",
		MeetName:         "Spring Open 2024",
		EventDate:        meetDate,
		AgeCategory:      "Women Senior",
		WeightClassLabel: "59kg",
		BodyweightKg:     58.4,
	}
}

func seedAthlete(t *testing.T, store *athletedb.FakeStore, a *athletedb.Athlete) *athletedb.Athlete {
	t.Helper()
	if err := store.CreateAthlete(context.Background(), nil, a); err != nil {
		t.Fatalf("seed athlete: %v", err)
	}
	return a
}

func TestResolve_MissingName(t *testing.T) {
	svc, _ := newTestService(t)

	res, err := svc.Resolve(context.Background(), MatchSignals{DisplayName: "   "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsFailure() {
		t.Fatal("expected failure result")
	}
	if !errors.Is(*res.Failure, ErrMissingName) {
		t.Errorf("failure = %v, want ErrMissingName", *res.Failure)
	}
}

func TestResolve_ExternalIDFastPath(t *testing.T) {
	svc, deps := newTestService(t)
	existing := seedAthlete(t, deps.store, &athletedb.Athlete{
		DisplayName: "Anna Kowalska",
		ExternalID:  extID(777),
	})

	sig := baseSignals()
	sig.ExternalID = extID(777)

	res, err := svc.Resolve(context.Background(), sig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsSuccess() {
		t.Fatalf("expected success, got failure %v", res.Failure)
	}

	outcome := *res.Success
	if outcome.Athlete.ID != existing.ID {
		t.Errorf("athlete ID = %d, want %d", outcome.Athlete.ID, existing.ID)
	}
	if outcome.Tier != TierExternalID {
		t.Errorf("tier = %q, want %q", outcome.Tier, TierExternalID)
	}
	if outcome.Created {
		t.Error("fast path must not create")
	}

	// The fast path must not escalate to the lookup services.
	if n := len(deps.rankings.QueriedDivisions()); n != 0 {
		t.Errorf("rankings queried %d times, want 0", n)
	}
	if n := len(deps.history.historyCalls); n != 0 {
		t.Errorf("history queried %d times, want 0", n)
	}
}

func TestResolve_ExternalIDNameDisagrees(t *testing.T) {
	svc, deps := newTestService(t)
	holder := seedAthlete(t, deps.store, &athletedb.Athlete{
		DisplayName: "Maria Nowak",
		ExternalID:  extID(777),
	})

	sig := baseSignals()
	sig.ExternalID = extID(777)

	res, err := svc.Resolve(context.Background(), sig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsSuccess() {
		t.Fatalf("expected success, got failure %v", res.Failure)
	}

	// The id under a different name must not be trusted; a fresh athlete
	// is created by name instead.
	outcome := *res.Success
	if outcome.Athlete.ID == holder.ID {
		t.Error("resolved to the conflicting id holder")
	}
	if !outcome.Created {
		t.Error("expected a new athlete")
	}
}

func TestResolve_CreatesWhenUnknown(t *testing.T) {
	svc, deps := newTestService(t)

	sig := baseSignals()
	sig.ExternalID = extID(901)

	res, err := svc.Resolve(context.Background(), sig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	outcome := *res.Success
	if !outcome.Created {
		t.Fatal("expected creation")
	}
	if outcome.Athlete.ExternalID == nil || *outcome.Athlete.ExternalID != 901 {
		t.Errorf("external id not carried onto new athlete: %v", outcome.Athlete.ExternalID)
	}

	// Resolving the same signals again must return the same athlete, not a
	// second one.
	res2, err := svc.Resolve(context.Background(), sig)
	if err != nil {
		t.Fatalf("unexpected error on second resolve: %v", err)
	}
	second := *res2.Success
	if second.Created {
		t.Error("second resolve created a duplicate")
	}
	if second.Athlete.ID != outcome.Athlete.ID {
		t.Errorf("second resolve ID = %d, want %d", second.Athlete.ID, outcome.Athlete.ID)
	}
	if deps.store.AthleteCount() != 1 {
		t.Errorf("athlete count = %d, want 1", deps.store.AthleteCount())
	}
}

func TestResolve_SoleCandidateEnrichedWithExternalID(t *testing.T) {
	svc, deps := newTestService(t)
	existing := seedAthlete(t, deps.store, &athletedb.Athlete{
		DisplayName: "Anna Kowalska",
	})

	sig := baseSignals()
	sig.ExternalID = extID(555)

	res, err := svc.Resolve(context.Background(), sig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	outcome := *res.Success
	if outcome.Athlete.ID != existing.ID {
		t.Fatalf("athlete ID = %d, want %d", outcome.Athlete.ID, existing.ID)
	}
	if outcome.Tier != TierNameMatch {
		t.Errorf("tier = %q, want %q", outcome.Tier, TierNameMatch)
	}

	stored, err := deps.store.GetAthlete(context.Background(), nil, existing.ID)
	if err != nil {
		t.Fatalf("get athlete: %v", err)
	}
	if stored.ExternalID == nil || *stored.ExternalID != 555 {
		t.Errorf("external id not persisted: %v", stored.ExternalID)
	}
}

func TestResolve_EnrichmentLosesRace(t *testing.T) {
	svc, deps := newTestService(t)
	holder := seedAthlete(t, deps.store, &athletedb.Athlete{
		DisplayName: "Maria Nowak",
		ExternalID:  extID(555),
	})
	candidate := seedAthlete(t, deps.store, &athletedb.Athlete{
		DisplayName: "Anna Kowalska",
	})

	sig := baseSignals()
	sig.ExternalID = extID(555)

	res, err := svc.Resolve(context.Background(), sig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsSuccess() {
		t.Fatalf("expected success, got failure %v", res.Failure)
	}

	// The losing write must be dropped: the holder keeps the id. The sole
	// candidate is still reused through the soft fallback.
	stored, _ := deps.store.GetAthlete(context.Background(), nil, candidate.ID)
	if stored.ExternalID != nil {
		t.Errorf("candidate stole external id %v", *stored.ExternalID)
	}
	held, _ := deps.store.GetAthlete(context.Background(), nil, holder.ID)
	if held.ExternalID == nil || *held.ExternalID != 555 {
		t.Error("holder lost its external id")
	}
	if (*res.Success).Athlete.ID != candidate.ID {
		t.Errorf("resolved to %d, want candidate %d", (*res.Success).Athlete.ID, candidate.ID)
	}
}

func TestResolve_DisambiguatesByExternalID(t *testing.T) {
	svc, deps := newTestService(t)
	seedAthlete(t, deps.store, &athletedb.Athlete{
		DisplayName: "Anna Kowalska",
		ExternalID:  extID(100),
	})
	target := seedAthlete(t, deps.store, &athletedb.Athlete{
		DisplayName: "Anna Kowalska",
		ExternalID:  extID(200),
	})

	sig := baseSignals()
	sig.ExternalID = extID(200)

	res, err := svc.Resolve(context.Background(), sig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	outcome := *res.Success
	if outcome.Athlete.ID != target.ID {
		t.Errorf("athlete ID = %d, want %d", outcome.Athlete.ID, target.ID)
	}
	if outcome.Tier != TierNameMatch {
		t.Errorf("tier = %q, want %q", outcome.Tier, TierNameMatch)
	}
}

func TestResolve_AmbiguousWithoutFallback(t *testing.T) {
	svc, deps := newTestService(t, WithSoftFallback(false))
	a := seedAthlete(t, deps.store, &athletedb.Athlete{DisplayName: "Anna Kowalska"})
	b := seedAthlete(t, deps.store, &athletedb.Athlete{DisplayName: "Anna Kowalska"})

	res, err := svc.Resolve(context.Background(), baseSignals())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsFailure() {
		t.Fatal("expected failure result")
	}

	var ambiguous *AmbiguousIdentityError
	if !errors.As(*res.Failure, &ambiguous) {
		t.Fatalf("failure = %T, want AmbiguousIdentityError", *res.Failure)
	}
	if len(ambiguous.Candidates) != 2 {
		t.Fatalf("candidates = %v, want both ids", ambiguous.Candidates)
	}
	if ambiguous.Candidates[0] != a.ID || ambiguous.Candidates[1] != b.ID {
		t.Errorf("candidates = %v, want [%d %d]", ambiguous.Candidates, a.ID, b.ID)
	}
	if deps.store.AthleteCount() != 2 {
		t.Errorf("athlete count = %d, want 2 (no third identity fabricated)", deps.store.AthleteCount())
	}
}

func TestResolve_SoftFallbackReusesFirstCandidate(t *testing.T) {
	svc, deps := newTestService(t)
	first := seedAthlete(t, deps.store, &athletedb.Athlete{DisplayName: "Anna Kowalska"})
	seedAthlete(t, deps.store, &athletedb.Athlete{DisplayName: "Anna Kowalska"})

	res, err := svc.Resolve(context.Background(), baseSignals())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	outcome := *res.Success
	if outcome.Athlete.ID != first.ID {
		t.Errorf("athlete ID = %d, want first candidate %d", outcome.Athlete.ID, first.ID)
	}
	if outcome.Tier != TierSoftFallback {
		t.Errorf("tier = %q, want %q", outcome.Tier, TierSoftFallback)
	}
}

func TestResolve_UpstreamOutageSkipsTier(t *testing.T) {
	svc, deps := newTestService(t)
	first := seedAthlete(t, deps.store, &athletedb.Athlete{DisplayName: "Anna Kowalska"})
	seedAthlete(t, deps.store, &athletedb.Athlete{DisplayName: "Anna Kowalska"})

	deps.rankings.QueryFn = func(ctx context.Context, _ sharedtypes.Division, _ sharedtypes.DateWindow) ([]RankedAthlete, error) {
		return nil, &UpstreamUnavailableError{Service: "rankings", Err: errors.New("connection refused")}
	}

	res, err := svc.Resolve(context.Background(), baseSignals())
	if err != nil {
		t.Fatalf("outage must not fail the resolution: %v", err)
	}
	outcome := *res.Success
	if outcome.Tier != TierSoftFallback {
		t.Errorf("tier = %q, want %q", outcome.Tier, TierSoftFallback)
	}
	if outcome.Athlete.ID != first.ID {
		t.Errorf("athlete ID = %d, want %d", outcome.Athlete.ID, first.ID)
	}
}

func TestResolve_StoreErrorIsFatal(t *testing.T) {
	svc, deps := newTestService(t)
	deps.store.CreateAthleteFn = func(ctx context.Context, _ *athletedb.Athlete) error {
		return errors.New("connection reset")
	}

	_, err := svc.Resolve(context.Background(), baseSignals())
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestSameName(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"Anna Kowalska", "anna kowalska", true},
		{"  Anna   Kowalska ", "Anna Kowalska", true},
		{"Anna Kowalska", "Anna Nowak", false},
		{"", "", true},
	}
	for _, tt := range tests {
		if got := sameName(tt.a, tt.b); got != tt.want {
			t.Errorf("sameName(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
