package athleteservice

import (
	"context"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel/trace/noop"

	athletedb "github.com/liftroster/rostersync/app/modules/athlete/infrastructure/repositories"
	sharedtypes "github.com/liftroster/rostersync/app/shared/types"
	"github.com/liftroster/rostersync/internal/metrics"
)

// ------------------------
// Fake lookup clients
// ------------------------

// FakeRankings provides a programmable stub for the RankingsLookup port.
type FakeRankings struct {
	trace []sharedtypes.Division

	QueryFn func(ctx context.Context, division sharedtypes.Division, window sharedtypes.DateWindow) ([]RankedAthlete, error)
}

func (f *FakeRankings) Query(ctx context.Context, division sharedtypes.Division, window sharedtypes.DateWindow) ([]RankedAthlete, error) {
	f.trace = append(f.trace, division)
	if f.QueryFn != nil {
		return f.QueryFn(ctx, division, window)
	}
	return nil, nil
}

// QueriedDivisions returns the divisions queried, in order.
func (f *FakeRankings) QueriedDivisions() []sharedtypes.Division {
	out := make([]sharedtypes.Division, len(f.trace))
	copy(out, f.trace)
	return out
}

// FakeHistory provides a programmable stub for the MemberHistory port.
type FakeHistory struct {
	historyCalls []sharedtypes.ExternalID
	verifyCalls  []sharedtypes.MeetID

	HistoryFn          func(ctx context.Context, id sharedtypes.ExternalID) ([]HistoryEntry, error)
	VerifyOnMeetPageFn func(ctx context.Context, meetID sharedtypes.MeetID, displayName string) (bool, error)
}

func (f *FakeHistory) History(ctx context.Context, id sharedtypes.ExternalID) ([]HistoryEntry, error) {
	f.historyCalls = append(f.historyCalls, id)
	if f.HistoryFn != nil {
		return f.HistoryFn(ctx, id)
	}
	return nil, nil
}

func (f *FakeHistory) VerifyOnMeetPage(ctx context.Context, meetID sharedtypes.MeetID, displayName string) (bool, error) {
	f.verifyCalls = append(f.verifyCalls, meetID)
	if f.VerifyOnMeetPageFn != nil {
		return f.VerifyOnMeetPageFn(ctx, meetID, displayName)
	}
	return false, nil
}

// ------------------------
// Service under test
// ------------------------

type testDeps struct {
	store    *athletedb.FakeStore
	rankings *FakeRankings
	history  *FakeHistory
}

// newTestService wires an AthleteService over fakes. A nil *bun.DB makes
// runInTx call through without a transaction.
func newTestService(t *testing.T, opts ...Option) (*AthleteService, *testDeps) {
	t.Helper()

	deps := &testDeps{
		store:    athletedb.NewFakeStore(),
		rankings: &FakeRankings{},
		history:  &FakeHistory{},
	}

	tracer := noop.NewTracerProvider().Tracer("test")
	svc := NewAthleteService(
		deps.store,
		nil,
		nil,
		slog.Default(),
		metrics.Noop(),
		tracer,
		deps.rankings,
		deps.history,
		opts...,
	)
	return svc, deps
}

func ptr[T any](v T) *T { return &v }

func extID(v int64) *sharedtypes.ExternalID {
	id := sharedtypes.ExternalID(v)
	return &id
}
