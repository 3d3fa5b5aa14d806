package rankings

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	athleteservice "github.com/liftroster/rostersync/app/modules/athlete/application"
	sharedtypes "github.com/liftroster/rostersync/app/shared/types"
)

var division = sharedtypes.Division{AgeCategory: "Senior", WeightClassLabel: "89kg"}

func window() sharedtypes.DateWindow {
	return sharedtypes.DateWindow{
		Start: time.Date(2024, 3, 13, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 26, 0, 0, 0, 0, time.UTC),
	}
}

func TestHTTPClient_Query(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if got := q.Get("age_category"); got != "Senior" {
			t.Errorf("age_category = %q", got)
		}
		if got := q.Get("weight_class"); got != "89kg" {
			t.Errorf("weight_class = %q", got)
		}
		if got := q.Get("from"); got != "2024-03-13" {
			t.Errorf("from = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"athletes":[
			{"name":"Jan Kowalski","external_id":42,"club":"KS Budowlani","rank":1,"total":331.0},
			{"name":"Piotr Nowak"}
		]}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, time.Second)
	rows, err := client.Query(context.Background(), division, window())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0].ExternalID == nil || *rows[0].ExternalID != 42 {
		t.Errorf("external id = %v, want 42", rows[0].ExternalID)
	}
	if rows[0].Total == nil || *rows[0].Total != 331.0 {
		t.Errorf("total = %v, want 331", rows[0].Total)
	}
	if rows[1].ExternalID != nil {
		t.Errorf("second row external id = %v, want nil", rows[1].ExternalID)
	}
}

func TestHTTPClient_UnknownDivision(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, time.Second)
	_, err := client.Query(context.Background(), division, window())
	if !errors.Is(err, athleteservice.ErrDivisionUnknown) {
		t.Errorf("err = %v, want ErrDivisionUnknown", err)
	}
}

func TestHTTPClient_ServerErrorIsUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, time.Second)
	_, err := client.Query(context.Background(), division, window())

	var upstream *athleteservice.UpstreamUnavailableError
	if !errors.As(err, &upstream) {
		t.Fatalf("err = %v, want UpstreamUnavailableError", err)
	}
	if upstream.Service != "rankings" {
		t.Errorf("service = %q", upstream.Service)
	}
}

type countingLookup struct {
	calls int32
	rows  []athleteservice.RankedAthlete
	err   error
}

func (c *countingLookup) Query(context.Context, sharedtypes.Division, sharedtypes.DateWindow) ([]athleteservice.RankedAthlete, error) {
	atomic.AddInt32(&c.calls, 1)
	return c.rows, c.err
}

func TestCached_SecondQueryDoesNotHitUpstream(t *testing.T) {
	inner := &countingLookup{rows: []athleteservice.RankedAthlete{{Name: "Jan Kowalski"}}}
	lookup := NewCached(inner, time.Minute)

	for i := 0; i < 3; i++ {
		rows, err := lookup.Query(context.Background(), division, window())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(rows) != 1 {
			t.Fatalf("rows = %d, want 1", len(rows))
		}
	}
	if n := atomic.LoadInt32(&inner.calls); n != 1 {
		t.Errorf("upstream calls = %d, want 1", n)
	}
}

func TestCached_ErrorsAreNotCached(t *testing.T) {
	inner := &countingLookup{err: athleteservice.ErrDivisionUnknown}
	lookup := NewCached(inner, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := lookup.Query(context.Background(), division, window()); err == nil {
			t.Fatal("expected error")
		}
	}
	if n := atomic.LoadInt32(&inner.calls); n != 2 {
		t.Errorf("upstream calls = %d, want 2", n)
	}
}

func TestRetrying_UnknownDivisionIsNotRetried(t *testing.T) {
	inner := &countingLookup{err: athleteservice.ErrDivisionUnknown}
	lookup := NewRetrying(inner, slog.Default(), 5)

	_, err := lookup.Query(context.Background(), division, window())
	if !errors.Is(err, athleteservice.ErrDivisionUnknown) {
		t.Fatalf("err = %v, want ErrDivisionUnknown", err)
	}
	if n := atomic.LoadInt32(&inner.calls); n != 1 {
		t.Errorf("upstream calls = %d, want 1 (no retries)", n)
	}
}
