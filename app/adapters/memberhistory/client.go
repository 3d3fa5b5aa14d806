// Package memberhistory talks to the federation member profile pages.
package memberhistory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	athleteservice "github.com/liftroster/rostersync/app/modules/athlete/application"
	"github.com/liftroster/rostersync/app/shared/attr"
	sharedtypes "github.com/liftroster/rostersync/app/shared/types"
)

// Config carries the tunables for the history client chain.
type Config struct {
	BaseURL           string
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxRetries        uint64
}

// NewLookup builds the production chain: HTTP client, rate limiter, retry,
// logging.
func NewLookup(cfg Config, logger *slog.Logger) athleteservice.MemberHistory {
	var lookup athleteservice.MemberHistory = NewHTTPClient(cfg.BaseURL, cfg.RequestTimeout)
	lookup = NewRateLimited(lookup, rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst))
	lookup = NewRetrying(lookup, logger, cfg.MaxRetries)
	lookup = NewLogging(lookup, logger)
	return lookup
}

// HTTPClient is the transport-level member history client.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type historyRow struct {
	MeetName         string   `json:"meet_name"`
	Date             string   `json:"date"`
	Category         string   `json:"category"`
	Bodyweight       *float64 `json:"bodyweight,omitempty"`
	Snatch           *float64 `json:"snatch,omitempty"`
	CJ               *float64 `json:"cj,omitempty"`
	Total            *float64 `json:"total,omitempty"`
	MembershipNumber *string  `json:"membership_no,omitempty"`
}

type historyResponse struct {
	Entries []historyRow `json:"entries"`
}

type participantsResponse struct {
	Present bool `json:"present"`
}

// History fetches one member's full competition record. An unknown member
// id yields an empty history, not an error.
func (c *HTTPClient) History(ctx context.Context, id sharedtypes.ExternalID) ([]athleteservice.HistoryEntry, error) {
	endpoint := fmt.Sprintf("%s/members/%d/history", c.baseURL, int64(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build history request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &athleteservice.UpstreamUnavailableError{Service: "member history", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &athleteservice.UpstreamUnavailableError{
			Service: "member history",
			Err:     fmt.Errorf("status %d: %s", resp.StatusCode, body),
		}
	}

	var payload historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &athleteservice.UpstreamUnavailableError{Service: "member history", Err: err}
	}

	out := make([]athleteservice.HistoryEntry, 0, len(payload.Entries))
	for _, row := range payload.Entries {
		entry, err := toEntry(row)
		if err != nil {
			return nil, &athleteservice.UpstreamUnavailableError{Service: "member history", Err: err}
		}
		out = append(out, entry)
	}
	return out, nil
}

func toEntry(row historyRow) (athleteservice.HistoryEntry, error) {
	date, err := time.Parse("2006-01-02", row.Date)
	if err != nil {
		return athleteservice.HistoryEntry{}, fmt.Errorf("bad history date %q: %w", row.Date, err)
	}

	e := athleteservice.HistoryEntry{
		MeetName:   row.MeetName,
		Date:       date,
		Category:   row.Category,
		Bodyweight: row.Bodyweight,
		Snatch:     row.Snatch,
		CJ:         row.CJ,
		Total:      row.Total,
	}
	if row.MembershipNumber != nil {
		no := sharedtypes.MembershipNumber(*row.MembershipNumber)
		e.MembershipNumber = &no
	}
	return e, nil
}

// VerifyOnMeetPage checks the meet's own participant listing for the
// display name.
func (c *HTTPClient) VerifyOnMeetPage(ctx context.Context, meetID sharedtypes.MeetID, displayName string) (bool, error) {
	q := url.Values{}
	q.Set("name", displayName)
	endpoint := fmt.Sprintf("%s/meets/%s/participants?%s", c.baseURL, url.PathEscape(string(meetID)), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build participants request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false, &athleteservice.UpstreamUnavailableError{Service: "member history", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, &athleteservice.UpstreamUnavailableError{
			Service: "member history",
			Err:     fmt.Errorf("status %d: %s", resp.StatusCode, body),
		}
	}

	var payload participantsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false, &athleteservice.UpstreamUnavailableError{Service: "member history", Err: err}
	}
	return payload.Present, nil
}

// rateLimited shares one token bucket across both endpoints; they hit the
// same origin.
type rateLimited struct {
	next    athleteservice.MemberHistory
	limiter *rate.Limiter
}

func NewRateLimited(next athleteservice.MemberHistory, limiter *rate.Limiter) athleteservice.MemberHistory {
	return &rateLimited{next: next, limiter: limiter}
}

func (r *rateLimited) History(ctx context.Context, id sharedtypes.ExternalID) ([]athleteservice.HistoryEntry, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.History(ctx, id)
}

func (r *rateLimited) VerifyOnMeetPage(ctx context.Context, meetID sharedtypes.MeetID, displayName string) (bool, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return false, err
	}
	return r.next.VerifyOnMeetPage(ctx, meetID, displayName)
}

// retrying retries upstream failures with exponential backoff.
type retrying struct {
	next       athleteservice.MemberHistory
	logger     *slog.Logger
	maxRetries uint64
}

func NewRetrying(next athleteservice.MemberHistory, logger *slog.Logger, maxRetries uint64) athleteservice.MemberHistory {
	if maxRetries == 0 {
		maxRetries = 3
	}
	return &retrying{next: next, logger: logger, maxRetries: maxRetries}
}

func (r *retrying) policy(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), r.maxRetries), ctx)
}

func (r *retrying) History(ctx context.Context, id sharedtypes.ExternalID) ([]athleteservice.HistoryEntry, error) {
	var out []athleteservice.HistoryEntry
	err := backoff.Retry(func() error {
		entries, err := r.next.History(ctx, id)
		if err != nil {
			r.logger.WarnContext(ctx, "History fetch will be retried",
				attr.ExternalID("external_id", id),
				attr.Error(err),
			)
			return err
		}
		out = entries
		return nil
	}, r.policy(ctx))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *retrying) VerifyOnMeetPage(ctx context.Context, meetID sharedtypes.MeetID, displayName string) (bool, error) {
	var present bool
	err := backoff.Retry(func() error {
		ok, err := r.next.VerifyOnMeetPage(ctx, meetID, displayName)
		if err != nil {
			r.logger.WarnContext(ctx, "Meet page check will be retried",
				attr.String("meet_id", string(meetID)),
				attr.Error(err),
			)
			return err
		}
		present = ok
		return nil
	}, r.policy(ctx))
	if err != nil {
		return false, err
	}
	return present, nil
}

// logging records each call's outcome.
type logging struct {
	next   athleteservice.MemberHistory
	logger *slog.Logger
}

func NewLogging(next athleteservice.MemberHistory, logger *slog.Logger) athleteservice.MemberHistory {
	return &logging{next: next, logger: logger}
}

func (l *logging) History(ctx context.Context, id sharedtypes.ExternalID) ([]athleteservice.HistoryEntry, error) {
	start := time.Now()
	entries, err := l.next.History(ctx, id)
	if err != nil {
		l.logger.WarnContext(ctx, "History fetch failed",
			attr.ExternalID("external_id", id),
			attr.Duration("elapsed", time.Since(start)),
			attr.Error(err),
		)
		return nil, err
	}
	l.logger.DebugContext(ctx, "History fetch",
		attr.ExternalID("external_id", id),
		attr.Int("entries", len(entries)),
		attr.Duration("elapsed", time.Since(start)),
	)
	return entries, nil
}

func (l *logging) VerifyOnMeetPage(ctx context.Context, meetID sharedtypes.MeetID, displayName string) (bool, error) {
	present, err := l.next.VerifyOnMeetPage(ctx, meetID, displayName)
	if err != nil {
		l.logger.WarnContext(ctx, "Meet page check failed",
			attr.String("meet_id", string(meetID)),
			attr.Error(err),
		)
		return false, err
	}
	return present, nil
}
