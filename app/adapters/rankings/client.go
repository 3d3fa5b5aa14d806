// Package rankings talks to the federation rankings pages. The HTTP client
// is wrapped by decorators for rate limiting, retries, caching, and
// logging; composition happens in NewLookup.
package rankings

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
	"github.com/liftroster/rostersync/internal/cache"
)

const dateFormat = "2006-01-02"

// Config carries the tunables for the full lookup chain.
type Config struct {
	BaseURL           string
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxRetries        uint64
	CacheTTL          time.Duration
}

// NewLookup builds the production chain: HTTP client, rate limiter, retry,
// cache, logging. Outermost first: the cache sits outside the limiter so
// hits never burn quota.
func NewLookup(cfg Config, logger *slog.Logger) athleteservice.RankingsLookup {
	var lookup athleteservice.RankingsLookup = NewHTTPClient(cfg.BaseURL, cfg.RequestTimeout)
	lookup = NewRateLimited(lookup, rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst))
	lookup = NewRetrying(lookup, logger, cfg.MaxRetries)
	lookup = NewCached(lookup, cfg.CacheTTL)
	lookup = NewLogging(lookup, logger)
	return lookup
}

// HTTPClient is the transport-level rankings client.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates the bare client. Decorate it via NewLookup for
// production use.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type rankedRow struct {
	Name       string   `json:"name"`
	ExternalID *int64   `json:"external_id,omitempty"`
	Club       *string  `json:"club,omitempty"`
	Region     *string  `json:"region,omitempty"`
	Rank       *int     `json:"rank,omitempty"`
	Age        *int     `json:"age,omitempty"`
	Gender     *string  `json:"gender,omitempty"`
	Total      *float64 `json:"total,omitempty"`
}

type rankingsResponse struct {
	Athletes []rankedRow `json:"athletes"`
}

// Query fetches one division listing. A 404 means the site has no page for
// the division; transport failures and 5xx surface as
// UpstreamUnavailableError so the resolver skips the tier.
func (c *HTTPClient) Query(ctx context.Context, division sharedtypes.Division, window sharedtypes.DateWindow) ([]athleteservice.RankedAthlete, error) {
	q := url.Values{}
	q.Set("age_category", string(division.AgeCategory))
	q.Set("weight_class", division.WeightClassLabel)
	q.Set("from", window.Start.Format(dateFormat))
	q.Set("to", window.End.Format(dateFormat))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/rankings?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build rankings request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &athleteservice.UpstreamUnavailableError{Service: "rankings", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, athleteservice.ErrDivisionUnknown
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &athleteservice.UpstreamUnavailableError{
			Service: "rankings",
			Err:     fmt.Errorf("status %d: %s", resp.StatusCode, body),
		}
	}

	var payload rankingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &athleteservice.UpstreamUnavailableError{Service: "rankings", Err: err}
	}

	out := make([]athleteservice.RankedAthlete, 0, len(payload.Athletes))
	for _, row := range payload.Athletes {
		out = append(out, toRanked(row))
	}
	return out, nil
}

func toRanked(row rankedRow) athleteservice.RankedAthlete {
	r := athleteservice.RankedAthlete{
		Name:   row.Name,
		Club:   row.Club,
		Region: row.Region,
		Rank:   row.Rank,
		Age:    row.Age,
		Total:  row.Total,
	}
	if row.ExternalID != nil {
		id := sharedtypes.ExternalID(*row.ExternalID)
		r.ExternalID = &id
	}
	if row.Gender != nil {
		g := sharedtypes.Gender(*row.Gender)
		r.Gender = &g
	}
	return r
}

// rateLimited blocks each query on a shared token bucket so the scraper
// stays under the site's quota.
type rateLimited struct {
	next    athleteservice.RankingsLookup
	limiter *rate.Limiter
}

func NewRateLimited(next athleteservice.RankingsLookup, limiter *rate.Limiter) athleteservice.RankingsLookup {
	return &rateLimited{next: next, limiter: limiter}
}

func (r *rateLimited) Query(ctx context.Context, division sharedtypes.Division, window sharedtypes.DateWindow) ([]athleteservice.RankedAthlete, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.Query(ctx, division, window)
}

// retrying retries upstream failures with exponential backoff. Unknown
// divisions are terminal, retrying those wastes quota.
type retrying struct {
	next       athleteservice.RankingsLookup
	logger     *slog.Logger
	maxRetries uint64
}

func NewRetrying(next athleteservice.RankingsLookup, logger *slog.Logger, maxRetries uint64) athleteservice.RankingsLookup {
	if maxRetries == 0 {
		maxRetries = 3
	}
	return &retrying{next: next, logger: logger, maxRetries: maxRetries}
}

func (r *retrying) Query(ctx context.Context, division sharedtypes.Division, window sharedtypes.DateWindow) ([]athleteservice.RankedAthlete, error) {
	var out []athleteservice.RankedAthlete

	operation := func() error {
		rows, err := r.next.Query(ctx, division, window)
		if err != nil {
			if err == athleteservice.ErrDivisionUnknown {
				return backoff.Permanent(err)
			}
			r.logger.WarnContext(ctx, "Rankings query will be retried",
				attr.String("division", division.String()),
				attr.Error(err),
			)
			return err
		}
		out = rows
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), r.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return out, nil
}

// cached memoizes division listings. Tier-1 fallback walks several
// divisions per result, and adjacent results hit the same pages.
type cached struct {
	next athleteservice.RankingsLookup
	ttl  *cache.TTL[[]athleteservice.RankedAthlete]
}

func NewCached(next athleteservice.RankingsLookup, ttl time.Duration) athleteservice.RankingsLookup {
	return &cached{next: next, ttl: cache.NewTTL[[]athleteservice.RankedAthlete](ttl)}
}

func (c *cached) Query(ctx context.Context, division sharedtypes.Division, window sharedtypes.DateWindow) ([]athleteservice.RankedAthlete, error) {
	key := division.String() + "|" + window.Start.Format(dateFormat) + "|" + window.End.Format(dateFormat)
	if rows, ok := c.ttl.Get(key); ok {
		return rows, nil
	}

	rows, err := c.next.Query(ctx, division, window)
	if err != nil {
		return nil, err
	}
	c.ttl.Set(key, rows)
	return rows, nil
}

// logging records each query's outcome.
type logging struct {
	next   athleteservice.RankingsLookup
	logger *slog.Logger
}

func NewLogging(next athleteservice.RankingsLookup, logger *slog.Logger) athleteservice.RankingsLookup {
	return &logging{next: next, logger: logger}
}

func (l *logging) Query(ctx context.Context, division sharedtypes.Division, window sharedtypes.DateWindow) ([]athleteservice.RankedAthlete, error) {
	start := time.Now()
	rows, err := l.next.Query(ctx, division, window)
	if err != nil {
		l.logger.WarnContext(ctx, "Rankings query failed",
			attr.String("division", division.String()),
			attr.Duration("elapsed", time.Since(start)),
			attr.Error(err),
		)
		return nil, err
	}
	l.logger.DebugContext(ctx, "Rankings query",
		attr.String("division", division.String()),
		attr.Int("rows", len(rows)),
		attr.Duration("elapsed", time.Since(start)),
	)
	return rows, nil
}
