package athleteservice

import (
	"context"
	"sync"

	"github.com/liftroster/rostersync/app/shared/attr"
	"github.com/liftroster/rostersync/app/shared/results"
)

// BatchSummary is the outcome of a batch resolution run.
type BatchSummary struct {
	Total    int
	Resolved int
	Created  int
	Failed   int
	ByTier   map[string]int
}

// ResolveBatch resolves a slice of incoming results through a bounded
// worker pool. Each item goes through the full Resolve pipeline, so two
// items for the same display name still serialize on the name lock.
func (s *AthleteService) ResolveBatch(ctx context.Context, batch []MatchSignals) (results.OperationResult[*BatchSummary, error], error) {
	return withTelemetry(s, ctx, "ResolveBatch", "", func(ctx context.Context) (results.OperationResult[*BatchSummary, error], error) {
		workers := s.workers
		if workers < 1 {
			workers = 1
		}
		if workers > len(batch) {
			workers = len(batch)
		}

		summary := &BatchSummary{Total: len(batch), ByTier: make(map[string]int)}
		if len(batch) == 0 {
			return results.SuccessResult[*BatchSummary, error](summary), nil
		}

		var (
			mu   sync.Mutex
			wg   sync.WaitGroup
			jobs = make(chan MatchSignals)
		)

		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for sig := range jobs {
					res, err := s.Resolve(ctx, sig)

					mu.Lock()
					switch {
					case err != nil:
						summary.Failed++
					case res.IsFailure():
						summary.Failed++
					case res.IsSuccess():
						summary.Resolved++
						outcome := *res.Success
						summary.ByTier[outcome.Tier]++
						if outcome.Created {
							summary.Created++
						}
					}
					mu.Unlock()

					if err != nil {
						s.logger.ErrorContext(ctx, "Batch item failed",
							attr.String("display_name", sig.DisplayName),
							attr.Error(err),
						)
					}
				}
			}()
		}

	feed:
		for _, sig := range batch {
			select {
			case <-ctx.Done():
				break feed
			case jobs <- sig:
			}
		}
		close(jobs)
		wg.Wait()

		if err := ctx.Err(); err != nil {
			return results.FailureResult[*BatchSummary](err), nil
		}

		s.logger.InfoContext(ctx, "Batch resolution finished",
			attr.Int("total", summary.Total),
			attr.Int("resolved", summary.Resolved),
			attr.Int("created", summary.Created),
			attr.Int("failed", summary.Failed),
		)
		return results.SuccessResult[*BatchSummary, error](summary), nil
	})
}
