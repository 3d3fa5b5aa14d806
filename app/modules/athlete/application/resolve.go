package athleteservice

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/uptrace/bun"

	athleteevents "github.com/liftroster/rostersync/app/modules/athlete/domain/events"
	athletedb "github.com/liftroster/rostersync/app/modules/athlete/infrastructure/repositories"
	"github.com/liftroster/rostersync/app/shared/attr"
	"github.com/liftroster/rostersync/app/shared/results"
)

// Tier names, in evaluation order. Each tier is one strategy in the
// resolver's fallback chain; the first to produce an athlete wins.
const (
	TierExternalID     = "external_id"
	TierNameMatch      = "name_match"
	TierDivision       = "division_crosscheck"
	TierDivisionRepair = "division_repair"
	TierHistory        = "history_crosscheck"
	TierSoftFallback   = "soft_fallback"
)

// ResolveOutcome is a settled resolution: the owning athlete, whether it
// was created by this call, and the tier that decided.
type ResolveOutcome struct {
	Athlete *athletedb.Athlete
	Created bool
	Tier    string
}

// resolveState carries what the steps learn as the chain advances.
// Candidates are loaded once by the name-match step and narrowed by the
// verification tiers.
type resolveState struct {
	signals    MatchSignals
	candidates []*athletedb.Athlete
}

// resolveStep is one strategy: it either settles the resolution, passes
// with a reason, or fails. Upstream failures pass the tier; store failures
// abort the call.
type resolveStep struct {
	name string
	fn   func(ctx context.Context, db bun.IDB, st *resolveState) (*ResolveOutcome, string, error)
}

// Resolve decides which canonical athlete one scraped result belongs to,
// creating a new record when nothing matches. Tiers run strictly in order;
// writes for the same display name are serialized through a striped lock.
func (s *AthleteService) Resolve(ctx context.Context, signals MatchSignals) (results.OperationResult[*ResolveOutcome, error], error) {
	if strings.TrimSpace(signals.DisplayName) == "" {
		return results.FailureResult[*ResolveOutcome, error](ErrMissingName), nil
	}

	return withTelemetry(s, ctx, "Resolve", signals.DisplayName, func(ctx context.Context) (results.OperationResult[*ResolveOutcome, error], error) {
		lock := s.nameLock(signals.DisplayName)
		lock.Lock()
		defer lock.Unlock()

		return runInTx(s, ctx, func(ctx context.Context, tx bun.IDB) (results.OperationResult[*ResolveOutcome, error], error) {
			return s.executeResolve(ctx, tx, signals)
		})
	})
}

func (s *AthleteService) executeResolve(ctx context.Context, db bun.IDB, signals MatchSignals) (results.OperationResult[*ResolveOutcome, error], error) {
	st := &resolveState{signals: signals}

	steps := []resolveStep{
		{TierExternalID, s.stepExternalID},
		{TierNameMatch, s.stepNameMatch},
		{TierDivision, s.stepTier1},
		{TierDivisionRepair, s.stepTier1Fallback},
		{TierHistory, s.stepTier2},
		{TierSoftFallback, s.stepSoftFallback},
	}

	correlationID := attr.CorrelationIDFromContext(ctx)

	for _, step := range steps {
		start := time.Now()
		outcome, reason, err := step.fn(ctx, db, st)
		elapsed := time.Since(start)

		switch {
		case err != nil:
			var upstream *UpstreamUnavailableError
			if !errors.As(err, &upstream) {
				// Store failure, fatal to this resolution.
				return results.OperationResult[*ResolveOutcome, error]{}, err
			}
			s.logger.WarnContext(ctx, "Tier skipped, upstream unavailable",
				attr.String("tier", step.name),
				attr.String("display_name", signals.DisplayName),
				attr.Error(err),
			)
			s.metrics.RecordTierAttempt(ctx, step.name, "error")
			s.publishEvent(ctx, athleteevents.ResolutionAttempt, &athleteevents.ResolutionAttemptPayload{
				CorrelationID: correlationID,
				DisplayName:   signals.DisplayName,
				Tier:          step.name,
				Outcome:       "error",
				Reason:        err.Error(),
				Duration:      elapsed,
			})

		case outcome != nil:
			s.metrics.RecordTierAttempt(ctx, step.name, "resolved")
			s.publishEvent(ctx, athleteevents.ResolutionAttempt, &athleteevents.ResolutionAttemptPayload{
				CorrelationID: correlationID,
				DisplayName:   signals.DisplayName,
				Tier:          step.name,
				Outcome:       "resolved",
				Duration:      elapsed,
			})
			s.publishEvent(ctx, athleteevents.ResolutionResolved, &athleteevents.ResolutionResolvedPayload{
				CorrelationID: correlationID,
				DisplayName:   signals.DisplayName,
				AthleteID:     outcome.Athlete.ID,
				Tier:          outcome.Tier,
				Created:       outcome.Created,
			})
			return results.SuccessResult[*ResolveOutcome, error](outcome), nil

		default:
			s.metrics.RecordTierAttempt(ctx, step.name, "pass")
			s.publishEvent(ctx, athleteevents.ResolutionAttempt, &athleteevents.ResolutionAttemptPayload{
				CorrelationID: correlationID,
				DisplayName:   signals.DisplayName,
				Tier:          step.name,
				Outcome:       "pass",
				Reason:        reason,
				Duration:      elapsed,
			})
		}
	}

	ambiguous := &AmbiguousIdentityError{DisplayName: signals.DisplayName}
	for _, c := range st.candidates {
		ambiguous.Candidates = append(ambiguous.Candidates, c.ID)
	}
	return results.FailureResult[*ResolveOutcome, error](error(ambiguous)), nil
}

// stepExternalID is the fast path: a unique external id hit whose name
// agrees settles the resolution in one lookup.
func (s *AthleteService) stepExternalID(ctx context.Context, db bun.IDB, st *resolveState) (*ResolveOutcome, string, error) {
	if st.signals.ExternalID == nil {
		return nil, "no external id on signals", nil
	}

	hits, err := s.repo.FindByExternalID(ctx, db, *st.signals.ExternalID)
	if err != nil {
		return nil, "", err
	}

	switch len(hits) {
	case 0:
		return nil, "external id not in roster", nil

	case 1:
		if sameName(hits[0].DisplayName, st.signals.DisplayName) {
			return &ResolveOutcome{Athlete: hits[0], Tier: TierExternalID}, "", nil
		}
		// The id alone is not trusted when the name disagrees; unrelated
		// people share names, but a shared id under a different name is a
		// scraping defect until proven otherwise.
		s.logger.WarnContext(ctx, "External id held under different name",
			attr.ExternalID("external_id", *st.signals.ExternalID),
			attr.String("holder_name", hits[0].DisplayName),
			attr.String("incoming_name", st.signals.DisplayName),
		)
		return nil, "external id held under different name", nil

	default:
		s.logger.ErrorContext(ctx, "External id duplicated across athletes, integrity violation",
			attr.ExternalID("external_id", *st.signals.ExternalID),
			attr.Int("holders", len(hits)),
		)
		for _, h := range hits {
			if sameName(h.DisplayName, st.signals.DisplayName) {
				return &ResolveOutcome{Athlete: h, Tier: TierExternalID}, "", nil
			}
		}
		return nil, "external id duplicated, no name match", nil
	}
}

// stepNameMatch loads the exact-name candidate set. Zero candidates is
// terminal (create); one or more feeds the verification tiers, with the
// cheap disambiguations tried first.
func (s *AthleteService) stepNameMatch(ctx context.Context, db bun.IDB, st *resolveState) (*ResolveOutcome, string, error) {
	candidates, err := s.repo.FindByName(ctx, db, st.signals.DisplayName)
	if err != nil {
		return nil, "", err
	}
	st.candidates = candidates

	if len(candidates) == 0 {
		return s.createFromSignals(ctx, db, st.signals)
	}

	if len(candidates) == 1 {
		sole := candidates[0]
		if st.signals.ExternalID != nil && sole.ExternalID == nil {
			if err := s.enrichExternalID(ctx, db, sole, *st.signals.ExternalID); err != nil {
				return nil, "", err
			}
			if sole.ExternalID != nil && *sole.ExternalID == *st.signals.ExternalID {
				return &ResolveOutcome{Athlete: sole, Tier: TierNameMatch}, "", nil
			}
		}
		return nil, "sole candidate needs verification", nil
	}

	// Cheap disambiguation before the expensive tiers.
	if st.signals.ExternalID != nil {
		for _, c := range candidates {
			if c.ExternalID != nil && *c.ExternalID == *st.signals.ExternalID {
				return &ResolveOutcome{Athlete: c, Tier: TierNameMatch}, "", nil
			}
		}

		var unclaimed []*athletedb.Athlete
		for _, c := range candidates {
			if c.ExternalID == nil {
				unclaimed = append(unclaimed, c)
			}
		}
		if len(unclaimed) == 1 {
			if err := s.enrichExternalID(ctx, db, unclaimed[0], *st.signals.ExternalID); err != nil {
				return nil, "", err
			}
			if unclaimed[0].ExternalID != nil && *unclaimed[0].ExternalID == *st.signals.ExternalID {
				return &ResolveOutcome{Athlete: unclaimed[0], Tier: TierNameMatch}, "", nil
			}
		}
	}

	return nil, "multiple candidates, verification required", nil
}

// createFromSignals inserts a new athlete. A unique violation means another
// resolution created the holder between our lookup and the insert; the
// retry query recovers it.
func (s *AthleteService) createFromSignals(ctx context.Context, db bun.IDB, signals MatchSignals) (*ResolveOutcome, string, error) {
	athlete := &athletedb.Athlete{
		DisplayName:      signals.DisplayName,
		ExternalID:       signals.ExternalID,
		MembershipNumber: signals.MembershipNumber,
	}

	err := s.repo.CreateAthlete(ctx, db, athlete)
	if err == nil {
		s.logger.InfoContext(ctx, "Created new athlete",
			attr.AthleteID("athlete_id", athlete.ID),
			attr.String("display_name", athlete.DisplayName),
		)
		return &ResolveOutcome{Athlete: athlete, Created: true, Tier: TierNameMatch}, "", nil
	}

	if errors.Is(err, athletedb.ErrUniqueViolation) && signals.ExternalID != nil {
		hits, findErr := s.repo.FindByExternalID(ctx, db, *signals.ExternalID)
		if findErr != nil {
			return nil, "", findErr
		}
		if len(hits) == 1 && sameName(hits[0].DisplayName, signals.DisplayName) {
			return &ResolveOutcome{Athlete: hits[0], Tier: TierNameMatch}, "", nil
		}
		// The id belongs to a differently named athlete; create without it
		// rather than hand the result to the holder.
		if len(hits) > 0 {
			s.logger.WarnContext(ctx, "Creating without external id, id held under different name",
				attr.String("display_name", signals.DisplayName),
				attr.ExternalID("external_id", *signals.ExternalID),
				attr.AthleteID("holder_id", hits[0].ID),
			)
			athlete.ExternalID = nil
			if createErr := s.repo.CreateAthlete(ctx, db, athlete); createErr != nil {
				return nil, "", createErr
			}
			return &ResolveOutcome{Athlete: athlete, Created: true, Tier: TierNameMatch}, "", nil
		}
	}
	return nil, "", err
}

// stepSoftFallback reuses the first name-matching candidate rather than
// fabricating a duplicate identity.
func (s *AthleteService) stepSoftFallback(ctx context.Context, db bun.IDB, st *resolveState) (*ResolveOutcome, string, error) {
	if !s.softFallback {
		return nil, "soft fallback disabled", nil
	}
	if len(st.candidates) == 0 {
		return nil, "no candidates to fall back on", nil
	}

	c := st.candidates[0]
	s.logger.WarnContext(ctx, "Verification exhausted, reusing first name match",
		attr.String("display_name", st.signals.DisplayName),
		attr.AthleteID("athlete_id", c.ID),
		attr.Int("candidates", len(st.candidates)),
	)
	return &ResolveOutcome{Athlete: c, Tier: TierSoftFallback}, "", nil
}

func sameName(a, b string) bool {
	return normalizeName(a) == normalizeName(b)
}
