package athleteservice

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/uptrace/bun"

	athletedb "github.com/liftroster/rostersync/app/modules/athlete/infrastructure/repositories"
	"github.com/liftroster/rostersync/app/shared/attr"
	sharedtypes "github.com/liftroster/rostersync/app/shared/types"
	"github.com/liftroster/rostersync/internal/weightclass"
)

// stepTier1 cross-checks the division rankings: if exactly one athlete with
// our display name was ranked in this division around the event date, the
// ranking row verifies the identity and supplies enrichment.
func (s *AthleteService) stepTier1(ctx context.Context, db bun.IDB, st *resolveState) (*ResolveOutcome, string, error) {
	sig := st.signals
	if sig.AgeCategory == "" || sig.WeightClassLabel == "" || sig.EventDate.IsZero() {
		return nil, "division key incomplete", nil
	}

	return s.divisionLookup(ctx, db, st, sharedtypes.Division{
		AgeCategory:      sig.AgeCategory,
		WeightClassLabel: sig.WeightClassLabel,
	})
}

// stepTier1Fallback repairs the division key: first by recomputing the
// weight class from bodyweight, then by walking adjacent age categories
// youngest to oldest with the senior division as the final attempt. The
// recorded age category is sometimes an approximation.
func (s *AthleteService) stepTier1Fallback(ctx context.Context, db bun.IDB, st *resolveState) (*ResolveOutcome, string, error) {
	sig := st.signals
	if sig.BodyweightKg <= 0 || sig.EventDate.IsZero() || sig.AgeCategory == "" {
		return nil, "not enough signals to repair division", nil
	}

	if label, err := weightclass.Classify(sig.AgeCategory, sig.BodyweightKg, sig.EventDate); err == nil && label != sig.WeightClassLabel {
		outcome, _, lookupErr := s.divisionLookup(ctx, db, st, sharedtypes.Division{
			AgeCategory:      sig.AgeCategory,
			WeightClassLabel: label,
		})
		if lookupErr != nil {
			return nil, "", lookupErr
		}
		if outcome != nil {
			outcome.Tier = TierDivisionRepair
			return outcome, "", nil
		}
	}

	for _, cat := range adjacentAgeCategories(sig.AgeCategory) {
		label, err := weightclass.Classify(cat, sig.BodyweightKg, sig.EventDate)
		if err != nil {
			continue
		}
		outcome, _, lookupErr := s.divisionLookup(ctx, db, st, sharedtypes.Division{
			AgeCategory:      cat,
			WeightClassLabel: label,
		})
		if lookupErr != nil {
			return nil, "", lookupErr
		}
		if outcome != nil {
			outcome.Tier = TierDivisionRepair
			return outcome, "", nil
		}
	}

	return nil, "no adjacent division verified", nil
}

// divisionLookup runs one rankings query and tries to line the verified row
// up with a candidate.
func (s *AthleteService) divisionLookup(ctx context.Context, db bun.IDB, st *resolveState, division sharedtypes.Division) (*ResolveOutcome, string, error) {
	sig := st.signals
	window := s.tolerances.DivisionWindow(sig.EventDate)

	ranked, err := s.rankings.Query(ctx, division, window)
	if err != nil {
		if errors.Is(err, ErrDivisionUnknown) {
			return nil, "division unknown on rankings site", nil
		}
		return nil, "", err
	}

	var matches []RankedAthlete
	for _, r := range ranked {
		if sameName(r.Name, sig.DisplayName) {
			matches = append(matches, r)
		}
	}

	// An ambiguous name can sometimes be narrowed by the expected total.
	if len(matches) > 1 && sig.ExpectedTotal != nil {
		var narrowed []RankedAthlete
		for _, r := range matches {
			if r.Total != nil && math.Abs(*r.Total-*sig.ExpectedTotal) <= s.tolerances.TotalTolerance {
				narrowed = append(narrowed, r)
			}
		}
		matches = narrowed
	}

	if len(matches) != 1 {
		return nil, fmt.Sprintf("%d ranked matches in %s", len(matches), division), nil
	}

	return s.selectByRanked(ctx, db, st, matches[0])
}

// selectByRanked maps a verified ranking row back onto the candidate set.
func (s *AthleteService) selectByRanked(ctx context.Context, db bun.IDB, st *resolveState, row RankedAthlete) (*ResolveOutcome, string, error) {
	if row.ExternalID != nil {
		for _, c := range st.candidates {
			if c.ExternalID != nil && *c.ExternalID == *row.ExternalID {
				if err := s.enrichFromRanked(ctx, db, c, row); err != nil {
					return nil, "", err
				}
				return &ResolveOutcome{Athlete: c, Tier: TierDivision}, "", nil
			}
		}

		var unclaimed []*athletedb.Athlete
		for _, c := range st.candidates {
			if c.ExternalID == nil {
				unclaimed = append(unclaimed, c)
			}
		}
		if len(unclaimed) == 1 {
			c := unclaimed[0]
			if err := s.enrichExternalID(ctx, db, c, *row.ExternalID); err != nil {
				return nil, "", err
			}
			if c.ExternalID == nil || *c.ExternalID != *row.ExternalID {
				// The id turned out to belong to someone else; the ranking
				// row does not verify this candidate after all.
				return nil, "ranked external id claimed elsewhere", nil
			}
			if err := s.enrichFromRanked(ctx, db, c, row); err != nil {
				return nil, "", err
			}
			return &ResolveOutcome{Athlete: c, Tier: TierDivision}, "", nil
		}

		return nil, "verified ranking matches no candidate", nil
	}

	// Without an external id on the ranking row, it can only confirm a sole
	// candidate.
	if len(st.candidates) == 1 {
		c := st.candidates[0]
		if err := s.enrichFromRanked(ctx, db, c, row); err != nil {
			return nil, "", err
		}
		return &ResolveOutcome{Athlete: c, Tier: TierDivision}, "", nil
	}
	return nil, "ranking row carries no external id", nil
}

// stepTier2 cross-checks each identified candidate's full competition
// history for the incoming meet. First verifying candidate wins.
func (s *AthleteService) stepTier2(ctx context.Context, db bun.IDB, st *resolveState) (*ResolveOutcome, string, error) {
	sig := st.signals
	if sig.MeetName == "" || sig.EventDate.IsZero() {
		return nil, "meet name or date missing", nil
	}

	for _, c := range st.candidates {
		if c.ExternalID == nil {
			continue
		}

		entries, err := s.history.History(ctx, *c.ExternalID)
		if err != nil {
			// History for one candidate being down should not kill the
			// whole tier; the next candidate may still verify.
			s.logger.WarnContext(ctx, "Member history unavailable for candidate",
				attr.AthleteID("athlete_id", c.ID),
				attr.Error(err),
			)
			continue
		}

		entry, verified, err := s.verifyAgainstHistory(ctx, sig, entries)
		if err != nil {
			return nil, "", err
		}
		if !verified {
			continue
		}

		if entry.MembershipNumber != nil {
			if err := s.enrichMembership(ctx, db, c, *entry.MembershipNumber); err != nil {
				return nil, "", err
			}
		}
		return &ResolveOutcome{Athlete: c, Tier: TierHistory}, "", nil
	}

	return nil, "no candidate history verified", nil
}

// verifyAgainstHistory scans a member's history for an entry matching the
// incoming result. Attributes that are present and disagree disqualify an
// entry; name+date matches with incomplete attribute coverage need the
// meet-page participation check before they count.
func (s *AthleteService) verifyAgainstHistory(ctx context.Context, sig MatchSignals, entries []HistoryEntry) (HistoryEntry, bool, error) {
	for _, e := range entries {
		if !strings.EqualFold(strings.TrimSpace(e.MeetName), strings.TrimSpace(sig.MeetName)) {
			continue
		}

		tolerance := s.tolerances.DateToleranceFor(e.MeetName)
		gap := e.Date.Sub(sig.EventDate)
		if gap < 0 {
			gap = -gap
		}
		if gap > tolerance {
			continue
		}

		if e.Category != "" && sig.WeightClassLabel != "" && !categoryMatches(e.Category, sig.WeightClassLabel) {
			continue
		}

		agree, complete := attributesAgree(e, sig, s.tolerances)
		if !agree {
			continue
		}

		if !complete {
			if sig.MeetID == "" {
				continue
			}
			ok, err := s.history.VerifyOnMeetPage(ctx, sig.MeetID, sig.DisplayName)
			if err != nil {
				var upstream *UpstreamUnavailableError
				if errors.As(err, &upstream) {
					continue
				}
				return HistoryEntry{}, false, err
			}
			if !ok {
				continue
			}
		}

		return e, true, nil
	}
	return HistoryEntry{}, false, nil
}

// attributesAgree compares the lift attributes both sides carry. complete
// means every one of total, snatch, clean&jerk and bodyweight was present
// on both sides and agreed.
func attributesAgree(e HistoryEntry, sig MatchSignals, tol Tolerances) (agree bool, complete bool) {
	compared := 0

	check := func(have *float64, want *float64, tolerance float64) bool {
		if have == nil || want == nil {
			return true
		}
		compared++
		return math.Abs(*have-*want) <= tolerance
	}

	if !check(e.Total, sig.ExpectedTotal, tol.TotalTolerance) {
		return false, false
	}
	if !check(e.Snatch, sig.ExpectedSnatch, tol.LiftTolerance) {
		return false, false
	}
	if !check(e.CJ, sig.ExpectedCJ, tol.LiftTolerance) {
		return false, false
	}

	bw := float64(sig.BodyweightKg)
	var bwPtr *float64
	if sig.BodyweightKg > 0 {
		bwPtr = &bw
	}
	if !check(e.Bodyweight, bwPtr, tol.BodyweightTolerance) {
		return false, false
	}

	return true, compared == 4
}

// categoryMatches reports whether a history category string and a weight
// class label refer to the same class, by digit-substring containment
// ("M94" vs "94kg").
func categoryMatches(category, label string) bool {
	c := strings.ToLower(category)
	l := strings.ToLower(strings.TrimSuffix(strings.TrimPrefix(label, "+"), "kg"))
	if l == "" {
		return true
	}
	return strings.Contains(c, l)
}

// adjacentAgeCategories orders the age brackets to retry when the recorded
// category fails to verify: youngest first, the senior/open division always
// last. Only the division already queried is skipped, so a masters category
// still falls back to senior.
func adjacentAgeCategories(cat sharedtypes.AgeCategory) []sharedtypes.AgeCategory {
	prefix := ""
	if weightclass.GenderFor(cat) == sharedtypes.GenderFemale {
		prefix = "Women "
	}

	var out []sharedtypes.AgeCategory
	for _, name := range []sharedtypes.AgeCategory{"Youth", "Junior", sharedtypes.AgeCategorySenior} {
		adjacent := sharedtypes.AgeCategory(prefix) + name
		if strings.EqualFold(string(adjacent), string(cat)) {
			continue
		}
		out = append(out, adjacent)
	}
	return out
}
