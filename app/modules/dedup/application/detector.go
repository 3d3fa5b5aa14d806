package dedupservice

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	athletedb "github.com/liftroster/rostersync/app/modules/athlete/infrastructure/repositories"
	dedupevents "github.com/liftroster/rostersync/app/modules/dedup/domain/events"
	"github.com/liftroster/rostersync/app/shared/attr"
	"github.com/liftroster/rostersync/app/shared/results"
	sharedtypes "github.com/liftroster/rostersync/app/shared/types"
)

// Case classification.
const (
	CaseMerge     = "merge"
	CaseSplit     = "split"
	CaseAmbiguous = "ambiguous"

	ActionAutoMerge    = "auto_merge"
	ActionManualReview = "manual_review"
	ActionSplit        = "split"
)

// Scoring weights. Base is the name match itself; positive weights
// corroborate a shared identity, negative ones separate identities.
const (
	scoreBase                 = 20
	scoreExternalIDAgree      = 30
	scoreExternalIDDistinct   = -10
	scoreMembershipAgree      = 20
	scoreMembershipDistinct   = -15
	scoreIdenticalPerformance = 15
	scoreTemporalConflict     = 10
	scoreWeightClassAnomaly   = 5
	scorePerformanceAnomaly   = 5
	scoreDateRangeOverlap     = 10

	weightClassAnomalySpanKg = 20.0
	performanceJumpKg        = 50.0
)

// Scope narrows a duplicate scan. The zero value scans the whole roster.
type Scope struct {
	DisplayName string
}

// DuplicateCase is one flagged name group. Ephemeral output, nothing is
// written back to the store.
type DuplicateCase struct {
	CaseID            uuid.UUID               `json:"case_id"`
	DisplayName       string                  `json:"display_name"`
	AthleteIDs        []sharedtypes.AthleteID `json:"athlete_ids"`
	ConfidenceScore   int                     `json:"confidence_score"`
	CaseType          string                  `json:"case_type"`
	Evidence          []string                `json:"evidence"`
	RecommendedAction string                  `json:"recommended_action"`
}

// ScanReport is the detector's output: the cases over threshold plus run
// counters.
type ScanReport struct {
	GroupsScanned int
	Cases         []DuplicateCase
}

// memberSummary condenses one group member's result history.
type memberSummary struct {
	athlete *athletedb.Athlete
	results []*athletedb.ResultRecord

	firstDate time.Time
	lastDate  time.Time
}

// DetectDuplicates scans the roster for display names shared by multiple
// athletes, scoring each group by how strongly the evidence suggests one
// over-merged person versus several distinct people. Read-only.
func (s *DedupService) DetectDuplicates(ctx context.Context, scope Scope, minConfidence int) (results.OperationResult[*ScanReport, error], error) {
	if minConfidence <= 0 {
		minConfidence = s.minConfidence
	}

	return withTelemetry(s, ctx, "DetectDuplicates", func(ctx context.Context) (results.OperationResult[*ScanReport, error], error) {
		groups, err := s.repo.ListNameGroups(ctx, s.db, 2)
		if err != nil {
			return results.OperationResult[*ScanReport, error]{}, err
		}

		report := &ScanReport{}
		for _, group := range groups {
			if scope.DisplayName != "" && !strings.EqualFold(group.DisplayName, scope.DisplayName) {
				continue
			}
			report.GroupsScanned++

			c, err := s.scoreGroup(ctx, group)
			if err != nil {
				return results.OperationResult[*ScanReport, error]{}, err
			}
			if c.ConfidenceScore >= minConfidence {
				report.Cases = append(report.Cases, c)
			}
		}

		sort.Slice(report.Cases, func(i, j int) bool {
			return report.Cases[i].ConfidenceScore > report.Cases[j].ConfidenceScore
		})

		s.logger.InfoContext(ctx, "Duplicate scan finished",
			attr.Int("groups_scanned", report.GroupsScanned),
			attr.Int("cases_emitted", len(report.Cases)),
		)
		s.publishEvent(ctx, dedupevents.ScanCompleted, &dedupevents.ScanCompletedPayload{
			CorrelationID: attr.CorrelationIDFromContext(ctx),
			GroupsScanned: report.GroupsScanned,
			CasesEmitted:  len(report.Cases),
		})

		return results.SuccessResult[*ScanReport, error](report), nil
	})
}

func (s *DedupService) scoreGroup(ctx context.Context, group athletedb.NameGroup) (DuplicateCase, error) {
	members := make([]memberSummary, 0, len(group.AthleteIDs))
	for _, id := range group.AthleteIDs {
		a, err := s.repo.GetAthlete(ctx, s.db, id)
		if err != nil {
			return DuplicateCase{}, err
		}
		rs, err := s.repo.ListResults(ctx, s.db, id)
		if err != nil {
			return DuplicateCase{}, err
		}
		members = append(members, summarize(a, rs))
	}

	score := scoreBase
	var evidence []string

	idAgreement := false
	switch ids := distinctExternalIDs(members); {
	case len(ids) == 1:
		idAgreement = true
		score += scoreExternalIDAgree
		evidence = append(evidence, "external ids agree")
	case len(ids) > 1:
		score += scoreExternalIDDistinct
		evidence = append(evidence, "distinct external ids")
	}

	switch carried, distinct := membershipSpread(members); {
	case carried >= 2 && distinct == 1:
		score += scoreMembershipAgree
		evidence = append(evidence, "membership numbers agree")
	case distinct >= 2:
		score += scoreMembershipDistinct
		evidence = append(evidence, "distinct membership numbers")
	}

	identicalPerf := hasIdenticalPerformance(members)
	if identicalPerf {
		score += scoreIdenticalPerformance
		evidence = append(evidence, "identical attempt signatures at different meets")
	}

	temporalConflict := false
	weightAnomaly := false
	perfAnomaly := false
	for _, m := range members {
		if hasTemporalConflict(m.results) {
			temporalConflict = true
		}
		if weightClassSpan(m.results) > weightClassAnomalySpanKg {
			weightAnomaly = true
		}
		if hasPerformanceJump(m.results) {
			perfAnomaly = true
		}
	}
	if temporalConflict {
		score += scoreTemporalConflict
		evidence = append(evidence, "results at two meets on the same date")
	}
	if weightAnomaly {
		score += scoreWeightClassAnomaly
		evidence = append(evidence, "weight class range spans over 20kg")
	}
	if perfAnomaly {
		score += scorePerformanceAnomaly
		evidence = append(evidence, "consecutive totals jump over 50kg")
	}

	if dateRangesOverlap(members) {
		score += scoreDateRangeOverlap
		evidence = append(evidence, "overlapping competition date ranges")
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	caseType := CaseAmbiguous
	switch {
	case idAgreement || identicalPerf || temporalConflict:
		caseType = CaseMerge
	case weightAnomaly || perfAnomaly:
		caseType = CaseSplit
	}

	action := ActionSplit
	switch {
	case score >= 90 && caseType == CaseMerge:
		action = ActionAutoMerge
	case score >= 70:
		action = ActionManualReview
	}

	ids := make([]sharedtypes.AthleteID, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.athlete.ID)
	}

	return DuplicateCase{
		CaseID:            uuid.New(),
		DisplayName:       group.DisplayName,
		AthleteIDs:        ids,
		ConfidenceScore:   score,
		CaseType:          caseType,
		Evidence:          evidence,
		RecommendedAction: action,
	}, nil
}

func summarize(a *athletedb.Athlete, rs []*athletedb.ResultRecord) memberSummary {
	m := memberSummary{athlete: a, results: rs}
	for _, r := range rs {
		if m.firstDate.IsZero() || r.EventDate.Before(m.firstDate) {
			m.firstDate = r.EventDate
		}
		if r.EventDate.After(m.lastDate) {
			m.lastDate = r.EventDate
		}
	}
	return m
}

// distinctExternalIDs collects the distinct ids carried across the group,
// contamination slots included. Empty when nobody carries one.
func distinctExternalIDs(members []memberSummary) map[sharedtypes.ExternalID]struct{} {
	ids := make(map[sharedtypes.ExternalID]struct{})
	for _, m := range members {
		for _, id := range m.athlete.ExternalIDs() {
			ids[id] = struct{}{}
		}
	}
	return ids
}

func membershipSpread(members []memberSummary) (carried, distinct int) {
	seen := make(map[sharedtypes.MembershipNumber]struct{})
	for _, m := range members {
		if m.athlete.MembershipNumber == nil {
			continue
		}
		carried++
		seen[*m.athlete.MembershipNumber] = struct{}{}
	}
	return carried, len(seen)
}

// hasIdenticalPerformance reports whether two different members posted the
// same six-attempt signature at different meets.
func hasIdenticalPerformance(members []memberSummary) bool {
	type sighting struct {
		athleteID sharedtypes.AthleteID
		meetID    sharedtypes.MeetID
	}
	seen := make(map[[6]float64][]sighting)
	for _, m := range members {
		for _, r := range m.results {
			sig := r.AttemptSignature()
			if sig == ([6]float64{}) {
				continue
			}
			for _, prev := range seen[sig] {
				if prev.athleteID != r.AthleteID && prev.meetID != r.MeetID {
					return true
				}
			}
			seen[sig] = append(seen[sig], sighting{athleteID: r.AthleteID, meetID: r.MeetID})
		}
	}
	return false
}

// hasTemporalConflict reports whether one member has results at two
// different meets on the same date. Nobody lifts in two places at once.
func hasTemporalConflict(rs []*athletedb.ResultRecord) bool {
	byDate := make(map[string]sharedtypes.MeetID)
	for _, r := range rs {
		day := r.EventDate.Format("2006-01-02")
		if prev, ok := byDate[day]; ok && prev != r.MeetID {
			return true
		}
		byDate[day] = r.MeetID
	}
	return false
}

// weightClassSpan measures the numeric spread of one member's weight class
// labels, in kg.
func weightClassSpan(rs []*athletedb.ResultRecord) float64 {
	var min, max float64
	first := true
	for _, r := range rs {
		kg, ok := classKg(r.WeightClassLabel)
		if !ok {
			continue
		}
		if first {
			min, max = kg, kg
			first = false
			continue
		}
		if kg < min {
			min = kg
		}
		if kg > max {
			max = kg
		}
	}
	if first {
		return 0
	}
	return max - min
}

func classKg(label string) (float64, bool) {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(label), "+"), "kg")
	kg, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, false
	}
	return kg, true
}

// hasPerformanceJump reports whether consecutive totals, in event date
// order, differ by more than the jump threshold.
func hasPerformanceJump(rs []*athletedb.ResultRecord) bool {
	ordered := make([]*athletedb.ResultRecord, len(rs))
	copy(ordered, rs)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].EventDate.Before(ordered[j].EventDate) })

	for i := 1; i < len(ordered); i++ {
		diff := ordered[i].Total - ordered[i-1].Total
		if diff < 0 {
			diff = -diff
		}
		if diff > performanceJumpKg {
			return true
		}
	}
	return false
}

func dateRangesOverlap(members []memberSummary) bool {
	for i := 0; i < len(members); i++ {
		if members[i].firstDate.IsZero() {
			continue
		}
		for j := i + 1; j < len(members); j++ {
			if members[j].firstDate.IsZero() {
				continue
			}
			if !members[i].firstDate.After(members[j].lastDate) &&
				!members[j].firstDate.After(members[i].lastDate) {
				return true
			}
		}
	}
	return false
}
