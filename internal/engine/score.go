package engine

import (
	"sort"

	"github.com/relayops/switchyard/internal/catalog"
)

// ScoredCandidate is one ranked entry in the scorer's output.
type ScoredCandidate struct {
	Candidate       catalog.Candidate
	Breakdown       ScoreBreakdown
	EstimatedTimeMs float64
	EstimatedCost   float64
}

// ScoreCandidates ranks eligible candidates by composite score,
// descending. The composite is the weighted sum of the five preference
// axes with weights normalized to sum to 1. Budget pressure biases the
// speed and cost axes toward 0 by the overrun ratio but never excludes;
// exclusion belongs to the policy filter. Deterministic: ties resolve by
// tool name then pattern name, nothing reads a clock or random source.
func ScoreCandidates(cands []catalog.Candidate, req *SelectionRequest, cal *Calibration) []ScoredCandidate {
	w := req.Weights
	total := w.sum()
	if total <= 0 {
		w = balancedWeights
		total = w.sum()
	}

	scored := make([]ScoredCandidate, 0, len(cands))
	for _, cand := range cands {
		p := cand.Pattern
		key := cand.Key()
		modeledTime := p.CostModel.TimeAt(req.N) * cal.TimeFactor(key)
		modeledCost := p.CostModel.CostAt(req.N) * cal.CostFactor(key)

		speed := p.Match.Speed
		if req.Budget.MaxTimeMs != nil && modeledTime > *req.Budget.MaxTimeMs {
			speed = clampByOverrun(speed, modeledTime, *req.Budget.MaxTimeMs)
		}
		costAxis := p.Match.Cost
		if req.Budget.MaxCost != nil && modeledCost > *req.Budget.MaxCost {
			costAxis = clampByOverrun(costAxis, modeledCost, *req.Budget.MaxCost)
		}

		b := ScoreBreakdown{
			Speed:        speed,
			Accuracy:     p.Match.Accuracy,
			Cost:         costAxis,
			Complexity:   p.Match.Complexity,
			Completeness: p.Match.Completeness,
		}
		b.Composite = (w.Speed*b.Speed + w.Accuracy*b.Accuracy + w.Cost*b.Cost +
			w.Complexity*b.Complexity + w.Completeness*b.Completeness) / total

		scored = append(scored, ScoredCandidate{
			Candidate:       cand,
			Breakdown:       b,
			EstimatedTimeMs: modeledTime,
			EstimatedCost:   modeledCost,
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Breakdown.Composite != scored[j].Breakdown.Composite {
			return scored[i].Breakdown.Composite > scored[j].Breakdown.Composite
		}
		if scored[i].Candidate.Tool.Name != scored[j].Candidate.Tool.Name {
			return scored[i].Candidate.Tool.Name < scored[j].Candidate.Tool.Name
		}
		return scored[i].Candidate.PatternName < scored[j].Candidate.PatternName
	})

	return scored
}

// clampByOverrun scales an axis by budget/modeled, pushing it toward 0
// as the overrun grows. A zero budget zeroes the axis outright.
func clampByOverrun(axis, modeled, budget float64) float64 {
	if budget <= 0 || modeled <= 0 {
		return 0
	}
	return axis * (budget / modeled)
}
