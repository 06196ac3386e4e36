package engine

import (
	"fmt"
	"strings"

	"github.com/relayops/switchyard/internal/catalog"
)

// FilterCandidates applies the hard constraints and splits candidates
// into eligible and excluded. Pure and order-preserving; the scorer
// never excludes, only biases, so every hard "no" lives here.
func FilterCandidates(cands []catalog.Candidate, req *SelectionRequest) ([]catalog.Candidate, []Exclusion) {
	eligible := make([]catalog.Candidate, 0, len(cands))
	var excluded []Exclusion

	for _, cand := range cands {
		p := cand.Pattern
		modeledCost := p.CostModel.CostAt(req.N)
		modeledTime := p.CostModel.TimeAt(req.N)

		var reasons []string
		if req.Budget.MaxCost != nil && modeledCost > *req.Budget.MaxCost {
			reasons = append(reasons, fmt.Sprintf("modeled cost %.2f exceeds budget %.2f", modeledCost, *req.Budget.MaxCost))
		}
		if p.Policy.MaxCost > 0 && modeledCost > p.Policy.MaxCost {
			reasons = append(reasons, fmt.Sprintf("modeled cost %.2f exceeds pattern limit %.2f", modeledCost, p.Policy.MaxCost))
		}
		if p.Policy.RequiresApproval && !req.ApprovalGranted {
			reasons = append(reasons, "requires approval")
		}
		if req.ProductionOnly && !p.Policy.ProductionSafe {
			reasons = append(reasons, "not production safe")
		}
		if p.Policy.MaxExecutionTimeMs > 0 && modeledTime > float64(p.Policy.MaxExecutionTimeMs) {
			reasons = append(reasons, fmt.Sprintf("modeled time %.0fms exceeds pattern limit %dms", modeledTime, p.Policy.MaxExecutionTimeMs))
		}

		if len(reasons) > 0 {
			excluded = append(excluded, Exclusion{
				Tool:    cand.Tool.Name,
				Pattern: cand.PatternName,
				Reason:  strings.Join(reasons, "; "),
			})
			continue
		}
		eligible = append(eligible, cand)
	}

	return eligible, excluded
}
