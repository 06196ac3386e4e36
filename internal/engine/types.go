package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/relayops/switchyard/internal/plan"
)

// ErrInvalidRequest reports a request that fails validation before any
// catalog or scoring work happens. Maps to a 400.
var ErrInvalidRequest = errors.New("invalid selection request")

// ErrNoEligibleCandidate reports that the policy filter excluded every
// candidate (or none existed). Maps to a 422; retrying without changing
// the request cannot succeed.
var ErrNoEligibleCandidate = errors.New("no eligible candidate")

// NoEligibleError carries the per-candidate exclusion reasons alongside
// ErrNoEligibleCandidate so responses can say why.
type NoEligibleError struct {
	Capability string
	Exclusions []Exclusion
}

func (e *NoEligibleError) Error() string {
	if len(e.Exclusions) == 0 {
		return fmt.Sprintf("no candidate provides capability %q", e.Capability)
	}
	return fmt.Sprintf("all %d candidates for capability %q excluded by policy", len(e.Exclusions), e.Capability)
}

func (e *NoEligibleError) Unwrap() error { return ErrNoEligibleCandidate }

// Exclusion records why the policy filter dropped one candidate.
type Exclusion struct {
	Tool    string `json:"tool"`
	Pattern string `json:"pattern"`
	Reason  string `json:"reason"`
}

// PreferenceWeights weights the five scoring axes. Values are relative;
// the scorer normalizes them to sum to 1.
type PreferenceWeights struct {
	Speed        float64 `json:"speed"`
	Accuracy     float64 `json:"accuracy"`
	Cost         float64 `json:"cost"`
	Complexity   float64 `json:"complexity"`
	Completeness float64 `json:"completeness"`
}

func (w PreferenceWeights) sum() float64 {
	return w.Speed + w.Accuracy + w.Cost + w.Complexity + w.Completeness
}

func (w PreferenceWeights) anyNegative() bool {
	return w.Speed < 0 || w.Accuracy < 0 || w.Cost < 0 || w.Complexity < 0 || w.Completeness < 0
}

// balancedWeights is the default when a request supplies no weights.
var balancedWeights = PreferenceWeights{Speed: 0.2, Accuracy: 0.2, Cost: 0.2, Complexity: 0.2, Completeness: 0.2}

// Budget caps what the caller will accept. Nil fields mean
// unconstrained. MaxCost is a hard constraint enforced by the policy
// filter; MaxTimeMs only biases the speed axis.
type Budget struct {
	MaxCost   *float64 `json:"max_cost,omitempty"`
	MaxTimeMs *float64 `json:"max_time_ms,omitempty"`
}

// SelectionRequest asks for the best (tool, pattern) for a capability.
type SelectionRequest struct {
	Capability      string            `json:"capability"`
	Platform        string            `json:"platform,omitempty"`
	N               int               `json:"n,omitempty"`
	Weights         PreferenceWeights `json:"preference_weights,omitempty"`
	Budget          Budget            `json:"budget,omitempty"`
	ProductionOnly  bool              `json:"production_only,omitempty"`
	ApprovalGranted bool              `json:"approval_granted,omitempty"`
	Params          map[string]any    `json:"params,omitempty"`
}

// Normalized returns a copy with defaults applied: N at least 1 and
// balanced weights when none were supplied. The gateway fingerprints
// the normalized form so equivalent requests share a cache entry.
func (r SelectionRequest) Normalized() SelectionRequest {
	if r.N <= 0 {
		r.N = 1
	}
	if r.Weights.sum() == 0 && !r.Weights.anyNegative() {
		r.Weights = balancedWeights
	}
	r.Capability = strings.TrimSpace(r.Capability)
	r.Platform = strings.TrimSpace(r.Platform)
	return r
}

// Validate reports ErrInvalidRequest-wrapped failures. Call on the
// normalized form.
func (r *SelectionRequest) Validate() error {
	if r.Capability == "" {
		return fmt.Errorf("%w: capability is required", ErrInvalidRequest)
	}
	if r.Weights.anyNegative() {
		return fmt.Errorf("%w: preference weights must be >= 0", ErrInvalidRequest)
	}
	if r.Weights.sum() <= 0 {
		return fmt.Errorf("%w: at least one preference weight must be > 0", ErrInvalidRequest)
	}
	if r.Budget.MaxCost != nil && *r.Budget.MaxCost < 0 {
		return fmt.Errorf("%w: budget max_cost must be >= 0", ErrInvalidRequest)
	}
	if r.Budget.MaxTimeMs != nil && *r.Budget.MaxTimeMs < 0 {
		return fmt.Errorf("%w: budget max_time_ms must be >= 0", ErrInvalidRequest)
	}
	return nil
}

// ScoreBreakdown is the per-axis contribution behind a composite score.
// Axis values are post-clamp, pre-weight.
type ScoreBreakdown struct {
	Speed        float64 `json:"speed"`
	Accuracy     float64 `json:"accuracy"`
	Cost         float64 `json:"cost"`
	Complexity   float64 `json:"complexity"`
	Completeness float64 `json:"completeness"`
	Composite    float64 `json:"composite"`
}

// TieBreakTranscript is the audit record of one tie-break escalation.
type TieBreakTranscript struct {
	Invoked     bool     `json:"invoked"`
	Candidates  []string `json:"candidates,omitempty"`
	Prompt      string   `json:"prompt,omitempty"`
	RawResponse string   `json:"raw_response,omitempty"`
	Winner      string   `json:"winner,omitempty"`
	Path        string   `json:"path,omitempty"` // "judge" or "fallback"
	Err         string   `json:"error,omitempty"`
}

// SelectionResult is the selection answer, including the enriched step
// the dispatcher executes without ever re-reading the catalog.
type SelectionResult struct {
	RequestID       string              `json:"request_id"`
	Tool            string              `json:"tool"`
	ToolVersion     string              `json:"tool_version"`
	Capability      string              `json:"capability"`
	Pattern         string              `json:"pattern"`
	Score           float64             `json:"score"`
	Breakdown       ScoreBreakdown      `json:"score_breakdown"`
	EstimatedTimeMs float64             `json:"estimated_time_ms"`
	EstimatedCost   float64             `json:"estimated_cost"`
	Stale           bool                `json:"stale,omitempty"`
	TieBreak        *TieBreakTranscript `json:"tie_break,omitempty"`
	Step            *plan.EnrichedStep  `json:"step"`
}
