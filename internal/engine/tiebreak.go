package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultEpsilon is the composite-score gap under which the top
	// candidates count as tied.
	DefaultEpsilon = 0.02

	// DefaultJudgeTimeout bounds one tie-break escalation.
	DefaultJudgeTimeout = 3 * time.Second

	// maxContenders caps how many candidates go into the judge prompt.
	maxContenders = 5

	maxDescriptionLen = 120
)

// contenders returns the leading candidates whose composite sits within
// epsilon of the top score.
func contenders(scored []ScoredCandidate, epsilon float64) []ScoredCandidate {
	if len(scored) == 0 {
		return nil
	}
	top := scored[0].Breakdown.Composite
	out := []ScoredCandidate{scored[0]}
	for _, sc := range scored[1:] {
		if top-sc.Breakdown.Composite >= epsilon || len(out) == maxContenders {
			break
		}
		out = append(out, sc)
	}
	return out
}

func buildTiePrompt(ties []ScoredCandidate, req *SelectionRequest, epsilon float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Capability: %s (n=%d). These candidates scored within %.3f of each other; pick the best fit.\n",
		req.Capability, req.N, epsilon)
	for _, sc := range ties {
		fmt.Fprintf(&b, "- %s: speed=%.2f accuracy=%.2f cost=%.2f complexity=%.2f completeness=%.2f est_time_ms=%.0f est_cost=%.2f",
			sc.Candidate.Key(),
			sc.Breakdown.Speed, sc.Breakdown.Accuracy, sc.Breakdown.Cost,
			sc.Breakdown.Complexity, sc.Breakdown.Completeness,
			sc.EstimatedTimeMs, sc.EstimatedCost)
		if desc := sc.Candidate.Tool.Capabilities[sc.Candidate.Capability].Description; desc != "" {
			if len(desc) > maxDescriptionLen {
				desc = desc[:maxDescriptionLen]
			}
			fmt.Fprintf(&b, " use_case=%q", desc)
		}
		b.WriteByte('\n')
	}
	b.WriteString(`Reply with JSON only: {"choice":"<candidate>"}`)
	return b.String()
}

// stripFences removes a markdown code fence if the judge wrapped its
// JSON in one.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// breakTie escalates a near-tie to the judge. Every failure mode
// (timeout, transport error, malformed response, unknown choice) falls
// back to the deterministic leader; tie-breaking never fails a
// selection. Returns the winning index into scored and a transcript,
// or (0, nil) when there was no tie to break.
func (e *Engine) breakTie(ctx context.Context, scored []ScoredCandidate, req *SelectionRequest) (int, *TieBreakTranscript) {
	ties := contenders(scored, e.epsilon)
	if len(ties) < 2 {
		return 0, nil
	}

	options := make([]string, len(ties))
	for i, sc := range ties {
		options[i] = sc.Candidate.Key()
	}
	tr := &TieBreakTranscript{
		Invoked:    true,
		Candidates: options,
		Prompt:     buildTiePrompt(ties, req, e.epsilon),
		Winner:     options[0],
		Path:       "fallback",
	}

	jctx, cancel := context.WithTimeout(ctx, e.judgeTimeout)
	defer cancel()

	raw, err := e.judge.Resolve(jctx, tr.Prompt, options)
	tr.RawResponse = raw
	if err != nil {
		tr.Err = err.Error()
		e.logger.Warn("tie-break judge failed, using deterministic leader",
			zap.String("capability", req.Capability),
			zap.Error(err),
		)
		return 0, tr
	}

	var parsed struct {
		Choice string `json:"choice"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &parsed); err != nil {
		tr.Err = fmt.Sprintf("malformed judge response: %v", err)
		e.logger.Warn("tie-break response malformed, using deterministic leader",
			zap.String("capability", req.Capability),
			zap.Error(err),
		)
		return 0, tr
	}

	for i, opt := range options {
		if parsed.Choice == opt {
			tr.Winner = opt
			tr.Path = "judge"
			return i, tr
		}
	}

	tr.Err = fmt.Sprintf("judge chose %q, not among presented candidates", parsed.Choice)
	e.logger.Warn("tie-break chose unknown candidate, using deterministic leader",
		zap.String("capability", req.Capability),
		zap.String("choice", parsed.Choice),
	)
	return 0, tr
}
