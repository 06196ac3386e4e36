// Package engine runs the selection pipeline: candidate fetch, policy
// filter, multi-criteria scoring, tie-break escalation, and step
// enrichment.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relayops/switchyard/internal/catalog"
	"github.com/relayops/switchyard/internal/engine/judge"
	"github.com/relayops/switchyard/internal/plan"
)

// Engine resolves selection requests against the catalog.
type Engine struct {
	catalog      catalog.Provider
	judge        judge.Judge
	cal          *CalibrationHolder
	epsilon      float64
	judgeTimeout time.Duration
	logger       *zap.Logger
}

// Config wires an Engine. Judge defaults to judge.Static, Epsilon to
// DefaultEpsilon, JudgeTimeout to DefaultJudgeTimeout, Calibration to
// neutral.
type Config struct {
	Catalog      catalog.Provider
	Judge        judge.Judge
	Calibration  *CalibrationHolder
	Epsilon      float64
	JudgeTimeout time.Duration
	Logger       *zap.Logger
}

func New(cfg Config) *Engine {
	j := cfg.Judge
	if j == nil {
		j = judge.Static{}
	}
	epsilon := cfg.Epsilon
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	timeout := cfg.JudgeTimeout
	if timeout <= 0 {
		timeout = DefaultJudgeTimeout
	}
	return &Engine{
		catalog:      cfg.Catalog,
		judge:        j,
		cal:          cfg.Calibration,
		epsilon:      epsilon,
		judgeTimeout: timeout,
		logger:       cfg.Logger,
	}
}

// Resolve picks the best (tool, pattern) for the request and returns a
// result carrying a dispatch-ready enriched step. Routing metadata is
// stamped here, once; the dispatcher never goes back to the catalog.
func (e *Engine) Resolve(ctx context.Context, req *SelectionRequest) (*SelectionResult, error) {
	norm := req.Normalized()
	if err := norm.Validate(); err != nil {
		return nil, err
	}

	cands, stale, err := e.catalog.GetCandidates(ctx, norm.Capability, norm.Platform)
	if err != nil {
		return nil, fmt.Errorf("Resolve: %w", err)
	}
	if len(cands) == 0 {
		return nil, &NoEligibleError{Capability: norm.Capability}
	}

	eligible, exclusions := FilterCandidates(cands, &norm)
	if len(eligible) == 0 {
		return nil, &NoEligibleError{Capability: norm.Capability, Exclusions: exclusions}
	}

	scored := ScoreCandidates(eligible, &norm, e.cal.Snapshot())
	winnerIdx, transcript := e.breakTie(ctx, scored, &norm)
	winner := scored[winnerIdx]

	if err := catalog.ValidateParams(winner.Candidate.Pattern.Params, norm.Params); err != nil {
		return nil, fmt.Errorf("%w: params for %s: %v", ErrInvalidRequest, winner.Candidate.Key(), err)
	}

	step := plan.Step{
		ID:         uuid.NewString(),
		Tool:       winner.Candidate.Tool.Name,
		Capability: norm.Capability,
		Pattern:    winner.Candidate.PatternName,
		Params:     norm.Params,
	}
	enriched := plan.Enrich(step, winner.Candidate.Tool, winner.Candidate.Pattern, winner.EstimatedTimeMs, winner.EstimatedCost)

	res := &SelectionResult{
		RequestID:       uuid.NewString(),
		Tool:            winner.Candidate.Tool.Name,
		ToolVersion:     winner.Candidate.Tool.Version,
		Capability:      norm.Capability,
		Pattern:         winner.Candidate.PatternName,
		Score:           winner.Breakdown.Composite,
		Breakdown:       winner.Breakdown,
		EstimatedTimeMs: winner.EstimatedTimeMs,
		EstimatedCost:   winner.EstimatedCost,
		Stale:           stale,
		TieBreak:        transcript,
		Step:            &enriched,
	}

	e.logger.Info("selection resolved",
		zap.String("request_id", res.RequestID),
		zap.String("capability", norm.Capability),
		zap.String("tool", res.Tool),
		zap.String("pattern", res.Pattern),
		zap.Float64("score", res.Score),
		zap.Int("candidates", len(cands)),
		zap.Int("excluded", len(exclusions)),
		zap.Bool("tie_break", transcript != nil),
		zap.Bool("stale", stale),
	)
	return res, nil
}
