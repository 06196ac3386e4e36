package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/relayops/switchyard/internal/catalog"
)

type stubCatalog struct {
	mu    sync.Mutex
	cands []catalog.Candidate
	stale bool
	err   error
	calls int
}

func (s *stubCatalog) GetByName(ctx context.Context, name string) (*catalog.ToolDefinition, bool, error) {
	return nil, false, nil
}

func (s *stubCatalog) GetCandidates(ctx context.Context, capability, platform string) ([]catalog.Candidate, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, false, s.err
	}
	return s.cands, s.stale, nil
}

type stubJudge struct {
	mu    sync.Mutex
	raw   string
	err   error
	block bool
	calls int
}

func (j *stubJudge) Resolve(ctx context.Context, prompt string, options []string) (string, error) {
	j.mu.Lock()
	j.calls++
	j.mu.Unlock()
	if j.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return j.raw, j.err
}

func (j *stubJudge) callCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.calls
}

func newTestEngine(c catalog.Provider, j *stubJudge) *Engine {
	cfg := Config{
		Catalog:      c,
		Calibration:  NewCalibrationHolder(),
		JudgeTimeout: 50 * time.Millisecond,
		Logger:       zap.NewNop(),
	}
	if j != nil {
		cfg.Judge = j
	}
	return New(cfg)
}

// tiedPair returns two candidates with identical match vectors, so
// their composites land within any epsilon.
func tiedPair() []catalog.Candidate {
	match := catalog.PreferenceMatch{Speed: 0.9, Accuracy: 0.9, Cost: 0.9, Complexity: 0.9, Completeness: 0.9}
	return []catalog.Candidate{
		candidate("alpha_restart", "restart_unit", catalog.Pattern{
			CostModel: catalog.CostModel{TimeBaseMs: 800, CostBase: 1},
			Match:     match,
		}),
		candidate("beta_restart", "restart_unit", catalog.Pattern{
			CostModel: catalog.CostModel{TimeBaseMs: 900, CostBase: 1},
			Match:     match,
		}),
	}
}

func TestResolve_BudgetedSelection(t *testing.T) {
	cat := &stubCatalog{cands: []catalog.Candidate{systemdRestart(), fullRedeploy()}}
	e := newTestEngine(cat, nil)

	res, err := e.Resolve(context.Background(), &SelectionRequest{
		Capability: "service_restart",
		Platform:   "linux",
		Budget:     Budget{MaxCost: ptr(5)},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Tool != "systemd_restart" || res.Pattern != "restart_unit" {
		t.Fatalf("expected systemd_restart/restart_unit, got %s/%s", res.Tool, res.Pattern)
	}
	if res.EstimatedTimeMs != 800 || res.EstimatedCost != 1 {
		t.Fatalf("estimates: time=%v cost=%v", res.EstimatedTimeMs, res.EstimatedCost)
	}
	if res.TieBreak != nil {
		t.Fatal("single eligible candidate must not invoke tie-break")
	}
	if res.RequestID == "" {
		t.Fatal("request id missing")
	}

	step := res.Step
	if step == nil {
		t.Fatal("result must carry an enriched step")
	}
	if step.ExecutionLocation != "ssh" || !step.RequiresCredentials {
		t.Fatalf("routing not stamped: %+v", step)
	}
	if step.ProtocolMetadata["port"] != "22" {
		t.Fatalf("protocol metadata not stamped: %+v", step.ProtocolMetadata)
	}
	if step.Tool != "systemd_restart" || step.Pattern != "restart_unit" {
		t.Fatalf("step identity: %+v", step.Step)
	}
}

func TestResolve_AllExcludedReturnsNoEligible(t *testing.T) {
	cat := &stubCatalog{cands: []catalog.Candidate{fullRedeploy()}}
	e := newTestEngine(cat, nil)

	_, err := e.Resolve(context.Background(), &SelectionRequest{
		Capability: "service_restart",
		Budget:     Budget{MaxCost: ptr(5)},
	})
	if !errors.Is(err, ErrNoEligibleCandidate) {
		t.Fatalf("expected ErrNoEligibleCandidate, got %v", err)
	}

	var noEligible *NoEligibleError
	if !errors.As(err, &noEligible) {
		t.Fatalf("expected NoEligibleError, got %T", err)
	}
	if len(noEligible.Exclusions) != 1 || noEligible.Exclusions[0].Tool != "full_redeploy" {
		t.Fatalf("exclusions: %+v", noEligible.Exclusions)
	}
}

func TestResolve_ApprovalUnlocksGatedCandidate(t *testing.T) {
	cat := &stubCatalog{cands: []catalog.Candidate{fullRedeploy()}}
	e := newTestEngine(cat, nil)

	req := &SelectionRequest{Capability: "service_restart"}
	if _, err := e.Resolve(context.Background(), req); !errors.Is(err, ErrNoEligibleCandidate) {
		t.Fatalf("expected approval gate, got %v", err)
	}

	req.ApprovalGranted = true
	res, err := e.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("Resolve with approval: %v", err)
	}
	if res.Tool != "full_redeploy" {
		t.Fatalf("expected full_redeploy, got %s", res.Tool)
	}
}

func TestResolve_EmptyCatalogReturnsNoEligible(t *testing.T) {
	e := newTestEngine(&stubCatalog{}, nil)

	_, err := e.Resolve(context.Background(), &SelectionRequest{Capability: "service_restart"})
	if !errors.Is(err, ErrNoEligibleCandidate) {
		t.Fatalf("expected ErrNoEligibleCandidate, got %v", err)
	}
}

func TestResolve_InvalidRequestSkipsCatalog(t *testing.T) {
	cat := &stubCatalog{}
	e := newTestEngine(cat, nil)

	cases := []SelectionRequest{
		{},
		{Capability: "   "},
		{Capability: "service_restart", Weights: PreferenceWeights{Speed: -1}},
		{Capability: "service_restart", Budget: Budget{MaxCost: ptr(-3)}},
	}
	for i, req := range cases {
		if _, err := e.Resolve(context.Background(), &req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("case %d: expected ErrInvalidRequest, got %v", i, err)
		}
	}
	if cat.calls != 0 {
		t.Fatalf("invalid requests must not reach the catalog, saw %d calls", cat.calls)
	}
}

func TestResolve_CatalogUnavailablePassesThrough(t *testing.T) {
	e := newTestEngine(&stubCatalog{err: catalog.ErrUnavailable}, nil)

	_, err := e.Resolve(context.Background(), &SelectionRequest{Capability: "service_restart"})
	if !errors.Is(err, catalog.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestResolve_StaleCatalogFlagsResult(t *testing.T) {
	cat := &stubCatalog{cands: []catalog.Candidate{systemdRestart()}, stale: true}
	e := newTestEngine(cat, nil)

	res, err := e.Resolve(context.Background(), &SelectionRequest{Capability: "service_restart"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !res.Stale {
		t.Fatal("stale catalog read must mark the result stale")
	}
}

func TestResolve_TieBreakJudgeChoice(t *testing.T) {
	j := &stubJudge{raw: `{"choice":"beta_restart/restart_unit"}`}
	e := newTestEngine(&stubCatalog{cands: tiedPair()}, j)

	res, err := e.Resolve(context.Background(), &SelectionRequest{Capability: "service_restart"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Tool != "beta_restart" {
		t.Fatalf("judge choice ignored, got %s", res.Tool)
	}
	tb := res.TieBreak
	if tb == nil || !tb.Invoked {
		t.Fatal("expected tie-break transcript")
	}
	if tb.Path != "judge" || tb.Winner != "beta_restart/restart_unit" {
		t.Fatalf("transcript: path=%s winner=%s", tb.Path, tb.Winner)
	}
	if len(tb.Candidates) != 2 {
		t.Fatalf("expected both contenders recorded, got %v", tb.Candidates)
	}
	if !strings.Contains(tb.Prompt, "alpha_restart/restart_unit") {
		t.Fatal("prompt must present the candidates")
	}
}

func TestResolve_TieBreakFallbackOnTimeout(t *testing.T) {
	j := &stubJudge{block: true}
	e := newTestEngine(&stubCatalog{cands: tiedPair()}, j)

	start := time.Now()
	res, err := e.Resolve(context.Background(), &SelectionRequest{Capability: "service_restart"})
	if err != nil {
		t.Fatalf("tie-break failure must never fail selection: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("judge timeout not applied, took %v", elapsed)
	}
	if res.Tool != "alpha_restart" {
		t.Fatalf("fallback must pick the deterministic leader, got %s", res.Tool)
	}
	tb := res.TieBreak
	if tb == nil || tb.Path != "fallback" || tb.Err == "" {
		t.Fatalf("transcript must record the failure: %+v", tb)
	}
}

func TestResolve_TieBreakFallbackOnMalformedResponse(t *testing.T) {
	j := &stubJudge{raw: "definitely beta, trust me"}
	e := newTestEngine(&stubCatalog{cands: tiedPair()}, j)

	res, err := e.Resolve(context.Background(), &SelectionRequest{Capability: "service_restart"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Tool != "alpha_restart" || res.TieBreak.Path != "fallback" {
		t.Fatalf("expected deterministic fallback, got %s via %s", res.Tool, res.TieBreak.Path)
	}
}

func TestResolve_TieBreakFallbackOnUnknownChoice(t *testing.T) {
	j := &stubJudge{raw: `{"choice":"surprise_tool/bonus"}`}
	e := newTestEngine(&stubCatalog{cands: tiedPair()}, j)

	res, err := e.Resolve(context.Background(), &SelectionRequest{Capability: "service_restart"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Tool != "alpha_restart" {
		t.Fatalf("unknown choice must fall back, got %s", res.Tool)
	}
	if !strings.Contains(res.TieBreak.Err, "not among presented") {
		t.Fatalf("transcript error: %s", res.TieBreak.Err)
	}
}

func TestResolve_TieBreakAcceptsFencedJSON(t *testing.T) {
	j := &stubJudge{raw: "```json\n{\"choice\":\"beta_restart/restart_unit\"}\n```"}
	e := newTestEngine(&stubCatalog{cands: tiedPair()}, j)

	res, err := e.Resolve(context.Background(), &SelectionRequest{Capability: "service_restart"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Tool != "beta_restart" || res.TieBreak.Path != "judge" {
		t.Fatalf("fenced JSON should parse, got %s via %s", res.Tool, res.TieBreak.Path)
	}
}

func TestResolve_ClearWinnerSkipsJudge(t *testing.T) {
	j := &stubJudge{raw: `{"choice":"full_redeploy/blue_green"}`}
	cat := &stubCatalog{cands: []catalog.Candidate{systemdRestart(), fullRedeploy()}}
	e := newTestEngine(cat, j)

	res, err := e.Resolve(context.Background(), &SelectionRequest{
		Capability:      "service_restart",
		ApprovalGranted: true,
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.TieBreak != nil {
		t.Fatal("clear composite gap must not invoke tie-break")
	}
	if j.callCount() != 0 {
		t.Fatalf("judge called %d times for a clear winner", j.callCount())
	}
	if res.Tool != "systemd_restart" {
		t.Fatalf("expected systemd_restart, got %s", res.Tool)
	}
}

func TestResolve_ParamsValidatedAgainstWinner(t *testing.T) {
	cand := candidate("systemd_restart", "restart_unit", catalog.Pattern{
		CostModel: catalog.CostModel{TimeBaseMs: 800, CostBase: 1},
		Match:     catalog.PreferenceMatch{Speed: 0.9, Accuracy: 1, Cost: 0.9, Complexity: 0.8, Completeness: 1},
		Params: []catalog.ParamSpec{
			{Name: "service", Type: "string", Required: true},
		},
	})
	e := newTestEngine(&stubCatalog{cands: []catalog.Candidate{cand}}, nil)

	_, err := e.Resolve(context.Background(), &SelectionRequest{Capability: "service_restart"})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("missing required param must fail with ErrInvalidRequest, got %v", err)
	}

	res, err := e.Resolve(context.Background(), &SelectionRequest{
		Capability: "service_restart",
		Params:     map[string]any{"service": "nginx"},
	})
	if err != nil {
		t.Fatalf("Resolve with params: %v", err)
	}
	if res.Step.Params["service"] != "nginx" {
		t.Fatalf("params must flow into the step: %+v", res.Step.Params)
	}
}

func TestNormalized_Defaults(t *testing.T) {
	req := SelectionRequest{Capability: " service_restart "}
	norm := req.Normalized()

	if norm.N != 1 {
		t.Fatalf("N default = %d, want 1", norm.N)
	}
	if norm.Weights != balancedWeights {
		t.Fatalf("weights default = %+v", norm.Weights)
	}
	if norm.Capability != "service_restart" {
		t.Fatalf("capability not trimmed: %q", norm.Capability)
	}

	// Explicit weights survive normalization.
	req = SelectionRequest{Capability: "x", Weights: PreferenceWeights{Speed: 1}}
	if norm := req.Normalized(); norm.Weights.Speed != 1 || norm.Weights.Accuracy != 0 {
		t.Fatalf("explicit weights overwritten: %+v", norm.Weights)
	}
}
