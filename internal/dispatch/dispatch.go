// Package dispatch routes enriched plan steps to protocol adapters and
// collects per-step results under a configurable failure policy.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/relayops/switchyard/internal/plan"
	"github.com/relayops/switchyard/internal/telemetry"
)

// Step statuses.
const (
	StepCompleted = "completed"
	StepFailed    = "failed"
	StepSkipped   = "skipped"
)

// Plan outcomes.
const (
	PlanCompleted = "completed"
	PlanPartial   = "partial"
	PlanFailed    = "failed"
)

// maxPlanConcurrency caps the per-plan worker count regardless of how
// many distinct hosts the plan targets.
const maxPlanConcurrency = 50

// Adapter executes one enriched step against its protocol backend.
// Implementations must honor ctx cancellation; best-effort teardown of
// the remote side is acceptable.
type Adapter interface {
	Execute(ctx context.Context, step *plan.EnrichedStep) (output string, err error)
}

// StepResult is the uniform outcome of one step regardless of which
// adapter ran it.
type StepResult struct {
	StepID     string  `json:"step_id"`
	Tool       string  `json:"tool,omitempty"`
	Status     string  `json:"status"`
	Output     string  `json:"output,omitempty"`
	Error      string  `json:"error,omitempty"`
	Location   string  `json:"execution_location,omitempty"`
	Host       string  `json:"host,omitempty"`
	DurationMs float64 `json:"duration_ms"`
}

// PlanResult is the outcome of one dispatched plan. FailurePolicy
// records the policy that was actually applied.
type PlanResult struct {
	PlanID        string       `json:"plan_id"`
	FailurePolicy string       `json:"failure_policy"`
	OverallStatus string       `json:"overall_status"`
	StepResults   []StepResult `json:"step_results"`
	DurationMs    float64      `json:"duration_ms"`
}

// Dispatcher fans plan steps out to the adapters registered for their
// execution locations. Routing metadata comes entirely from the
// enriched steps; the dispatcher never consults the catalog.
type Dispatcher struct {
	adapters       map[string]Adapter
	fallback       Adapter
	telemetry      telemetry.Writer
	maxConcurrency int
	logger         *zap.Logger
}

// Config carries dispatcher construction options.
type Config struct {
	// Telemetry receives one record per executed step. Optional.
	Telemetry telemetry.Writer
	// MaxConcurrency overrides the per-plan worker bound derived from
	// distinct target hosts. Zero keeps the derived bound.
	MaxConcurrency int
	Logger         *zap.Logger
}

// New creates a dispatcher with no adapters registered.
func New(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		adapters:       make(map[string]Adapter),
		telemetry:      cfg.Telemetry,
		maxConcurrency: cfg.MaxConcurrency,
		logger:         logger,
	}
}

// Register binds an adapter to an execution_location key. Not safe for
// concurrent use with Run; register everything at startup.
func (d *Dispatcher) Register(location string, a Adapter) {
	d.adapters[location] = a
}

// RegisterDefault sets the adapter used when a step names an execution
// location nothing is registered for. Without one such steps fail
// individually; the plan itself still runs.
func (d *Dispatcher) RegisterDefault(a Adapter) {
	d.fallback = a
}

// executeStep resolves the adapter for the step's execution location
// and runs it under the step's timeout. The outcome is recorded to
// telemetry before returning.
func (d *Dispatcher) executeStep(ctx context.Context, p *plan.Plan, step *plan.EnrichedStep) StepResult {
	res := StepResult{
		StepID:   step.ID,
		Tool:     step.Tool,
		Location: step.ExecutionLocation,
		Host:     step.TargetHost(),
	}

	adapter, ok := d.adapters[step.ExecutionLocation]
	if !ok {
		if d.fallback == nil {
			res.Status = StepFailed
			res.Error = fmt.Sprintf("no adapter registered for execution location %q", step.ExecutionLocation)
			d.record(p, step, &res)
			return res
		}
		d.logger.Warn("unknown execution location, using default adapter",
			zap.String("step_id", step.ID),
			zap.String("execution_location", step.ExecutionLocation),
		)
		adapter = d.fallback
	}

	stepCtx := ctx
	if step.TimeoutMs > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, time.Duration(step.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	start := time.Now()
	output, err := adapter.Execute(stepCtx, step)
	res.DurationMs = float64(time.Since(start)) / float64(time.Millisecond)
	res.Output = output
	if err != nil {
		res.Status = StepFailed
		res.Error = err.Error()
		d.logger.Warn("step failed",
			zap.String("plan_id", p.ID),
			zap.String("step_id", step.ID),
			zap.String("tool", step.Tool),
			zap.String("execution_location", step.ExecutionLocation),
			zap.Error(err),
		)
	} else {
		res.Status = StepCompleted
		d.logger.Debug("step completed",
			zap.String("plan_id", p.ID),
			zap.String("step_id", step.ID),
			zap.String("tool", step.Tool),
			zap.Float64("duration_ms", res.DurationMs),
		)
	}
	d.record(p, step, &res)
	return res
}

// record emits one telemetry record for an executed step. Write never
// blocks; a nil writer disables recording.
func (d *Dispatcher) record(p *plan.Plan, step *plan.EnrichedStep, res *StepResult) {
	if d.telemetry == nil {
		return
	}
	d.telemetry.Write(&telemetry.Record{
		PlanID:            p.ID,
		StepID:            step.ID,
		Tool:              step.Tool,
		Pattern:           step.Pattern,
		Capability:        step.Capability,
		ExecutionLocation: step.ExecutionLocation,
		Host:              res.Host,
		EstimatedTimeMs:   step.EstimatedTimeMs,
		EstimatedCost:     step.EstimatedCost,
		ObservedTimeMs:    res.DurationMs,
		Success:           res.Status == StepCompleted,
		ErrorText:         res.Error,
		Timestamp:         time.Now().UTC(),
	})
}

func failedResult(step *plan.EnrichedStep, msg string) StepResult {
	return StepResult{
		StepID:   step.ID,
		Tool:     step.Tool,
		Status:   StepFailed,
		Error:    msg,
		Location: step.ExecutionLocation,
		Host:     step.TargetHost(),
	}
}

func skippedResult(step *plan.EnrichedStep, msg string) StepResult {
	return StepResult{
		StepID:   step.ID,
		Tool:     step.Tool,
		Status:   StepSkipped,
		Error:    msg,
		Location: step.ExecutionLocation,
		Host:     step.TargetHost(),
	}
}

func overallStatus(results []StepResult) string {
	completed := 0
	for i := range results {
		if results[i].Status == StepCompleted {
			completed++
		}
	}
	switch completed {
	case len(results):
		return PlanCompleted
	case 0:
		return PlanFailed
	default:
		return PlanPartial
	}
}

func stepIndex(p *plan.Plan) map[string]int {
	index := make(map[string]int, len(p.Steps))
	for i := range p.Steps {
		index[p.Steps[i].ID] = i
	}
	return index
}
