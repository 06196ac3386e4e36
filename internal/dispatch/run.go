package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/relayops/switchyard/internal/plan"
)

// Run executes every step of the plan under its failure policy and
// returns the collected results. Structural problems with the plan
// itself (no steps, duplicate step IDs, unknown policy) come back as an
// error; step-level failures land in the result. A missing plan ID is
// assigned before execution.
func (d *Dispatcher) Run(ctx context.Context, p *plan.Plan) (*PlanResult, error) {
	if p == nil || len(p.Steps) == 0 {
		return nil, fmt.Errorf("Run: plan has no steps")
	}
	policy := p.FailurePolicy
	if policy == "" {
		policy = plan.FailurePolicyAbort
	}
	if policy != plan.FailurePolicyAbort && policy != plan.FailurePolicyContinue {
		return nil, fmt.Errorf("Run: unknown failure policy %q", p.FailurePolicy)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	seen := make(map[string]struct{}, len(p.Steps))
	for i := range p.Steps {
		id := p.Steps[i].ID
		if id == "" {
			return nil, fmt.Errorf("Run: step %d has no id", i)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("Run: duplicate step id %q", id)
		}
		seen[id] = struct{}{}
	}

	if p.MaxPlanTimeMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(p.MaxPlanTimeMs)*time.Millisecond)
		defer cancel()
	}

	start := time.Now()
	results := make([]StepResult, len(p.Steps))
	if policy == plan.FailurePolicyContinue {
		d.runConcurrent(ctx, p, results)
	} else {
		d.runSequential(ctx, p, results)
	}

	pr := &PlanResult{
		PlanID:        p.ID,
		FailurePolicy: policy,
		OverallStatus: overallStatus(results),
		StepResults:   results,
		DurationMs:    float64(time.Since(start)) / float64(time.Millisecond),
	}
	d.logger.Info("plan dispatched",
		zap.String("plan_id", p.ID),
		zap.String("failure_policy", policy),
		zap.Int("steps", len(results)),
		zap.String("overall_status", pr.OverallStatus),
		zap.Float64("duration_ms", pr.DurationMs),
	)
	return pr, nil
}

// runSequential executes steps in declaration order and stops at the
// first failure, marking the remainder skipped.
func (d *Dispatcher) runSequential(ctx context.Context, p *plan.Plan, results []StepResult) {
	index := stepIndex(p)
	abortedAfter := ""
	for i := range p.Steps {
		step := &p.Steps[i]
		if abortedAfter != "" {
			results[i] = skippedResult(step, fmt.Sprintf("aborted after step %q failed", abortedAfter))
			continue
		}
		if dep, ok := sequentialDepsMet(index, results, i, step); !ok {
			results[i] = failedResult(step, fmt.Sprintf("dependency %q not satisfied", dep))
			abortedAfter = step.ID
			continue
		}
		results[i] = d.executeStep(ctx, p, step)
		if results[i].Status != StepCompleted {
			abortedAfter = step.ID
		}
	}
}

// sequentialDepsMet reports whether every dependency of step i was
// declared earlier and completed. Under the abort policy a failed
// dependency never reaches this check, so an unmet dependency here is a
// forward or unknown reference.
func sequentialDepsMet(index map[string]int, results []StepResult, i int, step *plan.EnrichedStep) (string, bool) {
	for _, dep := range step.DependsOn {
		j, ok := index[dep]
		if !ok || j >= i || results[j].Status != StepCompleted {
			return dep, false
		}
	}
	return "", true
}

// runConcurrent executes steps as their dependencies resolve, bounded
// by the plan's concurrency limit. Every step produces exactly one
// completion event: workers send the index of an executed step through
// a buffered channel, and the scheduling loop reads it to unblock
// dependents, so results are read only after the writing goroutine has
// finished. Steps whose dependencies did not complete are skipped;
// steps inside a dependency cycle fail without executing.
func (d *Dispatcher) runConcurrent(ctx context.Context, p *plan.Plan, results []StepResult) {
	n := len(p.Steps)
	index := stepIndex(p)

	dependents := make([][]int, n)
	waiting := make([]int, n)
	unknownDep := make([]string, n)
	for i := range p.Steps {
		for _, dep := range p.Steps[i].DependsOn {
			j, ok := index[dep]
			if !ok {
				unknownDep[i] = dep
				continue
			}
			dependents[j] = append(dependents[j], i)
			waiting[i]++
		}
	}

	runnable := resolvable(waiting, dependents, unknownDep)

	completions := make(chan int, n)
	finish := func(i int, res StepResult) {
		results[i] = res
		completions <- i
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.planConcurrency(p))

	blockedBy := make([]string, n)
	launch := func(i int) {
		step := &p.Steps[i]
		if blockedBy[i] != "" {
			finish(i, skippedResult(step, fmt.Sprintf("dependency %q did not complete", blockedBy[i])))
			return
		}
		g.Go(func() error {
			finish(i, d.executeStep(gctx, p, step))
			return nil
		})
	}

	for i := range p.Steps {
		switch {
		case unknownDep[i] != "":
			finish(i, failedResult(&p.Steps[i], fmt.Sprintf("unknown dependency %q", unknownDep[i])))
		case !runnable[i]:
			finish(i, failedResult(&p.Steps[i], "dependency cycle"))
		case waiting[i] == 0:
			launch(i)
		}
	}

	for done := 0; done < n; done++ {
		i := <-completions
		depFailed := results[i].Status != StepCompleted
		for _, dp := range dependents[i] {
			// Pre-finished steps keep their result; decrementing them
			// would relaunch an already finished index.
			if unknownDep[dp] != "" || !runnable[dp] {
				continue
			}
			if depFailed && blockedBy[dp] == "" {
				blockedBy[dp] = p.Steps[i].ID
			}
			waiting[dp]--
			if waiting[dp] == 0 {
				launch(dp)
			}
		}
	}
	_ = g.Wait()
}

// resolvable marks the steps whose dependency chains can finish.
// Unknown-dependency steps fail immediately, so they count as sources;
// anything left unreached sits in or behind a cycle.
func resolvable(waiting []int, dependents [][]int, unknownDep []string) []bool {
	n := len(waiting)
	remaining := append([]int(nil), waiting...)
	ok := make([]bool, n)
	queue := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if unknownDep[i] != "" || remaining[i] == 0 {
			ok[i] = true
			queue = append(queue, i)
		}
	}
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		for _, dp := range dependents[i] {
			remaining[dp]--
			if remaining[dp] == 0 && !ok[dp] {
				ok[dp] = true
				queue = append(queue, dp)
			}
		}
	}
	return ok
}

// planConcurrency derives the worker bound for one plan: an explicit
// plan or dispatcher override wins, otherwise the number of distinct
// target hosts, capped at maxPlanConcurrency.
func (d *Dispatcher) planConcurrency(p *plan.Plan) int {
	if p.MaxConcurrency > 0 {
		return p.MaxConcurrency
	}
	if d.maxConcurrency > 0 {
		return d.maxConcurrency
	}
	hosts := make(map[string]struct{})
	for i := range p.Steps {
		if h := p.Steps[i].TargetHost(); h != "" {
			hosts[h] = struct{}{}
		}
	}
	limit := len(hosts)
	if limit < 1 {
		limit = 1
	}
	if limit > maxPlanConcurrency {
		limit = maxPlanConcurrency
	}
	return limit
}
