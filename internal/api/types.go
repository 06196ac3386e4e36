package api

import (
	"github.com/relayops/switchyard/internal/catalog"
	"github.com/relayops/switchyard/internal/engine"
	"github.com/relayops/switchyard/internal/plan"
	"github.com/relayops/switchyard/internal/telemetry"
)

// --- Catalog import/retire ---

// ImportResp is the body for POST /v1/catalog/tools. Issues is empty
// when the definition validated cleanly.
type ImportResp struct {
	Name    string                    `json:"name"`
	Version string                    `json:"version"`
	DryRun  bool                      `json:"dry_run,omitempty"`
	Valid   bool                      `json:"valid"`
	Issues  []catalog.ValidationIssue `json:"issues,omitempty"`
}

// ToolResp wraps a definition lookup. Stale is true when the value came
// from cache because the store was unreachable.
type ToolResp struct {
	Tool  *catalog.ToolDefinition `json:"tool"`
	Stale bool                    `json:"stale,omitempty"`
}

// RetireResp reports how many versions a retire marked inactive.
type RetireResp struct {
	Name    string `json:"name"`
	Retired int    `json:"retired"`
}

// ReloadResp is the body for POST /v1/catalog/reload.
type ReloadResp struct {
	Status string `json:"status"`
}

// --- Selection ---

// RejectionResp is the 422 body when policy excluded every candidate.
type RejectionResp struct {
	Detail     string             `json:"detail"`
	Exclusions []engine.Exclusion `json:"exclusions,omitempty"`
}

// RetryResp is the 503 body for cold-key degraded mode.
type RetryResp struct {
	Detail            string `json:"detail"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

// --- Plan execution ---

// ExecuteRequest is the JSON body for POST /v1/execute. Steps carry the
// routing metadata stamped at selection time; the dispatcher does not
// consult the catalog.
type ExecuteRequest struct {
	PlanID         string              `json:"plan_id,omitempty"`
	Steps          []plan.EnrichedStep `json:"steps"`
	FailurePolicy  string              `json:"failure_policy,omitempty"`
	MaxConcurrency int                 `json:"max_concurrency,omitempty"`
	MaxPlanTimeMs  int64               `json:"max_plan_time_ms,omitempty"`
}

// --- Telemetry ---

// AcceptedResp acknowledges an async ingestion.
type AcceptedResp struct {
	Status string `json:"status"`
}

// SummaryResp is the body for GET /v1/telemetry/summary.
type SummaryResp struct {
	SinceDays int                      `json:"since_days"`
	Patterns  []telemetry.PatternStats `json:"patterns"`
}

// ErrorResp is a standard error response body.
type ErrorResp struct {
	Detail string `json:"detail"`
}
