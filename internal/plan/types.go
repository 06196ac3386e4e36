package plan

// Failure policies for multi-step plans.
const (
	// FailurePolicyAbort stops at the first failed step. Default.
	FailurePolicyAbort = "abort"
	// FailurePolicyContinue runs every step and collects all failures.
	FailurePolicyContinue = "continue"
)

// Step is one execution unit as the caller submits it.
type Step struct {
	ID         string         `json:"id"`
	Tool       string         `json:"tool"`
	Capability string         `json:"capability,omitempty"`
	Pattern    string         `json:"pattern,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
	DependsOn  []string       `json:"depends_on,omitempty"`
}

// EnrichedStep is a step plus the routing metadata stamped at selection
// time. The dispatcher treats these fields as the only truth about how
// to execute; it never re-derives them from the catalog.
type EnrichedStep struct {
	Step
	ExecutionLocation   string            `json:"execution_location"`
	RequiresCredentials bool              `json:"requires_credentials"`
	ProtocolMetadata    map[string]string `json:"protocol_metadata,omitempty"`
	TimeoutMs           int64             `json:"timeout_ms,omitempty"`
	EstimatedTimeMs     float64           `json:"estimated_time_ms,omitempty"`
	EstimatedCost       float64           `json:"estimated_cost,omitempty"`
}

// TargetHost returns the host this step runs against, preferring an
// explicit "host" param over routing metadata. Empty for steps that run
// on the dispatcher host itself.
func (s *EnrichedStep) TargetHost() string {
	if h, ok := s.Params["host"].(string); ok && h != "" {
		return h
	}
	return s.ProtocolMetadata["host"]
}

// Plan is an ordered set of enriched steps executed under one failure
// policy.
type Plan struct {
	ID             string         `json:"id"`
	Steps          []EnrichedStep `json:"steps"`
	FailurePolicy  string         `json:"failure_policy,omitempty"`
	MaxConcurrency int            `json:"max_concurrency,omitempty"`
	MaxPlanTimeMs  int64          `json:"max_plan_time_ms,omitempty"`
}
