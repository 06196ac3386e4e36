package catalog

import "time"

// ToolDefinition is one published version of a tool.
// Definitions are immutable once imported: a new version inserts a new
// record, retirement flips Active to false. Rows are never hard-deleted
// while telemetry references them.
type ToolDefinition struct {
	ID           string                     `json:"id,omitempty"`
	Name         string                     `json:"name"`
	Version      string                     `json:"version"`
	Platform     string                     `json:"platform"` // "linux", "windows", "network", "database", "custom"
	Category     string                     `json:"category"`
	Active       bool                       `json:"active"`
	Routing      Routing                    `json:"routing"`
	Capabilities map[string]CapabilityBlock `json:"capabilities"`
	CreatedAt    time.Time                  `json:"created_at,omitempty"`
}

// Routing is the execution metadata the plan enricher stamps onto steps.
// The dispatcher consumes the stamped copy and never reads it from here.
type Routing struct {
	ExecutionLocation   string            `json:"execution_location"`
	RequiresCredentials bool              `json:"requires_credentials"`
	ProtocolMetadata    map[string]string `json:"protocol_metadata,omitempty"`
}

// CapabilityBlock groups the patterns that fulfill one capability.
type CapabilityBlock struct {
	Description string             `json:"description"`
	Patterns    map[string]Pattern `json:"patterns"`
}

// Completeness classifies how faithful a pattern's result is.
const (
	CompletenessExact       = "exact"
	CompletenessApproximate = "approximate"
)

// Pattern is the unit the scoring engine ranks: one concrete way of
// fulfilling a capability, with its own cost and policy model.
type Pattern struct {
	CostModel    CostModel       `json:"cost_model"`
	Complexity   int             `json:"complexity"`
	Completeness string          `json:"completeness"` // CompletenessExact or CompletenessApproximate
	Policy       Policy          `json:"policy"`
	Match        PreferenceMatch `json:"preference_match"`
	Params       []ParamSpec     `json:"params,omitempty"`
}

// CostModel estimates time and monetary cost as linear functions of the
// scale parameter N. All four coefficients must be non-negative so the
// model is monotonically non-decreasing in N; import validation enforces
// this, runtime does not re-check.
type CostModel struct {
	TimeBaseMs    float64 `json:"time_base_ms"`
	TimePerItemMs float64 `json:"time_per_item_ms"`
	CostBase      float64 `json:"cost_base"`
	CostPerItem   float64 `json:"cost_per_item"`
}

// TimeAt returns the modeled execution time in milliseconds for n items.
func (m CostModel) TimeAt(n int) float64 {
	if n < 0 {
		n = 0
	}
	return m.TimeBaseMs + m.TimePerItemMs*float64(n)
}

// CostAt returns the modeled monetary/compute cost for n items.
func (m CostModel) CostAt(n int) float64 {
	if n < 0 {
		n = 0
	}
	return m.CostBase + m.CostPerItem*float64(n)
}

// Policy holds a pattern's hard constraints. The policy filter enforces
// these; the scoring engine only biases.
type Policy struct {
	MaxCost            float64 `json:"max_cost"`              // 0 = no ceiling
	RequiresApproval   bool    `json:"requires_approval"`
	ProductionSafe     bool    `json:"production_safe"`
	MaxExecutionTimeMs int64   `json:"max_execution_time_ms"` // 0 = no ceiling
}

// PreferenceMatch scores the pattern along the five preference axes,
// each normalized to [0,1]. These are authored inputs to the scorer,
// independent of the raw cost model.
type PreferenceMatch struct {
	Speed        float64 `json:"speed"`
	Accuracy     float64 `json:"accuracy"`
	Cost         float64 `json:"cost"`
	Complexity   float64 `json:"complexity"`
	Completeness float64 `json:"completeness"`
}

// ParamSpec declares one input parameter a pattern accepts.
type ParamSpec struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"` // "string", "int", "float", "bool", "list", "map"
	Required bool     `json:"required"`
	Pattern  string   `json:"pattern,omitempty"` // regex, string params only
	Enum     []string `json:"enum,omitempty"`    // string params only
}

// Candidate pairs a tool definition with one of its patterns for a
// requested capability. This is the unit handed to the policy filter
// and scoring engine.
type Candidate struct {
	Tool        *ToolDefinition
	Capability  string
	PatternName string
	Pattern     *Pattern
}

// Key returns the stable "tool/pattern" identity used for deterministic
// tie ordering and telemetry.
func (c Candidate) Key() string {
	return c.Tool.Name + "/" + c.PatternName
}
