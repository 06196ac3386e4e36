package plan

import "github.com/relayops/switchyard/internal/catalog"

// Enrich stamps routing metadata from the chosen tool and pattern onto
// a step. This is the single writer of routing fields in the system;
// recomputing them later (for example inside the dispatcher) is the
// drift bug this design exists to prevent.
func Enrich(step Step, tool *catalog.ToolDefinition, pattern *catalog.Pattern, estimatedTimeMs, estimatedCost float64) EnrichedStep {
	es := EnrichedStep{
		Step:                step,
		ExecutionLocation:   tool.Routing.ExecutionLocation,
		RequiresCredentials: tool.Routing.RequiresCredentials,
		EstimatedTimeMs:     estimatedTimeMs,
		EstimatedCost:       estimatedCost,
	}
	if len(tool.Routing.ProtocolMetadata) > 0 {
		// Copied so a catalog reload cannot mutate an in-flight plan.
		md := make(map[string]string, len(tool.Routing.ProtocolMetadata))
		for k, v := range tool.Routing.ProtocolMetadata {
			md[k] = v
		}
		es.ProtocolMetadata = md
	}
	if pattern != nil && pattern.Policy.MaxExecutionTimeMs > 0 {
		es.TimeoutMs = pattern.Policy.MaxExecutionTimeMs
	}
	return es
}
