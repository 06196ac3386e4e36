// Package adapters implements the protocol backends the dispatcher
// routes steps to: local processes, SSH sessions, WinRM shells, HTTP
// calls and database queries. Each adapter satisfies dispatch.Adapter
// for one execution_location value and honors ctx cancellation.
package adapters

import (
	"fmt"

	"github.com/relayops/switchyard/internal/plan"
)

// stepCommand returns the shell command a step should run, preferring
// an explicit "command" param over routing metadata.
func stepCommand(step *plan.EnrichedStep) (string, error) {
	if c, ok := step.Params["command"].(string); ok && c != "" {
		return c, nil
	}
	if c := step.ProtocolMetadata["command"]; c != "" {
		return c, nil
	}
	return "", fmt.Errorf("step %q has no command", step.ID)
}

// paramString reads a string param, empty when absent or another type.
func paramString(step *plan.EnrichedStep, key string) string {
	v, _ := step.Params[key].(string)
	return v
}

// metaOr reads a protocol metadata value with a default.
func metaOr(step *plan.EnrichedStep, key, def string) string {
	if v := step.ProtocolMetadata[key]; v != "" {
		return v
	}
	return def
}
