package adapters

import (
	"context"
	"strings"
	"testing"

	"github.com/relayops/switchyard/internal/dispatch/creds"
	"github.com/relayops/switchyard/internal/plan"
)

// staticResolver hands back a fixed handle for every host.
type staticResolver struct {
	handle *creds.Handle
	err    error
}

func (r staticResolver) Resolve(_ context.Context, _ string) (*creds.Handle, error) {
	return r.handle, r.err
}

func TestStepCommand_ParamWinsOverMetadata(t *testing.T) {
	step := &plan.EnrichedStep{
		Step:             plan.Step{ID: "s1", Params: map[string]any{"command": "systemctl restart nginx"}},
		ProtocolMetadata: map[string]string{"command": "reboot"},
	}
	got, err := stepCommand(step)
	if err != nil {
		t.Fatalf("stepCommand() error: %v", err)
	}
	if got != "systemctl restart nginx" {
		t.Fatalf("command: got %q", got)
	}
}

func TestStepCommand_FallsBackToMetadata(t *testing.T) {
	step := &plan.EnrichedStep{
		Step:             plan.Step{ID: "s1"},
		ProtocolMetadata: map[string]string{"command": "uptime"},
	}
	got, err := stepCommand(step)
	if err != nil {
		t.Fatalf("stepCommand() error: %v", err)
	}
	if got != "uptime" {
		t.Fatalf("command: got %q", got)
	}
}

func TestStepCommand_MissingIsAnError(t *testing.T) {
	step := &plan.EnrichedStep{Step: plan.Step{ID: "s9"}}
	if _, err := stepCommand(step); err == nil || !strings.Contains(err.Error(), "s9") {
		t.Fatalf("expected error naming the step, got %v", err)
	}
}

func TestMetaOr(t *testing.T) {
	step := &plan.EnrichedStep{ProtocolMetadata: map[string]string{"port": "2222"}}
	if got := metaOr(step, "port", "22"); got != "2222" {
		t.Fatalf("port: got %q", got)
	}
	if got := metaOr(step, "method", "GET"); got != "GET" {
		t.Fatalf("default: got %q", got)
	}
}
