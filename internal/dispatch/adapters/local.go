package adapters

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"go.uber.org/zap"

	"github.com/relayops/switchyard/internal/plan"
)

// Local runs a step's command as a child process on the dispatcher
// host.
type Local struct {
	shell  string
	logger *zap.Logger
}

// NewLocal creates a local adapter running commands through /bin/sh.
func NewLocal(logger *zap.Logger) *Local {
	return &Local{shell: "/bin/sh", logger: logger}
}

// Execute runs the step's command and returns its combined output.
// Cancelling ctx kills the child process.
func (a *Local) Execute(ctx context.Context, step *plan.EnrichedStep) (string, error) {
	command, err := stepCommand(step)
	if err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, a.shell, "-c", command)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return string(out), ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return string(out), fmt.Errorf("exit status %d", exitErr.ExitCode())
		}
		return string(out), fmt.Errorf("run command: %w", err)
	}
	return string(out), nil
}
