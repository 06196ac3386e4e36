package adapters

import (
	"context"
	"fmt"
	"strconv"

	"github.com/masterzen/winrm"
	"go.uber.org/zap"

	"github.com/relayops/switchyard/internal/dispatch/creds"
	"github.com/relayops/switchyard/internal/plan"
)

const (
	winrmHTTPPort  = 5985
	winrmHTTPSPort = 5986
)

// WinRM runs a step's command in a remote shell on a Windows target.
type WinRM struct {
	creds  creds.Resolver
	logger *zap.Logger
}

// NewWinRM creates a WinRM adapter using the given credential resolver.
func NewWinRM(resolver creds.Resolver, logger *zap.Logger) *WinRM {
	return &WinRM{creds: resolver, logger: logger}
}

// Execute runs the step's command on the target host and returns its
// stdout. A non-zero remote exit code is an error carrying stderr.
func (a *WinRM) Execute(ctx context.Context, step *plan.EnrichedStep) (string, error) {
	command, err := stepCommand(step)
	if err != nil {
		return "", err
	}
	host := step.TargetHost()
	if host == "" {
		return "", fmt.Errorf("step %q has no target host", step.ID)
	}

	handle, err := a.creds.Resolve(ctx, host)
	if err != nil {
		return "", fmt.Errorf("resolve credentials for %s: %w", host, err)
	}

	useHTTPS := metaOr(step, "use_https", "") == "true"
	port := winrmHTTPPort
	if useHTTPS {
		port = winrmHTTPSPort
	}
	if p := step.ProtocolMetadata["port"]; p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", fmt.Errorf("invalid winrm port %q: %w", p, err)
		}
	}
	insecure := metaOr(step, "allow_insecure", "") == "true"

	endpoint := winrm.NewEndpoint(host, port, useHTTPS, insecure, nil, nil, nil, 0)
	client, err := winrm.NewClient(endpoint, handle.User, handle.Password)
	if err != nil {
		return "", fmt.Errorf("winrm client: %w", err)
	}

	stdout, stderr, code, err := client.RunWithContextWithString(ctx, command, "")
	if err != nil {
		return stdout, fmt.Errorf("winrm run: %w", err)
	}
	if code != 0 {
		return stdout, fmt.Errorf("remote exit status %d: %s", code, stderr)
	}
	return stdout, nil
}
