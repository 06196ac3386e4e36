package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/relayops/switchyard/internal/dispatch/creds"
	"github.com/relayops/switchyard/internal/plan"
)

const sshDialTimeout = 10 * time.Second

// SSH runs a step's command over an SSH session on the target host.
// Credentials are resolved per host at execution time.
type SSH struct {
	creds  creds.Resolver
	logger *zap.Logger
}

// NewSSH creates an SSH adapter using the given credential resolver.
func NewSSH(resolver creds.Resolver, logger *zap.Logger) *SSH {
	return &SSH{creds: resolver, logger: logger}
}

// Execute dials the step's target host, runs the command in one session
// and returns the combined output. Cancelling ctx closes the connection;
// the remote command may keep running, teardown is best-effort.
func (a *SSH) Execute(ctx context.Context, step *plan.EnrichedStep) (string, error) {
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
	config, err := clientConfig(handle)
	if err != nil {
		return "", err
	}

	addr := net.JoinHostPort(host, metaOr(step, "port", "22"))
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return "", fmt.Errorf("ssh dial %s: %w", addr, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("ssh session: %w", err)
	}
	defer session.Close()

	var out bytes.Buffer
	session.Stdout = &out
	session.Stderr = &out

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()
	select {
	case err = <-done:
	case <-ctx.Done():
		client.Close()
		<-done
		return out.String(), ctx.Err()
	}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return out.String(), fmt.Errorf("remote exit status %d", exitErr.ExitStatus())
		}
		return out.String(), fmt.Errorf("ssh run: %w", err)
	}
	return out.String(), nil
}

func clientConfig(handle *creds.Handle) (*ssh.ClientConfig, error) {
	var methods []ssh.AuthMethod
	if len(handle.PrivateKeyPEM) > 0 {
		signer, err := ssh.ParsePrivateKey(handle.PrivateKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if handle.Password != "" {
		methods = append(methods, ssh.Password(handle.Password))
	}
	if len(methods) == 0 {
		return nil, errors.New("credentials carry no ssh auth material")
	}
	return &ssh.ClientConfig{
		User:            handle.User,
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: known_hosts pinning
		Timeout:         sshDialTimeout,
	}, nil
}
