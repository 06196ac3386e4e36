// Package creds resolves per-host credentials for protocol adapters.
// The dispatcher hands adapters a Resolver, never credential material;
// plan and result structures only ever reference hosts.
package creds

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Handle carries resolved credential material for one target host. It
// stays inside the adapter layer.
type Handle struct {
	User          string
	Password      string
	Token         string
	PrivateKeyPEM []byte
}

// Resolver looks up credentials for a target host.
type Resolver interface {
	Resolve(ctx context.Context, host string) (*Handle, error)
}

const envPrefix = "SWITCHYARD_CRED"

// EnvResolver reads credentials from the process environment. For host
// db01.prod.internal it consults, in order:
//
//	SWITCHYARD_CRED_DB01_PROD_INTERNAL_USER
//	SWITCHYARD_CRED_DEFAULT_USER
//
// (upper-cased host, non-alphanumerics mapped to underscores), and the
// same pair for PASSWORD, TOKEN and KEY_FILE. KEY_FILE names a PEM file
// read at resolve time.
type EnvResolver struct{}

// NewEnvResolver creates an environment-backed resolver.
func NewEnvResolver() *EnvResolver {
	return &EnvResolver{}
}

// Resolve returns the credentials configured for host, falling back to
// the DEFAULT entries. A host with neither a user nor a token is an
// error.
func (r *EnvResolver) Resolve(_ context.Context, host string) (*Handle, error) {
	h := &Handle{
		User:     r.lookup(host, "USER"),
		Password: r.lookup(host, "PASSWORD"),
		Token:    r.lookup(host, "TOKEN"),
	}
	if keyFile := r.lookup(host, "KEY_FILE"); keyFile != "" {
		pem, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("Resolve: read key file: %w", err)
		}
		h.PrivateKeyPEM = pem
	}
	if h.User == "" && h.Token == "" {
		return nil, fmt.Errorf("Resolve: no credentials configured for host %q", host)
	}
	return h, nil
}

func (r *EnvResolver) lookup(host, field string) string {
	if v := os.Getenv(envPrefix + "_" + hostKey(host) + "_" + field); v != "" {
		return v
	}
	return os.Getenv(envPrefix + "_DEFAULT_" + field)
}

// hostKey maps a hostname onto the environment variable alphabet.
func hostKey(host string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z' || r >= '0' && r <= '9':
			return r
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		default:
			return '_'
		}
	}, host)
}
