package adapters

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/relayops/switchyard/internal/dispatch/creds"
	"github.com/relayops/switchyard/internal/plan"
)

// maxResponseBytes bounds how much of a response body lands in a step
// result.
const maxResponseBytes = 1 << 20

// HTTP calls a remote endpoint described by the step's routing metadata
// and params.
type HTTP struct {
	client *http.Client
	creds  creds.Resolver
	logger *zap.Logger
}

// NewHTTP creates an HTTP adapter. Timeouts come from the step context,
// not the client.
func NewHTTP(resolver creds.Resolver, logger *zap.Logger) *HTTP {
	return &HTTP{client: &http.Client{}, creds: resolver, logger: logger}
}

// Execute sends the request and returns the response body. Statuses of
// 400 and above are errors; the body still comes back as output.
func (a *HTTP) Execute(ctx context.Context, step *plan.EnrichedStep) (string, error) {
	url := paramString(step, "url")
	if url == "" {
		url = step.ProtocolMetadata["url"]
	}
	if url == "" {
		return "", fmt.Errorf("step %q has no url", step.ID)
	}
	method := paramString(step, "method")
	if method == "" {
		method = metaOr(step, "method", http.MethodGet)
	}

	var body io.Reader
	payload := paramString(step, "body")
	if payload != "" {
		body = strings.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, body)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	if payload != "" {
		req.Header.Set("Content-Type", metaOr(step, "content_type", "application/json"))
	}
	if step.RequiresCredentials {
		if err := a.authorize(ctx, req); err != nil {
			return "", err
		}
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return string(b), fmt.Errorf("http status %s", resp.Status)
	}
	return string(b), nil
}

func (a *HTTP) authorize(ctx context.Context, req *http.Request) error {
	handle, err := a.creds.Resolve(ctx, req.URL.Hostname())
	if err != nil {
		return fmt.Errorf("resolve credentials for %s: %w", req.URL.Hostname(), err)
	}
	switch {
	case handle.Token != "":
		req.Header.Set("Authorization", "Bearer "+handle.Token)
	case handle.User != "":
		req.SetBasicAuth(handle.User, handle.Password)
	}
	return nil
}
