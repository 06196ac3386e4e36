package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/relayops/switchyard/internal/catalog"
	"github.com/relayops/switchyard/internal/engine"
)

type stubResolver struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *stubResolver) Resolve(ctx context.Context, req *engine.SelectionRequest) (*engine.SelectionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return &engine.SelectionResult{
		RequestID:       fmt.Sprintf("req-%d", r.calls),
		Tool:            "systemd_restart",
		Pattern:         "restart_unit",
		Capability:      req.Capability,
		Score:           0.92,
		EstimatedTimeMs: 800,
		EstimatedCost:   1,
	}, nil
}

func (r *stubResolver) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *stubResolver) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func newTestGateway(r Resolver, ttl, grace time.Duration) *Gateway {
	return New(Config{Resolver: r, TTL: ttl, Grace: grace, Logger: zap.NewNop()})
}

func TestSelect_CacheIdempotence(t *testing.T) {
	r := &stubResolver{}
	g := newTestGateway(r, 30*time.Second, time.Minute)
	req := &engine.SelectionRequest{Capability: "service_restart", Params: map[string]any{"service": "nginx"}}

	first, err := g.Select(context.Background(), req)
	if err != nil {
		t.Fatalf("first Select: %v", err)
	}
	second, err := g.Select(context.Background(), req)
	if err != nil {
		t.Fatalf("second Select: %v", err)
	}

	if r.callCount() != 1 {
		t.Fatalf("identical request must not re-invoke the engine, saw %d calls", r.callCount())
	}
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if !bytes.Equal(a, b) {
		t.Fatalf("cached result must be byte-identical:\n%s\n%s", a, b)
	}
}

func TestSelect_DistinctRequestsResolveSeparately(t *testing.T) {
	r := &stubResolver{}
	g := newTestGateway(r, 30*time.Second, time.Minute)

	if _, err := g.Select(context.Background(), &engine.SelectionRequest{Capability: "service_restart"}); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Select(context.Background(), &engine.SelectionRequest{Capability: "disk_cleanup"}); err != nil {
		t.Fatal(err)
	}
	if r.callCount() != 2 {
		t.Fatalf("distinct capabilities must resolve separately, saw %d calls", r.callCount())
	}
}

func TestSelect_FingerprintUsesNormalizedForm(t *testing.T) {
	r := &stubResolver{}
	g := newTestGateway(r, 30*time.Second, time.Minute)

	// N=0 normalizes to N=1; both requests share a fingerprint.
	if _, err := g.Select(context.Background(), &engine.SelectionRequest{Capability: "service_restart"}); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Select(context.Background(), &engine.SelectionRequest{Capability: "service_restart", N: 1}); err != nil {
		t.Fatal(err)
	}
	if r.callCount() != 1 {
		t.Fatalf("equivalent requests must share a cache entry, saw %d calls", r.callCount())
	}
}

func TestSelect_WarmKeyServesStaleDuringOutage(t *testing.T) {
	r := &stubResolver{}
	g := newTestGateway(r, 5*time.Millisecond, time.Minute)
	req := &engine.SelectionRequest{Capability: "service_restart"}

	warm, err := g.Select(context.Background(), req)
	if err != nil {
		t.Fatalf("warm-up: %v", err)
	}

	time.Sleep(10 * time.Millisecond) // past TTL, inside grace
	r.setErr(catalog.ErrUnavailable)

	res, err := g.Select(context.Background(), req)
	if err != nil {
		t.Fatalf("warm key must serve stale, got error: %v", err)
	}
	if !res.Stale {
		t.Fatal("degraded result must be marked stale")
	}
	if res.Tool != warm.Tool || res.RequestID != warm.RequestID {
		t.Fatalf("stale serve must reuse the cached selection: %+v", res)
	}
	if warm.Stale {
		t.Fatal("cached entry must not be mutated by the stale serve")
	}
}

func TestSelect_ColdKeyFailsWithEscalatingRetryAfter(t *testing.T) {
	r := &stubResolver{err: catalog.ErrUnavailable}
	g := newTestGateway(r, 30*time.Second, time.Minute)
	req := &engine.SelectionRequest{Capability: "service_restart"}

	want := []int{30, 60, 120, 240, 300, 300}
	for i, expected := range want {
		_, err := g.Select(context.Background(), req)
		var unavailable *ServiceUnavailableError
		if !errors.As(err, &unavailable) {
			t.Fatalf("attempt %d: expected ServiceUnavailableError, got %v", i, err)
		}
		if unavailable.RetryAfterSeconds != expected {
			t.Fatalf("attempt %d: retry after %d, want %d", i, unavailable.RetryAfterSeconds, expected)
		}
	}
}

func TestSelect_SuccessResetsColdBackoff(t *testing.T) {
	r := &stubResolver{err: catalog.ErrUnavailable}
	g := newTestGateway(r, time.Millisecond, 2*time.Millisecond)
	req := &engine.SelectionRequest{Capability: "service_restart"}

	for i := 0; i < 3; i++ {
		if _, err := g.Select(context.Background(), req); err == nil {
			t.Fatalf("attempt %d: expected failure", i)
		}
	}

	r.setErr(nil)
	if _, err := g.Select(context.Background(), req); err != nil {
		t.Fatalf("recovery select: %v", err)
	}

	// Let the entry age out of both TTL and grace, then fail again:
	// backoff must restart at the base.
	time.Sleep(5 * time.Millisecond)
	r.setErr(catalog.ErrUnavailable)

	_, err := g.Select(context.Background(), req)
	var unavailable *ServiceUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected ServiceUnavailableError, got %v", err)
	}
	if unavailable.RetryAfterSeconds != baseRetryAfterSeconds {
		t.Fatalf("retry after %d, want reset to %d", unavailable.RetryAfterSeconds, baseRetryAfterSeconds)
	}
}

func TestSelect_ValidatesBeforeTouchingCacheOrEngine(t *testing.T) {
	r := &stubResolver{}
	g := newTestGateway(r, 30*time.Second, time.Minute)

	_, err := g.Select(context.Background(), &engine.SelectionRequest{})
	if !errors.Is(err, engine.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if r.callCount() != 0 {
		t.Fatal("invalid request must not reach the engine")
	}
}

func TestSelect_NonOutageErrorsAreNotCached(t *testing.T) {
	r := &stubResolver{err: &engine.NoEligibleError{Capability: "service_restart"}}
	g := newTestGateway(r, 30*time.Second, time.Minute)
	req := &engine.SelectionRequest{Capability: "service_restart"}

	for i := 0; i < 2; i++ {
		_, err := g.Select(context.Background(), req)
		if !errors.Is(err, engine.ErrNoEligibleCandidate) {
			t.Fatalf("attempt %d: expected ErrNoEligibleCandidate, got %v", i, err)
		}
		var unavailable *ServiceUnavailableError
		if errors.As(err, &unavailable) {
			t.Fatal("policy rejection must not become a 503")
		}
	}
	if r.callCount() != 2 {
		t.Fatalf("rejections must not be cached, saw %d calls", r.callCount())
	}
}

func TestSweep_DropsEntriesPastGrace(t *testing.T) {
	r := &stubResolver{}
	g := newTestGateway(r, time.Millisecond, 2*time.Millisecond)

	if _, err := g.Select(context.Background(), &engine.SelectionRequest{Capability: "service_restart"}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)

	if removed := g.Sweep(); removed != 1 {
		t.Fatalf("expected 1 entry swept, got %d", removed)
	}
	if removed := g.Sweep(); removed != 0 {
		t.Fatalf("second sweep should find nothing, got %d", removed)
	}
}
