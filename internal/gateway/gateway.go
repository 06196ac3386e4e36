// Package gateway fronts the selection engine with a fingerprint-keyed
// result cache and the warm/cold degraded-mode contract for catalog
// outages.
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relayops/switchyard/internal/catalog"
	"github.com/relayops/switchyard/internal/engine"
)

const (
	// DefaultEntryTTL is how long a cached selection stays fresh.
	DefaultEntryTTL = 60 * time.Second

	// DefaultGraceWindow is how long past creation an entry may still
	// be served, marked stale, when resolution fails on store outage.
	DefaultGraceWindow = 10 * time.Minute

	baseRetryAfterSeconds = 30
	maxRetryAfterSeconds  = 300
)

// ServiceUnavailableError is returned on a cold cache key during a
// store outage. RetryAfterSeconds escalates per consecutive failure.
type ServiceUnavailableError struct {
	RetryAfterSeconds int
}

func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("selection unavailable, retry after %ds", e.RetryAfterSeconds)
}

// Resolver is the selection pipeline behind the cache.
type Resolver interface {
	Resolve(ctx context.Context, req *engine.SelectionRequest) (*engine.SelectionResult, error)
}

// cacheEntry is immutable once stored; Select swaps whole pointers so
// concurrent readers of one fingerprint always see a consistent entry.
type cacheEntry struct {
	result    *engine.SelectionResult
	createdAt time.Time
}

type coldState struct {
	failures int
	lastAt   time.Time
}

// Gateway caches selection results by request fingerprint.
type Gateway struct {
	resolver Resolver
	ttl      time.Duration
	grace    time.Duration
	logger   *zap.Logger

	entries sync.Map // fingerprint -> *cacheEntry

	mu   sync.Mutex
	cold map[string]*coldState
}

// Config wires a Gateway. Zero TTL/Grace take the defaults.
type Config struct {
	Resolver Resolver
	TTL      time.Duration
	Grace    time.Duration
	Logger   *zap.Logger
}

func New(cfg Config) *Gateway {
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = DefaultEntryTTL
	}
	grace := cfg.Grace
	if grace == 0 {
		grace = DefaultGraceWindow
	}
	return &Gateway{
		resolver: cfg.Resolver,
		ttl:      ttl,
		grace:    grace,
		logger:   cfg.Logger,
		cold:     make(map[string]*coldState),
	}
}

// fingerprint hashes the normalized request. encoding/json emits map
// keys in sorted order, so equivalent requests produce equal bytes.
func fingerprint(req *engine.SelectionRequest) (string, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Select resolves a request through the cache. A fresh hit returns the
// stored result without re-invoking the engine, so repeated identical
// requests are byte-identical and cost nothing. On catalog outage a
// warm key (entry younger than the grace window) serves its result
// marked stale; a cold key fails with ServiceUnavailableError carrying
// an escalating retry-after.
func (g *Gateway) Select(ctx context.Context, req *engine.SelectionRequest) (*engine.SelectionResult, error) {
	norm := req.Normalized()
	if err := norm.Validate(); err != nil {
		return nil, err
	}
	fp, err := fingerprint(&norm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrInvalidRequest, err)
	}

	if v, ok := g.entries.Load(fp); ok {
		entry := v.(*cacheEntry)
		if time.Since(entry.createdAt) < g.ttl {
			return entry.result, nil
		}
	}

	res, err := g.resolver.Resolve(ctx, &norm)
	if err == nil {
		g.entries.Store(fp, &cacheEntry{result: res, createdAt: time.Now()})
		g.resetCold(fp)
		return res, nil
	}

	if !errors.Is(err, catalog.ErrUnavailable) {
		return nil, err
	}

	if v, ok := g.entries.Load(fp); ok {
		entry := v.(*cacheEntry)
		if time.Since(entry.createdAt) < g.grace {
			g.logger.Warn("serving stale selection during catalog outage",
				zap.String("fingerprint", fp[:12]),
				zap.Duration("age", time.Since(entry.createdAt)),
			)
			stale := *entry.result
			stale.Stale = true
			return &stale, nil
		}
	}

	retryAfter := g.nextRetryAfter(fp)
	g.logger.Error("selection unavailable on cold key",
		zap.String("fingerprint", fp[:12]),
		zap.Int("retry_after_s", retryAfter),
	)
	return nil, &ServiceUnavailableError{RetryAfterSeconds: retryAfter}
}

// nextRetryAfter doubles the backoff per consecutive cold failure for
// this fingerprint, capped.
func (g *Gateway) nextRetryAfter(fp string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.cold[fp]
	if st == nil {
		st = &coldState{}
		g.cold[fp] = st
	}
	retry := baseRetryAfterSeconds
	for i := 0; i < st.failures && retry < maxRetryAfterSeconds; i++ {
		retry *= 2
	}
	if retry > maxRetryAfterSeconds {
		retry = maxRetryAfterSeconds
	}
	st.failures++
	st.lastAt = time.Now()
	return retry
}

func (g *Gateway) resetCold(fp string) {
	g.mu.Lock()
	delete(g.cold, fp)
	g.mu.Unlock()
}

// Sweep drops cache entries past the grace window and cold counters
// idle longer than the grace window. Returns how many entries were
// removed.
func (g *Gateway) Sweep() int {
	removed := 0
	g.entries.Range(func(key, v any) bool {
		if time.Since(v.(*cacheEntry).createdAt) >= g.grace {
			g.entries.Delete(key)
			removed++
		}
		return true
	})
	g.mu.Lock()
	for fp, st := range g.cold {
		if time.Since(st.lastAt) >= g.grace {
			delete(g.cold, fp)
		}
	}
	g.mu.Unlock()
	return removed
}

// StartSweeper runs Sweep on the interval until ctx is cancelled.
func (g *Gateway) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := g.Sweep(); n > 0 {
					g.logger.Debug("selection cache swept", zap.Int("removed", n))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
