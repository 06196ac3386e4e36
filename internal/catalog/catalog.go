package catalog

import (
	"context"
	"errors"
)

// ErrUnavailable reports that the durable store could not be reached and
// no cached value existed to fall back on. Callers treat it as the
// trigger for degraded-mode handling.
var ErrUnavailable = errors.New("catalog unavailable")

// ErrVersionExists reports an import of a (name, version) pair that was
// already published. Definitions are immutable; publish a new version.
var ErrVersionExists = errors.New("tool version already exists")

// Provider is the read surface the selection path depends on.
// The stale flag is true when the value was served from cache because
// the durable store was unreachable.
type Provider interface {
	// GetByName returns the latest active version of a tool, or nil if
	// no active version exists.
	GetByName(ctx context.Context, name string) (def *ToolDefinition, stale bool, err error)

	// GetCandidates returns one Candidate per (latest active tool,
	// pattern) pair matching the capability and optional platform filter.
	GetCandidates(ctx context.Context, capability, platform string) (cands []Candidate, stale bool, err error)
}

// Store is the durable-store contract behind the cache.
type Store interface {
	GetByName(ctx context.Context, name string) (*ToolDefinition, error)
	GetCandidates(ctx context.Context, capability, platform string) ([]Candidate, error)
	LoadActive(ctx context.Context) ([]*ToolDefinition, error)
	Insert(ctx context.Context, def *ToolDefinition) error
	Retire(ctx context.Context, name string) (int, error)
}

// expand turns a loaded definition into candidates for one capability.
// Returns nil when the definition does not provide the capability.
func expand(def *ToolDefinition, capability string) []Candidate {
	block, ok := def.Capabilities[capability]
	if !ok {
		return nil
	}
	cands := make([]Candidate, 0, len(block.Patterns))
	for name := range block.Patterns {
		p := block.Patterns[name]
		cands = append(cands, Candidate{
			Tool:        def,
			Capability:  capability,
			PatternName: name,
			Pattern:     &p,
		})
	}
	return cands
}
