// Package judge is the external decision collaborator the engine
// consults when scoring produces a near-tie.
package judge

import (
	"context"
	"errors"
	"fmt"
)

// Judge answers a tie-break prompt with raw response text. The engine
// parses and validates the response and falls back to the deterministic
// leader on any failure, so implementations may error freely.
type Judge interface {
	Resolve(ctx context.Context, prompt string, options []string) (string, error)
}

// Static always picks the first option. Configured when no external
// judge is available; selection behaves exactly like the deterministic
// fallback while the escalation path stays exercised.
type Static struct{}

func (Static) Resolve(_ context.Context, _ string, options []string) (string, error) {
	if len(options) == 0 {
		return "", errors.New("Resolve: no options presented")
	}
	return fmt.Sprintf(`{"choice":%q}`, options[0]), nil
}
