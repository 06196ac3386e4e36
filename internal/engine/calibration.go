package engine

import "sync/atomic"

// Calibration scales modeled time and cost by observed/modeled ratios
// learned from telemetry, keyed by "tool/pattern". A nil Calibration or
// a missing key is the neutral factor 1.0, so selection works the same
// with or without telemetry feeding it.
type Calibration struct {
	Time map[string]float64
	Cost map[string]float64
}

func (c *Calibration) TimeFactor(key string) float64 {
	if c == nil {
		return 1
	}
	if f, ok := c.Time[key]; ok && f > 0 {
		return f
	}
	return 1
}

func (c *Calibration) CostFactor(key string) float64 {
	if c == nil {
		return 1
	}
	if f, ok := c.Cost[key]; ok && f > 0 {
		return f
	}
	return 1
}

// CalibrationHolder publishes calibration snapshots. The scorer takes
// one snapshot per request so a concurrent publish never splits a
// request across two views, and reads never block the publisher.
type CalibrationHolder struct {
	p atomic.Pointer[Calibration]
}

func NewCalibrationHolder() *CalibrationHolder {
	return &CalibrationHolder{}
}

// Snapshot returns the current calibration, possibly nil (neutral).
func (h *CalibrationHolder) Snapshot() *Calibration {
	if h == nil {
		return nil
	}
	return h.p.Load()
}

// Publish swaps in a new snapshot. Maps inside must not be mutated
// after publishing.
func (h *CalibrationHolder) Publish(c *Calibration) {
	h.p.Store(c)
}
