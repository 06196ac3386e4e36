package telemetry

import "time"

// Writer persists execution records. Write must NEVER block the caller;
// Close drains whatever is buffered.
type Writer interface {
	Write(rec *Record)
	Close()
}

// Record is one observed execution of a (tool, pattern). The stream is
// append-only: records are never updated or deleted, and calibration
// consumes them asynchronously.
type Record struct {
	RequestID         string    `json:"request_id,omitempty"`
	PlanID            string    `json:"plan_id,omitempty"`
	StepID            string    `json:"step_id,omitempty"`
	Tool              string    `json:"tool"`
	Pattern           string    `json:"pattern"`
	Capability        string    `json:"capability,omitempty"`
	ExecutionLocation string    `json:"execution_location,omitempty"`
	Host              string    `json:"host,omitempty"`
	EstimatedTimeMs   float64   `json:"estimated_time_ms,omitempty"`
	EstimatedCost     float64   `json:"estimated_cost,omitempty"`
	ObservedTimeMs    float64   `json:"observed_time_ms"`
	ObservedCost      float64   `json:"observed_cost,omitempty"`
	Success           bool      `json:"success"`
	ErrorText         string    `json:"error,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// Key returns the "tool/pattern" identity calibration aggregates by.
func (r *Record) Key() string {
	return r.Tool + "/" + r.Pattern
}
