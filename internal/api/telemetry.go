package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/relayops/switchyard/internal/telemetry"
)

// handleIngestTelemetry implements POST /v1/telemetry. Records are
// handed to the async writer; the 202 does not wait for the flush.
func (d *Dependencies) handleIngestTelemetry(w http.ResponseWriter, r *http.Request) {
	var rec telemetry.Record
	if err := readJSON(r, &rec); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if rec.Tool == "" || rec.Pattern == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "tool and pattern are required"})
		return
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	d.Writer.Write(&rec)
	writeJSON(w, http.StatusAccepted, AcceptedResp{Status: "accepted"})
}

// handleTelemetrySummary implements GET /v1/telemetry/summary.
func (d *Dependencies) handleTelemetrySummary(w http.ResponseWriter, r *http.Request) {
	if d.Stats == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Telemetry store not configured"})
		return
	}

	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "days must be a positive integer"})
			return
		}
		days = n
	}

	stats, err := d.Stats.PatternStats(r.Context(), days)
	if err != nil {
		d.Logger.Error("telemetry summary failed", zapError(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to read telemetry"})
		return
	}
	writeJSON(w, http.StatusOK, SummaryResp{SinceDays: days, Patterns: stats})
}
