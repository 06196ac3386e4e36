package api

import (
	"net/http"

	"github.com/relayops/switchyard/internal/plan"
)

// handleExecute implements POST /v1/execute. Step-level failures land
// in the 200 response; only structurally invalid plans are a 400.
func (d *Dependencies) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if len(req.Steps) == 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "steps are required"})
		return
	}

	p := &plan.Plan{
		ID:             req.PlanID,
		Steps:          req.Steps,
		FailurePolicy:  req.FailurePolicy,
		MaxConcurrency: req.MaxConcurrency,
		MaxPlanTimeMs:  req.MaxPlanTimeMs,
	}
	result, err := d.Dispatcher.Run(r.Context(), p)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}
