package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/relayops/switchyard/internal/engine"
	"github.com/relayops/switchyard/internal/gateway"
)

// handleSelect implements POST /v1/select. Error mapping follows the
// selection error taxonomy: invalid requests are 400, policy
// rejections 422 with exclusion reasons, degraded-mode outages 503
// with a retry hint.
func (d *Dependencies) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req engine.SelectionRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	res, err := d.Selector.Select(r.Context(), &req)
	if err != nil {
		d.writeSelectError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (d *Dependencies) writeSelectError(w http.ResponseWriter, err error) {
	var unavailable *gateway.ServiceUnavailableError
	if errors.As(err, &unavailable) {
		w.Header().Set("Retry-After", strconv.Itoa(unavailable.RetryAfterSeconds))
		writeJSON(w, http.StatusServiceUnavailable, RetryResp{
			Detail:            "selection temporarily unavailable",
			RetryAfterSeconds: unavailable.RetryAfterSeconds,
		})
		return
	}
	var noEligible *engine.NoEligibleError
	if errors.As(err, &noEligible) {
		writeJSON(w, http.StatusUnprocessableEntity, RejectionResp{
			Detail:     noEligible.Error(),
			Exclusions: noEligible.Exclusions,
		})
		return
	}
	if errors.Is(err, engine.ErrInvalidRequest) {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}
	d.Logger.Error("selection failed", zapError(err))
	writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Selection failed"})
}
