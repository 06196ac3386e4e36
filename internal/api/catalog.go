package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/relayops/switchyard/internal/catalog"
)

// handleImportTool implements POST /v1/catalog/tools. With
// ?dry_run=true the definition is validated but never written.
func (d *Dependencies) handleImportTool(w http.ResponseWriter, r *http.Request) {
	var def catalog.ToolDefinition
	if err := readJSON(r, &def); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	if r.URL.Query().Get("dry_run") == "true" {
		issues := d.Importer.DryRun(&def)
		writeJSON(w, http.StatusOK, ImportResp{
			Name:    def.Name,
			Version: def.Version,
			DryRun:  true,
			Valid:   len(issues) == 0,
			Issues:  issues,
		})
		return
	}

	issues, err := d.Importer.Import(r.Context(), &def)
	if len(issues) > 0 {
		writeJSON(w, http.StatusBadRequest, ImportResp{
			Name:    def.Name,
			Version: def.Version,
			Issues:  issues,
		})
		return
	}
	if err != nil {
		if errors.Is(err, catalog.ErrVersionExists) {
			writeJSON(w, http.StatusConflict, ErrorResp{
				Detail: fmt.Sprintf("version %s of %s already exists", def.Version, def.Name),
			})
			return
		}
		d.Logger.Error("tool import failed", zapError(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to import tool"})
		return
	}
	writeJSON(w, http.StatusCreated, ImportResp{Name: def.Name, Version: def.Version, Valid: true})
}

// handleGetTool implements GET /v1/catalog/tools/{name}.
func (d *Dependencies) handleGetTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	def, stale, err := d.Catalog.GetByName(r.Context(), name)
	if err != nil {
		if errors.Is(err, catalog.ErrUnavailable) {
			writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Catalog unavailable"})
			return
		}
		d.Logger.Error("tool lookup failed", zapError(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to look up tool"})
		return
	}
	if def == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Tool not found."})
		return
	}
	writeJSON(w, http.StatusOK, ToolResp{Tool: def, Stale: stale})
}

// handleRetireTool implements POST /v1/catalog/tools/{name}/retire.
func (d *Dependencies) handleRetireTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	retired, err := d.Importer.Retire(r.Context(), name)
	if err != nil {
		d.Logger.Error("tool retire failed", zapError(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to retire tool"})
		return
	}
	if retired == 0 {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Tool not found."})
		return
	}
	writeJSON(w, http.StatusOK, RetireResp{Name: name, Retired: retired})
}

// handleReload implements POST /v1/catalog/reload.
func (d *Dependencies) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := d.Catalog.Reload(r.Context()); err != nil {
		d.Logger.Error("catalog reload failed", zapError(err))
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Catalog reload failed"})
		return
	}
	writeJSON(w, http.StatusOK, ReloadResp{Status: "reloaded"})
}
