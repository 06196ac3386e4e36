package api

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/relayops/switchyard/internal/catalog"
	"github.com/relayops/switchyard/internal/dispatch"
	"github.com/relayops/switchyard/internal/engine"
	"github.com/relayops/switchyard/internal/telemetry"
)

// Selector is the selection entrypoint the API exposes. The gateway
// satisfies it; tests substitute stubs.
type Selector interface {
	Select(ctx context.Context, req *engine.SelectionRequest) (*engine.SelectionResult, error)
}

// StatsReader serves aggregated telemetry. Nil when no analytical store
// is configured.
type StatsReader interface {
	PatternStats(ctx context.Context, sinceDays int) ([]telemetry.PatternStats, error)
}

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Catalog    *catalog.CachedCatalog
	Importer   *catalog.Importer
	Selector   Selector
	Dispatcher *dispatch.Dispatcher
	Writer     telemetry.Writer
	Stats      StatsReader // nil if ClickHouse unavailable
	Logger     *zap.Logger
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	// Selection and execution
	mux.HandleFunc("POST /v1/select", deps.handleSelect)
	mux.HandleFunc("POST /v1/execute", deps.handleExecute)

	// Catalog administration
	mux.HandleFunc("POST /v1/catalog/tools", deps.handleImportTool)
	mux.HandleFunc("GET /v1/catalog/tools/{name}", deps.handleGetTool)
	mux.HandleFunc("POST /v1/catalog/tools/{name}/retire", deps.handleRetireTool)
	mux.HandleFunc("POST /v1/catalog/reload", deps.handleReload)

	// Telemetry
	mux.HandleFunc("POST /v1/telemetry", deps.handleIngestTelemetry)
	mux.HandleFunc("GET /v1/telemetry/summary", deps.handleTelemetrySummary)

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return corsMiddleware(requestLogging(mux, deps.Logger))
}
