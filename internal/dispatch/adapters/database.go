package adapters

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/relayops/switchyard/internal/plan"
)

// maxQueryRows bounds how many rows a query step returns.
const maxQueryRows = 1000

// Database executes a step's SQL against the pool the adapter was
// constructed with. Query results come back as a JSON array of rows.
type Database struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDatabase creates a database adapter over an open pool.
func NewDatabase(db *sql.DB, logger *zap.Logger) *Database {
	return &Database{db: db, logger: logger}
}

// Execute runs the step's query. Metadata mode "exec" runs a statement
// and reports rows affected; the default runs a query and marshals the
// rows.
func (a *Database) Execute(ctx context.Context, step *plan.EnrichedStep) (string, error) {
	query := paramString(step, "query")
	if query == "" {
		query = step.ProtocolMetadata["query"]
	}
	if query == "" {
		return "", fmt.Errorf("step %q has no query", step.ID)
	}

	if metaOr(step, "mode", "query") == "exec" {
		res, err := a.db.ExecContext(ctx, query)
		if err != nil {
			return "", fmt.Errorf("exec: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return "", fmt.Errorf("rows affected: %w", err)
		}
		return fmt.Sprintf(`{"rows_affected":%d}`, affected), nil
	}

	rows, err := a.db.QueryContext(ctx, query)
	if err != nil {
		return "", fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return "", fmt.Errorf("columns: %w", err)
	}
	out := make([]map[string]any, 0)
	for rows.Next() && len(out) < maxQueryRows {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return "", fmt.Errorf("scan: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = normalizeSQLValue(vals[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("rows: %w", err)
	}

	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("marshal rows: %w", err)
	}
	return string(b), nil
}

// normalizeSQLValue turns driver byte slices into strings so marshaled
// rows stay readable.
func normalizeSQLValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	default:
		return v
	}
}
