package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// uniqueViolation is the Postgres error code for a unique constraint hit.
const uniqueViolation = "23505"

// PostgresStore persists tool definitions in the tool_definitions table.
// Capability and routing documents are stored as JSONB.
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresStore creates a store backed by the given connection pool.
func NewPostgresStore(db *sql.DB, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

const toolColumns = `id, name, version, platform, category, active, routing, capabilities, created_at`

// GetByName returns the latest active version of a tool, or nil if none.
func (s *PostgresStore) GetByName(ctx context.Context, name string) (*ToolDefinition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+toolColumns+`
		FROM tool_definitions
		WHERE name = $1 AND active = true
		ORDER BY created_at DESC
		LIMIT 1`, name)

	def, err := scanTool(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetByName: %w", err)
	}
	return def, nil
}

// GetCandidates returns candidates for a capability across the latest
// active version of every matching tool. An empty platform matches all.
func (s *PostgresStore) GetCandidates(ctx context.Context, capability, platform string) ([]Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (name) `+toolColumns+`
		FROM tool_definitions
		WHERE active = true
		  AND capabilities ? $1
		  AND ($2 = '' OR platform = $2)
		ORDER BY name, created_at DESC`, capability, platform)
	if err != nil {
		return nil, fmt.Errorf("GetCandidates: %w", err)
	}
	defer rows.Close()

	var cands []Candidate
	for rows.Next() {
		def, err := scanTool(rows)
		if err != nil {
			return nil, fmt.Errorf("GetCandidates: %w", err)
		}
		cands = append(cands, expand(def, capability)...)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetCandidates: %w", err)
	}
	sortCandidates(cands)
	return cands, nil
}

// LoadActive returns the latest active version of every tool, for
// wholesale cache reloads.
func (s *PostgresStore) LoadActive(ctx context.Context) ([]*ToolDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (name) `+toolColumns+`
		FROM tool_definitions
		WHERE active = true
		ORDER BY name, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("LoadActive: %w", err)
	}
	defer rows.Close()

	var defs []*ToolDefinition
	for rows.Next() {
		def, err := scanTool(rows)
		if err != nil {
			return nil, fmt.Errorf("LoadActive: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// Insert publishes a new tool definition version.
// Returns ErrVersionExists when the (name, version) pair is taken.
func (s *PostgresStore) Insert(ctx context.Context, def *ToolDefinition) error {
	routing, err := json.Marshal(def.Routing)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}
	capabilities, err := json.Marshal(def.Capabilities)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO tool_definitions (name, version, platform, category, active, routing, capabilities)
		VALUES ($1, $2, $3, $4, true, $5, $6)
		RETURNING id, created_at`,
		def.Name, def.Version, def.Platform, def.Category, routing, capabilities,
	).Scan(&def.ID, &def.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrVersionExists
		}
		return fmt.Errorf("Insert: %w", err)
	}
	def.Active = true
	return nil
}

// Retire marks every version of a tool inactive and returns the number
// of versions affected. Rows stay in place for telemetry joins.
func (s *PostgresStore) Retire(ctx context.Context, name string) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tool_definitions SET active = false WHERE name = $1 AND active = true`, name)
	if err != nil {
		return 0, fmt.Errorf("Retire: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTool(row rowScanner) (*ToolDefinition, error) {
	var def ToolDefinition
	var routing, capabilities []byte
	if err := row.Scan(
		&def.ID, &def.Name, &def.Version, &def.Platform, &def.Category,
		&def.Active, &routing, &capabilities, &def.CreatedAt,
	); err != nil {
		return nil, err
	}
	if len(routing) > 0 {
		if err := json.Unmarshal(routing, &def.Routing); err != nil {
			return nil, fmt.Errorf("scanTool: routing: %w", err)
		}
	}
	if len(capabilities) > 0 {
		if err := json.Unmarshal(capabilities, &def.Capabilities); err != nil {
			return nil, fmt.Errorf("scanTool: capabilities: %w", err)
		}
	}
	return &def, nil
}

// sortCandidates orders candidates by tool then pattern name so store
// reads are reproducible regardless of map iteration order.
func sortCandidates(cands []Candidate) {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Tool.Name != cands[j].Tool.Name {
			return cands[i].Tool.Name < cands[j].Tool.Name
		}
		return cands[i].PatternName < cands[j].PatternName
	})
}
