package duckdb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/arrowlake/arrowlake/internal/query/sqlref"
)

// Analyze parses sqlText with DuckDB's own grammar and collects the base
// tables it reads.
func (e *Engine) Analyze(ctx context.Context, sqlText string) (*sqlref.Analysis, error) {
	const op = "duckdb analyze"
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, classify(ctx, op, fmt.Errorf("open duckdb: %w", err))
	}
	defer func() { _ = db.Close() }()

	var serialized string
	row := db.QueryRowContext(ctx, `SELECT json_serialize_sql(?::VARCHAR)`, stripTrailingSemicolons(sqlText))
	if err := row.Scan(&serialized); err != nil {
		return nil, classify(ctx, op, err)
	}
	return sqlref.FromSerialized([]byte(serialized))
}
