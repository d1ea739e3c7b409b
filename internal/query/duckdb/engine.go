package duckdb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/arrowlake/arrowlake/internal/lakeerr"
	"github.com/arrowlake/arrowlake/internal/query"
)

// Engine runs each query in a fresh in-memory DuckDB database holding only
// the tables the query reads.
type Engine struct {
	Allocator memory.Allocator
}

func NewEngine() *Engine {
	return &Engine{Allocator: memory.DefaultAllocator}
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (*query.Result, error) {
	const op = "duckdb execute"
	sqlText := stripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return nil, lakeerr.Errorf(lakeerr.KindSyntax, op, "sql is required")
	}

	start := time.Now()
	session, err := OpenSession(ctx, e.Allocator)
	if err != nil {
		return nil, classify(ctx, op, err)
	}
	defer func() { _ = session.Close() }()

	for _, table := range request.Tables {
		if table.Dataset == nil {
			return nil, lakeerr.Errorf(lakeerr.KindExecution, op, "table %q has no dataset", table.Name)
		}
		if err := session.RegisterDataset(ctx, table.Name, table.Dataset); err != nil {
			return nil, classify(ctx, op, fmt.Errorf("load table %q: %w", table.Name, err))
		}
	}

	if err := session.Exec(ctx, "SET enable_external_access = false"); err != nil {
		return nil, classify(ctx, op, fmt.Errorf("lock down session: %w", err))
	}

	if request.RowLimit > 0 {
		sqlText = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", sqlText, request.RowLimit)
	}

	schema, records, err := session.QueryArrow(ctx, sqlText)
	if err != nil {
		return nil, classify(ctx, op, err)
	}

	result := query.NewResult(schema, records)
	result.Duration = time.Since(start)
	return result, nil
}

func classify(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return lakeerr.E(lakeerr.KindCancelled, op, fmt.Errorf("%w: %v", ctxErr, err))
	}
	if kind := lakeerr.KindOf(err); kind != "" {
		if kind == lakeerr.KindCancelled {
			return lakeerr.FromContext(op, err)
		}
		return err
	}
	switch Classify(err) {
	case ClassParser:
		return lakeerr.E(lakeerr.KindSyntax, op, err)
	case ClassCatalog:
		return lakeerr.E(lakeerr.KindUnknownTable, op, err)
	default:
		return lakeerr.E(lakeerr.KindExecution, op, err)
	}
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func QuoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func viewSuffix(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "table"
	}
	return value
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
