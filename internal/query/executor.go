package query

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/arrowlake/arrowlake/internal/dataset"
	"github.com/arrowlake/arrowlake/internal/lakeerr"
	"github.com/arrowlake/arrowlake/internal/query/sqlref"
)

var ErrCatalogNotReady = errors.New("query: catalog is not sealed")

type Catalog interface {
	Names() []string
	Lookup(name string) (*dataset.Dataset, error)
	Ready() bool
}

type Executor struct {
	Engine   Engine
	RowLimit int
	Logger   *slog.Logger
}

type Analyzer interface {
	Analyze(ctx context.Context, sqlText string) (*sqlref.Analysis, error)
}

func NewExecutor(engine Engine, rowLimit int) *Executor {
	return &Executor{Engine: engine, RowLimit: rowLimit}
}

func (e *Executor) ensureDefaults() {
	if e.Logger == nil {
		e.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// Execute validates sqlText, resolves every table it reads against catalog and
// only then hands the query to the engine.
func (e *Executor) Execute(ctx context.Context, sqlText string, catalog Catalog) (*Result, error) {
	const op = "execute query"
	e.ensureDefaults()
	if e.Engine == nil {
		return nil, lakeerr.Errorf(lakeerr.KindConfig, op, "query engine is required")
	}
	if catalog == nil || !catalog.Ready() {
		return nil, lakeerr.E(lakeerr.KindExecution, op, ErrCatalogNotReady)
	}

	var fallback sqlref.Fallback
	if analyzer, ok := e.Engine.(Analyzer); ok {
		fallback = analyzer.Analyze
	}
	analysis, err := sqlref.AnalyzeWith(ctx, sqlText, fallback)
	if err != nil {
		return nil, err
	}
	resolved, missing := analysis.Resolve(catalog.Names())
	if len(missing) > 0 {
		return nil, lakeerr.Errorf(lakeerr.KindUnknownTable, op, "unknown table(s): %s", strings.Join(missing, ", "))
	}

	tables := make([]Table, 0, len(resolved))
	for _, name := range resolved {
		ds, err := catalog.Lookup(name)
		if err != nil {
			return nil, lakeerr.E(lakeerr.KindUnknownTable, op, err)
		}
		tables = append(tables, Table{Name: name, Dataset: ds})
	}

	if err := ctx.Err(); err != nil {
		return nil, lakeerr.E(lakeerr.KindCancelled, op, err)
	}

	start := time.Now()
	result, err := e.Engine.Execute(ctx, Request{SQL: sqlText, RowLimit: e.RowLimit, Tables: tables})
	if err != nil {
		err = lakeerr.FromContext(op, err)
		if lakeerr.KindOf(err) == "" {
			err = lakeerr.E(lakeerr.KindExecution, op, err)
		}
		return nil, err
	}
	if result == nil {
		return nil, lakeerr.E(lakeerr.KindExecution, op, fmt.Errorf("engine returned no result"))
	}
	if result.Duration == 0 {
		result.Duration = time.Since(start)
	}
	result.Tables = resolved

	e.Logger.DebugContext(ctx, "query executed",
		"tables", resolved,
		"batches", result.NumBatches(),
		"rows", result.NumRows(),
		"duration", result.Duration,
	)
	return result, nil
}
