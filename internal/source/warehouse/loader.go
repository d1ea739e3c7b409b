// Package warehouse loads one warehouse table (BigQuery or PostgreSQL) into
// a dataset.
package warehouse

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/arrowlake/arrowlake/internal/dataset"
	"github.com/arrowlake/arrowlake/internal/lakeerr"
	"github.com/arrowlake/arrowlake/internal/source"
)

// Backend reads a whole table as Arrow record batches. On error it must
// not return any records.
type Backend interface {
	Suffix() string
	// ListTables names the tables in ref.Dataset, sorted.
	ListTables(ctx context.Context, ref source.WarehouseRef) ([]string, error)
	ReadTable(ctx context.Context, ref source.WarehouseRef, mem memory.Allocator) (*arrow.Schema, []arrow.Record, error)
}

type Loader struct {
	Backend   Backend
	Allocator memory.Allocator
	Logger    *slog.Logger
}

func (l *Loader) Kind() source.Kind { return source.KindWarehouse }

func (l *Loader) Load(ctx context.Context, identifier string) (*dataset.Dataset, error) {
	const op = "load warehouse"
	l.ensureDefaults()

	ref, err := source.ParseWarehouseRef(identifier)
	if err != nil {
		return nil, lakeerr.E(lakeerr.KindConfig, op, err)
	}
	if l.Backend == nil {
		return nil, lakeerr.Errorf(lakeerr.KindConfig, op, "no warehouse backend configured")
	}
	if ref.Table == "" {
		if ref, err = l.resolveTable(ctx, ref); err != nil {
			return nil, err
		}
	}

	schema, records, err := l.Backend.ReadTable(ctx, ref, l.Allocator)
	if err != nil {
		if lakeerr.KindOf(err) == "" {
			return nil, lakeerr.E(lakeerr.KindSourceUnavailable, op, err)
		}
		return nil, lakeerr.FromContext(op, err)
	}
	defer func() {
		for _, record := range records {
			record.Release()
		}
	}()

	name := source.TableName(ref.Table, l.Backend.Suffix())
	ds, err := dataset.New(name, schema, records)
	if err != nil {
		return nil, err
	}
	l.Logger.Info("warehouse source loaded", "table", ref.String(), "registered_as", name, "rows", ds.NumRows(), "batches", len(records))
	return ds, nil
}

func (l *Loader) resolveTable(ctx context.Context, ref source.WarehouseRef) (source.WarehouseRef, error) {
	const op = "resolve warehouse table"
	tables, err := l.Backend.ListTables(ctx, ref)
	if err != nil {
		if lakeerr.KindOf(err) == "" {
			return ref, lakeerr.E(lakeerr.KindSourceUnavailable, op, err)
		}
		return ref, lakeerr.FromContext(op, err)
	}
	switch len(tables) {
	case 0:
		return ref, lakeerr.Errorf(lakeerr.KindSourceUnavailable, op, "warehouse dataset %s has no tables", ref)
	case 1:
		ref.Table = tables[0]
		return ref, nil
	default:
		return ref, lakeerr.Errorf(lakeerr.KindConfig, op, "warehouse dataset %s has %d tables (%s); set warehouse_table", ref, len(tables), strings.Join(tables, ", "))
	}
}

func (l *Loader) ensureDefaults() {
	if l.Allocator == nil {
		l.Allocator = memory.DefaultAllocator
	}
	if l.Logger == nil {
		l.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}
