// Package tableformat loads an Iceberg table snapshot into a dataset.
package tableformat

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/arrowlake/arrowlake/internal/dataset"
	"github.com/arrowlake/arrowlake/internal/lakeerr"
	"github.com/arrowlake/arrowlake/internal/source"
)

const suffix = "iceberg"

// Scanner reads the current snapshot of a table. On error it must not
// return any records.
type Scanner interface {
	Scan(ctx context.Context, path source.TablePath) (*arrow.Schema, []arrow.Record, error)
}

type Loader struct {
	Scanner Scanner
	Logger  *slog.Logger
}

func (l *Loader) Kind() source.Kind { return source.KindTableFormat }

func (l *Loader) Load(ctx context.Context, identifier string) (*dataset.Dataset, error) {
	const op = "load table format"
	l.ensureDefaults()

	path, err := source.ParseTablePath(identifier)
	if err != nil {
		return nil, lakeerr.E(lakeerr.KindConfig, op, err)
	}
	if l.Scanner == nil {
		return nil, lakeerr.Errorf(lakeerr.KindConfig, op, "no table format scanner configured")
	}

	schema, records, err := l.Scanner.Scan(ctx, path)
	if err != nil {
		if lakeerr.KindOf(err) == "" {
			return nil, lakeerr.E(lakeerr.KindSourceUnavailable, op, fmt.Errorf("%s: %w", path, err))
		}
		return nil, lakeerr.FromContext(op, err)
	}
	defer func() {
		for _, record := range records {
			record.Release()
		}
	}()

	name := source.TableName(path.Base(), suffix)
	ds, err := dataset.New(name, schema, records)
	if err != nil {
		return nil, err
	}
	l.Logger.Info("table format source loaded", "path", path.String(), "registered_as", name, "rows", ds.NumRows(), "batches", len(records))
	return ds, nil
}

func (l *Loader) ensureDefaults() {
	if l.Logger == nil {
		l.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}
