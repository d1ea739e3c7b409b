// Package dataset holds the immutable in-memory columnar table every source
// loader produces and the query engine consumes.
package dataset

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/arrowlake/arrowlake/internal/lakeerr"
)

// Dataset is a named Arrow table: one schema and an ordered list of record
// chunks sharing it. It is never mutated after construction.
type Dataset struct {
	name    string
	schema  *arrow.Schema
	records []arrow.Record
	rows    int64
	refs    atomic.Int64
}

// New builds a dataset from records that all carry schema. New retains every
// record; the caller keeps (and must release) its own references.
func New(name string, schema *arrow.Schema, records []arrow.Record) (*Dataset, error) {
	if strings.TrimSpace(name) == "" {
		return nil, lakeerr.Errorf(lakeerr.KindSchema, "build dataset", "dataset name is required")
	}
	if schema == nil {
		return nil, lakeerr.Errorf(lakeerr.KindSchema, "build dataset", "dataset %q has no schema", name)
	}
	if err := validateFieldNames(schema); err != nil {
		return nil, lakeerr.E(lakeerr.KindSchema, "build dataset "+name, err)
	}

	var rows int64
	for i, record := range records {
		if record == nil {
			return nil, lakeerr.Errorf(lakeerr.KindSchema, "build dataset "+name, "record %d is nil", i)
		}
		if !record.Schema().Equal(schema) {
			return nil, lakeerr.Errorf(lakeerr.KindSchema, "build dataset "+name, "record %d schema %s does not match dataset schema %s", i, record.Schema(), schema)
		}
		for col := 0; col < int(record.NumCols()); col++ {
			if int64(record.Column(col).Len()) != record.NumRows() {
				return nil, lakeerr.Errorf(lakeerr.KindSchema, "build dataset "+name, "record %d column %q has %d values, want %d", i, schema.Field(col).Name, record.Column(col).Len(), record.NumRows())
			}
		}
		rows += record.NumRows()
	}

	kept := make([]arrow.Record, 0, len(records))
	for _, record := range records {
		if record.NumRows() == 0 {
			continue
		}
		record.Retain()
		kept = append(kept, record)
	}

	d := &Dataset{name: name, schema: schema, records: kept, rows: rows}
	d.refs.Store(1)
	return d, nil
}

func FromColumns(name string, fields []arrow.Field, columns []arrow.Array) (*Dataset, error) {
	if len(fields) != len(columns) {
		return nil, lakeerr.Errorf(lakeerr.KindSchema, "build dataset "+name, "%d fields for %d columns", len(fields), len(columns))
	}
	schema := arrow.NewSchema(fields, nil)
	if err := validateFieldNames(schema); err != nil {
		return nil, lakeerr.E(lakeerr.KindSchema, "build dataset "+name, err)
	}

	rows := int64(-1)
	for i, column := range columns {
		if column == nil {
			return nil, lakeerr.Errorf(lakeerr.KindSchema, "build dataset "+name, "column %q is nil", fields[i].Name)
		}
		if !arrow.TypeEqual(column.DataType(), fields[i].Type) {
			return nil, lakeerr.Errorf(lakeerr.KindSchema, "build dataset "+name, "column %q has type %s, field declares %s", fields[i].Name, column.DataType(), fields[i].Type)
		}
		if rows >= 0 && int64(column.Len()) != rows {
			return nil, lakeerr.Errorf(lakeerr.KindSchema, "build dataset "+name, "column %q has %d values, want %d", fields[i].Name, column.Len(), rows)
		}
		rows = int64(column.Len())
	}
	if rows < 0 {
		rows = 0
	}

	record := array.NewRecord(schema, columns, rows)
	defer record.Release()
	return New(name, schema, []arrow.Record{record})
}

func validateFieldNames(schema *arrow.Schema) error {
	seen := make(map[string]string, schema.NumFields())
	for _, field := range schema.Fields() {
		if strings.TrimSpace(field.Name) == "" {
			return fmt.Errorf("column name is required")
		}
		key := strings.ToLower(field.Name)
		if previous, ok := seen[key]; ok {
			return fmt.Errorf("duplicate column name %q (conflicts with %q)", field.Name, previous)
		}
		seen[key] = field.Name
	}
	return nil
}

func (d *Dataset) Name() string { return d.name }

func (d *Dataset) Schema() *arrow.Schema { return d.schema }

func (d *Dataset) NumRows() int64 { return d.rows }

func (d *Dataset) NumColumns() int { return d.schema.NumFields() }

func (d *Dataset) ColumnNames() []string {
	names := make([]string, 0, d.schema.NumFields())
	for _, field := range d.schema.Fields() {
		names = append(names, field.Name)
	}
	return names
}

// Records exposes the chunks. Callers must not release them.
func (d *Dataset) Records() []arrow.Record {
	return d.records
}

// NewReader returns a fresh reader over the chunks. Release it when done.
func (d *Dataset) NewReader() (array.RecordReader, error) {
	reader, err := array.NewRecordReader(d.schema, d.records)
	if err != nil {
		return nil, lakeerr.E(lakeerr.KindSchema, "read dataset "+d.name, err)
	}
	return reader, nil
}

func (d *Dataset) Retain() {
	d.refs.Add(1)
}

// Release drops one reference; the chunks are freed with the last one.
func (d *Dataset) Release() {
	if d == nil {
		return
	}
	if d.refs.Add(-1) != 0 {
		return
	}
	for _, record := range d.records {
		record.Release()
	}
	d.records = nil
}
