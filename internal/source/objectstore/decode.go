package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/arrowlake/arrowlake/internal/storage"
)

const parquetBatchRows = 64 * 1024

// decode turns one object into record batches. The caller owns the returned
// records.
func decode(ctx context.Context, format storage.FileFormat, data []byte, mem memory.Allocator) (*arrow.Schema, []arrow.Record, error) {
	switch format {
	case storage.FormatParquet:
		return decodeParquet(ctx, data, mem)
	case storage.FormatIPCFile:
		return decodeIPCFile(data, mem)
	case storage.FormatIPCStream:
		return decodeIPCStream(data, mem)
	default:
		return nil, nil, fmt.Errorf("unsupported format %q", format)
	}
}

func decodeParquet(ctx context.Context, data []byte, mem memory.Allocator) (*arrow.Schema, []arrow.Record, error) {
	table, err := pqarrow.ReadTable(ctx, bytes.NewReader(data), parquet.NewReaderProperties(mem), pqarrow.ArrowReadProperties{}, mem)
	if err != nil {
		return nil, nil, fmt.Errorf("read parquet: %w", err)
	}
	defer table.Release()

	reader := array.NewTableReader(table, parquetBatchRows)
	defer reader.Release()

	var records []arrow.Record
	for reader.Next() {
		record := reader.Record()
		record.Retain()
		records = append(records, record)
	}
	if err := reader.Err(); err != nil {
		releaseRecords(records)
		return nil, nil, fmt.Errorf("read parquet batches: %w", err)
	}
	return table.Schema(), records, nil
}

func decodeIPCFile(data []byte, mem memory.Allocator) (*arrow.Schema, []arrow.Record, error) {
	reader, err := ipc.NewFileReader(bytes.NewReader(data), ipc.WithAllocator(mem))
	if err != nil {
		return nil, nil, fmt.Errorf("open arrow file: %w", err)
	}
	defer func() { _ = reader.Close() }()

	records := make([]arrow.Record, 0, reader.NumRecords())
	for i := 0; i < reader.NumRecords(); i++ {
		record, err := reader.Record(i)
		if err != nil {
			releaseRecords(records)
			return nil, nil, fmt.Errorf("read arrow batch %d: %w", i, err)
		}
		record.Retain()
		records = append(records, record)
	}
	return reader.Schema(), records, nil
}

func decodeIPCStream(data []byte, mem memory.Allocator) (*arrow.Schema, []arrow.Record, error) {
	reader, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(mem))
	if err != nil {
		return nil, nil, fmt.Errorf("open arrow stream: %w", err)
	}
	defer reader.Release()

	var records []arrow.Record
	for reader.Next() {
		record := reader.Record()
		record.Retain()
		records = append(records, record)
	}
	if err := reader.Err(); err != nil && !errors.Is(err, io.EOF) {
		releaseRecords(records)
		return nil, nil, fmt.Errorf("read arrow stream: %w", err)
	}
	return reader.Schema(), records, nil
}

// compatible compares column names, types and nullability, ignoring
// metadata that differs between writers.
func compatible(want, got *arrow.Schema) bool {
	if want.NumFields() != got.NumFields() {
		return false
	}
	for i := 0; i < want.NumFields(); i++ {
		a, b := want.Field(i), got.Field(i)
		if a.Name != b.Name || a.Nullable != b.Nullable || !arrow.TypeEqual(a.Type, b.Type) {
			return false
		}
	}
	return true
}

// conform relabels record with schema and takes ownership of record.
func conform(schema *arrow.Schema, record arrow.Record) arrow.Record {
	if record.Schema().Equal(schema) {
		return record
	}
	out := array.NewRecord(schema, record.Columns(), record.NumRows())
	record.Release()
	return out
}

func releaseRecords(records []arrow.Record) {
	for _, record := range records {
		record.Release()
	}
}
