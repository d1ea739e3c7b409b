package warehouse

import (
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

const defaultBatchRows = 64 * 1024

var timestampType = &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}

// batcher turns scanned rows into record batches of at most batchRows rows.
type batcher struct {
	schema    *arrow.Schema
	builder   *array.RecordBuilder
	batchRows int
	pending   int
	records   []arrow.Record
}

func newBatcher(schema *arrow.Schema, mem memory.Allocator, batchRows int) *batcher {
	if batchRows <= 0 {
		batchRows = defaultBatchRows
	}
	return &batcher{
		schema:    schema,
		builder:   array.NewRecordBuilder(mem, schema),
		batchRows: batchRows,
	}
}

func (b *batcher) Append(values []any) error {
	if len(values) != b.schema.NumFields() {
		return fmt.Errorf("row has %d values, schema has %d columns", len(values), b.schema.NumFields())
	}
	for i, value := range values {
		if err := appendValue(b.builder.Field(i), value); err != nil {
			return fmt.Errorf("column %q: %w", b.schema.Field(i).Name, err)
		}
	}
	b.pending++
	if b.pending >= b.batchRows {
		b.flush()
	}
	return nil
}

func (b *batcher) flush() {
	if b.pending == 0 {
		return
	}
	b.records = append(b.records, b.builder.NewRecord())
	b.pending = 0
}

func (b *batcher) Finish() []arrow.Record {
	b.flush()
	b.builder.Release()
	records := b.records
	b.records = nil
	return records
}

func (b *batcher) Release() {
	for _, record := range b.records {
		record.Release()
	}
	b.records = nil
	b.builder.Release()
}

func appendValue(builder array.Builder, value any) error {
	if value == nil {
		builder.AppendNull()
		return nil
	}
	switch b := builder.(type) {
	case *array.Int64Builder:
		v, err := asInt64(value)
		if err != nil {
			return err
		}
		b.Append(v)
	case *array.Float64Builder:
		v, err := asFloat64(value)
		if err != nil {
			return err
		}
		b.Append(v)
	case *array.BooleanBuilder:
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("unexpected %T for BOOLEAN", value)
		}
		b.Append(v)
	case *array.StringBuilder:
		v, err := asString(value)
		if err != nil {
			return err
		}
		b.Append(v)
	case *array.BinaryBuilder:
		switch v := value.(type) {
		case []byte:
			b.Append(v)
		case string:
			b.AppendString(v)
		default:
			return fmt.Errorf("unexpected %T for BINARY", value)
		}
	case *array.TimestampBuilder:
		v, ok := value.(time.Time)
		if !ok {
			return fmt.Errorf("unexpected %T for TIMESTAMP", value)
		}
		b.Append(arrow.Timestamp(v.UTC().UnixMicro()))
	case *array.Date32Builder:
		switch v := value.(type) {
		case civil.Date:
			b.Append(arrow.Date32FromTime(v.In(time.UTC)))
		case time.Time:
			b.Append(arrow.Date32FromTime(v))
		default:
			return fmt.Errorf("unexpected %T for DATE", value)
		}
	default:
		return fmt.Errorf("unsupported arrow builder %T", builder)
	}
	return nil
}

func asInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("unexpected %T for INTEGER", value)
	}
}

func asFloat64(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("unexpected %T for FLOAT", value)
	}
}

func asString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case *big.Rat:
		return bigquery.NumericString(v), nil
	case civil.Time:
		return v.String(), nil
	case civil.DateTime:
		return v.String(), nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return "", fmt.Errorf("unexpected %T for STRING", value)
	}
}
