package warehouse

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sort"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/arrowlake/arrowlake/internal/lakeerr"
	"github.com/arrowlake/arrowlake/internal/source"
)

type BigQueryConfig struct {
	Project         string
	CredentialsFile string
	BatchRows       int
}

type rowIterator interface {
	Next(dst interface{}) error
}

type tableClient interface {
	Tables(ctx context.Context, ref source.WarehouseRef) ([]string, error)
	Schema(ctx context.Context, ref source.WarehouseRef) (bigquery.Schema, error)
	Rows(ctx context.Context, ref source.WarehouseRef) (rowIterator, error)
	Close() error
}

type BigQuery struct {
	client    tableClient
	batchRows int
}

func NewBigQuery(ctx context.Context, cfg BigQueryConfig) (*BigQuery, error) {
	project := strings.TrimSpace(cfg.Project)
	if project == "" {
		project = bigquery.DetectProjectID
	}
	var opts []option.ClientOption
	if file := strings.TrimSpace(cfg.CredentialsFile); file != "" {
		opts = append(opts, option.WithCredentialsFile(file))
	}
	clientImpl, err := bigquery.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bigquery client: %w", err)
	}
	return &BigQuery{client: &bigQueryClient{client: clientImpl}, batchRows: cfg.BatchRows}, nil
}

func NewBigQueryWithClient(c tableClient, batchRows int) (*BigQuery, error) {
	if c == nil {
		return nil, fmt.Errorf("client is required")
	}
	return &BigQuery{client: c, batchRows: batchRows}, nil
}

func (b *BigQuery) Suffix() string { return "bq" }

func (b *BigQuery) Close() error {
	return b.client.Close()
}

func (b *BigQuery) ListTables(ctx context.Context, ref source.WarehouseRef) ([]string, error) {
	tables, err := b.client.Tables(ctx, ref)
	if err != nil {
		return nil, classifyBigQueryErr("list bigquery tables", ref, err)
	}
	sort.Strings(tables)
	return tables, nil
}

func (b *BigQuery) ReadTable(ctx context.Context, ref source.WarehouseRef, mem memory.Allocator) (*arrow.Schema, []arrow.Record, error) {
	const op = "read bigquery table"
	bqSchema, err := b.client.Schema(ctx, ref)
	if err != nil {
		return nil, nil, classifyBigQueryErr(op, ref, err)
	}
	schema, err := arrowSchemaFromBigQuery(bqSchema)
	if err != nil {
		return nil, nil, lakeerr.E(lakeerr.KindSchema, op, fmt.Errorf("%s: %w", ref, err))
	}

	it, err := b.client.Rows(ctx, ref)
	if err != nil {
		return nil, nil, classifyBigQueryErr(op, ref, err)
	}

	batch := newBatcher(schema, mem, b.batchRows)
	for {
		var row []bigquery.Value
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			batch.Release()
			return nil, nil, classifyBigQueryErr(op, ref, err)
		}
		values := make([]any, len(row))
		for i, value := range row {
			values[i] = normalizeBigQueryValue(bqSchema[i].Type, value)
		}
		if err := batch.Append(values); err != nil {
			batch.Release()
			return nil, nil, lakeerr.E(lakeerr.KindSchema, op, fmt.Errorf("%s: %w", ref, err))
		}
	}
	return schema, batch.Finish(), nil
}

func arrowSchemaFromBigQuery(schema bigquery.Schema) (*arrow.Schema, error) {
	if len(schema) == 0 {
		return nil, fmt.Errorf("table has no columns")
	}
	fields := make([]arrow.Field, 0, len(schema))
	for _, field := range schema {
		if field.Repeated {
			return nil, fmt.Errorf("column %q: REPEATED fields are not supported", field.Name)
		}
		dataType, err := arrowTypeForBigQuery(field.Type)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", field.Name, err)
		}
		fields = append(fields, arrow.Field{Name: field.Name, Type: dataType, Nullable: !field.Required})
	}
	return arrow.NewSchema(fields, nil), nil
}

func arrowTypeForBigQuery(fieldType bigquery.FieldType) (arrow.DataType, error) {
	switch fieldType {
	case bigquery.StringFieldType, bigquery.GeographyFieldType, bigquery.JSONFieldType,
		bigquery.NumericFieldType, bigquery.BigNumericFieldType,
		bigquery.TimeFieldType, bigquery.DateTimeFieldType:
		return arrow.BinaryTypes.String, nil
	case bigquery.BytesFieldType:
		return arrow.BinaryTypes.Binary, nil
	case bigquery.IntegerFieldType:
		return arrow.PrimitiveTypes.Int64, nil
	case bigquery.FloatFieldType:
		return arrow.PrimitiveTypes.Float64, nil
	case bigquery.BooleanFieldType:
		return arrow.FixedWidthTypes.Boolean, nil
	case bigquery.TimestampFieldType:
		return timestampType, nil
	case bigquery.DateFieldType:
		return arrow.FixedWidthTypes.Date32, nil
	default:
		return nil, fmt.Errorf("unsupported BigQuery type %s", fieldType)
	}
}

func normalizeBigQueryValue(fieldType bigquery.FieldType, value bigquery.Value) any {
	if value == nil {
		return nil
	}
	if rat, ok := value.(*big.Rat); ok {
		if fieldType == bigquery.BigNumericFieldType {
			return bigquery.BigNumericString(rat)
		}
		return bigquery.NumericString(rat)
	}
	return value
}

func classifyBigQueryErr(op string, ref source.WarehouseRef, err error) error {
	if kind := lakeerr.KindOf(err); kind == lakeerr.KindCancelled {
		return lakeerr.E(kind, op, err)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return lakeerr.E(lakeerr.KindSourceUnavailable, op, fmt.Errorf("%s not found: %w", ref, err))
		case http.StatusUnauthorized, http.StatusForbidden:
			return lakeerr.E(lakeerr.KindSourceUnavailable, op, fmt.Errorf("access to %s denied: %w", ref, err))
		}
	}
	return lakeerr.E(lakeerr.KindSourceUnavailable, op, fmt.Errorf("%s: %w", ref, err))
}

type bigQueryClient struct {
	client *bigquery.Client
}

func (c *bigQueryClient) dataset(ref source.WarehouseRef) *bigquery.Dataset {
	project := ref.Project
	if project == "" {
		project = c.client.Project()
	}
	return c.client.DatasetInProject(project, ref.Dataset)
}

func (c *bigQueryClient) table(ref source.WarehouseRef) *bigquery.Table {
	return c.dataset(ref).Table(ref.Table)
}

func (c *bigQueryClient) Tables(ctx context.Context, ref source.WarehouseRef) ([]string, error) {
	it := c.dataset(ref).Tables(ctx)
	var tables []string
	for {
		table, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return tables, nil
		}
		if err != nil {
			return nil, err
		}
		tables = append(tables, table.TableID)
	}
}

func (c *bigQueryClient) Schema(ctx context.Context, ref source.WarehouseRef) (bigquery.Schema, error) {
	metadata, err := c.table(ref).Metadata(ctx)
	if err != nil {
		return nil, err
	}
	return metadata.Schema, nil
}

func (c *bigQueryClient) Rows(ctx context.Context, ref source.WarehouseRef) (rowIterator, error) {
	return c.table(ref).Read(ctx), nil
}

func (c *bigQueryClient) Close() error {
	return c.client.Close()
}
