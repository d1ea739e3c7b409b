package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/arrowlake/arrowlake/internal/lakeerr"
	"github.com/arrowlake/arrowlake/internal/source"
)

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func OpenDB(ctx context.Context, cfg DBConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("warehouse dsn is required")
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open warehouse db: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping warehouse db: %w", err)
	}

	return db, nil
}

// Postgres reads "dataset"."table" where the dataset is a schema name.
type Postgres struct {
	db        *sql.DB
	batchRows int
}

func NewPostgres(db *sql.DB, batchRows int) *Postgres {
	return &Postgres{db: db, batchRows: batchRows}
}

func (p *Postgres) Suffix() string { return "pg" }

func (p *Postgres) Close() error {
	return p.db.Close()
}

const listTablesQuery = `SELECT table_name FROM information_schema.tables
WHERE table_schema = $1 AND table_type IN ('BASE TABLE', 'VIEW')
ORDER BY table_name`

func (p *Postgres) ListTables(ctx context.Context, ref source.WarehouseRef) ([]string, error) {
	const op = "list postgres tables"
	if ref.Project != "" {
		return nil, lakeerr.Errorf(lakeerr.KindConfig, op, "postgres warehouse does not take a project (%s)", ref)
	}
	rows, err := p.db.QueryContext(ctx, listTablesQuery, ref.Dataset)
	if err != nil {
		return nil, classifyPostgresErr(op, ref, err)
	}
	defer func() { _ = rows.Close() }()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, classifyPostgresErr(op, ref, err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPostgresErr(op, ref, err)
	}
	return tables, nil
}

func (p *Postgres) ReadTable(ctx context.Context, ref source.WarehouseRef, mem memory.Allocator) (*arrow.Schema, []arrow.Record, error) {
	const op = "read postgres table"
	if ref.Project != "" {
		return nil, nil, lakeerr.Errorf(lakeerr.KindConfig, op, "postgres warehouse does not take a project (%s)", ref)
	}

	rows, err := p.db.QueryContext(ctx, "SELECT * FROM "+quoteIdent(ref.Dataset)+"."+quoteIdent(ref.Table))
	if err != nil {
		return nil, nil, classifyPostgresErr(op, ref, err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.ColumnTypes()
	if err != nil {
		return nil, nil, classifyPostgresErr(op, ref, err)
	}
	schema, err := arrowSchemaFromColumns(columns)
	if err != nil {
		return nil, nil, lakeerr.E(lakeerr.KindSchema, op, fmt.Errorf("%s: %w", ref, err))
	}

	batch := newBatcher(schema, mem, p.batchRows)
	values := make([]any, len(columns))
	scanArgs := make([]any, len(columns))
	for i := range values {
		scanArgs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			batch.Release()
			return nil, nil, classifyPostgresErr(op, ref, err)
		}
		if err := batch.Append(values); err != nil {
			batch.Release()
			return nil, nil, lakeerr.E(lakeerr.KindSchema, op, fmt.Errorf("%s: %w", ref, err))
		}
	}
	if err := rows.Err(); err != nil {
		batch.Release()
		return nil, nil, classifyPostgresErr(op, ref, err)
	}
	return schema, batch.Finish(), nil
}

func arrowSchemaFromColumns(columns []*sql.ColumnType) (*arrow.Schema, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("table has no columns")
	}
	fields := make([]arrow.Field, 0, len(columns))
	for _, column := range columns {
		dataType, err := arrowTypeForPostgres(column.DatabaseTypeName())
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", column.Name(), err)
		}
		nullable, ok := column.Nullable()
		if !ok {
			nullable = true
		}
		fields = append(fields, arrow.Field{Name: column.Name(), Type: dataType, Nullable: nullable})
	}
	return arrow.NewSchema(fields, nil), nil
}

func arrowTypeForPostgres(typeName string) (arrow.DataType, error) {
	switch strings.ToUpper(typeName) {
	case "INT2", "INT4", "INT8":
		return arrow.PrimitiveTypes.Int64, nil
	case "FLOAT4", "FLOAT8":
		return arrow.PrimitiveTypes.Float64, nil
	case "NUMERIC", "TEXT", "VARCHAR", "BPCHAR", "NAME", "UUID", "JSON", "JSONB":
		return arrow.BinaryTypes.String, nil
	case "BOOL":
		return arrow.FixedWidthTypes.Boolean, nil
	case "DATE":
		return arrow.FixedWidthTypes.Date32, nil
	case "TIMESTAMP", "TIMESTAMPTZ":
		return timestampType, nil
	case "BYTEA":
		return arrow.BinaryTypes.Binary, nil
	default:
		return nil, fmt.Errorf("unsupported postgres type %q", typeName)
	}
}

func classifyPostgresErr(op string, ref source.WarehouseRef, err error) error {
	if lakeerr.KindOf(err) == lakeerr.KindCancelled {
		return lakeerr.E(lakeerr.KindCancelled, op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
		return lakeerr.E(lakeerr.KindSourceUnavailable, op, fmt.Errorf("%s not found: %w", ref, err))
	}
	return lakeerr.E(lakeerr.KindSourceUnavailable, op, fmt.Errorf("%s: %w", ref, err))
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
