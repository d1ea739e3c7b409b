package duckdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/marcboeker/go-duckdb/v2"

	"github.com/arrowlake/arrowlake/internal/dataset"
)

// Session is one connection to a private in-memory DuckDB database with the
// Arrow interface attached.
type Session struct {
	db    *sql.DB
	conn  *sql.Conn
	arrow *duckdb.Arrow
	mem   memory.Allocator
}

func OpenSession(ctx context.Context, mem memory.Allocator) (*Session, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open duckdb connection: %w", err)
	}

	var ar *duckdb.Arrow
	err = conn.Raw(func(driverConn any) error {
		dc, ok := driverConn.(driver.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", driverConn)
		}
		ar, err = duckdb.NewArrowFromConn(dc)
		return err
	})
	if err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, fmt.Errorf("attach arrow interface: %w", err)
	}
	return &Session{db: db, conn: conn, arrow: ar, mem: mem}, nil
}

func (s *Session) Exec(ctx context.Context, statement string) error {
	if _, err := s.conn.ExecContext(ctx, statement); err != nil {
		return err
	}
	return nil
}

// RegisterDataset materializes ds as table name. The Arrow scan behind a view
// can only be read once, so the rows are copied into a native table.
func (s *Session) RegisterDataset(ctx context.Context, name string, ds *dataset.Dataset) error {
	reader, err := ds.NewReader()
	if err != nil {
		return err
	}
	defer reader.Release()

	view := "arrowlake_scan_" + viewSuffix(name)
	release, err := s.arrow.RegisterView(reader, view)
	if err != nil {
		return fmt.Errorf("register arrow view for %q: %w", name, err)
	}
	defer release()

	createSQL := fmt.Sprintf(`CREATE TABLE %s AS SELECT * FROM %s`, quoteIdent(name), quoteIdent(view))
	if err := s.Exec(ctx, createSQL); err != nil {
		return fmt.Errorf("materialize table %q: %w", name, err)
	}
	if err := s.Exec(ctx, `DROP VIEW IF EXISTS `+quoteIdent(view)); err != nil {
		return fmt.Errorf("drop arrow view for %q: %w", name, err)
	}
	return nil
}

// QueryArrow runs a query and copies every batch into the session allocator,
// so the records outlive the session.
func (s *Session) QueryArrow(ctx context.Context, query string) (*arrow.Schema, []arrow.Record, error) {
	reader, err := s.arrow.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	defer reader.Release()

	schema := reader.Schema()
	var records []arrow.Record
	for reader.Next() {
		if err := ctx.Err(); err != nil {
			releaseRecords(records)
			return nil, nil, err
		}
		record, err := copyRecord(reader.Record(), s.mem)
		if err != nil {
			releaseRecords(records)
			return nil, nil, err
		}
		records = append(records, record)
	}
	if err := reader.Err(); err != nil {
		releaseRecords(records)
		return nil, nil, err
	}
	return schema, records, nil
}

func (s *Session) Close() error {
	connErr := s.conn.Close()
	dbErr := s.db.Close()
	if connErr != nil {
		return fmt.Errorf("close duckdb connection: %w", connErr)
	}
	if dbErr != nil {
		return fmt.Errorf("close duckdb: %w", dbErr)
	}
	return nil
}

func copyRecord(record arrow.Record, mem memory.Allocator) (arrow.Record, error) {
	columns := make([]arrow.Array, 0, record.NumCols())
	defer func() {
		for _, column := range columns {
			column.Release()
		}
	}()
	for i := 0; i < int(record.NumCols()); i++ {
		column, err := array.Concatenate([]arrow.Array{record.Column(i)}, mem)
		if err != nil {
			return nil, fmt.Errorf("copy column %q: %w", record.ColumnName(i), err)
		}
		columns = append(columns, column)
	}
	return array.NewRecord(record.Schema(), columns, record.NumRows()), nil
}

func releaseRecords(records []arrow.Record) {
	for _, record := range records {
		record.Release()
	}
}
