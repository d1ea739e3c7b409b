package tableformat

import (
	"context"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/arrowlake/arrowlake/internal/config"
	"github.com/arrowlake/arrowlake/internal/lakeerr"
	"github.com/arrowlake/arrowlake/internal/query/duckdb"
	"github.com/arrowlake/arrowlake/internal/source"
)

type S3Secret struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// DuckDBScanner scans Iceberg tables with DuckDB's iceberg extension in a
// throwaway in-memory database.
type DuckDBScanner struct {
	Allocator           memory.Allocator
	AllowMovedPaths     bool
	MetadataCompression string
	S3                  S3Secret

	open func(ctx context.Context, mem memory.Allocator) (session, error)
}

type session interface {
	Exec(ctx context.Context, statement string) error
	QueryArrow(ctx context.Context, query string) (*arrow.Schema, []arrow.Record, error)
	Close() error
}

func NewDuckDBScanner(cfg config.Config) *DuckDBScanner {
	return &DuckDBScanner{
		Allocator:           memory.DefaultAllocator,
		AllowMovedPaths:     cfg.TableFormat.AllowMovedPaths,
		MetadataCompression: cfg.TableFormat.MetadataCompression,
		S3: S3Secret{
			Endpoint:        cfg.ObjectStore.Endpoint,
			Region:          cfg.ObjectStore.Region,
			AccessKeyID:     cfg.ObjectStore.AccessKeyID,
			SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
			UseSSL:          cfg.ObjectStore.UseSSL,
		},
	}
}

func (s *DuckDBScanner) Scan(ctx context.Context, path source.TablePath) (*arrow.Schema, []arrow.Record, error) {
	const op = "iceberg scan"
	open := s.open
	if open == nil {
		open = func(ctx context.Context, mem memory.Allocator) (session, error) {
			return duckdb.OpenSession(ctx, mem)
		}
	}
	sess, err := open(ctx, s.Allocator)
	if err != nil {
		return nil, nil, classify(ctx, op, err)
	}
	defer func() { _ = sess.Close() }()

	for _, statement := range s.setupStatements(path) {
		if err := sess.Exec(ctx, statement); err != nil {
			return nil, nil, classify(ctx, op, fmt.Errorf("prepare iceberg scan: %w", err))
		}
	}

	schema, records, err := sess.QueryArrow(ctx, s.scanQuery(path))
	if err != nil {
		return nil, nil, classify(ctx, op, fmt.Errorf("%s: %w", path, err))
	}
	return schema, records, nil
}

func (s *DuckDBScanner) setupStatements(path source.TablePath) []string {
	statements := []string{"INSTALL iceberg", "LOAD iceberg"}
	if !path.Remote() {
		return statements
	}
	statements = append(statements, "INSTALL httpfs", "LOAD httpfs")
	if path.Scheme == source.SchemeS3 && s.S3.AccessKeyID != "" {
		statements = append(statements, s.s3SecretStatement())
	}
	return statements
}

func (s *DuckDBScanner) s3SecretStatement() string {
	options := []string{
		"TYPE S3",
		"KEY_ID " + duckdb.QuoteString(s.S3.AccessKeyID),
		"SECRET " + duckdb.QuoteString(s.S3.SecretAccessKey),
	}
	if s.S3.Region != "" {
		options = append(options, "REGION "+duckdb.QuoteString(s.S3.Region))
	}
	if s.S3.Endpoint != "" {
		options = append(options,
			"ENDPOINT "+duckdb.QuoteString(s.S3.Endpoint),
			"URL_STYLE 'path'",
		)
	}
	options = append(options, fmt.Sprintf("USE_SSL %t", s.S3.UseSSL))
	return "CREATE OR REPLACE SECRET arrowlake_s3 (" + strings.Join(options, ", ") + ")"
}

func (s *DuckDBScanner) scanQuery(path source.TablePath) string {
	location := path.String()
	if path.Scheme == source.SchemeFile {
		location = path.Path
	}
	args := []string{
		duckdb.QuoteString(location),
		fmt.Sprintf("allow_moved_paths = %t", s.AllowMovedPaths),
	}
	if codec := strings.TrimSpace(s.MetadataCompression); codec != "" {
		args = append(args, "metadata_compression_codec = "+duckdb.QuoteString(codec))
	}
	return "SELECT * FROM iceberg_scan(" + strings.Join(args, ", ") + ")"
}

func classify(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return lakeerr.E(lakeerr.KindCancelled, op, fmt.Errorf("%w: %v", ctxErr, err))
	}
	if lakeerr.KindOf(err) != "" {
		return lakeerr.FromContext(op, err)
	}
	switch duckdb.Classify(err) {
	case duckdb.ClassSchema:
		return lakeerr.E(lakeerr.KindSchema, op, err)
	case duckdb.ClassParser:
		return lakeerr.E(lakeerr.KindConfig, op, err)
	default:
		return lakeerr.E(lakeerr.KindSourceUnavailable, op, err)
	}
}
