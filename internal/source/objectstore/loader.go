// Package objectstore loads columnar files (Parquet and Arrow IPC) from a
// GCS or S3 bucket prefix into a single dataset.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/arrowlake/arrowlake/internal/dataset"
	"github.com/arrowlake/arrowlake/internal/lakeerr"
	"github.com/arrowlake/arrowlake/internal/source"
	"github.com/arrowlake/arrowlake/internal/storage"
)

type StoreFactory interface {
	Open(ctx context.Context, location source.ObjectLocation) (storage.ObjectStore, error)
}

type StoreFactoryFunc func(ctx context.Context, location source.ObjectLocation) (storage.ObjectStore, error)

func (f StoreFactoryFunc) Open(ctx context.Context, location source.ObjectLocation) (storage.ObjectStore, error) {
	return f(ctx, location)
}

type Loader struct {
	Stores        StoreFactory
	DefaultScheme source.Scheme
	Allocator     memory.Allocator
	Logger        *slog.Logger
}

func (l *Loader) Kind() source.Kind { return source.KindObjectStore }

func (l *Loader) Load(ctx context.Context, identifier string) (*dataset.Dataset, error) {
	const op = "load object store"
	l.ensureDefaults()

	location, err := source.ParseObjectLocation(identifier)
	if err != nil {
		return nil, lakeerr.E(lakeerr.KindConfig, op, err)
	}
	if location.Scheme == source.SchemeDefault {
		location.Scheme = l.DefaultScheme
	}
	suffix, err := tableSuffix(location.Scheme)
	if err != nil {
		return nil, lakeerr.E(lakeerr.KindConfig, op, err)
	}
	if l.Stores == nil {
		return nil, lakeerr.Errorf(lakeerr.KindConfig, op, "no object store factory configured")
	}

	store, err := l.Stores.Open(ctx, location)
	if err != nil {
		return nil, classify(op, location.String(), err)
	}
	if closer, ok := store.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}

	exists, err := store.BucketExists(ctx)
	if err != nil {
		return nil, classify(op, location.String(), err)
	}
	if !exists {
		return nil, lakeerr.E(lakeerr.KindSourceUnavailable, op, fmt.Errorf("%s: %w", location.Bucket, storage.ErrBucketNotFound))
	}

	objects, err := l.resolveObjects(ctx, store, location)
	if err != nil {
		return nil, classify(op, location.String(), err)
	}
	if len(objects) == 0 {
		return nil, lakeerr.Errorf(lakeerr.KindSourceUnavailable, op, "no parquet or arrow files under %s", location)
	}

	var (
		schema  *arrow.Schema
		records []arrow.Record
	)
	defer func() { releaseRecords(records) }()

	for _, object := range objects {
		if err := ctx.Err(); err != nil {
			return nil, lakeerr.E(lakeerr.KindCancelled, op, err)
		}
		objectSchema, decoded, err := l.readObject(ctx, store, object)
		if err != nil {
			return nil, classify(op, object.Key, err)
		}
		if schema == nil {
			schema = objectSchema
		}
		if !compatible(schema, objectSchema) {
			releaseRecords(decoded)
			return nil, lakeerr.Errorf(lakeerr.KindSchema, op, "%s: schema %s does not match %s", object.Key, objectSchema, schema)
		}
		for _, record := range decoded {
			records = append(records, conform(schema, record))
		}
		l.Logger.Debug("object decoded", "bucket", store.Bucket(), "key", object.Key, "size_bytes", object.Size, "batches", len(decoded))
	}

	name := source.TableName(location.Base(), suffix)
	ds, err := dataset.New(name, schema, records)
	if err != nil {
		return nil, err
	}
	l.Logger.Info("object store source loaded", "location", location.String(), "table", name, "files", len(objects), "rows", ds.NumRows())
	return ds, nil
}

// resolveObjects returns the single named object when the location points
// at a data file, otherwise every data file under the prefix.
func (l *Loader) resolveObjects(ctx context.Context, store storage.ObjectStore, location source.ObjectLocation) ([]storage.ObjectInfo, error) {
	if _, ok := storage.FormatForKey(location.Prefix); ok && location.Prefix != "" {
		info, err := store.Stat(ctx, location.Prefix)
		if err != nil {
			return nil, err
		}
		if info.Key == "" {
			info.Key = location.Prefix
		}
		return []storage.ObjectInfo{info}, nil
	}
	objects, err := store.List(ctx, location.Prefix)
	if err != nil {
		return nil, err
	}
	return storage.DataObjects(objects), nil
}

func (l *Loader) readObject(ctx context.Context, store storage.ObjectStore, object storage.ObjectInfo) (*arrow.Schema, []arrow.Record, error) {
	format, ok := storage.FormatForKey(object.Key)
	if !ok {
		return nil, nil, lakeerr.Errorf(lakeerr.KindSchema, "decode object", "unsupported file type %q", path.Ext(object.Key))
	}
	reader, err := store.Get(ctx, object.Key)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = reader.Close() }()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", object.Key, err)
	}
	schema, records, err := decode(ctx, format, data, l.Allocator)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		return nil, nil, lakeerr.E(lakeerr.KindSchema, "decode "+string(format), err)
	}
	return schema, records, nil
}

func (l *Loader) ensureDefaults() {
	if l.DefaultScheme == source.SchemeDefault {
		l.DefaultScheme = source.SchemeGCS
	}
	if l.Allocator == nil {
		l.Allocator = memory.DefaultAllocator
	}
	if l.Logger == nil {
		l.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

func tableSuffix(scheme source.Scheme) (string, error) {
	switch scheme {
	case source.SchemeGCS:
		return "gcs", nil
	case source.SchemeS3:
		return "s3", nil
	default:
		return "", fmt.Errorf("unsupported object store scheme %q", scheme)
	}
}

func classify(op, subject string, err error) error {
	var classified *lakeerr.Error
	switch {
	case errors.As(err, &classified):
		return err
	case lakeerr.KindOf(err) == lakeerr.KindCancelled:
		return lakeerr.E(lakeerr.KindCancelled, op, err)
	default:
		return lakeerr.E(lakeerr.KindSourceUnavailable, op, fmt.Errorf("%s: %w", subject, err))
	}
}
