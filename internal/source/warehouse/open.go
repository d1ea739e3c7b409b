package warehouse

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/arrowlake/arrowlake/internal/config"
	"github.com/arrowlake/arrowlake/internal/lakeerr"
	"github.com/arrowlake/arrowlake/internal/source"
)

// Lazy connects to its backend on the first read.
type Lazy struct {
	suffix string
	open   func(ctx context.Context) (Backend, error)

	mu      sync.Mutex
	backend Backend
}

func NewBackend(cfg config.Config) (*Lazy, error) {
	switch cfg.Warehouse.Driver {
	case config.DriverBigQuery:
		return &Lazy{suffix: "bq", open: func(ctx context.Context) (Backend, error) {
			return NewBigQuery(ctx, BigQueryConfig{
				Project:         cfg.Warehouse.Project,
				CredentialsFile: cfg.Warehouse.CredentialsFile,
			})
		}}, nil
	case config.DriverPostgres:
		return &Lazy{suffix: "pg", open: func(ctx context.Context) (Backend, error) {
			db, err := OpenDB(ctx, DBConfig{
				DSN:             cfg.Warehouse.DSN,
				MaxOpenConns:    cfg.Warehouse.MaxOpenConns,
				MaxIdleConns:    cfg.Warehouse.MaxIdleConns,
				ConnMaxLifetime: cfg.Warehouse.ConnMaxLifetime,
			})
			if err != nil {
				return nil, err
			}
			return NewPostgres(db, 0), nil
		}}, nil
	default:
		return nil, lakeerr.Errorf(lakeerr.KindConfig, "open warehouse", "unsupported warehouse driver %q", cfg.Warehouse.Driver)
	}
}

func (l *Lazy) Suffix() string { return l.suffix }

func (l *Lazy) ListTables(ctx context.Context, ref source.WarehouseRef) ([]string, error) {
	backend, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return backend.ListTables(ctx, ref)
}

func (l *Lazy) ReadTable(ctx context.Context, ref source.WarehouseRef, mem memory.Allocator) (*arrow.Schema, []arrow.Record, error) {
	backend, err := l.get(ctx)
	if err != nil {
		return nil, nil, err
	}
	return backend.ReadTable(ctx, ref, mem)
}

func (l *Lazy) get(ctx context.Context) (Backend, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.backend != nil {
		return l.backend, nil
	}
	backend, err := l.open(ctx)
	if err != nil {
		if lakeerr.KindOf(err) != "" {
			return nil, lakeerr.FromContext("open warehouse", err)
		}
		return nil, lakeerr.E(lakeerr.KindSourceUnavailable, "open warehouse", fmt.Errorf("%s: %w", l.suffix, err))
	}
	l.backend = backend
	return backend, nil
}

func (l *Lazy) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if closer, ok := l.backend.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
