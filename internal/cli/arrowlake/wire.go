package arrowlake

import (
	"context"
	"log/slog"

	"github.com/arrowlake/arrowlake/internal/config"
	"github.com/arrowlake/arrowlake/internal/query"
	"github.com/arrowlake/arrowlake/internal/query/duckdb"
	"github.com/arrowlake/arrowlake/internal/source"
	"github.com/arrowlake/arrowlake/internal/source/objectstore"
	"github.com/arrowlake/arrowlake/internal/source/tableformat"
	"github.com/arrowlake/arrowlake/internal/source/warehouse"
)

func DefaultServices(_ context.Context, cfg config.Config, rowLimit int, logger *slog.Logger) (Services, error) {
	backend, err := warehouse.NewBackend(cfg)
	if err != nil {
		return Services{}, err
	}

	executor := query.NewExecutor(duckdb.NewEngine(), rowLimit)
	executor.Logger = logger

	return Services{
		Loaders: []source.Loader{
			&objectstore.Loader{
				Stores:        objectstore.NewStoreFactory(cfg),
				DefaultScheme: objectstore.DefaultScheme(cfg.ObjectStore.Backend),
				Logger:        logger,
			},
			&warehouse.Loader{Backend: backend, Logger: logger},
			&tableformat.Loader{Scanner: tableformat.NewDuckDBScanner(cfg), Logger: logger},
		},
		Executor: executor,
		Close: func() {
			if err := backend.Close(); err != nil {
				logger.Warn("close warehouse backend", slog.Any("error", err))
			}
		},
	}, nil
}
