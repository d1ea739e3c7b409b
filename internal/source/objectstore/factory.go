package objectstore

import (
	"context"
	"fmt"

	"github.com/arrowlake/arrowlake/internal/config"
	"github.com/arrowlake/arrowlake/internal/source"
	"github.com/arrowlake/arrowlake/internal/storage"
	"github.com/arrowlake/arrowlake/internal/storage/gcs"
	"github.com/arrowlake/arrowlake/internal/storage/s3"
)

// NewStoreFactory opens GCS or S3 stores from the ambient client settings.
// The store is rooted at the bucket; the loader lists the prefix itself.
func NewStoreFactory(cfg config.Config) StoreFactory {
	return StoreFactoryFunc(func(ctx context.Context, location source.ObjectLocation) (storage.ObjectStore, error) {
		switch location.Scheme {
		case source.SchemeGCS:
			return gcs.New(ctx, gcs.Config{
				Bucket:          location.Bucket,
				Endpoint:        cfg.GCS.Endpoint,
				CredentialsFile: cfg.GCS.CredentialsFile,
				Anonymous:       cfg.GCS.Anonymous,
			})
		case source.SchemeS3:
			return s3.New(s3.Config{
				Endpoint:        cfg.ObjectStore.Endpoint,
				Region:          cfg.ObjectStore.Region,
				Bucket:          location.Bucket,
				AccessKeyID:     cfg.ObjectStore.AccessKeyID,
				SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
				UseSSL:          cfg.ObjectStore.UseSSL,
			})
		default:
			return nil, fmt.Errorf("unsupported object store scheme %q", location.Scheme)
		}
	})
}

// DefaultScheme maps the configured backend to the scheme used for
// locations written without one.
func DefaultScheme(backend config.Backend) source.Scheme {
	if backend == config.BackendS3 {
		return source.SchemeS3
	}
	return source.SchemeGCS
}
