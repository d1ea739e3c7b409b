package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	gcstorage "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/arrowlake/arrowlake/internal/storage"
)

type Config struct {
	Bucket          string
	Prefix          string
	Endpoint        string
	CredentialsFile string
	Anonymous       bool
}

type client interface {
	List(ctx context.Context, bucket, prefix string) ([]storage.ObjectInfo, error)
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, bucket, key string) (storage.ObjectInfo, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
	Close() error
}

type Store struct {
	client client
	bucket string
	prefix string
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	gc, err := newGCSClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{client: gc, bucket: strings.TrimSpace(cfg.Bucket), prefix: storage.CleanPrefix(cfg.Prefix)}, nil
}

func NewWithClient(bucket, prefix string, c client) (*Store, error) {
	if c == nil {
		return nil, fmt.Errorf("client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	return &Store{client: c, bucket: strings.TrimSpace(bucket), prefix: storage.CleanPrefix(prefix)}, nil
}

func (s *Store) Bucket() string { return s.bucket }

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) BucketExists(ctx context.Context) (bool, error) {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return false, fmt.Errorf("check bucket %q: %w", s.bucket, err)
	}
	return exists, nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	full := s.prefix
	if cleaned := storage.CleanPrefix(prefix); cleaned != "" {
		joined, err := storage.JoinKey(s.prefix, cleaned)
		if err != nil {
			return nil, err
		}
		full = joined
	}
	objects, err := s.client.List(ctx, s.bucket, storage.ListPrefix(full))
	if err != nil {
		if errors.Is(err, storage.ErrBucketNotFound) {
			return nil, storage.ErrBucketNotFound
		}
		return nil, fmt.Errorf("list objects %q: %w", full, err)
	}
	for i := range objects {
		objects[i].Key = storage.RelativeKey(s.prefix, objects[i].Key)
	}
	return objects, nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	normalized, err := storage.JoinKey(s.prefix, key)
	if err != nil {
		return nil, err
	}
	reader, err := s.client.Get(ctx, s.bucket, normalized)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, storage.ErrObjectNotFound
		}
		return nil, fmt.Errorf("get object %q: %w", normalized, err)
	}
	return reader, nil
}

func (s *Store) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	normalized, err := storage.JoinKey(s.prefix, key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := s.client.Stat(ctx, s.bucket, normalized)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return storage.ObjectInfo{}, storage.ErrObjectNotFound
		}
		return storage.ObjectInfo{}, fmt.Errorf("stat object %q: %w", normalized, err)
	}
	info.Key = storage.RelativeKey(s.prefix, info.Key)
	return info, nil
}

func newGCSClient(ctx context.Context, cfg Config) (*gcsClient, error) {
	var opts []option.ClientOption
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	switch {
	case cfg.Anonymous:
		opts = append(opts, option.WithoutAuthentication())
	case strings.TrimSpace(cfg.CredentialsFile) != "":
		opts = append(opts, option.WithCredentialsFile(strings.TrimSpace(cfg.CredentialsFile)))
	}
	clientImpl, err := gcstorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &gcsClient{client: clientImpl}, nil
}

type gcsClient struct {
	client *gcstorage.Client
}

func (g *gcsClient) List(ctx context.Context, bucket, prefix string) ([]storage.ObjectInfo, error) {
	it := g.client.Bucket(bucket).Objects(ctx, &gcstorage.Query{Prefix: prefix})
	var objects []storage.ObjectInfo
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, mapGCSErr(err)
		}
		if strings.HasSuffix(attrs.Name, "/") {
			continue
		}
		objects = append(objects, objectInfo(attrs))
	}
	return objects, nil
}

func (g *gcsClient) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	reader, err := g.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, mapGCSErr(err)
	}
	return reader, nil
}

func (g *gcsClient) Stat(ctx context.Context, bucket, key string) (storage.ObjectInfo, error) {
	attrs, err := g.client.Bucket(bucket).Object(key).Attrs(ctx)
	if err != nil {
		return storage.ObjectInfo{}, mapGCSErr(err)
	}
	return objectInfo(attrs), nil
}

func (g *gcsClient) BucketExists(ctx context.Context, bucket string) (bool, error) {
	_, err := g.client.Bucket(bucket).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gcstorage.ErrBucketNotExist) {
		return false, nil
	}
	return false, mapGCSErr(err)
}

func (g *gcsClient) Close() error {
	return g.client.Close()
}

func objectInfo(attrs *gcstorage.ObjectAttrs) storage.ObjectInfo {
	return storage.ObjectInfo{
		Key:          attrs.Name,
		Size:         attrs.Size,
		ETag:         attrs.Etag,
		LastModified: attrs.Updated,
	}
}

func mapGCSErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gcstorage.ErrBucketNotExist):
		return storage.ErrBucketNotFound
	case errors.Is(err, gcstorage.ErrObjectNotExist):
		return storage.ErrObjectNotFound
	default:
		return err
	}
}
