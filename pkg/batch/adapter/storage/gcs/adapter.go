// Package gcs provides a Google Cloud Storage implementation of the artifact store.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	storageAdapter "github.com/tigerroll/serendip/pkg/batch/adapter/storage"
	coreConfig "github.com/tigerroll/serendip/pkg/batch/core/config"
	"github.com/tigerroll/serendip/pkg/batch/support/util/logger"
)

const (
	// ProviderType defines the type identifier for this storage provider.
	ProviderType = "gcs"
)

// gcsAdapter stores objects in one bucket below an optional prefix.
type gcsAdapter struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
	prefix string
}

var _ storageAdapter.ArtifactStore = (*gcsAdapter)(nil)

// NewGCSAdapter wraps an existing client. prefix is prepended to every object name.
func NewGCSAdapter(client *storage.Client, bucket, prefix string) (storageAdapter.ArtifactStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs storage adapter: bucket must be specified")
	}
	return &gcsAdapter{
		client: client,
		bucket: client.Bucket(bucket),
		name:   bucket,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

func (a *gcsAdapter) Close() error {
	return a.client.Close()
}

func (a *gcsAdapter) Type() string {
	return ProviderType
}

// Upload streams data into the object. The write is committed on Close.
func (a *gcsAdapter) Upload(ctx context.Context, objectName string, data io.Reader, contentType string) error {
	w := a.bucket.Object(a.fullName(objectName)).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, data); err != nil {
		w.Close()
		return fmt.Errorf("failed to upload 'gs://%s/%s': %w", a.name, a.fullName(objectName), err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize 'gs://%s/%s': %w", a.name, a.fullName(objectName), err)
	}
	logger.Debugf("Wrote 'gs://%s/%s'.", a.name, a.fullName(objectName))
	return nil
}

func (a *gcsAdapter) Download(ctx context.Context, objectName string) (io.ReadCloser, error) {
	r, err := a.bucket.Object(a.fullName(objectName)).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open 'gs://%s/%s': %w", a.name, a.fullName(objectName), err)
	}
	return r, nil
}

func (a *gcsAdapter) Exists(ctx context.Context, objectName string) (bool, error) {
	_, err := a.bucket.Object(a.fullName(objectName)).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat 'gs://%s/%s': %w", a.name, a.fullName(objectName), err)
	}
	return true, nil
}

// ListObjects calls fn with names relative to the adapter prefix.
func (a *gcsAdapter) ListObjects(ctx context.Context, prefix string, fn func(objectName string) error) error {
	it := a.bucket.Objects(ctx, &storage.Query{Prefix: a.fullName(prefix)})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to list 'gs://%s' with prefix '%s': %w", a.name, prefix, err)
		}
		if err := fn(a.relativeName(attrs.Name)); err != nil {
			return err
		}
	}
}

func (a *gcsAdapter) DeleteObject(ctx context.Context, objectName string) error {
	err := a.bucket.Object(a.fullName(objectName)).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		logger.Warnf("Attempted to delete non-existent object 'gs://%s/%s'.", a.name, a.fullName(objectName))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete 'gs://%s/%s': %w", a.name, a.fullName(objectName), err)
	}
	return nil
}

func (a *gcsAdapter) fullName(objectName string) string {
	if a.prefix == "" {
		return objectName
	}
	if objectName == "" {
		return a.prefix + "/"
	}
	return path.Join(a.prefix, objectName)
}

func (a *gcsAdapter) relativeName(fullName string) string {
	if a.prefix == "" {
		return fullName
	}
	return strings.TrimPrefix(fullName, a.prefix+"/")
}

// GCSProvider opens the bucket named in the storage configuration.
type GCSProvider struct {
	// opts are extra client options; tests point the client at an emulator.
	opts []option.ClientOption
}

// NewGCSProvider creates a new GCSProvider instance.
func NewGCSProvider(opts ...option.ClientOption) *GCSProvider {
	return &GCSProvider{opts: opts}
}

func (p *GCSProvider) Type() string {
	return ProviderType
}

// Open implements storage.StorageProvider.
func (p *GCSProvider) Open(ctx context.Context, cfg *coreConfig.Config) (storageAdapter.ArtifactStore, error) {
	sc := cfg.Serendip.Storage
	opts := append([]option.ClientOption{}, p.opts...)
	if sc.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(sc.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	prefix := sc.Prefix
	if prefix == "" {
		prefix = cfg.Serendip.Profile
	}
	store, err := NewGCSAdapter(client, sc.Bucket, prefix)
	if err != nil {
		client.Close()
		return nil, err
	}
	logger.Infof("Artifacts are stored in gs://%s/%s.", sc.Bucket, strings.Trim(prefix, "/"))
	return store, nil
}
