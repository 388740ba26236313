// Package storage defines the artifact store used for images and metadata
// side-files. Object names are slash-separated paths relative to the store
// root, e.g. "images/<axis>/<file>.png".
package storage

import (
	"context"
	"io"
	"path"

	"github.com/tigerroll/serendip/pkg/batch/core/config"
)

// Artifact directories under the store root.
const (
	ImagesDir = "images"
	MetaDir   = "meta"
)

// StorageExecutor defines the object operations of an artifact store.
type StorageExecutor interface {
	// Upload writes data to objectName, replacing any existing object.
	Upload(ctx context.Context, objectName string, data io.Reader, contentType string) error
	// Download opens objectName. The caller must close the reader.
	Download(ctx context.Context, objectName string) (io.ReadCloser, error)
	// Exists reports whether objectName is present.
	Exists(ctx context.Context, objectName string) (bool, error)
	// ListObjects calls fn for every object whose name starts with prefix.
	ListObjects(ctx context.Context, prefix string, fn func(objectName string) error) error
	// DeleteObject removes objectName. A missing object is not an error.
	DeleteObject(ctx context.Context, objectName string) error
}

// ArtifactStore is a StorageExecutor bound to one backend.
type ArtifactStore interface {
	StorageExecutor
	// Type returns the backend identifier ("local", "gcs").
	Type() string
	// Close releases backend resources.
	Close() error
}

// StorageProvider opens the store of one backend type.
type StorageProvider interface {
	Type() string
	Open(ctx context.Context, cfg *config.Config) (ArtifactStore, error)
}

// ImageObject is the object name of an image file of an axis.
func ImageObject(axisID, filename string) string {
	return path.Join(ImagesDir, axisID, filename)
}

// MetaObject is the object name of the metadata side-file with the given base name.
func MetaObject(axisID, base string) string {
	return path.Join(MetaDir, axisID, base+".json")
}
