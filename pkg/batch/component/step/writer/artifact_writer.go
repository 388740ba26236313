// Package writer persists the artifacts of executed plan items: images and
// metadata side-files in the artifact store, and Parquet exports of the manifest.
package writer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/tigerroll/serendip/pkg/batch/adapter/storage"
	port "github.com/tigerroll/serendip/pkg/batch/core/application/port"
	model "github.com/tigerroll/serendip/pkg/batch/core/domain/model"
	"github.com/tigerroll/serendip/pkg/batch/support/util/exception"
)

const (
	module         = "writer"
	imageExtension = ".png"
	imageMIMEType  = "image/png"
)

// ImageFilename is the file name of the final image with the given base name.
func ImageFilename(base string) string {
	return base + imageExtension
}

// ThoughtFilename is the file name of the n-th thought image (1-based).
func ThoughtFilename(base string, n int) string {
	return fmt.Sprintf("%s_thought_%02d%s", base, n, imageExtension)
}

// SavedImages lists the file names written by WriteImages.
type SavedImages struct {
	Final    string
	Thoughts []string
}

// ArtifactWriter writes images and metadata side-files to an artifact store.
type ArtifactWriter struct {
	store storage.StorageExecutor
}

// NewArtifactWriter creates a writer over store.
func NewArtifactWriter(store storage.StorageExecutor) *ArtifactWriter {
	return &ArtifactWriter{store: store}
}

// WriteImage stores one image as images/<axis>/<filename>.
func (w *ArtifactWriter) WriteImage(ctx context.Context, axisID, filename string, data []byte) error {
	if err := w.store.Upload(ctx, storage.ImageObject(axisID, filename), bytes.NewReader(data), imageMIMEType); err != nil {
		return exception.NewBatchError(module, fmt.Sprintf("failed to save image %s/%s", axisID, filename), err, false)
	}
	return nil
}

// ImageExists reports whether images/<axis>/<filename> is present.
func (w *ArtifactWriter) ImageExists(ctx context.Context, axisID, filename string) (bool, error) {
	return w.store.Exists(ctx, storage.ImageObject(axisID, filename))
}

// WriteImages stores the final image of ext as <base>.png and, when
// saveThoughts is set, the earlier parts as <base>_thought_NN.png.
func (w *ArtifactWriter) WriteImages(ctx context.Context, axisID, base string, ext *port.Extraction, saveThoughts bool) (SavedImages, error) {
	final, idx := ext.Final()
	saved := SavedImages{Final: ImageFilename(base), Thoughts: []string{}}
	if err := w.WriteImage(ctx, axisID, saved.Final, final.Data); err != nil {
		return SavedImages{}, err
	}
	if !saveThoughts {
		return saved, nil
	}
	for i, part := range ext.Images[:idx] {
		name := ThoughtFilename(base, i+1)
		if err := w.WriteImage(ctx, axisID, name, part.Data); err != nil {
			return SavedImages{}, err
		}
		saved.Thoughts = append(saved.Thoughts, name)
	}
	return saved, nil
}

// WriteMeta stores rec as the indented JSON side-file meta/<axis>/<base>.json.
func (w *ArtifactWriter) WriteMeta(ctx context.Context, axisID, base string, rec *model.ManifestRecord) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return exception.NewBatchError(module, "failed to encode metadata", err, false)
	}
	if err := w.store.Upload(ctx, storage.MetaObject(axisID, base), &buf, "application/json"); err != nil {
		return exception.NewBatchError(module, fmt.Sprintf("failed to save metadata %s/%s", axisID, base), err, false)
	}
	return nil
}
