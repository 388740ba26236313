// Package ndjson stores the manifest and the batch ledgers as append-only
// newline-delimited JSON files. Appends are copied to the configured mirrors.
package ndjson

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	model "github.com/tigerroll/serendip/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/serendip/pkg/batch/core/domain/repository"
	"github.com/tigerroll/serendip/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/serendip/pkg/batch/support/util/logger"
	"github.com/tigerroll/serendip/pkg/batch/support/util/serialization"
)

const module = "ndjson"

// ManifestStore is the file-backed ManifestRepository.
type ManifestStore struct {
	mu      sync.Mutex
	path    string
	mirrors []repository.Mirror
	now     func() time.Time
}

var _ repository.ManifestRepository = (*ManifestStore)(nil)

// NewManifestStore creates a store over path. The file is created on first append.
func NewManifestStore(path string, mirrors ...repository.Mirror) *ManifestStore {
	return &ManifestStore{path: path, mirrors: mirrors, now: time.Now}
}

// Path returns the manifest file path.
func (s *ManifestStore) Path() string {
	return s.path
}

// Append implements repository.ManifestRepository. Mirror failures are logged
// and never fail the append; a retryable one is attempted a second time.
func (s *ManifestStore) Append(ctx context.Context, record *model.ManifestRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := serialization.AppendLine(s.path, record); err != nil {
		return err
	}
	var errs error
	for _, m := range s.mirrors {
		if err := mirrorOnce(func() error { return m.MirrorRecord(ctx, record) }); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if errs != nil {
		logger.Warnf("Manifest mirror failed for %s: %v", record.Key(), errs)
	}
	return nil
}

// LoadAll implements repository.ManifestRepository. Malformed lines are skipped.
func (s *ManifestStore) LoadAll(ctx context.Context) ([]model.ManifestRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return serialization.ReadFile[model.ManifestRecord](s.path, serialization.SkipBadLines(s.path))
}

// Rewrite implements repository.ManifestRepository: the current file is
// renamed to a timestamped backup and records are written atomically.
func (s *ManifestStore) Rewrite(ctx context.Context, records []model.ManifestRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	backup := serialization.BackupPath(s.path, s.now().UTC())
	if err := os.Rename(s.path, backup); err != nil {
		return "", exception.NewBatchError(module, fmt.Sprintf("failed to back up %s", s.path), err, false)
	}
	if err := serialization.WriteFileAtomic(s.path, records); err != nil {
		return backup, err
	}
	return backup, nil
}

// mirrorOnce calls fn and repeats it once when it fails with a retryable error.
func mirrorOnce(fn func() error) error {
	err := fn()
	if err != nil && exception.IsRetryable(err) {
		err = fn()
	}
	return err
}
