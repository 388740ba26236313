package ndjson

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"

	model "github.com/tigerroll/serendip/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/serendip/pkg/batch/core/domain/repository"
	logger "github.com/tigerroll/serendip/pkg/batch/support/util/logger"
	"github.com/tigerroll/serendip/pkg/batch/support/util/serialization"
)

// LedgerStore is the file-backed LedgerRepository of one plan.
type LedgerStore struct {
	mu      sync.Mutex
	path    string
	mirrors []repository.Mirror
}

var _ repository.LedgerRepository = (*LedgerStore)(nil)

// NewLedgerStore creates a ledger over path.
func NewLedgerStore(path string, mirrors ...repository.Mirror) *LedgerStore {
	return &LedgerStore{path: path, mirrors: mirrors}
}

// Append implements repository.LedgerRepository.
func (s *LedgerStore) Append(ctx context.Context, row *model.BatchJobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := serialization.AppendLine(s.path, row); err != nil {
		return err
	}
	var errs error
	for _, m := range s.mirrors {
		if err := mirrorOnce(func() error { return m.MirrorLedgerRow(ctx, row) }); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if errs != nil {
		logger.Warnf("Ledger mirror failed for chunk %d of %s: %v", row.ChunkID, row.PlanName, errs)
	}
	return nil
}

// LoadAll implements repository.LedgerRepository.
func (s *LedgerStore) LoadAll(ctx context.Context) ([]model.BatchJobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return serialization.ReadFile[model.BatchJobRecord](s.path, serialization.SkipBadLines(s.path))
}

// LedgerFactory opens per-plan ledgers from a path function.
type LedgerFactory struct {
	pathFor func(planName string) string
	mirrors []repository.Mirror
}

var _ repository.LedgerFactory = (*LedgerFactory)(nil)

// NewLedgerFactory creates a factory; pathFor maps a plan name to its ledger file.
func NewLedgerFactory(pathFor func(planName string) string, mirrors ...repository.Mirror) *LedgerFactory {
	return &LedgerFactory{pathFor: pathFor, mirrors: mirrors}
}

// Ledger implements repository.LedgerFactory.
func (f *LedgerFactory) Ledger(planName string) repository.LedgerRepository {
	return NewLedgerStore(f.pathFor(planName), f.mirrors...)
}
