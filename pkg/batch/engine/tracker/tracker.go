// Package tracker answers "is this plan item already done" by reconciling the
// append-only manifest with the artifacts that actually exist in the store.
package tracker

import (
	"context"
	"sort"
	"sync"

	"github.com/tigerroll/serendip/pkg/batch/adapter/storage"
	model "github.com/tigerroll/serendip/pkg/batch/core/domain/model"
	"github.com/tigerroll/serendip/pkg/batch/support/util/logger"
)

// ArtifactExists reports whether the image filename of an axis is present.
type ArtifactExists func(axisID, filename string) bool

// IsCompleted is the single predicate deciding whether a record makes its
// plan item done:
//
//   - status success: done iff the final image filename is set and the file
//     exists under images/<axis_id>/.
//   - status unset and error_type unset (records written before status was
//     introduced): done when no filename is recorded; when a filename is
//     recorded the file must exist.
//   - anything else, including a nil record: not done.
//
// A success record without a filename is never done.
func IsCompleted(rec *model.ManifestRecord, exists ArtifactExists) bool {
	if rec == nil {
		return false
	}
	switch rec.Status {
	case model.StatusSuccess:
		return rec.FinalImageFilename != "" && exists(rec.AxisID, rec.FinalImageFilename)
	case model.StatusUnset:
		if rec.ErrorType != model.ErrorTypeNone || rec.Error != "" {
			return false
		}
		if rec.FinalImageFilename == "" {
			return true
		}
		return exists(rec.AxisID, rec.FinalImageFilename)
	}
	return false
}

// Latest folds the log in order, keeping the last record per (plan_name, index).
func Latest(records []model.ManifestRecord) map[model.ItemKey]model.ManifestRecord {
	latest := make(map[model.ItemKey]model.ManifestRecord, len(records))
	for _, rec := range records {
		latest[rec.Key()] = rec
	}
	return latest
}

// StoreExists adapts an artifact store to ArtifactExists. Lookup errors are
// logged and treated as a missing file.
func StoreExists(ctx context.Context, store storage.StorageExecutor) ArtifactExists {
	return func(axisID, filename string) bool {
		ok, err := store.Exists(ctx, storage.ImageObject(axisID, filename))
		if err != nil {
			logger.Warnf("Failed to check image '%s/%s': %v", axisID, filename, err)
			return false
		}
		return ok
	}
}

// Tracker is the in-memory view of the manifest. Record keeps it current as
// new records are appended during a run.
type Tracker struct {
	mu     sync.RWMutex
	latest map[model.ItemKey]model.ManifestRecord
	exists ArtifactExists
}

// New builds a tracker from the records of a manifest log.
func New(records []model.ManifestRecord, exists ArtifactExists) *Tracker {
	return &Tracker{latest: Latest(records), exists: exists}
}

// Record makes rec the latest record of its key.
func (t *Tracker) Record(rec *model.ManifestRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latest[rec.Key()] = *rec
}

// Get returns the latest record of key.
func (t *Tracker) Get(key model.ItemKey) (model.ManifestRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.latest[key]
	return rec, ok
}

// IsCompleted applies IsCompleted to the latest record of key.
func (t *Tracker) IsCompleted(key model.ItemKey) bool {
	rec, ok := t.Get(key)
	if !ok {
		return false
	}
	return IsCompleted(&rec, t.exists)
}

// Snapshot returns a copy of the latest-record map.
func (t *Tracker) Snapshot() map[model.ItemKey]model.ManifestRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[model.ItemKey]model.ManifestRecord, len(t.latest))
	for k, v := range t.latest {
		out[k] = v
	}
	return out
}

// ErrorIndices returns the sorted indices of planName whose latest record is a failure.
func (t *Tracker) ErrorIndices(planName string) []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var indices []int
	for key, rec := range t.latest {
		if key.PlanName != planName {
			continue
		}
		if rec.Status.IsFailure() || (rec.Status != model.StatusSuccess && rec.Error != "") {
			indices = append(indices, key.Index)
		}
	}
	sort.Ints(indices)
	return indices
}

// Pending returns the items whose latest record does not complete them.
func (t *Tracker) Pending(items []model.PlanItem) []model.PlanItem {
	var out []model.PlanItem
	for i := range items {
		if !t.IsCompleted(items[i].Key()) {
			out = append(out, items[i])
		}
	}
	return out
}
