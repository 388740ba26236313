package plan

import (
	"errors"
	"fmt"
	"os"

	"github.com/tigerroll/serendip/pkg/batch/core/domain/model"
	"github.com/tigerroll/serendip/pkg/batch/support/util/exception"
	"github.com/tigerroll/serendip/pkg/batch/support/util/serialization"
)

// ErrPlanExists is returned by Freeze when the plan file is already written.
var ErrPlanExists = errors.New("plan file already exists")

// Exists reports whether a frozen plan is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Freeze writes items to path. An existing plan is kept unless regenerate is set.
func Freeze(path string, items []model.PlanItem, regenerate bool) error {
	if Exists(path) && !regenerate {
		return exception.NewBatchError(moduleName, path, ErrPlanExists, false)
	}
	return serialization.WriteFileAtomic(path, items)
}

// Load reads a frozen plan. Plan files are never repaired, so any undecodable line is an error.
func Load(path string) ([]model.PlanItem, error) {
	if !Exists(path) {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("plan not found: %s", path), os.ErrNotExist, false)
	}
	return serialization.ReadFile[model.PlanItem](path, serialization.StrictLines)
}

// Keys returns the dedupe keys of items.
func Keys(items []model.PlanItem) KeySet {
	keys := make(KeySet, len(items))
	for i := range items {
		keys.Add(items[i].DedupeKey())
	}
	return keys
}

// LoadExclusions unions the dedupe keys of the plans at paths.
func LoadExclusions(paths []string) (KeySet, error) {
	keys := KeySet{}
	for _, p := range paths {
		items, err := Load(p)
		if err != nil {
			return nil, err
		}
		for k := range Keys(items) {
			keys.Add(k)
		}
	}
	return keys, nil
}

// IndexByPosition maps item index to item.
func IndexByPosition(items []model.PlanItem) map[int]model.PlanItem {
	byIndex := make(map[int]model.PlanItem, len(items))
	for _, it := range items {
		byIndex[it.Index] = it
	}
	return byIndex
}
