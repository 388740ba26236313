package plan

import (
	"fmt"
	"sort"

	"github.com/tigerroll/serendip/pkg/batch/core/domain/model"
	"github.com/tigerroll/serendip/pkg/batch/support/util/exception"
)

// Filter narrows a plan for one run.
type Filter struct {
	// Axis matches the item axis or either axis of a mix pair.
	Axis   string
	Bundle string
	// Indices keeps only the listed plan indices.
	Indices []int
	// Count keeps at most the first Count matching items. 0 means all.
	Count int
}

// Apply returns the matching items in plan order.
func (f Filter) Apply(items []model.PlanItem) []model.PlanItem {
	var wanted map[int]bool
	if len(f.Indices) > 0 {
		wanted = make(map[int]bool, len(f.Indices))
		for _, i := range f.Indices {
			wanted[i] = true
		}
	}
	var out []model.PlanItem
	for _, it := range items {
		if f.Axis != "" && !matchesAxis(it, f.Axis) {
			continue
		}
		if f.Bundle != "" && it.Bundle != f.Bundle {
			continue
		}
		if wanted != nil && !wanted[it.Index] {
			continue
		}
		out = append(out, it)
		if f.Count > 0 && len(out) == f.Count {
			break
		}
	}
	return out
}

func matchesAxis(it model.PlanItem, axis string) bool {
	if it.AxisID == axis {
		return true
	}
	for _, a := range it.AxisPair {
		if a == axis {
			return true
		}
	}
	return false
}

// Rerun builds a plan of rerun items pointing at indices of the source plan.
// Each item copies the source axis; its prompt is resolved from the manifest at execution time.
func Rerun(source []model.PlanItem, sourcePlan, profile, planName string, indices []int) ([]model.PlanItem, error) {
	byIndex := IndexByPosition(source)
	sorted := append([]int(nil), indices...)
	sort.Ints(sorted)

	var out []model.PlanItem
	seen := map[int]bool{}
	for _, idx := range sorted {
		if seen[idx] {
			continue
		}
		seen[idx] = true
		src, ok := byIndex[idx]
		if !ok {
			return nil, exception.NewBatchError(moduleName, fmt.Sprintf("index %d is not in plan %s", idx, sourcePlan), nil, false)
		}
		srcIdx := idx
		out = append(out, model.PlanItem{
			Index:          len(out),
			Profile:        profile,
			PlanName:       planName,
			AxisID:         src.AxisID,
			AxisPair:       src.AxisPair,
			Bundle:         src.Bundle,
			DomainID:       src.DomainID,
			Slots:          src.Slots,
			SlotTags:       src.SlotTags,
			TemplateText:   src.TemplateText,
			GenerationType: model.GenerationRerun,
			SourcePlan:     sourcePlan,
			SourceIndex:    &srcIdx,
		})
	}
	return out, nil
}
