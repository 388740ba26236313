package tracker

import (
	"sort"
	"strings"

	model "github.com/tigerroll/serendip/pkg/batch/core/domain/model"
)

// CompactStats summarizes a compaction.
type CompactStats struct {
	Input               int
	Kept                int
	SkippedMissingImage int
}

// PlanAxes maps plan name and index to the axis of the frozen plan item.
type PlanAxes map[string]map[int]string

// Compact keeps one best record per (plan_name, index) of the selected plans.
// Records of plans outside the selection are kept unchanged. With an empty
// selection every plan in the log is compacted.
//
// Scores: a success with an existing image is worth 10, plus 5 when the
// filename carries the batch_<plan>_ prefix; an error is worth 2; anything
// else 1. Each gets 1 more when its axis matches the plan item. A success
// whose image is gone is dropped. Ties go to the later record. The output is
// sorted by (plan_name, index), followed by the untouched records in log order.
func Compact(records []model.ManifestRecord, plans []string, axes PlanAxes, exists ArtifactExists) ([]model.ManifestRecord, CompactStats) {
	selected := make(map[string]bool, len(plans))
	for _, p := range plans {
		selected[p] = true
	}

	type scored struct {
		score int
		order int
	}
	best := make(map[model.ItemKey]scored)
	var untouched []model.ManifestRecord
	stats := CompactStats{Input: len(records)}

	for order := range records {
		rec := &records[order]
		if len(selected) > 0 && !selected[rec.PlanName] {
			untouched = append(untouched, *rec)
			continue
		}
		axisMatch := 0
		if axis, ok := axes[rec.PlanName][rec.Index]; ok && axis == rec.AxisID {
			axisMatch = 1
		}

		var score int
		switch {
		case rec.Status == model.StatusSuccess:
			if rec.FinalImageFilename == "" || !exists(rec.AxisID, rec.FinalImageFilename) {
				stats.SkippedMissingImage++
				continue
			}
			score = 10 + axisMatch
			if strings.HasPrefix(rec.FinalImageFilename, "batch_"+rec.PlanName+"_") {
				score += 5
			}
		case rec.Status.IsFailure() || rec.Error != "":
			score = 2 + axisMatch
		default:
			score = 1 + axisMatch
		}

		key := rec.Key()
		if prev, ok := best[key]; !ok || score >= prev.score {
			best[key] = scored{score: score, order: order}
		}
	}

	kept := make([]model.ManifestRecord, 0, len(best)+len(untouched))
	for _, s := range best {
		kept = append(kept, records[s.order])
	}
	sort.Slice(kept, func(i, j int) bool {
		if kept[i].PlanName != kept[j].PlanName {
			return kept[i].PlanName < kept[j].PlanName
		}
		return kept[i].Index < kept[j].Index
	})
	kept = append(kept, untouched...)
	stats.Kept = len(kept)
	return kept, stats
}
