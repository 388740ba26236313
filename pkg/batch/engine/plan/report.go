package plan

import (
	"sort"

	"github.com/tigerroll/serendip/pkg/batch/core/domain/model"
)

// Count is one entry of a frequency table.
type Count struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// TagStats summarizes the tags drawn for one slot.
type TagStats struct {
	Slot   string  `json:"slot"`
	Total  int     `json:"total"`
	Unique int     `json:"unique"`
	Top    []Count `json:"top"`
}

// BiasReport describes how a plan is distributed over axes, tags and tokens.
type BiasReport struct {
	Total  int        `json:"total"`
	Axes   []Count    `json:"axes"`
	Tags   []TagStats `json:"tags"`
	Tokens []Count    `json:"tokens"`
}

// Bias computes the axis histogram, the per-slot tag totals and the topN slot values of items.
func Bias(items []model.PlanItem, topN int) BiasReport {
	axes := map[string]int{}
	tags := map[string]map[string]int{}
	tokens := map[string]int{}
	for _, it := range items {
		axis := it.AxisID
		if axis == "" {
			axis = "unknown"
		}
		axes[axis]++
		for _, v := range it.Slots {
			tokens[v]++
		}
		for slot, tag := range it.SlotTags {
			if tags[slot] == nil {
				tags[slot] = map[string]int{}
			}
			tags[slot][tag]++
		}
	}
	report := BiasReport{Total: len(items), Axes: ranked(axes, 0), Tokens: ranked(tokens, topN)}
	slots := make([]string, 0, len(tags))
	for s := range tags {
		slots = append(slots, s)
	}
	sort.Strings(slots)
	for _, s := range slots {
		total := 0
		for _, n := range tags[s] {
			total += n
		}
		report.Tags = append(report.Tags, TagStats{Slot: s, Total: total, Unique: len(tags[s]), Top: ranked(tags[s], topN)})
	}
	return report
}

// ranked sorts counts descending, then by name. topN <= 0 keeps everything.
func ranked(counts map[string]int, topN int) []Count {
	out := make([]Count, 0, len(counts))
	for name, n := range counts {
		out = append(out, Count{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}

// OverlapReport compares the dedupe keys of two plans.
type OverlapReport struct {
	KeysA   int      `json:"keys_a"`
	KeysB   int      `json:"keys_b"`
	Overlap int      `json:"overlap"`
	Sample  []string `json:"sample"`
}

// overlapSample is the number of overlapping keys listed in an OverlapReport.
const overlapSample = 20

// Overlap reports the dedupe keys shared by plans a and b.
func Overlap(a, b []model.PlanItem) OverlapReport {
	ka, kb := Keys(a), Keys(b)
	var shared []string
	for k := range ka {
		if kb.Has(k) {
			shared = append(shared, k)
		}
	}
	sort.Strings(shared)
	r := OverlapReport{KeysA: len(ka), KeysB: len(kb), Overlap: len(shared)}
	if len(shared) > overlapSample {
		shared = shared[:overlapSample]
	}
	r.Sample = shared
	return r
}
