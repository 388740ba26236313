// Package model defines the domain types shared by the plan generator, the
// completion tracker, the synchronous execution engine and the batch orchestrator.
package model

import (
	"fmt"
	"sort"
	"strings"
)

// GenerationType describes how a PlanItem's prompt was produced.
type GenerationType string

const (
	// GenerationStandard is a single-axis item rendered from its template.
	GenerationStandard GenerationType = "standard"
	// GenerationRerun reuses the final prompt of an earlier manifest record.
	GenerationRerun GenerationType = "rerun"
	// GenerationMix blends the renderings of two axes into one prompt.
	GenerationMix GenerationType = "mix"
)

// PlanItem is one frozen unit of work. Its identity is (PlanName, Index).
// Items are created once by the plan generator and never regenerated unless
// the operator asks for it explicitly.
type PlanItem struct {
	Index          int               `json:"index"`
	Profile        string            `json:"profile"`
	PlanName       string            `json:"plan_name"`
	AxisID         string            `json:"axis_id"`
	AxisPair       []string          `json:"axis_pair,omitempty"`
	Bundle         string            `json:"bundle,omitempty"`
	DomainID       string            `json:"domain_id,omitempty"`
	HintsUsed      []string          `json:"hints_used,omitempty"`
	Slots          map[string]string `json:"slots"`
	SlotTags       map[string]string `json:"slot_tags,omitempty"`
	TemplateText   string            `json:"template_text,omitempty"`
	FinalPrompt    string            `json:"final_prompt"`
	SeedUsed       *int64            `json:"seed_used"`
	GenerationType GenerationType    `json:"generation_type"`
	SourcePlan     string            `json:"source_plan,omitempty"`
	SourceIndex    *int              `json:"source_index,omitempty"`
	ExcludedPlans  []string          `json:"excluded_plans,omitempty"`
}

// Key returns the tracker key of the item.
func (p *PlanItem) Key() ItemKey {
	return ItemKey{PlanName: p.PlanName, Index: p.Index}
}

// DedupeKey returns the composite uniqueness key of the item.
func (p *PlanItem) DedupeKey() string {
	return DedupeKey(p.AxisID, p.Slots)
}

// ItemKey identifies a plan item across the plan, the manifest and the batch ledger.
type ItemKey struct {
	PlanName string
	Index    int
}

func (k ItemKey) String() string {
	return fmt.Sprintf("%s#%d", k.PlanName, k.Index)
}

// DedupeKey builds "axis|k1=v1|k2=v2" with the slot pairs sorted by placeholder name.
func DedupeKey(axisID string, slots map[string]string) string {
	names := make([]string, 0, len(slots))
	for name := range slots {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(axisID)
	for _, name := range names {
		b.WriteByte('|')
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(slots[name])
	}
	return b.String()
}
