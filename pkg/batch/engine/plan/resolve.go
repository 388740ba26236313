package plan

import (
	"fmt"

	"github.com/tigerroll/serendip/pkg/batch/core/domain/model"
	"github.com/tigerroll/serendip/pkg/batch/core/registry"
)

// IntegrityError is a plan item that cannot be executed because something it refers to is gone.
type IntegrityError struct {
	Type    model.ErrorType
	Message string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// SourceLookup returns the latest manifest record of a key.
type SourceLookup interface {
	Get(key model.ItemKey) (model.ManifestRecord, bool)
}

// LatestRecords is a SourceLookup over a latest-record map.
type LatestRecords map[model.ItemKey]model.ManifestRecord

// Get implements SourceLookup.
func (l LatestRecords) Get(key model.ItemKey) (model.ManifestRecord, bool) {
	rec, ok := l[key]
	return rec, ok
}

// Resolver turns a frozen plan item into the prompt to send.
type Resolver struct {
	Registry *registry.Registry
	// Latest finds the source records of rerun items.
	Latest SourceLookup
}

// Resolve returns the prompt of item, or an *IntegrityError.
func (r *Resolver) Resolve(item model.PlanItem) (string, *IntegrityError) {
	if item.GenerationType == model.GenerationRerun {
		if item.SourceIndex == nil || item.SourcePlan == "" {
			return "", &IntegrityError{Type: model.ErrorTypeMissingSource, Message: fmt.Sprintf("rerun item %d has no source reference", item.Index)}
		}
		var src model.ManifestRecord
		ok := false
		if r.Latest != nil {
			src, ok = r.Latest.Get(model.ItemKey{PlanName: item.SourcePlan, Index: *item.SourceIndex})
		}
		if !ok {
			return "", &IntegrityError{Type: model.ErrorTypeMissingSource, Message: fmt.Sprintf("no manifest record for %s:%d", item.SourcePlan, *item.SourceIndex)}
		}
		if src.FinalPrompt == "" {
			return "", &IntegrityError{Type: model.ErrorTypeMissingSourcePrompt, Message: fmt.Sprintf("manifest record for %s:%d has no final_prompt", item.SourcePlan, *item.SourceIndex)}
		}
		return src.FinalPrompt, nil
	}
	if item.DomainID != "" && r.Registry != nil {
		if _, ok := r.Registry.Domain(item.DomainID); !ok {
			return "", &IntegrityError{Type: model.ErrorTypeMissingDomain, Message: fmt.Sprintf("domain %s not found", item.DomainID)}
		}
	}
	return item.FinalPrompt, nil
}
