package metrics

import (
	"context"

	model "github.com/tigerroll/serendip/pkg/batch/core/domain/model"
)

// Tracer is an abstract interface for distributed tracing of runs and plan items.
type Tracer interface {
	// StartRunSpan starts a span for one CLI operation (generate, batch submit, ...).
	// The returned function ends the span.
	StartRunSpan(ctx context.Context, operation string, attributes map[string]interface{}) (context.Context, func())

	// StartItemSpan starts a span for one plan item.
	StartItemSpan(ctx context.Context, key model.ItemKey) (context.Context, func())

	// RecordError records an error in the current span.
	RecordError(ctx context.Context, module string, err error)

	// RecordEvent records an event in the current span.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
