package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/serendip/pkg/batch/core/domain/model"
)

// NoOpMetricRecorder is an implementation of MetricRecorder that does nothing.
// It is used when metrics are disabled or during testing.
type NoOpMetricRecorder struct{}

// NewNoOpMetricRecorder creates a new instance of NoOpMetricRecorder.
func NewNoOpMetricRecorder() *NoOpMetricRecorder {
	return &NoOpMetricRecorder{}
}

// RecordItem does nothing.
func (r *NoOpMetricRecorder) RecordItem(ctx context.Context, mode string, status model.Status, errType model.ErrorType) {
}

// RecordRetry does nothing.
func (r *NoOpMetricRecorder) RecordRetry(ctx context.Context, errType model.ErrorType) {}

// RecordItemSkip does nothing.
func (r *NoOpMetricRecorder) RecordItemSkip(ctx context.Context, mode string) {}

// RecordImages does nothing.
func (r *NoOpMetricRecorder) RecordImages(ctx context.Context, kind string, count int) {}

// RecordBatchSubmit does nothing.
func (r *NoOpMetricRecorder) RecordBatchSubmit(ctx context.Context, items int) {}

// RecordBatchState does nothing.
func (r *NoOpMetricRecorder) RecordBatchState(ctx context.Context, state model.JobState) {}

// RecordDuration does nothing.
func (r *NoOpMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
}

var _ MetricRecorder = (*NoOpMetricRecorder)(nil)

// --- NoOpTracer ---

// NoOpTracer is an implementation of Tracer that does nothing.
type NoOpTracer struct{}

// NewNoOpTracer creates a new instance of NoOpTracer.
func NewNoOpTracer() *NoOpTracer {
	return &NoOpTracer{}
}

// StartRunSpan returns ctx unchanged.
func (t *NoOpTracer) StartRunSpan(ctx context.Context, operation string, attributes map[string]interface{}) (context.Context, func()) {
	return ctx, func() {}
}

// StartItemSpan returns ctx unchanged.
func (t *NoOpTracer) StartItemSpan(ctx context.Context, key model.ItemKey) (context.Context, func()) {
	return ctx, func() {}
}

// RecordError does nothing.
func (t *NoOpTracer) RecordError(ctx context.Context, module string, err error) {}

// RecordEvent does nothing.
func (t *NoOpTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {}

var _ Tracer = (*NoOpTracer)(nil)
