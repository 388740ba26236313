// Package metrics defines the metric and tracing ports of the execution
// engines together with no-op implementations.
package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/serendip/pkg/batch/core/domain/model"
)

// Execution modes used as a metric dimension.
const (
	ModeSync  = "sync"
	ModeBatch = "batch"
)

// MetricRecorder is an abstract interface for recording metrics of plan execution.
// Implementations exist for Prometheus and OpenTelemetry.
type MetricRecorder interface {
	// RecordItem records one terminal manifest record.
	RecordItem(ctx context.Context, mode string, status model.Status, errType model.ErrorType)

	// RecordRetry records one retried remote call.
	RecordRetry(ctx context.Context, errType model.ErrorType)

	// RecordItemSkip records a plan item skipped because it is already completed.
	RecordItemSkip(ctx context.Context, mode string)

	// RecordImages records saved image files; kind is "final" or "thought".
	RecordImages(ctx context.Context, kind string, count int)

	// RecordBatchSubmit records a submitted chunk and its item count.
	RecordBatchSubmit(ctx context.Context, items int)

	// RecordBatchState records the observed remote state of one chunk.
	RecordBatchState(ctx context.Context, state model.JobState)

	// RecordDuration records the execution time of a named operation.
	//
	// tags: additional labels, e.g. `{"mode": "sync", "status": "success"}`.
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}
