package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	model "github.com/tigerroll/serendip/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/serendip/pkg/batch/core/metrics"
)

// OTelRecorder records the same instruments as PrometheusRecorder through an
// OpenTelemetry meter, for export over OTLP.
type OTelRecorder struct {
	items       metric.Int64Counter
	retries     metric.Int64Counter
	skips       metric.Int64Counter
	images      metric.Int64Counter
	batchChunks metric.Int64Counter
	batchItems  metric.Int64Counter
	batchStates metric.Int64Counter
	duration    metric.Float64Histogram
}

// NewOTelRecorder creates the instruments on meter.
func NewOTelRecorder(meter metric.Meter) (*OTelRecorder, error) {
	r := &OTelRecorder{}
	var err error
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&r.items, "serendip.items", "Manifest records written."},
		{&r.retries, "serendip.retries", "Retried remote calls."},
		{&r.skips, "serendip.items.skipped", "Plan items skipped because they were already completed."},
		{&r.images, "serendip.images.saved", "Image files written."},
		{&r.batchChunks, "serendip.batch.chunks.submitted", "Chunks submitted as batch jobs."},
		{&r.batchItems, "serendip.batch.items.submitted", "Requests submitted in batch jobs."},
		{&r.batchStates, "serendip.batch.job.states", "Observed batch job states."},
	}
	for _, c := range counters {
		if *c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}
	r.duration, err = meter.Float64Histogram("serendip.operation.duration",
		metric.WithDescription("Duration of named operations."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (r *OTelRecorder) RecordItem(ctx context.Context, mode string, status model.Status, errType model.ErrorType) {
	r.items.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("status", string(status)),
		attribute.String("error_type", string(errType)),
	))
}

func (r *OTelRecorder) RecordRetry(ctx context.Context, errType model.ErrorType) {
	r.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("error_type", string(errType))))
}

func (r *OTelRecorder) RecordItemSkip(ctx context.Context, mode string) {
	r.skips.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

func (r *OTelRecorder) RecordImages(ctx context.Context, kind string, count int) {
	if count > 0 {
		r.images.Add(ctx, int64(count), metric.WithAttributes(attribute.String("kind", kind)))
	}
}

func (r *OTelRecorder) RecordBatchSubmit(ctx context.Context, items int) {
	r.batchChunks.Add(ctx, 1)
	r.batchItems.Add(ctx, int64(items))
}

func (r *OTelRecorder) RecordBatchState(ctx context.Context, state model.JobState) {
	r.batchStates.Add(ctx, 1, metric.WithAttributes(attribute.String("state", string(state))))
}

func (r *OTelRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	attrs := []attribute.KeyValue{attribute.String("name", name)}
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	r.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

var _ metrics.MetricRecorder = (*OTelRecorder)(nil)
