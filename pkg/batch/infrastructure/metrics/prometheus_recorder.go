package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	model "github.com/tigerroll/serendip/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/serendip/pkg/batch/core/metrics"
	logger "github.com/tigerroll/serendip/pkg/batch/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of the metrics.MetricRecorder interface.
// A CLI run has no scrape window, so the registry is dumped to a text file
// for the node exporter's textfile collector instead of being served.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	itemsTotal       *prometheus.CounterVec
	retriesTotal     *prometheus.CounterVec
	skipsTotal       *prometheus.CounterVec
	imagesTotal      *prometheus.CounterVec
	batchChunksTotal prometheus.Counter
	batchItemsTotal  prometheus.Counter
	batchStatesTotal *prometheus.CounterVec
	durationSeconds  *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a new instance of PrometheusRecorder.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		itemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "serendip_items_total",
			Help: "Manifest records written, by mode, status and error type.",
		}, []string{"mode", "status", "error_type"}),
		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "serendip_retries_total",
			Help: "Retried remote calls by error type.",
		}, []string{"error_type"}),
		skipsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "serendip_items_skipped_total",
			Help: "Plan items skipped because they were already completed.",
		}, []string{"mode"}),
		imagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "serendip_images_saved_total",
			Help: "Image files written, by kind.",
		}, []string{"kind"}),
		batchChunksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "serendip_batch_chunks_submitted_total",
			Help: "Chunks submitted as batch jobs.",
		}),
		batchItemsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "serendip_batch_items_submitted_total",
			Help: "Requests submitted in batch jobs.",
		}),
		batchStatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "serendip_batch_job_states_total",
			Help: "Observed batch job states.",
		}, []string{"state"}),
		durationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "serendip_operation_duration_seconds",
			Help:    "Duration of named operations.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"name", "mode", "status"}),
	}

	registry.MustRegister(
		r.itemsTotal,
		r.retriesTotal,
		r.skipsTotal,
		r.imagesTotal,
		r.batchChunksTotal,
		r.batchItemsTotal,
		r.batchStatesTotal,
		r.durationSeconds,
	)
	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile writes the registry in the text exposition format.
func (r *PrometheusRecorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return err
	}
	logger.Debugf("Metrics: wrote Prometheus textfile %s.", path)
	return nil
}

func (r *PrometheusRecorder) RecordItem(ctx context.Context, mode string, status model.Status, errType model.ErrorType) {
	r.itemsTotal.WithLabelValues(mode, string(status), string(errType)).Inc()
}

func (r *PrometheusRecorder) RecordRetry(ctx context.Context, errType model.ErrorType) {
	r.retriesTotal.WithLabelValues(string(errType)).Inc()
}

func (r *PrometheusRecorder) RecordItemSkip(ctx context.Context, mode string) {
	r.skipsTotal.WithLabelValues(mode).Inc()
}

func (r *PrometheusRecorder) RecordImages(ctx context.Context, kind string, count int) {
	if count > 0 {
		r.imagesTotal.WithLabelValues(kind).Add(float64(count))
	}
}

func (r *PrometheusRecorder) RecordBatchSubmit(ctx context.Context, items int) {
	r.batchChunksTotal.Inc()
	r.batchItemsTotal.Add(float64(items))
}

func (r *PrometheusRecorder) RecordBatchState(ctx context.Context, state model.JobState) {
	r.batchStatesTotal.WithLabelValues(string(state)).Inc()
}

// RecordDuration records an operation duration. Only the "mode" and "status"
// tags become labels; other tags are ignored to keep cardinality fixed.
func (r *PrometheusRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.durationSeconds.WithLabelValues(name, tags["mode"], tags["status"]).Observe(duration.Seconds())
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
