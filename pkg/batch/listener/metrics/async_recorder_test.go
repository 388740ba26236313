package metrics_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/goleak"

	config "github.com/tigerroll/serendip/pkg/batch/core/config"
	model "github.com/tigerroll/serendip/pkg/batch/core/domain/model"
	coremetrics "github.com/tigerroll/serendip/pkg/batch/core/metrics"
	listenermetrics "github.com/tigerroll/serendip/pkg/batch/listener/metrics"
)

// countingRecorder counts calls per method.
type countingRecorder struct {
	coremetrics.NoOpMetricRecorder
	mu        sync.Mutex
	items     int
	submitted int
	durations []string
	tags      []map[string]string
}

func (r *countingRecorder) RecordItem(ctx context.Context, mode string, status model.Status, errType model.ErrorType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items++
}

func (r *countingRecorder) RecordBatchSubmit(ctx context.Context, items int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitted += items
}

func (r *countingRecorder) RecordDuration(ctx context.Context, name string, d time.Duration, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.durations = append(r.durations, name)
	r.tags = append(r.tags, tags)
}

func TestAsyncMetricRecorder_DrainsOnClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	inner := &countingRecorder{}
	r := listenermetrics.NewAsyncMetricRecorder(50, inner)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		r.RecordItem(ctx, coremetrics.ModeSync, model.StatusSuccess, "")
	}
	r.RecordBatchSubmit(ctx, 4)
	r.Close()
	r.Close()

	assert.Equal(t, 10, inner.items)
	assert.Equal(t, 4, inner.submitted)
}

func TestAsyncMetricRecorderWrapper(t *testing.T) {
	inner := &countingRecorder{}
	cfg := config.NewConfig()

	cfg.Serendip.Metrics.Enabled = false
	lc := fxtest.NewLifecycle(t)
	assert.Same(t, inner, listenermetrics.NewAsyncMetricRecorderWrapper(lc, cfg, inner))

	cfg.Serendip.Metrics.Enabled = true
	cfg.Serendip.Metrics.AsyncBufferSize = 0
	lc = fxtest.NewLifecycle(t)
	wrapped := listenermetrics.NewAsyncMetricRecorderWrapper(lc, cfg, inner)
	require.IsType(t, &listenermetrics.AsyncMetricRecorder{}, wrapped)

	lc.RequireStart()
	wrapped.RecordItem(context.Background(), coremetrics.ModeBatch, model.StatusError, model.ErrorTypeBatch)
	lc.RequireStop()
	assert.Equal(t, 1, inner.items)
}

func TestMetricsRunListener(t *testing.T) {
	inner := &countingRecorder{}
	l := listenermetrics.NewMetricsRunListener(inner)
	ctx := context.Background()

	l.AfterRun(ctx, "generate", "p1", model.RunSummary{}, nil)
	assert.Empty(t, inner.durations, "AfterRun without BeforeRun records nothing")

	l.BeforeRun(ctx, "generate", "p1")
	l.AfterRun(ctx, "generate", "p1", model.RunSummary{Total: 1}, nil)
	l.BeforeRun(ctx, "batch submit", "p1")
	l.AfterRun(ctx, "batch submit", "p1", model.RunSummary{}, errors.New("boom"))

	require.Equal(t, []string{"run", "run"}, inner.durations)
	assert.Equal(t, map[string]string{"mode": "sync", "status": "success", "operation": "generate"}, inner.tags[0])
	assert.Equal(t, map[string]string{"mode": "batch", "status": "error", "operation": "batch submit"}, inner.tags[1])
}
