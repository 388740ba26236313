package metrics

import (
	"context"
	"sync"
	"time"

	port "github.com/tigerroll/serendip/pkg/batch/core/application/port"
	model "github.com/tigerroll/serendip/pkg/batch/core/domain/model"
	"github.com/tigerroll/serendip/pkg/batch/core/metrics"
)

// MetricsRunListener records the wall time of each run as a "run" duration.
type MetricsRunListener struct {
	recorder metrics.MetricRecorder
	now      func() time.Time

	mu     sync.Mutex
	starts map[string]time.Time
}

// NewMetricsRunListener creates a run listener over recorder.
func NewMetricsRunListener(recorder metrics.MetricRecorder) *MetricsRunListener {
	return &MetricsRunListener{recorder: recorder, now: time.Now, starts: map[string]time.Time{}}
}

func (l *MetricsRunListener) BeforeRun(ctx context.Context, operation string, planName string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.starts[operation+"/"+planName] = l.now()
}

func (l *MetricsRunListener) AfterRun(ctx context.Context, operation string, planName string, summary model.RunSummary, err error) {
	l.mu.Lock()
	start, ok := l.starts[operation+"/"+planName]
	delete(l.starts, operation+"/"+planName)
	l.mu.Unlock()
	if !ok {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	l.recorder.RecordDuration(ctx, "run", l.now().Sub(start), map[string]string{
		"mode":      modeOf(operation),
		"status":    status,
		"operation": operation,
	})
}

func modeOf(operation string) string {
	if operation == "generate" {
		return metrics.ModeSync
	}
	return metrics.ModeBatch
}

var _ port.RunListener = (*MetricsRunListener)(nil)
