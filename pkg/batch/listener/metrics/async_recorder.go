package metrics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/fx"

	config "github.com/tigerroll/serendip/pkg/batch/core/config"
	model "github.com/tigerroll/serendip/pkg/batch/core/domain/model"
	"github.com/tigerroll/serendip/pkg/batch/core/metrics"
	logger "github.com/tigerroll/serendip/pkg/batch/support/util/logger"
)

const defaultBufferSize = 100

// MetricEvent represents a metric event to be recorded asynchronously.
type MetricEvent struct {
	Type      string
	Mode      string
	Status    model.Status
	ErrorType model.ErrorType
	State     model.JobState
	Name      string            // Operation name or image kind
	Count     int               // Image count or submitted items
	Duration  time.Duration     // For duration metrics
	Tags      map[string]string // For duration metric tags
}

// Metric event type constants
const (
	MetricEventTypeItem           = "item"
	MetricEventTypeRetry          = "retry"
	MetricEventTypeItemSkip       = "item_skip"
	MetricEventTypeImages         = "images"
	MetricEventTypeBatchSubmit    = "batch_submit"
	MetricEventTypeBatchState     = "batch_state"
	MetricEventTypeRecordDuration = "record_duration"
)

// AsyncMetricRecorder asynchronously records metrics by pushing events to a channel
// and processing them in a separate goroutine.
type AsyncMetricRecorder struct {
	eventQueue   chan MetricEvent
	stopCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
	syncRecorder metrics.MetricRecorder
}

// NewAsyncMetricRecorder creates a new asynchronous metric recorder.
// bufferSize: The buffer size for the event queue. If 0 or less, a default value is used.
// syncRec: The synchronous recorder that performs the actual metric recording.
func NewAsyncMetricRecorder(bufferSize int, syncRec metrics.MetricRecorder) *AsyncMetricRecorder {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	r := &AsyncMetricRecorder{
		eventQueue:   make(chan MetricEvent, bufferSize),
		stopCh:       make(chan struct{}),
		syncRecorder: syncRec,
	}
	r.wg.Add(1)
	go r.run()
	logger.Debugf("AsyncMetricRecorder: Worker goroutine started (buffer size: %d).", bufferSize)
	return r
}

func (r *AsyncMetricRecorder) run() {
	defer r.wg.Done()
	for {
		select {
		case event := <-r.eventQueue:
			r.processEvent(event)
		case <-r.stopCh:
			// Drain what is queued before exiting.
			remaining := len(r.eventQueue)
			for i := 0; i < remaining; i++ {
				r.processEvent(<-r.eventQueue)
			}
			logger.Debugf("AsyncMetricRecorder: Worker goroutine stopped. Processed %d remaining events.", remaining)
			return
		}
	}
}

func (r *AsyncMetricRecorder) processEvent(event MetricEvent) {
	ctx := context.Background()
	switch event.Type {
	case MetricEventTypeItem:
		r.syncRecorder.RecordItem(ctx, event.Mode, event.Status, event.ErrorType)
	case MetricEventTypeRetry:
		r.syncRecorder.RecordRetry(ctx, event.ErrorType)
	case MetricEventTypeItemSkip:
		r.syncRecorder.RecordItemSkip(ctx, event.Mode)
	case MetricEventTypeImages:
		r.syncRecorder.RecordImages(ctx, event.Name, event.Count)
	case MetricEventTypeBatchSubmit:
		r.syncRecorder.RecordBatchSubmit(ctx, event.Count)
	case MetricEventTypeBatchState:
		r.syncRecorder.RecordBatchState(ctx, event.State)
	case MetricEventTypeRecordDuration:
		r.syncRecorder.RecordDuration(ctx, event.Name, event.Duration, event.Tags)
	default:
		logger.Warnf("AsyncMetricRecorder: Unknown metric event type: %s", event.Type)
	}
}

// Close stops the worker after the queued events are recorded. It is safe to call twice.
func (r *AsyncMetricRecorder) Close() {
	r.stopOnce.Do(func() {
		logger.Debugf("AsyncMetricRecorder: Sending shutdown signal...")
		close(r.stopCh)
	})
	r.wg.Wait()
}

// sendEvent queues an event, discarding it with a warning when the queue is full.
func (r *AsyncMetricRecorder) sendEvent(event MetricEvent) {
	select {
	case r.eventQueue <- event:
	default:
		logger.Warnf("AsyncMetricRecorder: Event queue is full (type: %s). Event discarded.", event.Type)
	}
}

func (r *AsyncMetricRecorder) RecordItem(ctx context.Context, mode string, status model.Status, errType model.ErrorType) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeItem, Mode: mode, Status: status, ErrorType: errType})
}

func (r *AsyncMetricRecorder) RecordRetry(ctx context.Context, errType model.ErrorType) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeRetry, ErrorType: errType})
}

func (r *AsyncMetricRecorder) RecordItemSkip(ctx context.Context, mode string) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeItemSkip, Mode: mode})
}

func (r *AsyncMetricRecorder) RecordImages(ctx context.Context, kind string, count int) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeImages, Name: kind, Count: count})
}

func (r *AsyncMetricRecorder) RecordBatchSubmit(ctx context.Context, items int) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeBatchSubmit, Count: items})
}

func (r *AsyncMetricRecorder) RecordBatchState(ctx context.Context, state model.JobState) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeBatchState, State: state})
}

func (r *AsyncMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeRecordDuration, Name: name, Duration: duration, Tags: tags})
}

var _ metrics.MetricRecorder = (*AsyncMetricRecorder)(nil)

// NewAsyncMetricRecorderWrapper is a helper function for use with fx.Decorate.
// Disabled metrics keep the no-op recorder unwrapped. The wrapper's OnStop
// drains the queue; it is appended after the backend's hooks, so it runs first.
func NewAsyncMetricRecorderWrapper(lc fx.Lifecycle, cfg *config.Config, syncRecorder metrics.MetricRecorder) metrics.MetricRecorder {
	if !cfg.Serendip.Metrics.Enabled {
		return syncRecorder
	}
	asyncRecorder := NewAsyncMetricRecorder(cfg.Serendip.Metrics.AsyncBufferSize, syncRecorder)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			asyncRecorder.Close()
			return nil
		},
	})
	logger.Debugf("MetricRecorder decorated with asynchronous wrapper.")
	return asyncRecorder
}
