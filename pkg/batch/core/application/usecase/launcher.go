package usecase

import (
	"context"

	storage "github.com/tigerroll/serendip/pkg/batch/adapter/storage"
	port "github.com/tigerroll/serendip/pkg/batch/core/application/port"
	model "github.com/tigerroll/serendip/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/serendip/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/serendip/pkg/batch/core/metrics"
	"github.com/tigerroll/serendip/pkg/batch/engine/plan"
	"github.com/tigerroll/serendip/pkg/batch/engine/step/generate"
	"github.com/tigerroll/serendip/pkg/batch/engine/tracker"
	logger "github.com/tigerroll/serendip/pkg/batch/support/util/logger"
)

// OperationGenerate names the synchronous run for listeners and spans.
const OperationGenerate = "generate"

// SimpleRunLauncher implements RunLauncher for local synchronous execution.
type SimpleRunLauncher struct {
	planner   Planner
	executor  *generate.Executor
	manifest  repository.ManifestRepository
	store     storage.StorageExecutor
	listeners []port.RunListener
	tracer    metrics.Tracer
}

// NewSimpleRunLauncher creates a new SimpleRunLauncher.
func NewSimpleRunLauncher(
	planner Planner,
	executor *generate.Executor,
	manifest repository.ManifestRepository,
	store storage.StorageExecutor,
	listeners []port.RunListener,
	tracer metrics.Tracer,
) *SimpleRunLauncher {
	return &SimpleRunLauncher{
		planner:   planner,
		executor:  executor,
		manifest:  manifest,
		store:     store,
		listeners: listeners,
		tracer:    tracer,
	}
}

// Launch implements RunLauncher. The plan must already be frozen.
func (l *SimpleRunLauncher) Launch(ctx context.Context, planName string, filter plan.Filter) (summary model.RunSummary, err error) {
	ctx, end := l.tracer.StartRunSpan(ctx, OperationGenerate, map[string]interface{}{"plan": planName})
	defer end()
	notifyBefore(ctx, l.listeners, OperationGenerate, planName)
	defer func() {
		if err != nil {
			l.tracer.RecordError(ctx, OperationGenerate, err)
		}
		notifyAfter(ctx, l.listeners, OperationGenerate, planName, summary, err)
	}()

	items, err := l.planner.Ensure(ctx, planName, EnsureOptions{})
	if err != nil {
		return summary, err
	}
	selected := filter.Apply(items)
	logger.Infof("Running %d of %d items of plan %s.", len(selected), len(items), planName)

	tr, err := loadTracker(ctx, l.manifest, l.store)
	if err != nil {
		return summary, err
	}
	return l.executor.Run(ctx, selected, tr)
}

func loadTracker(ctx context.Context, manifest repository.ManifestRepository, store storage.StorageExecutor) (*tracker.Tracker, error) {
	records, err := manifest.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	return tracker.New(records, tracker.StoreExists(ctx, store)), nil
}

func notifyBefore(ctx context.Context, listeners []port.RunListener, operation, planName string) {
	for _, l := range listeners {
		l.BeforeRun(ctx, operation, planName)
	}
}

func notifyAfter(ctx context.Context, listeners []port.RunListener, operation, planName string, summary model.RunSummary, err error) {
	for _, l := range listeners {
		l.AfterRun(ctx, operation, planName, summary, err)
	}
}

var _ RunLauncher = (*SimpleRunLauncher)(nil)
