package usecase

import (
	"context"

	storage "github.com/tigerroll/serendip/pkg/batch/adapter/storage"
	port "github.com/tigerroll/serendip/pkg/batch/core/application/port"
	model "github.com/tigerroll/serendip/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/serendip/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/serendip/pkg/batch/core/metrics"
	"github.com/tigerroll/serendip/pkg/batch/engine/plan"
	"github.com/tigerroll/serendip/pkg/batch/engine/step/partition"
	"github.com/tigerroll/serendip/pkg/batch/engine/tracker"
)

// Batch operation names.
const (
	OperationSubmit    = "batch submit"
	OperationStatus    = "batch status"
	OperationCollect   = "batch collect"
	OperationRehydrate = "batch rehydrate"
)

// DefaultBatchOperator implements BatchOperator over the Orchestrator.
type DefaultBatchOperator struct {
	planner      Planner
	orchestrator *partition.Orchestrator
	manifest     repository.ManifestRepository
	store        storage.StorageExecutor
	listeners    []port.RunListener
	tracer       metrics.Tracer
}

// NewDefaultBatchOperator creates a new DefaultBatchOperator.
func NewDefaultBatchOperator(
	planner Planner,
	orchestrator *partition.Orchestrator,
	manifest repository.ManifestRepository,
	store storage.StorageExecutor,
	listeners []port.RunListener,
	tracer metrics.Tracer,
) *DefaultBatchOperator {
	return &DefaultBatchOperator{
		planner:      planner,
		orchestrator: orchestrator,
		manifest:     manifest,
		store:        store,
		listeners:    listeners,
		tracer:       tracer,
	}
}

// run wraps one operation in a span and the run listeners.
func (o *DefaultBatchOperator) run(ctx context.Context, operation, planName string, fn func(ctx context.Context) (model.RunSummary, error)) error {
	ctx, end := o.tracer.StartRunSpan(ctx, operation, map[string]interface{}{"plan": planName})
	defer end()
	notifyBefore(ctx, o.listeners, operation, planName)
	summary, err := fn(ctx)
	if err != nil {
		o.tracer.RecordError(ctx, operation, err)
	}
	notifyAfter(ctx, o.listeners, operation, planName, summary, err)
	return err
}

// Submit implements BatchOperator.
func (o *DefaultBatchOperator) Submit(ctx context.Context, planName string, filter plan.Filter, opts partition.SubmitOptions) (*partition.SubmitResult, error) {
	var res *partition.SubmitResult
	err := o.run(ctx, OperationSubmit, planName, func(ctx context.Context) (model.RunSummary, error) {
		items, err := o.planner.Ensure(ctx, planName, EnsureOptions{})
		if err != nil {
			return model.RunSummary{}, err
		}
		tr, err := loadTracker(ctx, o.manifest, o.store)
		if err != nil {
			return model.RunSummary{}, err
		}
		res, err = o.orchestrator.Submit(ctx, planName, filter.Apply(items), tr, opts)
		var summary model.RunSummary
		if res != nil {
			for _, row := range res.Submitted {
				summary.Total += row.ItemCount
			}
			summary.Skipped = len(res.SkippedCompleted) + len(res.SkippedExisting)
			summary.Integrity = res.IntegrityFailures
			summary.Failed = res.IntegrityFailures
		}
		return summary, err
	})
	return res, err
}

// Status implements BatchOperator. It never touches the manifest.
func (o *DefaultBatchOperator) Status(ctx context.Context, planName string) (*partition.StatusReport, error) {
	var report *partition.StatusReport
	err := o.run(ctx, OperationStatus, planName, func(ctx context.Context) (model.RunSummary, error) {
		var err error
		report, err = o.orchestrator.Status(ctx, planName)
		return model.RunSummary{}, err
	})
	return report, err
}

// Collect implements BatchOperator.
func (o *DefaultBatchOperator) Collect(ctx context.Context, planName string) (*partition.CollectResult, error) {
	var res *partition.CollectResult
	err := o.run(ctx, OperationCollect, planName, func(ctx context.Context) (model.RunSummary, error) {
		items, tr, err := o.load(ctx, planName)
		if err != nil {
			return model.RunSummary{}, err
		}
		res, err = o.orchestrator.Collect(ctx, planName, items, tr)
		if res == nil {
			return model.RunSummary{}, err
		}
		return reconcileSummary(res.Stats), err
	})
	return res, err
}

// Rehydrate implements BatchOperator.
func (o *DefaultBatchOperator) Rehydrate(ctx context.Context, planName string, overwrite bool) (*partition.ReconcileStats, error) {
	var stats *partition.ReconcileStats
	err := o.run(ctx, OperationRehydrate, planName, func(ctx context.Context) (model.RunSummary, error) {
		items, tr, err := o.load(ctx, planName)
		if err != nil {
			return model.RunSummary{}, err
		}
		stats, err = o.orchestrator.Rehydrate(ctx, planName, items, tr, overwrite)
		if stats == nil {
			return model.RunSummary{}, err
		}
		return reconcileSummary(*stats), err
	})
	return stats, err
}

func (o *DefaultBatchOperator) load(ctx context.Context, planName string) ([]model.PlanItem, *tracker.Tracker, error) {
	items, err := o.planner.Load(ctx, planName)
	if err != nil {
		return nil, nil, err
	}
	tr, err := loadTracker(ctx, o.manifest, o.store)
	return items, tr, err
}

func reconcileSummary(stats partition.ReconcileStats) model.RunSummary {
	return model.RunSummary{
		Total:   stats.Success + stats.Errors + stats.Skipped,
		Success: stats.Success,
		Failed:  stats.Errors,
		Skipped: stats.Skipped,
	}
}

var _ BatchOperator = (*DefaultBatchOperator)(nil)
