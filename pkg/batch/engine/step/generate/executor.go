// Package generate is the synchronous execution engine: it walks a frozen
// plan in order, skips completed items, calls the remote service under the
// retry policy and appends exactly one manifest record per attempted item.
package generate

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/tigerroll/serendip/pkg/batch/component/step/writer"
	port "github.com/tigerroll/serendip/pkg/batch/core/application/port"
	model "github.com/tigerroll/serendip/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/serendip/pkg/batch/core/domain/repository"
	"github.com/tigerroll/serendip/pkg/batch/core/metrics"
	"github.com/tigerroll/serendip/pkg/batch/core/registry"
	"github.com/tigerroll/serendip/pkg/batch/engine/plan"
	"github.com/tigerroll/serendip/pkg/batch/engine/step/retry"
	"github.com/tigerroll/serendip/pkg/batch/engine/tracker"
	"github.com/tigerroll/serendip/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/serendip/pkg/batch/support/util/logger"
)

const timestampLayout = "20060102_150405"

// Options are the per-run settings of the executor.
type Options struct {
	RunID        string
	Model        string
	ImageSize    string
	SaveThoughts bool
	DryRun       bool
}

// Params holds the collaborators of an Executor. Zero values of the optional
// fields get defaults in NewExecutor.
type Params struct {
	Options   Options
	Generator port.ImageGenerator
	Manifest  repository.ManifestRepository
	Artifacts *writer.ArtifactWriter
	Registry  *registry.Registry
	Policy    retry.RetryPolicy

	Sleep     retry.Sleeper
	Listeners []port.ItemListener
	Metrics   metrics.MetricRecorder
	Tracer    metrics.Tracer
	Now       func() time.Time
	NewID     func() string
	DryRunOut io.Writer
}

// Executor runs plan items one at a time.
type Executor struct {
	Params
}

// NewExecutor creates an executor.
func NewExecutor(p Params) *Executor {
	if p.Sleep == nil {
		p.Sleep = retry.ContextSleeper
	}
	if p.Metrics == nil {
		p.Metrics = metrics.NewNoOpMetricRecorder()
	}
	if p.Tracer == nil {
		p.Tracer = metrics.NewNoOpTracer()
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.NewID == nil {
		p.NewID = uuid.NewString
	}
	if p.DryRunOut == nil {
		p.DryRunOut = os.Stdout
	}
	if p.Options.RunID == "" {
		p.Options.RunID = "run_" + p.Now().Format(timestampLayout)
	}
	return &Executor{Params: p}
}

// Run executes items in plan order. A failed item never stops the loop; the
// run only ends early when ctx is cancelled or the manifest cannot be appended.
func (e *Executor) Run(ctx context.Context, items []model.PlanItem, tr *tracker.Tracker) (model.RunSummary, error) {
	var summary model.RunSummary
	resolver := &plan.Resolver{Registry: e.Registry, Latest: tr}

	for i := range items {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		item := &items[i]
		if tr.IsCompleted(item.Key()) {
			summary.Skip()
			e.Metrics.RecordItemSkip(ctx, metrics.ModeSync)
			for _, l := range e.Listeners {
				l.OnSkip(ctx, item)
			}
			continue
		}

		itemCtx, end := e.Tracer.StartItemSpan(ctx, item.Key())
		start := e.Now()
		rec := e.execute(itemCtx, item, resolver)
		if rec == nil {
			end()
			continue
		}
		if err := e.Manifest.Append(itemCtx, rec); err != nil {
			e.Tracer.RecordError(itemCtx, "generate", err)
			end()
			return summary, fmt.Errorf("failed to append manifest record for %s: %w", item.Key(), err)
		}
		tr.Record(rec)
		summary.Add(rec)

		elapsed := e.Now().Sub(start)
		e.Metrics.RecordItem(itemCtx, metrics.ModeSync, rec.Status, rec.ErrorType)
		e.Metrics.RecordDuration(itemCtx, "item", elapsed, map[string]string{"mode": metrics.ModeSync, "status": string(rec.Status)})
		for _, l := range e.Listeners {
			l.AfterItem(itemCtx, rec, elapsed)
		}
		end()
	}
	return summary, nil
}

// execute resolves and runs one item. It returns nil for dry runs.
func (e *Executor) execute(ctx context.Context, item *model.PlanItem, resolver *plan.Resolver) *model.ManifestRecord {
	for _, l := range e.Listeners {
		l.BeforeItem(ctx, item)
	}

	ts := e.Now()
	base := fmt.Sprintf("%s_%04d_%s", ts.Format(timestampLayout), item.Index, item.AxisID)
	rec := model.NewManifestRecord(e.Options.RunID, item, ts)
	rec.AttemptID = e.NewID()
	rec.Model = e.Options.Model
	rec.ImageResolution = e.Options.ImageSize

	prompt, ierr := resolver.Resolve(*item)
	if ierr != nil {
		rec.MarkError(ierr.Type, ierr.Message, 0, 0)
		e.writeMeta(ctx, item.AxisID, base+"_error", rec)
		return rec
	}
	rec.FinalPrompt = prompt

	if e.Options.DryRun {
		fmt.Fprintf(e.DryRunOut, "[DRY RUN] index=%d axis=%s\n%s\n", item.Index, item.AxisID, prompt)
		return nil
	}

	ex := &retry.Executor{
		Policy:   e.Policy,
		Classify: exception.Classify,
		Sleep:    e.Sleep,
		OnRetry: func(ev retry.Event) {
			logger.Warnf("Item %s attempt %d failed (%s): %v. Retrying in %v.", item.Key(), ev.Attempt, ev.ErrorType, ev.Err, ev.Delay)
			e.Metrics.RecordRetry(ctx, ev.ErrorType)
			for _, l := range e.Listeners {
				l.OnRetry(ctx, item, ev.Attempt, ev.ErrorType, ev.Delay)
			}
		},
	}
	out := retry.Do(ctx, ex, func(ctx context.Context) (*port.Extraction, error) {
		return e.Generator.Generate(ctx, prompt)
	})
	if out.Failed() {
		rec.MarkError(out.ErrorType, out.Err.Error(), out.HTTPStatus, out.Retries)
		e.writeMeta(ctx, item.AxisID, base, rec)
		return rec
	}

	ext := out.Value
	if !ext.HasImage() {
		msg := "No image data in response"
		if ext != nil && ext.BlockReason != "" {
			msg += " (block reason: " + ext.BlockReason + ")"
		}
		rec.MarkError(model.ErrorTypeNoImageData, msg, 0, out.Retries)
		if ext != nil {
			rec.ResponseMetadata = &ext.Metadata
		}
		e.writeMeta(ctx, item.AxisID, base, rec)
		return rec
	}

	saved, err := e.Artifacts.WriteImages(ctx, item.AxisID, base, ext, e.Options.SaveThoughts)
	if err != nil {
		rec.MarkError(model.ErrorTypeUnexpected, err.Error(), 0, out.Retries)
		e.writeMeta(ctx, item.AxisID, base, rec)
		return rec
	}
	_, finalIdx := ext.Final()
	rec.MarkSuccess(saved.Final, finalIdx, len(ext.Images), saved.Thoughts, out.Retries)
	rec.ResponseMetadata = &ext.Metadata
	e.Metrics.RecordImages(ctx, "final", 1)
	e.Metrics.RecordImages(ctx, "thought", len(saved.Thoughts))
	e.writeMeta(ctx, item.AxisID, base, rec)
	return rec
}

func (e *Executor) writeMeta(ctx context.Context, axisID, base string, rec *model.ManifestRecord) {
	if err := e.Artifacts.WriteMeta(ctx, axisID, base, rec); err != nil {
		logger.Errorf("Failed to write metadata for %s: %v", rec.Key(), err)
	}
}
