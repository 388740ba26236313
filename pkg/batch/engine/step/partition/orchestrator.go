// Package partition is the asynchronous batch orchestrator. It cuts a frozen
// plan into chunks, submits each chunk as one remote job, records every
// submission in the plan's ledger and later reconciles the job outputs into
// the manifest.
package partition

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/serendip/pkg/batch/component/partitioner"
	"github.com/tigerroll/serendip/pkg/batch/component/step/writer"
	port "github.com/tigerroll/serendip/pkg/batch/core/application/port"
	model "github.com/tigerroll/serendip/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/serendip/pkg/batch/core/domain/repository"
	"github.com/tigerroll/serendip/pkg/batch/core/metrics"
	"github.com/tigerroll/serendip/pkg/batch/core/registry"
	"github.com/tigerroll/serendip/pkg/batch/engine/plan"
	"github.com/tigerroll/serendip/pkg/batch/engine/tracker"
	"github.com/tigerroll/serendip/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/serendip/pkg/batch/support/util/logger"
	"github.com/tigerroll/serendip/pkg/batch/support/util/serialization"
)

const module = "batch"

// Options are the settings of an Orchestrator.
type Options struct {
	RunID             string
	Profile           string
	Model             string
	ImageSize         string
	ChunkSize         int
	StatusParallelism int
	DisplayNamePrefix string
	// BatchesDir receives the request file of every chunk.
	BatchesDir string
	// OutputsDir receives the downloaded result file of every chunk.
	OutputsDir string
}

// Params holds the collaborators of an Orchestrator.
type Params struct {
	Options   Options
	Batches   port.BatchService
	Files     port.FileService
	Decoder   port.ResponseDecoder
	Ledgers   repository.LedgerFactory
	Manifest  repository.ManifestRepository
	Artifacts *writer.ArtifactWriter
	Registry  *registry.Registry

	Metrics metrics.MetricRecorder
	Tracer  metrics.Tracer
	Now     func() time.Time
	NewID   func() string
}

// Orchestrator drives submit, status, collect and rehydrate, and cleans up
// the remote files they leave behind.
type Orchestrator struct {
	Params
	partitioner *partitioner.ChunkPartitioner
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(p Params) *Orchestrator {
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
	if p.Options.StatusParallelism < 1 {
		p.Options.StatusParallelism = 1
	}
	if p.Options.RunID == "" {
		p.Options.RunID = "batch_" + p.Now().Format("20060102_150405")
	}
	return &Orchestrator{Params: p, partitioner: partitioner.NewChunkPartitioner(p.Options.ChunkSize)}
}

// InputPath is the local request file of a chunk.
func (o *Orchestrator) InputPath(planName string, chunkID int) string {
	return filepath.Join(o.Options.BatchesDir, fmt.Sprintf("%s__chunk%03d.input.jsonl", planName, chunkID))
}

// OutputPath is the local result file of one chunk job. Each job of a chunk
// gets its own file so a resubmission never reuses an older download.
func (o *Orchestrator) OutputPath(planName string, chunkID int, jobName string) string {
	return filepath.Join(o.Options.OutputsDir, outputName(planName, chunkID, jobName))
}

func outputName(planName string, chunkID int, jobName string) string {
	id := jobID(jobName)
	if id == "" {
		return fmt.Sprintf("%s__chunk%03d.jsonl", planName, chunkID)
	}
	return fmt.Sprintf("%s__chunk%03d__%s.jsonl", planName, chunkID, id)
}

// jobID is the last segment of a job resource name, safe for a file name.
func jobID(jobName string) string {
	if i := strings.LastIndexByte(jobName, '/'); i >= 0 {
		jobName = jobName[i+1:]
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		}
		return '_'
	}, jobName)
}

// DisplayName is the remote display name of a chunk job.
func (o *Orchestrator) DisplayName(planName string, chunkID int) string {
	return fmt.Sprintf("%s-%s-%s-chunk%03d", o.Options.DisplayNamePrefix, o.Options.Profile, planName, chunkID)
}

// SubmitOptions control a submission.
type SubmitOptions struct {
	// Force resubmits chunks the ledger already holds with the same range.
	Force bool
	// DryRun writes the request files without uploading anything.
	DryRun bool
}

// SubmitResult summarizes a submission.
type SubmitResult struct {
	Submitted         []model.BatchJobRecord
	SkippedCompleted  []int
	SkippedExisting   []int
	RangeChanged      []int
	IntegrityFailures int
	DryRunFiles       []string
}

// Submit sends every chunk of items that still has pending work. A chunk
// failure does not stop the others; failures are returned together. A
// ledger append failure stops the submission immediately.
func (o *Orchestrator) Submit(ctx context.Context, planName string, items []model.PlanItem, tr *tracker.Tracker, opts SubmitOptions) (*SubmitResult, error) {
	ctx, end := o.Tracer.StartRunSpan(ctx, "batch_submit", map[string]interface{}{"plan.name": planName, "plan.items": len(items)})
	defer end()

	ledger := o.Ledgers.Ledger(planName)
	rows, err := ledger.LoadAll(ctx)
	if err != nil {
		return nil, exception.NewBatchError(module, "failed to load batch ledger", err, false)
	}
	existing := make(map[int]model.BatchJobRecord)
	for _, row := range repository.LatestByChunk(rows) {
		existing[row.ChunkID] = row
	}

	resolver := &plan.Resolver{Registry: o.Registry, Latest: tr}
	result := &SubmitResult{}
	var errs *multierror.Error

	for _, chunk := range o.partitioner.Partition(items) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		pending := tr.Pending(chunk.Items)
		if len(pending) == 0 {
			logger.Infof("Chunk %03d of %s is complete. Skipping.", chunk.ID, planName)
			result.SkippedCompleted = append(result.SkippedCompleted, chunk.ID)
			continue
		}
		first, last := chunk.FirstIndex(), chunk.LastIndex()
		if row, ok := existing[chunk.ID]; ok {
			if row.SameRange(first, last) && !opts.Force {
				logger.Infof("Chunk %03d of %s is already submitted as %s. Use --force to resubmit.", chunk.ID, planName, row.JobName)
				result.SkippedExisting = append(result.SkippedExisting, chunk.ID)
				continue
			}
			if !row.SameRange(first, last) {
				logger.Warnf("Chunk %03d of %s covered %d-%d when submitted as %s; it now covers %d-%d. Submitting a new job.",
					chunk.ID, planName, row.FirstIndex, row.LastIndex, row.JobName, first, last)
				result.RangeChanged = append(result.RangeChanged, chunk.ID)
			}
		}

		lines, err := o.requestLines(ctx, pending, resolver, tr, opts.DryRun, result)
		if err != nil {
			return result, err
		}
		if len(lines) == 0 {
			continue
		}
		inputPath := o.InputPath(planName, chunk.ID)
		if err := serialization.WriteFileAtomic(inputPath, lines); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("chunk %03d: %w", chunk.ID, err))
			continue
		}
		if opts.DryRun {
			logger.Infof("[DRY RUN] Chunk %03d of %s: %d requests written to %s.", chunk.ID, planName, len(lines), inputPath)
			result.DryRunFiles = append(result.DryRunFiles, inputPath)
			continue
		}

		row, err := o.submitChunk(ctx, planName, chunk, inputPath, len(lines))
		if err != nil {
			o.Tracer.RecordError(ctx, module, err)
			logger.Errorf("Failed to submit chunk %03d of %s: %v", chunk.ID, planName, err)
			errs = multierror.Append(errs, fmt.Errorf("chunk %03d: %w", chunk.ID, err))
			continue
		}
		if err := ledger.Append(ctx, row); err != nil {
			logger.Errorf("Job %s for chunk %03d was created but could not be recorded in the ledger.", row.JobName, chunk.ID)
			return result, exception.NewBatchError(module, "failed to append ledger row", err, false)
		}
		o.Metrics.RecordBatchSubmit(ctx, len(lines))
		result.Submitted = append(result.Submitted, *row)
		logger.Infof("Submitted chunk %03d of %s (%d-%d, %d requests) as %s.", chunk.ID, planName, first, last, len(lines), row.JobName)
	}
	return result, errs.ErrorOrNil()
}

// requestLines resolves the pending items of a chunk. Items failing integrity
// checks get their error record immediately and are left out of the request.
func (o *Orchestrator) requestLines(ctx context.Context, pending []model.PlanItem, resolver *plan.Resolver, tr *tracker.Tracker, dryRun bool, result *SubmitResult) ([]RequestLine, error) {
	lines := make([]RequestLine, 0, len(pending))
	for i := range pending {
		item := &pending[i]
		prompt, ierr := resolver.Resolve(*item)
		if ierr == nil {
			lines = append(lines, BuildRequestLine(model.BatchKey(o.Options.Profile, item.PlanName, item.Index), prompt))
			continue
		}
		result.IntegrityFailures++
		logger.Warnf("Item %s cannot be submitted: %v", item.Key(), ierr)
		if dryRun {
			continue
		}
		rec := o.newRecord(item)
		rec.MarkError(ierr.Type, ierr.Message, 0, 0)
		if err := o.Manifest.Append(ctx, rec); err != nil {
			return nil, exception.NewBatchError(module, "failed to append manifest record", err, false)
		}
		tr.Record(rec)
		o.Metrics.RecordItem(ctx, metrics.ModeBatch, rec.Status, rec.ErrorType)
		o.writeMeta(ctx, item.AxisID, batchBase(item)+"_error", rec)
	}
	return lines, nil
}

func (o *Orchestrator) submitChunk(ctx context.Context, planName string, chunk partitioner.Chunk, inputPath string, count int) (*model.BatchJobRecord, error) {
	displayName := o.DisplayName(planName, chunk.ID)
	f, err := os.Open(inputPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	o.Tracer.RecordEvent(ctx, "batch_upload_start", map[string]interface{}{"batch.display_name": displayName})
	fileName, err := o.Batches.UploadJSONL(ctx, displayName, f)
	if err != nil {
		return nil, fmt.Errorf("failed to upload request file: %w", err)
	}
	job, err := o.Batches.CreateBatch(ctx, fileName, displayName)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch job: %w", err)
	}
	o.Tracer.RecordEvent(ctx, "batch_submission_success", map[string]interface{}{"batch.job": job.Name})

	return &model.BatchJobRecord{
		Profile:     o.Options.Profile,
		PlanName:    planName,
		ChunkID:     chunk.ID,
		FirstIndex:  chunk.FirstIndex(),
		LastIndex:   chunk.LastIndex(),
		ItemCount:   count,
		JobName:     job.Name,
		InputFile:   fileName,
		DisplayName: displayName,
		CreatedAt:   o.Now().UTC(),
	}, nil
}

func (o *Orchestrator) newRecord(item *model.PlanItem) *model.ManifestRecord {
	rec := model.NewManifestRecord(o.Options.RunID, item, o.Now())
	rec.AttemptID = o.NewID()
	rec.Model = o.Options.Model
	rec.ImageResolution = o.Options.ImageSize
	return rec
}

func (o *Orchestrator) writeMeta(ctx context.Context, axisID, base string, rec *model.ManifestRecord) {
	if err := o.Artifacts.WriteMeta(ctx, axisID, base, rec); err != nil {
		logger.Errorf("Failed to write metadata for %s: %v", rec.Key(), err)
	}
}

// batchBase is the artifact base name of an item reconciled from a batch.
func batchBase(item *model.PlanItem) string {
	return fmt.Sprintf("batch_%s_%04d_%s", item.PlanName, item.Index, item.AxisID)
}
