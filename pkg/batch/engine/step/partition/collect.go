package partition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/serendip/pkg/batch/component/step/writer"
	port "github.com/tigerroll/serendip/pkg/batch/core/application/port"
	model "github.com/tigerroll/serendip/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/serendip/pkg/batch/core/domain/repository"
	"github.com/tigerroll/serendip/pkg/batch/core/metrics"
	"github.com/tigerroll/serendip/pkg/batch/engine/plan"
	"github.com/tigerroll/serendip/pkg/batch/engine/tracker"
	"github.com/tigerroll/serendip/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/serendip/pkg/batch/support/util/logger"
	"github.com/tigerroll/serendip/pkg/batch/support/util/serialization"
)

// ReconcileStats counts what happened to the lines of result files.
type ReconcileStats struct {
	Lines   int
	Success int
	Errors  int
	Skipped int
	Invalid int
}

func (s *ReconcileStats) add(o ReconcileStats) {
	s.Lines += o.Lines
	s.Success += o.Success
	s.Errors += o.Errors
	s.Skipped += o.Skipped
	s.Invalid += o.Invalid
}

// ChunkCollect is the collect outcome of one chunk.
type ChunkCollect struct {
	ChunkID    int
	JobName    string
	State      model.JobState
	OutputPath string
	Err        error
}

// CollectResult summarizes a collect run.
type CollectResult struct {
	Chunks []ChunkCollect
	Stats  ReconcileStats
}

// Collect downloads the output of every succeeded job in the ledger and
// reconciles it into the manifest. Jobs still running are reported and left
// alone; an output of the same job already on disk is reused instead of
// downloaded again. A chunk may own several jobs after a resubmission or a
// filtered submit; a later job's result is never replaced by an earlier one's.
func (o *Orchestrator) Collect(ctx context.Context, planName string, items []model.PlanItem, tr *tracker.Tracker) (*CollectResult, error) {
	ctx, end := o.Tracer.StartRunSpan(ctx, "batch_collect", map[string]interface{}{"plan.name": planName})
	defer end()

	rows, err := o.Ledgers.Ledger(planName).LoadAll(ctx)
	if err != nil {
		return nil, exception.NewBatchError(module, "failed to load batch ledger", err, false)
	}
	rows = repository.UniqueJobs(rows)
	order := jobOrder(rows)
	byIndex := indexItems(items)
	result := &CollectResult{}
	var errs *multierror.Error

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		cc := ChunkCollect{ChunkID: row.ChunkID, JobName: row.JobName, State: model.JobStateUnknown}
		job, err := o.Batches.GetBatch(ctx, row.JobName)
		if err != nil {
			cc.Err = err
			errs = multierror.Append(errs, fmt.Errorf("chunk %03d: %w", row.ChunkID, err))
			result.Chunks = append(result.Chunks, cc)
			continue
		}
		cc.State = job.State
		o.Metrics.RecordBatchState(ctx, job.State)
		switch job.State {
		case model.JobStateSucceeded:
		case model.JobStateFailed:
			logger.Warnf("Job %s of chunk %03d ended in %s: %s", job.Name, row.ChunkID, job.RawState, job.Error)
			result.Chunks = append(result.Chunks, cc)
			continue
		default:
			logger.Infof("Job %s of chunk %03d is %s. Not collecting yet.", job.Name, row.ChunkID, job.State)
			result.Chunks = append(result.Chunks, cc)
			continue
		}

		path := o.OutputPath(planName, row.ChunkID, row.JobName)
		cc.OutputPath = path
		if err := o.download(ctx, job.OutputFile, path); err != nil {
			cc.Err = err
			errs = multierror.Append(errs, fmt.Errorf("chunk %03d: %w", row.ChunkID, err))
			result.Chunks = append(result.Chunks, cc)
			continue
		}
		stats, err := o.reconcile(ctx, path, row.JobName, planName, byIndex, tr, order, false)
		result.Stats.add(stats)
		result.Chunks = append(result.Chunks, cc)
		if err != nil {
			return result, err
		}
		logger.Infof("Collected chunk %03d of %s: %d success, %d error, %d skipped.", row.ChunkID, planName, stats.Success, stats.Errors, stats.Skipped)
	}
	return result, errs.ErrorOrNil()
}

func (o *Orchestrator) download(ctx context.Context, fileName, path string) error {
	if _, err := os.Stat(path); err == nil {
		logger.Debugf("Reusing downloaded output %s.", path)
		return nil
	}
	if fileName == "" {
		return exception.NewBatchError(module, "succeeded job has no output file", nil, false)
	}
	data, err := o.Batches.DownloadFile(ctx, fileName)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", fileName, err)
	}
	return serialization.WriteBytesAtomic(path, data)
}

// Rehydrate replays every local result file of the plan into the manifest
// without contacting the remote service. Without overwrite, images already on
// disk are kept and items already completed are skipped.
func (o *Orchestrator) Rehydrate(ctx context.Context, planName string, items []model.PlanItem, tr *tracker.Tracker, overwrite bool) (*ReconcileStats, error) {
	ctx, end := o.Tracer.StartRunSpan(ctx, "batch_rehydrate", map[string]interface{}{"plan.name": planName})
	defer end()

	files, err := filepath.Glob(filepath.Join(o.Options.OutputsDir, planName+"__chunk*.jsonl"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	rows, err := o.Ledgers.Ledger(planName).LoadAll(ctx)
	if err != nil {
		return nil, exception.NewBatchError(module, "failed to load batch ledger", err, false)
	}
	// Files named after a ledger job belong to that job. A legacy file named
	// only by chunk belongs to the latest job of the chunk.
	rows = repository.UniqueJobs(rows)
	order := jobOrder(rows)
	owners := make(map[string]string, len(rows))
	for _, row := range rows {
		owners[outputName(planName, row.ChunkID, row.JobName)] = row.JobName
	}
	latest := make(map[int]string)
	for _, row := range repository.LatestByChunk(rows) {
		latest[row.ChunkID] = row.JobName
	}
	owner := func(path string) string {
		base := filepath.Base(path)
		if job, ok := owners[base]; ok {
			return job
		}
		if id, ok := chunkIDOf(planName, base); ok {
			return latest[id]
		}
		return ""
	}
	// Replay in ledger order so a later job's result ends up latest.
	rank := func(path string) int {
		if i, ok := order[owner(path)]; ok {
			return i
		}
		return len(order)
	}
	sort.SliceStable(files, func(i, j int) bool { return rank(files[i]) < rank(files[j]) })

	byIndex := indexItems(items)
	total := &ReconcileStats{}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		stats, err := o.reconcile(ctx, path, owner(path), planName, byIndex, tr, order, overwrite)
		total.add(stats)
		if err != nil {
			return total, err
		}
		logger.Infof("Rehydrated %s: %d success, %d error, %d skipped.", filepath.Base(path), stats.Success, stats.Errors, stats.Skipped)
	}
	return total, nil
}

// chunkIDOf parses plan__chunkNNN.jsonl and plan__chunkNNN__job.jsonl.
func chunkIDOf(planName, name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, planName+"__chunk")
	if !ok {
		return 0, false
	}
	rest, ok = strings.CutSuffix(rest, ".jsonl")
	if !ok {
		return 0, false
	}
	rest, _, _ = strings.Cut(rest, "__")
	id, err := strconv.Atoi(rest)
	return id, err == nil
}

func jobOrder(rows []model.BatchJobRecord) map[string]int {
	out := make(map[string]int, len(rows))
	for i, row := range rows {
		if row.JobName != "" {
			out[row.JobName] = i
		}
	}
	return out
}

// superseded reports whether the latest record of an item already comes from
// this job or from a job submitted after it.
func superseded(latest model.ManifestRecord, outName, jobName string, order map[string]int) bool {
	if latest.BatchOutput == outName && latest.BatchJob == jobName {
		return true
	}
	prev, ok := order[latest.BatchJob]
	if !ok || jobName == "" {
		return false
	}
	cur, ok := order[jobName]
	return ok && prev >= cur
}

func indexItems(items []model.PlanItem) map[int]*model.PlanItem {
	out := make(map[int]*model.PlanItem, len(items))
	for i := range items {
		out[items[i].Index] = &items[i]
	}
	return out
}

// reconcile appends one record per result line that is not already
// reconciled. Only a manifest append failure aborts it.
func (o *Orchestrator) reconcile(ctx context.Context, path, jobName, planName string, byIndex map[int]*model.PlanItem, tr *tracker.Tracker, order map[string]int, overwrite bool) (ReconcileStats, error) {
	var stats ReconcileStats
	f, err := os.Open(path)
	if err != nil {
		return stats, exception.NewBatchError(module, fmt.Sprintf("failed to open %s", path), err, false)
	}
	defer f.Close()

	outName := filepath.Base(path)
	resolver := &plan.Resolver{Registry: o.Registry, Latest: tr}
	errAppend := errors.New("append")
	var appendErr error

	err = serialization.EachLine(f, func(lineNo int, line []byte) error {
		stats.Lines++
		var rl ResultLine
		if err := json.Unmarshal(line, &rl); err != nil {
			logger.Warnf("Skipping malformed line %d in %s: %v", lineNo, outName, err)
			stats.Invalid++
			return nil
		}
		profile, linePlan, index, err := model.ParseBatchKey(rl.Key)
		if err != nil || profile != o.Options.Profile || linePlan != planName {
			logger.Warnf("Skipping line %d in %s: key %q does not belong to %s:%s.", lineNo, outName, rl.Key, o.Options.Profile, planName)
			stats.Invalid++
			return nil
		}
		item, ok := byIndex[index]
		if !ok {
			logger.Warnf("Skipping line %d in %s: index %d is not in the plan.", lineNo, outName, index)
			stats.Invalid++
			return nil
		}
		key := item.Key()
		if !overwrite {
			if tr.IsCompleted(key) {
				stats.Skipped++
				return nil
			}
			if latest, ok := tr.Get(key); ok && superseded(latest, outName, jobName, order) {
				stats.Skipped++
				return nil
			}
		}

		rec := o.resultRecord(ctx, item, &rl, resolver, outName, jobName, overwrite)
		if err := o.Manifest.Append(ctx, rec); err != nil {
			appendErr = err
			return errAppend
		}
		tr.Record(rec)
		o.Metrics.RecordItem(ctx, metrics.ModeBatch, rec.Status, rec.ErrorType)
		if rec.Status == model.StatusSuccess {
			stats.Success++
		} else {
			stats.Errors++
		}
		return nil
	})
	if appendErr != nil {
		return stats, exception.NewBatchError(module, "failed to append manifest record", appendErr, false)
	}
	if err != nil {
		return stats, exception.NewBatchError(module, fmt.Sprintf("failed to read %s", path), err, false)
	}
	return stats, nil
}

func (o *Orchestrator) resultRecord(ctx context.Context, item *model.PlanItem, rl *ResultLine, resolver *plan.Resolver, outName, jobName string, overwrite bool) *model.ManifestRecord {
	rec := o.newRecord(item)
	if prompt, ierr := resolver.Resolve(*item); ierr == nil {
		rec.FinalPrompt = prompt
	}
	rec.BatchKey = rl.Key
	rec.BatchOutput = outName
	rec.BatchJob = jobName
	meta := &model.ResponseMetadata{BatchKey: rl.Key, BatchOutput: outName}
	base := batchBase(item)

	if rl.HasError() {
		msg, code := rl.ErrorDetail()
		rec.MarkError(model.ErrorTypeBatch, msg, code, 0)
		rec.ResponseMetadata = meta
		o.writeMeta(ctx, item.AxisID, base, rec)
		return rec
	}

	var (
		ext       *port.Extraction
		decodeErr error
	)
	if isSet(rl.Response) {
		ext, decodeErr = o.Decoder.Decode(rl.Response)
	}
	if decodeErr != nil || !ext.HasImage() {
		msg := "No image data in batch response"
		if decodeErr != nil {
			msg += ": " + decodeErr.Error()
		} else if ext != nil && ext.BlockReason != "" {
			msg += " (block reason: " + ext.BlockReason + ")"
		}
		if ext != nil {
			meta.FinishReason = ext.Metadata.FinishReason
			meta.SafetyRatings = ext.Metadata.SafetyRatings
			meta.ModelVersion = ext.Metadata.ModelVersion
		}
		rec.MarkError(model.ErrorTypeNoImageData, msg, 0, 0)
		rec.ResponseMetadata = meta
		o.writeMeta(ctx, item.AxisID, base, rec)
		return rec
	}

	meta.FinishReason = ext.Metadata.FinishReason
	meta.SafetyRatings = ext.Metadata.SafetyRatings
	meta.ModelVersion = ext.Metadata.ModelVersion
	img, _ := ext.Final()
	filename := writer.ImageFilename(base)
	exists, err := o.Artifacts.ImageExists(ctx, item.AxisID, filename)
	if err != nil {
		logger.Warnf("Failed to check %s: %v", filename, err)
	}
	if overwrite || !exists {
		if err := o.Artifacts.WriteImage(ctx, item.AxisID, filename, img.Data); err != nil {
			rec.MarkError(model.ErrorTypeUnexpected, err.Error(), 0, 0)
			rec.ResponseMetadata = meta
			o.writeMeta(ctx, item.AxisID, base, rec)
			return rec
		}
		o.Metrics.RecordImages(ctx, "final", 1)
	}
	rec.MarkSuccess(filename, 0, 1, nil, 0)
	rec.ResponseMetadata = meta
	o.writeMeta(ctx, item.AxisID, base, rec)
	return rec
}
