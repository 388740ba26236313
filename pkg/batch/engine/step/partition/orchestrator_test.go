package partition_test

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tigerroll/serendip/pkg/batch/adapter/storage"
	"github.com/tigerroll/serendip/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/serendip/pkg/batch/component/step/writer"
	port "github.com/tigerroll/serendip/pkg/batch/core/application/port"
	model "github.com/tigerroll/serendip/pkg/batch/core/domain/model"
	"github.com/tigerroll/serendip/pkg/batch/engine/step/partition"
	"github.com/tigerroll/serendip/pkg/batch/engine/tracker"
	"github.com/tigerroll/serendip/pkg/batch/infrastructure/remote"
	"github.com/tigerroll/serendip/pkg/batch/infrastructure/repository/ndjson"
)

type fakeBatches struct {
	mu        sync.Mutex
	uploads   map[string]string
	jobs      map[string]*port.RemoteJob
	outputs   map[string][]byte
	downloads int

	delay    time.Duration
	inflight atomic.Int32
	peak     atomic.Int32
}

func newFakeBatches() *fakeBatches {
	return &fakeBatches{uploads: map[string]string{}, jobs: map[string]*port.RemoteJob{}, outputs: map[string][]byte{}}
}

func (f *fakeBatches) UploadJSONL(ctx context.Context, displayName string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	name := "files/" + displayName
	f.uploads[name] = string(data)
	return name, nil
}

func (f *fakeBatches) CreateBatch(ctx context.Context, inputFile, displayName string) (*port.RemoteJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := fmt.Sprintf("batches/%s-%d", displayName, len(f.jobs))
	f.jobs[name] = &port.RemoteJob{Name: name, State: model.JobStateQueued}
	return &port.RemoteJob{Name: name, State: model.JobStateQueued}, nil
}

func (f *fakeBatches) GetBatch(ctx context.Context, jobName string) (*port.RemoteJob, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobName]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *job
	return &cp, nil
}

func (f *fakeBatches) DownloadFile(ctx context.Context, fileName string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads++
	data, ok := f.outputs[fileName]
	if !ok {
		return nil, errors.New("no such file")
	}
	return data, nil
}

func (f *fakeBatches) finish(jobName, outputFile string, lines ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[jobName].State = model.JobStateSucceeded
	f.jobs[jobName].OutputFile = outputFile
	f.outputs[outputFile] = []byte(strings.Join(lines, "\n") + "\n")
}

type fixture struct {
	root     string
	store    storage.ArtifactStore
	manifest *ndjson.ManifestStore
	ledgers  *ndjson.LedgerFactory
	batches  *fakeBatches
	files    *fakeFiles
	orch     *partition.Orchestrator
}

func newFixture(t *testing.T, chunkSize int) *fixture {
	t.Helper()
	root := t.TempDir()
	store, err := local.NewLocalAdapter(root)
	require.NoError(t, err)
	f := &fixture{
		root:     root,
		store:    store,
		manifest: ndjson.NewManifestStore(filepath.Join(root, "manifest.jsonl")),
		ledgers: ndjson.NewLedgerFactory(func(plan string) string {
			return filepath.Join(root, "batches", plan+".jobs.jsonl")
		}),
		batches: newFakeBatches(),
		files:   &fakeFiles{fail: map[string]error{}},
	}
	clock := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	f.orch = partition.NewOrchestrator(partition.Params{
		Options: partition.Options{
			RunID:             "batch_test",
			Profile:           "prof",
			Model:             "m",
			ImageSize:         "2K",
			ChunkSize:         chunkSize,
			StatusParallelism: 2,
			DisplayNamePrefix: "serendip",
			BatchesDir:        filepath.Join(root, "batches"),
			OutputsDir:        filepath.Join(root, "batch_outputs"),
		},
		Batches:   f.batches,
		Files:     f.files,
		Decoder:   remote.NewJSONResponseReader(),
		Ledgers:   f.ledgers,
		Manifest:  f.manifest,
		Artifacts: writer.NewArtifactWriter(store),
		Now:       func() time.Time { return clock },
	})
	return f
}

func (f *fixture) tracker(t *testing.T) *tracker.Tracker {
	t.Helper()
	recs, err := f.manifest.LoadAll(context.Background())
	require.NoError(t, err)
	return tracker.New(recs, tracker.StoreExists(context.Background(), f.store))
}

func (f *fixture) records(t *testing.T) []model.ManifestRecord {
	t.Helper()
	recs, err := f.manifest.LoadAll(context.Background())
	require.NoError(t, err)
	return recs
}

func items(n int) []model.PlanItem {
	out := make([]model.PlanItem, n)
	for i := range out {
		out[i] = model.PlanItem{
			Profile:        "prof",
			PlanName:       "plan",
			Index:          i,
			AxisID:         "ax",
			FinalPrompt:    fmt.Sprintf("prompt %d", i),
			GenerationType: model.GenerationStandard,
		}
	}
	return out
}

func imageLine(key, data string) string {
	return fmt.Sprintf(`{"key":%q,"response":{"candidates":[{"content":{"parts":[{"inlineData":{"mimeType":"image/png","data":%q}}]},"finishReason":"STOP"}]}}`,
		key, base64.StdEncoding.EncodeToString([]byte(data)))
}

func TestSubmit_ChunksLedgerAndForce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	plan := items(5)

	// Items 0 and 1 are already done, so chunk 0 has nothing to send.
	aw := writer.NewArtifactWriter(f.store)
	for _, idx := range []int{0, 1} {
		rec := model.NewManifestRecord("old", &plan[idx], time.Now())
		rec.MarkSuccess(fmt.Sprintf("done_%d.png", idx), 0, 1, nil, 0)
		require.NoError(t, aw.WriteImage(ctx, "ax", rec.FinalImageFilename, []byte("x")))
		require.NoError(t, f.manifest.Append(ctx, rec))
	}

	res, err := f.orch.Submit(ctx, "plan", plan, f.tracker(t), partition.SubmitOptions{})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, res.SkippedCompleted)
	require.Len(t, res.Submitted, 2)
	assert.Equal(t, 2, res.Submitted[0].FirstIndex)
	assert.Equal(t, 3, res.Submitted[0].LastIndex)
	assert.Equal(t, 4, res.Submitted[1].FirstIndex)
	assert.Equal(t, "serendip-prof-plan-chunk001", res.Submitted[0].DisplayName)

	upload := f.batches.uploads["files/serendip-prof-plan-chunk001"]
	assert.Contains(t, upload, `"key":"prof:plan:2"`)
	assert.Contains(t, upload, `"response_modalities":["IMAGE"]`)
	assert.Equal(t, 2, strings.Count(upload, "\n"))
	_, err = os.Stat(f.orch.InputPath("plan", 1))
	assert.NoError(t, err)

	res, err = f.orch.Submit(ctx, "plan", plan, f.tracker(t), partition.SubmitOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Submitted)
	assert.Equal(t, []int{1, 2}, res.SkippedExisting)

	res, err = f.orch.Submit(ctx, "plan", plan, f.tracker(t), partition.SubmitOptions{Force: true})
	require.NoError(t, err)
	assert.Len(t, res.Submitted, 2)

	rows, err := f.ledgers.Ledger("plan").LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 4, "forced resubmission appends new rows")
}

func TestSubmit_RangeChangeAndIntegrity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)
	plan := items(3)
	src := 9
	plan[1].GenerationType = model.GenerationRerun
	plan[1].SourcePlan = "old"
	plan[1].SourceIndex = &src

	require.NoError(t, f.ledgers.Ledger("plan").Append(ctx, &model.BatchJobRecord{
		Profile: "prof", PlanName: "plan", ChunkID: 0, FirstIndex: 0, LastIndex: 9, JobName: "batches/stale",
	}))

	res, err := f.orch.Submit(ctx, "plan", plan, f.tracker(t), partition.SubmitOptions{})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, res.RangeChanged)
	assert.Equal(t, 1, res.IntegrityFailures)
	require.Len(t, res.Submitted, 1)
	assert.Equal(t, 2, res.Submitted[0].ItemCount)

	recs := f.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, model.ErrorTypeMissingSource, recs[0].ErrorType)
	assert.Equal(t, 1, recs[0].Index)
}

func TestSubmit_DryRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)

	res, err := f.orch.Submit(ctx, "plan", items(3), f.tracker(t), partition.SubmitOptions{DryRun: true})
	require.NoError(t, err)
	assert.Empty(t, res.Submitted)
	require.Len(t, res.DryRunFiles, 1)
	assert.Empty(t, f.batches.uploads)

	rows, err := f.ledgers.Ledger("plan").LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestStatus_BoundedParallelism(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	f := newFixture(t, 1)
	f.batches.delay = 20 * time.Millisecond

	res, err := f.orch.Submit(ctx, "plan", items(6), f.tracker(t), partition.SubmitOptions{})
	require.NoError(t, err)
	require.Len(t, res.Submitted, 6)
	f.batches.finish(res.Submitted[0].JobName, "files/out0")
	require.NoError(t, f.ledgers.Ledger("plan").Append(ctx, &model.BatchJobRecord{ChunkID: 6, JobName: "batches/missing"}))

	report, err := f.orch.Status(ctx, "plan")
	require.NoError(t, err)
	require.Len(t, report.Chunks, 7)
	assert.Equal(t, 1, report.Histogram[model.JobStateSucceeded])
	assert.Equal(t, 5, report.Histogram[model.JobStateQueued])
	assert.Equal(t, 1, report.Histogram[model.JobStateUnknown])
	assert.Error(t, report.Chunks[6].Err)
	assert.LessOrEqual(t, f.batches.peak.Load(), int32(2))
	assert.Equal(t, []model.JobState{model.JobStateQueued, model.JobStateSucceeded, model.JobStateUnknown}, report.States())
}

func TestCollect_ReconcilesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)
	plan := items(5)

	res, err := f.orch.Submit(ctx, "plan", plan, f.tracker(t), partition.SubmitOptions{})
	require.NoError(t, err)
	require.Len(t, res.Submitted, 2)
	job := res.Submitted[0].JobName
	f.batches.finish(job, "files/out0",
		imageLine("prof:plan:0", "png-0"),
		`{"key":"prof:plan:1","error":{"code":500,"message":"boom","status":"INTERNAL"}}`,
		`{"key":"prof:plan:2","response":{"candidates":[{"content":{"parts":[{"text":"sorry"}]}}]}}`,
		`{not json`,
		imageLine("other:plan:0", "png-x"),
	)

	got, err := f.orch.Collect(ctx, "plan", plan, f.tracker(t))
	require.NoError(t, err)
	require.Len(t, got.Chunks, 2)
	assert.Equal(t, model.JobStateSucceeded, got.Chunks[0].State)
	assert.Equal(t, model.JobStateQueued, got.Chunks[1].State)
	assert.Equal(t, partition.ReconcileStats{Lines: 5, Success: 1, Errors: 2, Invalid: 2}, got.Stats)

	recs := f.records(t)
	require.Len(t, recs, 3)
	byIndex := map[int]model.ManifestRecord{}
	for _, r := range recs {
		byIndex[r.Index] = r
	}
	ok := byIndex[0]
	assert.Equal(t, model.StatusSuccess, ok.Status)
	assert.Equal(t, "batch_plan_0000_ax.png", ok.FinalImageFilename)
	assert.Equal(t, 0, *ok.ImagePartIndex)
	assert.Equal(t, 1, *ok.TotalImageParts)
	assert.Equal(t, "prof:plan:0", ok.ResponseMetadata.BatchKey)
	assert.Equal(t, "plan__chunk000__serendip-prof-plan-chunk000-0.jsonl", ok.BatchOutput)
	assert.Equal(t, job, ok.BatchJob)
	assert.Equal(t, model.ErrorTypeBatch, byIndex[1].ErrorType)
	assert.Equal(t, "INTERNAL: boom", byIndex[1].Error)
	assert.Equal(t, 500, *byIndex[1].HTTPStatus)
	assert.Equal(t, model.ErrorTypeNoImageData, byIndex[2].ErrorType)

	exists, err := writer.NewArtifactWriter(f.store).ImageExists(ctx, "ax", "batch_plan_0000_ax.png")
	require.NoError(t, err)
	assert.True(t, exists)

	got, err = f.orch.Collect(ctx, "plan", plan, f.tracker(t))
	require.NoError(t, err)
	assert.Equal(t, 3, got.Stats.Skipped)
	assert.Len(t, f.records(t), 3, "collecting again appends nothing")
	assert.Equal(t, 1, f.batches.downloads, "the local output is reused")
}

func TestCollect_ForcedResubmitDownloadsNewOutput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	plan := items(2)

	res, err := f.orch.Submit(ctx, "plan", plan, f.tracker(t), partition.SubmitOptions{})
	require.NoError(t, err)
	require.Len(t, res.Submitted, 1)
	first := res.Submitted[0].JobName
	f.batches.finish(first, "files/out-first",
		`{"key":"prof:plan:0","error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`,
		`{"key":"prof:plan:1","error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`,
	)
	got, err := f.orch.Collect(ctx, "plan", plan, f.tracker(t))
	require.NoError(t, err)
	assert.Equal(t, 2, got.Stats.Errors)

	res, err = f.orch.Submit(ctx, "plan", plan, f.tracker(t), partition.SubmitOptions{Force: true})
	require.NoError(t, err)
	require.Len(t, res.Submitted, 1)
	second := res.Submitted[0].JobName
	require.NotEqual(t, first, second)
	f.batches.finish(second, "files/out-second", imageLine("prof:plan:0", "a"), imageLine("prof:plan:1", "b"))

	got, err = f.orch.Collect(ctx, "plan", plan, f.tracker(t))
	require.NoError(t, err)
	require.Len(t, got.Chunks, 2)
	assert.NotEqual(t, got.Chunks[0].OutputPath, got.Chunks[1].OutputPath)
	assert.Equal(t, partition.ReconcileStats{Lines: 4, Success: 2, Skipped: 2}, got.Stats)
	assert.Equal(t, 2, f.batches.downloads, "the resubmitted job's output is downloaded")

	tr := f.tracker(t)
	for _, item := range plan {
		assert.True(t, tr.IsCompleted(item.Key()), "index %d", item.Index)
		latest, ok := tr.Get(item.Key())
		require.True(t, ok)
		assert.Equal(t, second, latest.BatchJob)
	}

	got, err = f.orch.Collect(ctx, "plan", plan, f.tracker(t))
	require.NoError(t, err)
	assert.Equal(t, 4, got.Stats.Skipped)
	assert.Len(t, f.records(t), 4, "no duplicate error records")
	assert.Equal(t, 2, f.batches.downloads)
}

func TestCollect_EarlierJobNeverReplacesLaterResult(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	plan := items(1)

	res, err := f.orch.Submit(ctx, "plan", plan, f.tracker(t), partition.SubmitOptions{})
	require.NoError(t, err)
	first := res.Submitted[0].JobName
	res, err = f.orch.Submit(ctx, "plan", plan, f.tracker(t), partition.SubmitOptions{Force: true})
	require.NoError(t, err)
	second := res.Submitted[0].JobName

	f.batches.finish(second, "files/out-second", `{"key":"prof:plan:0","error":"blocked"}`)
	_, err = f.orch.Collect(ctx, "plan", plan, f.tracker(t))
	require.NoError(t, err)

	f.batches.finish(first, "files/out-first", `{"key":"prof:plan:0","error":"older"}`)
	got, err := f.orch.Collect(ctx, "plan", plan, f.tracker(t))
	require.NoError(t, err)
	assert.Equal(t, 2, got.Stats.Skipped)

	recs := f.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, second, recs[0].BatchJob)
	assert.Equal(t, "blocked", recs[0].Error)
}

func TestStatusAndCollect_SeveralJobsPerChunkID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	plan := items(4)

	// Two filtered submits both number their only chunk 0.
	res, err := f.orch.Submit(ctx, "plan", plan[:2], f.tracker(t), partition.SubmitOptions{})
	require.NoError(t, err)
	require.Len(t, res.Submitted, 1)
	left := res.Submitted[0].JobName
	res, err = f.orch.Submit(ctx, "plan", plan[2:], f.tracker(t), partition.SubmitOptions{})
	require.NoError(t, err)
	require.Len(t, res.Submitted, 1)
	assert.Equal(t, []int{0}, res.RangeChanged)
	right := res.Submitted[0].JobName

	f.batches.finish(left, "files/out-left", imageLine("prof:plan:0", "a"), imageLine("prof:plan:1", "b"))
	f.batches.finish(right, "files/out-right", imageLine("prof:plan:2", "c"), imageLine("prof:plan:3", "d"))

	report, err := f.orch.Status(ctx, "plan")
	require.NoError(t, err)
	require.Len(t, report.Chunks, 2)
	assert.Equal(t, left, report.Chunks[0].Row.JobName)
	assert.Equal(t, right, report.Chunks[1].Row.JobName)
	assert.Equal(t, 2, report.Histogram[model.JobStateSucceeded])

	got, err := f.orch.Collect(ctx, "plan", plan, f.tracker(t))
	require.NoError(t, err)
	assert.Equal(t, 4, got.Stats.Success)

	tr := f.tracker(t)
	for _, item := range plan {
		assert.True(t, tr.IsCompleted(item.Key()), "index %d", item.Index)
	}

	// Rehydrate maps each per-job file back to its own job.
	stats, err := f.orch.Rehydrate(ctx, "plan", plan, tr, false)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Skipped)
}

func TestRehydrate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	plan := items(2)

	out := filepath.Join(f.root, "batch_outputs", "plan__chunk000.jsonl")
	require.NoError(t, os.MkdirAll(filepath.Dir(out), 0o755))
	require.NoError(t, os.WriteFile(out, []byte(imageLine("prof:plan:0", "a")+"\n"+`{"key":"prof:plan:1","error":"quota"}`+"\n"), 0o644))

	stats, err := f.orch.Rehydrate(ctx, "plan", plan, f.tracker(t), false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Success)
	assert.Equal(t, 1, stats.Errors)

	stats, err = f.orch.Rehydrate(ctx, "plan", plan, f.tracker(t), false)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Skipped)

	stats, err = f.orch.Rehydrate(ctx, "plan", plan, f.tracker(t), true)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Success)
	assert.Equal(t, 1, stats.Errors)
	recs := f.records(t)
	require.Len(t, recs, 4)
	assert.Equal(t, "quota", recs[1].Error)
}
