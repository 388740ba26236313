package usecase_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storage "github.com/tigerroll/serendip/pkg/batch/adapter/storage"
	"github.com/tigerroll/serendip/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/serendip/pkg/batch/component/step/writer"
	port "github.com/tigerroll/serendip/pkg/batch/core/application/port"
	usecase "github.com/tigerroll/serendip/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/serendip/pkg/batch/core/config"
	model "github.com/tigerroll/serendip/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/serendip/pkg/batch/core/metrics"
	"github.com/tigerroll/serendip/pkg/batch/core/registry"
	"github.com/tigerroll/serendip/pkg/batch/engine/plan"
	"github.com/tigerroll/serendip/pkg/batch/engine/step/generate"
	"github.com/tigerroll/serendip/pkg/batch/engine/step/partition"
	"github.com/tigerroll/serendip/pkg/batch/engine/step/retry"
	"github.com/tigerroll/serendip/pkg/batch/infrastructure/repository/ndjson"
)

const axesYAML = `
axis_templates:
  A:
    template: "Paint {COLOR} {SHAPE}"
  C:
    template: "Photograph {COLOR} {MATERIAL}"
`

const vocabYAML = `
vocab:
  COLOR: [red, green, blue, amber]
  SHAPE: [circle, cube]
  MATERIAL: [glass, clay]
`

type fixture struct {
	cfg      *config.Config
	store    storage.ArtifactStore
	manifest *ndjson.ManifestStore
	planner  *usecase.DefaultPlanner
	loads    int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Serendip.OutputDir = t.TempDir()
	cfg.Serendip.Profile = "demo"
	cfg.Serendip.Plan.AxisIDs = []string{"A", "C"}
	cfg.Serendip.Plan.TargetCount = 4
	seed := int64(3)
	cfg.Serendip.Plan.Seed = &seed

	store, err := local.NewLocalAdapter(cfg.ArtifactRoot())
	require.NoError(t, err)
	f := &fixture{cfg: cfg, store: store, manifest: ndjson.NewManifestStore(cfg.ManifestPath())}
	f.planner = usecase.NewDefaultPlanner(cfg, func() (*registry.Registry, error) {
		f.loads++
		return registry.Parse([]byte(axesYAML), []byte(vocabYAML), nil)
	}, f.manifest)
	return f
}

type okGenerator struct{ calls int }

func (g *okGenerator) Generate(ctx context.Context, prompt string) (*port.Extraction, error) {
	g.calls++
	return &port.Extraction{Images: []port.ImagePart{{MIMEType: "image/png", Data: []byte("png")}}}, nil
}

type runEvents struct {
	before []string
	after  []model.RunSummary
	errs   []error
}

func (r *runEvents) BeforeRun(ctx context.Context, operation, planName string) {
	r.before = append(r.before, operation+":"+planName)
}

func (r *runEvents) AfterRun(ctx context.Context, operation, planName string, summary model.RunSummary, err error) {
	r.after = append(r.after, summary)
	r.errs = append(r.errs, err)
}

func TestPlanner_EnsureFreezesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.planner.Ensure(ctx, "explore", usecase.EnsureOptions{})
	require.NoError(t, err)
	require.Len(t, first, 4)
	assert.FileExists(t, f.cfg.PlanPath("explore"))

	again, err := f.planner.Ensure(ctx, "explore", usecase.EnsureOptions{})
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, 1, f.loads, "a frozen plan is loaded, not regenerated")

	_, err = f.planner.Ensure(ctx, "explore", usecase.EnsureOptions{Regenerate: true})
	require.NoError(t, err)
	assert.Equal(t, 2, f.loads)
}

func TestPlanner_EnsureShortfall(t *testing.T) {
	f := newFixture(t)
	f.cfg.Serendip.Plan.TargetCount = 100
	f.cfg.Serendip.Plan.MaxAttemptsFactor = 2
	ctx := context.Background()

	_, err := f.planner.Ensure(ctx, "big", usecase.EnsureOptions{})
	var short *plan.ShortfallError
	require.True(t, errors.As(err, &short))
	assert.NoFileExists(t, f.cfg.PlanPath("big"))

	items, err := f.planner.Ensure(ctx, "big", usecase.EnsureOptions{AllowPartial: true})
	require.NoError(t, err)
	assert.Less(t, len(items), 100)
	assert.FileExists(t, f.cfg.PlanPath("big"))
}

func TestPlanner_FreezeRerunFromErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	items, err := f.planner.Ensure(ctx, "explore", usecase.EnsureOptions{})
	require.NoError(t, err)

	failed := model.NewManifestRecord("r1", &items[2], time.Now())
	failed.FinalPrompt = "old prompt"
	failed.MarkError(model.ErrorTypeAPI, "boom", 500, 3)
	require.NoError(t, f.manifest.Append(ctx, failed))

	rerun, err := f.planner.FreezeRerun(ctx, "explore_rerun", "explore", nil, true)
	require.NoError(t, err)
	require.Len(t, rerun, 1)
	assert.Equal(t, model.GenerationRerun, rerun[0].GenerationType)
	require.NotNil(t, rerun[0].SourceIndex)
	assert.Equal(t, items[2].Index, *rerun[0].SourceIndex)

	_, err = f.planner.FreezeRerun(ctx, "explore", "explore", []int{0}, false)
	assert.Error(t, err)
}

func TestRunLauncher_LaunchNotifiesListeners(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gen := &okGenerator{}
	exec := generate.NewExecutor(generate.Params{
		Generator: gen,
		Manifest:  f.manifest,
		Artifacts: writer.NewArtifactWriter(f.store),
		Policy:    retry.NewPolicy(f.cfg.Serendip.Retry),
		Sleep:     func(context.Context, time.Duration) error { return nil },
	})
	events := &runEvents{}
	launcher := usecase.NewSimpleRunLauncher(f.planner, exec, f.manifest, f.store, []port.RunListener{events}, metrics.NewNoOpTracer())

	summary, err := launcher.Launch(ctx, "explore", plan.Filter{Count: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Success)
	assert.Equal(t, 3, gen.calls)
	assert.Equal(t, []string{"generate:explore"}, events.before)
	require.Len(t, events.after, 1)
	assert.Equal(t, summary, events.after[0])

	summary, err = launcher.Launch(ctx, "explore", plan.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Skipped)
	assert.Equal(t, 1, summary.Success)
	assert.Equal(t, 4, gen.calls)
}

func TestManifestExplorer_CleanAndExport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	items, err := f.planner.Ensure(ctx, "explore", usecase.EnsureOptions{})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		rec := model.NewManifestRecord("r1", &items[0], time.Now())
		rec.MarkError(model.ErrorTypeAPI, "boom", 500, 0)
		require.NoError(t, f.manifest.Append(ctx, rec))
	}
	ghost := model.NewManifestRecord("r1", &items[1], time.Now())
	ghost.MarkSuccess("missing.png", 0, 1, nil, 0)
	require.NoError(t, f.manifest.Append(ctx, ghost))

	explorer := usecase.NewSimpleManifestExplorer(f.planner, f.manifest, f.store)
	dry, err := explorer.Clean(ctx, nil, false)
	require.NoError(t, err)
	assert.False(t, dry.Applied)
	assert.Equal(t, 3, dry.Stats.Input)
	assert.Equal(t, 1, dry.Stats.Kept)

	records, err := f.manifest.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 3, "a dry run leaves the manifest alone")

	applied, err := explorer.Clean(ctx, nil, true)
	require.NoError(t, err)
	assert.True(t, applied.Applied)
	assert.FileExists(t, applied.Backup)
	records, err = f.manifest.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	out := filepath.Join(t.TempDir(), "export", "manifest.parquet")
	n, err := explorer.ExportParquet(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	overlap, err := explorer.Overlap(ctx, "explore", "explore")
	require.NoError(t, err)
	assert.Equal(t, 4, overlap.Overlap)
}

type listedFiles struct {
	files   []port.RemoteFile
	deleted []string
}

func (l *listedFiles) ListFiles(ctx context.Context) ([]port.RemoteFile, error) {
	return l.files, nil
}

func (l *listedFiles) DeleteFile(ctx context.Context, name string) error {
	l.deleted = append(l.deleted, name)
	return nil
}

func TestRemoteFileManager_DeleteByDisplayPrefix(t *testing.T) {
	remote := &listedFiles{files: []port.RemoteFile{
		{Name: "files/1", DisplayName: "serendip-demo-p1-chunk000"},
		{Name: "files/2", DisplayName: "elsewhere"},
	}}
	orch := partition.NewOrchestrator(partition.Params{Files: remote})
	manager := usecase.NewDefaultRemoteFileManager(orch, nil)

	list, err := manager.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 2)

	res, err := manager.Delete(context.Background(), partition.FileSelector{DisplayPrefixes: []string{"serendip-demo-"}}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"files/1"}, res.Deleted)
	assert.Equal(t, []string{"files/1"}, remote.deleted)
}
