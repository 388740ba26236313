package tracker_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/serendip/pkg/batch/core/domain/model"
	"github.com/tigerroll/serendip/pkg/batch/engine/tracker"
)

type fileSet map[string]bool

func (f fileSet) exists(axis, file string) bool {
	return f[axis+"/"+file]
}

func success(plan string, idx int, axis, file string) model.ManifestRecord {
	return model.ManifestRecord{PlanName: plan, Index: idx, AxisID: axis, Status: model.StatusSuccess, FinalImageFilename: file}
}

func failure(plan string, idx int, axis string) model.ManifestRecord {
	return model.ManifestRecord{PlanName: plan, Index: idx, AxisID: axis, Status: model.StatusError, ErrorType: model.ErrorTypeAPI, Error: "boom"}
}

func TestIsCompleted(t *testing.T) {
	files := fileSet{"a/x.png": true}

	cases := []struct {
		name string
		rec  *model.ManifestRecord
		want bool
	}{
		{"nil", nil, false},
		{"success with image", &model.ManifestRecord{AxisID: "a", Status: model.StatusSuccess, FinalImageFilename: "x.png"}, true},
		{"success image deleted", &model.ManifestRecord{AxisID: "a", Status: model.StatusSuccess, FinalImageFilename: "gone.png"}, false},
		{"success without filename", &model.ManifestRecord{AxisID: "a", Status: model.StatusSuccess}, false},
		{"legacy without filename", &model.ManifestRecord{AxisID: "a"}, true},
		{"legacy with existing filename", &model.ManifestRecord{AxisID: "a", FinalImageFilename: "x.png"}, true},
		{"legacy with missing filename", &model.ManifestRecord{AxisID: "a", FinalImageFilename: "gone.png"}, false},
		{"legacy with error type", &model.ManifestRecord{AxisID: "a", ErrorType: model.ErrorTypeAPI}, false},
		{"error", &model.ManifestRecord{AxisID: "a", Status: model.StatusError, FinalImageFilename: "x.png"}, false},
		{"pending", &model.ManifestRecord{AxisID: "a", Status: model.StatusPending}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tracker.IsCompleted(tc.rec, files.exists))
		})
	}
}

func TestTracker_DeletedImageDemotesUntilRecordedAgain(t *testing.T) {
	files := fileSet{}
	tr := tracker.New([]model.ManifestRecord{success("p", 0, "a", "first.png")}, files.exists)
	key := model.ItemKey{PlanName: "p", Index: 0}

	assert.False(t, tr.IsCompleted(key), "image file was never written")

	files["a/second.png"] = true
	rec := success("p", 0, "a", "second.png")
	tr.Record(&rec)
	assert.True(t, tr.IsCompleted(key))
}

func TestLatest_LastRecordWins(t *testing.T) {
	records := []model.ManifestRecord{
		success("p", 0, "a", "x.png"),
		failure("p", 0, "a"),
		success("p", 1, "a", "y.png"),
	}
	latest := tracker.Latest(records)
	require.Len(t, latest, 2)
	assert.Equal(t, model.StatusError, latest[model.ItemKey{PlanName: "p", Index: 0}].Status)
}

func TestTracker_ErrorIndicesAndPending(t *testing.T) {
	files := fileSet{"a/ok.png": true}
	tr := tracker.New([]model.ManifestRecord{
		failure("p", 3, "a"),
		success("p", 1, "a", "ok.png"),
		failure("p", 0, "a"),
		failure("other", 2, "a"),
	}, files.exists)

	assert.Equal(t, []int{0, 3}, tr.ErrorIndices("p"))

	items := []model.PlanItem{{PlanName: "p", Index: 0}, {PlanName: "p", Index: 1}, {PlanName: "p", Index: 2}}
	pending := tr.Pending(items)
	require.Len(t, pending, 2)
	assert.Equal(t, 0, pending[0].Index)
	assert.Equal(t, 2, pending[1].Index)
}

func TestCompact(t *testing.T) {
	files := fileSet{
		"a/20250101_000000_0000_a.png": true,
		"a/batch_p_0000_a.png":         true,
		"b/20250101_000000_0001_b.png": true,
	}
	axes := tracker.PlanAxes{"p": {0: "a", 1: "a", 2: "a"}}
	records := []model.ManifestRecord{
		success("p", 0, "a", "batch_p_0000_a.png"),
		success("p", 0, "a", "20250101_000000_0000_a.png"),
		failure("p", 1, "a"),
		success("p", 1, "b", "20250101_000000_0001_b.png"),
		success("p", 2, "a", "missing.png"),
		failure("q", 0, "a"),
		failure("p", 1, "a"),
	}

	kept, stats := tracker.Compact(records, []string{"p"}, axes, files.exists)

	assert.Equal(t, 7, stats.Input)
	assert.Equal(t, 1, stats.SkippedMissingImage)
	require.Len(t, kept, 3)
	assert.Equal(t, "batch_p_0000_a.png", kept[0].FinalImageFilename, "batch prefix outranks a later sync image")
	assert.Equal(t, "b", kept[1].AxisID, "success outranks errors even on axis mismatch")
	assert.Equal(t, "q", kept[2].PlanName, "unselected plans are kept unchanged")
}

func TestCompact_TieGoesToLaterRecord(t *testing.T) {
	first := failure("p", 0, "a")
	first.Error = "first"
	second := failure("p", 0, "a")
	second.Error = "second"

	kept, _ := tracker.Compact([]model.ManifestRecord{first, second}, nil, nil, fileSet{}.exists)
	require.Len(t, kept, 1)
	assert.Equal(t, "second", kept[0].Error)
}

func TestMoveErrorMeta(t *testing.T) {
	root := t.TempDir()
	metaRoot := filepath.Join(root, "meta")
	dest := filepath.Join(root, "meta_errors")

	write := func(rel string, v interface{}) {
		path := filepath.Join(metaRoot, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		data, err := json.Marshal(v)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, data, 0o644))
	}
	write("a/ok.json", map[string]string{"status": "success"})
	write("a/err.json", map[string]string{"status": "error"})
	write("b/legacy.json", map[string]string{"error": "quota"})
	require.NoError(t, os.WriteFile(filepath.Join(metaRoot, "a", "broken.json"), []byte("{"), 0o644))

	moves, err := tracker.MoveErrorMeta(metaRoot, dest, true)
	require.NoError(t, err)
	assert.Len(t, moves, 2)
	assert.FileExists(t, filepath.Join(metaRoot, "a", "err.json"))

	moves, err = tracker.MoveErrorMeta(metaRoot, dest, false)
	require.NoError(t, err)
	assert.Len(t, moves, 2)
	assert.FileExists(t, filepath.Join(dest, "a", "err.json"))
	assert.FileExists(t, filepath.Join(dest, "b", "legacy.json"))
	assert.NoFileExists(t, filepath.Join(metaRoot, "a", "err.json"))
	assert.FileExists(t, filepath.Join(metaRoot, "a", "ok.json"))
}

func TestIsLegacyArtifact(t *testing.T) {
	assert.True(t, tracker.IsLegacyArtifact("batch_0007_ax.png"))
	assert.True(t, tracker.IsLegacyArtifact("BATCH_0007_ax.JSON"))
	assert.False(t, tracker.IsLegacyArtifact("batch_plan_0007_ax.png"))
	assert.False(t, tracker.IsLegacyArtifact("batch_2024_0007_ax.png"), "a four digit plan name is current naming")
	assert.False(t, tracker.IsLegacyArtifact("batch_0007_ax.txt"))
}

func TestRemoveLegacyArtifacts(t *testing.T) {
	root := t.TempDir()
	images := filepath.Join(root, "images")
	meta := filepath.Join(root, "meta")
	for _, rel := range []string{"images/ax/batch_0001_ax.png", "images/ax/batch_plan_0001_ax.png", "meta/ax/batch_0001_ax.json"} {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}

	found, err := tracker.RemoveLegacyArtifacts(true, images, meta, filepath.Join(root, "missing"))
	require.NoError(t, err)
	assert.Len(t, found, 2)
	assert.FileExists(t, filepath.Join(images, "ax", "batch_0001_ax.png"))

	found, err = tracker.RemoveLegacyArtifacts(false, images, meta)
	require.NoError(t, err)
	assert.Len(t, found, 2)
	assert.NoFileExists(t, filepath.Join(images, "ax", "batch_0001_ax.png"))
	assert.NoFileExists(t, filepath.Join(meta, "ax", "batch_0001_ax.json"))
	assert.FileExists(t, filepath.Join(images, "ax", "batch_plan_0001_ax.png"))
}
