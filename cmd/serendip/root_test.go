package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProfile(t *testing.T) string {
	t.Helper()
	profiles := t.TempDir()
	dir := filepath.Join(profiles, "demo")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	files := map[string]string{
		"axis_templates.yaml": "axis_templates:\n  A:\n    template: \"Paint {COLOR}\"\n",
		"vocab.yaml":          "vocab:\n  COLOR: [red, green, blue, amber, teal]\n",
		"config.yaml":         "plan:\n  target_count: 3\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return profiles
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestPlanCommandFreezesPlan(t *testing.T) {
	profiles := writeProfile(t)
	outDir := t.TempDir()

	out, err := run(t, "plan", "--plan", "p1", "--seed", "7",
		"--profiles-dir", profiles, "--profile", "demo",
		"--env-file", filepath.Join(t.TempDir(), "missing.env"),
		"--set", "output_dir="+outDir, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "p1: 3 items")
	assert.FileExists(t, filepath.Join(outDir, "demo", "p1.jsonl"))
}

func TestRerunRequiresSelection(t *testing.T) {
	profiles := writeProfile(t)

	_, err := run(t, "plan", "rerun", "r1", "--source-plan", "p1",
		"--profiles-dir", profiles, "--profile", "demo",
		"--set", "output_dir="+t.TempDir(), "--dry-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--indices or --errors")
}

func TestInvalidOverrideFails(t *testing.T) {
	_, err := run(t, "plan", "--profiles-dir", writeProfile(t), "--profile", "demo",
		"--set", "retry=3")
	require.Error(t, err)
}

func TestManifestCleanLegacyRemovesOnlyWithYes(t *testing.T) {
	profiles := writeProfile(t)
	outDir := t.TempDir()
	legacy := filepath.Join(outDir, "demo", "images", "A", "batch_0003_A.png")
	current := filepath.Join(outDir, "demo", "images", "A", "batch_p1_0003_A.png")
	for _, path := range []string{legacy, current} {
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}
	args := []string{"manifest", "clean-legacy", "--profiles-dir", profiles, "--profile", "demo", "--set", "output_dir=" + outDir}

	out, err := run(t, args...)
	require.NoError(t, err)
	assert.Contains(t, out, "1 file(s); dry run")
	assert.FileExists(t, legacy)

	out, err = run(t, append(args, "--yes")...)
	require.NoError(t, err)
	assert.Contains(t, out, "removed 1 file(s)")
	assert.NoFileExists(t, legacy)
	assert.FileExists(t, current)
}

func TestFilesDeleteRequiresSelection(t *testing.T) {
	_, err := run(t, "files", "delete", "--profiles-dir", writeProfile(t), "--profile", "demo",
		"--set", "output_dir="+t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--older-than")
}
