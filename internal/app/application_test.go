package app_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/serendip/internal/app"
	usecase "github.com/tigerroll/serendip/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/serendip/pkg/batch/core/config"
	"github.com/tigerroll/serendip/pkg/batch/core/registry"
)

func newConfig(t *testing.T) *config.Config {
	t.Helper()
	profiles := t.TempDir()
	dir := filepath.Join(profiles, "demo")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	files := map[string]string{
		registry.AxisTemplatesFile: "axis_templates:\n  A:\n    template: \"Paint {COLOR} {SHAPE}\"\n",
		registry.VocabFile:         "vocab:\n  COLOR: [red, green, blue]\n  SHAPE: [circle, cube]\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	cfg := config.NewConfig()
	cfg.Serendip.ProfilesDir = profiles
	cfg.Serendip.Profile = "demo"
	cfg.Serendip.OutputDir = t.TempDir()
	cfg.Serendip.DryRun = true
	cfg.Serendip.Plan.TargetCount = 5
	seed := int64(11)
	cfg.Serendip.Plan.Seed = &seed
	return cfg
}

func TestExecuteFreezesPlan(t *testing.T) {
	cfg := newConfig(t)

	var planner usecase.Planner
	var count int
	err := app.Execute(context.Background(), cfg, func(ctx context.Context) error {
		items, err := planner.Ensure(ctx, "p1", usecase.EnsureOptions{})
		count = len(items)
		return err
	}, &planner)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
	assert.FileExists(t, cfg.PlanPath("p1"))
}

func TestExecuteReturnsBodyError(t *testing.T) {
	cfg := newConfig(t)
	boom := errors.New("boom")

	var explorer usecase.ManifestExplorer
	err := app.Execute(context.Background(), cfg, func(ctx context.Context) error {
		return boom
	}, &explorer)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestExecuteUnsupportedStorage(t *testing.T) {
	cfg := newConfig(t)
	cfg.Serendip.Storage.Type = "s3"

	var explorer usecase.ManifestExplorer
	err := app.Execute(context.Background(), cfg, func(ctx context.Context) error {
		t.Fatal("body must not run")
		return nil
	}, &explorer)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported storage type: s3")
}
