package usecase

import (
	"context"
	"path/filepath"
	"sort"

	storage "github.com/tigerroll/serendip/pkg/batch/adapter/storage"
	"github.com/tigerroll/serendip/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/serendip/pkg/batch/component/step/writer"
	model "github.com/tigerroll/serendip/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/serendip/pkg/batch/core/domain/repository"
	"github.com/tigerroll/serendip/pkg/batch/engine/plan"
	"github.com/tigerroll/serendip/pkg/batch/engine/tracker"
	logger "github.com/tigerroll/serendip/pkg/batch/support/util/logger"
)

// CleanResult is the outcome of a manifest compaction.
type CleanResult struct {
	Stats   tracker.CompactStats
	Applied bool
	// Backup is the renamed original manifest when Applied.
	Backup string
}

// SimpleManifestExplorer implements ManifestExplorer.
type SimpleManifestExplorer struct {
	planner  Planner
	manifest repository.ManifestRepository
	store    storage.StorageExecutor
}

// NewSimpleManifestExplorer creates a new SimpleManifestExplorer.
func NewSimpleManifestExplorer(planner Planner, manifest repository.ManifestRepository, store storage.StorageExecutor) *SimpleManifestExplorer {
	return &SimpleManifestExplorer{planner: planner, manifest: manifest, store: store}
}

// Clean implements ManifestExplorer. Axes of frozen plans that cannot be
// loaded are left out of the scoring.
func (e *SimpleManifestExplorer) Clean(ctx context.Context, plans []string, apply bool) (*CleanResult, error) {
	records, err := e.manifest.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	axes := tracker.PlanAxes{}
	for _, name := range planNames(records, plans) {
		items, err := e.planner.Load(ctx, name)
		if err != nil {
			logger.Warnf("Plan %s not loaded for compaction scoring: %v", name, err)
			continue
		}
		byIndex := make(map[int]string, len(items))
		for _, it := range items {
			byIndex[it.Index] = it.AxisID
		}
		axes[name] = byIndex
	}

	kept, stats := tracker.Compact(records, plans, axes, tracker.StoreExists(ctx, e.store))
	res := &CleanResult{Stats: stats}
	if !apply {
		return res, nil
	}
	res.Backup, err = e.manifest.Rewrite(ctx, kept)
	if err != nil {
		return nil, err
	}
	res.Applied = true
	logger.Infof("Compacted manifest: %d -> %d records (backup %s).", stats.Input, stats.Kept, res.Backup)
	return res, nil
}

// ExportParquet implements ManifestExplorer.
func (e *SimpleManifestExplorer) ExportParquet(ctx context.Context, path string) (int, error) {
	records, err := e.manifest.LoadAll(ctx)
	if err != nil {
		return 0, err
	}
	latest := tracker.Latest(records)
	out := make([]model.ManifestRecord, 0, len(latest))
	for _, rec := range latest {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PlanName != out[j].PlanName {
			return out[i].PlanName < out[j].PlanName
		}
		return out[i].Index < out[j].Index
	})

	dest, err := local.NewLocalAdapter(filepath.Dir(path))
	if err != nil {
		return 0, err
	}
	defer dest.Close()
	w, err := writer.NewParquetManifestWriter(dest, "")
	if err != nil {
		return 0, err
	}
	if err := w.Export(ctx, filepath.Base(path), out); err != nil {
		return 0, err
	}
	return len(out), nil
}

// Bias implements ManifestExplorer.
func (e *SimpleManifestExplorer) Bias(ctx context.Context, planName string, topN int) (plan.BiasReport, error) {
	items, err := e.planner.Load(ctx, planName)
	if err != nil {
		return plan.BiasReport{}, err
	}
	return plan.Bias(items, topN), nil
}

// Overlap implements ManifestExplorer.
func (e *SimpleManifestExplorer) Overlap(ctx context.Context, planA, planB string) (plan.OverlapReport, error) {
	a, err := e.planner.Load(ctx, planA)
	if err != nil {
		return plan.OverlapReport{}, err
	}
	b, err := e.planner.Load(ctx, planB)
	if err != nil {
		return plan.OverlapReport{}, err
	}
	return plan.Overlap(a, b), nil
}

// planNames returns the selected plans, or every plan named in the log.
func planNames(records []model.ManifestRecord, selected []string) []string {
	if len(selected) > 0 {
		return selected
	}
	seen := map[string]bool{}
	var names []string
	for _, rec := range records {
		if !seen[rec.PlanName] {
			seen[rec.PlanName] = true
			names = append(names, rec.PlanName)
		}
	}
	return names
}

var _ ManifestExplorer = (*SimpleManifestExplorer)(nil)
