// Package usecase holds the application services behind the CLI commands:
// freezing plans, launching synchronous runs, operating batch jobs and
// maintaining the manifest.
package usecase

import (
	"context"

	port "github.com/tigerroll/serendip/pkg/batch/core/application/port"
	model "github.com/tigerroll/serendip/pkg/batch/core/domain/model"
	"github.com/tigerroll/serendip/pkg/batch/engine/plan"
	"github.com/tigerroll/serendip/pkg/batch/engine/step/partition"
)

// Planner freezes and loads plans.
type Planner interface {
	// Load returns a frozen plan. It never generates one.
	Load(ctx context.Context, planName string) ([]model.PlanItem, error)

	// Ensure returns the frozen plan, generating and freezing it first when it
	// does not exist or regenerate is set.
	Ensure(ctx context.Context, planName string, opts EnsureOptions) ([]model.PlanItem, error)

	// FreezeRerun writes a rerun plan over indices of sourcePlan. errorsOnly
	// selects the indices whose latest record is an error instead.
	FreezeRerun(ctx context.Context, planName, sourcePlan string, indices []int, errorsOnly bool) ([]model.PlanItem, error)
}

// RunLauncher runs plan items synchronously.
type RunLauncher interface {
	// Launch executes the filtered plan and returns the run summary.
	Launch(ctx context.Context, planName string, filter plan.Filter) (model.RunSummary, error)
}

// BatchOperator drives the asynchronous batch path of a plan.
type BatchOperator interface {
	Submit(ctx context.Context, planName string, filter plan.Filter, opts partition.SubmitOptions) (*partition.SubmitResult, error)
	Status(ctx context.Context, planName string) (*partition.StatusReport, error)
	Collect(ctx context.Context, planName string) (*partition.CollectResult, error)
	Rehydrate(ctx context.Context, planName string, overwrite bool) (*partition.ReconcileStats, error)
}

// ManifestExplorer queries and maintains the manifest and plan artifacts.
type ManifestExplorer interface {
	// Clean compacts the manifest. Without apply only the statistics are computed.
	Clean(ctx context.Context, plans []string, apply bool) (*CleanResult, error)
	// ExportParquet writes the latest record per key to a Parquet file.
	ExportParquet(ctx context.Context, path string) (int, error)
	// Bias reports the sampling distribution of a frozen plan.
	Bias(ctx context.Context, planName string, topN int) (plan.BiasReport, error)
	// Overlap reports the dedupe keys shared by two frozen plans.
	Overlap(ctx context.Context, planA, planB string) (plan.OverlapReport, error)
}

// RemoteFileManager lists and deletes files held by the remote service.
type RemoteFileManager interface {
	List(ctx context.Context) ([]port.RemoteFile, error)
	// Delete removes the selected files. Without apply only the candidates are returned.
	Delete(ctx context.Context, sel partition.FileSelector, apply bool) (*partition.FileCleanup, error)
	// Purge removes every file the profile's uploads and ledgers own.
	Purge(ctx context.Context, apply bool) (*partition.FileCleanup, error)
}
