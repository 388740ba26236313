package usecase

import (
	"go.uber.org/fx"

	storage "github.com/tigerroll/serendip/pkg/batch/adapter/storage"
	port "github.com/tigerroll/serendip/pkg/batch/core/application/port"
	config "github.com/tigerroll/serendip/pkg/batch/core/config"
	repository "github.com/tigerroll/serendip/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/serendip/pkg/batch/core/metrics"
	"github.com/tigerroll/serendip/pkg/batch/core/registry"
	"github.com/tigerroll/serendip/pkg/batch/engine/step/generate"
	"github.com/tigerroll/serendip/pkg/batch/engine/step/partition"
)

// RegistryLoader loads the profile registry on demand.
type RegistryLoader func() (*registry.Registry, error)

type runParams struct {
	fx.In
	Planner   Planner
	Executor  *generate.Executor
	Manifest  repository.ManifestRepository
	Store     storage.ArtifactStore
	Listeners []port.RunListener `group:"runListeners"`
	Tracer    metrics.Tracer
}

type batchParams struct {
	fx.In
	Planner      Planner
	Orchestrator *partition.Orchestrator
	Manifest     repository.ManifestRepository
	Store        storage.ArtifactStore
	Listeners    []port.RunListener `group:"runListeners"`
	Tracer       metrics.Tracer
}

// Module is the Fx module for the Planner, RunLauncher, BatchOperator,
// ManifestExplorer and RemoteFileManager.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		func(cfg *config.Config, load RegistryLoader, manifest repository.ManifestRepository) *DefaultPlanner {
			return NewDefaultPlanner(cfg, load, manifest)
		},
		fx.As(new(Planner)),
	)),
	fx.Provide(fx.Annotate(
		func(p runParams) *SimpleRunLauncher {
			return NewSimpleRunLauncher(p.Planner, p.Executor, p.Manifest, p.Store, p.Listeners, p.Tracer)
		},
		fx.As(new(RunLauncher)),
	)),
	fx.Provide(fx.Annotate(
		func(p batchParams) *DefaultBatchOperator {
			return NewDefaultBatchOperator(p.Planner, p.Orchestrator, p.Manifest, p.Store, p.Listeners, p.Tracer)
		},
		fx.As(new(BatchOperator)),
	)),
	fx.Provide(fx.Annotate(
		func(planner Planner, manifest repository.ManifestRepository, store storage.ArtifactStore) *SimpleManifestExplorer {
			return NewSimpleManifestExplorer(planner, manifest, store)
		},
		fx.As(new(ManifestExplorer)),
	)),
	fx.Provide(fx.Annotate(
		func(orchestrator *partition.Orchestrator, tracer metrics.Tracer) *DefaultRemoteFileManager {
			return NewDefaultRemoteFileManager(orchestrator, tracer)
		},
		fx.As(new(RemoteFileManager)),
	)),
)
