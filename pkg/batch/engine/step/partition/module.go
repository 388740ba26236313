package partition

import (
	"go.uber.org/fx"

	"github.com/tigerroll/serendip/pkg/batch/component/step/writer"
	port "github.com/tigerroll/serendip/pkg/batch/core/application/port"
	config "github.com/tigerroll/serendip/pkg/batch/core/config"
	repository "github.com/tigerroll/serendip/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/serendip/pkg/batch/core/metrics"
	"github.com/tigerroll/serendip/pkg/batch/core/registry"
)

// OrchestratorParams defines the dependencies of the Orchestrator.
type OrchestratorParams struct {
	fx.In
	Config    *config.Config
	Batches   port.BatchService
	Files     port.FileService
	Decoder   port.ResponseDecoder
	Ledgers   repository.LedgerFactory
	Manifest  repository.ManifestRepository
	Artifacts *writer.ArtifactWriter
	Registry  *registry.Registry `optional:"true"`
	Metrics   metrics.MetricRecorder
	Tracer    metrics.Tracer
}

// ProvideOrchestrator builds the orchestrator from configuration.
func ProvideOrchestrator(p OrchestratorParams) *Orchestrator {
	sc := p.Config.Serendip
	return NewOrchestrator(Params{
		Options: Options{
			Profile:           sc.Profile,
			Model:             sc.Model,
			ImageSize:         sc.ImageConfig.ImageSize,
			ChunkSize:         sc.Batch.ChunkSize,
			StatusParallelism: sc.Batch.StatusParallelism,
			DisplayNamePrefix: sc.Batch.DisplayNamePrefix,
			BatchesDir:        p.Config.BatchesDir(),
			OutputsDir:        p.Config.BatchOutputsDir(),
		},
		Batches:   p.Batches,
		Files:     p.Files,
		Decoder:   p.Decoder,
		Ledgers:   p.Ledgers,
		Manifest:  p.Manifest,
		Artifacts: p.Artifacts,
		Registry:  p.Registry,
		Metrics:   p.Metrics,
		Tracer:    p.Tracer,
	})
}

// Module provides the batch Orchestrator.
var Module = fx.Options(
	fx.Provide(ProvideOrchestrator),
)
