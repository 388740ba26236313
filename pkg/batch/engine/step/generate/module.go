package generate

import (
	"go.uber.org/fx"

	"github.com/tigerroll/serendip/pkg/batch/component/step/writer"
	port "github.com/tigerroll/serendip/pkg/batch/core/application/port"
	config "github.com/tigerroll/serendip/pkg/batch/core/config"
	repository "github.com/tigerroll/serendip/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/serendip/pkg/batch/core/metrics"
	"github.com/tigerroll/serendip/pkg/batch/core/registry"
	"github.com/tigerroll/serendip/pkg/batch/engine/step/retry"
)

// ExecutorParams defines the dependencies of the Executor.
type ExecutorParams struct {
	fx.In
	Config    *config.Config
	Generator port.ImageGenerator
	Manifest  repository.ManifestRepository
	Artifacts *writer.ArtifactWriter
	Registry  *registry.Registry `optional:"true"`
	Listeners []port.ItemListener `group:"itemListeners"`
	Metrics   metrics.MetricRecorder
	Tracer    metrics.Tracer
}

// ProvideExecutor builds the synchronous executor from configuration.
func ProvideExecutor(p ExecutorParams) *Executor {
	sc := p.Config.Serendip
	return NewExecutor(Params{
		Options: Options{
			Model:        sc.Model,
			ImageSize:    sc.ImageConfig.ImageSize,
			SaveThoughts: sc.SaveThoughts,
			DryRun:       sc.DryRun,
		},
		Generator: p.Generator,
		Manifest:  p.Manifest,
		Artifacts: p.Artifacts,
		Registry:  p.Registry,
		Policy:    retry.NewPolicy(sc.Retry),
		Listeners: p.Listeners,
		Metrics:   p.Metrics,
		Tracer:    p.Tracer,
	})
}

// Module provides the synchronous Executor.
var Module = fx.Options(
	fx.Provide(ProvideExecutor),
)
