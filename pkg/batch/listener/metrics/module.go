package metrics

import (
	"go.uber.org/fx"

	port "github.com/tigerroll/serendip/pkg/batch/core/application/port"
)

// Module wraps the configured MetricRecorder asynchronously and contributes
// the run duration listener.
var Module = fx.Options(
	// fx.Decorate replaces the MetricRecorder provided by infrastructure/metrics.
	fx.Decorate(NewAsyncMetricRecorderWrapper),
	fx.Provide(fx.Annotate(
		NewMetricsRunListener,
		fx.As(new(port.RunListener)),
		fx.ResultTags(`group:"runListeners"`),
	)),
)
