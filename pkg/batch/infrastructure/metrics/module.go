package metrics

import (
	"context"

	"go.uber.org/fx"

	config "github.com/tigerroll/serendip/pkg/batch/core/config"
	metrics "github.com/tigerroll/serendip/pkg/batch/core/metrics"
	logger "github.com/tigerroll/serendip/pkg/batch/support/util/logger"
)

// ProvideMetricRecorder selects the recorder from configuration. Disabled
// metrics get the no-op recorder.
func ProvideMetricRecorder(lc fx.Lifecycle, cfg *config.Config) (metrics.MetricRecorder, error) {
	mc := cfg.Serendip.Metrics
	if !mc.Enabled {
		return metrics.NewNoOpMetricRecorder(), nil
	}
	switch mc.Exporter {
	case "otlp":
		provider, err := NewMeterProvider(context.Background(), mc.OTLP, cfg.Serendip.Tracing.ServiceName)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{OnStop: provider.Shutdown})
		return NewOTelRecorder(provider.Meter("github.com/tigerroll/serendip"))
	default:
		recorder := NewPrometheusRecorder()
		if mc.Textfile != "" {
			lc.Append(fx.Hook{
				OnStop: func(ctx context.Context) error {
					return recorder.WriteTextfile(mc.Textfile)
				},
			})
		}
		return recorder, nil
	}
}

// ProvideTracer selects the tracer from configuration.
func ProvideTracer(lc fx.Lifecycle, cfg *config.Config) (metrics.Tracer, error) {
	tc := cfg.Serendip.Tracing
	if !tc.Enabled {
		return metrics.NewNoOpTracer(), nil
	}
	provider, err := NewTracerProvider(context.Background(), tc)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Debugf("Tracer: flushing spans.")
			return provider.Shutdown(ctx)
		},
	})
	return NewOpenTelemetryTracer(provider), nil
}

// Module provides the configured MetricRecorder and Tracer.
var Module = fx.Options(
	fx.Provide(ProvideMetricRecorder),
	fx.Provide(ProvideTracer),
)
