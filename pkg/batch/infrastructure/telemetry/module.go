package telemetry

import (
	"context"

	"go.uber.org/fx"

	config "github.com/tigerroll/swell/pkg/batch/core/config"
	metrics "github.com/tigerroll/swell/pkg/batch/core/metrics"
	logger "github.com/tigerroll/swell/pkg/batch/support/util/logger"
)

// NewFxTracer builds the engine tracer. With telemetry disabled it falls back
// to the noop tracer so span plumbing stays in place at zero cost.
func NewFxTracer(lc fx.Lifecycle, cfg *config.Config) (metrics.Tracer, error) {
	if !cfg.Swell.Telemetry.Enabled {
		logger.Debugf("Telemetry: OpenTelemetry is disabled; using noop tracer.")
		return metrics.NewNoOpTracer(), nil
	}

	providers, err := NewProviders(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	if err := RegisterRuntimeObserver(providers.MeterProvider); err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Debugf("Telemetry: Shutting down OpenTelemetry providers.")
			return providers.Shutdown(ctx)
		},
	})

	logger.Infof("Telemetry: OTLP export enabled via %s to '%s'.", cfg.Swell.Telemetry.Protocol, cfg.Swell.Telemetry.Endpoint)
	return NewOpenTelemetryTracer(providers.TracerProvider), nil
}

// Module is an Fx module that provides the OpenTelemetry tracer.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewFxTracer,
		fx.As(new(metrics.Tracer)),
	)),
)
