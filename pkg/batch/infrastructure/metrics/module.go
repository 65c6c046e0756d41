package metrics

import (
	"go.uber.org/fx"

	metrics "github.com/tigerroll/swell/pkg/batch/core/metrics"
)

// Module is an Fx module that provides PrometheusRecorder and its exposition server.
//
// The concrete type stays available so the exposition server can reach the
// registry; the engine depends only on the metrics.MetricRecorder binding,
// which the listener layer may decorate with an asynchronous wrapper.
var Module = fx.Options(
	fx.Provide(NewPrometheusRecorder),
	fx.Provide(func(r *PrometheusRecorder) metrics.MetricRecorder { return r }),
	fx.Invoke(RegisterExpositionServer),
)
