package metrics

import (
	"go.uber.org/fx"
)

// Module decorates the MetricRecorder with the asynchronous wrapper.
// The synchronous recorder (PrometheusRecorder or the noop fallback) is
// provided elsewhere; engine components record through the decorated instance,
// so no listener registrations are needed here.
var Module = fx.Options(
	fx.Decorate(NewAsyncMetricRecorderWrapper),
)
