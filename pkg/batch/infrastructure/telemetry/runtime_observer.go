package telemetry

import (
	"context"
	"runtime"

	"go.opentelemetry.io/otel/metric"

	exception "github.com/tigerroll/swell/pkg/batch/support/util/exception"
)

// RegisterRuntimeObserver registers observable gauges for process runtime
// readings on the given meter provider. The readings complement the pipeline
// counters served by the Prometheus recorder; they are pushed over OTLP so a
// collector sees the process even when nothing scrapes the exposition endpoint.
func RegisterRuntimeObserver(provider metric.MeterProvider) error {
	meter := provider.Meter(scopeName)

	heapAlloc, err := meter.Int64ObservableGauge(
		"process.runtime.heap_alloc_bytes",
		metric.WithDescription("Bytes of allocated heap objects."),
		metric.WithUnit("By"),
	)
	if err != nil {
		return exception.NewBatchError(moduleTelemetry, "failed to create heap gauge", err, false, false)
	}
	goroutines, err := meter.Int64ObservableGauge(
		"process.runtime.goroutines",
		metric.WithDescription("Number of live goroutines."),
	)
	if err != nil {
		return exception.NewBatchError(moduleTelemetry, "failed to create goroutine gauge", err, false, false)
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, observer metric.Observer) error {
		var stats runtime.MemStats
		runtime.ReadMemStats(&stats)
		observer.ObserveInt64(heapAlloc, int64(stats.HeapAlloc))
		observer.ObserveInt64(goroutines, int64(runtime.NumGoroutine()))
		return nil
	}, heapAlloc, goroutines)
	if err != nil {
		return exception.NewBatchError(moduleTelemetry, "failed to register runtime callback", err, false, false)
	}
	return nil
}
