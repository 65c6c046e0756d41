package monitor

import (
	"context"

	"go.uber.org/fx"

	port "github.com/tigerroll/swell/pkg/batch/core/application/port"
	config "github.com/tigerroll/swell/pkg/batch/core/config"
	metrics "github.com/tigerroll/swell/pkg/batch/core/metrics"
)

// PerformanceMonitorParams defines the dependencies for DefaultPerformanceMonitor.
type PerformanceMonitorParams struct {
	fx.In
	Lifecycle      fx.Lifecycle
	Cfg            *config.Config
	AlertListeners []port.AlertListener `group:"alert_listeners"`
	Recorder       metrics.MetricRecorder
}

// NewFxPerformanceMonitor builds the monitor; its worker starts immediately
// and is drained and stopped on application shutdown.
func NewFxPerformanceMonitor(p PerformanceMonitorParams) *DefaultPerformanceMonitor {
	monitor := NewDefaultPerformanceMonitor(p.Cfg, p.AlertListeners, p.Recorder)
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			monitor.Close()
			return nil
		},
	})
	return monitor
}

// Module defines the Fx options for the performance monitor.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewFxPerformanceMonitor,
		fx.As(new(PerformanceMonitor)),
	)),
)
