package metrics

import (
	"context"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	config "github.com/tigerroll/swell/pkg/batch/core/config"
	exception "github.com/tigerroll/swell/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/swell/pkg/batch/support/util/logger"
)

const moduleExposition = "metrics_exposition"

// defaultListenAddr is the conventional Prometheus exporter port.
const defaultListenAddr = ":9464"

// RegisterExpositionServer serves the recorder's registry at /metrics when
// exposition is enabled. The listener is bound during OnStart so a port
// conflict fails application startup instead of a background goroutine.
func RegisterExpositionServer(lc fx.Lifecycle, cfg *config.Config, recorder *PrometheusRecorder) {
	if !cfg.Swell.Metrics.Enabled {
		logger.Debugf("Metrics: Exposition server is disabled.")
		return
	}

	addr := cfg.Swell.Metrics.ListenAddr
	if addr == "" {
		addr = defaultListenAddr
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(recorder.GetRegistry(), promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			listener, err := net.Listen("tcp", addr)
			if err != nil {
				return exception.NewBatchError(moduleExposition, "failed to bind metrics listen address "+addr, err, false, false)
			}
			go func() {
				if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
					logger.Errorf("Metrics: Exposition server terminated unexpectedly: %v", err)
				}
			}()
			logger.Infof("Metrics: Prometheus exposition listening on %s.", addr)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
}
