package listener

import (
	"github.com/tigerroll/swell/pkg/batch/listener/audit"
	"github.com/tigerroll/swell/pkg/batch/listener/logging"
	"github.com/tigerroll/swell/pkg/batch/listener/metrics"
	"github.com/tigerroll/swell/pkg/batch/listener/notification"
	"github.com/tigerroll/swell/pkg/batch/listener/tracing"

	"go.uber.org/fx"
)

// Module aggregates all listener modules of the batch engine.
var Module = fx.Options(
	logging.Module,
	metrics.Module,
	tracing.Module,
	notification.Module,
	audit.Module,
)
