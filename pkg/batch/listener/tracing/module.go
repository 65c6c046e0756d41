package tracing

import (
	"go.uber.org/fx"
)

// Module provides tracing-related components.
var Module = fx.Options(
	// 1. Providing a concrete implementation of Tracer is delegated to the
	//    infrastructure layer (pkg/batch/infrastructure/telemetry).

	// 2. Execution spans open and close around the pipeline. Partition spans
	//    are opened by the partition processor itself, which needs the span
	//    context on its worker goroutines; no partition listener exists here.
	fx.Provide(fx.Annotate(NewTracingExecutionListener, fx.ResultTags(`group:"execution_listeners"`))),
)
