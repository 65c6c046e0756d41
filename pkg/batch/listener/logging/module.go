package logging

import (
	"go.uber.org/fx"
)

// Module registers one logging listener into each lifecycle listener group.
var Module = fx.Options(
	fx.Provide(fx.Annotate(NewLoggingAdmitListener, fx.ResultTags(`group:"admit_listeners"`))),
	fx.Provide(fx.Annotate(NewLoggingExecutionListener, fx.ResultTags(`group:"execution_listeners"`))),
	fx.Provide(fx.Annotate(NewLoggingPartitionListener, fx.ResultTags(`group:"partition_listeners"`))),
	fx.Provide(fx.Annotate(NewLoggingRecordFailureListener, fx.ResultTags(`group:"record_failure_listeners"`))),
	fx.Provide(fx.Annotate(NewLoggingMergeListener, fx.ResultTags(`group:"merge_listeners"`))),
	fx.Provide(fx.Annotate(NewLoggingAlertListener, fx.ResultTags(`group:"alert_listeners"`))),
)
