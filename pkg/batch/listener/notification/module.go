package notification

import (
	"go.uber.org/fx"
)

// Module provides notification-related listeners.
var Module = fx.Options(
	// 1. The concrete Notifier (logging or webhook, chosen by configuration) is
	//    provided by the infrastructure layer (pkg/batch/infrastructure/notification).

	// 2. Registers the adapters into their lifecycle listener groups.
	fx.Provide(fx.Annotate(NewNotificationExecutionListener, fx.ResultTags(`group:"execution_listeners"`))),
	fx.Provide(fx.Annotate(NewNotificationAlertListener, fx.ResultTags(`group:"alert_listeners"`))),
)
