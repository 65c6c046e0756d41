package audit

import (
	"go.uber.org/fx"

	port "github.com/tigerroll/swell/pkg/batch/core/application/port"
)

// Module provides the audit trail listener and registers the single instance
// into every lifecycle listener group it observes.
var Module = fx.Options(
	fx.Provide(NewAuditTrailListener),

	fx.Provide(fx.Annotate(
		func(l *AuditTrailListener) port.AdmitListener { return l },
		fx.ResultTags(`group:"admit_listeners"`),
	)),
	fx.Provide(fx.Annotate(
		func(l *AuditTrailListener) port.ExecutionListener { return l },
		fx.ResultTags(`group:"execution_listeners"`),
	)),
	fx.Provide(fx.Annotate(
		func(l *AuditTrailListener) port.PartitionListener { return l },
		fx.ResultTags(`group:"partition_listeners"`),
	)),
	fx.Provide(fx.Annotate(
		func(l *AuditTrailListener) port.RecordFailureListener { return l },
		fx.ResultTags(`group:"record_failure_listeners"`),
	)),
	fx.Provide(fx.Annotate(
		func(l *AuditTrailListener) port.MergeListener { return l },
		fx.ResultTags(`group:"merge_listeners"`),
	)),
	fx.Provide(fx.Annotate(
		func(l *AuditTrailListener) port.AlertListener { return l },
		fx.ResultTags(`group:"alert_listeners"`),
	)),
)
