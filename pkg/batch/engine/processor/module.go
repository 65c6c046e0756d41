package processor

import (
	"go.uber.org/fx"

	port "github.com/tigerroll/swell/pkg/batch/core/application/port"
	metrics "github.com/tigerroll/swell/pkg/batch/core/metrics"
)

// PartitionProcessorParams defines the dependencies for PartitionProcessor.
type PartitionProcessorParams struct {
	fx.In
	RuleSource       port.RuleSource
	Cipher           port.FieldCipher
	FailureListeners []port.RecordFailureListener `group:"record_failure_listeners"`
	Recorder         metrics.MetricRecorder
	Tracer           metrics.Tracer
}

// Module defines the Fx options for the partition processor.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		func(p PartitionProcessorParams) *PartitionProcessor {
			return NewPartitionProcessor(p.RuleSource, p.Cipher, p.FailureListeners, p.Recorder, p.Tracer)
		},
		fx.As(new(Processor)),
	)),
)
