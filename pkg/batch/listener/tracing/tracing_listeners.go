package tracing

import (
	"context"
	"sync"

	port "github.com/tigerroll/swell/pkg/batch/core/application/port"
	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
	"github.com/tigerroll/swell/pkg/batch/core/metrics"
)

// TracingExecutionListener manages tracing spans for BatchExecution.
// Executions run concurrently, so the span registry is mutex guarded.
type TracingExecutionListener struct {
	tracer metrics.Tracer

	mu sync.Mutex
	// ExecutionID -> Span End Function
	executionSpanEndFuncs map[string]func()
}

func NewTracingExecutionListener(tracer metrics.Tracer) port.ExecutionListener {
	return &TracingExecutionListener{
		tracer:                tracer,
		executionSpanEndFuncs: make(map[string]func()),
	}
}

func (l *TracingExecutionListener) BeforeExecution(ctx context.Context, execution *model.BatchExecution) {
	// StartExecutionSpan returns a new context and an end function.
	_, endFunc := l.tracer.StartExecutionSpan(ctx, execution)
	l.mu.Lock()
	l.executionSpanEndFuncs[execution.ID] = endFunc
	l.mu.Unlock()
}

func (l *TracingExecutionListener) AfterExecution(ctx context.Context, execution *model.BatchExecution) {
	l.mu.Lock()
	endFunc, ok := l.executionSpanEndFuncs[execution.ID]
	if ok {
		delete(l.executionSpanEndFuncs, execution.ID)
	}
	l.mu.Unlock()
	if ok {
		endFunc()
	}
}

var _ port.ExecutionListener = (*TracingExecutionListener)(nil)
