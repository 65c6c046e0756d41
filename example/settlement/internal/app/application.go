package app

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/fx"

	archive "github.com/tigerroll/swell/pkg/batch/component/archive"
	usecase "github.com/tigerroll/swell/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/swell/pkg/batch/core/config"
	"github.com/tigerroll/swell/pkg/batch/core/config/bootstrap"
	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
	monitor "github.com/tigerroll/swell/pkg/batch/engine/monitor"
	inframetrics "github.com/tigerroll/swell/pkg/batch/infrastructure/metrics"
	notification "github.com/tigerroll/swell/pkg/batch/infrastructure/notification"
	telemetry "github.com/tigerroll/swell/pkg/batch/infrastructure/telemetry"
	batchlistener "github.com/tigerroll/swell/pkg/batch/listener"
	logger "github.com/tigerroll/swell/pkg/batch/support/util/logger"
)

// RunApplication sets up and runs the settlement batch application using uber-fx.
// The submission and the store stack (database-backed or in-memory) are chosen
// by main; everything else is resolved through the Fx graph.
func RunApplication(appCtx context.Context, envFilePath string, embeddedConfig config.EmbeddedConfig, rulebookBytes []byte, submission usecase.Submission, storeOptions []fx.Option, doneChan chan struct{}) {
	app := fx.New(
		fx.Supply(
			embeddedConfig,
			submission,
			fx.Annotate(envFilePath, fx.ResultTags(`name:"envFilePath"`)),
			fx.Annotate(rulebookBytes, fx.ResultTags(`name:"rulebookBytes"`)),
			fx.Annotate(
				appCtx,
				fx.As(new(context.Context)),
				fx.ResultTags(`name:"appCtx"`),
			),
		),
		fx.Provide(config.NewConfigProvider),
		fx.Provide(func() chan struct{} { return doneChan }),

		fx.Options(storeOptions...),
		logger.Module,

		inframetrics.Module,
		telemetry.Module,
		notification.Module,
		batchlistener.Module,
		archive.Module,

		Module,
		bootstrap.Module,

		// Start the main application logic
		fx.Invoke(fx.Annotate(startSettlementRun, fx.ParamTags(
			"",              // lc fx.Lifecycle
			"",              // shutdowner fx.Shutdowner
			"",              // launcher usecase.BatchLauncher
			"",              // operator usecase.ExecutionOperator
			"",              // explorer usecase.ExecutionExplorer
			"",              // perfMonitor monitor.PerformanceMonitor
			"",              // submission usecase.Submission
			"",              // doneChan chan struct{}
			`name:"appCtx"`, // appCtx context.Context
		))),
	)

	// Execute the application
	app.Run()

	if app.Err() != nil {
		logger.Fatalf("Application run failed: %v", app.Err())
	}
}

// startSettlementRun is invoked by Fx to submit the settlement feed once the
// engine is up.
func startSettlementRun(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	launcher usecase.BatchLauncher,
	operator usecase.ExecutionOperator,
	explorer usecase.ExecutionExplorer,
	perfMonitor monitor.PerformanceMonitor,
	submission usecase.Submission,
	doneChan chan struct{},
	appCtx context.Context,
) {
	lc.Append(fx.Hook{
		OnStart: onStartSettlementRun(shutdowner, launcher, operator, explorer, perfMonitor, submission, doneChan, appCtx),
		OnStop:  onStopApplication(),
	})
}

// onStartSettlementRun submits the feed, waits for the spawned execution to
// reach a terminal state, reports on it and finally replays the identical
// submission to show the idempotency gate serving the cached summary.
func onStartSettlementRun(
	shutdowner fx.Shutdowner,
	launcher usecase.BatchLauncher,
	operator usecase.ExecutionOperator,
	explorer usecase.ExecutionExplorer,
	perfMonitor monitor.PerformanceMonitor,
	submission usecase.Submission,
	doneChan chan struct{},
	appCtx context.Context,
) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("Panic recovered in settlement run: %v", r)
				}
				logger.Infof("Requesting application shutdown after settlement run.")
				if err := shutdowner.Shutdown(); err != nil {
					logger.Errorf("Failed to shutdown application: %v", err)
				}
			}()

			result, err := launcher.Submit(appCtx, submission)
			if err != nil {
				logger.Errorf("Failed to submit settlement feed: %v", err)
				return
			}

			switch result.Decision.Verdict {
			case model.AdmitProceed:
				execution := result.Execution
				logger.Infof("Settlement feed admitted. Job: %s, Execution ID: %s, Records: %d", execution.JobName, execution.ID, len(submission.Records))
				waitForCompletion(appCtx, operator, execution.ID, doneChan)
				printExecutionReport(context.WithoutCancel(appCtx), explorer, perfMonitor, execution.ID)
				replaySubmission(context.WithoutCancel(appCtx), launcher, explorer, submission, execution.ID)
			case model.AdmitCached:
				logger.Infof("Settlement feed was already processed. Cached summary: %s", string(result.Decision.CachedResult))
			case model.AdmitRejectInProgress:
				logger.Warnf("Settlement feed is currently being processed by another run. Nothing to do.")
			case model.AdmitRejectMaxRetries:
				logger.Errorf("Settlement feed has exhausted its retry budget. Manual intervention required.")
			}
		}()
		return nil
	}
}

// waitForCompletion blocks until the execution reaches a terminal state. On
// context cancellation it requests a stop and keeps waiting until the terminal
// bookkeeping has landed.
func waitForCompletion(appCtx context.Context, operator usecase.ExecutionOperator, executionID string, doneChan chan struct{}) {
	select {
	case <-doneChan:
	case <-appCtx.Done():
		logger.Warnf("Application context cancelled. Requesting stop for execution '%s'.", executionID)
		if err := operator.Stop(context.WithoutCancel(appCtx), executionID); err != nil {
			logger.Errorf("Failed to request stop for execution '%s': %v", executionID, err)
		}
		select {
		case <-doneChan:
		case <-time.After(30 * time.Second):
			logger.Errorf("Timed out waiting for execution '%s' to stop.", executionID)
		}
	}
}

// printExecutionReport logs the terminal state, audit trail, a sample of the
// staged output and a dashboard snapshot for a finished execution.
func printExecutionReport(ctx context.Context, explorer usecase.ExecutionExplorer, perfMonitor monitor.PerformanceMonitor, executionID string) {
	execution, err := explorer.GetExecution(ctx, executionID)
	if err != nil {
		logger.Errorf("Failed to fetch execution '%s': %v", executionID, err)
		return
	}
	logger.Infof("Execution '%s' finished. Status: %s, ExitStatus: %s", execution.ID, execution.Status, execution.ExitStatus)
	for _, failure := range execution.Failures {
		logger.Warnf("  failure: %s", failure)
	}

	trail, err := explorer.GetAuditTrail(ctx, executionID)
	if err != nil {
		logger.Errorf("Failed to fetch audit trail for execution '%s': %v", executionID, err)
	} else {
		logger.Infof("Audit trail (%d events):", len(trail))
		for _, event := range trail {
			logger.Infof("  %s %-19s success=%t", event.Timestamp.Format(time.RFC3339), event.EventType, event.Success)
		}
	}

	staged, err := explorer.GetStagingRecords(ctx, executionID, 1, 3)
	if err != nil {
		logger.Errorf("Failed to fetch staged records for execution '%s': %v", executionID, err)
	} else {
		for _, record := range staged {
			payload, _ := json.Marshal(record.Payload)
			logger.Infof("  staged seq=%d type=%s record=%s payload=%s", record.SequenceNumber, record.TransactionTypeID, record.RecordID, payload)
		}
	}

	snapshot := perfMonitor.Dashboard()
	logger.Infof("Dashboard: processed=%d failed=%d successRate=%.1f%% throughput=%.1f/min heapAlloc=%dMiB goroutines=%d",
		snapshot.Business.ProcessedTotal,
		snapshot.Business.FailedTotal,
		snapshot.Business.SuccessRatePct,
		snapshot.Business.ThroughputPerMin,
		snapshot.System.HeapAllocBytes/(1<<20),
		snapshot.System.NumGoroutine,
	)
	for _, alert := range snapshot.ActiveAlerts {
		logger.Warnf("  active alert: [%s] %s", alert.Severity, alert.Message)
	}
}

// replaySubmission submits the identical feed again. A completed first run
// must yield a CACHED verdict carrying the stored execution summary.
func replaySubmission(ctx context.Context, launcher usecase.BatchLauncher, explorer usecase.ExecutionExplorer, submission usecase.Submission, executionID string) {
	execution, err := explorer.GetExecution(ctx, executionID)
	if err != nil || execution.Status != model.BatchStatusCompleted {
		return
	}

	replay, err := launcher.Submit(ctx, submission)
	if err != nil {
		logger.Errorf("Failed to resubmit settlement feed: %v", err)
		return
	}
	if replay.Decision.Verdict != model.AdmitCached {
		logger.Warnf("Replay expected a cached verdict but got '%s'.", replay.Decision.Verdict)
		return
	}

	var summary usecase.ExecutionSummary
	if err := json.Unmarshal(replay.Decision.CachedResult, &summary); err != nil {
		logger.Errorf("Failed to decode cached summary: %v", err)
		return
	}
	logger.Infof("Replay deduplicated against execution '%s'. Cached ExitStatus: %s, staged records: %d.", summary.ExecutionID, summary.ExitStatus, summary.StagedRecords)
}

// onStopApplication is an Fx hook helper that logs application shutdown.
func onStopApplication() func(ctx context.Context) error {
	return func(ctx context.Context) error {
		logger.Infof("Application is shutting down.")
		return nil
	}
}
