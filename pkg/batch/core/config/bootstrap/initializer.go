package bootstrap

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/swell/pkg/batch/component/migration"
	port "github.com/tigerroll/swell/pkg/batch/core/application/port"
	config "github.com/tigerroll/swell/pkg/batch/core/config"
	"github.com/tigerroll/swell/pkg/batch/support/util/logger"
)

// ApplyLoggingConfigHook applies the logging level based on the configuration.
func ApplyLoggingConfigHook(cfg *config.Config) {
	if cfg.Swell.System.Logging.Level != "" {
		logger.SetLogLevel(cfg.Swell.System.Logging.Level)
		logger.Infof("Log level set to: %s", cfg.Swell.System.Logging.Level)
	}
}

// RunStoreMigrationsHook registers an Fx lifecycle hook that applies the
// engine store schema at application startup, before submissions are accepted.
func RunStoreMigrationsHook(lc fx.Lifecycle, runner *migration.EngineSchemaRunner) {
	lc.Append(fx.Hook{
		OnStart: runner.Run,
	})
}

// WarmRulebookHook registers an Fx lifecycle hook that compiles the rulebook
// during startup, so a broken rulebook fails the application instead of the
// first admitted submission.
func WarmRulebookHook(lc fx.Lifecycle, source port.RuleSource) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ruleSet, err := source.Load(ctx)
			if err != nil {
				return err
			}
			logger.Infof("Rulebook revision %s loaded.", ruleSet.Version())
			return nil
		},
	})
}
