package bootstrap_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"

	"github.com/tigerroll/swell/pkg/batch/adapter/database"
	"github.com/tigerroll/swell/pkg/batch/component/migration"
	"github.com/tigerroll/swell/pkg/batch/component/migration/filesystem"
	"github.com/tigerroll/swell/pkg/batch/component/rulebook"
	coreAdapter "github.com/tigerroll/swell/pkg/batch/core/adapter"
	config "github.com/tigerroll/swell/pkg/batch/core/config"
	"github.com/tigerroll/swell/pkg/batch/core/config/bootstrap"
	"github.com/tigerroll/swell/pkg/batch/support/util/logger"
)

const warmupRulebook = `
version: v1
transactionTypes:
  - transactionType: WIRE
    processingOrder: 1
    active: true
`

func TestApplyLoggingConfigHookSetsLevel(t *testing.T) {
	t.Cleanup(func() { logger.SetLogLevel("INFO") })

	cfg := config.NewConfig()
	cfg.Swell.System.Logging.Level = "DEBUG"

	bootstrap.ApplyLoggingConfigHook(cfg)
	assert.True(t, logger.IsDebugEnabled())
}

func TestApplyLoggingConfigHookKeepsLevelWhenUnset(t *testing.T) {
	t.Cleanup(func() { logger.SetLogLevel("INFO") })
	logger.SetLogLevel("DEBUG")

	cfg := config.NewConfig()
	cfg.Swell.System.Logging.Level = ""

	bootstrap.ApplyLoggingConfigHook(cfg)
	assert.True(t, logger.IsDebugEnabled())
}

func TestWarmRulebookHookLoadsAtStartup(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	bootstrap.WarmRulebookHook(lc, rulebook.NewYAMLRuleSource([]byte(warmupRulebook)))
	lc.RequireStart().RequireStop()
}

func TestWarmRulebookHookFailsStartupOnBrokenRulebook(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	bootstrap.WarmRulebookHook(lc, rulebook.NewYAMLRuleSource(nil))

	err := lc.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rulebook document is empty")
}

// brokenResolver refuses every connection with a fixed error.
type brokenResolver struct {
	err error
}

func (r brokenResolver) ResolveConnection(ctx context.Context, name string) (coreAdapter.ResourceConnection, error) {
	return nil, r.err
}

func (r brokenResolver) ResolveConnectionName(ctx context.Context, execution interface{}, partition interface{}, defaultName string) (string, error) {
	return defaultName, nil
}

func (r brokenResolver) ResolveDBConnection(ctx context.Context, name string) (database.DBConnection, error) {
	return nil, r.err
}

func (r brokenResolver) ResolveDBConnectionName(ctx context.Context, execution interface{}, partition interface{}, defaultName string) (string, error) {
	return defaultName, nil
}

func TestRunStoreMigrationsHookRunsAtStartup(t *testing.T) {
	errStore := errors.New("store unreachable")
	cfg := config.NewConfig()
	cfg.Swell.Infrastructure.StoreDBRef = "metadata"

	runner := migration.NewEngineSchemaRunner(migration.EngineSchemaRunnerParams{
		Cfg:      cfg,
		Resolver: brokenResolver{err: errStore},
		EngineFS: filesystem.ProvideEngineMigrationsFS(),
	})

	lc := fxtest.NewLifecycle(t)
	bootstrap.RunStoreMigrationsHook(lc, runner)

	err := lc.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errStore)
}

func TestRunStoreMigrationsHookSkipsWithoutStoreRef(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Swell.Infrastructure.StoreDBRef = ""

	runner := migration.NewEngineSchemaRunner(migration.EngineSchemaRunnerParams{
		Cfg:      cfg,
		Resolver: brokenResolver{err: errors.New("must not be used")},
		EngineFS: filesystem.ProvideEngineMigrationsFS(),
	})

	lc := fxtest.NewLifecycle(t)
	bootstrap.RunStoreMigrationsHook(lc, runner)
	lc.RequireStart().RequireStop()
}
