package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbconfig "github.com/tigerroll/swell/pkg/batch/adapter/database/config"
)

func TestDecodeReadsYamlTagNames(t *testing.T) {
	raw := map[string]interface{}{
		"type":     "postgres",
		"host":     "db.internal",
		"port":     5432,
		"database": "swell",
		"user":     "engine",
		"password": "secret",
		"sslmode":  "disable",
		"pool": map[string]interface{}{
			"max_open_conns":            25,
			"max_idle_conns":            5,
			"conn_max_lifetime_minutes": 30,
		},
	}

	cfg, err := dbconfig.Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Type)
	assert.Equal(t, "db.internal", cfg.Host)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "swell", cfg.Database)
	assert.Equal(t, 25, cfg.Pool.MaxOpenConns)
	assert.Equal(t, 5, cfg.Pool.MaxIdleConns)
	assert.Equal(t, 30, cfg.Pool.ConnMaxLifetimeMinutes)
}

func TestDecodeAcceptsStringNumbers(t *testing.T) {
	raw := map[string]interface{}{
		"type": "mysql",
		"port": "3306",
	}

	cfg, err := dbconfig.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, 3306, cfg.Port)
}

func TestDecodeRejectsNonMapping(t *testing.T) {
	_, err := dbconfig.Decode("not-a-mapping")
	require.Error(t, err)
}
