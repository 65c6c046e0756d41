package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/swell/pkg/batch/support/util/exception"
	"github.com/tigerroll/swell/pkg/batch/support/util/logger"

	"go.uber.org/fx"
)

// Package config provides utilities for loading and managing application configuration
// from various sources, including YAML files and environment variables.

const moduleName = "config"

// ConfigParams defines the dependencies for NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig // EmbeddedConfig contains the raw bytes of the configuration file.
	EnvFilePath    string         `name:"envFilePath" optional:"true"` // EnvFilePath is the path to the .env file, if any.
}

// loadConfig loads configuration from a file and environment variables.
// This function is intended to be called only once during application startup.
func loadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else {
		if err := godotenv.Load(); err != nil {
			logger.Debugf(".env file not found or could not be loaded: %v", err)
		}
	}

	cfg := NewConfig()

	// 1. Defaults come from NewConfig()

	// 2. Load configuration from embedded YAML into a temporary Config struct.
	var yamlConfig Config
	if err := yaml.Unmarshal(embeddedConfig, &yamlConfig); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to unmarshal embedded config", err, false, false)
	}

	// 3. Merge YAML configuration into the default configuration.
	mergeConfig(cfg, &yamlConfig)

	// 4. Override with environment variables
	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to load config from environment variables", err, false, false)
	}
	return cfg, nil
}

// NewConfigProvider is an Fx provider that loads and provides *Config.
// It initializes the application configuration by loading defaults, merging from
// embedded YAML, and overriding with environment variables. It also sets the
// global logger level and validates engine settings.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := loadConfig(params.EnvFilePath, params.EmbeddedConfig)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to load configuration", err, false, false)
	}

	// Set global configuration
	GlobalConfig = cfg

	// Set log level
	logger.SetLogLevel(cfg.Swell.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.Swell.System.Logging.Level)

	if err := validateConfig(cfg); err != nil {
		return nil, exception.NewBatchError(moduleName, "configuration validation failed", err, false, false)
	}

	return cfg, nil
}

// LoadConfig loads configuration from configuration files and environment variables.
// This function is expected to be called only once during application startup.
func LoadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	return loadConfig(envFilePath, embeddedConfig)
}

// validateConfig checks engine settings that would otherwise fail deep inside the pipeline.
func validateConfig(cfg *Config) error {
	b := cfg.Swell.Batch

	if b.Idempotency.MaxRetries < 0 {
		return fmt.Errorf("idempotency.max_retries must not be negative, got %d", b.Idempotency.MaxRetries)
	}
	if b.Idempotency.LeaseSeconds <= 0 {
		return fmt.Errorf("idempotency.lease_seconds must be positive, got %d", b.Idempotency.LeaseSeconds)
	}
	if b.Partition.MaxActivePartitions < 1 {
		return fmt.Errorf("partition.max_active_partitions must be at least 1, got %d", b.Partition.MaxActivePartitions)
	}
	if b.Partition.DefaultErrorThresholdPct < 0 || b.Partition.DefaultErrorThresholdPct > 100 {
		return fmt.Errorf("partition.default_error_threshold_pct must be within [0,100], got %v", b.Partition.DefaultErrorThresholdPct)
	}
	if b.Merge.SessionTimeoutSeconds <= 0 {
		return fmt.Errorf("merge.session_timeout_seconds must be positive, got %d", b.Merge.SessionTimeoutSeconds)
	}
	for name, pct := range map[string]float64{
		"monitor.thresholds.success_rate_floor_pct":   b.Monitor.Thresholds.SuccessRateFloorPct,
		"monitor.thresholds.sla_compliance_floor_pct": b.Monitor.Thresholds.SLAComplianceFloorPct,
		"monitor.thresholds.pool_saturation_pct":      b.Monitor.Thresholds.PoolSaturationPct,
	} {
		if pct < 0 || pct > 100 {
			return fmt.Errorf("%s must be within [0,100], got %v", name, pct)
		}
	}

	if t := cfg.Swell.Telemetry; t.Enabled && t.Protocol != "grpc" && t.Protocol != "http" {
		return fmt.Errorf("telemetry.protocol must be 'grpc' or 'http', got '%s'", t.Protocol)
	}

	return nil
}

// mergeConfig performs a deep merge from sourceConfig into destConfig.
// Values in sourceConfig will overwrite corresponding values in destConfig
// if they are not zero/empty values for their type.
func mergeConfig(destConfig, sourceConfig *Config) {
	mergeSwellConfig(&destConfig.Swell, &sourceConfig.Swell)
}

// mergeSwellConfig merges source into dest.
func mergeSwellConfig(dest, source *SwellConfig) {
	// Merge BatchConfig
	if source.Batch.JobName != "" {
		dest.Batch.JobName = source.Batch.JobName
	}
	if source.Batch.MetricsAsyncBufferSize != 0 {
		dest.Batch.MetricsAsyncBufferSize = source.Batch.MetricsAsyncBufferSize
	}
	mergeIdempotencyConfig(&dest.Batch.Idempotency, &source.Batch.Idempotency)
	mergePartitionConfig(&dest.Batch.Partition, &source.Batch.Partition)
	if source.Batch.Processor.EncryptionKeyEnv != "" {
		dest.Batch.Processor.EncryptionKeyEnv = source.Batch.Processor.EncryptionKeyEnv
	}
	mergeMergeConfig(&dest.Batch.Merge, &source.Batch.Merge)
	mergeMonitorConfig(&dest.Batch.Monitor, &source.Batch.Monitor)

	// Merge SystemConfig
	mergeSystemConfig(&dest.System, &source.System)

	// Merge InfrastructureConfig
	if source.Infrastructure.StoreDBRef != "" {
		dest.Infrastructure.StoreDBRef = source.Infrastructure.StoreDBRef
	}
	if source.Infrastructure.StagingDBRef != "" {
		dest.Infrastructure.StagingDBRef = source.Infrastructure.StagingDBRef
	}

	// Merge SecurityConfig
	if source.Security.MaskedParameterKeys != nil {
		dest.Security.MaskedParameterKeys = source.Security.MaskedParameterKeys
	}
	if source.Security.SensitivePayloadFields != nil {
		dest.Security.SensitivePayloadFields = source.Security.SensitivePayloadFields
	}

	// Merge RulebookConfig
	if source.Rulebook.Path != "" {
		dest.Rulebook.Path = source.Rulebook.Path
	}
	if source.Rulebook.CacheTTLSeconds != 0 {
		dest.Rulebook.CacheTTLSeconds = source.Rulebook.CacheTTLSeconds
	}

	// Merge AlertingConfig
	if source.Alerting.Enabled {
		dest.Alerting.Enabled = true
	}
	if source.Alerting.WebhookURL != "" {
		dest.Alerting.WebhookURL = source.Alerting.WebhookURL
	}
	if source.Alerting.PollingIntervalSeconds != 0 {
		dest.Alerting.PollingIntervalSeconds = source.Alerting.PollingIntervalSeconds
	}
	if source.Alerting.TimeoutSeconds != 0 {
		dest.Alerting.TimeoutSeconds = source.Alerting.TimeoutSeconds
	}

	// Merge ArchiveConfig
	if source.Archive.Enabled {
		dest.Archive.Enabled = true
	}
	if source.Archive.StorageRef != "" {
		dest.Archive.StorageRef = source.Archive.StorageRef
	}
	if source.Archive.Bucket != "" {
		dest.Archive.Bucket = source.Archive.Bucket
	}
	if source.Archive.OutputBaseDir != "" {
		dest.Archive.OutputBaseDir = source.Archive.OutputBaseDir
	}
	if source.Archive.CompressionType != "" {
		dest.Archive.CompressionType = source.Archive.CompressionType
	}

	// Merge TelemetryConfig
	if source.Telemetry.Enabled {
		dest.Telemetry.Enabled = true
	}
	if source.Telemetry.Protocol != "" {
		dest.Telemetry.Protocol = source.Telemetry.Protocol
	}
	if source.Telemetry.Endpoint != "" {
		dest.Telemetry.Endpoint = source.Telemetry.Endpoint
	}
	if source.Telemetry.Insecure {
		dest.Telemetry.Insecure = true
	}
	if source.Telemetry.ServiceName != "" {
		dest.Telemetry.ServiceName = source.Telemetry.ServiceName
	}

	// Merge MetricsConfig
	if source.Metrics.Enabled {
		dest.Metrics.Enabled = true
	}
	if source.Metrics.ListenAddr != "" {
		dest.Metrics.ListenAddr = source.Metrics.ListenAddr
	}

	// Merge adapter config maps (the critical part for database/storage configs)
	if source.DatabaseConfigs != nil {
		if dest.DatabaseConfigs == nil {
			dest.DatabaseConfigs = make(map[string]interface{})
		}
		for key, value := range source.DatabaseConfigs {
			dest.DatabaseConfigs[key] = value
		}
	}
	if source.StorageConfigs != nil {
		if dest.StorageConfigs == nil {
			dest.StorageConfigs = make(map[string]interface{})
		}
		for key, value := range source.StorageConfigs {
			dest.StorageConfigs[key] = value
		}
	}
}

// mergeIdempotencyConfig merges source into dest.
func mergeIdempotencyConfig(dest, source *IdempotencyConfig) {
	if source.MaxRetries != 0 { dest.MaxRetries = source.MaxRetries }
	if source.LeaseSeconds != 0 { dest.LeaseSeconds = source.LeaseSeconds }
	if source.SweepIntervalSeconds != 0 { dest.SweepIntervalSeconds = source.SweepIntervalSeconds }
}

// mergePartitionConfig merges source into dest.
func mergePartitionConfig(dest, source *PartitionConfig) {
	if source.MaxActivePartitions != 0 { dest.MaxActivePartitions = source.MaxActivePartitions }
	if source.DefaultThreadCount != 0 { dest.DefaultThreadCount = source.DefaultThreadCount }
	if source.DefaultChunkSize != 0 { dest.DefaultChunkSize = source.DefaultChunkSize }
	if source.DefaultTimeoutSeconds != 0 { dest.DefaultTimeoutSeconds = source.DefaultTimeoutSeconds }
	if source.DefaultErrorThresholdPct != 0 { dest.DefaultErrorThresholdPct = source.DefaultErrorThresholdPct }
}

// mergeMergeConfig merges source into dest.
func mergeMergeConfig(dest, source *MergeConfig) {
	if source.SessionTimeoutSeconds != 0 { dest.SessionTimeoutSeconds = source.SessionTimeoutSeconds }
	if source.WatchdogIntervalSeconds != 0 { dest.WatchdogIntervalSeconds = source.WatchdogIntervalSeconds }
}

// mergeMonitorConfig merges source into dest.
func mergeMonitorConfig(dest, source *MonitorConfig) {
	if source.BufferSize != 0 { dest.BufferSize = source.BufferSize }
	if source.CollectionIntervalSeconds != 0 { dest.CollectionIntervalSeconds = source.CollectionIntervalSeconds }
	if source.Thresholds.HeapAllocMB != 0 { dest.Thresholds.HeapAllocMB = source.Thresholds.HeapAllocMB }
	if source.Thresholds.GoroutineCount != 0 { dest.Thresholds.GoroutineCount = source.Thresholds.GoroutineCount }
	if source.Thresholds.SuccessRateFloorPct != 0 { dest.Thresholds.SuccessRateFloorPct = source.Thresholds.SuccessRateFloorPct }
	if source.Thresholds.SLATargetMs != 0 { dest.Thresholds.SLATargetMs = source.Thresholds.SLATargetMs }
	if source.Thresholds.SLAComplianceFloorPct != 0 { dest.Thresholds.SLAComplianceFloorPct = source.Thresholds.SLAComplianceFloorPct }
	if source.Thresholds.PoolSaturationPct != 0 { dest.Thresholds.PoolSaturationPct = source.Thresholds.PoolSaturationPct }
}

// mergeSystemConfig merges source into dest.
func mergeSystemConfig(dest, source *SystemConfig) {
	if source.Timezone != "" { dest.Timezone = source.Timezone }
	if source.Logging.Level != "" { dest.Logging.Level = source.Logging.Level }
}

// loadStructFromEnv recursively loads configuration values into a struct from environment variables.
// It uses the "yaml" tag to determine the environment variable name.
//
// Parameters:
//   val: The reflect.Value of the struct to populate.
//   prefix: The prefix for environment variable names (e.g., "SWELL_BATCH_").
// Returns: An error if any field cannot be set.
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := fieldType.Tag.Get("yaml")
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists && field.Kind() != reflect.Map { // If it's a map type, continue to process nested environment variables.
			continue
		}

		if field.Kind() == reflect.Map && field.Type().Key().Kind() == reflect.String && field.Type().Elem().Kind() == reflect.Struct {
			// For map[string]struct{}, process nested environment variables
			// Example: DATABASE_METADATA_HOST
			if err := loadMapOfStructsFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// loadMapOfStructsFromEnv loads fields of type map[string]struct{} from environment variables.
// It infers map keys and struct field names from environment variable names.
//
// Example: For a field `Databases map[string]DatabaseConfig` in the config struct,
// an environment variable `DATABASE_METADATA_HOST=localhost` would set the `Host`
// field of the `DatabaseConfig` instance associated with the key "metadata".
func loadMapOfStructsFromEnv(mapField reflect.Value, prefix string) error {
	if mapField.IsNil() {
		mapField.Set(reflect.MakeMap(mapField.Type()))
	}

	elemType := mapField.Type().Elem()

	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}

		keyPartWithValue := strings.TrimPrefix(env, prefix)
		parts := strings.SplitN(keyPartWithValue, "=", 2)
		if len(parts) != 2 {
			continue
		}
		keyAndField := parts[0] // e.g., "METADATA_HOST"
		envValue := parts[1]

		keyAndFieldParts := strings.Split(keyAndField, "_")
		if len(keyAndFieldParts) < 2 {
			continue
		}
		mapKey := strings.ToLower(keyAndFieldParts[0])
		structFieldName := strings.Join(keyAndFieldParts[1:], "_")

		structVal := mapField.MapIndex(reflect.ValueOf(mapKey))
		if !structVal.IsValid() {
			structVal = reflect.New(elemType).Elem()
		}

		if err := setStructFieldFromEnv(structVal, structFieldName, envValue); err != nil {
			return err
		}
		mapField.SetMapIndex(reflect.ValueOf(mapKey), structVal)
	}
	return nil
}

// setStructFieldFromEnv sets the value of a specific struct field from an environment variable.
// It iterates through the struct's fields, matching the `fieldName` (case-insensitively)
// against the field's `yaml` tag.
func setStructFieldFromEnv(structVal reflect.Value, fieldName string, value string) error {
	typ := structVal.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := structVal.Field(i)
		fieldType := typ.Field(i)
		yamlTag := fieldType.Tag.Get("yaml")
		if yamlTag == "" || yamlTag == "-" {
			continue
		}

		if strings.EqualFold(yamlTag, fieldName) {
			return setField(field, value)
		}
	}
	return nil // Field not found is not an error
}

// setField sets the value of a reflect.Value field based on its kind.
// It handles string, int, float, and bool types.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	}
	return nil
}
