package config

// Package config provides structures and utilities for managing application configuration.

// EmbeddedConfig holds the content of the configuration file, typically passed from main.go.
// This is used when loading configuration from an embedded source (e.g., a compiled binary).
type EmbeddedConfig []byte

// LogLevel defines the logging level for the application.
type LogLevel string

const (
	LogLevelTrace  LogLevel = "TRACE"
	LogLevelDebug  LogLevel = "DEBUG"
	LogLevelInfo   LogLevel = "INFO"
	LogLevelWarn   LogLevel = "WARN"
	LogLevelError  LogLevel = "ERROR"
	LogLevelFatal  LogLevel = "FATAL"
	LogLevelSilent LogLevel = "SILENT"
)

// IdempotencyConfig holds configuration for the idempotency coordinator.
type IdempotencyConfig struct {
	// MaxRetries is the retry budget of one key; a FAILED key past this budget is rejected permanently.
	MaxRetries int `yaml:"max_retries"`
	// LeaseSeconds is how long a claimed key stays owned before the sweeper may reclaim it.
	LeaseSeconds int `yaml:"lease_seconds"`
	// SweepIntervalSeconds is the cadence of the background lease expiry sweep.
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
}

// PartitionConfig holds partition planning defaults and the global concurrency cap.
type PartitionConfig struct {
	// MaxActivePartitions caps how many partitions of one execution run simultaneously.
	// A submission's threadHint may lower, never raise, this cap.
	MaxActivePartitions int `yaml:"max_active_partitions"`
	// DefaultThreadCount applies when a transaction-type definition omits threadCount.
	DefaultThreadCount int `yaml:"default_thread_count"`
	// DefaultChunkSize applies when a transaction-type definition omits chunkSize.
	DefaultChunkSize int `yaml:"default_chunk_size"`
	// DefaultTimeoutSeconds applies when a transaction-type definition omits timeoutSeconds.
	DefaultTimeoutSeconds int `yaml:"default_timeout_seconds"`
	// DefaultErrorThresholdPct applies when a transaction-type definition omits errorThresholdPct.
	DefaultErrorThresholdPct float64 `yaml:"default_error_threshold_pct"`
}

// ProcessorConfig holds record-processing settings.
type ProcessorConfig struct {
	// EncryptionKeyEnv names the environment variable carrying the base64-encoded
	// 256-bit field encryption key. The key itself never appears in YAML.
	EncryptionKeyEnv string `yaml:"encryption_key_env"`
}

// MergeConfig holds merge-session settings.
type MergeConfig struct {
	// SessionTimeoutSeconds bounds how long a session waits for missing partitions
	// before the watchdog finalizes it partially.
	SessionTimeoutSeconds int `yaml:"session_timeout_seconds"`
	// WatchdogIntervalSeconds is the cadence of the session timeout watchdog.
	WatchdogIntervalSeconds int `yaml:"watchdog_interval_seconds"`
	// StagingRetryAttempts is the number of attempts for one partition's staging
	// transaction before the session degrades to PARTIAL. Serializable partitions
	// lose serialization races under load, so a failed commit is retried before
	// it counts as a merge failure.
	StagingRetryAttempts int `yaml:"staging_retry_attempts"`
	// StagingRetryBackoffMs is the initial backoff between staging attempts.
	// The interval doubles per attempt.
	StagingRetryBackoffMs int `yaml:"staging_retry_backoff_ms"`
}

// ThresholdConfig holds the numeric alert thresholds evaluated by the performance monitor.
type ThresholdConfig struct {
	HeapAllocMB           int     `yaml:"heap_alloc_mb"`
	GoroutineCount        int     `yaml:"goroutine_count"`
	SuccessRateFloorPct   float64 `yaml:"success_rate_floor_pct"`
	SLATargetMs           int     `yaml:"sla_target_ms"`
	SLAComplianceFloorPct float64 `yaml:"sla_compliance_floor_pct"`
	PoolSaturationPct     float64 `yaml:"pool_saturation_pct"`
}

// MonitorConfig holds performance monitor settings.
type MonitorConfig struct {
	// BufferSize is the capacity of the fire-and-forget event channel; overflow is dropped and counted.
	BufferSize int `yaml:"buffer_size"`
	// CollectionIntervalSeconds is the cadence of the periodic metric collection cycle.
	CollectionIntervalSeconds int `yaml:"collection_interval_seconds"`
	// Thresholds are the alert thresholds evaluated each cycle.
	Thresholds ThresholdConfig `yaml:"thresholds"`
}

// RulebookConfig holds settings for the transaction-type and field-mapping rule source.
type RulebookConfig struct {
	// Path locates the rulebook YAML document.
	Path string `yaml:"path"`
	// CacheTTLSeconds is the TTL backstop for the rule cache; explicit invalidation
	// remains the primary mechanism.
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
}

// BatchConfig holds configuration specific to the batch processing engine.
type BatchConfig struct {
	// JobName is the default job name if not specified per submission.
	JobName string `yaml:"job_name"`
	// Idempotency is the idempotency coordinator configuration.
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	// Partition is the partition planner configuration.
	Partition PartitionConfig `yaml:"partition"`
	// Processor is the parallel processor configuration.
	Processor ProcessorConfig `yaml:"processor"`
	// Merge is the result merger configuration.
	Merge MergeConfig `yaml:"merge"`
	// Monitor is the performance monitor configuration.
	Monitor MonitorConfig `yaml:"monitor"`
	// MetricsAsyncBufferSize is the buffer size for asynchronous metric recording.
	MetricsAsyncBufferSize int `yaml:"metrics_async_buffer_size"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG", "TRACE").
	Level string `yaml:"level"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	// Timezone is the application timezone (e.g., "UTC", "Asia/Tokyo").
	Timezone string `yaml:"timezone"`
	// Logging is the logging configuration.
	Logging LoggingConfig `yaml:"logging"`
}

// InfrastructureConfig holds logical dependency settings for infrastructure components.
type InfrastructureConfig struct {
	// StoreDBRef is the name of the DBConnection used for the engine-owned store
	// (idempotency records, executions, audit trail).
	StoreDBRef string `yaml:"store_db_ref"`
	// StagingDBRef is the name of the DBConnection used for staging output.
	// Empty means the engine store connection is reused.
	StagingDBRef string `yaml:"staging_db_ref"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// MaskedParameterKeys is a list of keys in SubmissionParameters whose values should be masked in logs.
	MaskedParameterKeys []string `yaml:"masked_parameter_keys"`
	// SensitivePayloadFields is a list of payload field names masked when record payloads are logged.
	SensitivePayloadFields []string `yaml:"sensitive_payload_fields"`
}

// AlertingConfig holds settings for forwarding raised alerts to an external webhook.
type AlertingConfig struct {
	Enabled                bool   `yaml:"enabled"`
	WebhookURL             string `yaml:"webhook_url"`
	PollingIntervalSeconds int    `yaml:"polling_interval_seconds"`
	TimeoutSeconds         int    `yaml:"timeout_seconds"`
}

// ArchiveConfig holds settings for exporting finalized staging output to object storage.
type ArchiveConfig struct {
	Enabled         bool   `yaml:"enabled"`
	StorageRef      string `yaml:"storage_ref"`
	Bucket          string `yaml:"bucket"`
	OutputBaseDir   string `yaml:"output_base_dir"`
	CompressionType string `yaml:"compression_type"`
}

// TelemetryConfig holds OpenTelemetry exporter settings.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
	// Protocol selects the OTLP transport: "grpc" or "http".
	Protocol    string `yaml:"protocol"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// SwellConfig holds all configuration under the "swell" top-level key.
type SwellConfig struct {
	// Batch contains batch processing specific configurations.
	Batch BatchConfig `yaml:"batch"`
	// System contains system-wide configurations.
	System SystemConfig `yaml:"system"`
	// Infrastructure contains infrastructure-related configurations.
	Infrastructure InfrastructureConfig `yaml:"infrastructure"`
	// Security contains security-related configurations.
	Security SecurityConfig `yaml:"security"`
	// Rulebook contains rule source configurations.
	Rulebook RulebookConfig `yaml:"rulebook"`
	// Alerting contains webhook alert forwarding configurations.
	Alerting AlertingConfig `yaml:"alerting"`
	// Archive contains staging archive export configurations.
	Archive ArchiveConfig `yaml:"archive"`
	// Telemetry contains OpenTelemetry configurations.
	Telemetry TelemetryConfig `yaml:"telemetry"`
	// Metrics contains Prometheus exposition configurations.
	Metrics MetricsConfig `yaml:"metrics"`
	// DatabaseConfigs holds named database connection configurations.
	DatabaseConfigs map[string]interface{} `yaml:"database"`
	// StorageConfigs holds named object storage connection configurations.
	StorageConfigs map[string]interface{} `yaml:"storage"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	// Swell contains the top-level configuration for the Swell batch engine.
	Swell SwellConfig `yaml:"swell"`
	// EmbeddedConfig holds configuration loaded from an embedded source, not from YAML.
	EmbeddedConfig EmbeddedConfig `yaml:"-"`
}

// GlobalConfig is a pointer to the configuration instance shared across the application.
// It is expected to be set via fx.Supply or fx.Provide.
var GlobalConfig *Config

// GetMaskedParameterKeys retrieves the list of keys to be masked from the global configuration.
func GetMaskedParameterKeys() []string {
	if GlobalConfig == nil {
		return []string{}
	}
	return GlobalConfig.Swell.Security.MaskedParameterKeys
}

// GetSensitivePayloadFieldSet returns the configured sensitive payload field names as a set.
func GetSensitivePayloadFieldSet() map[string]bool {
	set := make(map[string]bool)
	if GlobalConfig == nil {
		return set
	}
	for _, f := range GlobalConfig.Swell.Security.SensitivePayloadFields {
		set[f] = true
	}
	return set
}

// NewConfig returns a new instance of Config with default values.
func NewConfig() *Config {
	cfg := &Config{
		Swell: SwellConfig{
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO"},
			},
			Batch: BatchConfig{
				JobName: "",
				Idempotency: IdempotencyConfig{
					MaxRetries:           3,
					LeaseSeconds:         300,
					SweepIntervalSeconds: 60,
				},
				Partition: PartitionConfig{
					MaxActivePartitions:      4,
					DefaultThreadCount:       4,
					DefaultChunkSize:         100,
					DefaultTimeoutSeconds:    300,
					DefaultErrorThresholdPct: 5.0,
				},
				Processor: ProcessorConfig{
					EncryptionKeyEnv: "SWELL_FIELD_ENCRYPTION_KEY",
				},
				Merge: MergeConfig{
					SessionTimeoutSeconds:   600,
					WatchdogIntervalSeconds: 15,
					StagingRetryAttempts:    3,
					StagingRetryBackoffMs:   200,
				},
				Monitor: MonitorConfig{
					BufferSize:                1024,
					CollectionIntervalSeconds: 30,
					Thresholds: ThresholdConfig{
						HeapAllocMB:           1024,
						GoroutineCount:        10000,
						SuccessRateFloorPct:   95.0,
						SLATargetMs:           1000,
						SLAComplianceFloorPct: 90.0,
						PoolSaturationPct:     90.0,
					},
				},
				MetricsAsyncBufferSize: 100,
			},
			Infrastructure: InfrastructureConfig{
				StoreDBRef:   "metadata",
				StagingDBRef: "",
			},
			Security: SecurityConfig{
				MaskedParameterKeys:    []string{"password", "api_key", "secret"},
				SensitivePayloadFields: []string{},
			},
			Rulebook: RulebookConfig{
				Path:            "",
				CacheTTLSeconds: 300,
			},
			Alerting: AlertingConfig{
				Enabled:                false,
				PollingIntervalSeconds: 10,
				TimeoutSeconds:         5,
			},
			Archive: ArchiveConfig{
				Enabled:         false,
				StorageRef:      "archive",
				OutputBaseDir:   "staging-archive",
				CompressionType: "SNAPPY",
			},
			Telemetry: TelemetryConfig{
				Enabled:     false,
				Protocol:    "grpc",
				Endpoint:    "localhost:4317",
				Insecure:    true,
				ServiceName: "swell",
			},
			Metrics: MetricsConfig{
				Enabled:    false,
				ListenAddr: ":9464",
			},
		},
	}

	// Initialize adapter config maps as empty, to be populated by YAML or by mergeConfig.
	cfg.Swell.DatabaseConfigs = map[string]interface{}{}
	cfg.Swell.StorageConfigs = map[string]interface{}{}
	return cfg
}
