// Package config defines all configuration structures for MediMorph.
// No I/O or parsing logic lives here, only plain data types and validation.
package config

import (
	"fmt"
	"time"
)

// ServerConfig holds HTTP server tunables.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"db_name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationPath   string        `mapstructure:"migration_path"`
}

// RedisConfig holds Redis connection parameters for the scheduler lease.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	KeyPrefix    string        `mapstructure:"key_prefix"`

	// CacheTTL is the default expiry for read-through cache entries such
	// as compliance report snapshots.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// KafkaConfig holds parameters for the real-time notification channel.
type KafkaConfig struct {
	Brokers       []string      `mapstructure:"brokers"`
	Acks          string        `mapstructure:"acks"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
	BatchTimeout  time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	SASLEnabled   bool          `mapstructure:"sasl_enabled"`
	SASLMechanism string        `mapstructure:"sasl_mechanism"`
	SASLUsername  string        `mapstructure:"sasl_username"`
	SASLPassword  string        `mapstructure:"sasl_password"`
	TLSEnabled    bool          `mapstructure:"tls_enabled"`
	TLSCertPath   string        `mapstructure:"tls_cert_path"`
}

// MinIOConfig holds object-storage parameters for prescription images.
type MinIOConfig struct {
	Endpoint      string        `mapstructure:"endpoint"`
	AccessKey     string        `mapstructure:"access_key"`
	SecretKey     string        `mapstructure:"secret_key"`
	Bucket        string        `mapstructure:"bucket"`
	UseSSL        bool          `mapstructure:"use_ssl"`
	PresignExpiry time.Duration `mapstructure:"presign_expiry"`
}

// OCRConfig holds parameters for the external OCR engine collaborator.
type OCRConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ExtractionConfig holds entity-extraction tunables.  These are exposed as
// configurable parameters, not hidden constants.
type ExtractionConfig struct {
	// MinConfidence is the drug-name confidence threshold T.  Mentions below
	// it are diverted to the audit trail instead of the result list.
	MinConfidence float64 `mapstructure:"min_confidence"`

	// MaxTextLength bounds the normalised input passed to the strategies.
	MaxTextLength int `mapstructure:"max_text_length"`

	// VocabularyPath optionally points at a newline-delimited medication
	// name list merged over the built-in vocabulary.
	VocabularyPath string `mapstructure:"vocabulary_path"`
}

// SchedulingConfig holds compiler and reminder-scheduler tunables.
type SchedulingConfig struct {
	// WakingWindowStart/End bound the daily window dose slots are spread
	// across, as "HH:MM" local clock times.
	WakingWindowStart string `mapstructure:"waking_window_start"`
	WakingWindowEnd   string `mapstructure:"waking_window_end"`

	// MaxHorizonDays caps indefinite schedules to bound event generation.
	MaxHorizonDays int `mapstructure:"max_horizon_days"`

	// TickInterval is the scheduler wake-up cadence.
	TickInterval time.Duration `mapstructure:"tick_interval"`

	// GraceWindow is how long a fired event waits for a "taken" action
	// before the sweep marks it missed.
	GraceWindow time.Duration `mapstructure:"grace_window"`

	// LeaseTTL bounds the per-user-partition scheduling claim.
	LeaseTTL time.Duration `mapstructure:"lease_ttl"`

	// Partitions is the number of user partitions lease ownership is
	// sharded over.
	Partitions int `mapstructure:"partitions"`
}

// WindowMinutes parses the waking window into minutes since midnight.
func (s SchedulingConfig) WindowMinutes() (start, end int, err error) {
	if start, err = parseClock(s.WakingWindowStart); err != nil {
		return 0, 0, err
	}
	if end, err = parseClock(s.WakingWindowEnd); err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// DispatchConfig holds notification delivery tunables.
type DispatchConfig struct {
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
	OutboxBatch   int           `mapstructure:"outbox_batch"`
	DrainInterval time.Duration `mapstructure:"drain_interval"`
}

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	MinIO      MinIOConfig      `mapstructure:"minio"`
	OCR        OCRConfig        `mapstructure:"ocr"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Scheduling SchedulingConfig `mapstructure:"scheduling"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Log        LogConfig        `mapstructure:"log"`
}

// LogConfig holds structured-logging parameters.
type LogConfig struct {
	Level       string   `mapstructure:"level"`  // "debug" | "info" | "warn" | "error"
	Format      string   `mapstructure:"format"` // "json" | "console"
	OutputPaths []string `mapstructure:"output_paths"`
}

// Validate performs semantic validation of the fully-populated Config.
// It returns the first error encountered; callers should treat any error as
// fatal and refuse to start.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d is out of range [1, 65535]", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("config: database.host is required")
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("config: database.port %d is out of range [1, 65535]", c.Database.Port)
	}
	if c.Database.User == "" {
		return fmt.Errorf("config: database.user is required")
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("config: database.db_name is required")
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr is required")
	}

	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: kafka.brokers must contain at least one broker address")
	}

	if c.Extraction.MinConfidence < 0 || c.Extraction.MinConfidence > 1 {
		return fmt.Errorf("config: extraction.min_confidence %v is out of range [0, 1]", c.Extraction.MinConfidence)
	}

	startMin, err := parseClock(c.Scheduling.WakingWindowStart)
	if err != nil {
		return fmt.Errorf("config: scheduling.waking_window_start: %w", err)
	}
	endMin, err := parseClock(c.Scheduling.WakingWindowEnd)
	if err != nil {
		return fmt.Errorf("config: scheduling.waking_window_end: %w", err)
	}
	if endMin <= startMin {
		return fmt.Errorf("config: waking window end %q must be after start %q",
			c.Scheduling.WakingWindowEnd, c.Scheduling.WakingWindowStart)
	}
	if c.Scheduling.MaxHorizonDays < 1 {
		return fmt.Errorf("config: scheduling.max_horizon_days must be ≥ 1, got %d", c.Scheduling.MaxHorizonDays)
	}
	if c.Scheduling.TickInterval <= 0 {
		return fmt.Errorf("config: scheduling.tick_interval must be positive")
	}
	if c.Scheduling.GraceWindow <= 0 {
		return fmt.Errorf("config: scheduling.grace_window must be positive")
	}
	if c.Scheduling.LeaseTTL < c.Scheduling.TickInterval {
		return fmt.Errorf("config: scheduling.lease_ttl %v must be at least the tick interval %v",
			c.Scheduling.LeaseTTL, c.Scheduling.TickInterval)
	}
	if c.Scheduling.Partitions < 1 {
		return fmt.Errorf("config: scheduling.partitions must be ≥ 1, got %d", c.Scheduling.Partitions)
	}

	if c.Dispatch.MaxRetries < 0 {
		return fmt.Errorf("config: dispatch.max_retries must be ≥ 0, got %d", c.Dispatch.MaxRetries)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	return nil
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock time %q out of range", s)
	}
	return h*60 + m, nil
}
