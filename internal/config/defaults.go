package config

import "time"

// Default value constants.  The extraction/scheduling defaults are the
// documented tunable parameters, surfaced here rather than buried at use
// sites.
const (
	DefaultServerPort      = 8080
	DefaultMaxUploadBytes  = 16 << 20 // 16MB prescription images
	DefaultShutdownTimeout = 15 * time.Second

	DefaultDBHost       = "localhost"
	DefaultDBPort       = 5432
	DefaultDBName       = "medimorph"
	DefaultDBMaxConns   = 25
	DefaultSSLMode      = "disable"
	DefaultMigrationDir = "migrations"

	DefaultRedisAddr      = "localhost:6379"
	DefaultRedisKeyPrefix = "medimorph"

	DefaultKafkaBroker = "localhost:9092"

	DefaultMinIOEndpoint = "localhost:9000"
	DefaultMinIOBucket   = "prescriptions"

	DefaultOCRTimeout = 30 * time.Second

	// DefaultMinConfidence is the drug-name confidence threshold T.
	DefaultMinConfidence = 0.60
	DefaultMaxTextLength = 100000

	DefaultWakingWindowStart = "08:00"
	DefaultWakingWindowEnd   = "22:00"
	DefaultMaxHorizonDays    = 90
	DefaultTickInterval      = 30 * time.Second
	DefaultGraceWindow       = time.Hour
	DefaultLeaseTTL          = 90 * time.Second
	DefaultPartitions        = 16

	DefaultDispatchRetries = 3
	DefaultDispatchBackoff = time.Second
	DefaultOutboxBatch     = 100
	DefaultDrainInterval   = 2 * time.Second

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// ApplyDefaults fills every zero-value field in cfg with the service
// default.  Fields already set by the caller are left unchanged so explicit
// configuration always wins.  It must run after unmarshalling and before
// Validate so optional-but-defaulted fields are never seen as missing.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	if cfg.Database.Host == "" {
		cfg.Database.Host = DefaultDBHost
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = DefaultDBPort
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = DefaultDBName
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = DefaultSSLMode
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = DefaultDBMaxConns
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 10
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 30 * time.Minute
	}
	if cfg.Database.MigrationPath == "" {
		cfg.Database.MigrationPath = DefaultMigrationDir
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 10
	}
	if cfg.Redis.DialTimeout == 0 {
		cfg.Redis.DialTimeout = 5 * time.Second
	}
	if cfg.Redis.CacheTTL == 0 {
		cfg.Redis.CacheTTL = time.Minute
	}

	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{DefaultKafkaBroker}
	}
	if cfg.Kafka.MaxRetries == 0 {
		cfg.Kafka.MaxRetries = 3
	}
	if cfg.Kafka.RetryBackoff == 0 {
		cfg.Kafka.RetryBackoff = 100 * time.Millisecond
	}
	if cfg.Kafka.BatchTimeout == 0 {
		cfg.Kafka.BatchTimeout = time.Second
	}
	if cfg.Kafka.WriteTimeout == 0 {
		cfg.Kafka.WriteTimeout = 10 * time.Second
	}

	if cfg.MinIO.Endpoint == "" {
		cfg.MinIO.Endpoint = DefaultMinIOEndpoint
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = DefaultMinIOBucket
	}
	if cfg.MinIO.PresignExpiry == 0 {
		cfg.MinIO.PresignExpiry = 15 * time.Minute
	}

	if cfg.OCR.Timeout == 0 {
		cfg.OCR.Timeout = DefaultOCRTimeout
	}

	if cfg.Extraction.MinConfidence == 0 {
		cfg.Extraction.MinConfidence = DefaultMinConfidence
	}
	if cfg.Extraction.MaxTextLength == 0 {
		cfg.Extraction.MaxTextLength = DefaultMaxTextLength
	}

	if cfg.Scheduling.WakingWindowStart == "" {
		cfg.Scheduling.WakingWindowStart = DefaultWakingWindowStart
	}
	if cfg.Scheduling.WakingWindowEnd == "" {
		cfg.Scheduling.WakingWindowEnd = DefaultWakingWindowEnd
	}
	if cfg.Scheduling.MaxHorizonDays == 0 {
		cfg.Scheduling.MaxHorizonDays = DefaultMaxHorizonDays
	}
	if cfg.Scheduling.TickInterval == 0 {
		cfg.Scheduling.TickInterval = DefaultTickInterval
	}
	if cfg.Scheduling.GraceWindow == 0 {
		cfg.Scheduling.GraceWindow = DefaultGraceWindow
	}
	if cfg.Scheduling.LeaseTTL == 0 {
		cfg.Scheduling.LeaseTTL = DefaultLeaseTTL
	}
	if cfg.Scheduling.Partitions == 0 {
		cfg.Scheduling.Partitions = DefaultPartitions
	}

	if cfg.Dispatch.MaxRetries == 0 {
		cfg.Dispatch.MaxRetries = DefaultDispatchRetries
	}
	if cfg.Dispatch.RetryBackoff == 0 {
		cfg.Dispatch.RetryBackoff = DefaultDispatchBackoff
	}
	if cfg.Dispatch.OutboxBatch == 0 {
		cfg.Dispatch.OutboxBatch = DefaultOutboxBatch
	}
	if cfg.Dispatch.DrainInterval == 0 {
		cfg.Dispatch.DrainInterval = DefaultDrainInterval
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}
