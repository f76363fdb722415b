// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Neo4j     Neo4jConfig
	Database  DatabaseConfig
	Source    SourceConfig
	Pipeline  PipelineConfig
	Artifacts ArtifactConfig
	Schedule  ScheduleConfig
	RunLog    RunLogConfig
	Security  SecurityConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 3000)
	Port int `env:"SERVER_PORT" envAlt:"PORT" default:"3000"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is 0 so large artifacts can stream to the database (default: 0s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// StoreConfig selects the backing store for DataSource records and places.
type StoreConfig struct {
	// Backend is neo4j or postgres (default: neo4j)
	Backend string `env:"STORE_BACKEND" default:"neo4j"`
}

// Neo4jConfig holds graph database connection settings.
type Neo4jConfig struct {
	URI      string `env:"NEO4J_URI" default:"neo4j://localhost:7687"`
	User     string `env:"NEO4J_USER" envAlt:"NEO4J_USERNAME" default:"neo4j"`
	Password string `env:"NEO4J_PASSWORD"`
	// Database is the target database name; empty uses the server default.
	Database string `env:"NEO4J_DATABASE"`
}

// DatabaseConfig holds PostgreSQL connection settings, used when STORE_BACKEND=postgres.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 1)
	MinConns int `env:"DB_MIN_CONNS" default:"1"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// SourceConfig holds settings for the upstream downloads API and the local cache.
type SourceConfig struct {
	APIBase   string `env:"SOURCE_API_BASE" default:"https://api.os.uk/downloads/v1"`
	ProductID string `env:"SOURCE_PRODUCT_ID" default:"OpenNames"`

	// HTTPTimeout bounds metadata requests; downloads are bounded by the run context.
	HTTPTimeout time.Duration `env:"SOURCE_HTTP_TIMEOUT" default:"30s"`

	// CacheDir holds downloaded archives; empty means the OS temp dir.
	CacheDir string `env:"SOURCE_CACHE_DIR"`
}

// PipelineConfig holds settings consumed by the orchestrator and its stages.
type PipelineConfig struct {
	// ImportDir is where processed CSV artifacts are written (default: ./public)
	ImportDir string `env:"IMPORT_DIR" envAlt:"NEO4J_IMPORT_DIR" default:"./public"`

	// ImportURLBase is the public base URL for artifacts when the database
	// cannot see the local filesystem. Empty means file:/// references.
	ImportURLBase string `env:"IMPORT_URL_BASE" envAlt:"NEO4J_IMPORT_URL"`

	// BatchSize caps the number of records handled per pass (0 = all)
	BatchSize int `env:"PIPELINE_BATCH_SIZE" default:"0"`

	// IncludeFiles restricts a pass to the named input files
	IncludeFiles []string `env:"PIPELINE_INCLUDE_FILES"`

	ProcessWait time.Duration `env:"PIPELINE_WAIT_PROCESS" default:"0s"`
	ImportWait  time.Duration `env:"PIPELINE_WAIT_IMPORT" default:"0s"`
	CleanWait   time.Duration `env:"PIPELINE_WAIT_CLEAN" default:"0s"`

	// ProfilePath points at an optional YAML customisation profile
	ProfilePath string `env:"PIPELINE_PROFILE"`

	// StoreTimeout bounds a single registry round-trip (default: 30s)
	StoreTimeout time.Duration `env:"PIPELINE_STORE_TIMEOUT" default:"30s"`

	// ImportTimeout bounds a single bulk-load statement (default: 10m)
	ImportTimeout time.Duration `env:"PIPELINE_IMPORT_TIMEOUT" default:"10m"`
}

// ArtifactConfig controls where processed artifacts are published.
type ArtifactConfig struct {
	// Backend is local or s3 (default: local)
	Backend string `env:"ARTIFACT_BACKEND" default:"local"`

	Bucket   string `env:"ARTIFACT_S3_BUCKET"`
	Prefix   string `env:"ARTIFACT_S3_PREFIX" default:"opennames"`
	Region   string `env:"ARTIFACT_S3_REGION" envAlt:"AWS_REGION" default:"eu-west-2"`
	Endpoint string `env:"ARTIFACT_S3_ENDPOINT"`

	// PresignTTL is how long presigned artifact URLs stay valid (default: 6h)
	PresignTTL time.Duration `env:"ARTIFACT_PRESIGN_TTL" default:"6h"`
}

// ScheduleConfig controls periodic passes in serve mode.
type ScheduleConfig struct {
	Enabled  bool          `env:"SCHEDULE_ENABLED" default:"false"`
	Interval time.Duration `env:"SCHEDULE_INTERVAL" default:"24h"`
}

// RunLogConfig controls where run summaries are kept.
type RunLogConfig struct {
	// Backend is memory or redis (default: memory)
	Backend string `env:"RUNLOG_BACKEND" default:"memory"`

	RedisAddr     string `env:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" default:"0"`

	// MaxEntries caps the number of summaries retained (default: 50)
	MaxEntries int `env:"RUNLOG_MAX_ENTRIES" default:"50"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// RequireAPIKey protects the run trigger endpoint (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted X-API-Key values
	APIKeys []string `env:"API_KEYS"`

	// RateLimit is the per-IP request budget per minute on /api (0 = unlimited)
	RateLimit int `env:"API_RATE_LIMIT" default:"100"`

	// TrustedProxies lists CIDRs whose X-Real-IP/X-Forwarded-For headers are honoured
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
