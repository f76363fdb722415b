package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
// Returns an error if required values are missing or validation fails.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// loadStruct recursively populates struct fields from environment variables.
func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		// Skip unexported fields
		if !fieldVal.CanSet() {
			continue
		}

		// Recurse into nested structs
		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal); err != nil {
				return err
			}
			continue
		}

		// Get tags
		envName := field.Tag.Get("env")
		envAlt := field.Tag.Get("envAlt")
		defaultVal := field.Tag.Get("default")
		required := field.Tag.Get("required") == "true"

		if envName == "" {
			continue
		}

		// Try primary env var, then alternate
		value := os.Getenv(envName)
		if value == "" && envAlt != "" {
			value = os.Getenv(envAlt)
		}

		// Apply default if not set
		if value == "" {
			if required {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = defaultVal
		}

		if value == "" {
			continue
		}

		// Set the field value
		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		// Handle time.Duration specially
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			// Split comma-separated values, trim whitespace
			parts := strings.Split(value, ",")
			result := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					result = append(result, p)
				}
			}
			field.Set(reflect.ValueOf(result))
		} else {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Store validation
	switch strings.ToLower(c.Store.Backend) {
	case "neo4j":
		if c.Neo4j.URI == "" {
			errs = append(errs, "NEO4J_URI is required when STORE_BACKEND=neo4j")
		}
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, "DATABASE_URL is required when STORE_BACKEND=postgres")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
				c.Database.MaxConns, c.Database.MinConns))
		}
		if c.Database.MaxConns <= 0 {
			errs = append(errs, "DB_MAX_CONNS must be positive")
		}
	default:
		errs = append(errs, fmt.Sprintf("STORE_BACKEND (%q) must be one of: neo4j, postgres", c.Store.Backend))
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Source validation
	if c.Source.APIBase == "" {
		errs = append(errs, "SOURCE_API_BASE is required")
	}
	if c.Source.ProductID == "" {
		errs = append(errs, "SOURCE_PRODUCT_ID is required")
	}
	if c.Source.HTTPTimeout <= 0 {
		errs = append(errs, "SOURCE_HTTP_TIMEOUT must be positive")
	}

	// Pipeline validation
	if c.Pipeline.ImportDir == "" {
		errs = append(errs, "IMPORT_DIR is required")
	}
	if c.Pipeline.BatchSize < 0 {
		errs = append(errs, "PIPELINE_BATCH_SIZE must be non-negative")
	}
	if c.Pipeline.ProcessWait < 0 || c.Pipeline.ImportWait < 0 || c.Pipeline.CleanWait < 0 {
		errs = append(errs, "PIPELINE_WAIT_* must be non-negative")
	}
	if c.Pipeline.StoreTimeout <= 0 {
		errs = append(errs, "PIPELINE_STORE_TIMEOUT must be positive")
	}
	if c.Pipeline.ImportTimeout <= 0 {
		errs = append(errs, "PIPELINE_IMPORT_TIMEOUT must be positive")
	}

	// Artifact validation
	switch strings.ToLower(c.Artifacts.Backend) {
	case "local":
	case "s3":
		if c.Artifacts.Bucket == "" {
			errs = append(errs, "ARTIFACT_S3_BUCKET is required when ARTIFACT_BACKEND=s3")
		}
		if c.Artifacts.PresignTTL <= 0 {
			errs = append(errs, "ARTIFACT_PRESIGN_TTL must be positive")
		}
	default:
		errs = append(errs, fmt.Sprintf("ARTIFACT_BACKEND (%q) must be one of: local, s3", c.Artifacts.Backend))
	}

	// Schedule validation
	if c.Schedule.Enabled && c.Schedule.Interval <= 0 {
		errs = append(errs, "SCHEDULE_INTERVAL must be positive when scheduling is enabled")
	}

	// Run log validation
	switch strings.ToLower(c.RunLog.Backend) {
	case "memory":
	case "redis":
		if c.RunLog.RedisAddr == "" {
			errs = append(errs, "REDIS_ADDR is required when RUNLOG_BACKEND=redis")
		}
	default:
		errs = append(errs, fmt.Sprintf("RUNLOG_BACKEND (%q) must be one of: memory, redis", c.RunLog.Backend))
	}
	if c.RunLog.MaxEntries <= 0 {
		errs = append(errs, "RUNLOG_MAX_ENTRIES must be positive")
	}

	// Security validation
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}
	if c.Security.RateLimit < 0 {
		errs = append(errs, "API_RATE_LIMIT must be non-negative")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// Passwords, keys and connection URLs are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port))
	b.WriteString(fmt.Sprintf("Store: {Backend: %q}, ", c.Store.Backend))
	b.WriteString(fmt.Sprintf("Neo4j: {URI: %q, User: %q, Password: [MASKED]}, ", c.Neo4j.URI, c.Neo4j.User))
	b.WriteString(fmt.Sprintf("Database: {URL: [MASKED], MaxConns: %d}, ", c.Database.MaxConns))
	b.WriteString(fmt.Sprintf("Source: {APIBase: %q, ProductID: %q}, ", c.Source.APIBase, c.Source.ProductID))
	b.WriteString(fmt.Sprintf("Pipeline: {ImportDir: %q, ImportURLBase: %q, BatchSize: %d, IncludeFiles: %v}, ",
		c.Pipeline.ImportDir, c.Pipeline.ImportURLBase, c.Pipeline.BatchSize, c.Pipeline.IncludeFiles))
	b.WriteString(fmt.Sprintf("Artifacts: {Backend: %q, Bucket: %q}, ", c.Artifacts.Backend, c.Artifacts.Bucket))
	b.WriteString(fmt.Sprintf("RunLog: {Backend: %q, RedisPassword: [MASKED]}, ", c.RunLog.Backend))
	b.WriteString(fmt.Sprintf("Security: {RequireAPIKey: %v, APIKeys: [%d MASKED]}, ",
		c.Security.RequireAPIKey, len(c.Security.APIKeys)))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}
