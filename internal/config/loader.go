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
	if c.Server.RequestTimeout <= 0 {
		errs = append(errs, "SERVER_REQUEST_TIMEOUT must be positive")
	}

	// Session validation
	if c.Session.TTL <= 0 {
		errs = append(errs, "SESSION_TTL must be positive")
	}
	if c.Session.SweepInterval <= 0 {
		errs = append(errs, "SESSION_SWEEP_INTERVAL must be positive")
	}
	if c.Session.LockWait <= 0 {
		errs = append(errs, "SESSION_LOCK_WAIT must be positive")
	}

	// Upload validation
	if c.Upload.MaxFileSize <= 0 {
		errs = append(errs, "UPLOAD_MAX_FILE_SIZE must be positive")
	}
	if c.Upload.MaxRows <= 0 {
		errs = append(errs, "UPLOAD_MAX_ROWS must be positive")
	}

	// Preview validation
	if c.Preview.DefaultLimit <= 0 {
		errs = append(errs, "PREVIEW_DEFAULT_LIMIT must be positive")
	}
	if c.Preview.MaxLimit < c.Preview.DefaultLimit {
		errs = append(errs, fmt.Sprintf("PREVIEW_MAX_LIMIT (%d) must be >= PREVIEW_DEFAULT_LIMIT (%d)",
			c.Preview.MaxLimit, c.Preview.DefaultLimit))
	}

	// Instruction validation
	if c.Instruction.Timeout <= 0 {
		errs = append(errs, "INSTRUCTION_TIMEOUT must be positive")
	}
	if c.Instruction.MaxConcurrent <= 0 {
		errs = append(errs, "INSTRUCTION_MAX_CONCURRENT must be positive")
	}
	if c.Instruction.MaxWaitTime <= 0 {
		errs = append(errs, "INSTRUCTION_MAX_WAIT_TIME must be positive")
	}
	if c.Instruction.ResultRetention <= 0 {
		errs = append(errs, "INSTRUCTION_RESULT_RETENTION must be positive")
	}
	if c.Sandbox.Timeout <= 0 {
		errs = append(errs, "SANDBOX_TIMEOUT must be positive")
	}
	if c.Sandbox.Timeout > c.Instruction.Timeout {
		errs = append(errs, fmt.Sprintf("SANDBOX_TIMEOUT (%s) must not exceed INSTRUCTION_TIMEOUT (%s)",
			c.Sandbox.Timeout, c.Instruction.Timeout))
	}

	// Translator validation
	switch strings.ToLower(c.Translator.Backend) {
	case "http":
		if c.Translator.URL == "" {
			errs = append(errs, "TRANSLATOR_URL is required for the http translator backend")
		}
	case "vertex":
		if c.Translator.Project == "" {
			errs = append(errs, "VERTEX_PROJECT is required for the vertex translator backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("TRANSLATOR_BACKEND (%q) must be one of: http, vertex", c.Translator.Backend))
	}
	if c.Translator.RPS < 0 {
		errs = append(errs, "TRANSLATOR_RPS must be non-negative")
	}
	if c.Translator.MaxRetries < 0 {
		errs = append(errs, "TRANSLATOR_MAX_RETRIES must be non-negative")
	}

	// Rate limit validation
	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}

	// Database validation
	if c.Database.Enabled() {
		if c.Database.MaxConns < c.Database.MinConns {
			errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
				c.Database.MaxConns, c.Database.MinConns))
		}
		if c.Database.MaxConns <= 0 {
			errs = append(errs, "DB_MAX_CONNS must be positive")
		}
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
// Secrets such as the database URL and translator API key are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Addr: %q}, ", c.Server.Addr())
	fmt.Fprintf(&b, "Session: {TTL: %s, LockWait: %s}, ", c.Session.TTL, c.Session.LockWait)
	fmt.Fprintf(&b, "Upload: {MaxFileSize: %d, MaxRows: %d}, ", c.Upload.MaxFileSize, c.Upload.MaxRows)
	fmt.Fprintf(&b, "Instruction: {Timeout: %s, MaxConcurrent: %d}, ",
		c.Instruction.Timeout, c.Instruction.MaxConcurrent)
	fmt.Fprintf(&b, "Translator: {Backend: %q, URL: %q, APIKey: %s}, ",
		c.Translator.Backend, c.Translator.URL, mask(c.Translator.APIKey))
	fmt.Fprintf(&b, "Database: {URL: %s, MaxConns: %d}, ", mask(c.Database.URL), c.Database.MaxConns)
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q, Seq: %v}",
		c.Logging.Level, c.Logging.Format, c.Logging.SeqURL != "")
	b.WriteString("}")
	return b.String()
}

func mask(secret string) string {
	if secret == "" {
		return "[UNSET]"
	}
	return "[MASKED]"
}
