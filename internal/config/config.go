// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server      ServerConfig
	Session     SessionConfig
	Upload      UploadConfig
	Preview     PreviewConfig
	Instruction InstructionConfig
	Sandbox     SandboxConfig
	Translator  TranslatorConfig
	Rate        RateLimitConfig
	Security    SecurityConfig
	Database    DatabaseConfig
	Logging     LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" envAlt:"PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 60s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"60s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE
	// and long-running instructions)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout bounds quick requests: preview, edits, export (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// SessionConfig holds session lifecycle settings.
type SessionConfig struct {
	// TTL is how long an idle session lives (default: 1h)
	TTL time.Duration `env:"SESSION_TTL" default:"1h"`

	// SweepInterval is how often idle sessions are expired (default: 1m)
	SweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" default:"1m"`

	// LockWait bounds the wait for a busy session lock (default: 5s)
	LockWait time.Duration `env:"SESSION_LOCK_WAIT" default:"5s"`

	// HistoryLimit is the number of commits remembered per session (default: 100)
	HistoryLimit int `env:"SESSION_HISTORY_LIMIT" default:"100"`
}

// UploadConfig holds upload parsing settings.
type UploadConfig struct {
	// MaxFileSize is the maximum allowed file size in bytes (default: 100MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"104857600"`

	// MaxRows caps the rows of an uploaded or generated table (default: 1000000)
	MaxRows int `env:"UPLOAD_MAX_ROWS" default:"1000000"`
}

// PreviewConfig holds preview windowing settings.
type PreviewConfig struct {
	// DefaultLimit applies when the client sends no limit (default: 2000)
	DefaultLimit int `env:"PREVIEW_DEFAULT_LIMIT" default:"2000"`

	// MaxLimit caps any requested limit (default: 20000)
	MaxLimit int `env:"PREVIEW_MAX_LIMIT" default:"20000"`
}

// InstructionConfig holds instruction pipeline settings.
type InstructionConfig struct {
	// Timeout bounds translation plus execution (default: 180s)
	Timeout time.Duration `env:"INSTRUCTION_TIMEOUT" default:"180s"`

	// ResultRetention is how long finished instructions can be polled (default: 5m)
	ResultRetention time.Duration `env:"INSTRUCTION_RESULT_RETENTION" default:"5m"`

	// MaxConcurrent is the maximum number of instructions running across all
	// sessions (default: 4)
	MaxConcurrent int `env:"INSTRUCTION_MAX_CONCURRENT" default:"4"`

	// MaxWaitTime is how long to wait for an execution slot (default: 30s)
	MaxWaitTime time.Duration `env:"INSTRUCTION_MAX_WAIT_TIME" default:"30s"`

	// ProgressInterval is the period of elapsed-time notices (default: 1s)
	ProgressInterval time.Duration `env:"INSTRUCTION_PROGRESS_INTERVAL" default:"1s"`

	// SchemaSampleRows is how many rows the translator sees (default: 5)
	SchemaSampleRows int `env:"INSTRUCTION_SCHEMA_SAMPLE_ROWS" default:"5"`
}

// SandboxConfig holds generated-code execution settings.
type SandboxConfig struct {
	// Timeout bounds a single sandbox run (default: 30s)
	Timeout time.Duration `env:"SANDBOX_TIMEOUT" default:"30s"`
}

// TranslatorConfig selects and configures the instruction translator.
type TranslatorConfig struct {
	// Backend is "http" or "vertex" (default: http)
	Backend string `env:"TRANSLATOR_BACKEND" default:"http"`

	// URL is the generate endpoint of the HTTP backend
	URL string `env:"TRANSLATOR_URL" envAlt:"LLM_SERVER_URL"`

	// APIKey is sent as a bearer token to the HTTP backend
	APIKey string `env:"TRANSLATOR_API_KEY"`

	// Timeout bounds one translator call (default: 180s)
	Timeout time.Duration `env:"TRANSLATOR_TIMEOUT" default:"180s"`

	// RPS throttles outbound calls; 0 disables throttling (default: 2)
	RPS int `env:"TRANSLATOR_RPS" default:"2"`

	// MaxRetries is the number of retries after a transient failure (default: 3)
	MaxRetries int `env:"TRANSLATOR_MAX_RETRIES" default:"3"`

	// Project, Location and Model configure the Vertex AI backend
	Project  string `env:"VERTEX_PROJECT" envAlt:"GOOGLE_CLOUD_PROJECT"`
	Location string `env:"VERTEX_LOCATION" default:"us-central1"`
	Model    string `env:"VERTEX_MODEL" default:"gemini-1.5-pro-002"`

	// CredentialsFile and Endpoint override Vertex AI defaults when set
	CredentialsFile string `env:"VERTEX_CREDENTIALS_FILE" envAlt:"GOOGLE_APPLICATION_CREDENTIALS"`
	Endpoint        string `env:"VERTEX_ENDPOINT"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 300)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"300"`

	// UploadLimit is requests per minute for the upload endpoint (default: 10)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"10"`

	// InstructionLimit is requests per minute for instruction submission (default: 20)
	InstructionLimit int `env:"RATE_LIMIT_INSTRUCTION" default:"20"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`
}

// DatabaseConfig holds the optional audit database settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string; empty disables the audit log
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 4)
	MaxConns int `env:"DB_MAX_CONNS" default:"4"`

	// MinConns is the minimum number of connections to keep open (default: 1)
	MinConns int `env:"DB_MIN_CONNS" default:"1"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// Enabled reports whether an audit database is configured.
func (c *DatabaseConfig) Enabled() bool {
	return c.URL != ""
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`

	// SeqURL ships logs to a Seq server when set
	SeqURL string `env:"LOG_SEQ_URL"`

	// SeqFlushInterval is how often batched Seq events are sent (default: 2s)
	SeqFlushInterval time.Duration `env:"LOG_SEQ_FLUSH_INTERVAL" default:"2s"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
