// Package config loads the import server's settings from environment
// variables, applies defaults and validates everything on startup.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Backend  BackendConfig
	Import   ImportConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout bounds reading a request, upload body included (default: 60s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"60s"`

	// WriteTimeout is 0 by default so progress streams stay open.
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown, draining imports included (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for non-streaming routes (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// BackendConfig locates the personnel backend that receives imports.
type BackendConfig struct {
	// URL is the backend base URL. A trailing /api is tolerated.
	URL string `env:"BACKEND_URL" envAlt:"NEXT_PUBLIC_BACKEND_URL" default:"http://127.0.0.1:8000"`

	// Resource is the collection imports are posted to (default: employees)
	Resource string `env:"BACKEND_RESOURCE" default:"employees"`

	// AttemptTimeout bounds each candidate endpoint attempt (default: 15s)
	AttemptTimeout time.Duration `env:"BACKEND_ATTEMPT_TIMEOUT" default:"15s"`
}

// ImportConfig holds file import settings.
type ImportConfig struct {
	// MaxFileSize is the largest accepted file in bytes (default: 50MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"52428800"`

	// MaxConcurrent is the number of imports decoded at once (default: 4)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"4"`

	// MaxWaitTime is how long a new import waits for a slot (default: 30s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`

	// DecodeTimeout bounds the decoder for one file (default: 2m)
	DecodeTimeout time.Duration `env:"IMPORT_DECODE_TIMEOUT" default:"2m"`

	// Timeout bounds a whole background import (default: 10m)
	Timeout time.Duration `env:"IMPORT_TIMEOUT" default:"10m"`

	// Charset decodes text files that are not UTF-8 (default: windows-1256)
	Charset string `env:"IMPORT_CHARSET" default:"windows-1256"`

	// ProfilesFile is an optional YAML file of mapping profiles.
	ProfilesFile string `env:"IMPORT_PROFILES_FILE"`

	// Profile names the profile used when a request does not pick one.
	Profile string `env:"IMPORT_PROFILE"`

	// AutoMap maps headers against the backend schema when no profile is
	// configured (default: false, which lets the backend match by name).
	AutoMap bool `env:"IMPORT_AUTOMAP" default:"false"`

	// Retention is how long finished imports stay queryable (default: 5m)
	Retention time.Duration `env:"IMPORT_RETENTION" default:"5m"`
}

// RateLimitConfig holds per-IP rate limits.
type RateLimitConfig struct {
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// ImportLimit is requests per minute for import endpoints (default: 10)
	ImportLimit int `env:"RATE_LIMIT_IMPORT" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`
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
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
