// Package config provides centralized configuration management for the
// application. It loads configuration from environment variables with
// sensible defaults and validates all settings on startup to fail fast on
// misconfiguration.
package config

import "time"

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Feishu   FeishuConfig
	Storage  StorageConfig
	Sync     SyncConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 30s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"30s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// FeishuConfig holds credentials and tuning for the bitable source API.
type FeishuConfig struct {
	// BaseURL is the API root (default: https://open.feishu.cn)
	BaseURL string `env:"FEISHU_BASE_URL" default:"https://open.feishu.cn"`

	// AppID identifies the application to the tenant token endpoint (required)
	AppID string `env:"FEISHU_APP_ID" required:"true"`

	// AppSecret is the application secret (required)
	AppSecret string `env:"FEISHU_APP_SECRET" required:"true"`

	// AppToken identifies the bitable app holding the product table (required)
	AppToken string `env:"FEISHU_APP_TOKEN" required:"true"`

	// TableID is the product table within the bitable app (required)
	TableID string `env:"FEISHU_TABLE_ID" required:"true"`

	// PageSize is records per page when listing (default: 500, API maximum)
	PageSize int `env:"FEISHU_PAGE_SIZE" default:"500"`

	// RequestsPerSecond caps outbound API calls (default: 5)
	RequestsPerSecond float64 `env:"FEISHU_REQUESTS_PER_SECOND" default:"5"`

	// Timeout bounds each individual API call (default: 30s)
	Timeout time.Duration `env:"FEISHU_TIMEOUT" default:"30s"`
}

// StorageConfig holds object storage settings for resolved images.
type StorageConfig struct {
	// Endpoint is the S3-compatible endpoint, empty for AWS proper
	Endpoint string `env:"STORAGE_ENDPOINT"`

	// Region passed to the S3 client (default: us-east-1)
	Region string `env:"STORAGE_REGION" default:"us-east-1"`

	// Bucket holding resolved images (required)
	Bucket string `env:"STORAGE_BUCKET" required:"true"`

	// AccessKey for static credentials (required)
	AccessKey string `env:"STORAGE_ACCESS_KEY" required:"true"`

	// SecretKey for static credentials (required)
	SecretKey string `env:"STORAGE_SECRET_KEY" required:"true"`

	// UsePathStyle forces path-style addressing, needed by MinIO (default: true)
	UsePathStyle bool `env:"STORAGE_USE_PATH_STYLE" default:"true"`

	// PublicBaseURL is the prefix of durable image URLs handed to clients (required)
	PublicBaseURL string `env:"STORAGE_PUBLIC_BASE_URL" required:"true"`
}

// SyncConfig holds synchronization run tuning.
type SyncConfig struct {
	// ImageWorkers bounds parallel image resolutions (default: 5)
	ImageWorkers int `env:"SYNC_IMAGE_WORKERS" default:"5"`

	// RunTimeout is the deadline for one full run (default: 30m)
	RunTimeout time.Duration `env:"SYNC_RUN_TIMEOUT" default:"30m"`

	// ImageCallTimeout bounds each download or upload call (default: 30s)
	ImageCallTimeout time.Duration `env:"SYNC_IMAGE_CALL_TIMEOUT" default:"30s"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey gates the sync trigger endpoints behind X-API-Key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`
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
	if c.Host == "" {
		return ":" + itoa(c.Port)
	}
	return c.Host + ":" + itoa(c.Port)
}

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
