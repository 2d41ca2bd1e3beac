// Package config provides centralized configuration management for the importer.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Import   ImportConfig
	Tools    ToolsConfig
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

	// ReadTimeout is the maximum duration for reading request body (default: 60s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"60s"`

	// WriteTimeout is the maximum duration for writing response (default: 0, imports can be long)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// DatabaseConfig holds database connection settings.
// Either URL or the discrete Host/Port/User/Password/Name fields are used;
// URL takes precedence when both are set.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	Host     string `env:"DB_HOST" default:"127.0.0.1"`
	Port     int    `env:"DB_PORT" default:"5432"`
	User     string `env:"DB_USER" default:"postgres"`
	Password string `env:"DB_PASSWORD"`
	Name     string `env:"DB_NAME"`

	// Schema is the target schema for imported tables (default: public)
	Schema string `env:"DB_SCHEMA" default:"public"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 1)
	MinConns int `env:"DB_MIN_CONNS" default:"1"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// ImportConfig holds import pipeline settings.
type ImportConfig struct {
	// WorkDir is the parent of the per-request working directories (default: OS temp dir)
	WorkDir string `env:"IMPORT_WORK_DIR"`

	// MaxFileSize is the maximum accepted source size in bytes (default: 512MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"536870912"`

	// ConvertTimeout bounds every external conversion process (default: 10m)
	ConvertTimeout time.Duration `env:"IMPORT_CONVERT_TIMEOUT" default:"10m"`

	// DownloadTimeout bounds fetching a remote source (default: 10m)
	DownloadTimeout time.Duration `env:"IMPORT_DOWNLOAD_TIMEOUT" default:"10m"`

	// MaxConcurrent is the maximum number of parallel imports in the server (default: 4)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"4"`

	// MaxWaitTime is how long a request waits for an import slot (default: 30s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`

	// DefaultSRID is forwarded to converters when the source does not declare one (default: 4326)
	DefaultSRID int `env:"IMPORT_DEFAULT_SRID" default:"4326"`

	// RasterTile is the raster2pgsql tile size (default: 180x180)
	RasterTile string `env:"IMPORT_RASTER_TILE" default:"180x180"`

	// Debug emits pipeline diagnostics at info level (default: false)
	Debug bool `env:"IMPORT_DEBUG" default:"false"`
}

// ToolsConfig names the external executables used by the conversion capabilities.
// Bare names are resolved on PATH.
type ToolsConfig struct {
	Ogr2ogr      string `env:"OGR2OGR_BIN" default:"ogr2ogr"`
	Shp2pgsql    string `env:"SHP2PGSQL_BIN" default:"shp2pgsql"`
	Raster2pgsql string `env:"RASTER2PGSQL_BIN" default:"raster2pgsql"`
	Psql         string `env:"PSQL_BIN" default:"psql"`
	Gdalsrsinfo  string `env:"GDALSRSINFO_BIN" default:"gdalsrsinfo"`
	Soffice      string `env:"SOFFICE_BIN" default:"soffice"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// ImportLimit is requests per minute per IP for the import endpoint (default: 10)
	ImportLimit int `env:"RATE_LIMIT_IMPORT" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey enables X-API-Key authentication on /api routes (default: false)
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
		return ":" + strconv.Itoa(c.Port)
	}
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// ConnString returns a connection string usable by pgx.
// URL wins when set, otherwise a postgres:// URL is assembled from the discrete fields.
func (c *DatabaseConfig) ConnString() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   c.Host + ":" + strconv.Itoa(c.Port),
		Path:   "/" + c.Name,
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	} else if c.User != "" {
		u.User = url.User(c.User)
	}
	return u.String()
}

// Params returns the discrete connection parameters, parsing URL when set.
// The external loaders (psql) need them separately.
func (c *DatabaseConfig) Params() (host string, port int, user, password, name string, err error) {
	if c.URL == "" {
		return c.Host, c.Port, c.User, c.Password, c.Name, nil
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", 0, "", "", "", fmt.Errorf("parse database url: %w", err)
	}
	host = u.Hostname()
	port = 5432
	if p := u.Port(); p != "" {
		if port, err = strconv.Atoi(p); err != nil {
			return "", 0, "", "", "", fmt.Errorf("parse database port: %w", err)
		}
	}
	if u.User != nil {
		user = u.User.Username()
		password, _ = u.User.Password()
	}
	if len(u.Path) > 1 {
		name = u.Path[1:]
	}
	return host, port, user, password, name, nil
}
