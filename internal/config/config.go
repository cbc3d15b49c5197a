// Package config provides gateway configuration: built-in defaults, an optional YAML or JSONC file,
// then GATEWAY_* environment overrides.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/morezero/editor-gateway/pkg/async"
	"github.com/morezero/editor-gateway/pkg/dispatcher"
	"github.com/morezero/editor-gateway/pkg/transport"
)

const logPrefix = "config:config"

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "GATEWAY"

// Seconds is a duration expressed in (fractional) seconds in files and environment variables.
type Seconds float64

// Duration converts s to a time.Duration.
func (s Seconds) Duration() time.Duration {
	return time.Duration(float64(s) * float64(time.Second))
}

// Config holds editor-gateway configuration.
type Config struct {
	Connection  ConnectionConfig  `yaml:"connection" json:"connection" envconfig:"CONNECTION"`
	Performance PerformanceConfig `yaml:"performance" json:"performance" envconfig:"PERFORMANCE"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging" envconfig:"LOGGING"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" json:"telemetry" envconfig:"TELEMETRY"`
	Comms       CommsConfig       `yaml:"comms" json:"comms" envconfig:"COMMS"`
	Storage     StorageConfig     `yaml:"storage" json:"storage" envconfig:"STORAGE"`
	HTTP        HTTPConfig        `yaml:"http" json:"http" envconfig:"HTTP"`

	// CatalogFile overrides the built-in command catalog.
	CatalogFile string `yaml:"catalog_file" json:"catalog_file" envconfig:"CATALOG_FILE"`
	// HostVersionConstraint is checked against the version reported by get_system_info.
	HostVersionConstraint string `yaml:"host_version_constraint" json:"host_version_constraint" envconfig:"HOST_VERSION_CONSTRAINT"`
}

// ConnectionConfig is the editor host socket.
type ConnectionConfig struct {
	Host                 string  `yaml:"host" json:"host" envconfig:"HOST"`
	Port                 int     `yaml:"port" json:"port" envconfig:"PORT"`
	SocketTimeout        Seconds `yaml:"socket_timeout" json:"socket_timeout" envconfig:"SOCKET_TIMEOUT"`
	MaxReconnectAttempts int     `yaml:"max_reconnect_attempts" json:"max_reconnect_attempts" envconfig:"MAX_RECONNECT_ATTEMPTS"`
	ReconnectDelay       Seconds `yaml:"reconnect_delay" json:"reconnect_delay" envconfig:"RECONNECT_DELAY"`
	HeartbeatInterval    Seconds `yaml:"heartbeat_interval" json:"heartbeat_interval" envconfig:"HEARTBEAT_INTERVAL"`
}

// PerformanceConfig covers caching, batch and async limits.
type PerformanceConfig struct {
	EnableCaching      bool     `yaml:"enable_caching" json:"enable_caching" envconfig:"ENABLE_CACHING"`
	CacheTTL           Seconds  `yaml:"cache_ttl" json:"cache_ttl" envconfig:"CACHE_TTL"`
	MaxCacheSize       int      `yaml:"max_cache_size" json:"max_cache_size" envconfig:"MAX_CACHE_SIZE"`
	BatchSizeLimit     int      `yaml:"batch_size_limit" json:"batch_size_limit" envconfig:"BATCH_SIZE_LIMIT"`
	AsyncTimeout       Seconds  `yaml:"async_timeout" json:"async_timeout" envconfig:"ASYNC_TIMEOUT"`
	MaxAsyncOperations int      `yaml:"max_async_operations" json:"max_async_operations" envconfig:"MAX_ASYNC_OPERATIONS"`
	OperationRetention Seconds  `yaml:"operation_retention" json:"operation_retention" envconfig:"OPERATION_RETENTION"`
	CacheableCommands  []string `yaml:"cacheable_commands" json:"cacheable_commands" envconfig:"CACHEABLE_COMMANDS"`
}

// LoggingConfig covers the slog level and the in-memory error history.
type LoggingConfig struct {
	Level             string `yaml:"level" json:"level" envconfig:"LEVEL"`
	MaxErrorsInMemory int    `yaml:"max_errors_in_memory" json:"max_errors_in_memory" envconfig:"MAX_ERRORS_IN_MEMORY"`
}

// TelemetryConfig decides how loudly per-command timings are logged.
type TelemetryConfig struct {
	Enabled                   bool `yaml:"enabled" json:"enabled" envconfig:"ENABLED"`
	CollectPerformanceMetrics bool `yaml:"collect_performance_metrics" json:"collect_performance_metrics" envconfig:"COLLECT_PERFORMANCE_METRICS"`
}

// CommsConfig is the NATS request surface.
type CommsConfig struct {
	URL            string  `yaml:"url" json:"url" envconfig:"URL"`
	Name           string  `yaml:"name" json:"name" envconfig:"NAME"`
	Subject        string  `yaml:"subject" json:"subject" envconfig:"SUBJECT"`
	EventSubject   string  `yaml:"event_subject" json:"event_subject" envconfig:"EVENT_SUBJECT"`
	RequestTimeout Seconds `yaml:"request_timeout" json:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
}

// StorageConfig covers the Postgres error mirror and the SQLite operation archive.
type StorageConfig struct {
	DatabaseURL   string `yaml:"database_url" json:"database_url" envconfig:"DATABASE_URL"`
	RunMigrations bool   `yaml:"run_migrations" json:"run_migrations" envconfig:"RUN_MIGRATIONS"`
	MigrationPath string `yaml:"migration_path" json:"migration_path" envconfig:"MIGRATION_PATH"`
	HistoryPath   string `yaml:"history_path" json:"history_path" envconfig:"HISTORY_PATH"`
	HistoryKeep   int    `yaml:"history_keep" json:"history_keep" envconfig:"HISTORY_KEEP"`
}

// HTTPConfig is the admin HTTP surface.
type HTTPConfig struct {
	Addr               string  `yaml:"addr" json:"addr" envconfig:"ADDR"`
	HealthCheckTimeout Seconds `yaml:"health_check_timeout" json:"health_check_timeout" envconfig:"HEALTH_CHECK_TIMEOUT"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Connection: ConnectionConfig{
			Host:                 "localhost",
			Port:                 8080,
			SocketTimeout:        15,
			MaxReconnectAttempts: 5,
			ReconnectDelay:       2,
			HeartbeatInterval:    30,
		},
		Performance: PerformanceConfig{
			EnableCaching:      true,
			CacheTTL:           300,
			MaxCacheSize:       1000,
			BatchSizeLimit:     50,
			AsyncTimeout:       300,
			MaxAsyncOperations: 100,
			OperationRetention: 600,
			CacheableCommands:  append([]string(nil), dispatcher.DefaultCacheable...),
		},
		Logging: LoggingConfig{
			Level:             "info",
			MaxErrorsInMemory: 100,
		},
		Telemetry: TelemetryConfig{
			Enabled:                   true,
			CollectPerformanceMetrics: true,
		},
		Comms: CommsConfig{
			URL:            "nats://127.0.0.1:4222",
			Name:           "editor-gateway",
			Subject:        "gateway.editor.v1",
			EventSubject:   "gateway.operations",
			RequestTimeout: 25,
		},
		Storage: StorageConfig{
			MigrationPath: "migrations",
			HistoryKeep:   1000,
		},
		HTTP: HTTPConfig{
			Addr:               ":8081",
			HealthCheckTimeout: 5,
		},
		HostVersionConstraint: ">= 1.0.0",
	}
}

// Load builds the configuration from defaults, the file at path (or GATEWAY_CONFIG_FILE when path
// is empty) and environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG_FILE")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
		slog.Debug(fmt.Sprintf("%s - loaded %s", logPrefix, path))
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("%s - environment: %w", logPrefix, err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%s - read %s: %w", logPrefix, path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(c); err != nil {
			return fmt.Errorf("%s - parse %s: %w", logPrefix, path, err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("%s - parse %s: %w", logPrefix, path, err)
		}
	}
	return nil
}

// Validate checks limits and timeouts.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Connection.Host) == "":
		return fmt.Errorf("%s - connection.host is required", logPrefix)
	case c.Connection.Port <= 0 || c.Connection.Port > 65535:
		return fmt.Errorf("%s - connection.port must be between 1 and 65535", logPrefix)
	case c.Connection.SocketTimeout <= 0:
		return fmt.Errorf("%s - connection.socket_timeout must be positive", logPrefix)
	case c.Connection.MaxReconnectAttempts < 0:
		return fmt.Errorf("%s - connection.max_reconnect_attempts must not be negative", logPrefix)
	case c.Connection.ReconnectDelay < 0:
		return fmt.Errorf("%s - connection.reconnect_delay must not be negative", logPrefix)
	case c.Connection.HeartbeatInterval <= 0:
		return fmt.Errorf("%s - connection.heartbeat_interval must be positive", logPrefix)
	case c.Performance.CacheTTL <= 0:
		return fmt.Errorf("%s - performance.cache_ttl must be positive", logPrefix)
	case c.Performance.MaxCacheSize <= 0:
		return fmt.Errorf("%s - performance.max_cache_size must be positive", logPrefix)
	case c.Performance.BatchSizeLimit <= 0:
		return fmt.Errorf("%s - performance.batch_size_limit must be positive", logPrefix)
	case c.Performance.AsyncTimeout <= 0:
		return fmt.Errorf("%s - performance.async_timeout must be positive", logPrefix)
	case c.Performance.MaxAsyncOperations <= 0:
		return fmt.Errorf("%s - performance.max_async_operations must be positive", logPrefix)
	case c.Performance.OperationRetention <= 0:
		return fmt.Errorf("%s - performance.operation_retention must be positive", logPrefix)
	case c.Logging.MaxErrorsInMemory <= 0:
		return fmt.Errorf("%s - logging.max_errors_in_memory must be positive", logPrefix)
	case c.Comms.RequestTimeout <= 0:
		return fmt.Errorf("%s - comms.request_timeout must be positive", logPrefix)
	case c.HTTP.HealthCheckTimeout <= 0:
		return fmt.Errorf("%s - http.health_check_timeout must be positive", logPrefix)
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

// ValidateForDB checks required config when running DB-dependent commands (migrate, ensure-db, clear-errors).
func (c *Config) ValidateForDB() error {
	if c.Storage.DatabaseURL == "" {
		return fmt.Errorf("%s - storage.database_url (GATEWAY_STORAGE_DATABASE_URL) is required", logPrefix)
	}
	return nil
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("%s - unknown logging.level %q", logPrefix, level)
}

// TransportConfig returns the socket settings.
func (c *Config) TransportConfig() transport.Config {
	tc := transport.DefaultConfig()
	tc.Host = c.Connection.Host
	tc.Port = c.Connection.Port
	tc.SocketTimeout = c.Connection.SocketTimeout.Duration()
	tc.MaxReconnectAttempts = c.Connection.MaxReconnectAttempts
	tc.ReconnectDelay = c.Connection.ReconnectDelay.Duration()
	tc.HeartbeatInterval = c.Connection.HeartbeatInterval.Duration()
	return tc
}

// DispatcherConfig returns the cache and timing-log settings.
func (c *Config) DispatcherConfig() dispatcher.Config {
	return dispatcher.Config{
		EnableCaching:     c.Performance.EnableCaching,
		CacheTTL:          c.Performance.CacheTTL.Duration(),
		MaxCacheSize:      c.Performance.MaxCacheSize,
		CacheableCommands: c.Performance.CacheableCommands,
		LogTimings:        c.Telemetry.Enabled && c.Telemetry.CollectPerformanceMetrics,
	}
}

// AsyncConfig returns the async operation limits.
func (c *Config) AsyncConfig() async.Config {
	return async.Config{
		Timeout:       c.Performance.AsyncTimeout.Duration(),
		MaxOperations: c.Performance.MaxAsyncOperations,
		Retention:     c.Performance.OperationRetention.Duration(),
	}
}
