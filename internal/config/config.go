// Package config manages the sensor gateway's configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete gateway configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Thresholds ThresholdsConfig `koanf:"thresholds"`
	Paths      PathsConfig      `koanf:"paths"`
	Limits     LimitsConfig     `koanf:"limits"`
	Metrics    MetricsConfig    `koanf:"metrics"`
	Log        LogConfig        `koanf:"log"`
}

// ServerConfig holds the ingress TCP listener configuration.
type ServerConfig struct {
	// ListenAddr is the sensor ingress listen address (e.g., ":9000").
	ListenAddr string `koanf:"listen_addr"`
}

// ThresholdsConfig holds the analytics thermal alert thresholds.
type ThresholdsConfig struct {
	// Cold is the running average below which a sensor is "too cold".
	Cold float64 `koanf:"cold"`
	// Hot is the running average above which a sensor is "too hot".
	Hot float64 `koanf:"hot"`
}

// PathsConfig holds the filesystem locations the original implementation
// compiled in as constants.
type PathsConfig struct {
	// LogPipe is the named pipe shared between the gateway and the log sink.
	LogPipe string `koanf:"log_pipe"`
	// LogFile is the durable log file the sink process appends to.
	LogFile string `koanf:"log_file"`
	// DatabaseDSN is the data source name for the persistence layer.
	DatabaseDSN string `koanf:"database_dsn"`
	// TableName is the SQL table readings are inserted into.
	TableName string `koanf:"table_name"`
	// RoomMap is the room/sensor map file; empty disables room resolution.
	RoomMap string `koanf:"room_map"`
	// AdminSocket is the administrative Unix-domain socket path.
	AdminSocket string `koanf:"admin_socket"`
}

// LimitsConfig holds connection and retry tunables.
type LimitsConfig struct {
	// MaxClients is the total number of concurrent ingress connections.
	MaxClients int `koanf:"max_clients"`
	// MaxConnectionsPerIP caps concurrent connections from a single peer IP.
	MaxConnectionsPerIP int `koanf:"max_connections_per_ip"`
	// IdleTimeout closes an ingress connection that sends nothing for this long.
	IdleTimeout time.Duration `koanf:"idle_timeout"`
	// ConnectRetryAttempts is the number of database (re)connect attempts
	// before the storage consumer gives up and signals the gateway to exit.
	ConnectRetryAttempts int `koanf:"connect_retry_attempts"`
	// ConnectRetryDelay is the delay between database connect attempts.
	ConnectRetryDelay time.Duration `koanf:"connect_retry_delay"`
	// RetryQueueCapacity bounds the storage consumer's local retry queue.
	RetryQueueCapacity int `koanf:"retry_queue_capacity"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds level and format settings for a bootstrap slog logger.
// cmd/sensorgw reads neither field: its bootstrap logger is always a text
// handler on stderr at slog's default level.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config reproducing the original implementation's
// compile-time constants (config.h), so the gateway runs correctly with
// zero configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":9000",
		},
		Thresholds: ThresholdsConfig{
			Cold: 15.0,
			Hot:  30.0,
		},
		Paths: PathsConfig{
			LogPipe:     "/tmp/sensor_gateway_log.fifo",
			LogFile:     "gateway.log",
			DatabaseDSN: "sensordata.db",
			TableName:   "SensorData",
			RoomMap:     "room_sensor.map",
			AdminSocket: "/tmp/sensor_gateway_cmd.sock",
		},
		Limits: LimitsConfig{
			MaxClients:           1024,
			MaxConnectionsPerIP:  5,
			IdleTimeout:          5 * time.Second,
			ConnectRetryAttempts: 3,
			ConnectRetryDelay:    5 * time.Second,
			RetryQueueCapacity:   20,
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for gateway configuration.
// Variables are named GATEWAY_<section>_<key>, e.g., GATEWAY_SERVER_LISTEN_ADDR.
const envPrefix = "GATEWAY_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (GATEWAY_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms GATEWAY_SERVER_LISTEN_ADDR -> server.listen_addr.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"server.listen_addr":            defaults.Server.ListenAddr,
		"thresholds.cold":               defaults.Thresholds.Cold,
		"thresholds.hot":                defaults.Thresholds.Hot,
		"paths.log_pipe":                defaults.Paths.LogPipe,
		"paths.log_file":                defaults.Paths.LogFile,
		"paths.database_dsn":            defaults.Paths.DatabaseDSN,
		"paths.table_name":              defaults.Paths.TableName,
		"paths.room_map":                defaults.Paths.RoomMap,
		"paths.admin_socket":            defaults.Paths.AdminSocket,
		"limits.max_clients":            defaults.Limits.MaxClients,
		"limits.max_connections_per_ip": defaults.Limits.MaxConnectionsPerIP,
		"limits.idle_timeout":           defaults.Limits.IdleTimeout.String(),
		"limits.connect_retry_attempts": defaults.Limits.ConnectRetryAttempts,
		"limits.connect_retry_delay":    defaults.Limits.ConnectRetryDelay.String(),
		"limits.retry_queue_capacity":   defaults.Limits.RetryQueueCapacity,
		"metrics.addr":                  defaults.Metrics.Addr,
		"metrics.path":                  defaults.Metrics.Path,
		"log.level":                     defaults.Log.Level,
		"log.format":                    defaults.Log.Format,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyListenAddr indicates the ingress listen address is empty.
	ErrEmptyListenAddr = errors.New("server.listen_addr must not be empty")

	// ErrInvalidThresholds indicates the cold threshold is not below the hot one.
	ErrInvalidThresholds = errors.New("thresholds.cold must be less than thresholds.hot")

	// ErrInvalidMaxClients indicates max_clients is not positive.
	ErrInvalidMaxClients = errors.New("limits.max_clients must be > 0")

	// ErrInvalidMaxConnectionsPerIP indicates max_connections_per_ip is not positive.
	ErrInvalidMaxConnectionsPerIP = errors.New("limits.max_connections_per_ip must be > 0")

	// ErrInvalidConnectRetryAttempts indicates connect_retry_attempts is not positive.
	ErrInvalidConnectRetryAttempts = errors.New("limits.connect_retry_attempts must be > 0")

	// ErrEmptyDatabaseDSN indicates the database DSN is empty.
	ErrEmptyDatabaseDSN = errors.New("paths.database_dsn must not be empty")

	// ErrEmptyTableName indicates the SQL table name is empty.
	ErrEmptyTableName = errors.New("paths.table_name must not be empty")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Server.ListenAddr == "" {
		return ErrEmptyListenAddr
	}

	if cfg.Thresholds.Cold >= cfg.Thresholds.Hot {
		return ErrInvalidThresholds
	}

	if cfg.Limits.MaxClients < 1 {
		return ErrInvalidMaxClients
	}

	if cfg.Limits.MaxConnectionsPerIP < 1 {
		return ErrInvalidMaxConnectionsPerIP
	}

	if cfg.Limits.ConnectRetryAttempts < 1 {
		return ErrInvalidConnectRetryAttempts
	}

	if cfg.Paths.DatabaseDSN == "" {
		return ErrEmptyDatabaseDSN
	}

	if cfg.Paths.TableName == "" {
		return ErrEmptyTableName
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
