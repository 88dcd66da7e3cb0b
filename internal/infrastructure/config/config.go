package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for blemulator.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Adapter   AdapterConfig   `yaml:"adapter"`
	Channel   ChannelConfig   `yaml:"channel"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Logging   LoggingConfig   `yaml:"logging"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Health    HealthConfig    `yaml:"health"`
	Engine    EngineConfig    `yaml:"engine"`
}

// AdapterConfig contains settings for the simulated adapter.
type AdapterConfig struct {
	// ID scopes every channel topic: blemulator/{id}/...
	ID string `yaml:"id"`

	// LogLevel is the adapter's initial BLE log level
	// (None, Verbose, Debug, Info, Warning, Error).
	LogLevel string `yaml:"log_level"`

	// InboxSize is the number of operations the adapter loop buffers.
	InboxSize int `yaml:"inbox_size"`

	// Strict shuts the service down on the first protocol violation by the
	// simulation engine.
	Strict bool `yaml:"strict"`
}

// ChannelConfig contains circuit breaker settings for the simulation channel.
type ChannelConfig struct {
	BreakerFailures int `yaml:"breaker_failures"`
	BreakerTimeout  int `yaml:"breaker_timeout"` // seconds
}

// EngineConfig describes a simulation engine for serve to launch and
// supervise. An empty Command means the engine runs elsewhere.
type EngineConfig struct {
	Command         string   `yaml:"command"`
	Args            []string `yaml:"args"`
	Env             []string `yaml:"env"`
	WorkDir         string   `yaml:"work_dir"`
	Restart         bool     `yaml:"restart"`
	RestartDelay    int      `yaml:"restart_delay"`     // seconds
	MaxRestartDelay int      `yaml:"max_restart_delay"` // seconds
	MaxRestarts     int      `yaml:"max_restarts"`
	StopTimeout     int      `yaml:"stop_timeout"` // seconds
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled   bool             `yaml:"enabled"`
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	CORS      CORSConfig       `yaml:"cors"`
	RateLimit RateLimitConfig  `yaml:"rate_limit"`

	// CallTimeout bounds how long an API request waits for the engine to
	// answer a call, in seconds.
	CallTimeout int `yaml:"call_timeout"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// RateLimitConfig limits API requests per client IP. A zero
// RequestsPerMin disables limiting.
type RateLimitConfig struct {
	RequestsPerMin int `yaml:"requests_per_min"`
	Burst          int `yaml:"burst"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket event stream settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// TracingConfig contains OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Exporter selects the span exporter: "stdout" or "none".
	Exporter string `yaml:"exporter"`

	// SampleRatio is the fraction of calls traced, 0.0 to 1.0.
	SampleRatio float64 `yaml:"sample_ratio"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// RecorderConfig contains traffic recorder settings.
type RecorderConfig struct {
	Enabled bool `yaml:"enabled"`

	// RetentionDays prunes sessions idle for longer. 0 keeps everything.
	RetentionDays int `yaml:"retention_days"`

	// PruneSchedule is a cron expression or descriptor (@daily, @every 6h).
	PruneSchedule string `yaml:"prune_schedule"`
}

// HealthConfig contains health reporting settings.
type HealthConfig struct {
	Interval int `yaml:"interval"` // seconds
}

// validBLELogLevels are the accepted adapter.log_level values.
var validBLELogLevels = []string{"None", "Verbose", "Debug", "Info", "Warning", "Error"}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: BLEMULATOR_SECTION_KEY
// For example: BLEMULATOR_DATABASE_PATH, BLEMULATOR_ADAPTER_ID
//
// Parameters:
//   - path: Path to the YAML configuration file, or "" for defaults only
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Adapter: AdapterConfig{
			ID:        "sim-01",
			LogLevel:  "Verbose",
			InboxSize: 256,
		},
		Channel: ChannelConfig{
			BreakerFailures: 5,
			BreakerTimeout:  30,
		},
		Database: DatabaseConfig{
			Path:        "./data/blemulator.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "blemulator",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8380,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			CallTimeout: 10,
			RateLimit: RateLimitConfig{
				RequestsPerMin: 600,
				Burst:          60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/api/v1/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Bucket: "blemulator",
		},
		Tracing: TracingConfig{
			Exporter:    "stdout",
			SampleRatio: 1.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Recorder: RecorderConfig{
			Enabled:       true,
			RetentionDays: 14,
			PruneSchedule: "@daily",
		},
		Health: HealthConfig{
			Interval: 30,
		},
		Engine: EngineConfig{
			Restart:         true,
			RestartDelay:    1,
			MaxRestartDelay: 60,
			MaxRestarts:     10,
			StopTimeout:     10,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: BLEMULATOR_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Adapter
	if v := os.Getenv("BLEMULATOR_ADAPTER_ID"); v != "" {
		cfg.Adapter.ID = v
	}
	if v := os.Getenv("BLEMULATOR_ADAPTER_STRICT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Adapter.Strict = b
		}
	}

	// Database
	if v := os.Getenv("BLEMULATOR_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("BLEMULATOR_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("BLEMULATOR_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("BLEMULATOR_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("BLEMULATOR_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("BLEMULATOR_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("BLEMULATOR_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Engine
	if v := os.Getenv("BLEMULATOR_ENGINE_COMMAND"); v != "" {
		cfg.Engine.Command = v
	}

	// Logging
	if v := os.Getenv("BLEMULATOR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Adapter validation
	if c.Adapter.ID == "" {
		errs = append(errs, "adapter.id is required")
	} else if strings.ContainsAny(c.Adapter.ID, "/+#") {
		errs = append(errs, "adapter.id must not contain '/', '+' or '#'")
	} else if c.Adapter.ID == "service" {
		errs = append(errs, "adapter.id \"service\" is reserved")
	}
	if c.Adapter.LogLevel != "" && !slices.Contains(validBLELogLevels, c.Adapter.LogLevel) {
		errs = append(errs, fmt.Sprintf("adapter.log_level must be one of %s", strings.Join(validBLELogLevels, ", ")))
	}
	if c.Adapter.InboxSize < 0 {
		errs = append(errs, "adapter.inbox_size must not be negative")
	}

	// Database validation
	if c.Recorder.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the recorder is enabled")
	}

	if c.Recorder.RetentionDays < 0 {
		errs = append(errs, "recorder.retention_days must not be negative")
	}
	if c.Recorder.Enabled && c.Recorder.RetentionDays > 0 && c.Recorder.PruneSchedule == "" {
		errs = append(errs, "recorder.prune_schedule is required when retention is set")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.API.RateLimit.RequestsPerMin < 0 || c.API.RateLimit.Burst < 0 {
		errs = append(errs, "api.rate_limit values must not be negative")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// Tracing validation
	if c.Tracing.Enabled {
		if c.Tracing.Exporter != "stdout" && c.Tracing.Exporter != "none" {
			errs = append(errs, "tracing.exporter must be \"stdout\" or \"none\"")
		}
		if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
			errs = append(errs, "tracing.sample_ratio must be between 0 and 1")
		}
	}

	// Engine validation
	if c.Engine.Command != "" {
		if c.Engine.RestartDelay < 0 || c.Engine.MaxRestartDelay < 0 || c.Engine.StopTimeout < 0 {
			errs = append(errs, "engine delays and timeouts must not be negative")
		}
		if c.Engine.MaxRestarts < 0 {
			errs = append(errs, "engine.max_restarts must not be negative")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetCallTimeout returns how long API requests wait for the engine.
func (c *Config) GetCallTimeout() time.Duration {
	return time.Duration(c.API.CallTimeout) * time.Second
}

// GetHealthInterval returns the health publish interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Health.Interval) * time.Second
}

// EngineEnabled reports whether serve should launch the engine itself.
func (c *Config) EngineEnabled() bool {
	return c.Engine.Command != ""
}

// GetRetention returns how long recorder sessions are kept, 0 for ever.
func (c *Config) GetRetention() time.Duration {
	return time.Duration(c.Recorder.RetentionDays) * 24 * time.Hour
}

// GetBreakerTimeout returns how long the channel circuit stays open.
func (c *Config) GetBreakerTimeout() time.Duration {
	return time.Duration(c.Channel.BreakerTimeout) * time.Second
}
