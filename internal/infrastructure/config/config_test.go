package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
adapter:
  id: "bench-02"
  log_level: "Debug"
  strict: true
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  port: 9090
health:
  interval: 10
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Adapter.ID != "bench-02" {
		t.Errorf("Adapter.ID = %q, want %q", cfg.Adapter.ID, "bench-02")
	}
	if !cfg.Adapter.Strict {
		t.Error("Adapter.Strict = false, want true")
	}
	if cfg.Adapter.LogLevel != "Debug" {
		t.Errorf("Adapter.LogLevel = %q, want Debug", cfg.Adapter.LogLevel)
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
	if got := cfg.GetHealthInterval().Seconds(); got != 10 {
		t.Errorf("GetHealthInterval() = %vs, want 10s", got)
	}

	// Unset sections keep their defaults.
	if cfg.Adapter.InboxSize != 256 {
		t.Errorf("Adapter.InboxSize = %d, want default 256", cfg.Adapter.InboxSize)
	}
	if cfg.Channel.BreakerFailures != 5 {
		t.Errorf("Channel.BreakerFailures = %d, want default 5", cfg.Channel.BreakerFailures)
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Adapter.ID != "sim-01" {
		t.Errorf("Adapter.ID = %q, want sim-01", cfg.Adapter.ID)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	_, err := Load(writeConfig(t, `
adapter:
  id: ""
`))
	if err == nil {
		t.Error("Load() expected validation error for empty adapter.id, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "missing adapter ID",
			mutate:  func(c *Config) { c.Adapter.ID = "" },
			wantErr: "adapter.id is required",
		},
		{
			name:    "adapter ID with topic separator",
			mutate:  func(c *Config) { c.Adapter.ID = "lab/1" },
			wantErr: "adapter.id must not contain",
		},
		{
			name:    "adapter ID with wildcard",
			mutate:  func(c *Config) { c.Adapter.ID = "sim-#" },
			wantErr: "adapter.id must not contain",
		},
		{
			name:    "reserved adapter ID",
			mutate:  func(c *Config) { c.Adapter.ID = "service" },
			wantErr: "is reserved",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Adapter.LogLevel = "loud" },
			wantErr: "adapter.log_level",
		},
		{
			name:    "negative inbox",
			mutate:  func(c *Config) { c.Adapter.InboxSize = -1 },
			wantErr: "adapter.inbox_size",
		},
		{
			name:    "recorder without database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name: "no database path when recorder disabled",
			mutate: func(c *Config) {
				c.Database.Path = ""
				c.Recorder.Enabled = false
			},
		},
		{
			name:    "negative retention",
			mutate:  func(c *Config) { c.Recorder.RetentionDays = -1 },
			wantErr: "recorder.retention_days",
		},
		{
			name:    "retention without schedule",
			mutate:  func(c *Config) { c.Recorder.PruneSchedule = "" },
			wantErr: "recorder.prune_schedule",
		},
		{
			name: "no schedule needed when keeping everything",
			mutate: func(c *Config) {
				c.Recorder.RetentionDays = 0
				c.Recorder.PruneSchedule = ""
			},
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "invalid port low",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: "api.port",
		},
		{
			name:    "invalid port high",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: "api.port",
		},
		{
			name: "port ignored when API disabled",
			mutate: func(c *Config) {
				c.API.Enabled = false
				c.API.Port = 0
			},
		},
		{
			name:    "negative rate limit",
			mutate:  func(c *Config) { c.API.RateLimit.Burst = -1 },
			wantErr: "api.rate_limit",
		},
		{
			name:    "influxdb without URL",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: "influxdb.url",
		},
		{
			name: "unknown tracing exporter",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "jaeger"
			},
			wantErr: "tracing.exporter",
		},
		{
			name: "sample ratio out of range",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.SampleRatio = 1.5
			},
			wantErr: "tracing.sample_ratio",
		},
		{
			name: "engine settings ignored without command",
			mutate: func(c *Config) {
				c.Engine.MaxRestarts = -1
			},
		},
		{
			name: "engine negative restarts",
			mutate: func(c *Config) {
				c.Engine.Command = "/opt/sim/engine"
				c.Engine.MaxRestarts = -1
			},
			wantErr: "engine.max_restarts",
		},
		{
			name: "engine negative delay",
			mutate: func(c *Config) {
				c.Engine.Command = "/opt/sim/engine"
				c.Engine.RestartDelay = -5
			},
			wantErr: "engine delays",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateReportsEveryProblem(t *testing.T) {
	cfg := defaultConfig()
	cfg.Adapter.ID = ""
	cfg.MQTT.QoS = 7

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil")
	}
	for _, want := range []string{"adapter.id", "mqtt.qos"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error %q missing %q", err, want)
		}
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
			CallTimeout: 5,
		},
		Channel: ChannelConfig{BreakerTimeout: 12},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
	if got := cfg.GetCallTimeout().Seconds(); got != 5 {
		t.Errorf("GetCallTimeout() = %v, want 5", got)
	}
	if got := cfg.GetBreakerTimeout().Seconds(); got != 12 {
		t.Errorf("GetBreakerTimeout() = %v, want 12", got)
	}

	cfg.Recorder.RetentionDays = 2
	if got := cfg.GetRetention().Hours(); got != 48 {
		t.Errorf("GetRetention() = %vh, want 48h", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("BLEMULATOR_ADAPTER_ID", "ci-runner")
	t.Setenv("BLEMULATOR_ADAPTER_STRICT", "true")
	t.Setenv("BLEMULATOR_DATABASE_PATH", "/custom/path.db")
	t.Setenv("BLEMULATOR_MQTT_HOST", "mqtt.example.com")
	t.Setenv("BLEMULATOR_MQTT_PORT", "8883")
	t.Setenv("BLEMULATOR_MQTT_USERNAME", "testuser")
	t.Setenv("BLEMULATOR_MQTT_PASSWORD", "testpass")
	t.Setenv("BLEMULATOR_API_HOST", "192.168.1.1")
	t.Setenv("BLEMULATOR_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("BLEMULATOR_LOG_LEVEL", "debug")
	t.Setenv("BLEMULATOR_ENGINE_COMMAND", "/opt/sim/engine")

	applyEnvOverrides(cfg)

	if !cfg.EngineEnabled() || cfg.Engine.Command != "/opt/sim/engine" {
		t.Errorf("Engine.Command = %q, want /opt/sim/engine", cfg.Engine.Command)
	}

	if cfg.Adapter.ID != "ci-runner" {
		t.Errorf("Adapter.ID = %q, want ci-runner", cfg.Adapter.ID)
	}
	if !cfg.Adapter.Strict {
		t.Error("Adapter.Strict = false, want true")
	}
	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d, want 8883", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}
	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}
	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "192.168.1.1")
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestApplyEnvOverrides_IgnoresMalformedNumbers(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("BLEMULATOR_MQTT_PORT", "not-a-port")
	t.Setenv("BLEMULATOR_ADAPTER_STRICT", "sometimes")

	applyEnvOverrides(cfg)

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.Adapter.Strict {
		t.Error("Adapter.Strict = true, want false")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Adapter.ID == "" {
		t.Error("defaultConfig should have non-empty Adapter.ID")
	}
	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("defaultConfig API.Host = %q, want loopback", cfg.API.Host)
	}
	if cfg.InfluxDB.Enabled || cfg.Tracing.Enabled {
		t.Error("defaultConfig should leave InfluxDB and tracing disabled")
	}
	if cfg.EngineEnabled() {
		t.Error("defaultConfig should not launch an engine")
	}
}
