package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-blemulator/internal/bridges/blesim"
	"github.com/nerrad567/gray-logic-blemulator/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-blemulator/internal/infrastructure/logging"
)

// writeConfig writes a minimal config whose database lives in a temp dir.
func writeConfig(t *testing.T, extra string) (configPath, dbPath string) {
	t.Helper()

	dir := t.TempDir()
	dbPath = filepath.Join(dir, "blemulator.db")
	configPath = filepath.Join(dir, "config.yaml")

	content := `
adapter:
  id: test-adapter
database:
  path: "` + dbPath + `"
  wal_mode: true
  busy_timeout: 5
api:
  enabled: false
logging:
  level: error
  format: text
  output: stdout
` + extra
	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath, dbPath
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, &serveOptions{globalOptions: &globalOptions{ConfigPath: "/nonexistent/path/config.yaml"}})
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("error = %v, want loading config", err)
	}
}

// TestRun_InvalidAdapterID verifies validation runs before anything connects.
func TestRun_InvalidAdapterID(t *testing.T) {
	configPath, _ := writeConfig(t, "")
	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	broken := strings.Replace(string(data), "id: test-adapter", "id: test/adapter", 1)
	if err := os.WriteFile(configPath, []byte(broken), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	err = run(context.Background(), &serveOptions{globalOptions: &globalOptions{ConfigPath: configPath}})
	if err == nil || !strings.Contains(err.Error(), "adapter.id") {
		t.Errorf("run() error = %v, want adapter.id validation failure", err)
	}
}

func TestConfigPath(t *testing.T) {
	t.Setenv("BLEMULATOR_CONFIG", "")
	if got := (&globalOptions{}).configPath(); got != defaultConfigPath {
		t.Errorf("configPath() = %q, want default %q", got, defaultConfigPath)
	}

	t.Setenv("BLEMULATOR_CONFIG", "/etc/blemulator/env.yaml")
	if got := (&globalOptions{}).configPath(); got != "/etc/blemulator/env.yaml" {
		t.Errorf("configPath() = %q, want env path", got)
	}

	opts := &globalOptions{ConfigPath: "/tmp/flag.yaml"}
	if got := opts.configPath(); got != "/tmp/flag.yaml" {
		t.Errorf("configPath() = %q, want flag path", got)
	}
}

func TestRootCommand(t *testing.T) {
	root := newRootCommand()

	for _, name := range []string{"serve", "sessions"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not registered: %v", name, err)
		}
	}

	serve, _, _ := root.Find([]string{"serve"}) //nolint:errcheck // checked above
	if serve.Flags().Lookup("strict") == nil {
		t.Error("serve has no --strict flag")
	}
	if root.PersistentFlags().Lookup("config") == nil {
		t.Error("root has no --config flag")
	}
}

// seedSession records one session with n messages into the configured database.
func seedSession(t *testing.T, dbPath string, n int) string {
	t.Helper()

	ctx := context.Background()
	db, err := openDatabase(ctx, config.DatabaseConfig{Path: dbPath, WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("openDatabase: %v", err)
	}
	defer db.Close()

	rec := blesim.NewTrafficRecorder(db.DB, "test-adapter")
	if err := rec.Start(ctx); err != nil {
		t.Fatalf("recorder Start: %v", err)
	}
	for i := 0; i < n; i++ {
		rec.Record(blesim.TrafficEntry{
			Direction: blesim.DirectionOutbound,
			Kind:      blesim.KindCall,
			Operation: "enable",
			Payload:   []byte(`{}`),
		})
	}
	rec.Stop()
	return rec.SessionID()
}

func TestSessionsCommand_JSON(t *testing.T) {
	configPath, dbPath := writeConfig(t, "")
	sessionID := seedSession(t, dbPath, 3)

	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"sessions", "--config", configPath, "--json"})

	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("sessions: %v", err)
	}

	var sessions []blesim.SessionSummary
	if err := json.Unmarshal(out.Bytes(), &sessions); err != nil {
		t.Fatalf("unmarshal %q: %v", out.String(), err)
	}
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	if sessions[0].ID != sessionID || sessions[0].MessageCount != 3 || sessions[0].EndedAt == nil {
		t.Errorf("session = %+v, want %s with 3 messages, ended", sessions[0], sessionID)
	}
}

func TestSessionsCommand_EmptyTable(t *testing.T) {
	configPath, _ := writeConfig(t, "")

	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"sessions", "--config", configPath})

	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if !strings.Contains(out.String(), "no recorded sessions") {
		t.Errorf("output = %q, want empty notice", out.String())
	}
}

func TestWriteSessionsTable(t *testing.T) {
	started := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	ended := started.Add(90 * time.Second)
	sessions := []blesim.SessionSummary{
		{ID: "01J0000000000000000000000B", AdapterID: "sim-01", StartedAt: started, MessageCount: 4},
		{ID: "01J0000000000000000000000A", AdapterID: "sim-01", StartedAt: started, EndedAt: &ended, MessageCount: 12},
	}

	var out bytes.Buffer
	if err := writeSessionsTable(&out, sessions); err != nil {
		t.Fatalf("writeSessionsTable: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want header + 2:\n%s", len(lines), out.String())
	}
	if !strings.HasPrefix(lines[0], "SESSION") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "running") {
		t.Errorf("open session row = %q, want running", lines[1])
	}
	if !strings.Contains(lines[2], "1m30s") || !strings.HasSuffix(strings.TrimSpace(lines[2]), "12") {
		t.Errorf("closed session row = %q, want 1m30s and 12 messages", lines[2])
	}
}

func TestEngineStats_NilSupervisor(t *testing.T) {
	if src := engineStats(nil); src != nil {
		t.Errorf("engineStats(nil) = %v, want untyped nil", src)
	}
}

func TestNewEngineSupervisor_StartsConfiguredCommand(t *testing.T) {
	cfg := &config.Config{
		Adapter: config.AdapterConfig{ID: "bench-03"},
		MQTT: config.MQTTConfig{
			Broker: config.MQTTBrokerConfig{Host: "broker.local", Port: 1884},
		},
		Engine: config.EngineConfig{
			Command:     "/bin/sleep",
			Args:        []string{"60"},
			StopTimeout: 2,
		},
	}

	sup := newEngineSupervisor(cfg, logging.Default())
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if stats := sup.Stats(); stats.Command != "/bin/sleep" || stats.PID == 0 {
		t.Errorf("Stats() = %+v, want running /bin/sleep", stats)
	}
	if err := sup.Stop(); err != nil {
		t.Errorf("Stop() error: %v", err)
	}
}

func TestSessionsPrune(t *testing.T) {
	configPath, dbPath := writeConfig(t, "")
	seedSession(t, dbPath, 2)

	execute := func(args ...string) string {
		t.Helper()
		root := newRootCommand()
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetArgs(append([]string{"--config", configPath}, args...))
		if err := root.ExecuteContext(context.Background()); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
		return out.String()
	}

	// The seeded session is seconds old
	if got := execute("sessions", "prune", "--older-than", "1h"); !strings.Contains(got, "pruned 0 sessions") {
		t.Errorf("prune 1h output = %q", got)
	}

	time.Sleep(20 * time.Millisecond)
	if got := execute("sessions", "prune", "--older-than", "10ms"); !strings.Contains(got, "pruned 1 sessions") {
		t.Errorf("prune 10ms output = %q", got)
	}
	if got := execute("sessions"); !strings.Contains(got, "no recorded sessions") {
		t.Errorf("sessions after prune = %q", got)
	}
}

func TestSessionsPrune_RejectsNonPositiveAge(t *testing.T) {
	configPath, _ := writeConfig(t, "")
	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"--config", configPath, "sessions", "prune", "--older-than", "0s"})
	if err := root.ExecuteContext(context.Background()); err == nil {
		t.Error("prune with zero age should fail")
	}
}
