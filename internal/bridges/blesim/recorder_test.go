package blesim

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupRecorderDB creates an in-memory SQLite database with the recorder tables.
func setupRecorderDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE recorder_sessions (
			id          TEXT PRIMARY KEY,
			adapter_id  TEXT NOT NULL,
			started_at  INTEGER NOT NULL,
			ended_at    INTEGER
		) STRICT;

		CREATE TABLE traffic_log (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id      TEXT NOT NULL REFERENCES recorder_sessions(id) ON DELETE CASCADE,
			direction       TEXT NOT NULL CHECK (direction IN ('outbound', 'inbound')),
			kind            TEXT NOT NULL CHECK (kind IN ('call', 'reply', 'event')),
			operation       TEXT,
			correlation_id  TEXT,
			device_id       TEXT,
			payload         TEXT NOT NULL,
			recorded_at     INTEGER NOT NULL
		) STRICT;
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func TestTrafficRecorder_StartStop(t *testing.T) {
	db := setupRecorderDB(t)
	rec := NewTrafficRecorder(db, "sim-01")
	ctx := context.Background()

	if len(rec.SessionID()) != 26 {
		t.Errorf("SessionID() = %q, want a 26-char ULID", rec.SessionID())
	}
	if err := rec.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	// Double-start is a no-op.
	if err := rec.Start(ctx); err != nil {
		t.Fatalf("second Start() error: %v", err)
	}

	rec.Stop()
	rec.Stop()

	sessions, err := ListSessions(ctx, db, 10)
	if err != nil {
		t.Fatalf("ListSessions() error: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	s := sessions[0]
	if s.ID != rec.SessionID() || s.AdapterID != "sim-01" || s.EndedAt == nil {
		t.Errorf("session = %+v", s)
	}
}

func TestTrafficRecorder_Record(t *testing.T) {
	db := setupRecorderDB(t)
	rec := NewTrafficRecorder(db, "sim-01")
	ctx := context.Background()

	// Records before Start are dropped.
	rec.Record(TrafficEntry{Direction: DirectionOutbound, Kind: KindCall, Payload: []byte(`{}`)})

	if err := rec.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	rec.Record(TrafficEntry{
		Direction:     DirectionOutbound,
		Kind:          KindCall,
		Operation:     "connect",
		CorrelationID: "0",
		DeviceID:      "AA:BB",
		Payload:       []byte(`{"operation":"connect"}`),
		Timestamp:     time.Now(),
	})
	rec.Record(TrafficEntry{Direction: DirectionInbound, Kind: KindReply, CorrelationID: "0", Payload: []byte(`{}`)})

	count, err := rec.MessageCount(ctx, rec.SessionID())
	if err != nil {
		t.Fatalf("MessageCount() error: %v", err)
	}
	if count != 2 {
		t.Errorf("MessageCount() = %d, want 2", count)
	}

	var (
		operation sql.NullString
		deviceID  sql.NullString
	)
	if err := db.QueryRow(`SELECT operation, device_id FROM traffic_log WHERE kind = 'reply'`).Scan(&operation, &deviceID); err != nil {
		t.Fatalf("query reply row: %v", err)
	}
	if operation.Valid || deviceID.Valid {
		t.Errorf("empty fields stored as %v/%v, want NULL", operation, deviceID)
	}

	rec.Stop()
	// Records after Stop are dropped.
	rec.Record(TrafficEntry{Direction: DirectionInbound, Kind: KindEvent, Payload: []byte(`{}`)})
	if count, _ := rec.MessageCount(ctx, rec.SessionID()); count != 2 {
		t.Errorf("MessageCount() after Stop = %d, want 2", count)
	}
}

func TestTrafficRecorder_InvalidRowIsLoggedNotFatal(t *testing.T) {
	db := setupRecorderDB(t)
	rec := NewTrafficRecorder(db, "sim-01")
	logger := &countingLogger{}
	rec.SetLogger(logger)
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer rec.Stop()

	rec.Record(TrafficEntry{Direction: Direction("sideways"), Kind: KindCall, Payload: []byte(`{}`)})
	if logger.errors == 0 {
		t.Error("CHECK violation was not logged")
	}
}

func TestListSessions_NewestFirst(t *testing.T) {
	db := setupRecorderDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec := NewTrafficRecorder(db, "sim-01")
		if err := rec.Start(ctx); err != nil {
			t.Fatalf("Start() error: %v", err)
		}
		rec.Stop()
		time.Sleep(2 * time.Millisecond)
	}

	sessions, err := ListSessions(ctx, db, 2)
	if err != nil {
		t.Fatalf("ListSessions() error: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(sessions))
	}
	if sessions[0].StartedAt.Before(sessions[1].StartedAt) {
		t.Errorf("sessions not newest first: %v then %v", sessions[0].ID, sessions[1].ID)
	}
}

func TestTrafficRecorder_CapturesAdapterTraffic(t *testing.T) {
	db := setupRecorderDB(t)
	rec := NewTrafficRecorder(db, "sim-01")
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer rec.Stop()

	a, eng := newTestAdapter(t, Options{Recorder: rec})
	done, result := capture[struct{}]()
	if err := a.Enable(context.Background(), "en", done); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	eng.reply(t, eng.next(t, OpEnable), "null")
	await(t, result)

	count, err := rec.MessageCount(context.Background(), rec.SessionID())
	if err != nil || count != 2 {
		t.Errorf("MessageCount() = %d, %v; want 2", count, err)
	}
}

// countingLogger implements Logger and counts errors.
type countingLogger struct {
	errors int
}

func (l *countingLogger) Debug(string, ...any) {}
func (l *countingLogger) Info(string, ...any)  {}
func (l *countingLogger) Warn(string, ...any)  {}
func (l *countingLogger) Error(string, ...any) { l.errors++ }
