package blesim

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// TrafficRecorder persists every message crossing the channel into SQLite,
// grouped into sessions (one per adapter run).
//
// The database must have the recorder_sessions and traffic_log tables
// created (see migrations).
//
// Thread Safety: All methods are safe for concurrent use.
type TrafficRecorder struct {
	db        *sql.DB
	adapterID string
	sessionID string
	logger    Logger

	// Prepared insert (created once in Start, reused)
	insertStmt *sql.Stmt
	stmtMu     sync.Mutex

	// Shutdown coordination
	closed bool
	mu     sync.RWMutex
}

// SessionSummary describes one recorded session.
type SessionSummary struct {
	ID           string     `json:"id"`
	AdapterID    string     `json:"adapter_id"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	MessageCount int        `json:"message_count"`
}

// NewTrafficRecorder creates a recorder for one adapter. Each recorder gets
// a fresh, time-ordered session id.
func NewTrafficRecorder(db *sql.DB, adapterID string) *TrafficRecorder {
	now := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(now.UnixNano())), 0) //nolint:gosec // ids need uniqueness, not secrecy
	return &TrafficRecorder{
		db:        db,
		adapterID: adapterID,
		sessionID: ulid.MustNew(ulid.Timestamp(now), entropy).String(),
	}
}

// SetLogger sets the logger for the recorder.
func (r *TrafficRecorder) SetLogger(logger Logger) {
	r.logger = logger
}

// SessionID returns this recorder's session id.
func (r *TrafficRecorder) SessionID() string {
	return r.sessionID
}

// Start opens the session and prepares the insert statement.
// Must be called before Record.
func (r *TrafficRecorder) Start(ctx context.Context) error {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.insertStmt != nil {
		return nil // Already started
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO recorder_sessions (id, adapter_id, started_at)
		VALUES (?, ?, ?)
	`, r.sessionID, r.adapterID, time.Now().UTC().UnixMilli()); err != nil {
		return fmt.Errorf("creating recorder session: %w", err)
	}

	stmt, err := r.db.PrepareContext(ctx, `
		INSERT INTO traffic_log
			(session_id, direction, kind, operation, correlation_id, device_id, payload, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing traffic insert statement: %w", err)
	}

	r.insertStmt = stmt
	r.log("traffic recorder started", "session_id", r.sessionID)
	return nil
}

// Stop closes the session and releases resources.
func (r *TrafficRecorder) Stop() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.insertStmt != nil {
		r.insertStmt.Close()
		r.insertStmt = nil

		if _, err := r.db.Exec(`UPDATE recorder_sessions SET ended_at = ? WHERE id = ?`,
			time.Now().UTC().UnixMilli(), r.sessionID); err != nil {
			r.logError("closing recorder session", err)
		}
	}

	r.log("traffic recorder stopped", "session_id", r.sessionID)
}

// Record stores one message. Errors are logged, never returned, so a full
// disk cannot stall the adapter.
func (r *TrafficRecorder) Record(entry TrafficEntry) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return
	}
	r.mu.RUnlock()

	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()
	if r.insertStmt == nil {
		return // Not started
	}

	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	if _, err := r.insertStmt.Exec(
		r.sessionID,
		string(entry.Direction),
		entry.Kind,
		nullString(entry.Operation),
		nullString(entry.CorrelationID),
		nullString(entry.DeviceID),
		string(entry.Payload),
		ts.UnixMilli(),
	); err != nil {
		r.logError("recording traffic", err)
	}
}

// MessageCount returns the number of messages recorded in a session.
func (r *TrafficRecorder) MessageCount(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM traffic_log WHERE session_id = ?`, sessionID).Scan(&count)
	return count, err
}

// ListSessions returns recorded sessions, newest first.
func ListSessions(ctx context.Context, db *sql.DB, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT s.id, s.adapter_id, s.started_at, s.ended_at,
			(SELECT COUNT(*) FROM traffic_log t WHERE t.session_id = s.id)
		FROM recorder_sessions s
		ORDER BY s.started_at DESC, s.id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionSummary
	for rows.Next() {
		var (
			s       SessionSummary
			started int64
			ended   sql.NullInt64
		)
		if err := rows.Scan(&s.ID, &s.AdapterID, &started, &ended, &s.MessageCount); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		s.StartedAt = time.UnixMilli(started).UTC()
		if ended.Valid {
			t := time.UnixMilli(ended.Int64).UTC()
			s.EndedAt = &t
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// log logs an info message if logger is set.
func (r *TrafficRecorder) log(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error if logger is set.
func (r *TrafficRecorder) logError(msg string, err error) {
	if r.logger != nil {
		r.logger.Error(msg, "error", err)
	}
}
