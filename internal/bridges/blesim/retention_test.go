package blesim

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"
)

// insertSession adds a session row and n traffic rows at lastMsg.
func insertSession(t *testing.T, db *sql.DB, id string, started time.Time, ended *time.Time, n int, lastMsg time.Time) {
	t.Helper()

	var endedAt any
	if ended != nil {
		endedAt = ended.UnixMilli()
	}
	if _, err := db.Exec(`INSERT INTO recorder_sessions (id, adapter_id, started_at, ended_at) VALUES (?, 'sim-01', ?, ?)`,
		id, started.UnixMilli(), endedAt); err != nil {
		t.Fatalf("insert session %s: %v", id, err)
	}
	for i := 0; i < n; i++ {
		if _, err := db.Exec(`INSERT INTO traffic_log (session_id, direction, kind, operation, payload, recorded_at)
			VALUES (?, 'outbound', 'call', 'enable', '{}', ?)`, id, lastMsg.UnixMilli()); err != nil {
			t.Fatalf("insert traffic for %s: %v", id, err)
		}
	}
}

func sessionIDs(t *testing.T, db *sql.DB) map[string]bool {
	t.Helper()
	sessions, err := ListSessions(context.Background(), db, 100)
	if err != nil {
		t.Fatalf("ListSessions() error: %v", err)
	}
	ids := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		ids[s.ID] = true
	}
	return ids
}

func TestPruneSessions(t *testing.T) {
	db := setupRecorderDB(t)
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	old := now.Add(-30 * 24 * time.Hour)
	recent := now.Add(-time.Hour)

	oldEnd := old.Add(time.Hour)
	recentEnd := recent.Add(10 * time.Minute)

	insertSession(t, db, "ended-old", old, &oldEnd, 3, old)
	insertSession(t, db, "ended-recent", recent, &recentEnd, 2, recent)
	insertSession(t, db, "open-still-recording", old, nil, 1, recent)
	insertSession(t, db, "open-crashed", old, nil, 0, old)
	insertSession(t, db, "live", old, nil, 0, old)

	pruned, err := PruneSessions(context.Background(), db, now.Add(-7*24*time.Hour), "live")
	if err != nil {
		t.Fatalf("PruneSessions() error: %v", err)
	}
	if pruned != 2 {
		t.Errorf("pruned = %d, want 2", pruned)
	}

	ids := sessionIDs(t, db)
	for id, want := range map[string]bool{
		"ended-old":            false,
		"ended-recent":         true,
		"open-still-recording": true,
		"open-crashed":         false,
		"live":                 true,
	} {
		if ids[id] != want {
			t.Errorf("session %s present = %v, want %v", id, ids[id], want)
		}
	}

	var orphans int
	if err := db.QueryRow(`SELECT COUNT(*) FROM traffic_log WHERE session_id = 'ended-old'`).Scan(&orphans); err != nil {
		t.Fatalf("count traffic: %v", err)
	}
	if orphans != 0 {
		t.Errorf("traffic rows of pruned session = %d, want 0", orphans)
	}
}

func TestPruneSessions_NothingToDo(t *testing.T) {
	db := setupRecorderDB(t)
	pruned, err := PruneSessions(context.Background(), db, time.Now(), "")
	if err != nil || pruned != 0 {
		t.Errorf("PruneSessions() on empty db = %d, %v; want 0, nil", pruned, err)
	}
}

func TestNewRetention_Validation(t *testing.T) {
	db := setupRecorderDB(t)

	tests := []struct {
		name    string
		db      *sql.DB
		cfg     RetentionConfig
		wantErr bool
	}{
		{"descriptor", db, RetentionConfig{Schedule: "@daily", MaxAge: time.Hour}, false},
		{"every", db, RetentionConfig{Schedule: "@every 6h", MaxAge: time.Hour}, false},
		{"five fields", db, RetentionConfig{Schedule: "30 3 * * *", MaxAge: time.Hour}, false},
		{"bad schedule", db, RetentionConfig{Schedule: "sometimes", MaxAge: time.Hour}, true},
		{"empty schedule", db, RetentionConfig{MaxAge: time.Hour}, true},
		{"zero max age", db, RetentionConfig{Schedule: "@daily"}, true},
		{"no database", nil, RetentionConfig{Schedule: "@daily", MaxAge: time.Hour}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRetention(tt.db, tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewRetention() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && tt.db != nil && !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("error = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestRetention_RunOnceUsesMaxAge(t *testing.T) {
	db := setupRecorderDB(t)
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	twoDays := now.Add(-48 * time.Hour)
	insertSession(t, db, "two-days", twoDays, &twoDays, 1, twoDays)
	halfDay := now.Add(-12 * time.Hour)
	insertSession(t, db, "half-day", halfDay, &halfDay, 1, halfDay)

	r, err := NewRetention(db, RetentionConfig{Schedule: "@daily", MaxAge: 24 * time.Hour})
	if err != nil {
		t.Fatalf("NewRetention() error: %v", err)
	}
	r.now = func() time.Time { return now }

	pruned, err := r.RunOnce(context.Background())
	if err != nil || pruned != 1 {
		t.Fatalf("RunOnce() = %d, %v; want 1, nil", pruned, err)
	}
	ids := sessionIDs(t, db)
	if ids["two-days"] || !ids["half-day"] {
		t.Errorf("sessions after prune = %v", ids)
	}
}

func TestRetention_StartStop(t *testing.T) {
	db := setupRecorderDB(t)
	r, err := NewRetention(db, RetentionConfig{Schedule: "@every 1h", MaxAge: time.Hour})
	if err != nil {
		t.Fatalf("NewRetention() error: %v", err)
	}

	r.Start(context.Background())
	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return")
	}

	// A job fired after Stop does nothing
	r.runScheduled()
}
