package database

import (
	"context"
	"strings"
	"testing"
	"testing/fstest"
)

// testSource is a two-step schema in an in-memory filesystem.
func testSource() Source {
	return Source{
		FS: fstest.MapFS{
			"sql/20261001_090000_create_sessions.up.sql": {
				Data: []byte(`CREATE TABLE test_sessions (id TEXT PRIMARY KEY) STRICT;`),
			},
			"sql/20261002_090000_create_messages.up.sql": {
				Data: []byte(`CREATE TABLE test_messages (
					id INTEGER PRIMARY KEY,
					session_id TEXT NOT NULL REFERENCES test_sessions(id)
				) STRICT;`),
			},
			// Not a forward step, never executed.
			"sql/20261002_090000_create_messages.down.sql": {
				Data: []byte(`DROP TABLE test_sessions;`),
			},
			"sql/README.md": {Data: []byte("ignored")},
		},
		Dir: "sql",
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&count)
	if err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	return count == 1
}

func recordedVersions(t *testing.T, db *DB) []string {
	t.Helper()
	rows, err := db.QueryContext(context.Background(),
		"SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		t.Fatalf("query schema_migrations: %v", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			t.Fatalf("scan: %v", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}
	return versions
}

// TestMigrate verifies migration application.
func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	n, err := db.Migrate(ctx, testSource())
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Migrate() applied %d, want 2", n)
	}

	for _, table := range []string{"test_sessions", "test_messages"} {
		if !tableExists(t, db, table) {
			t.Errorf("table %s not created", table)
		}
	}

	got := recordedVersions(t, db)
	if strings.Join(got, ",") != "20261001_090000,20261002_090000" {
		t.Errorf("recorded versions = %v", got)
	}

	// Running again should be idempotent
	n, err = db.Migrate(ctx, testSource())
	if err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	if n != 0 {
		t.Errorf("second Migrate() applied %d, want 0", n)
	}
}

func TestMigrate_AppliesOnlyNewSteps(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.Migrate(ctx, testSource()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	src := testSource()
	src.FS.(fstest.MapFS)["sql/20261003_090000_add_index.up.sql"] = &fstest.MapFile{
		Data: []byte(`CREATE INDEX idx_test_messages_session ON test_messages(session_id);`),
	}

	n, err := db.Migrate(ctx, src)
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Migrate() applied %d, want 1", n)
	}
	if got := recordedVersions(t, db); len(got) != 3 {
		t.Errorf("recorded versions = %v, want 3", got)
	}
}

func TestMigrate_FailureRollsBackStep(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	src := testSource()
	src.FS.(fstest.MapFS)["sql/20261003_090000_broken.up.sql"] = &fstest.MapFile{
		Data: []byte(`CREATE TABLE half_done (id INTEGER); NOT VALID SQL;`),
	}

	n, err := db.Migrate(ctx, src)
	if err == nil || !strings.Contains(err.Error(), "20261003_090000") {
		t.Fatalf("Migrate() error = %v, want failure naming the broken step", err)
	}
	if n != 2 {
		t.Errorf("Migrate() applied %d before failing, want 2", n)
	}
	if got := recordedVersions(t, db); len(got) != 2 {
		t.Errorf("recorded versions = %v, want the two good steps", got)
	}
	if tableExists(t, db, "half_done") {
		t.Error("failed migration left table behind")
	}
}

// TestMigrateNoMigrations verifies behaviour with no migration source.
func TestMigrateNoMigrations(t *testing.T) {
	db := openTestDB(t)

	n, err := db.Migrate(context.Background(), Source{})
	if err != nil {
		t.Fatalf("Migrate() with no migrations error = %v", err)
	}
	if n != 0 {
		t.Errorf("Migrate() applied %d, want 0", n)
	}
}

func TestMigrate_MissingDirectory(t *testing.T) {
	db := openTestDB(t)

	if _, err := db.Migrate(context.Background(), Source{FS: fstest.MapFS{}, Dir: "absent"}); err == nil {
		t.Error("Migrate() with missing directory succeeded, want error")
	}
}

// TestParseMigrationFilename verifies filename parsing.
func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantOk      bool
	}{
		{"20261016_120000_traffic_log.up.sql", "20261016_120000", "traffic_log", true},
		{"20261020_080000_add_latency_to_traffic_log.up.sql", "20261020_080000", "add_latency_to_traffic_log", true},
		{"20261016_120000_traffic_log.down.sql", "", "", false},
		{"20261016_120000_traffic_log.sql", "", "", false},
		{"20261016_120000_.up.sql", "", "", false},
		{"2026101_120000_short_date.up.sql", "", "", false},
		{"invalid.up.sql", "", "", false},
		{"readme.txt", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if version != tt.wantVersion || name != tt.wantName {
				t.Errorf("parseMigrationFilename(%q) = %q, %q; want %q, %q",
					tt.filename, version, name, tt.wantVersion, tt.wantName)
			}
		})
	}
}
