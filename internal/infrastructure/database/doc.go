// Package database is the SQLite store behind the traffic recorder.
//
// Open returns a single-connection pool with foreign keys on and WAL
// journaling when configured. The file is chmod 0600: recorded payloads
// carry characteristic values from simulated devices.
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx, migrations.Source); err != nil {
//	    return err
//	}
//
// Migrations are forward-only and additive: new columns are NULLABLE or
// carry a DEFAULT. A bad schema change is fixed by a newer step.
package database
