// Package database provides SQLite connectivity for the bridge's local
// state history.
//
// This package manages:
//   - Database connection with WAL mode so API reads don't block writes
//   - Forward-only schema migrations loaded from an fs.FS
//   - Connection lifecycle and health checks
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
package database
