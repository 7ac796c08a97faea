// Package database opens the SQLite file that stores battle history.
//
// The connection runs in WAL mode with a busy timeout and a single open
// connection, which matches SQLite's one-writer model. Schema changes are
// applied by Migrate from versioned .up.sql/.down.sql files, normally the
// set embedded by the top-level migrations package.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
