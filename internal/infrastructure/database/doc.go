// Package database provides SQLite connectivity for periphctl.
//
// The database holds the persisted device settings and the command log.
// It is opened in WAL mode with a busy timeout and a single connection,
// and migrated at boot from the SQL files embedded by package migrations.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive only: new columns must be NULLABLE or have a
// DEFAULT, and columns are never dropped or renamed.
package database
