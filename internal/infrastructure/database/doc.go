// Package database owns the bridge's SQLite store: the device registry
// rows plus whatever pairing state the remote transport persists alongside
// them. The connection is opened in WAL mode with a single writer, so the
// HTTP API can read device rows while a session goroutine is updating one.
//
// Schema changes run through embedded migrations tracked in a
// schema_migrations table:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns are nullable or carry defaults, and
// every .up.sql ships a matching .down.sql so a bad deploy can walk back.
// The database file is created owner-only; it holds device auth state.
package database
