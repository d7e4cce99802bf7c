// Package database provides the SQLite store behind the command audit log.
//
// The database runs in WAL mode with a single pooled connection, and its
// schema is managed by additive migrations embedded in the binary (see the
// top-level migrations package).
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
// All queries use parameterised statements. The file is created 0600.
package database
