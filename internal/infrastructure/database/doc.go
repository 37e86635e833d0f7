// Package database provides SQLite connectivity for the ShardLink shard key store.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Embedded schema migrations with up and down files
//   - Connection lifecycle and health checks
//   - STRICT mode tables for type safety
//
// Security Considerations:
//   - All queries use parameterised statements
//   - The database file holds shard material and is created with mode 0600
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration Strategy:
//
// Migrations are additive-only so that a rollback never loses a stored shard:
//   - New columns must be NULLABLE or have DEFAULT values
//   - Columns are never dropped or renamed
//   - Each migration file has both .up.sql and .down.sql
package database
