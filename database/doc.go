// Package database bootstraps a relational database at process start: it
// reads DATABASE_URL, opens a bounded Bun connection pool and applies the
// versioned SQL migrations found in the migrations directory.
//
// Initialize returns a *Database that is shared by passing it explicitly.
// Every failure is an *InitError whose kind tells configuration, connection
// and migration problems apart:
//
//	db, err := database.Initialize(ctx)
//	if errors.Is(err, database.ErrMigration) {
//		...
//	}
//	defer db.Close()
package database
