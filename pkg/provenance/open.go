package provenance

import (
	"context"
	"database/sql"
	"fmt"
)

// OpenStore selects the durable store: a non-empty Postgres DSN wins,
// otherwise the embedded SQLite database at sqlitePath. The returned
// closer releases the underlying handle.
func OpenStore(ctx context.Context, dsn, sqlitePath string) (Store, func() error, error) {
	if dsn != "" {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		store := NewPostgresStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return store, db.Close, nil
	}

	store, err := OpenSQLiteStore(sqlitePath)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}
