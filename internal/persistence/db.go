// Package persistence caches node metadata in sqlite so names survive restarts.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // register sqlite driver
)

var pragmas = []struct {
	name string
	stmt string
}{
	{name: "enable foreign keys", stmt: `PRAGMA foreign_keys = ON;`},
	{name: "set wal mode", stmt: `PRAGMA journal_mode = WAL;`},
	{name: "set busy timeout", stmt: `PRAGMA busy_timeout = 5000;`},
}

// Open creates the database file if needed and migrates it to SchemaVersion.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection keeps the per-connection pragmas in effect for every query.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.stmt); err != nil {
			_ = db.Close()

			return nil, fmt.Errorf("%s: %w", p.name, err)
		}
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()

		return nil, err
	}

	return db, nil
}
