package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are applied in order; user_version records how many ran.
var migrations = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS nodes (
			node_num INTEGER PRIMARY KEY,
			long_name TEXT NOT NULL DEFAULT '',
			short_name TEXT NOT NULL DEFAULT '',
			battery_level INTEGER NULL,
			voltage REAL NULL,
			rssi INTEGER NULL,
			snr REAL NULL,
			last_heard_at INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS nodes_last_heard_at_idx ON nodes(last_heard_at DESC);`,
	},
	{
		`ALTER TABLE nodes ADD COLUMN temperature REAL NULL;`,
		`ALTER TABLE nodes ADD COLUMN humidity REAL NULL;`,
		`ALTER TABLE nodes ADD COLUMN pressure REAL NULL;`,
		`ALTER TABLE nodes ADD COLUMN latitude REAL NULL;`,
		`ALTER TABLE nodes ADD COLUMN longitude REAL NULL;`,
		`ALTER TABLE nodes ADD COLUMN altitude INTEGER NULL;`,
	},
}

// SchemaVersion is the user_version of a fully migrated database.
var SchemaVersion = len(migrations)

func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > len(migrations) {
		return fmt.Errorf("schema version %d is newer than supported %d", version, len(migrations))
	}

	for i := version; i < len(migrations); i++ {
		if err := applyMigration(ctx, db, i+1, migrations[i]); err != nil {
			return err
		}
	}

	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, version int, stmts []string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", version, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", version, err)
		}
	}
	// PRAGMA does not accept bound parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d;`, version)); err != nil {
		return fmt.Errorf("set schema version %d: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", version, err)
	}

	return nil
}
