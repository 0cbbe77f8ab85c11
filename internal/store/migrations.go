package store

import (
	"database/sql"
	"fmt"
	"log/slog"
)

// runMigrations creates the migration ledger if absent, loads applied
// versions, and applies every unseen migration in ascending order. Each
// migration's statements and its ledger insert run inside one
// transaction; partial failure rolls back that migration and halts
// startup (§4.2, §8 "runMigrations(); runMigrations() leaves the schema
// unchanged after the second call").
func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS migration_ledger (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("creating migration ledger: %w", err)
	}

	applied, err := appliedVersions(db)
	if err != nil {
		return fmt.Errorf("loading applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return fmt.Errorf("applying migration %d (%s): %w", m.Version, m.Description, err)
		}
		slog.Info("applied migration", "version", m.Version, "description", m.Description)
	}
	return nil
}

func appliedVersions(db *sql.DB) (map[int]bool, error) {
	rows, err := db.Query(`SELECT version FROM migration_ledger`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[v] = true
	}
	return out, rows.Err()
}

func applyMigration(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	for _, stmt := range m.Statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("statement failed: %w", err)
		}
	}

	if _, err := tx.Exec(`INSERT INTO migration_ledger (version, applied_at) VALUES (?, unixepoch())`, m.Version); err != nil {
		return fmt.Errorf("recording ledger row: %w", err)
	}

	return tx.Commit()
}
