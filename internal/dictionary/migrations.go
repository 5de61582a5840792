package dictionary

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNoMigrations is returned when rolling back a database at version 0.
var ErrNoMigrations = errors.New("no migrations to roll back")

// Migration represents a database schema migration.
type Migration struct {
	Version     int
	Description string
	Up          string
	Down        string
}

// migrations contains all database migrations in order.
var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema with entries and learn tables",
		Up:          migrationV1Up,
		Down:        migrationV1Down,
	},
	{
		Version:     2,
		Description: "Add dictionary_meta table for import bookkeeping",
		Up:          migrationV2Up,
		Down:        migrationV2Down,
	},
}

const migrationV1Up = `
-- Dictionary entries
CREATE TABLE IF NOT EXISTS entries (
    reading     TEXT NOT NULL,
    word        TEXT NOT NULL,
    cost        INTEGER NOT NULL,
    PRIMARY KEY (reading, word)
);

CREATE INDEX IF NOT EXISTS idx_entries_reading ON entries(reading);

-- Usage learning
CREATE TABLE IF NOT EXISTS learn (
    reading     TEXT NOT NULL,
    word        TEXT NOT NULL,
    freq        INTEGER NOT NULL DEFAULT 0,
    last_used   INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (reading, word)
);

CREATE INDEX IF NOT EXISTS idx_learn_reading ON learn(reading);
`

const migrationV1Down = `
DROP INDEX IF EXISTS idx_learn_reading;
DROP TABLE IF EXISTS learn;
DROP INDEX IF EXISTS idx_entries_reading;
DROP TABLE IF EXISTS entries;
`

const migrationV2Up = `
CREATE TABLE IF NOT EXISTS dictionary_meta (
    key         TEXT PRIMARY KEY,
    value       TEXT NOT NULL,
    updated_at  INTEGER NOT NULL
);
`

const migrationV2Down = `
DROP TABLE IF EXISTS dictionary_meta;
`

// MigrateDB applies all pending migrations to the database.
func MigrateDB(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			applied_at  INTEGER NOT NULL,
			description TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			m.Version, time.Now().UnixNano(), m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// RollbackMigration rolls back the last applied migration.
func RollbackMigration(db *sql.DB) error {
	var currentVersion int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	if currentVersion == 0 {
		return ErrNoMigrations
	}

	var migration *Migration
	for i := range migrations {
		if migrations[i].Version == currentVersion {
			migration = &migrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %d not found", currentVersion)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if _, err := tx.Exec(migration.Down); err != nil {
		tx.Rollback()
		return fmt.Errorf("rollback migration %d: %w", currentVersion, err)
	}

	if _, err := tx.Exec("DELETE FROM schema_migrations WHERE version = ?", currentVersion); err != nil {
		tx.Rollback()
		return fmt.Errorf("remove migration record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rollback: %w", err)
	}

	return nil
}

// MigrationStatus reports applied and pending migrations.
type MigrationStatus struct {
	CurrentVersion int
	LatestVersion  int
	Pending        []Migration
}

// GetMigrationStatus returns the current migration status.
func GetMigrationStatus(db *sql.DB) (*MigrationStatus, error) {
	status := &MigrationStatus{
		LatestVersion: migrations[len(migrations)-1].Version,
	}

	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&status.CurrentVersion)
	if err != nil {
		// No schema_migrations table yet.
		status.CurrentVersion = 0
	}

	for _, m := range migrations {
		if m.Version > status.CurrentVersion {
			status.Pending = append(status.Pending, m)
		}
	}

	return status, nil
}

// ValidateSchema checks that all expected tables exist.
func ValidateSchema(db *sql.DB) error {
	requiredTables := []string{
		"entries",
		"learn",
		"dictionary_meta",
		"schema_migrations",
	}

	for _, table := range requiredTables {
		var count int
		err := db.QueryRow(
			"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if count == 0 {
			return fmt.Errorf("missing required table: %s", table)
		}
	}

	return nil
}

// Migrator manages the schema of a SQLite dictionary without migrating it
// on open.
type Migrator struct {
	db *sql.DB
}

// OpenMigrator opens the database at path.
func OpenMigrator(path string) (*Migrator, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	return &Migrator{db: db}, nil
}

// Status reports the applied and pending migrations.
func (m *Migrator) Status() (*MigrationStatus, error) { return GetMigrationStatus(m.db) }

// Migrate applies pending migrations and validates the result.
func (m *Migrator) Migrate() error {
	if err := MigrateDB(m.db); err != nil {
		return err
	}
	return ValidateSchema(m.db)
}

// Rollback reverts the latest applied migration.
func (m *Migrator) Rollback() error { return RollbackMigration(m.db) }

// Close closes the database.
func (m *Migrator) Close() error { return m.db.Close() }
