package database

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// MigrationState describes the schema version after a migration run.
type MigrationState struct {
	Version uint
	Dirty   bool
	// Applied is false when the schema was already current.
	Applied bool
}

// MigrateUp applies every pending migration found under dir.
func (db *DB) MigrateUp(dir string) (MigrationState, error) {
	m, err := db.migrator(dir)
	if err != nil {
		return MigrationState{}, err
	}
	defer closeMigrator(m)

	applied := true
	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return MigrationState{}, fmt.Errorf("failed to run migrations: %w", err)
		}
		applied = false
	}

	state, err := versionOf(m)
	if err != nil {
		return MigrationState{}, err
	}
	state.Applied = applied
	return state, nil
}

// MigrateDown rolls back the most recent migration.
func (db *DB) MigrateDown(dir string) error {
	m, err := db.migrator(dir)
	if err != nil {
		return err
	}
	defer closeMigrator(m)

	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to roll back migration: %w", err)
	}
	return nil
}

// MigrationVersion reports the current schema version without changing it.
func (db *DB) MigrationVersion(dir string) (MigrationState, error) {
	m, err := db.migrator(dir)
	if err != nil {
		return MigrationState{}, err
	}
	defer closeMigrator(m)

	return versionOf(m)
}

func versionOf(m *migrate.Migrate) (MigrationState, error) {
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return MigrationState{}, fmt.Errorf("failed to read migration version: %w", err)
	}
	return MigrationState{Version: version, Dirty: dirty}, nil
}

func closeMigrator(m *migrate.Migrate) {
	_, _ = m.Close()
}

func (db *DB) migrator(dir string) (*migrate.Migrate, error) {
	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, nil
}
