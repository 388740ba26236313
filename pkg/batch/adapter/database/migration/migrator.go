// Package migration applies embedded golang-migrate migration sets to an open database.
package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/tigerroll/serendip/pkg/batch/support/util/logger"
)

// DefaultMigrationsTable records the applied schema version.
const DefaultMigrationsTable = "serendip_schema_migrations"

// Migrator runs migrations over a *sql.DB it does not own.
type Migrator struct {
	db        *sql.DB
	dbType    string
	tableName string
}

// NewMigrator creates a migrator for the given database type.
func NewMigrator(db *sql.DB, dbType string) *Migrator {
	return &Migrator{db: db, dbType: dbType, tableName: DefaultMigrationsTable}
}

func (m *Migrator) databaseDriver() (database.Driver, error) {
	switch m.dbType {
	case "postgres":
		return postgres.WithInstance(m.db, &postgres.Config{MigrationsTable: m.tableName})
	case "mysql":
		return mysql.WithInstance(m.db, &mysql.Config{MigrationsTable: m.tableName})
	case "sqlite":
		return sqlite3.WithInstance(m.db, &sqlite3.Config{MigrationsTable: m.tableName})
	default:
		return nil, fmt.Errorf("unsupported database type for migration: %s", m.dbType)
	}
}

// Up applies every pending migration found under path in fsys. It returns
// the resulting schema version.
func (m *Migrator) Up(fsys fs.FS, path string) (uint, error) {
	logger.Infof("Applying migrations (Path: %s, Table: %s)", path, m.tableName)

	source, err := iofs.New(fsys, path)
	if err != nil {
		return 0, fmt.Errorf("failed to create iofs source driver for path %s: %w", path, err)
	}
	// The migrate instance is not closed: closing its database driver would
	// close the shared *sql.DB.
	defer source.Close()

	driver, err := m.databaseDriver()
	if err != nil {
		return 0, fmt.Errorf("failed to create database driver: %w", err)
	}
	instance, err := migrate.NewWithInstance("iofs", source, m.dbType, driver)
	if err != nil {
		return 0, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := instance.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("migration failed (DB: %s, Path: %s): %w", m.dbType, path, err)
	}
	version, dirty, err := instance.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty", version)
	}
	logger.Infof("Schema is at version %d.", version)
	return version, nil
}
