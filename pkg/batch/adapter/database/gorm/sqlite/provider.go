// Package sqlite registers the SQLite dialector of the SQL mirror.
package sqlite

import (
	"errors"

	_ "github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	gormadapter "github.com/tigerroll/serendip/pkg/batch/adapter/database/gorm"
	config "github.com/tigerroll/serendip/pkg/batch/core/config"
)

func init() {
	gormadapter.RegisterDialector("sqlite", func(cfg config.DatabaseConfig) (gorm.Dialector, error) {
		dsn := ConnectionString(cfg)
		if dsn == "" {
			return nil, errors.New("SQLite database path cannot be empty")
		}
		return sqlite.Open(dsn), nil
	})
}

// ConnectionString is the database file path; gorm's SQLite dialector takes it as is.
func ConnectionString(c config.DatabaseConfig) string {
	return c.Database
}
