package sql

import (
	"context"

	"go.uber.org/fx"

	gormadapter "github.com/tigerroll/serendip/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/serendip/pkg/batch/adapter/database/gorm/mysql"
	_ "github.com/tigerroll/serendip/pkg/batch/adapter/database/gorm/postgres"
	_ "github.com/tigerroll/serendip/pkg/batch/adapter/database/gorm/sqlite"
	config "github.com/tigerroll/serendip/pkg/batch/core/config"
	repository "github.com/tigerroll/serendip/pkg/batch/core/domain/repository"
	logger "github.com/tigerroll/serendip/pkg/batch/support/util/logger"
)

// MirrorResult contributes the SQL mirror to the "mirrors" group when the
// database is enabled.
type MirrorResult struct {
	fx.Out
	Mirrors []repository.Mirror `group:"mirrors,flatten"`
}

// ProvideMirror connects, migrates and registers the mirror.
func ProvideMirror(lc fx.Lifecycle, cfg *config.Config) (MirrorResult, error) {
	dbCfg := cfg.Serendip.Database
	if !dbCfg.Enabled {
		logger.Debugf("SQL mirror is disabled.")
		return MirrorResult{}, nil
	}
	db, err := gormadapter.Open(dbCfg)
	if err != nil {
		return MirrorResult{}, err
	}
	if _, err := Migrate(db, dbCfg.Type); err != nil {
		return MirrorResult{}, err
	}
	mirror := NewSQLMirror(db)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return mirror.Close()
		},
	})
	return MirrorResult{Mirrors: []repository.Mirror{mirror}}, nil
}

// MigrateConfigured opens the configured database, whether or not the mirror
// is enabled, and applies the migrations.
func MigrateConfigured(dbCfg config.DatabaseConfig) (uint, error) {
	db, err := gormadapter.Open(dbCfg)
	if err != nil {
		return 0, err
	}
	mirror := NewSQLMirror(db)
	defer mirror.Close()
	return Migrate(db, dbCfg.Type)
}

// Module provides the optional SQL mirror.
var Module = fx.Options(
	fx.Provide(ProvideMirror),
)
