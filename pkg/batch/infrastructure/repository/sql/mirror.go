// Package sql mirrors manifest records and ledger rows into a relational
// database through gorm. The NDJSON files remain the source of truth; the
// mirror exists for ad-hoc queries.
package sql

import (
	"context"
	"embed"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tigerroll/serendip/pkg/batch/adapter/database/migration"
	model "github.com/tigerroll/serendip/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/serendip/pkg/batch/core/domain/repository"
	"github.com/tigerroll/serendip/pkg/batch/support/util/exception"
)

const module = "sql_mirror"

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate brings the mirror schema up to date.
func Migrate(db *gorm.DB, dbType string) (uint, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return 0, exception.NewBatchError(module, "failed to get underlying sql.DB", err, false)
	}
	return migration.NewMigrator(sqlDB, dbType).Up(migrations, "migrations")
}

// SQLMirror implements repository.Mirror over gorm.
type SQLMirror struct {
	db    *gorm.DB
	newID func() string
}

var _ repository.Mirror = (*SQLMirror)(nil)

// NewSQLMirror creates a mirror on an open, migrated database.
func NewSQLMirror(db *gorm.DB) *SQLMirror {
	return &SQLMirror{db: db, newID: uuid.NewString}
}

// MirrorRecord inserts one manifest record. Records without an attempt id get one.
func (m *SQLMirror) MirrorRecord(ctx context.Context, record *model.ManifestRecord) error {
	id := record.AttemptID
	if id == "" {
		id = m.newID()
	}
	entity, err := toManifestEntity(record, id)
	if err != nil {
		return err
	}
	if err := m.db.WithContext(ctx).Create(entity).Error; err != nil {
		return exception.NewBatchError(module, fmt.Sprintf("failed to mirror record %s", record.Key()), err, true)
	}
	return nil
}

// MirrorLedgerRow inserts one ledger row.
func (m *SQLMirror) MirrorLedgerRow(ctx context.Context, row *model.BatchJobRecord) error {
	if err := m.db.WithContext(ctx).Create(toBatchJobEntity(row, m.newID())).Error; err != nil {
		return exception.NewBatchError(module, fmt.Sprintf("failed to mirror ledger row of chunk %d", row.ChunkID), err, true)
	}
	return nil
}

// Records returns the mirrored records of a plan in insertion order of their timestamps.
func (m *SQLMirror) Records(ctx context.Context, profile, planName string) ([]model.ManifestRecord, error) {
	var entities []ManifestEntity
	err := m.db.WithContext(ctx).
		Where("profile = ? AND plan_name = ?", profile, planName).
		Order("created_at, item_index").
		Find(&entities).Error
	if err != nil {
		return nil, exception.NewBatchError(module, "failed to query mirrored records", err, true)
	}
	out := make([]model.ManifestRecord, 0, len(entities))
	for i := range entities {
		rec, err := toManifestRecord(&entities[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

// LedgerRows returns the mirrored ledger rows of a plan.
func (m *SQLMirror) LedgerRows(ctx context.Context, profile, planName string) ([]model.BatchJobRecord, error) {
	var entities []BatchJobEntity
	err := m.db.WithContext(ctx).
		Where("profile = ? AND plan_name = ?", profile, planName).
		Order("created_at, chunk_id").
		Find(&entities).Error
	if err != nil {
		return nil, exception.NewBatchError(module, "failed to query mirrored ledger", err, true)
	}
	out := make([]model.BatchJobRecord, len(entities))
	for i := range entities {
		out[i] = toBatchJobRecord(&entities[i])
	}
	return out, nil
}

// Close closes the underlying connection pool.
func (m *SQLMirror) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
