package repository

import (
	"context"

	model "github.com/tigerroll/serendip/pkg/batch/core/domain/model"
)

// ManifestRepository persists the append-only execution log.
type ManifestRepository interface {
	// Append adds one record at the end of the log.
	Append(ctx context.Context, record *model.ManifestRecord) error

	// LoadAll returns every record in log order.
	LoadAll(ctx context.Context) ([]model.ManifestRecord, error)

	// Rewrite replaces the log with records, keeping a backup of the previous
	// content. It is only used by manifest compaction.
	Rewrite(ctx context.Context, records []model.ManifestRecord) (backup string, err error)
}

// LedgerRepository persists the batch ledger of one (profile, plan_name).
type LedgerRepository interface {
	// Append adds one submitted chunk row.
	Append(ctx context.Context, row *model.BatchJobRecord) error

	// LoadAll returns every row in ledger order.
	LoadAll(ctx context.Context) ([]model.BatchJobRecord, error)
}

// LedgerFactory opens the ledger of a plan.
type LedgerFactory interface {
	Ledger(planName string) LedgerRepository
}

// Mirror receives a copy of every manifest and ledger append.
// Mirrors are secondary; the NDJSON files stay authoritative.
type Mirror interface {
	MirrorRecord(ctx context.Context, record *model.ManifestRecord) error
	MirrorLedgerRow(ctx context.Context, row *model.BatchJobRecord) error
	Close() error
}

// LatestByChunk keeps the last row per chunk id, in first-seen order.
func LatestByChunk(rows []model.BatchJobRecord) []model.BatchJobRecord {
	pos := make(map[int]int, len(rows))
	out := make([]model.BatchJobRecord, 0, len(rows))
	for _, row := range rows {
		if i, ok := pos[row.ChunkID]; ok {
			out[i] = row
			continue
		}
		pos[row.ChunkID] = len(out)
		out = append(out, row)
	}
	return out
}

// UniqueJobs keeps every row in ledger order, once per job name. A job that
// appears twice takes the last row at the first position.
func UniqueJobs(rows []model.BatchJobRecord) []model.BatchJobRecord {
	pos := make(map[string]int, len(rows))
	out := make([]model.BatchJobRecord, 0, len(rows))
	for _, row := range rows {
		if i, ok := pos[row.JobName]; ok {
			out[i] = row
			continue
		}
		pos[row.JobName] = len(out)
		out = append(out, row)
	}
	return out
}
