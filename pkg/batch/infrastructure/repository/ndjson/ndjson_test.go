package ndjson_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/serendip/pkg/batch/core/domain/model"
	"github.com/tigerroll/serendip/pkg/batch/infrastructure/repository/ndjson"
	"github.com/tigerroll/serendip/pkg/batch/support/util/exception"
)

type mockMirror struct {
	mock.Mock
}

func (m *mockMirror) MirrorRecord(ctx context.Context, record *model.ManifestRecord) error {
	return m.Called(record.Index).Error(0)
}

func (m *mockMirror) MirrorLedgerRow(ctx context.Context, row *model.BatchJobRecord) error {
	return m.Called(row.ChunkID).Error(0)
}

func (m *mockMirror) Close() error { return nil }

func TestManifestStore_AppendLoadRewrite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out", "manifest.jsonl")
	mirror := &mockMirror{}
	mirror.On("MirrorRecord", 0).Return(nil)
	mirror.On("MirrorRecord", 1).Return(errors.New("db down"))

	store := ndjson.NewManifestStore(path, mirror)

	recs, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs, "a missing manifest is empty")

	require.NoError(t, store.Append(ctx, &model.ManifestRecord{PlanName: "p", Index: 0, Status: model.StatusSuccess}))
	require.NoError(t, store.Append(ctx, &model.ManifestRecord{PlanName: "p", Index: 1, Status: model.StatusError}), "mirror errors do not fail appends")
	mirror.AssertExpectations(t)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{broken\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	recs, err = store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 1, recs[1].Index)

	backup, err := store.Rewrite(ctx, recs[:1])
	require.NoError(t, err)
	assert.FileExists(t, backup)
	assert.Contains(t, filepath.Base(backup), "manifest.jsonl.bak_")

	recs, err = store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 0, recs[0].Index)
}

func TestManifestStore_RetriesRetryableMirrorFailureOnce(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "manifest.jsonl")
	mirror := &mockMirror{}
	busy := exception.NewBatchError("sql", "failed to mirror record", errors.New("database is locked"), true)
	mirror.On("MirrorRecord", 0).Return(busy).Once()
	mirror.On("MirrorRecord", 0).Return(nil).Once()
	mirror.On("MirrorRecord", 1).Return(errors.New("db down")).Once()

	store := ndjson.NewManifestStore(path, mirror)
	require.NoError(t, store.Append(ctx, &model.ManifestRecord{PlanName: "p", Index: 0}))
	require.NoError(t, store.Append(ctx, &model.ManifestRecord{PlanName: "p", Index: 1}))

	mirror.AssertNumberOfCalls(t, "MirrorRecord", 3)
	mirror.AssertExpectations(t)
}

func TestLedgerFactory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	factory := ndjson.NewLedgerFactory(func(plan string) string {
		return filepath.Join(dir, plan+".jobs.jsonl")
	})

	ledger := factory.Ledger("p")
	require.NoError(t, ledger.Append(ctx, &model.BatchJobRecord{PlanName: "p", ChunkID: 0, JobName: "batches/1"}))
	require.NoError(t, ledger.Append(ctx, &model.BatchJobRecord{PlanName: "p", ChunkID: 0, JobName: "batches/2"}))

	rows, err := factory.Ledger("p").LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "batches/2", rows[1].JobName)
	assert.FileExists(t, filepath.Join(dir, "p.jobs.jsonl"))

	rows, err = factory.Ledger("other").LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
