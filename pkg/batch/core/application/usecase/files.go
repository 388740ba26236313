package usecase

import (
	"context"

	port "github.com/tigerroll/serendip/pkg/batch/core/application/port"
	metrics "github.com/tigerroll/serendip/pkg/batch/core/metrics"
	"github.com/tigerroll/serendip/pkg/batch/engine/step/partition"
)

// DefaultRemoteFileManager implements RemoteFileManager over the Orchestrator.
type DefaultRemoteFileManager struct {
	orchestrator *partition.Orchestrator
	tracer       metrics.Tracer
}

// NewDefaultRemoteFileManager creates a new DefaultRemoteFileManager.
func NewDefaultRemoteFileManager(orchestrator *partition.Orchestrator, tracer metrics.Tracer) *DefaultRemoteFileManager {
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}
	return &DefaultRemoteFileManager{orchestrator: orchestrator, tracer: tracer}
}

// List implements RemoteFileManager.
func (m *DefaultRemoteFileManager) List(ctx context.Context) ([]port.RemoteFile, error) {
	files, err := m.orchestrator.ListFiles(ctx)
	if err != nil {
		m.tracer.RecordError(ctx, "files list", err)
	}
	return files, err
}

// Delete implements RemoteFileManager.
func (m *DefaultRemoteFileManager) Delete(ctx context.Context, sel partition.FileSelector, apply bool) (*partition.FileCleanup, error) {
	res, err := m.orchestrator.DeleteFiles(ctx, sel, apply)
	if err != nil {
		m.tracer.RecordError(ctx, "files delete", err)
	}
	return res, err
}

// Purge implements RemoteFileManager.
func (m *DefaultRemoteFileManager) Purge(ctx context.Context, apply bool) (*partition.FileCleanup, error) {
	res, err := m.orchestrator.PurgeFiles(ctx, apply)
	if err != nil {
		m.tracer.RecordError(ctx, "files purge", err)
	}
	return res, err
}

var _ RemoteFileManager = (*DefaultRemoteFileManager)(nil)
