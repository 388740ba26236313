package sql

import (
	model "github.com/tigerroll/serendip/pkg/batch/core/domain/model"
	"github.com/tigerroll/serendip/pkg/batch/support/util/serialization"
)

func toManifestEntity(r *model.ManifestRecord, attemptID string) (*ManifestEntity, error) {
	payload, err := serialization.MarshalColumn(r)
	if err != nil {
		return nil, err
	}
	return &ManifestEntity{
		AttemptID:          attemptID,
		RunID:              r.RunID,
		Profile:            r.Profile,
		PlanName:           r.PlanName,
		ItemIndex:          r.Index,
		CreatedAt:          r.CreatedAt,
		Model:              r.Model,
		ImageResolution:    r.ImageResolution,
		AxisID:             r.AxisID,
		GenerationType:     string(r.GenerationType),
		Status:             string(r.Status),
		ErrorType:          string(r.ErrorType),
		ErrorMessage:       r.Error,
		HTTPStatus:         r.HTTPStatus,
		RetryCount:         r.RetryCount,
		FinalImageFilename: r.FinalImageFilename,
		BatchKey:           r.BatchKey,
		BatchOutput:        r.BatchOutput,
		BatchJob:           r.BatchJob,
		Payload:            payload,
	}, nil
}

// toManifestRecord restores the full record from the payload column.
func toManifestRecord(e *ManifestEntity) (*model.ManifestRecord, error) {
	rec := &model.ManifestRecord{}
	if err := serialization.UnmarshalColumn(e.Payload, rec); err != nil {
		return nil, err
	}
	if rec.AttemptID == "" {
		rec.AttemptID = e.AttemptID
	}
	return rec, nil
}

func toBatchJobEntity(r *model.BatchJobRecord, rowID string) *BatchJobEntity {
	return &BatchJobEntity{
		RowID:       rowID,
		Profile:     r.Profile,
		PlanName:    r.PlanName,
		ChunkID:     r.ChunkID,
		FirstIndex:  r.FirstIndex,
		LastIndex:   r.LastIndex,
		ItemCount:   r.ItemCount,
		JobName:     r.JobName,
		InputFile:   r.InputFile,
		DisplayName: r.DisplayName,
		CreatedAt:   r.CreatedAt,
	}
}

func toBatchJobRecord(e *BatchJobEntity) model.BatchJobRecord {
	return model.BatchJobRecord{
		Profile:     e.Profile,
		PlanName:    e.PlanName,
		ChunkID:     e.ChunkID,
		FirstIndex:  e.FirstIndex,
		LastIndex:   e.LastIndex,
		ItemCount:   e.ItemCount,
		JobName:     e.JobName,
		InputFile:   e.InputFile,
		DisplayName: e.DisplayName,
		CreatedAt:   e.CreatedAt,
	}
}
