package writer

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/tigerroll/serendip/pkg/batch/adapter/storage"
	model "github.com/tigerroll/serendip/pkg/batch/core/domain/model"
	"github.com/tigerroll/serendip/pkg/batch/support/util/exception"
	"github.com/tigerroll/serendip/pkg/batch/support/util/logger"
	"github.com/tigerroll/serendip/pkg/batch/support/util/serialization"
)

// ManifestRow is the flat Parquet schema of one manifest record. Nested
// fields are stored as JSON strings.
type ManifestRow struct {
	RunID              string `parquet:"name=run_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Profile            string `parquet:"name=profile, type=BYTE_ARRAY, convertedtype=UTF8"`
	PlanName           string `parquet:"name=plan_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Index              int32  `parquet:"name=index, type=INT32"`
	CreatedAt          int64  `parquet:"name=created_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Model              string `parquet:"name=model, type=BYTE_ARRAY, convertedtype=UTF8"`
	AxisID             string `parquet:"name=axis_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Bundle             string `parquet:"name=bundle, type=BYTE_ARRAY, convertedtype=UTF8"`
	DomainID           string `parquet:"name=domain_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	GenerationType     string `parquet:"name=generation_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	FinalPrompt        string `parquet:"name=final_prompt, type=BYTE_ARRAY, convertedtype=UTF8"`
	Slots              string `parquet:"name=slots, type=BYTE_ARRAY, convertedtype=UTF8"`
	SlotTags           string `parquet:"name=slot_tags, type=BYTE_ARRAY, convertedtype=UTF8"`
	Status             string `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	FinalImageFilename string `parquet:"name=final_image_filename, type=BYTE_ARRAY, convertedtype=UTF8"`
	ThoughtImages      int32  `parquet:"name=thought_images, type=INT32"`
	FinishReason       string `parquet:"name=finish_reason, type=BYTE_ARRAY, convertedtype=UTF8"`
	ErrorType          string `parquet:"name=error_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Error              string `parquet:"name=error, type=BYTE_ARRAY, convertedtype=UTF8"`
	HTTPStatus         int32  `parquet:"name=http_status, type=INT32"`
	RetryCount         int32  `parquet:"name=retry_count, type=INT32"`
	BatchJob           string `parquet:"name=batch_job, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// NewManifestRow flattens rec.
func NewManifestRow(rec *model.ManifestRecord) (ManifestRow, error) {
	slots, err := serialization.MarshalColumn(rec.Slots)
	if err != nil {
		return ManifestRow{}, err
	}
	tags, err := serialization.MarshalColumn(rec.SlotTags)
	if err != nil {
		return ManifestRow{}, err
	}
	row := ManifestRow{
		RunID:              rec.RunID,
		Profile:            rec.Profile,
		PlanName:           rec.PlanName,
		Index:              int32(rec.Index),
		CreatedAt:          rec.CreatedAt.UnixMilli(),
		Model:              rec.Model,
		AxisID:             rec.AxisID,
		Bundle:             rec.Bundle,
		DomainID:           rec.DomainID,
		GenerationType:     string(rec.GenerationType),
		FinalPrompt:        rec.FinalPrompt,
		Slots:              slots,
		SlotTags:           tags,
		Status:             string(rec.Status),
		FinalImageFilename: rec.FinalImageFilename,
		ThoughtImages:      int32(len(rec.ThoughtImagesSaved)),
		ErrorType:          string(rec.ErrorType),
		Error:              rec.Error,
		RetryCount:         int32(rec.RetryCount),
		BatchJob:           rec.BatchJob,
	}
	if rec.ResponseMetadata != nil {
		row.FinishReason = rec.ResponseMetadata.FinishReason
	}
	if rec.HTTPStatus != nil {
		row.HTTPStatus = int32(*rec.HTTPStatus)
	}
	return row, nil
}

// ParquetManifestWriter exports manifest records as one Parquet object.
type ParquetManifestWriter struct {
	store       storage.StorageExecutor
	compression parquet.CompressionCodec
}

// NewParquetManifestWriter creates a writer. compressionType is SNAPPY (the
// default when empty), GZIP or NONE.
func NewParquetManifestWriter(store storage.StorageExecutor, compressionType string) (*ParquetManifestWriter, error) {
	if compressionType == "" {
		compressionType = "SNAPPY"
	}
	codec, err := getCompressionCodec(compressionType)
	if err != nil {
		return nil, exception.NewBatchError(module, fmt.Sprintf("invalid compression type '%s'", compressionType), err, false)
	}
	return &ParquetManifestWriter{store: store, compression: codec}, nil
}

// Encode writes records in Parquet format to a buffer.
func (w *ParquetManifestWriter) Encode(records []model.ManifestRecord) (*bytes.Buffer, error) {
	buf := new(bytes.Buffer)
	rowGroup := int64(len(records))
	if rowGroup == 0 {
		rowGroup = 1
	}
	pw, err := writer.NewParquetWriterFromWriter(buf, new(ManifestRow), rowGroup)
	if err != nil {
		return nil, exception.NewBatchError(module, "failed to create Parquet writer", err, false)
	}
	pw.CompressionType = w.compression

	var multiErr error
	for i := range records {
		row, err := NewManifestRow(&records[i])
		if err != nil {
			multiErr = multierror.Append(multiErr, err)
			continue
		}
		if err := pw.Write(row); err != nil {
			multiErr = multierror.Append(multiErr, exception.NewBatchError(module, fmt.Sprintf("failed to write record %s", records[i].Key()), err, false))
		}
	}

	// WriteStop may panic inside the library on malformed schemas.
	func() {
		defer func() {
			if r := recover(); r != nil {
				multiErr = multierror.Append(multiErr, fmt.Errorf("parquet writer panicked during WriteStop: %v", r))
			}
		}()
		if err := pw.WriteStop(); err != nil {
			multiErr = multierror.Append(multiErr, exception.NewBatchError(module, "failed to finalize Parquet file", err, false))
		}
	}()
	if multiErr != nil {
		return nil, multiErr
	}
	return buf, nil
}

// Export encodes records and uploads them as objectName.
func (w *ParquetManifestWriter) Export(ctx context.Context, objectName string, records []model.ManifestRecord) error {
	buf, err := w.Encode(records)
	if err != nil {
		return err
	}
	size := buf.Len()
	if err := w.store.Upload(ctx, objectName, buf, "application/octet-stream"); err != nil {
		return exception.NewBatchError(module, fmt.Sprintf("failed to upload '%s'", objectName), err, false)
	}
	logger.Infof("Exported %d manifest records to %s (%d bytes).", len(records), objectName, size)
	return nil
}

// getCompressionCodec returns the Parquet compression codec from a string.
func getCompressionCodec(compressionType string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(compressionType) {
	case "SNAPPY":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported compression type: %s", compressionType)
	}
}
