// Package archive exports the staged output of finalized executions as
// Parquet files on object storage.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	storageAdapter "github.com/tigerroll/swell/pkg/batch/adapter/storage"
	config "github.com/tigerroll/swell/pkg/batch/core/config"
	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/swell/pkg/batch/core/domain/repository"
	configbinder "github.com/tigerroll/swell/pkg/batch/support/util/configbinder"
	exception "github.com/tigerroll/swell/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/swell/pkg/batch/support/util/logger"
	serialization "github.com/tigerroll/swell/pkg/batch/support/util/serialization"
)

const moduleArchive = "archive"

// parquetContentType is the MIME type attached to uploaded snapshot files.
const parquetContentType = "application/octet-stream"

// parquetParallelism is the marshalling concurrency of the Parquet writer.
const parquetParallelism = 4

// Archiver exports the staged records of one execution to object storage.
type Archiver interface {
	// Archive writes the execution's staged records as Parquet files and
	// uploads them through the configured storage connection.
	Archive(ctx context.Context, execution *model.BatchExecution) (*ArchiveResult, error)
}

// ArchiveResult summarizes one archive run.
type ArchiveResult struct {
	// ObjectNames lists the uploaded objects in transaction type order.
	ObjectNames []string
	// RecordCount is the total number of staged records written.
	RecordCount int
}

// stagingRow is the flat Parquet projection of one staged record. The payload
// map is carried as its JSON serialization.
type stagingRow struct {
	ExecutionID       string `parquet:"name=execution_id,type=BYTE_ARRAY,convertedtype=UTF8"`
	TransactionTypeID string `parquet:"name=transaction_type_id,type=BYTE_ARRAY,convertedtype=UTF8"`
	SequenceNumber    int64  `parquet:"name=sequence_number,type=INT64"`
	RecordID          string `parquet:"name=record_id,type=BYTE_ARRAY,convertedtype=UTF8"`
	Payload           string `parquet:"name=payload,type=BYTE_ARRAY,convertedtype=UTF8"`
	ProcessingStatus  string `parquet:"name=processing_status,type=BYTE_ARRAY,convertedtype=UTF8"`
	CorrelationID     string `parquet:"name=correlation_id,type=BYTE_ARRAY,convertedtype=UTF8"`
	CreatedAt         int64  `parquet:"name=created_at,type=INT64,convertedtype=TIMESTAMP_MILLIS"`
}

// StagingArchiver implements Archiver on top of the staging repository and a
// resolved storage connection.
type StagingArchiver struct {
	cfg      config.ArchiveConfig
	repo     repository.StoreRepository
	resolver storageAdapter.StorageConnectionResolver
}

var _ Archiver = (*StagingArchiver)(nil)

// NewStagingArchiver creates a StagingArchiver from the typed archive
// configuration. Missing output settings fall back to their defaults; an
// unknown compression type is rejected here rather than on the first export.
func NewStagingArchiver(
	cfg config.ArchiveConfig,
	repo repository.StoreRepository,
	resolver storageAdapter.StorageConnectionResolver,
) (*StagingArchiver, error) {
	if cfg.StorageRef == "" {
		return nil, exception.NewBatchError(moduleArchive, "staging archiver requires a 'storage_ref' setting", nil, false, false)
	}
	if cfg.OutputBaseDir == "" {
		cfg.OutputBaseDir = "staging-archive"
	}
	if cfg.CompressionType == "" {
		cfg.CompressionType = "SNAPPY"
	}
	if _, err := compressionCodec(cfg.CompressionType); err != nil {
		return nil, exception.NewBatchError(moduleArchive, fmt.Sprintf("invalid compression type '%s' for staging archive", cfg.CompressionType), err, false, false)
	}

	return &StagingArchiver{
		cfg:      cfg,
		repo:     repo,
		resolver: resolver,
	}, nil
}

// NewStagingArchiverFromProperties creates a StagingArchiver from a free-form
// property map, binding the same yaml keys the file loader uses.
func NewStagingArchiverFromProperties(
	properties map[string]interface{},
	repo repository.StoreRepository,
	resolver storageAdapter.StorageConnectionResolver,
) (*StagingArchiver, error) {
	var cfg config.ArchiveConfig
	if err := configbinder.BindProperties(properties, &cfg); err != nil {
		return nil, exception.NewBatchError(moduleArchive, "failed to bind staging archiver properties", err, false, false)
	}
	return NewStagingArchiver(cfg, repo, resolver)
}

// Archive loads the execution's staged records, writes one Parquet file per
// transaction type and uploads each under a Hive-style path:
//
//	<output_base_dir>/dt=<business date>/type=<transaction type>/<execution id>.parquet
//
// Object names are deterministic, so re-archiving an execution overwrites the
// earlier snapshot instead of duplicating it. A failing transaction type does
// not stop the remaining ones; their failures are aggregated into the
// returned error.
func (a *StagingArchiver) Archive(ctx context.Context, execution *model.BatchExecution) (*ArchiveResult, error) {
	if execution == nil {
		return nil, exception.NewBatchError(moduleArchive, "cannot archive a nil execution", nil, false, false)
	}

	records, err := a.repo.FindStagingRecordsBySequenceRange(ctx, execution.ID, 1, 0)
	if err != nil {
		return nil, exception.NewBatchError(moduleArchive, fmt.Sprintf("failed to load staging records of execution %s", execution.ID), err, false, true)
	}

	result := &ArchiveResult{}
	if len(records) == 0 {
		logger.Infof("Archive: execution %s staged no records; nothing to export.", execution.ID)
		return result, nil
	}

	codec, err := compressionCodec(a.cfg.CompressionType)
	if err != nil {
		return nil, exception.NewBatchError(moduleArchive, fmt.Sprintf("invalid compression type '%s' for staging archive", a.cfg.CompressionType), err, false, false)
	}

	conn, err := a.resolver.ResolveStorageConnection(ctx, a.cfg.StorageRef)
	if err != nil {
		return nil, exception.NewBatchError(moduleArchive, fmt.Sprintf("failed to resolve storage connection '%s' for staging archive", a.cfg.StorageRef), err, false, true)
	}
	// The resolved connection is provider managed and stays open for reuse.

	groups := make(map[string][]*model.StagingRecord)
	for _, record := range records {
		groups[record.TransactionTypeID] = append(groups[record.TransactionTypeID], record)
	}
	transactionTypes := make([]string, 0, len(groups))
	for transactionType := range groups {
		transactionTypes = append(transactionTypes, transactionType)
	}
	sort.Strings(transactionTypes)

	datePart := "dt=" + archiveDate(execution)

	var merr *multierror.Error
	for _, transactionType := range transactionTypes {
		group := groups[transactionType]

		rows, err := buildRows(group)
		if err != nil {
			merr = multierror.Append(merr, exception.NewBatchError(moduleArchive, fmt.Sprintf("failed to project staging records of type '%s' (execution %s)", transactionType, execution.ID), err, false, false))
			continue
		}

		buf := new(bytes.Buffer)
		if err := writeParquet(buf, rows, codec); err != nil {
			merr = multierror.Append(merr, exception.NewBatchError(moduleArchive, fmt.Sprintf("failed to write Parquet snapshot of type '%s' (execution %s)", transactionType, execution.ID), err, false, false))
			continue
		}

		objectName := path.Join(a.cfg.OutputBaseDir, datePart, "type="+transactionType, execution.ID+".parquet")
		logger.Debugf("Archive: uploading %d bytes to '%s' via connection '%s'.", buf.Len(), objectName, a.cfg.StorageRef)
		if err := conn.Upload(ctx, a.cfg.Bucket, objectName, buf, parquetContentType); err != nil {
			merr = multierror.Append(merr, exception.NewBatchError(moduleArchive, fmt.Sprintf("failed to upload staging snapshot '%s' (execution %s)", objectName, execution.ID), err, false, true))
			continue
		}

		result.ObjectNames = append(result.ObjectNames, objectName)
		result.RecordCount += len(rows)
		logger.Infof("Archive: exported %d record(s) of type '%s' for execution %s to '%s'.", len(rows), transactionType, execution.ID, objectName)
	}

	return result, merr.ErrorOrNil()
}

// buildRows projects staged records onto the Parquet row shape.
func buildRows(records []*model.StagingRecord) ([]stagingRow, error) {
	rows := make([]stagingRow, 0, len(records))
	for _, record := range records {
		payload, err := serialization.MarshalPayload(record.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize payload of record '%s': %w", record.RecordID, err)
		}
		rows = append(rows, stagingRow{
			ExecutionID:       record.ExecutionID,
			TransactionTypeID: record.TransactionTypeID,
			SequenceNumber:    record.SequenceNumber,
			RecordID:          record.RecordID,
			Payload:           string(payload),
			ProcessingStatus:  string(record.ProcessingStatus),
			CorrelationID:     record.CorrelationID,
			CreatedAt:         record.CreatedAt.UnixMilli(),
		})
	}
	return rows, nil
}

// writeParquet writes the rows as a single Parquet file into buf.
func writeParquet(buf *bytes.Buffer, rows []stagingRow, codec parquet.CompressionCodec) error {
	pw, err := writer.NewParquetWriterFromWriter(buf, new(stagingRow), parquetParallelism)
	if err != nil {
		return fmt.Errorf("failed to create Parquet writer: %w", err)
	}
	pw.CompressionType = codec

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", row.SequenceNumber, err)
		}
	}
	return stopParquetWriter(pw)
}

// stopParquetWriter finalizes the file. WriteStop can panic inside the
// library, so a recover converts that into an error.
func stopParquetWriter(pw *writer.ParquetWriter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parquet writer panicked during finalization: %v", r)
		}
	}()
	return pw.WriteStop()
}

// archiveDate picks the Hive partition date of an execution: its business
// date when the submission carried one, otherwise the end of the run.
func archiveDate(execution *model.BatchExecution) string {
	if execution.BusinessDate != "" {
		return execution.BusinessDate
	}
	if execution.EndTime != nil {
		return execution.EndTime.UTC().Format("2006-01-02")
	}
	return execution.StartTime.UTC().Format("2006-01-02")
}

// compressionCodec maps a configured compression name to the Parquet codec.
func compressionCodec(compressionType string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(compressionType) {
	case "SNAPPY":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE", "":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported compression type: %s", compressionType)
	}
}

// NoOpArchiver discards archive requests. It stands in when the export is
// disabled so listener wiring stays unconditional.
type NoOpArchiver struct{}

// Archive returns an empty result without touching storage.
func (NoOpArchiver) Archive(ctx context.Context, execution *model.BatchExecution) (*ArchiveResult, error) {
	return &ArchiveResult{}, nil
}

var _ Archiver = NoOpArchiver{}
