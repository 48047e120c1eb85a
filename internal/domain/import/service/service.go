// Package service provides the import orchestration logic.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/finance-import/internal/domain/import/mapper"
	"github.com/FACorreiaa/finance-import/internal/domain/import/parser"
	"github.com/FACorreiaa/finance-import/internal/domain/import/preview"
	"github.com/FACorreiaa/finance-import/internal/domain/import/repository"
	"github.com/FACorreiaa/finance-import/pkg/observability"
	"github.com/FACorreiaa/finance-import/pkg/storage"
)

const (
	tracerName     = "github.com/FACorreiaa/finance-import/internal/domain/import/service"
	purgeBatchSize = 100
)

// Options tunes the pipeline
type Options struct {
	PreviewRows      int
	StrictCategories bool
}

// UploadInput is a raw file submitted for import into an account
type UploadInput struct {
	UserID    uuid.UUID
	AccountID uuid.UUID
	FileName  string
	Body      io.Reader
}

// ImportResult is the record after a finished run plus the run's summary
type ImportResult struct {
	File    *repository.FileRecord `json:"file"`
	Summary *Summary               `json:"summary"`
}

// ImportService orchestrates upload, mapping and import of statement files
type ImportService struct {
	repo     repository.ImportRepository
	store    storage.Storage
	logger   *slog.Logger
	metrics  *observability.ImportMetrics
	tracer   trace.Tracer
	opts     Options
	inflight sync.Map
	now      func() time.Time
}

// NewImportService creates a new import service
func NewImportService(repo repository.ImportRepository, store storage.Storage, logger *slog.Logger) *ImportService {
	return &ImportService{
		repo:   repo,
		store:  store,
		logger: logger,
		tracer: otel.Tracer(tracerName),
		opts:   Options{PreviewRows: preview.DefaultMaxRows},
		now:    time.Now,
	}
}

// WithMetrics records pipeline activity on m
func (s *ImportService) WithMetrics(m *observability.ImportMetrics) *ImportService {
	s.metrics = m
	return s
}

// WithOptions overrides the defaults
func (s *ImportService) WithOptions(opts Options) *ImportService {
	if opts.PreviewRows <= 0 {
		opts.PreviewRows = preview.DefaultMaxRows
	}
	s.opts = opts
	return s
}

// Upload stores the file, extracts its preview and creates a PENDING record.
// Nothing is kept when the file is malformed or the name is already taken.
func (s *ImportService) Upload(ctx context.Context, in UploadInput) (*repository.FileRecord, error) {
	ctx, span := s.tracer.Start(ctx, "ImportService.Upload", trace.WithAttributes(
		attribute.String("user.id", in.UserID.String()),
		attribute.String("account.id", in.AccountID.String()),
	))
	defer span.End()

	name := strings.TrimSpace(in.FileName)
	if name == "" {
		return nil, ErrEmptyFileName
	}

	currency, err := s.repo.GetAccountCurrency(ctx, in.UserID, in.AccountID)
	if errors.Is(err, sql.ErrNoRows) {
		s.metrics.ObserveUpload("rejected")
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	info, err := s.store.Save(ctx, in.UserID, name, in.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	pv, err := s.extractPreview(ctx, info.Path)
	if err != nil {
		s.discard(ctx, info.Path)
		s.metrics.ObserveUpload("malformed")
		recordError(span, err)
		return nil, err
	}

	rec := &repository.FileRecord{
		UserID:       in.UserID,
		AccountID:    in.AccountID,
		FileName:     name,
		StoragePath:  info.Path,
		Status:       repository.StatusPending,
		CurrencyCode: currency,
		Headers:      pv.Headers,
		PreviewRows:  pv.Rows,
	}
	if err := s.repo.CreateFileRecord(ctx, rec); err != nil {
		s.discard(ctx, info.Path)
		if errors.Is(err, repository.ErrDuplicateFile) {
			s.metrics.ObserveUpload("duplicate")
			return nil, ErrDuplicateUpload
		}
		recordError(span, err)
		return nil, fmt.Errorf("failed to create file record: %w", err)
	}

	s.metrics.ObserveUpload("accepted")
	s.logger.Info("file uploaded",
		slog.String("file_id", rec.ID.String()),
		slog.String("user_id", rec.UserID.String()),
		slog.String("filename", rec.FileName),
		slog.Int64("size_bytes", info.Size),
		slog.Int("columns", len(rec.Headers)),
	)
	return rec, nil
}

func (s *ImportService) extractPreview(ctx context.Context, path string) (*preview.Preview, error) {
	src, err := s.store.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	return preview.Extract(src, s.opts.PreviewRows)
}

// ListFiles returns the user's files, newest first
func (s *ImportService) ListFiles(ctx context.Context, userID uuid.UUID) ([]*repository.FileRecord, error) {
	records, err := s.repo.ListFileRecords(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	if records == nil {
		records = []*repository.FileRecord{}
	}
	return records, nil
}

// GetFile returns one of the user's files
func (s *ImportService) GetFile(ctx context.Context, userID, fileID uuid.UUID) (*repository.FileRecord, error) {
	rec, err := s.repo.GetFileRecord(ctx, userID, fileID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return rec, nil
}

// ConfirmMapping validates candidate against the file's headers and moves the
// record to VALIDATED. On any error the record is unchanged.
func (s *ImportService) ConfirmMapping(ctx context.Context, userID, fileID uuid.UUID, candidate map[string]string) (*repository.FileRecord, error) {
	ctx, span := s.tracer.Start(ctx, "ImportService.ConfirmMapping", trace.WithAttributes(
		attribute.String("file.id", fileID.String()),
	))
	defer span.End()

	rec, err := s.GetFile(ctx, userID, fileID)
	if err != nil {
		return nil, err
	}
	if rec.Status != repository.StatusPending {
		return nil, statusError(rec, repository.StatusPending)
	}

	mapping, err := mapper.Validate(rec.Headers, candidate)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	raw := mapping.Raw()
	updatedAt, err := s.repo.MarkValidated(ctx, userID, fileID, raw)
	if errors.Is(err, repository.ErrStatusConflict) {
		return nil, s.conflict(ctx, userID, fileID, repository.StatusPending)
	}
	if err != nil {
		recordError(span, err)
		return nil, fmt.Errorf("failed to confirm mapping: %w", err)
	}

	rec.MappedHeaders = raw
	rec.Status = repository.StatusValidated
	rec.UpdatedAt = updatedAt

	s.logger.Info("mapping confirmed",
		slog.String("file_id", fileID.String()),
		slog.Any("mapping", raw),
	)
	return rec, nil
}

// RunImport streams the stored file through the confirmed mapping and
// finishes the record as IMPORTED or FAILED. Row problems land in the
// summary and error log; an unreadable source aborts without a status change.
func (s *ImportService) RunImport(ctx context.Context, userID, fileID uuid.UUID) (*ImportResult, error) {
	ctx, span := s.tracer.Start(ctx, "ImportService.RunImport", trace.WithAttributes(
		attribute.String("file.id", fileID.String()),
	))
	defer span.End()

	if _, busy := s.inflight.LoadOrStore(fileID, struct{}{}); busy {
		return nil, ErrImportInProgress
	}
	defer s.inflight.Delete(fileID)

	rec, err := s.GetFile(ctx, userID, fileID)
	if err != nil {
		return nil, err
	}
	if rec.Status != repository.StatusValidated {
		return nil, statusError(rec, repository.StatusValidated)
	}

	start := s.now()
	summary, err := s.importRows(ctx, rec, mapper.FromRaw(rec.MappedHeaders))
	if err != nil {
		s.logger.Error("import aborted",
			slog.String("file_id", fileID.String()),
			slog.Any("error", err),
		)
		recordError(span, err)
		return nil, &SourceUnavailableError{FileID: fileID, Err: err}
	}

	status := summary.Status()
	counts := summary.Counts()
	updatedAt, err := s.repo.MarkFinished(ctx, userID, fileID, status, summary.Errors, counts)
	if errors.Is(err, repository.ErrStatusConflict) {
		return nil, s.conflict(ctx, userID, fileID, repository.StatusValidated)
	}
	if err != nil {
		recordError(span, err)
		return nil, fmt.Errorf("failed to finish import: %w", err)
	}

	elapsed := s.now().Sub(start)
	s.metrics.ObserveImport(status.String(), elapsed)
	s.metrics.ObserveRows(string(OutcomeSuccess), summary.Succeeded)
	s.metrics.ObserveRows(string(OutcomeDuplicate), summary.Duplicates)
	s.metrics.ObserveRows(string(OutcomeValidationError), summary.ValidationErrors)
	s.metrics.ObserveRows(string(OutcomePersistenceError), summary.PersistErrors)

	span.SetAttributes(
		attribute.String("import.status", status.String()),
		attribute.Int("import.rows", summary.Total),
	)

	rec.Status = status
	rec.ErrorLog = summary.Errors
	rec.RowsTotal = counts.Total
	rec.RowsImported = counts.Imported
	rec.RowsDuplicate = counts.Duplicate
	rec.RowsFailed = counts.Failed
	rec.UpdatedAt = updatedAt

	s.logger.Info("import finished",
		slog.String("file_id", fileID.String()),
		slog.String("status", status.String()),
		slog.Int("rows", summary.Total),
		slog.Int("imported", summary.Succeeded),
		slog.Int("duplicates", summary.Duplicates),
		slog.Int("failed", counts.Failed),
		slog.Duration("elapsed", elapsed),
	)

	return &ImportResult{File: rec, Summary: summary}, nil
}

// importRows processes every data row in file order. A returned error means
// the source could not be read to the end.
func (s *ImportService) importRows(ctx context.Context, rec *repository.FileRecord, mapping mapper.Mapping) (*Summary, error) {
	src, err := s.store.Open(ctx, rec.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open stored file: %w", err)
	}
	defer src.Close()

	reader := parser.NewRowReader(src)
	header, err := reader.Header()
	if err != nil {
		return nil, err
	}
	if missing := missingColumns(header, mapping); len(missing) > 0 {
		return nil, fmt.Errorf("mapped columns missing from file: %s", strings.Join(missing, ", "))
	}

	rowParser := parser.NewRowParser(mapping, rec.CurrencyCode).WithStrictCategories(s.opts.StrictCategories)
	agg := NewAggregator(rec.CurrencyCode)

	for {
		row, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		var rowErr *parser.RowError
		if errors.As(err, &rowErr) {
			agg.Add(RowOutcome{RowIndex: rowErr.Index, Kind: OutcomeValidationError, Message: rowErr.Err.Error()})
			continue
		}
		if err != nil {
			return nil, err
		}

		agg.Add(s.importRow(ctx, rec, rowParser, row))
	}

	return agg.Summary(), nil
}

func (s *ImportService) importRow(ctx context.Context, rec *repository.FileRecord, p *parser.RowParser, row *parser.Row) RowOutcome {
	c, err := p.Parse(row)
	if err != nil {
		return RowOutcome{RowIndex: row.Index, Kind: OutcomeValidationError, Message: err.Error()}
	}

	amountMinor := c.Amount.Amount()
	dup, err := s.repo.FindDuplicateTransaction(ctx, rec.AccountID, c.Merchant, c.PostedOn, amountMinor)
	if err != nil {
		s.logger.Warn("duplicate lookup failed",
			slog.String("file_id", rec.ID.String()),
			slog.Int("row_index", row.Index),
			slog.Any("error", err),
		)
		return RowOutcome{RowIndex: row.Index, Kind: OutcomePersistenceError, Message: "could not check for duplicates"}
	}
	if dup {
		return RowOutcome{
			RowIndex: row.Index,
			Kind:     OutcomeDuplicate,
			Message: fmt.Sprintf("duplicate of existing transaction: %s on %s for %s",
				c.Merchant, c.PostedOn.Format("2006-01-02"), c.Amount.String()),
		}
	}

	fileID := rec.ID
	tx := &repository.Transaction{
		UserID:       rec.UserID,
		AccountID:    rec.AccountID,
		FileID:       &fileID,
		PostedOn:     c.PostedOn,
		Description:  c.Description,
		Merchant:     c.Merchant,
		Category:     string(c.Category),
		AmountMinor:  amountMinor,
		CurrencyCode: rec.CurrencyCode,
	}
	if err := s.repo.CreateTransaction(ctx, tx); err != nil {
		s.logger.Warn("failed to save transaction",
			slog.String("file_id", rec.ID.String()),
			slog.Int("row_index", row.Index),
			slog.Any("error", err),
		)
		return RowOutcome{RowIndex: row.Index, Kind: OutcomePersistenceError, Message: "could not save transaction"}
	}

	return RowOutcome{RowIndex: row.Index, Kind: OutcomeSuccess, Amount: c.Amount}
}

func missingColumns(header []string, mapping mapper.Mapping) []string {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[h] = true
	}

	var missing []string
	for col := range mapping {
		if col == "" || !present[col] {
			missing = append(missing, col)
		}
	}
	sort.Strings(missing)
	return missing
}

// DeleteFile removes the record and its stored bytes. Transactions already
// imported from the file are kept.
func (s *ImportService) DeleteFile(ctx context.Context, userID, fileID uuid.UUID) error {
	if _, busy := s.inflight.Load(fileID); busy {
		return ErrImportInProgress
	}

	rec, err := s.GetFile(ctx, userID, fileID)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteFileRecord(ctx, userID, fileID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrFileNotFound
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}
	s.discard(ctx, rec.StoragePath)

	s.logger.Info("file deleted",
		slog.String("file_id", fileID.String()),
		slog.String("status", rec.Status.String()),
	)
	return nil
}

// ExportErrors writes the file's error log to w as CSV
func (s *ImportService) ExportErrors(ctx context.Context, userID, fileID uuid.UUID, w io.Writer) error {
	rec, err := s.GetFile(ctx, userID, fileID)
	if err != nil {
		return err
	}

	entries := rec.ErrorLog
	if entries == nil {
		entries = []repository.ErrorEntry{}
	}
	if err := gocsv.Marshal(entries, w); err != nil {
		return fmt.Errorf("failed to write error log: %w", err)
	}
	return nil
}

// PurgeStaleUploads deletes PENDING uploads older than olderThan along with
// their stored bytes and returns how many were removed.
func (s *ImportService) PurgeStaleUploads(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan)
	purged := 0

	for {
		stale, err := s.repo.ListStalePending(ctx, cutoff, purgeBatchSize)
		if err != nil {
			return purged, fmt.Errorf("failed to list stale uploads: %w", err)
		}

		for _, rec := range stale {
			err := s.repo.DeleteFileRecord(ctx, rec.UserID, rec.ID)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				s.metrics.ObservePurged(purged)
				return purged, fmt.Errorf("failed to delete stale upload %s: %w", rec.ID, err)
			}
			s.discard(ctx, rec.StoragePath)
			purged++
		}

		if len(stale) < purgeBatchSize {
			break
		}
	}

	s.metrics.ObservePurged(purged)
	if purged > 0 {
		s.logger.Info("purged stale uploads",
			slog.Int("count", purged),
			slog.Time("cutoff", cutoff),
		)
	}
	return purged, nil
}

// conflict reports why a guarded transition matched no row
func (s *ImportService) conflict(ctx context.Context, userID, fileID uuid.UUID, expected repository.FileStatus) error {
	current, err := s.GetFile(ctx, userID, fileID)
	if err != nil {
		return err
	}
	return statusError(current, expected)
}

func (s *ImportService) discard(ctx context.Context, path string) {
	if err := s.store.Delete(ctx, path); err != nil {
		s.logger.Warn("failed to delete stored file",
			slog.String("path", path),
			slog.Any("error", err),
		)
	}
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
