package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// DBTX is the subset of pgxpool.Pool used by the repository
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresImportRepository implements ImportRepository using PostgreSQL
type PostgresImportRepository struct {
	pool DBTX
}

// NewPostgresImportRepository creates a new PostgreSQL import repository
func NewPostgresImportRepository(pool DBTX) *PostgresImportRepository {
	return &PostgresImportRepository{pool: pool}
}

const fileRecordColumns = `id, user_id, account_id, file_name, storage_path, status, currency_code,
		headers, preview_rows, mapped_headers, error_log,
		rows_total, rows_imported, rows_duplicate, rows_failed, created_at, updated_at`

// GetAccountCurrency returns the currency of an account owned by userID
func (r *PostgresImportRepository) GetAccountCurrency(ctx context.Context, userID, accountID uuid.UUID) (string, error) {
	query := `SELECT currency_code FROM accounts WHERE id = $1 AND user_id = $2`

	var code string
	err := r.pool.QueryRow(ctx, query, accountID, userID).Scan(&code)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", sql.ErrNoRows
	}
	if err != nil {
		return "", fmt.Errorf("failed to get account currency: %w", err)
	}
	return code, nil
}

// CreateFileRecord inserts a PENDING record with its preview
func (r *PostgresImportRepository) CreateFileRecord(ctx context.Context, rec *FileRecord) error {
	query := `
		INSERT INTO import_files (id, user_id, account_id, file_name, storage_path, status, currency_code, headers, preview_rows)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	headers, err := json.Marshal(rec.Headers)
	if err != nil {
		return fmt.Errorf("failed to encode headers: %w", err)
	}
	preview, err := json.Marshal(rec.PreviewRows)
	if err != nil {
		return fmt.Errorf("failed to encode preview rows: %w", err)
	}

	err = r.pool.QueryRow(ctx, query,
		rec.ID,
		rec.UserID,
		rec.AccountID,
		rec.FileName,
		rec.StoragePath,
		rec.Status.String(),
		rec.CurrencyCode,
		headers,
		preview,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateFile
	}
	if err != nil {
		return fmt.Errorf("failed to create file record: %w", err)
	}
	return nil
}

// GetFileRecord retrieves a record owned by userID
func (r *PostgresImportRepository) GetFileRecord(ctx context.Context, userID, fileID uuid.UUID) (*FileRecord, error) {
	query := `SELECT ` + fileRecordColumns + `
		FROM import_files
		WHERE id = $1 AND user_id = $2`

	rec, err := scanFileRecord(r.pool.QueryRow(ctx, query, fileID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file record: %w", err)
	}
	return rec, nil
}

// ListFileRecords returns the user's records, newest first
func (r *PostgresImportRepository) ListFileRecords(ctx context.Context, userID uuid.UUID) ([]*FileRecord, error) {
	query := `SELECT ` + fileRecordColumns + `
		FROM import_files
		WHERE user_id = $1
		ORDER BY created_at DESC`

	return r.queryFileRecords(ctx, "list file records", query, userID)
}

// MarkValidated stores the mapping and moves PENDING -> VALIDATED.
// Returns ErrStatusConflict if the record is no longer PENDING.
func (r *PostgresImportRepository) MarkValidated(ctx context.Context, userID, fileID uuid.UUID, mapping map[string]string) (time.Time, error) {
	query := `
		UPDATE import_files
		SET mapped_headers = $3, status = $4, updated_at = now()
		WHERE id = $1 AND user_id = $2 AND status = $5
		RETURNING updated_at`

	encoded, err := json.Marshal(mapping)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to encode mapping: %w", err)
	}

	var updatedAt time.Time
	err = r.pool.QueryRow(ctx, query,
		fileID,
		userID,
		encoded,
		StatusValidated.String(),
		StatusPending.String(),
	).Scan(&updatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, ErrStatusConflict
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to confirm mapping: %w", err)
	}
	return updatedAt, nil
}

// MarkFinished writes the error log and counters and moves VALIDATED to a terminal status.
// Returns ErrStatusConflict if the record is no longer VALIDATED.
func (r *PostgresImportRepository) MarkFinished(ctx context.Context, userID, fileID uuid.UUID, status FileStatus, errorLog []ErrorEntry, counts ImportCounts) (time.Time, error) {
	if !StatusValidated.CanTransitionTo(status) {
		return time.Time{}, fmt.Errorf("invalid terminal status %q", status)
	}

	query := `
		UPDATE import_files
		SET status = $3, error_log = $4,
			rows_total = $5, rows_imported = $6, rows_duplicate = $7, rows_failed = $8,
			updated_at = now()
		WHERE id = $1 AND user_id = $2 AND status = $9
		RETURNING updated_at`

	if errorLog == nil {
		errorLog = []ErrorEntry{}
	}
	encoded, err := json.Marshal(errorLog)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to encode error log: %w", err)
	}

	var updatedAt time.Time
	err = r.pool.QueryRow(ctx, query,
		fileID,
		userID,
		status.String(),
		encoded,
		counts.Total,
		counts.Imported,
		counts.Duplicate,
		counts.Failed,
		StatusValidated.String(),
	).Scan(&updatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, ErrStatusConflict
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to finish import: %w", err)
	}
	return updatedAt, nil
}

// ListStalePending returns PENDING records created before the cutoff, oldest first
func (r *PostgresImportRepository) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*FileRecord, error) {
	query := `SELECT ` + fileRecordColumns + `
		FROM import_files
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at
		LIMIT $3`

	return r.queryFileRecords(ctx, "list stale uploads", query, StatusPending.String(), createdBefore, limit)
}

// DeleteFileRecord removes a record. Imported transactions keep their rows.
func (r *PostgresImportRepository) DeleteFileRecord(ctx context.Context, userID, fileID uuid.UUID) error {
	query := `DELETE FROM import_files WHERE id = $1 AND user_id = $2`
	result, err := r.pool.Exec(ctx, query, fileID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete file record: %w", err)
	}
	if result.RowsAffected() == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// FindDuplicateTransaction reports whether the account already holds a
// transaction with the same merchant, date and amount
func (r *PostgresImportRepository) FindDuplicateTransaction(ctx context.Context, accountID uuid.UUID, merchant string, postedOn time.Time, amountMinor int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE account_id = $1 AND merchant = $2 AND posted_on = $3 AND amount_minor = $4
		)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, accountID, merchant, postedOn, amountMinor).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check duplicate transaction: %w", err)
	}
	return exists, nil
}

// CreateTransaction inserts one imported transaction
func (r *PostgresImportRepository) CreateTransaction(ctx context.Context, tx *Transaction) error {
	query := `
		INSERT INTO transactions (id, user_id, account_id, file_id, posted_on, description, merchant, category, amount_minor, currency_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`

	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}

	err := r.pool.QueryRow(ctx, query,
		tx.ID,
		tx.UserID,
		tx.AccountID,
		tx.FileID,
		tx.PostedOn,
		tx.Description,
		tx.Merchant,
		tx.Category,
		tx.AmountMinor,
		tx.CurrencyCode,
	).Scan(&tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (r *PostgresImportRepository) queryFileRecords(ctx context.Context, op, query string, args ...any) ([]*FileRecord, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	defer rows.Close()

	var records []*FileRecord
	for rows.Next() {
		rec, err := scanFileRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	return records, nil
}

func scanFileRecord(row pgx.Row) (*FileRecord, error) {
	var (
		rec                                FileRecord
		status                             string
		headers, preview, mapped, errorLog []byte
	)

	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.AccountID,
		&rec.FileName,
		&rec.StoragePath,
		&status,
		&rec.CurrencyCode,
		&headers,
		&preview,
		&mapped,
		&errorLog,
		&rec.RowsTotal,
		&rec.RowsImported,
		&rec.RowsDuplicate,
		&rec.RowsFailed,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if rec.Status, err = ParseFileStatus(status); err != nil {
		return nil, err
	}
	if err := decodeJSON(headers, &rec.Headers); err != nil {
		return nil, fmt.Errorf("headers: %w", err)
	}
	if err := decodeJSON(preview, &rec.PreviewRows); err != nil {
		return nil, fmt.Errorf("preview_rows: %w", err)
	}
	if err := decodeJSON(mapped, &rec.MappedHeaders); err != nil {
		return nil, fmt.Errorf("mapped_headers: %w", err)
	}
	if err := decodeJSON(errorLog, &rec.ErrorLog); err != nil {
		return nil, fmt.Errorf("error_log: %w", err)
	}
	return &rec, nil
}

// decodeJSON leaves dst untouched for NULL columns
func decodeJSON(data []byte, dst any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}
