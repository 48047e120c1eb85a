package repository

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// jsonArg matches a JSON-encoded []byte argument exactly
type jsonArg string

func (a jsonArg) Match(v any) bool {
	b, ok := v.([]byte)
	return ok && bytes.Equal(b, []byte(a))
}

var fileRecordCols = []string{
	"id", "user_id", "account_id", "file_name", "storage_path", "status", "currency_code",
	"headers", "preview_rows", "mapped_headers", "error_log",
	"rows_total", "rows_imported", "rows_duplicate", "rows_failed", "created_at", "updated_at",
}

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *PostgresImportRepository) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPostgresImportRepository(mock)
}

func TestGetAccountCurrency(t *testing.T) {
	mock, repo := newMockRepo(t)
	userID, accountID := uuid.New(), uuid.New()

	mock.ExpectQuery(`SELECT currency_code FROM accounts`).
		WithArgs(accountID, userID).
		WillReturnRows(pgxmock.NewRows([]string{"currency_code"}).AddRow("EUR"))

	code, err := repo.GetAccountCurrency(context.Background(), userID, accountID)
	require.NoError(t, err)
	assert.Equal(t, "EUR", code)

	mock.ExpectQuery(`SELECT currency_code FROM accounts`).
		WithArgs(accountID, userID).
		WillReturnError(pgx.ErrNoRows)

	_, err = repo.GetAccountCurrency(context.Background(), userID, accountID)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateFileRecord(t *testing.T) {
	mock, repo := newMockRepo(t)
	now := time.Now()

	rec := &FileRecord{
		UserID:       uuid.New(),
		AccountID:    uuid.New(),
		FileName:     "jan.csv",
		StoragePath:  "u/abc_jan.csv",
		Status:       StatusPending,
		CurrencyCode: "USD",
		Headers:      []string{"Amt", "Who"},
		PreviewRows:  []map[string]string{{"Amt": "1.00", "Who": "Cafe"}},
	}

	mock.ExpectQuery(`INSERT INTO import_files`).
		WithArgs(pgxmock.AnyArg(), rec.UserID, rec.AccountID, "jan.csv", "u/abc_jan.csv", "PENDING", "USD",
			jsonArg(`["Amt","Who"]`), jsonArg(`[{"Amt":"1.00","Who":"Cafe"}]`)).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	require.NoError(t, repo.CreateFileRecord(context.Background(), rec))
	assert.NotEqual(t, uuid.Nil, rec.ID)
	assert.Equal(t, now, rec.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateFileRecord_DuplicateName(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectQuery(`INSERT INTO import_files`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "uq_import_files_user_name"})

	err := repo.CreateFileRecord(context.Background(), &FileRecord{Status: StatusPending})
	assert.ErrorIs(t, err, ErrDuplicateFile)
}

func TestGetFileRecord(t *testing.T) {
	mock, repo := newMockRepo(t)
	userID, fileID, accountID := uuid.New(), uuid.New(), uuid.New()
	now := time.Now()

	mock.ExpectQuery(`SELECT id, user_id, account_id`).
		WithArgs(fileID, userID).
		WillReturnRows(pgxmock.NewRows(fileRecordCols).AddRow(
			fileID, userID, accountID, "jan.csv", "p", "FAILED", "USD",
			[]byte(`["Amt","Who","When"]`),
			[]byte(`[{"Amt":"12.50","Who":"Cafe X","When":"2024-01-05"}]`),
			[]byte(`{"Amt":"amount","Who":"merchant","When":"date"}`),
			[]byte(`[{"row_index":1,"error_message":"amount: invalid"}]`),
			2, 1, 0, 1, now, now,
		))

	rec, err := repo.GetFileRecord(context.Background(), userID, fileID)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, []string{"Amt", "Who", "When"}, rec.Headers)
	assert.Equal(t, "Cafe X", rec.PreviewRows[0]["Who"])
	assert.Equal(t, "amount", rec.MappedHeaders["Amt"])
	require.Len(t, rec.ErrorLog, 1)
	assert.Equal(t, ErrorEntry{RowIndex: 1, Message: "amount: invalid"}, rec.ErrorLog[0])
	assert.Equal(t, 1, rec.RowsFailed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetFileRecord_PendingHasNoMapping(t *testing.T) {
	mock, repo := newMockRepo(t)
	userID, fileID := uuid.New(), uuid.New()
	now := time.Now()

	mock.ExpectQuery(`SELECT id, user_id, account_id`).
		WithArgs(fileID, userID).
		WillReturnRows(pgxmock.NewRows(fileRecordCols).AddRow(
			fileID, userID, uuid.New(), "jan.csv", "p", "PENDING", "USD",
			[]byte(`["a"]`), []byte(`[]`), []byte(nil), []byte(`[]`),
			0, 0, 0, 0, now, now,
		))

	rec, err := repo.GetFileRecord(context.Background(), userID, fileID)
	require.NoError(t, err)
	assert.Nil(t, rec.MappedHeaders)
	assert.Empty(t, rec.ErrorLog)
}

func TestGetFileRecord_NotFound(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectQuery(`SELECT id, user_id, account_id`).WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetFileRecord(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestGetFileRecord_RejectsUnknownStatus(t *testing.T) {
	mock, repo := newMockRepo(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT id, user_id, account_id`).
		WillReturnRows(pgxmock.NewRows(fileRecordCols).AddRow(
			uuid.New(), uuid.New(), uuid.New(), "jan.csv", "p", "imported", "USD",
			[]byte(`[]`), []byte(`[]`), []byte(`{}`), []byte(`[]`),
			0, 0, 0, 0, now, now,
		))

	_, err := repo.GetFileRecord(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, ErrUnknownStatus)
}

func TestListFileRecords(t *testing.T) {
	mock, repo := newMockRepo(t)
	userID := uuid.New()
	now := time.Now()

	mock.ExpectQuery(`(?s)SELECT id, user_id, account_id.*ORDER BY created_at DESC`).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows(fileRecordCols).
			AddRow(uuid.New(), userID, uuid.New(), "feb.csv", "p2", "PENDING", "USD",
				[]byte(`[]`), []byte(`[]`), []byte(nil), []byte(`[]`), 0, 0, 0, 0, now, now).
			AddRow(uuid.New(), userID, uuid.New(), "jan.csv", "p1", "IMPORTED", "USD",
				[]byte(`[]`), []byte(`[]`), []byte(`{}`), []byte(`[]`), 3, 3, 0, 0, now.Add(-time.Hour), now))

	records, err := repo.ListFileRecords(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "feb.csv", records[0].FileName)
	assert.Equal(t, StatusImported, records[1].Status)
}

func TestMarkValidated(t *testing.T) {
	mock, repo := newMockRepo(t)
	userID, fileID := uuid.New(), uuid.New()
	now := time.Now()

	mock.ExpectQuery(`UPDATE import_files\s+SET mapped_headers`).
		WithArgs(fileID, userID, jsonArg(`{"Amt":"amount"}`), "VALIDATED", "PENDING").
		WillReturnRows(pgxmock.NewRows([]string{"updated_at"}).AddRow(now))

	updated, err := repo.MarkValidated(context.Background(), userID, fileID, map[string]string{"Amt": "amount"})
	require.NoError(t, err)
	assert.Equal(t, now, updated)

	mock.ExpectQuery(`UPDATE import_files\s+SET mapped_headers`).WillReturnError(pgx.ErrNoRows)

	_, err = repo.MarkValidated(context.Background(), userID, fileID, map[string]string{"Amt": "amount"})
	assert.ErrorIs(t, err, ErrStatusConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFinished(t *testing.T) {
	mock, repo := newMockRepo(t)
	userID, fileID := uuid.New(), uuid.New()
	now := time.Now()

	mock.ExpectQuery(`UPDATE import_files\s+SET status`).
		WithArgs(fileID, userID, "IMPORTED", jsonArg(`[]`), 3, 2, 1, 0, "VALIDATED").
		WillReturnRows(pgxmock.NewRows([]string{"updated_at"}).AddRow(now))

	_, err := repo.MarkFinished(context.Background(), userID, fileID, StatusImported, nil,
		ImportCounts{Total: 3, Imported: 2, Duplicate: 1})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFinished_RejectsNonTerminalStatus(t *testing.T) {
	mock, repo := newMockRepo(t)

	_, err := repo.MarkFinished(context.Background(), uuid.New(), uuid.New(), StatusPending, nil, ImportCounts{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid terminal status")

	// Nothing reached the database
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFinished_Conflict(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectQuery(`UPDATE import_files\s+SET status`).WillReturnError(pgx.ErrNoRows)

	_, err := repo.MarkFinished(context.Background(), uuid.New(), uuid.New(), StatusFailed,
		[]ErrorEntry{{RowIndex: 0, Message: "x"}}, ImportCounts{Total: 1, Failed: 1})
	assert.ErrorIs(t, err, ErrStatusConflict)
}

func TestFindDuplicateTransaction(t *testing.T) {
	mock, repo := newMockRepo(t)
	accountID := uuid.New()
	day := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(accountID, "Cafe X", day, int64(1250)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	found, err := repo.FindDuplicateTransaction(context.Background(), accountID, "Cafe X", day, 1250)
	require.NoError(t, err)
	assert.True(t, found)

	mock.ExpectQuery(`SELECT EXISTS`).WillReturnError(errors.New("connection reset"))

	_, err = repo.FindDuplicateTransaction(context.Background(), accountID, "Cafe X", day, 1250)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to check duplicate transaction")
}

func TestCreateTransaction(t *testing.T) {
	mock, repo := newMockRepo(t)
	fileID := uuid.New()
	now := time.Now()

	tx := &Transaction{
		UserID:       uuid.New(),
		AccountID:    uuid.New(),
		FileID:       &fileID,
		PostedOn:     time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
		Description:  "Coffee",
		Merchant:     "Cafe X",
		Category:     "uncategorized",
		AmountMinor:  1250,
		CurrencyCode: "USD",
	}

	mock.ExpectQuery(`INSERT INTO transactions`).
		WithArgs(pgxmock.AnyArg(), tx.UserID, tx.AccountID, tx.FileID, tx.PostedOn,
			"Coffee", "Cafe X", "uncategorized", int64(1250), "USD").
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(now))

	require.NoError(t, repo.CreateTransaction(context.Background(), tx))
	assert.NotEqual(t, uuid.Nil, tx.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteFileRecord(t *testing.T) {
	mock, repo := newMockRepo(t)
	userID, fileID := uuid.New(), uuid.New()

	mock.ExpectExec(`DELETE FROM import_files`).
		WithArgs(fileID, userID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, repo.DeleteFileRecord(context.Background(), userID, fileID))

	mock.ExpectExec(`DELETE FROM import_files`).
		WithArgs(fileID, userID).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	assert.ErrorIs(t, repo.DeleteFileRecord(context.Background(), userID, fileID), sql.ErrNoRows)
}

func TestListStalePending(t *testing.T) {
	mock, repo := newMockRepo(t)
	cutoff := time.Now().Add(-72 * time.Hour)

	mock.ExpectQuery(`WHERE status = \$1 AND created_at < \$2`).
		WithArgs("PENDING", cutoff, 100).
		WillReturnRows(pgxmock.NewRows(fileRecordCols))

	records, err := repo.ListStalePending(context.Background(), cutoff, 100)
	require.NoError(t, err)
	assert.Empty(t, records)
}
