// Package repository persists import file records and imported transactions.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrDuplicateFile is returned when the user already has a file with the same name
	ErrDuplicateFile = errors.New("a file with this name was already uploaded")

	// ErrStatusConflict is returned when a guarded status transition finds the
	// record in a different state than expected
	ErrStatusConflict = errors.New("file record status changed concurrently")
)

// ImportRepository defines the data access contract for the import pipeline
type ImportRepository interface {
	// Accounts
	GetAccountCurrency(ctx context.Context, userID, accountID uuid.UUID) (string, error)

	// File records
	CreateFileRecord(ctx context.Context, rec *FileRecord) error
	GetFileRecord(ctx context.Context, userID, fileID uuid.UUID) (*FileRecord, error)
	ListFileRecords(ctx context.Context, userID uuid.UUID) ([]*FileRecord, error)
	MarkValidated(ctx context.Context, userID, fileID uuid.UUID, mapping map[string]string) (time.Time, error)
	MarkFinished(ctx context.Context, userID, fileID uuid.UUID, status FileStatus, errorLog []ErrorEntry, counts ImportCounts) (time.Time, error)
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*FileRecord, error)
	DeleteFileRecord(ctx context.Context, userID, fileID uuid.UUID) error

	// Transactions
	FindDuplicateTransaction(ctx context.Context, accountID uuid.UUID, merchant string, postedOn time.Time, amountMinor int64) (bool, error)
	CreateTransaction(ctx context.Context, tx *Transaction) error
}
