package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FileStatus is the lifecycle state of an uploaded import file.
type FileStatus string

const (
	StatusPending   FileStatus = "PENDING"
	StatusValidated FileStatus = "VALIDATED"
	StatusImported  FileStatus = "IMPORTED"
	StatusFailed    FileStatus = "FAILED"
)

// ErrUnknownStatus is returned by ParseFileStatus for values outside the enum
var ErrUnknownStatus = errors.New("unknown file status")

// ParseFileStatus accepts exactly one of the four upper-case status names.
// Other spellings, including lower case, are rejected.
func ParseFileStatus(s string) (FileStatus, error) {
	switch st := FileStatus(s); st {
	case StatusPending, StatusValidated, StatusImported, StatusFailed:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
}

// IsTerminal reports whether no further transition is allowed
func (s FileStatus) IsTerminal() bool {
	return s == StatusImported || s == StatusFailed
}

// CanTransitionTo encodes PENDING -> VALIDATED -> IMPORTED | FAILED
func (s FileStatus) CanTransitionTo(next FileStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusValidated
	case StatusValidated:
		return next == StatusImported || next == StatusFailed
	default:
		return false
	}
}

func (s FileStatus) String() string { return string(s) }

// ErrorEntry is one line of a file's error log
type ErrorEntry struct {
	RowIndex int    `json:"row_index" csv:"row_index"`
	Message  string `json:"error_message" csv:"error_message"`
}

// FileRecord tracks one uploaded file from preview through import
type FileRecord struct {
	ID            uuid.UUID           `json:"id"`
	UserID        uuid.UUID           `json:"user_id"`
	AccountID     uuid.UUID           `json:"account_id"`
	FileName      string              `json:"filename"`
	StoragePath   string              `json:"-"`
	Status        FileStatus          `json:"status"`
	CurrencyCode  string              `json:"currency_code"`
	Headers       []string            `json:"headers"`
	PreviewRows   []map[string]string `json:"preview_rows"`
	MappedHeaders map[string]string   `json:"mapped_headers"`
	ErrorLog      []ErrorEntry        `json:"error_log"`
	RowsTotal     int                 `json:"rows_total"`
	RowsImported  int                 `json:"rows_imported"`
	RowsDuplicate int                 `json:"rows_duplicate"`
	RowsFailed    int                 `json:"rows_failed"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// ImportCounts are the per-outcome row totals written with a terminal status
type ImportCounts struct {
	Total     int
	Imported  int
	Duplicate int
	Failed    int
}

// Transaction is a persisted, imported bank transaction
type Transaction struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"user_id"`
	AccountID    uuid.UUID  `json:"account_id"`
	FileID       *uuid.UUID `json:"file_id,omitempty"`
	PostedOn     time.Time  `json:"posted_on"`
	Description  string     `json:"description"`
	Merchant     string     `json:"merchant"`
	Category     string     `json:"category"`
	AmountMinor  int64      `json:"amount_minor"`
	CurrencyCode string     `json:"currency_code"`
	CreatedAt    time.Time  `json:"created_at"`
}
