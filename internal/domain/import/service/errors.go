package service

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/FACorreiaa/finance-import/internal/domain/import/repository"
)

var (
	// ErrFileNotFound is returned when the file does not exist or belongs to another user
	ErrFileNotFound = errors.New("import file not found")
	// ErrAccountNotFound is returned when the target account is missing or not owned by the uploader
	ErrAccountNotFound = errors.New("account not found")
	// ErrDuplicateUpload is returned when the user already has a file with the same name
	ErrDuplicateUpload = errors.New("a file with this name was already uploaded")
	// ErrImportInProgress is returned when another run for the same file has not finished
	ErrImportInProgress = errors.New("import already in progress")
	// ErrEmptyFileName is returned when an upload carries no file name
	ErrEmptyFileName = errors.New("file name is required")
)

// AlreadyProcessedError is returned for operations on a record in a terminal status
type AlreadyProcessedError struct {
	FileID uuid.UUID
	Status repository.FileStatus
}

func (e *AlreadyProcessedError) Error() string {
	return fmt.Sprintf("file %s was already processed (status %s)", e.FileID, e.Status)
}

// InvalidStatusError is returned when the record is not in the status the operation requires
type InvalidStatusError struct {
	FileID   uuid.UUID
	Status   repository.FileStatus
	Expected repository.FileStatus
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("file %s is %s, expected %s", e.FileID, e.Status, e.Expected)
}

// SourceUnavailableError means the stored upload could not be read to completion.
// The record's status is left unchanged.
type SourceUnavailableError struct {
	FileID uuid.UUID
	Err    error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source for file %s unavailable: %v", e.FileID, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

func statusError(rec *repository.FileRecord, expected repository.FileStatus) error {
	if rec.Status.IsTerminal() {
		return &AlreadyProcessedError{FileID: rec.ID, Status: rec.Status}
	}
	return &InvalidStatusError{FileID: rec.ID, Status: rec.Status, Expected: expected}
}
