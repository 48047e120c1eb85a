// Package preview extracts the header row and the first data rows of an
// uploaded CSV so the user can choose a column mapping.
package preview

import (
	"errors"
	"fmt"
	"io"

	"github.com/FACorreiaa/finance-import/internal/domain/import/parser"
)

// DefaultMaxRows is the number of data rows kept when the caller passes 0
const DefaultMaxRows = 10

// Preview is the header list plus up to maxRows data rows keyed by header
type Preview struct {
	Headers []string            `json:"headers"`
	Rows    []map[string]string `json:"rows"`
}

// MalformedFileError means the upload cannot be read as a CSV table
type MalformedFileError struct {
	Reason string
	Err    error
}

func (e *MalformedFileError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed file: %s: %v", e.Reason, e.Err)
	}
	return "malformed file: " + e.Reason
}

func (e *MalformedFileError) Unwrap() error { return e.Err }

// Extract reads the header row and at most maxRows data rows from r.
// Rows that break quoting rules are left out of the preview.
func Extract(r io.Reader, maxRows int) (*Preview, error) {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	reader := parser.NewRowReader(r)
	header, err := reader.Header()
	if err != nil {
		return nil, malformed(err)
	}
	if err := checkHeader(header); err != nil {
		return nil, err
	}

	p := &Preview{
		Headers: header,
		Rows:    make([]map[string]string, 0, maxRows),
	}
	for len(p.Rows) < maxRows {
		row, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		var rowErr *parser.RowError
		if errors.As(err, &rowErr) {
			continue
		}
		if err != nil {
			return nil, malformed(err)
		}
		p.Rows = append(p.Rows, row.Values)
	}

	return p, nil
}

func checkHeader(header []string) error {
	seen := make(map[string]struct{}, len(header))
	named := 0
	for _, h := range header {
		if h == "" {
			continue
		}
		named++
		if _, dup := seen[h]; dup {
			return &MalformedFileError{Reason: fmt.Sprintf("duplicate column %q", h)}
		}
		seen[h] = struct{}{}
	}
	if named == 0 {
		return &MalformedFileError{Reason: "header row has no column names"}
	}
	return nil
}

func malformed(err error) error {
	switch {
	case errors.Is(err, parser.ErrEmptyFile):
		return &MalformedFileError{Reason: "no header row", Err: err}
	case errors.Is(err, parser.ErrInvalidEncoding):
		return &MalformedFileError{Reason: "invalid encoding", Err: err}
	default:
		return &MalformedFileError{Reason: "unreadable", Err: err}
	}
}
