// Package parser streams rows out of uploaded delimited files and coerces
// mapped cells into candidate transactions.
package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrEmptyFile is returned when the stream holds no header row
var ErrEmptyFile = errors.New("file is empty")

// ErrInvalidEncoding is returned when the stream is not valid UTF-8 text
var ErrInvalidEncoding = errors.New("file is not valid UTF-8 text")

// RowError is a record the CSV reader rejected. The reader stays usable after
// returning one.
type RowError struct {
	Index int
	Err   error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Index, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// Row is one data record keyed by header name
type Row struct {
	Index  int
	Values map[string]string
}

// RowReader reads a header line and then data rows in file order.
// Row indices count data records from 0; a record that fails to parse still
// consumes its index.
type RowReader struct {
	csv    gocsv.CSVReader
	header []string
	next   int
}

// NewRowReader wraps src, dropping a leading byte order mark and rejecting
// bytes that are not UTF-8.
func NewRowReader(src io.Reader) *RowReader {
	decoded := transform.NewReader(src, transform.Chain(
		unicode.BOMOverride(transform.Nop),
		encoding.UTF8Validator,
	))

	r := csv.NewReader(decoded)
	r.FieldsPerRecord = -1 // Variable field count
	r.LazyQuotes = true    // Bank exports put literal quotes in unquoted fields
	return &RowReader{csv: r}
}

// Header reads the first record. Cells are trimmed; blank cells name columns
// that are never exposed in rows.
func (r *RowReader) Header() ([]string, error) {
	if r.header != nil {
		return r.header, nil
	}

	record, err := r.csv.Read()
	switch {
	case errors.Is(err, io.EOF):
		return nil, ErrEmptyFile
	case err != nil:
		return nil, classify(err)
	}

	header := make([]string, len(record))
	for i, h := range record {
		header[i] = strings.TrimSpace(h)
	}
	r.header = header
	return header, nil
}

// Next returns the next data row, io.EOF at the end, a *RowError for a record
// the CSV reader rejects, or another error when the stream itself fails.
// Quotes are read lazily: a stray quote inside an unquoted field is kept as
// text, and an unterminated quoted field runs to the end of the file.
func (r *RowReader) Next() (*Row, error) {
	if r.header == nil {
		if _, err := r.Header(); err != nil {
			return nil, err
		}
	}

	record, err := r.csv.Read()
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}

	index := r.next
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			r.next++
			return nil, &RowError{Index: index, Err: parseErr.Err}
		}
		return nil, classify(err)
	}
	r.next++

	values := make(map[string]string, len(r.header))
	for i, name := range r.header {
		if name == "" {
			continue
		}
		if i < len(record) {
			values[name] = record[i]
		} else {
			values[name] = ""
		}
	}
	return &Row{Index: index, Values: values}, nil
}

func classify(err error) error {
	if errors.Is(err, encoding.ErrInvalidUTF8) {
		return ErrInvalidEncoding
	}
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return fmt.Errorf("line %d: %w", parseErr.Line, parseErr.Err)
	}
	return fmt.Errorf("failed to read file: %w", err)
}
