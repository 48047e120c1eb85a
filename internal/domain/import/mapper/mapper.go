// Package mapper validates user-supplied column mappings from raw file
// headers onto canonical transaction fields.
package mapper

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Field is a canonical transaction field a column can map onto
type Field string

const (
	FieldAmount      Field = "amount"
	FieldDescription Field = "description"
	FieldMerchant    Field = "merchant"
	FieldDate        Field = "date"
	FieldCategory    Field = "category"

	// FieldAccountID comes from the file record, never from a column
	FieldAccountID Field = "account_id"
)

// RequiredFields must each be the target of exactly one column
var RequiredFields = []Field{FieldAmount, FieldMerchant, FieldDate}

var mappable = map[Field]bool{
	FieldAmount:      true,
	FieldDescription: true,
	FieldMerchant:    true,
	FieldDate:        true,
	FieldCategory:    true,
}

// ErrInvalidMapping is matched by every mapping rejection via errors.Is
var ErrInvalidMapping = errors.New("invalid column mapping")

type UnknownHeaderError struct {
	Header string
}

func (e *UnknownHeaderError) Error() string {
	return fmt.Sprintf("column %q is not in the file header", e.Header)
}

func (e *UnknownHeaderError) Is(target error) bool { return target == ErrInvalidMapping }

type ReservedFieldError struct {
	Header string
	Field  Field
}

func (e *ReservedFieldError) Error() string {
	return fmt.Sprintf("column %q cannot map to %q: the field is supplied by the import, not the file", e.Header, e.Field)
}

func (e *ReservedFieldError) Is(target error) bool { return target == ErrInvalidMapping }

type UnknownFieldError struct {
	Header string
	Field  string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("column %q maps to unknown field %q", e.Header, e.Field)
}

func (e *UnknownFieldError) Is(target error) bool { return target == ErrInvalidMapping }

type DuplicateFieldError struct {
	Field   Field
	Headers []string
}

func (e *DuplicateFieldError) Error() string {
	return fmt.Sprintf("field %q is mapped from more than one column: %s", e.Field, strings.Join(e.Headers, ", "))
}

func (e *DuplicateFieldError) Is(target error) bool { return target == ErrInvalidMapping }

type MissingFieldError struct {
	Fields []Field
}

func (e *MissingFieldError) Error() string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = string(f)
	}
	return fmt.Sprintf("required fields are not mapped: %s", strings.Join(names, ", "))
}

func (e *MissingFieldError) Is(target error) bool { return target == ErrInvalidMapping }

// Mapping is a validated raw column -> field mapping
type Mapping map[string]Field

// Column returns the raw column mapped onto f
func (m Mapping) Column(f Field) (string, bool) {
	for col, field := range m {
		if field == f {
			return col, true
		}
	}
	return "", false
}

// Raw returns the mapping as plain strings for persistence
func (m Mapping) Raw() map[string]string {
	out := make(map[string]string, len(m))
	for col, field := range m {
		out[col] = string(field)
	}
	return out
}

// Validate checks candidate against the previewed headers. Checks run in a
// fixed order over sorted columns so the reported error is deterministic:
// reserved targets, unknown columns, unknown fields, duplicate targets, and
// finally missing required fields.
func Validate(headers []string, candidate map[string]string) (Mapping, error) {
	known := make(map[string]bool, len(headers))
	for _, h := range headers {
		if h != "" {
			known[h] = true
		}
	}

	cols := make([]string, 0, len(candidate))
	for col := range candidate {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	for _, col := range cols {
		if Field(candidate[col]) == FieldAccountID {
			return nil, &ReservedFieldError{Header: col, Field: FieldAccountID}
		}
	}

	for _, col := range cols {
		if !known[col] {
			return nil, &UnknownHeaderError{Header: col}
		}
	}

	mapping := make(Mapping, len(candidate))
	byField := make(map[Field][]string)
	for _, col := range cols {
		f := Field(candidate[col])
		if !mappable[f] {
			return nil, &UnknownFieldError{Header: col, Field: candidate[col]}
		}
		mapping[col] = f
		byField[f] = append(byField[f], col)
	}

	for _, f := range []Field{FieldAmount, FieldDescription, FieldMerchant, FieldDate, FieldCategory} {
		if len(byField[f]) > 1 {
			return nil, &DuplicateFieldError{Field: f, Headers: byField[f]}
		}
	}

	var missing []Field
	for _, f := range RequiredFields {
		if len(byField[f]) == 0 {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingFieldError{Fields: missing}
	}

	return mapping, nil
}

// FromRaw rebuilds a Mapping from persisted strings without re-validating
func FromRaw(raw map[string]string) Mapping {
	m := make(Mapping, len(raw))
	for col, field := range raw {
		m[col] = Field(field)
	}
	return m
}
