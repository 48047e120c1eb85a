package parser

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/FACorreiaa/finance-import/internal/domain/import/mapper"
	"github.com/FACorreiaa/finance-import/internal/domain/import/normalizer"
	"github.com/FACorreiaa/finance-import/pkg/money"
)

// DateLayouts are tried in order; the first layout that parses wins, so an
// ambiguous date like 03/04/2024 reads as month-first.
var DateLayouts = []string{
	"2006-01-02", // ISO 8601
	"1/2/2006",   // MM/DD/YYYY (American)
	"2/1/2006",   // DD/MM/YYYY (European)
}

// Candidate is a row translated through the mapping and coerced to typed values
type Candidate struct {
	PostedOn    time.Time
	Amount      *money.Money
	Merchant    string
	Description string
	Category    normalizer.Category
}

// FieldError describes why one mapped cell was rejected
type FieldError struct {
	Field   mapper.Field
	Message string
}

// ValidationError lists every rejected field of a row
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = fmt.Sprintf("%s: %s", f.Field, f.Message)
	}
	return strings.Join(parts, "; ")
}

// RowParser applies a confirmed mapping to raw rows
type RowParser struct {
	mapping          mapper.Mapping
	currency         string
	strictCategories bool
}

// NewRowParser creates a parser for one import run. Amounts are converted to
// minor units of currency.
func NewRowParser(mapping mapper.Mapping, currency string) *RowParser {
	return &RowParser{mapping: mapping, currency: currency}
}

// WithStrictCategories makes unrecognized category values a row error
// instead of falling back to uncategorized.
func (p *RowParser) WithStrictCategories(strict bool) *RowParser {
	p.strictCategories = strict
	return p
}

// Parse coerces a row. All field problems are collected before returning.
func (p *RowParser) Parse(row *Row) (*Candidate, error) {
	var (
		c    Candidate
		errs []FieldError
	)

	fail := func(f mapper.Field, format string, args ...any) {
		errs = append(errs, FieldError{Field: f, Message: fmt.Sprintf(format, args...)})
	}

	if raw := strings.TrimSpace(p.cell(row, mapper.FieldAmount)); raw == "" {
		fail(mapper.FieldAmount, "is required")
	} else if amount, err := money.NewFromString(raw, p.currency, false); errors.Is(err, money.ErrAmountOutOfRange) {
		fail(mapper.FieldAmount, "amount %q is out of range", raw)
	} else if err != nil {
		fail(mapper.FieldAmount, "invalid amount %q", raw)
	} else {
		c.Amount = amount
	}

	c.Merchant = normalizer.CleanText(p.cell(row, mapper.FieldMerchant))
	if c.Merchant == "" {
		fail(mapper.FieldMerchant, "is required")
	}

	if raw := strings.TrimSpace(p.cell(row, mapper.FieldDate)); raw == "" {
		fail(mapper.FieldDate, "is required")
	} else if date, err := ParseDate(raw); err != nil {
		fail(mapper.FieldDate, "unrecognized date %q", raw)
	} else {
		c.PostedOn = date
	}

	c.Description = normalizer.CleanText(p.cell(row, mapper.FieldDescription))

	rawCategory := p.cell(row, mapper.FieldCategory)
	category, ok := normalizer.ParseCategory(rawCategory)
	if !ok && p.strictCategories {
		fail(mapper.FieldCategory, "unknown category %q", strings.TrimSpace(rawCategory))
	}
	c.Category = category

	if len(errs) > 0 {
		return nil, &ValidationError{Fields: errs}
	}
	return &c, nil
}

func (p *RowParser) cell(row *Row, f mapper.Field) string {
	col, ok := p.mapping.Column(f)
	if !ok {
		return ""
	}
	return row.Values[col]
}

// ErrUnrecognizedDate is returned by ParseDate when no layout matches
var ErrUnrecognizedDate = errors.New("unrecognized date")

// ParseDate parses s against DateLayouts in order
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range DateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %s", ErrUnrecognizedDate, s)
}
