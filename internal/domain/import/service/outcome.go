package service

import (
	"github.com/FACorreiaa/finance-import/internal/domain/import/repository"
	"github.com/FACorreiaa/finance-import/pkg/money"
)

// OutcomeKind classifies what happened to one row
type OutcomeKind string

const (
	OutcomeSuccess          OutcomeKind = "success"
	OutcomeDuplicate        OutcomeKind = "duplicate"
	OutcomeValidationError  OutcomeKind = "validation_error"
	OutcomePersistenceError OutcomeKind = "persistence_error"
)

// RowOutcome is the result of processing one data row
type RowOutcome struct {
	RowIndex int
	Kind     OutcomeKind
	Message  string
	Amount   *money.Money // set for successes
}

// Summary is the reduced view of a run's outcomes
type Summary struct {
	Total            int                     `json:"total"`
	Succeeded        int                     `json:"succeeded"`
	Duplicates       int                     `json:"duplicates"`
	ValidationErrors int                     `json:"validation_errors"`
	PersistErrors    int                     `json:"persistence_errors"`
	Errors           []repository.ErrorEntry `json:"errors"`
	DuplicateRows    []repository.ErrorEntry `json:"duplicate_rows"`
	ImportedTotal    *money.Money            `json:"imported_total,omitempty"`
}

// Status is IMPORTED when no row failed, FAILED otherwise. Duplicates do not count as failures.
func (s *Summary) Status() repository.FileStatus {
	if len(s.Errors) == 0 {
		return repository.StatusImported
	}
	return repository.StatusFailed
}

// Counts converts the summary into the counters stored on the record
func (s *Summary) Counts() repository.ImportCounts {
	return repository.ImportCounts{
		Total:     s.Total,
		Imported:  s.Succeeded,
		Duplicate: s.Duplicates,
		Failed:    s.ValidationErrors + s.PersistErrors,
	}
}

// Aggregator folds row outcomes into a Summary in arrival order
type Aggregator struct {
	summary Summary
}

// NewAggregator starts an empty summary. Imported amounts are totalled in currency.
func NewAggregator(currency string) *Aggregator {
	return &Aggregator{summary: Summary{
		Errors:        []repository.ErrorEntry{},
		DuplicateRows: []repository.ErrorEntry{},
		ImportedTotal: money.Zero(currency),
	}}
}

// Add records one outcome
func (a *Aggregator) Add(o RowOutcome) {
	s := &a.summary
	s.Total++

	switch o.Kind {
	case OutcomeSuccess:
		s.Succeeded++
		if total, err := s.ImportedTotal.Add(o.Amount); err == nil {
			s.ImportedTotal = total
		}
	case OutcomeDuplicate:
		s.Duplicates++
		s.DuplicateRows = append(s.DuplicateRows, repository.ErrorEntry{RowIndex: o.RowIndex, Message: o.Message})
	case OutcomeValidationError:
		s.ValidationErrors++
		s.Errors = append(s.Errors, repository.ErrorEntry{RowIndex: o.RowIndex, Message: o.Message})
	case OutcomePersistenceError:
		s.PersistErrors++
		s.Errors = append(s.Errors, repository.ErrorEntry{RowIndex: o.RowIndex, Message: o.Message})
	}
}

// Summary returns the result so far
func (a *Aggregator) Summary() *Summary {
	s := a.summary
	return &s
}
