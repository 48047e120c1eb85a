// Package testutil generates realistic bank statement fixtures for tests.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/gocarina/gocsv"
)

// StatementHeader is the header line written by StatementCSV
var StatementHeader = []string{"Date", "Description", "Merchant", "Amount", "Category"}

// StatementMapping maps StatementHeader onto canonical fields
var StatementMapping = map[string]string{
	"Date":        "date",
	"Description": "description",
	"Merchant":    "merchant",
	"Amount":      "amount",
	"Category":    "category",
}

// StatementRow is one line of a generated statement
type StatementRow struct {
	Date        string `csv:"Date"`
	Description string `csv:"Description"`
	Merchant    string `csv:"Merchant"`
	Amount      string `csv:"Amount"`
	Category    string `csv:"Category"`
}

var categories = []string{"Groceries", "Food & Dining", "Transportation", "Bills & Utilities", "Shopping", "Travel", ""}

// StatementRows returns n valid rows. The same seed yields the same rows.
func StatementRows(seed int64, n int) []StatementRow {
	f := gofakeit.New(seed)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)

	rows := make([]StatementRow, n)
	for i := range rows {
		rows[i] = StatementRow{
			Date:        f.DateRange(start, end).Format("2006-01-02"),
			Description: f.Sentence(4),
			Merchant:    fmt.Sprintf("%s #%d", f.Company(), i),
			Amount:      fmt.Sprintf("%.2f", -f.Price(1, 500)),
			Category:    f.RandomString(categories),
		}
	}
	return rows
}

// StatementCSV encodes rows with a header line
func StatementCSV(t testing.TB, rows []StatementRow) []byte {
	t.Helper()
	out, err := gocsv.MarshalBytes(rows)
	if err != nil {
		t.Fatalf("failed to encode statement: %v", err)
	}
	return out
}
