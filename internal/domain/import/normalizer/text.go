package normalizer

import "strings"

// CleanText trims s and collapses internal whitespace runs to one space
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
