// Package normalizer turns raw cell text into canonical transaction values.
package normalizer

import (
	"strings"
	"unicode"
)

// Category is a canonical category code
type Category string

// Uncategorized is the fallback for empty or unrecognized category input
const Uncategorized Category = "uncategorized"

const (
	FoodDining     Category = "food_dining"
	Groceries      Category = "groceries"
	Transportation Category = "transportation"
	GasFuel        Category = "gas_fuel"
	Shopping       Category = "shopping"
	Entertainment  Category = "entertainment"
	BillsUtilities Category = "bills_utilities"
	HealthMedical  Category = "health_medical"
	Travel         Category = "travel"
	Education      Category = "education"
	PersonalCare   Category = "personal_care"
	HomeGarden     Category = "home_garden"
	Pets           Category = "pets"
	GiftsDonations Category = "gifts_donations"
	Business       Category = "business"
	Investments    Category = "investments"
	Income         Category = "income"
	Transfer       Category = "transfer"
)

var categories = map[Category]struct{}{
	Uncategorized: {}, FoodDining: {}, Groceries: {}, Transportation: {}, GasFuel: {},
	Shopping: {}, Entertainment: {}, BillsUtilities: {}, HealthMedical: {}, Travel: {},
	Education: {}, PersonalCare: {}, HomeGarden: {}, Pets: {}, GiftsDonations: {},
	Business: {}, Investments: {}, Income: {}, Transfer: {},
}

// Common bank labels that don't reduce to a code on their own
var categoryAliases = map[string]Category{
	"food":        FoodDining,
	"restaurants": FoodDining,
	"dining":      FoodDining,
	"food_drink":  FoodDining,
	"supermarket": Groceries,
	"transport":   Transportation,
	"fuel":        GasFuel,
	"gas":         GasFuel,
	"utilities":   BillsUtilities,
	"bills":       BillsUtilities,
	"health":      HealthMedical,
	"medical":     HealthMedical,
	"salary":      Income,
	"transfers":   Transfer,
	"other":       Uncategorized,
}

// ParseCategory maps raw input to a category code. Codes and display names
// ("Food & Dining") are matched case-insensitively. Empty input yields
// Uncategorized with ok=true; unrecognized input yields Uncategorized with ok=false.
func ParseCategory(raw string) (cat Category, ok bool) {
	key := categoryKey(raw)
	if key == "" {
		return Uncategorized, true
	}
	if _, found := categories[Category(key)]; found {
		return Category(key), true
	}
	if alias, found := categoryAliases[key]; found {
		return alias, true
	}
	return Uncategorized, false
}

// categoryKey lowercases and collapses every non-alphanumeric run to "_"
func categoryKey(raw string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return b.String()
}
