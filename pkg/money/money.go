package money

import (
	"fmt"
	"strings"
)

// DefaultFormat is used when the storefront does not supply a money format
// template.
const DefaultFormat = "${{amount}}"

// Template placeholders recognized by Format. These match the placeholder
// names storefront themes use in their shop money format setting.
const (
	placeholderAmount         = "{{amount}}"
	placeholderNoDecimals     = "{{amount_no_decimals}}"
	placeholderCommaSeparator = "{{amount_with_comma_separator}}"
)

// Total returns the display price in cents for a rental of the given number
// of nights. Negative night counts price as zero.
func Total(nights int, ratePerNightCents int64) int64 {
	if nights <= 0 {
		return 0
	}
	return int64(nights) * ratePerNightCents
}

// Format renders an amount in cents through a money format template,
// substituting every recognized placeholder:
//
//	{{amount}}                      1234.50
//	{{amount_no_decimals}}          1235  (rounded)
//	{{amount_with_comma_separator}} 1.234,50
//
// An empty template falls back to DefaultFormat. Unknown placeholders are
// left untouched so a malformed theme setting degrades visibly instead of
// silently dropping the price.
func Format(cents int64, template string) string {
	if template == "" {
		template = DefaultFormat
	}

	decimal := fmt.Sprintf("%d.%02d", cents/100, abs(cents%100))
	if cents < 0 && cents/100 == 0 {
		decimal = "-" + decimal
	}

	rounded := (cents + sign(cents)*50) / 100

	out := strings.ReplaceAll(template, placeholderNoDecimals, fmt.Sprintf("%d", rounded))
	out = strings.ReplaceAll(out, placeholderCommaSeparator, commaSeparated(cents))
	out = strings.ReplaceAll(out, placeholderAmount, decimal)
	return out
}

// commaSeparated renders cents with a comma decimal mark and dot-grouped
// thousands, e.g. 123456789 -> "1.234.567,89"
func commaSeparated(cents int64) string {
	whole := fmt.Sprintf("%d", abs(cents)/100)

	var groups []string
	for len(whole) > 3 {
		groups = append([]string{whole[len(whole)-3:]}, groups...)
		whole = whole[:len(whole)-3]
	}
	groups = append([]string{whole}, groups...)

	out := strings.Join(groups, ".") + fmt.Sprintf(",%02d", abs(cents)%100)
	if cents < 0 {
		out = "-" + out
	}
	return out
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

func sign(n int64) int64 {
	if n < 0 {
		return -1
	}
	return 1
}
