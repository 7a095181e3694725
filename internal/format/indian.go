// Package format renders numbers the way Indian bills print them: the last
// three integer digits grouped together, then groups of two (12,34,567.50).
package format

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Amount formats a money value with exactly two decimals.
func Amount(d decimal.Decimal) string {
	return group(d.StringFixed(2))
}

// Number formats a quantity with up to three decimals and no trailing zeros.
func Number(d decimal.Decimal) string {
	return group(d.Round(3).String())
}

func AmountFloat(f float64) string { return Amount(decimal.NewFromFloat(f)) }

func NumberFloat(f float64) string { return Number(decimal.NewFromFloat(f)) }

func group(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}

	if len(intPart) <= 3 {
		return sign + intPart + frac
	}

	head, tail := intPart[:len(intPart)-3], intPart[len(intPart)-3:]
	var groups []string
	for len(head) > 2 {
		groups = append([]string{head[len(head)-2:]}, groups...)
		head = head[:len(head)-2]
	}
	if head != "" {
		groups = append([]string{head}, groups...)
	}
	return sign + strings.Join(groups, ",") + "," + tail + frac
}
