// Package amount turns locale-formatted money strings into decimals.
package amount

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// Parse normalizes strings such as "₹1,23,456.78", "Rs. 500" or "INR 12,000".
// Everything except digits, commas and periods is dropped, commas are treated
// as grouping separators (western and lakh/crore alike) and the rest is parsed
// as a decimal. Empty or malformed input yields an invalid NullDecimal.
func Parse(text string) decimal.NullDecimal {
	runes := []rune(text)

	var b strings.Builder
	seenDigit := false
	for i, r := range runes {
		switch {
		case isDigit(r):
			b.WriteRune(r)
			seenDigit = true
		case r == '.':
			// The dot in "Rs." is an abbreviation, not a decimal point.
			if seenDigit || (i+1 < len(runes) && isDigit(runes[i+1]) && (i == 0 || !unicode.IsLetter(runes[i-1]))) {
				b.WriteRune(r)
			}
		}
	}

	cleaned := strings.TrimRight(b.String(), ".")
	if cleaned == "" || strings.Count(cleaned, ".") > 1 {
		return decimal.NullDecimal{}
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// MustParse is Parse for literals known to be valid. It panics otherwise.
func MustParse(text string) decimal.Decimal {
	v := Parse(text)
	if !v.Valid {
		panic("amount: invalid literal " + text)
	}
	return v.Decimal
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}
