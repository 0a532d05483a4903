package extract

import "github.com/shopspring/decimal"

// Default thresholds, tuned against sample notifications.
const (
	DefaultCreditFloor    = 500
	DefaultDeductionFloor = 1
	DefaultMinRefLength   = 6

	maxRefLength = 32
)

// Options holds the noise thresholds used by the Extractor.
type Options struct {
	// CreditFloor discards credit and release amounts below it.
	CreditFloor decimal.Decimal
	// DeductionFloor discards deduction amounts below it.
	DeductionFloor decimal.Decimal
	// MinRefLength is the shortest accepted transaction reference.
	MinRefLength int
}

// DefaultOptions returns the standard thresholds.
func DefaultOptions() Options {
	return Options{
		CreditFloor:    decimal.NewFromInt(DefaultCreditFloor),
		DeductionFloor: decimal.NewFromInt(DefaultDeductionFloor),
		MinRefLength:   DefaultMinRefLength,
	}
}
