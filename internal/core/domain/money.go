package domain

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

type Currency string

const (
	USD Currency = "USD"
	TZS Currency = "TZS"
)

var maxMinorUnits = decimal.NewFromInt(math.MaxInt64)

// ToMinorUnits converts a major-unit amount (e.g. 30.50) into integer minor
// units (3050 for precision 2). Amounts finer than precision are rejected.
func ToMinorUnits(amount decimal.Decimal, precision int32) (int64, error) {
	if !amount.IsPositive() {
		return 0, &ValidationError{Field: "amount", Message: "must be positive"}
	}
	scaled := amount.Shift(precision)
	if !scaled.IsInteger() {
		return 0, &ValidationError{
			Field:   "amount",
			Message: fmt.Sprintf("must have at most %d decimal places", precision),
		}
	}
	if scaled.GreaterThan(maxMinorUnits) {
		return 0, &ValidationError{Field: "amount", Message: "is too large"}
	}
	return scaled.IntPart(), nil
}

// FormatMinorUnits renders minor units as a fixed-point major-unit string, 7000 -> "70.00".
func FormatMinorUnits(amount int64, precision int32) string {
	return decimal.New(amount, -precision).StringFixed(precision)
}
