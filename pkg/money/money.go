// Package money fixes the monetary representation for the whole engine:
// amounts are int64 minor units (cents), rates are decimals, and every
// decimal-to-cents conversion rounds half-up exactly once, here.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var centsPerUnit = decimal.NewFromInt(100)

// Cents converts a decimal major-unit amount into minor units, half-up.
func Cents(amount decimal.Decimal) int64 {
	return amount.Mul(centsPerUnit).Round(0).IntPart()
}

// FromCents converts minor units back into a decimal major-unit amount.
func FromCents(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Div(centsPerUnit)
}

// MulRate multiplies a unit quantity by a per-unit decimal rate and returns
// cents. Used for overage charges where rates can be fractions of a cent.
func MulRate(quantity int64, rate decimal.Decimal) int64 {
	return Cents(decimal.NewFromInt(quantity).Mul(rate))
}

// ApplyRate multiplies a cents amount by a decimal rate (e.g. a tax rate)
// and returns cents.
func ApplyRate(cents int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(cents).Mul(rate).Round(0).IntPart()
}

// Format renders cents as a display string, e.g. 2900 -> "29.00".
func Format(cents int64, currency string) string {
	return fmt.Sprintf("%s %s", FromCents(cents).StringFixed(2), currency)
}
