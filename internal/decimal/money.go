package decimal

import (
	"github.com/shopspring/decimal"
)

// Scale is the number of decimal places kept for invoice amounts
const Scale = 2

// Zero is decimal zero
var Zero = decimal.Zero

// Epsilon is the tolerance used when reconciling totals (one cent)
var Epsilon = decimal.New(1, -Scale)

var hundred = decimal.NewFromInt(100)

// FromInt creates decimal from int
func FromInt(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

// FromFloat creates decimal from float, rounded half-up to 2 places
func FromFloat(v float64) decimal.Decimal {
	return Round(decimal.NewFromFloat(v))
}

// FromString parses decimal from string
func FromString(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// MustFromString parses decimal from string, panics on error
func MustFromString(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Round rounds half away from zero to 2 places.
// For the non-negative amounts on an invoice this is round-half-up.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// LineTotal computes quantity * unitPrice, rounded
func LineTotal(quantity, unitPrice decimal.Decimal) decimal.Decimal {
	return Round(quantity.Mul(unitPrice))
}

// LineTax computes amount * (rate/100), rounded
func LineTax(amount, ratePercent decimal.Decimal) decimal.Decimal {
	if ratePercent.IsZero() {
		return Zero
	}
	return Round(amount.Mul(ratePercent).Div(hundred))
}

// Sum sums a slice of decimals
func Sum(values []decimal.Decimal) decimal.Decimal {
	result := Zero
	for _, v := range values {
		result = result.Add(v)
	}
	return result
}

// Reconciles reports whether a and b differ by at most Epsilon
func Reconciles(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Epsilon)
}

// IsPositive returns true if decimal is greater than zero
func IsPositive(d decimal.Decimal) bool {
	return d.GreaterThan(Zero)
}

// IsNonNegative returns true if decimal is >= zero
func IsNonNegative(d decimal.Decimal) bool {
	return d.GreaterThanOrEqual(Zero)
}

// Format renders an amount with exactly 2 decimals, as used in XML documents
func Format(d decimal.Decimal) string {
	return Round(d).StringFixed(Scale)
}

// FormatRate renders a tax rate with 2 decimals ("20.00", "5.50")
func FormatRate(rate decimal.Decimal) string {
	return rate.StringFixed(Scale)
}

// FormatQuantity renders a quantity with 4 decimals, as CII BilledQuantity expects
func FormatQuantity(q decimal.Decimal) string {
	return q.StringFixed(4)
}
