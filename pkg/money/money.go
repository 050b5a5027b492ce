package money

import "github.com/shopspring/decimal"

// Tolerance is the smallest difference treated as a real monetary discrepancy.
const Tolerance = 0.01

// Round2 rounds half away from zero to two decimal places.
func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// Mul returns round2(a × b) computed in decimal arithmetic.
func Mul(a, b float64) float64 {
	return decimal.NewFromFloat(a).Mul(decimal.NewFromFloat(b)).Round(2).InexactFloat64()
}

// Sub returns round2(a − b).
func Sub(a, b float64) float64 {
	return decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b)).Round(2).InexactFloat64()
}

// Sum adds values without intermediate float drift and rounds the result.
func Sum(values ...float64) float64 {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(decimal.NewFromFloat(v))
	}
	return total.Round(2).InexactFloat64()
}

// Equal reports whether a and b are within Tolerance of each other.
func Equal(a, b float64) bool {
	return decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b)).Abs().LessThanOrEqual(decimal.NewFromFloat(Tolerance))
}

// IsMultipleOf reports whether v is an exact multiple of step.
func IsMultipleOf(v, step float64) bool {
	if step == 0 {
		return false
	}
	return decimal.NewFromFloat(v).Mod(decimal.NewFromFloat(step)).IsZero()
}
