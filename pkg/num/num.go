// Package num does money and quantity arithmetic in decimal so that sums such
// as filled + remaining stay exact after many partial fills.
package num

import "github.com/shopspring/decimal"

// Places is the precision kept for stored prices, quantities and cash.
const Places = 8

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

// Dec converts v using its shortest decimal representation, so 7.2 becomes
// exactly 7.2.
func Dec(v float64) decimal.Decimal { return d(v) }

// Fits reports whether v carries no more than Places decimals.
func Fits(v float64) bool { return d(v).Exponent() >= -Places }

func out(v decimal.Decimal) float64 {
	f, _ := v.Round(Places).Float64()
	return f
}

// Add returns a + b.
func Add(a, b float64) float64 { return out(d(a).Add(d(b))) }

// Sub returns a - b.
func Sub(a, b float64) float64 { return out(d(a).Sub(d(b))) }

// Mul returns a * b.
func Mul(a, b float64) float64 { return out(d(a).Mul(d(b))) }

// Round rounds v to Places.
func Round(v float64) float64 { return out(d(v)) }

// Min returns the smaller of a and b.
func Min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// Abs returns |v|.
func Abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// WeightedAvg returns the quantity-weighted mean of two lots. Both quantities
// must be non-negative; a zero total yields 0.
func WeightedAvg(q1, p1, q2, p2 float64) float64 {
	total := d(q1).Add(d(q2))
	if total.IsZero() {
		return 0
	}
	return out(d(q1).Mul(d(p1)).Add(d(q2).Mul(d(p2))).Div(total))
}

// IsZero reports whether v rounds to zero at Places.
func IsZero(v float64) bool { return d(v).Round(Places).IsZero() }
