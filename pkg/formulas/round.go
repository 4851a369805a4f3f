// Package formulas holds the numeric helpers shared by the allocation engine
// and the history analytics.
package formulas

import (
	"math"
	"strconv"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/floats"
)

// Round rounds val to the given number of decimal places. The exact binary
// value is rounded, and exact ties go to the even digit, so 2.675 rounds to
// 2.67 and 0.125 to 0.12. Non-finite input is returned unchanged.
func Round(val float64, places int32) float64 {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return val
	}
	return RoundDecimal(val, places).InexactFloat64()
}

// RoundDecimal is Round but keeps the result in decimal form so that sums of
// rounded values stay exact.
func RoundDecimal(val float64, places int32) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(strconv.FormatFloat(val, 'f', int(places), 64))
	if err != nil {
		return decimal.NewFromFloat(val).Round(places)
	}
	return d
}

// Sum adds up values. An empty slice sums to zero.
func Sum(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return floats.Sum(values)
}

// Clamp bounds val to [lo, hi].
func Clamp(val, lo, hi float64) float64 {
	return math.Min(math.Max(val, lo), hi)
}
