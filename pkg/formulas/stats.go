package formulas

import (
	"gonum.org/v1/gonum/stat"
)

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the sample standard deviation of a slice of float64 values.
// Fewer than two observations have no spread and return 0.
func StdDev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// MaxAbs returns the largest absolute value in data.
func MaxAbs(data []float64) float64 {
	result := 0.0
	for _, v := range data {
		if v < 0 {
			v = -v
		}
		if v > result {
			result = v
		}
	}
	return result
}
