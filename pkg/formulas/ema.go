package formulas

import (
	"math"

	"github.com/markcheno/go-talib"
)

// CalculateEMA calculates the exponential moving average of series over length
// observations and returns the latest value.
//
// Series shorter than length fall back to the simple mean of what is available,
// so a freshly tracked strategy still gets a usable baseline. Returns nil for an
// empty series or a non-positive length.
func CalculateEMA(series []float64, length int) *float64 {
	if len(series) == 0 || length <= 0 {
		return nil
	}

	if len(series) < length || length == 1 {
		mean := Mean(series[max(0, len(series)-length):])
		return &mean
	}

	ema := talib.Ema(series, length)
	if len(ema) > 0 && !math.IsNaN(ema[len(ema)-1]) {
		result := ema[len(ema)-1]
		return &result
	}

	mean := Mean(series[len(series)-length:])
	return &mean
}

// CalculateSMA calculates the simple moving average of the last length
// observations. Returns nil when the series is shorter than length.
func CalculateSMA(series []float64, length int) *float64 {
	if length <= 0 || len(series) < length {
		return nil
	}

	if length == 1 {
		last := series[len(series)-1]
		return &last
	}

	sma := talib.Sma(series, length)
	if len(sma) > 0 && !math.IsNaN(sma[len(sma)-1]) {
		result := sma[len(sma)-1]
		return &result
	}

	mean := Mean(series[len(series)-length:])
	return &mean
}
