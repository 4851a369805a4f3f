// Package domain defines the rebalance wire schema shared by the HTTP layer,
// the allocation engine and the run history.
//
// Field names follow the existing wire contract byte-for-byte (currentAPY,
// currentAllocation, totalAssets, historical.avgAPY, ...). Numeric fields are
// optional pointers so that absence survives a round trip.
package domain

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Number is a float64 that tolerates sloppy producers: it accepts JSON numbers
// and numeric strings, and coerces anything else (booleans, objects, "abc",
// NaN) to 0.
type Number float64

// NewNumber returns a pointer to v as a Number.
func NewNumber(v float64) *Number {
	n := Number(v)
	return &n
}

// Float returns the value, treating a nil Number as 0.
func (n *Number) Float() float64 {
	if n == nil {
		return 0
	}
	return float64(*n)
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}

	text := string(data)
	if data[0] == '"' {
		unquoted, err := strconv.Unquote(text)
		if err != nil {
			*n = 0
			return nil
		}
		text = strings.TrimSpace(unquoted)
	}

	v, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		*n = 0
		return nil
	}
	*n = Number(v)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (n Number) MarshalJSON() ([]byte, error) {
	v := float64(n)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = 0
	}
	return json.Marshal(v)
}
