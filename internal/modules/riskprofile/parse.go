package riskprofile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrNoJSONFound is returned when a reply holds no parsable JSON object.
	ErrNoJSONFound = errors.New("no JSON found")
	// ErrInvalidScore is returned when the JSON lacks a usable risk split.
	ErrInvalidScore = errors.New("invalid risk score")
)

// Score is a risk split in whole percentage points summing to 100.
type Score struct {
	LowRisk    int `json:"low_risk"`
	MediumRisk int `json:"medium_risk"`
	HighRisk   int `json:"high_risk"`
}

// Total returns the sum of the three buckets.
func (s Score) Total() int {
	return s.LowRisk + s.MediumRisk + s.HighRisk
}

var scoreKeys = [3]string{"low_risk", "medium_risk", "high_risk"}

// extractJSON returns the JSON object in text: the whole text if it parses,
// otherwise the span from the first '{' to the last '}'.
func extractJSON(text string) (json.RawMessage, bool) {
	trimmed := strings.TrimSpace(text)
	if json.Valid([]byte(trimmed)) && strings.HasPrefix(trimmed, "{") {
		return json.RawMessage(trimmed), true
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, false
	}
	candidate := text[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return nil, false
	}
	return json.RawMessage(candidate), true
}

// ParseScore extracts and normalizes a risk split from a model reply.
// Accepted shapes: {"risk_score": {...}}, {"risk_score": [{...}, ...]} and a
// flat {"low_risk": .., "medium_risk": .., "high_risk": ..}. Values may be
// numbers, numeric strings or percent strings.
func ParseScore(text string) (Score, error) {
	raw, ok := extractJSON(text)
	if !ok {
		return Score{}, ErrNoJSONFound
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return Score{}, ErrNoJSONFound
	}

	fields := top
	if nested, ok := top["risk_score"]; ok {
		var err error
		fields, err = flattenScoreObject(nested)
		if err != nil {
			return Score{}, err
		}
	}

	var values [3]float64
	for i, key := range scoreKeys {
		v, ok := fields[key]
		if !ok {
			return Score{}, fmt.Errorf("%w: missing %s", ErrInvalidScore, key)
		}
		f, err := parseValue(v)
		if err != nil {
			return Score{}, fmt.Errorf("%w: %s: %v", ErrInvalidScore, key, err)
		}
		values[i] = f
	}

	return normalize(values)
}

// flattenScoreObject accepts either an object or an array of objects.
func flattenScoreObject(raw json.RawMessage) (map[string]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var items []map[string]json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("%w: risk_score array: %v", ErrInvalidScore, err)
		}
		merged := make(map[string]json.RawMessage)
		for _, item := range items {
			for k, v := range item {
				merged[k] = v
			}
		}
		return merged, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: risk_score: %v", ErrInvalidScore, err)
	}
	return obj, nil
}

func parseValue(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("not a number: %s", raw)
	}
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return f, nil
}

// normalize clamps each value to [0, 100] and rescales to whole points summing
// to exactly 100. Leftover points go to the largest fractional remainders,
// ties resolved toward the lower-risk bucket.
func normalize(values [3]float64) (Score, error) {
	total := 0.0
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Score{}, fmt.Errorf("%w: non-finite value", ErrInvalidScore)
		}
		values[i] = math.Min(math.Max(v, 0), 100)
		total += values[i]
	}
	if total == 0 {
		return Score{}, fmt.Errorf("%w: all buckets are zero", ErrInvalidScore)
	}

	var points [3]int
	type remainder struct {
		idx  int
		frac float64
	}
	remainders := make([]remainder, 3)
	assigned := 0
	for i, v := range values {
		scaled := v * 100 / total
		points[i] = int(math.Floor(scaled))
		remainders[i] = remainder{idx: i, frac: scaled - math.Floor(scaled)}
		assigned += points[i]
	}

	sort.SliceStable(remainders, func(a, b int) bool {
		return remainders[a].frac > remainders[b].frac
	})
	for i := 0; assigned < 100; i++ {
		points[remainders[i%3].idx]++
		assigned++
	}

	return Score{LowRisk: points[0], MediumRisk: points[1], HighRisk: points[2]}, nil
}
