// Package allocation computes per-tier target allocations for yield
// strategies: score, target, smooth, clamp, renormalize, drift-correct and
// explain.
//
// The engine is pure. It performs no I/O, keeps no state and never mutates
// its input, so a single Policy value can be shared across goroutines.
package allocation

import (
	"fmt"
)

// Default policy constants.
const (
	LossThreshold  = 2.0
	MinAlloc       = 5.0
	MaxAlloc       = 80.0
	SmoothingAlpha = 0.35

	// minScore keeps every score strictly positive so the target
	// normalization never divides by zero.
	minScore = 0.01
)

// Reasons attached to every strategy result.
const (
	ReasonWeak    = "Weak trend (currentAPY below historical avg) → reduced allocation"
	ReasonStrong  = "Strong trend (currentAPY above historical avg) → increased allocation"
	ReasonNeutral = "Neutral trend → small rebalance"
)

// Policy holds the tunables of the rebalance pipeline.
type Policy struct {
	// LossThreshold is how far currentAPY may sit below avgAPY before the
	// strategy is treated as weak and its score halved.
	LossThreshold float64
	// MinAlloc and MaxAlloc bound each smoothed allocation, in percent.
	MinAlloc float64
	MaxAlloc float64
	// SmoothingAlpha is the fraction of the gap to target closed per run.
	SmoothingAlpha float64
}

// DefaultPolicy returns the production policy.
func DefaultPolicy() Policy {
	return Policy{
		LossThreshold:  LossThreshold,
		MinAlloc:       MinAlloc,
		MaxAlloc:       MaxAlloc,
		SmoothingAlpha: SmoothingAlpha,
	}
}

// Validate checks that the policy is usable.
func (p Policy) Validate() error {
	if p.LossThreshold < 0 {
		return fmt.Errorf("loss threshold must be non-negative, got %v", p.LossThreshold)
	}
	if p.MinAlloc < 0 || p.MaxAlloc > 100 || p.MinAlloc > p.MaxAlloc {
		return fmt.Errorf("allocation bounds must satisfy 0 <= min <= max <= 100, got [%v, %v]", p.MinAlloc, p.MaxAlloc)
	}
	if p.SmoothingAlpha <= 0 || p.SmoothingAlpha > 1 {
		return fmt.Errorf("smoothing alpha must be in (0, 1], got %v", p.SmoothingAlpha)
	}
	return nil
}
