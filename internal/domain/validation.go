package domain

import (
	"fmt"
	"math"
)

// Warnings reports suspicious but accepted input. The engine tolerates all of
// it; callers surface the list in response metadata.
func (r RebalanceRequest) Warnings() []string {
	var warnings []string
	for ti, tier := range r.Tiers {
		label := tier.Name
		if label == "" {
			label = fmt.Sprintf("#%d", ti)
		}

		seen := make(map[string]int, len(tier.Strategies))
		allocated := 0.0
		for si, s := range tier.Strategies {
			if s.Address != "" {
				if first, dup := seen[s.Address]; dup {
					warnings = append(warnings, fmt.Sprintf("tier %s: strategy %d repeats address %s (first seen at %d)", label, si, s.Address, first))
				} else {
					seen[s.Address] = si
				}
			}
			if alloc := s.Allocation(); alloc < 0 || alloc > 100 {
				warnings = append(warnings, fmt.Sprintf("tier %s: strategy %d has currentAllocation %.2f outside [0,100]", label, si, alloc))
			}
			if s.APY() < 0 {
				warnings = append(warnings, fmt.Sprintf("tier %s: strategy %d has negative currentAPY", label, si))
			}
			allocated += s.Allocation()
		}

		if len(tier.Strategies) > 0 && math.Abs(allocated-100) > 0.5 {
			warnings = append(warnings, fmt.Sprintf("tier %s: current allocations sum to %.2f, not 100", label, allocated))
		}
	}
	return warnings
}
