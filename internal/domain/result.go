package domain

import (
	"encoding/json"
)

// StrategyResult is a strategy with its freshly computed allocation. The
// embedded Strategy is a copy of the input, untouched.
type StrategyResult struct {
	Strategy
	NewAllocation    float64 `json:"newAllocation"`
	AllocationChange float64 `json:"allocationChange"`
	Reason           string  `json:"reason"`
}

// MarshalJSON writes the original strategy fields followed by the computed
// ones. Needed because the embedded Strategy's marshaler would otherwise be
// promoted and hide the computed fields.
func (s StrategyResult) MarshalJSON() ([]byte, error) {
	base, err := s.Strategy.MarshalJSON()
	if err != nil {
		return nil, err
	}

	values := make(map[string]json.RawMessage, len(computedKeys))
	for key, v := range map[string]interface{}{
		"newAllocation":    s.NewAllocation,
		"allocationChange": s.AllocationChange,
		"reason":           s.Reason,
	} {
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		values[key] = encoded
	}

	return appendFields(base, computedKeys, values)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *StrategyResult) UnmarshalJSON(data []byte) error {
	var strategy Strategy
	if err := json.Unmarshal(data, &strategy); err != nil {
		return err
	}

	var computed struct {
		NewAllocation    Number `json:"newAllocation"`
		AllocationChange Number `json:"allocationChange"`
		Reason           string `json:"reason"`
	}
	if err := json.Unmarshal(data, &computed); err != nil {
		return err
	}

	for _, k := range computedKeys {
		delete(strategy.Extra, k)
	}
	if len(strategy.Extra) == 0 {
		strategy.Extra = nil
	}

	*s = StrategyResult{
		Strategy:         strategy,
		NewAllocation:    float64(computed.NewAllocation),
		AllocationChange: float64(computed.AllocationChange),
		Reason:           computed.Reason,
	}
	return nil
}

// TierResult mirrors Tier with enriched strategies. Extra is only carried
// for tiers passed through untouched.
type TierResult struct {
	Tier       *Number          `json:"tier,omitempty"`
	Name       string           `json:"name,omitempty"`
	Strategies []StrategyResult `json:"strategies"`

	// StrategiesOmitted marks a pass-through tier whose request had no
	// strategies key; the key is then left out of the JSON as well.
	StrategiesOmitted bool `json:"-" msgpack:"strategies_omitted,omitempty"`

	Extra map[string]json.RawMessage `json:"-" msgpack:"extra,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *TierResult) UnmarshalJSON(data []byte) error {
	type plain TierResult
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, err := splitExtra(data, tierKeys...)
	if err != nil {
		return err
	}
	p.Extra = extra
	p.StrategiesOmitted = p.Strategies == nil
	*t = TierResult(p)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t TierResult) MarshalJSON() ([]byte, error) {
	type plain TierResult
	var out []byte
	var err error
	if t.StrategiesOmitted && len(t.Strategies) == 0 {
		out, err = marshalTierHeader(t.Tier, t.Name)
	} else {
		out, err = json.Marshal(plain(t))
	}
	if err != nil {
		return nil, err
	}
	return appendExtra(out, t.Extra)
}

// AllocationSum returns the sum of newAllocation across the tier.
func (t TierResult) AllocationSum() float64 {
	total := 0.0
	for _, s := range t.Strategies {
		total += s.NewAllocation
	}
	return total
}

// RebalanceResult is the output of one rebalance computation. Tier and
// strategy order match the request.
type RebalanceResult struct {
	RequestType string          `json:"requestType"`
	Timestamp   json.RawMessage `json:"timestamp"`
	Tiers       []TierResult    `json:"tiers"`
}

// NextRequest builds the request the following cycle would receive if the
// computed allocations were applied as-is.
func (r RebalanceResult) NextRequest() RebalanceRequest {
	next := RebalanceRequest{
		RequestType: r.RequestType,
		Timestamp:   append(json.RawMessage(nil), r.Timestamp...),
		Tiers:       make([]Tier, len(r.Tiers)),
	}
	for i, t := range r.Tiers {
		tier := Tier{
			Tier:  cloneNumber(t.Tier),
			Name:  t.Name,
			Extra: cloneExtra(t.Extra),
		}
		if !t.StrategiesOmitted || len(t.Strategies) > 0 {
			tier.Strategies = make([]Strategy, len(t.Strategies))
		}
		for j, s := range t.Strategies {
			strategy := s.Strategy.Clone()
			strategy.CurrentAllocation = NewNumber(s.NewAllocation)
			tier.Strategies[j] = strategy
		}
		next.Tiers[i] = tier
	}
	return next
}

// Changes returns every allocationChange in tier/strategy order.
func (r RebalanceResult) Changes() []float64 {
	var changes []float64
	for _, t := range r.Tiers {
		for _, s := range t.Strategies {
			changes = append(changes, s.AllocationChange)
		}
	}
	return changes
}
