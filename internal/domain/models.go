package domain

import (
	"encoding/json"
)

// DefaultRequestType is echoed back when a request does not name its type.
const DefaultRequestType = "rebalance"

var (
	historicalKeys = []string{"avgAPY", "volatility", "sharpe"}
	strategyKeys   = []string{"index", "address", "name", "currentAPY", "currentAllocation", "totalAssets", "historical"}
	tierKeys       = []string{"tier", "name", "strategies"}
	computedKeys   = []string{"newAllocation", "allocationChange", "reason"}
)

// Historical carries trailing statistics for a strategy. Only AvgAPY feeds the
// allocation engine; the rest is passed through.
type Historical struct {
	AvgAPY     *Number `json:"avgAPY,omitempty"`
	Volatility *Number `json:"volatility,omitempty"`
	Sharpe     *Number `json:"sharpe,omitempty"`

	// Extra holds any other historical fields verbatim.
	Extra map[string]json.RawMessage `json:"-" msgpack:"extra,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (h *Historical) UnmarshalJSON(data []byte) error {
	type plain Historical
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, err := splitExtra(data, historicalKeys...)
	if err != nil {
		return err
	}
	p.Extra = extra
	*h = Historical(p)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (h Historical) MarshalJSON() ([]byte, error) {
	type plain Historical
	out, err := json.Marshal(plain(h))
	if err != nil {
		return nil, err
	}
	return appendExtra(out, h.Extra)
}

// Strategy is one yield-bearing position inside a tier.
type Strategy struct {
	Index             *Number     `json:"index,omitempty"`
	Address           string      `json:"address,omitempty"`
	Name              string      `json:"name,omitempty"`
	CurrentAPY        *Number     `json:"currentAPY,omitempty"`
	CurrentAllocation *Number     `json:"currentAllocation,omitempty"`
	TotalAssets       *Number     `json:"totalAssets,omitempty"`
	Historical        *Historical `json:"historical,omitempty"`

	// Extra holds any other strategy fields verbatim.
	Extra map[string]json.RawMessage `json:"-" msgpack:"extra,omitempty"`
}

// APY returns the current yield, 0 when absent.
func (s Strategy) APY() float64 { return s.CurrentAPY.Float() }

// Allocation returns the current allocation percentage, 0 when absent.
func (s Strategy) Allocation() float64 { return s.CurrentAllocation.Float() }

// AvgAPY returns the trailing average yield, 0 when absent.
func (s Strategy) AvgAPY() float64 {
	if s.Historical == nil {
		return 0
	}
	return s.Historical.AvgAPY.Float()
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Strategy) UnmarshalJSON(data []byte) error {
	type plain Strategy
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, err := splitExtra(data, strategyKeys...)
	if err != nil {
		return err
	}
	p.Extra = extra
	*s = Strategy(p)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (s Strategy) MarshalJSON() ([]byte, error) {
	type plain Strategy
	out, err := json.Marshal(plain(s))
	if err != nil {
		return nil, err
	}
	return appendExtra(out, s.Extra)
}

// Clone returns a deep copy of the strategy.
func (s Strategy) Clone() Strategy {
	out := s
	out.Index = cloneNumber(s.Index)
	out.CurrentAPY = cloneNumber(s.CurrentAPY)
	out.CurrentAllocation = cloneNumber(s.CurrentAllocation)
	out.TotalAssets = cloneNumber(s.TotalAssets)
	if s.Historical != nil {
		h := *s.Historical
		h.AvgAPY = cloneNumber(s.Historical.AvgAPY)
		h.Volatility = cloneNumber(s.Historical.Volatility)
		h.Sharpe = cloneNumber(s.Historical.Sharpe)
		h.Extra = cloneExtra(s.Historical.Extra)
		out.Historical = &h
	}
	out.Extra = cloneExtra(s.Extra)
	return out
}

// Tier is a named risk bucket holding an ordered list of strategies.
type Tier struct {
	Tier       *Number    `json:"tier,omitempty"`
	Name       string     `json:"name,omitempty"`
	Strategies []Strategy `json:"strategies"`

	// Extra holds any other tier fields verbatim.
	Extra map[string]json.RawMessage `json:"-" msgpack:"extra,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Tier) UnmarshalJSON(data []byte) error {
	type plain Tier
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, err := splitExtra(data, tierKeys...)
	if err != nil {
		return err
	}
	p.Extra = extra
	*t = Tier(p)
	return nil
}

// MarshalJSON implements json.Marshaler. A nil Strategies (key absent or
// null on input) is written without the strategies key.
func (t Tier) MarshalJSON() ([]byte, error) {
	type plain Tier
	var out []byte
	var err error
	if t.Strategies == nil {
		out, err = marshalTierHeader(t.Tier, t.Name)
	} else {
		out, err = json.Marshal(plain(t))
	}
	if err != nil {
		return nil, err
	}
	return appendExtra(out, t.Extra)
}

func marshalTierHeader(tier *Number, name string) ([]byte, error) {
	return json.Marshal(struct {
		Tier *Number `json:"tier,omitempty"`
		Name string  `json:"name,omitempty"`
	}{tier, name})
}

// RebalanceRequest is the input of one rebalance computation.
type RebalanceRequest struct {
	RequestType string          `json:"requestType,omitempty"`
	Timestamp   json.RawMessage `json:"timestamp,omitempty"`
	Tiers       []Tier          `json:"tiers"`
}

// Clone returns a deep copy of the request, so the caller can keep the
// pre-rebalance snapshot untouched.
func (r RebalanceRequest) Clone() RebalanceRequest {
	out := RebalanceRequest{
		RequestType: r.RequestType,
		Timestamp:   append(json.RawMessage(nil), r.Timestamp...),
	}
	if r.Tiers == nil {
		return out
	}
	out.Tiers = make([]Tier, len(r.Tiers))
	for i, t := range r.Tiers {
		ct := Tier{Tier: cloneNumber(t.Tier), Name: t.Name, Extra: cloneExtra(t.Extra)}
		if t.Strategies != nil {
			ct.Strategies = make([]Strategy, len(t.Strategies))
			for j, s := range t.Strategies {
				ct.Strategies[j] = s.Clone()
			}
		}
		out.Tiers[i] = ct
	}
	return out
}

// StrategyCount returns the number of strategies across all tiers.
func (r RebalanceRequest) StrategyCount() int {
	n := 0
	for _, t := range r.Tiers {
		n += len(t.Strategies)
	}
	return n
}

// LegacyRebalanceEnvelope is the body accepted by POST /reallocate. BaseAPY
// is nil when the field is missing.
type LegacyRebalanceEnvelope struct {
	BaseAPY *RebalanceRequest `json:"base_apy"`
}

func cloneNumber(n *Number) *Number {
	if n == nil {
		return nil
	}
	v := *n
	return &v
}
