package allocation

import (
	"encoding/json"

	"github.com/shopspring/decimal"
	"github.com/vaultpilot/allocator/internal/domain"
	"github.com/vaultpilot/allocator/pkg/formulas"
)

var hundred = decimal.NewFromInt(100)

// Stats summarizes one rebalance computation.
type Stats struct {
	Tiers      int
	EmptyTiers int
	Strategies int
	// DriftCorrections counts tiers whose rounded allocations needed a
	// drift adjustment to sum to exactly 100.
	DriftCorrections int
	// MaxAbsDrift is the largest drift applied, in percentage points.
	MaxAbsDrift float64
}

// Rebalance runs the default policy over every tier of req.
func Rebalance(req domain.RebalanceRequest) domain.RebalanceResult {
	return DefaultPolicy().Rebalance(req)
}

// Rebalance runs the pipeline over every tier of req.
func (p Policy) Rebalance(req domain.RebalanceRequest) domain.RebalanceResult {
	result, _ := p.RebalanceWithStats(req)
	return result
}

// RebalanceWithStats is Rebalance that also reports what happened.
func (p Policy) RebalanceWithStats(req domain.RebalanceRequest) (domain.RebalanceResult, Stats) {
	requestType := req.RequestType
	if requestType == "" {
		requestType = domain.DefaultRequestType
	}

	result := domain.RebalanceResult{
		RequestType: requestType,
		Timestamp:   append([]byte(nil), req.Timestamp...),
		Tiers:       make([]domain.TierResult, 0, len(req.Tiers)),
	}

	stats := Stats{Tiers: len(req.Tiers)}
	for _, tier := range req.Tiers {
		tr, drift := p.rebalanceTier(tier)
		result.Tiers = append(result.Tiers, tr)

		stats.Strategies += len(tier.Strategies)
		if len(tier.Strategies) == 0 {
			stats.EmptyTiers++
		}
		if !drift.IsZero() {
			stats.DriftCorrections++
			if abs := drift.Abs().InexactFloat64(); abs > stats.MaxAbsDrift {
				stats.MaxAbsDrift = abs
			}
		}
	}
	return result, stats
}

// RebalanceTier runs the pipeline over a single tier.
func (p Policy) RebalanceTier(tier domain.Tier) domain.TierResult {
	tr, _ := p.rebalanceTier(tier)
	return tr
}

func (p Policy) rebalanceTier(tier domain.Tier) (domain.TierResult, decimal.Decimal) {
	out := domain.TierResult{
		Tier: cloneNumber(tier.Tier),
		Name: tier.Name,
	}

	n := len(tier.Strategies)
	if n == 0 {
		// A tier sent without a strategies key goes back without one.
		if tier.Strategies == nil {
			out.StrategiesOmitted = true
		} else {
			out.Strategies = []domain.StrategyResult{}
		}
		out.Extra = cloneExtra(tier.Extra)
		return out, decimal.Zero
	}

	scored := make([]scoredStrategy, n)
	scores := make([]float64, n)
	for i, s := range tier.Strategies {
		scored[i] = p.score(s)
		scores[i] = scored[i].score
	}
	totalScore := formulas.Sum(scores)

	clamped := make([]float64, n)
	for i, s := range scored {
		target := 100 * s.score / totalScore
		smoothed := s.old + p.SmoothingAlpha*(target-s.old)
		clamped[i] = formulas.Clamp(smoothed, p.MinAlloc, p.MaxAlloc)
	}
	totalClamped := formulas.Sum(clamped)

	rounded := make([]decimal.Decimal, n)
	sum := decimal.Zero
	for i := range clamped {
		var final float64
		if totalClamped == 0 {
			final = 100 / float64(n)
		} else {
			final = 100 * clamped[i] / totalClamped
		}
		rounded[i] = formulas.RoundDecimal(final, 2)
		sum = sum.Add(rounded[i])
	}

	drift := hundred.Sub(sum).Round(2)
	if !drift.IsZero() {
		idx := maxScoreIndex(scored)
		rounded[idx] = rounded[idx].Add(drift)
	}

	out.Strategies = make([]domain.StrategyResult, n)
	for i, s := range tier.Strategies {
		change := formulas.RoundDecimal(rounded[i].InexactFloat64()-scored[i].old, 2)
		out.Strategies[i] = domain.StrategyResult{
			Strategy:         s.Clone(),
			NewAllocation:    rounded[i].InexactFloat64(),
			AllocationChange: change.InexactFloat64(),
			Reason:           scored[i].reason(),
		}
	}
	return out, drift
}

func cloneExtra(extra map[string]json.RawMessage) map[string]json.RawMessage {
	if extra == nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(extra))
	for k, v := range extra {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

func cloneNumber(n *domain.Number) *domain.Number {
	if n == nil {
		return nil
	}
	return domain.NewNumber(n.Float())
}
