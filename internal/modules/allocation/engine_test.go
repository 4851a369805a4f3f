package allocation

import (
	"encoding/json"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vaultpilot/allocator/internal/domain"
	"github.com/vaultpilot/allocator/pkg/formulas"
)

func strategy(address string, apy, avg, alloc float64) domain.Strategy {
	return domain.Strategy{
		Address:           address,
		Name:              "strategy " + address,
		CurrentAPY:        domain.NewNumber(apy),
		CurrentAllocation: domain.NewNumber(alloc),
		Historical:        &domain.Historical{AvgAPY: domain.NewNumber(avg)},
	}
}

func single(strategies ...domain.Strategy) domain.RebalanceRequest {
	return domain.RebalanceRequest{
		RequestType: "rebalance",
		Tiers:       []domain.Tier{{Tier: domain.NewNumber(1), Name: "Low Risk", Strategies: strategies}},
	}
}

func allocations(tier domain.TierResult) []float64 {
	out := make([]float64, len(tier.Strategies))
	for i, s := range tier.Strategies {
		out[i] = s.NewAllocation
	}
	return out
}

func exactSum(tier domain.TierResult) decimal.Decimal {
	sum := decimal.Zero
	for _, s := range tier.Strategies {
		sum = sum.Add(decimal.NewFromFloat(s.NewAllocation))
	}
	return sum
}

func TestRebalance_TwoStrategyScenario(t *testing.T) {
	req := single(
		strategy("0xa", 4.0, 4.5, 50),
		strategy("0xb", 3.0, 3.5, 50),
	)

	result := Rebalance(req)

	require.Len(t, result.Tiers, 1)
	tier := result.Tiers[0]
	require.Len(t, tier.Strategies, 2)

	assert.Equal(t, []float64{52.5, 47.5}, allocations(tier))
	assert.Equal(t, 2.5, tier.Strategies[0].AllocationChange)
	assert.Equal(t, -2.5, tier.Strategies[1].AllocationChange)
	assert.Equal(t, ReasonNeutral, tier.Strategies[0].Reason)
	assert.Equal(t, ReasonNeutral, tier.Strategies[1].Reason)
	assert.True(t, exactSum(tier).Equal(decimal.NewFromInt(100)))
}

func TestRebalance_EqualScoresDriftGoesToFirst(t *testing.T) {
	req := single(
		strategy("0xa", 5, 5, 0),
		strategy("0xb", 5, 5, 0),
		strategy("0xc", 5, 5, 0),
	)

	result, stats := DefaultPolicy().RebalanceWithStats(req)

	tier := result.Tiers[0]
	assert.Equal(t, []float64{33.34, 33.33, 33.33}, allocations(tier))
	assert.True(t, exactSum(tier).Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 1, stats.DriftCorrections)
	assert.InDelta(t, 0.01, stats.MaxAbsDrift, 1e-9)
}

func TestRebalance_DriftGoesToFirstMaxScore(t *testing.T) {
	req := single(
		strategy("0xa", 1, 1, 0),
		strategy("0xb", 3, 3, 0),
		strategy("0xc", 3, 3, 0),
	)

	tier := Rebalance(req).Tiers[0]

	assert.Equal(t, []float64{14.29, 42.85, 42.86}, allocations(tier))
	assert.True(t, exactSum(tier).Equal(decimal.NewFromInt(100)))
}

func TestRebalance_Reasons(t *testing.T) {
	req := single(
		strategy("weak", 1, 5, 50),
		strategy("strong", 6, 4, 25),
		strategy("neutral", 4, 4, 25),
	)

	tier := Rebalance(req).Tiers[0]

	assert.Equal(t, ReasonWeak, tier.Strategies[0].Reason)
	assert.Equal(t, ReasonStrong, tier.Strategies[1].Reason)
	assert.Equal(t, ReasonNeutral, tier.Strategies[2].Reason)
}

func TestRebalance_WeakStrategyIsHalved(t *testing.T) {
	// Same APY, but the first strategy trails its average by more than the
	// loss threshold, so its score is halved and it ends up smaller.
	req := single(
		strategy("0xa", 1, 5, 50),
		strategy("0xb", 1, 1, 50),
	)

	tier := Rebalance(req).Tiers[0]

	assert.Equal(t, ReasonWeak, tier.Strategies[0].Reason)
	assert.Less(t, tier.Strategies[0].NewAllocation, tier.Strategies[1].NewAllocation)
	assert.Equal(t, []float64{44.17, 55.83}, allocations(tier))
}

func TestRebalance_WeakThresholdIsStrict(t *testing.T) {
	// Exactly LossThreshold below the average is not weak.
	req := single(
		strategy("0xa", 3, 5, 50),
		strategy("0xb", 3, 3, 50),
	)

	tier := Rebalance(req).Tiers[0]

	assert.Equal(t, ReasonNeutral, tier.Strategies[0].Reason)
	assert.Equal(t, []float64{50, 50}, allocations(tier))
}

func TestRebalance_NegativeAPYFloored(t *testing.T) {
	req := single(
		strategy("0xa", -3, 0, 50),
		strategy("0xb", 4, 4, 50),
	)

	tier := Rebalance(req).Tiers[0]

	assert.Equal(t, ReasonWeak, tier.Strategies[0].Reason)
	assert.GreaterOrEqual(t, tier.Strategies[0].NewAllocation, MinAlloc)
	assert.True(t, exactSum(tier).Equal(decimal.NewFromInt(100)))
}

func TestRebalance_EmptyTierPassThrough(t *testing.T) {
	req := domain.RebalanceRequest{
		Tiers: []domain.Tier{
			{
				Tier:       domain.NewNumber(2),
				Name:       "Medium",
				Strategies: []domain.Strategy{},
				Extra:      map[string]json.RawMessage{"riskBand": json.RawMessage(`"B"`)},
			},
			{Tier: domain.NewNumber(3), Name: "High"},
		},
	}

	result := Rebalance(req)

	require.Len(t, result.Tiers, 2)
	for i, tier := range result.Tiers {
		assert.Equal(t, req.Tiers[i].Name, tier.Name)
		assert.Equal(t, req.Tiers[i].Tier.Float(), tier.Tier.Float())
		assert.Empty(t, tier.Strategies)
	}

	out, err := json.Marshal(result.Tiers[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"tier":2,"name":"Medium","strategies":[],"riskBand":"B"}`, string(out))
	assert.NotContains(t, string(out), "newAllocation")

	// No strategies key in, none out
	assert.True(t, result.Tiers[1].StrategiesOmitted)
	out, err = json.Marshal(result.Tiers[1])
	require.NoError(t, err)
	assert.JSONEq(t, `{"tier":3,"name":"High"}`, string(out))
}

func TestRebalance_MissingStrategiesKeyFromJSON(t *testing.T) {
	var req domain.RebalanceRequest
	require.NoError(t, json.Unmarshal([]byte(`{"tiers":[{"tier":4,"name":"Degen","note":"x"}]}`), &req))

	out, err := json.Marshal(Rebalance(req).Tiers[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"tier":4,"name":"Degen","note":"x"}`, string(out))
}

func TestRebalance_ExactTiesRoundToEven(t *testing.T) {
	// Final shares are exactly 34.375 and 65.625
	req := single(
		strategy("0xa", 3, 3, 12.5),
		strategy("0xb", 1, 1, 87.5),
	)

	result, stats := DefaultPolicy().RebalanceWithStats(req)
	tier := result.Tiers[0]

	assert.Equal(t, []float64{34.38, 65.62}, allocations(tier))
	assert.Equal(t, 0, stats.DriftCorrections)
	assert.True(t, exactSum(tier).Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 21.88, tier.Strategies[0].AllocationChange)
	assert.Equal(t, -21.88, tier.Strategies[1].AllocationChange)
}

func TestRebalance_NoTiers(t *testing.T) {
	result := Rebalance(domain.RebalanceRequest{})

	assert.Equal(t, domain.DefaultRequestType, result.RequestType)
	assert.NotNil(t, result.Tiers)
	assert.Empty(t, result.Tiers)
}

func TestRebalance_EchoesRequestTypeAndTimestamp(t *testing.T) {
	req := single(strategy("0xa", 4, 4, 100))
	req.RequestType = "manual"
	req.Timestamp = json.RawMessage(`{"unix":1700000000}`)

	result := Rebalance(req)

	assert.Equal(t, "manual", result.RequestType)
	assert.Equal(t, `{"unix":1700000000}`, string(result.Timestamp))
}

func TestRebalance_AbsentFieldsTreatedAsZero(t *testing.T) {
	req := single(
		domain.Strategy{Name: "bare-a"},
		domain.Strategy{Name: "bare-b"},
	)

	tier := Rebalance(req).Tiers[0]

	assert.Equal(t, []float64{50, 50}, allocations(tier))
	assert.Equal(t, 50.0, tier.Strategies[0].AllocationChange)
	assert.Equal(t, ReasonNeutral, tier.Strategies[0].Reason)
	assert.Nil(t, tier.Strategies[0].CurrentAllocation, "absent input fields stay absent")
}

func TestRebalance_SingleStrategyAlwaysGetsEverything(t *testing.T) {
	for _, alloc := range []float64{0, 35, 100} {
		tier := Rebalance(single(strategy("0xa", 7, 3, alloc))).Tiers[0]
		assert.Equal(t, []float64{100}, allocations(tier))
	}
}

func TestRebalance_PreservesPassThroughFields(t *testing.T) {
	s := strategy("0xa", 4, 4, 50)
	s.Index = domain.NewNumber(7)
	s.TotalAssets = domain.NewNumber(123456.78)
	s.Historical.Sharpe = domain.NewNumber(1.4)
	s.Extra = map[string]json.RawMessage{"chain": json.RawMessage(`"base"`)}

	tier := Rebalance(single(s, strategy("0xb", 4, 4, 50))).Tiers[0]

	out := tier.Strategies[0]
	assert.Equal(t, 7.0, out.Index.Float())
	assert.Equal(t, 123456.78, out.TotalAssets.Float())
	assert.Equal(t, 1.4, out.Historical.Sharpe.Float())
	assert.Equal(t, `"base"`, string(out.Extra["chain"]))
	assert.Equal(t, "strategy 0xa", out.Name)
}

func TestRebalance_DoesNotMutateInput(t *testing.T) {
	req := single(
		strategy("0xa", 4, 4.5, 50),
		strategy("0xb", 3, 3.5, 50),
	)
	before, err := json.Marshal(req)
	require.NoError(t, err)

	result := Rebalance(req)
	result.Tiers[0].Strategies[0].Historical.AvgAPY = domain.NewNumber(99)
	*result.Tiers[0].Strategies[1].CurrentAllocation = 99

	after, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}

func TestRebalance_Deterministic(t *testing.T) {
	req := single(
		strategy("0xa", 4.37, 4.1, 31.2),
		strategy("0xb", 9.1, 12.3, 12.5),
		strategy("0xc", 2.2, 2.0, 56.3),
	)

	assert.Equal(t, Rebalance(req), Rebalance(req))
}

func TestRebalance_ConcurrentCalls(t *testing.T) {
	req := single(
		strategy("0xa", 4.37, 4.1, 31.2),
		strategy("0xb", 9.1, 12.3, 12.5),
		strategy("0xc", 2.2, 2.0, 56.3),
	)
	want := Rebalance(req)

	var wg sync.WaitGroup
	results := make([]domain.RebalanceResult, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = Rebalance(req)
		}(i)
	}
	wg.Wait()

	for _, got := range results {
		assert.Equal(t, want, got)
	}
}

func TestRebalance_RepeatedRunsConverge(t *testing.T) {
	req := single(
		strategy("0xa", 4.0, 4.5, 50),
		strategy("0xb", 3.0, 3.5, 50),
	)

	prev := math.Inf(1)
	var last domain.RebalanceResult
	for cycle := 0; cycle < 40; cycle++ {
		last = Rebalance(req)
		change := math.Abs(last.Tiers[0].Strategies[0].AllocationChange)
		assert.LessOrEqual(t, change, prev+0.01, "cycle %d", cycle)
		prev = change
		req = last.NextRequest()
	}

	tier := last.Tiers[0]
	assert.InDelta(t, 400.0/7, tier.Strategies[0].NewAllocation, 0.02)
	assert.InDelta(t, 300.0/7, tier.Strategies[1].NewAllocation, 0.02)
	for _, s := range tier.Strategies {
		assert.Zero(t, s.AllocationChange)
	}
}

func TestRebalance_BoundsHoldWithoutRenormalizationPressure(t *testing.T) {
	req := single(
		strategy("0xa", 5, 5, 25),
		strategy("0xb", 6, 6, 25),
		strategy("0xc", 4, 4, 25),
		strategy("0xd", 5, 5, 25),
	)

	for cycle := 0; cycle < 10; cycle++ {
		result := Rebalance(req)
		for _, s := range result.Tiers[0].Strategies {
			assert.GreaterOrEqual(t, s.NewAllocation, MinAlloc-0.01)
			assert.LessOrEqual(t, s.NewAllocation, MaxAlloc+0.01)
		}
		req = result.NextRequest()
	}
}

func TestRebalance_RandomTiersKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	hundred := decimal.NewFromInt(100)

	for iter := 0; iter < 500; iter++ {
		n := 1 + rng.Intn(12)
		strategies := make([]domain.Strategy, n)
		for i := range strategies {
			s := strategy("s", rng.Float64()*22-2, rng.Float64()*20, rng.Float64()*100)
			if rng.Intn(10) == 0 {
				s.CurrentAPY = nil
			}
			if rng.Intn(10) == 0 {
				s.Historical = nil
			}
			strategies[i] = s
		}

		result, stats := DefaultPolicy().RebalanceWithStats(single(strategies...))
		tier := result.Tiers[0]

		require.Len(t, tier.Strategies, n)
		require.True(t, exactSum(tier).Equal(hundred), "iteration %d: sum %s", iter, exactSum(tier))
		assert.LessOrEqual(t, stats.MaxAbsDrift, 0.01*float64(n))

		for i, s := range tier.Strategies {
			assert.GreaterOrEqual(t, decimal.NewFromFloat(s.NewAllocation).Exponent(), int32(-2))
			assert.Greater(t, s.NewAllocation, 0.0)

			assert.Equal(t, formulas.Round(s.NewAllocation-strategies[i].Allocation(), 2), s.AllocationChange)

			if strategies[i].APY() < strategies[i].AvgAPY()-LossThreshold {
				assert.Equal(t, ReasonWeak, s.Reason)
			}
		}
	}
}

func TestPolicy_AlphaOneJumpsToClampedTarget(t *testing.T) {
	p := DefaultPolicy()
	p.SmoothingAlpha = 1

	tier := p.RebalanceTier(domain.Tier{Strategies: []domain.Strategy{
		strategy("0xa", 4, 4, 50),
		strategy("0xb", 1, 1, 50),
	}})

	assert.Equal(t, []float64{80, 20}, allocations(tier))
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())

	bad := []Policy{
		{LossThreshold: -1, MinAlloc: 5, MaxAlloc: 80, SmoothingAlpha: 0.35},
		{LossThreshold: 2, MinAlloc: 90, MaxAlloc: 80, SmoothingAlpha: 0.35},
		{LossThreshold: 2, MinAlloc: 5, MaxAlloc: 120, SmoothingAlpha: 0.35},
		{LossThreshold: 2, MinAlloc: 5, MaxAlloc: 80, SmoothingAlpha: 0},
		{LossThreshold: 2, MinAlloc: 5, MaxAlloc: 80, SmoothingAlpha: 1.5},
	}
	for _, p := range bad {
		assert.Error(t, p.Validate())
	}
}
