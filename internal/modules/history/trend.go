package history

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/vaultpilot/allocator/pkg/formulas"
)

// DefaultTrendPeriod is the moving-average window used when none is given.
const DefaultTrendPeriod = 6

// SeriesStats summarizes one numeric series.
type SeriesStats struct {
	Latest float64  `json:"latest"`
	Mean   float64  `json:"mean"`
	StdDev float64  `json:"stddev"`
	Min    float64  `json:"min"`
	Max    float64  `json:"max"`
	SMA    *float64 `json:"sma"`
	EMA    *float64 `json:"ema"`
}

// StrategyTrend is the recent trajectory of one strategy across runs.
type StrategyTrend struct {
	Address    string      `json:"address"`
	Period     int         `json:"period"`
	Samples    int         `json:"samples"`
	APY        SeriesStats `json:"apy"`
	Allocation SeriesStats `json:"allocation"`
	// APYSpread is the latest currentAPY minus its avgAPY; negative values
	// below the loss threshold mean the engine treats the strategy as weak.
	APYSpread float64           `json:"apy_spread"`
	Points    []AllocationPoint `json:"points"`
}

// TrendService derives indicators from stored allocation series.
type TrendService struct {
	repo *Repository
	log  zerolog.Logger
}

// NewTrendService creates a new trend service
func NewTrendService(repo *Repository, log zerolog.Logger) *TrendService {
	return &TrendService{
		repo: repo,
		log:  log.With().Str("service", "history_trend").Logger(),
	}
}

// StrategyTrend loads up to limit points for address and computes SMA/EMA
// over period samples plus volatility of the APY series.
func (s *TrendService) StrategyTrend(ctx context.Context, address string, period, limit int) (*StrategyTrend, error) {
	if period <= 0 {
		period = DefaultTrendPeriod
	}
	if limit < period {
		limit = period
	}

	points, err := s.repo.StrategySeries(ctx, address, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load series: %w", err)
	}

	trend := &StrategyTrend{
		Address: address,
		Period:  period,
		Samples: len(points),
		Points:  points,
	}
	if len(points) == 0 {
		return trend, nil
	}

	apys := make([]float64, len(points))
	allocs := make([]float64, len(points))
	for i, p := range points {
		apys[i] = p.CurrentAPY
		allocs[i] = p.NewAllocation
	}

	trend.APY = summarize(apys, period)
	trend.Allocation = summarize(allocs, period)
	last := points[len(points)-1]
	trend.APYSpread = formulas.Round(last.CurrentAPY-last.AvgAPY, 4)

	s.log.Debug().
		Str("address", address).
		Int("samples", len(points)).
		Int("period", period).
		Msg("Computed strategy trend")

	return trend, nil
}

func summarize(series []float64, period int) SeriesStats {
	stats := SeriesStats{
		Latest: series[len(series)-1],
		Mean:   formulas.Mean(series),
		StdDev: formulas.StdDev(series),
		Min:    series[0],
		Max:    series[0],
		SMA:    formulas.CalculateSMA(series, period),
		EMA:    formulas.CalculateEMA(series, period),
	}
	for _, v := range series[1:] {
		if v < stats.Min {
			stats.Min = v
		}
		if v > stats.Max {
			stats.Max = v
		}
	}
	return stats
}
