package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vaultpilot/allocator/internal/domain"
)

func TestTrendService_StrategyTrend(t *testing.T) {
	repo := newTestRepository(t)
	trends := NewTrendService(repo, zerolog.New(nil).Level(zerolog.Disabled))
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	apys := []float64{4.0, 4.2, 4.4, 4.6, 4.8, 5.0}
	req := sampleRequest(apys[0], 3, 50, 50)
	for i, apy := range apys {
		*req.Tiers[0].Strategies[0].CurrentAPY = domainNumber(apy)
		run := sampleRun(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*10*time.Minute), req)
		require.NoError(t, repo.Save(ctx, run))
		req = run.Result.NextRequest()
	}

	trend, err := trends.StrategyTrend(ctx, "0xaaa", 3, 50)
	require.NoError(t, err)

	assert.Equal(t, 6, trend.Samples)
	assert.Equal(t, 3, trend.Period)
	assert.Equal(t, 5.0, trend.APY.Latest)
	assert.Equal(t, 4.0, trend.APY.Min)
	assert.Equal(t, 5.0, trend.APY.Max)
	assert.InDelta(t, 4.5, trend.APY.Mean, 1e-9)
	require.NotNil(t, trend.APY.SMA)
	assert.InDelta(t, 4.8, *trend.APY.SMA, 1e-9)
	require.NotNil(t, trend.APY.EMA)
	assert.Greater(t, trend.APY.StdDev, 0.0)
	assert.InDelta(t, 0.5, trend.APYSpread, 1e-9)
	require.NotNil(t, trend.Allocation.SMA)
	assert.Greater(t, trend.Allocation.Latest, 50.0)
}

func TestTrendService_EmptySeries(t *testing.T) {
	repo := newTestRepository(t)
	trends := NewTrendService(repo, zerolog.New(nil).Level(zerolog.Disabled))

	trend, err := trends.StrategyTrend(context.Background(), "0xnone", 0, 0)
	require.NoError(t, err)

	assert.Equal(t, DefaultTrendPeriod, trend.Period)
	assert.Zero(t, trend.Samples)
	assert.Empty(t, trend.Points)
	assert.Nil(t, trend.APY.SMA)
}

func TestSummarize_ShortSeriesFallsBack(t *testing.T) {
	stats := summarize([]float64{2, 4}, 5)

	assert.Nil(t, stats.SMA)
	require.NotNil(t, stats.EMA)
	assert.Equal(t, 3.0, *stats.EMA)
	assert.Equal(t, 4.0, stats.Latest)
}

func domainNumber(v float64) domain.Number { return domain.Number(v) }
